package revision

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePak() *types.Pak {
	return &types.Pak{
		ID: "r1",
		Inputs: map[string]types.Input{
			"/content/favicon.png": {ContentHash: "f00d", ContentType: "image/png"},
			"/content/post.md":     {ContentHash: "beef", ContentType: "text/markdown"},
		},
		Pages: map[string]types.Page{
			"/":     {InputPath: "/content/_index.md"},
			"/post": {InputPath: "/content/post.md", Title: "Post"},
		},
		Assets: map[string]types.Asset{
			"/a": {Inline: &types.InlineAsset{ContentType: "text/plain", Content: []byte("one")}},
			"/favicon.webp": {Derivation: &types.DerivationAsset{
				InputPath:  "/content/favicon.png",
				Derivation: types.Derivation{Kind: types.KindThumbnail, ContentType: "image/webp"},
			}},
			"/favicon": {AcceptBasedRedirect: &types.AcceptBasedRedirect{Options: []types.RedirectOption{
				{ContentType: "image/webp", Route: "/favicon.webp"},
			}}},
		},
		Templates: map[string]types.Template{"page.html": {Source: "{{ body }}"}},
		Config:    types.RevisionConfig{ID: "r1", AdminGitHubIDs: []string{"42"}},
	}
}

func TestLoad(t *testing.T) {
	rev, err := Load(samplePak())
	require.NoError(t, err)

	assert.Equal(t, "r1", rev.ID())
	assert.Equal(t, []string{"42"}, rev.Config().AdminGitHubIDs)

	a, err := rev.Asset("/a")
	require.NoError(t, err)
	require.NotNil(t, a.Inline)
	assert.Equal(t, []byte("one"), a.Inline.Content)

	_, err = rev.Asset("/A")
	assert.ErrorIs(t, err, ErrRouteNotFound, "routes are case sensitive")

	p, err := rev.Page("/post")
	require.NoError(t, err)
	assert.Equal(t, "/post", p.Route)

	route, ok := rev.PageRoute("/content/post.md")
	assert.True(t, ok)
	assert.Equal(t, "/post", route)

	route, ok = rev.AssetRoute("/content/favicon.png")
	assert.True(t, ok)
	assert.Equal(t, "/favicon.webp", route)

	in, err := rev.Input("/content/post.md")
	require.NoError(t, err)
	assert.Equal(t, "/content/post.md", in.Path)
	_, err = rev.Input("/nope")
	assert.ErrorIs(t, err, ErrInputNotFound)

	tpl, ok := rev.Template("page.html")
	assert.True(t, ok)
	assert.Equal(t, "{{ body }}", tpl.Source)

	assert.Equal(t, []string{"/a", "/favicon", "/favicon.webp"}, rev.AssetRoutes())
	assert.Len(t, rev.Inputs(), 2)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *types.Pak)
	}{
		{"missing id", func(p *types.Pak) { p.ID = "" }},
		{"trailing slash", func(p *types.Pak) {
			p.Assets["/dir/"] = types.Asset{Inline: &types.InlineAsset{}}
		}},
		{"relative route", func(p *types.Pak) {
			p.Pages["post"] = types.Page{}
		}},
		{"unknown input", func(p *types.Pak) {
			p.Assets["/x.webp"] = types.Asset{Derivation: &types.DerivationAsset{InputPath: "/content/missing.png"}}
		}},
		{"no variant", func(p *types.Pak) { p.Assets["/empty"] = types.Asset{} }},
		{"page and asset clash", func(p *types.Pak) {
			p.Assets["/post"] = types.Asset{Inline: &types.InlineAsset{}}
		}},
		{"input without hash", func(p *types.Pak) {
			p.Inputs["/content/x.png"] = types.Input{}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := samplePak()
			tt.mutate(p)
			_, err := Load(p)
			assert.Error(t, err)
		})
	}
}

func TestDecode(t *testing.T) {
	data, err := json.Marshal(samplePak())
	require.NoError(t, err)

	rev, err := Decode(data)
	require.NoError(t, err)
	a, err := rev.Asset("/favicon")
	require.NoError(t, err)
	require.NotNil(t, a.AcceptBasedRedirect)

	_, err = Decode([]byte(`{"id": 5}`))
	assert.Error(t, err)
}

func TestHandleSwapIsAtomic(t *testing.T) {
	r1, err := Load(samplePak())
	require.NoError(t, err)
	p2 := samplePak()
	p2.ID = "r2"
	p2.Assets["/a"] = types.Asset{Inline: &types.InlineAsset{ContentType: "text/plain", Content: []byte("two")}}
	r2, err := Load(p2)
	require.NoError(t, err)

	var h Handle
	assert.Nil(t, h.Load())
	h.Store(r1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				rev := h.Load()
				a, err := rev.Asset("/a")
				if !assert.NoError(t, err) {
					return
				}
				want := map[string]string{"r1": "one", "r2": "two"}[rev.ID()]
				assert.Equal(t, want, string(a.Inline.Content))
			}
		}()
	}
	prev := h.Swap(r2)
	wg.Wait()

	assert.Equal(t, "r1", prev.ID())
	assert.Equal(t, "r2", h.Load().ID())
}
