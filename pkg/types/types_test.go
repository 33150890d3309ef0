package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveResponseWireShape(t *testing.T) {
	tests := []struct {
		name     string
		resp     DeriveResponse
		expected string
	}{
		{
			name:     "done",
			resp:     DeriveResponse{Done: &DeriveDone{OutputSize: 4, OutputKey: "derivations/ab.jxl"}},
			expected: `{"Done":{"output_size":4,"output_key":"derivations/ab.jxl"}}`,
		},
		{
			name:     "already in progress",
			resp:     DeriveResponse{AlreadyInProgress: &InProgress{Info: "busy"}},
			expected: `{"AlreadyInProgress":{"info":"busy"}}`,
		},
		{
			name:     "too many requests",
			resp:     DeriveResponse{TooManyRequests: &TooManyRequests{}},
			expected: `{"TooManyRequests":{}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.resp)
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(data))

			var decoded DeriveResponse
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, tt.resp, decoded)
		})
	}
}

func TestUnionErrors(t *testing.T) {
	t.Run("empty union does not encode", func(t *testing.T) {
		_, err := json.Marshal(DeriveResponse{})
		assert.Error(t, err)
	})

	t.Run("unknown tag", func(t *testing.T) {
		var r DeriveResponse
		err := json.Unmarshal([]byte(`{"Exploded":{}}`), &r)
		assert.ErrorIs(t, err, ErrUnknownVariant)
	})

	t.Run("two tags", func(t *testing.T) {
		var e MomEvent
		err := json.Unmarshal([]byte(`{"GoodMorning":{},"TenantEvent":{}}`), &e)
		assert.Error(t, err)
	})

	t.Run("unknown target format", func(t *testing.T) {
		var h UploadHeaders
		err := json.Unmarshal([]byte(`{"target_format":"GIF","file_name":"a","file_size":1}`), &h)
		assert.ErrorIs(t, err, ErrUnknownVariant)
	})
}

func TestAssetVariants(t *testing.T) {
	raw := `{
		"/a.txt": {"Inline": {"content_type": "text/plain", "content": "b25l"}},
		"/img.webp": {"Derivation": {"input_path": "/content/img.png", "derivation": {"kind": "image", "content_type": "image/webp", "params": {"w": "640"}}}},
		"/pic": {"AcceptBasedRedirect": {"options": [{"content_type": "image/jxl", "route": "/pic.jxl"}, {"content_type": "image/png", "route": "/pic.png"}]}}
	}`

	var assets map[string]Asset
	require.NoError(t, json.Unmarshal([]byte(raw), &assets))

	require.NotNil(t, assets["/a.txt"].Inline)
	assert.Equal(t, []byte("one"), assets["/a.txt"].Inline.Content)

	d := assets["/img.webp"].Derivation
	require.NotNil(t, d)
	assert.Equal(t, KindImage, d.Derivation.Kind)
	assert.Equal(t, "640", d.Derivation.Params["w"])

	r := assets["/pic"].AcceptBasedRedirect
	require.NotNil(t, r)
	assert.Len(t, r.Options, 2)
	assert.Equal(t, "/pic.png", r.Options[1].Route)
}

func TestMomEventNesting(t *testing.T) {
	ev := MomEvent{TenantEvent: &TenantEvent{
		TenantName: "example.org",
		Payload:    TenantEventPayload{UsersUpdated: &AllUsers{Users: map[string]UserInfo{"1": {ID: "1", Name: "amos"}}}},
	}}

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"TenantEvent":{"tenant_name":"example.org","payload":{"UsersUpdated":{"users":{"1":{"id":"1","name":"amos"}}}}}}`, string(data))

	var decoded MomEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NotNil(t, decoded.TenantEvent)
	assert.Equal(t, "UsersUpdated", decoded.TenantEvent.Payload.Kind())
}

func TestWebSocketMessageError(t *testing.T) {
	data, err := json.Marshal(ErrorMessage("boom"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"Error":"boom"}`, string(data))

	var m WebSocketMessage
	require.NoError(t, json.Unmarshal([]byte(`{"TranscodingEvent":{"Progress":{"frame":3,"fps":24}}}`), &m))
	require.NotNil(t, m.TranscodingEvent)
	require.NotNil(t, m.TranscodingEvent.Progress)
	assert.Equal(t, uint32(3), m.TranscodingEvent.Progress.Frame)
}

func TestTargetFormat(t *testing.T) {
	tests := []struct {
		format      TargetFormat
		ext         string
		contentType string
		thumbnail   bool
	}{
		{FormatAV1, "mp4", "video/mp4", false},
		{FormatAVC, "mp4", "video/mp4", false},
		{FormatVP9, "webm", "video/webm", false},
		{FormatThumbJXL, "jxl", "image/jxl", true},
		{FormatThumbAVIF, "avif", "image/avif", true},
		{FormatThumbWEBP, "webp", "image/webp", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			assert.True(t, tt.format.Valid())
			assert.Equal(t, tt.ext, tt.format.Ext())
			assert.Equal(t, tt.contentType, tt.format.ContentType())
			assert.Equal(t, tt.thumbnail, tt.format.IsThumbnail())
		})
	}
}
