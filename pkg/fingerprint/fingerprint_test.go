package fingerprint

import (
	"mime"
	"regexp"
	"strings"
	"testing"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hexFingerprint = regexp.MustCompile(`^[0-9a-f]{64}$`)

func thumb(params map[string]string) types.Derivation {
	return types.Derivation{Kind: types.KindThumbnail, Params: params, ContentType: "image/webp"}
}

func TestOfIsStable(t *testing.T) {
	in := types.Input{Path: "/content/a.png", ContentHash: "abc123"}
	a := Of(in, thumb(map[string]string{"width": "320", "quality": "80"}))
	b := Of(in, thumb(map[string]string{"quality": "80", "width": "320"}))

	assert.Equal(t, a, b)
	assert.Regexp(t, hexFingerprint, string(a))
}

func TestOfDependsOnIdentityOnly(t *testing.T) {
	base := types.Input{Path: "/content/a.png", ContentHash: "abc123", Size: 10}
	moved := types.Input{Path: "/content/b.png", ContentHash: "abc123", Size: 10}
	changed := types.Input{Path: "/content/a.png", ContentHash: "def456", Size: 10}
	d := thumb(map[string]string{"width": "320"})

	assert.Equal(t, Of(base, d), Of(moved, d), "path does not participate")
	assert.NotEqual(t, Of(base, d), Of(changed, d))
	assert.NotEqual(t, Of(base, d), Of(base, thumb(map[string]string{"width": "640"})))

	transcode := d
	transcode.Kind = types.KindTranscode
	assert.NotEqual(t, Of(base, d), Of(base, transcode))
}

func TestNilAndEmptyParamsMatch(t *testing.T) {
	in := types.Input{ContentHash: "abc"}
	assert.Equal(t, Of(in, thumb(nil)), Of(in, thumb(map[string]string{})))
}

func TestKeys(t *testing.T) {
	in := types.Input{ContentHash: "abc"}
	d := thumb(nil)

	key := KeyFor(in, d)
	assert.Regexp(t, `^derivations/[0-9a-f]{64}\.webp$`, key)
	assert.Equal(t, "derivations/deadbeef.webp", DerivationKey("deadbeef", "image/webp"))
	assert.Equal(t, "inputs/abc", InputKey("abc"))
	assert.Equal(t, "revpaks/r1", RevpakKey("r1"))
}

func TestExtFor(t *testing.T) {
	tests := []struct {
		contentType string
		want        string
	}{
		{"image/webp", "webp"},
		{"image/jxl", "jxl"},
		{"image/avif", "avif"},
		{"video/mp4", "mp4"},
		{"text/css; charset=utf-8", "css"},
		{"IMAGE/PNG", "png"},
		{"", "bin"},
		{"application/x-burrow-unknown", "bin"},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtFor(tt.contentType))
		})
	}
}

func TestKeyIgnoresProcessMimeTable(t *testing.T) {
	in := types.Input{Path: "/content/a.bin", ContentHash: "abc123"}
	d := types.Derivation{Kind: types.KindIdentity, ContentType: "application/x-burrow-custom"}
	before := KeyFor(in, d)

	require.NoError(t, mime.AddExtensionType(".zz", "application/x-burrow-custom"))
	assert.Equal(t, "bin", ExtFor("application/x-burrow-custom"))
	assert.Equal(t, before, KeyFor(in, d))
	assert.True(t, strings.HasSuffix(before, ".bin"))
}

func TestHashContent(t *testing.T) {
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		HashContent([]byte("hello")))
}
