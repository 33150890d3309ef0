package transform

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity(t *testing.T) {
	out, err := Identity{}.Derive(context.Background(),
		types.Input{Path: "/a.txt", ContentType: "text/plain"},
		types.Derivation{Kind: types.KindIdentity},
		strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out.Data))
	assert.Equal(t, "text/plain", out.ContentType)
}

func TestExecDeriver(t *testing.T) {
	d := &Exec{Command: "sh", Args: []string{"-c", `printf '%s:%s:' "$BURROW_KIND" "$BURROW_PARAM_MAX_WIDTH"; cat`}}
	out, err := d.Derive(context.Background(),
		types.Input{Path: "/img.png"},
		types.Derivation{Kind: types.KindThumbnail, Params: map[string]string{"max-width": "320"}, ContentType: "image/webp"},
		strings.NewReader("PNG"))
	require.NoError(t, err)
	assert.Equal(t, "thumbnail:320:PNG", string(out.Data))
	assert.Equal(t, "image/webp", out.ContentType)
}

func TestExecDeriverFailure(t *testing.T) {
	d := &Exec{Command: "sh", Args: []string{"-c", "echo 'unsupported codec' >&2; exit 3"}}
	_, err := d.Derive(context.Background(), types.Input{Path: "/x"}, types.Derivation{Kind: types.KindImage}, strings.NewReader(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported codec")
}

func TestNewDeriver(t *testing.T) {
	_, ok := NewDeriver(config.CommandConfig{}).(Identity)
	assert.True(t, ok)
	_, ok = NewDeriver(config.CommandConfig{Command: "derive"}).(*Exec)
	assert.True(t, ok)
}

func TestProgressParser(t *testing.T) {
	p := NewProgressParser(10)
	lines := []string{
		"frame=120",
		"fps=29.97",
		"stream_0_0_q=28.0",
		"bitrate= 512.3kbits/s",
		"total_size=204800",
		"out_time_us=4000000",
		"out_time=00:00:04.000000",
		"speed=1.5x",
	}
	for _, l := range lines {
		_, ok := p.Feed(l)
		assert.False(t, ok)
	}

	report, ok := p.Feed("progress=continue")
	require.True(t, ok)
	assert.Equal(t, uint32(120), report.Frame)
	assert.InDelta(t, 29.97, report.FPS, 0.001)
	assert.InDelta(t, 28.0, report.Quality, 0.001)
	assert.InDelta(t, 512.3, report.BitrateKbps, 0.01)
	assert.Equal(t, uint32(200), report.SizeKB)
	assert.InDelta(t, 4.0, report.ProcessedTime, 0.0001)
	assert.InDelta(t, 1.5, report.Speed, 0.001)
	assert.Equal(t, 10.0, report.TotalTime)

	_, ok = p.Feed("not a progress line")
	assert.False(t, ok)
	_, ok = p.Feed("bitrate=N/A")
	assert.False(t, ok)
	report, ok = p.Feed("progress=end")
	require.True(t, ok)
	assert.Equal(t, float32(0), report.BitrateKbps)
}

func TestParseProbe(t *testing.T) {
	props, err := ParseProbe([]byte(`{
		"streams": [
			{"codec_type": "audio", "codec_name": "aac"},
			{"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080}
		],
		"format": {"duration": "12.500000"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, types.MediaProps{Width: 1920, Height: 1080, DurationSecs: 12.5, VideoCodec: "h264", AudioCodec: "aac"}, *props)

	_, err = ParseProbe([]byte("nope"))
	assert.Error(t, err)
}

func TestPassthrough(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.mov")
	dst := filepath.Join(dir, "out.mp4")
	require.NoError(t, os.WriteFile(src, []byte("movie bytes"), 0644))

	var events []types.TranscodingEvent
	err := Passthrough{}.Transcode(context.Background(), src, types.FormatAV1, dst, func(e types.TranscodingEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "movie bytes", string(data))
	require.Len(t, events, 2)
	assert.NotNil(t, events[0].MediaIdentified)
	assert.NotNil(t, events[1].Progress)
}

func TestExecTranscoder(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.mov")
	dst := filepath.Join(dir, "out.mp4")
	require.NoError(t, os.WriteFile(src, []byte("movie"), 0644))

	script := `cp "$1" "$2"; printf 'frame=1\nprogress=continue\nframe=2\nprogress=end\n'`
	tr := &ExecTranscoder{
		Command: "sh",
		Args:    []string{"-c", script, "transcode", "{input}", "{output}"},
		Prober: &config.CommandConfig{
			Command: "sh",
			Args:    []string{"-c", `echo '{"streams":[{"codec_type":"video","codec_name":"prores","width":640,"height":480}],"format":{"duration":"2.0"}}'`},
		},
	}

	var events []types.TranscodingEvent
	err := tr.Transcode(context.Background(), src, types.FormatAVC, dst, func(e types.TranscodingEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)

	require.Len(t, events, 3)
	require.NotNil(t, events[0].MediaIdentified)
	assert.Equal(t, "prores", events[0].MediaIdentified.VideoCodec)
	assert.Equal(t, uint32(2), events[2].Progress.Frame)
	assert.Equal(t, 2.0, events[2].Progress.TotalTime)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "movie", string(data))
}

func TestExpandArgs(t *testing.T) {
	args := expandArgs([]string{"-i", "{input}", "-f", "{format}", "{output}.{ext}"}, "/in", "/out", types.FormatVP9)
	assert.Equal(t, []string{"-i", "/in", "-f", "VP9", "/out.webm"}, args)
}
