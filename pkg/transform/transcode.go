package transform

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/types"
)

// ProgressFunc receives transcoding events as they happen
type ProgressFunc func(types.TranscodingEvent)

// Transcoder converts a media file into a target format
type Transcoder interface {
	Transcode(ctx context.Context, src string, format types.TargetFormat, dst string, progress ProgressFunc) error
}

// Passthrough copies the source unchanged. It reports an empty
// MediaIdentified and a single progress event.
type Passthrough struct{}

func (Passthrough) Transcode(ctx context.Context, src string, format types.TargetFormat, dst string, progress ProgressFunc) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, readerCtx{ctx: ctx, r: in})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to copy media: %w", err)
	}

	if progress != nil {
		progress(types.TranscodingEvent{MediaIdentified: &types.MediaProps{}})
		progress(types.TranscodingEvent{Progress: &types.TranscodingProgress{SizeKB: uint32(n / 1024), Speed: 1}})
	}
	return nil
}

// ExecTranscoder runs an ffmpeg-style command. Arguments may contain the
// placeholders {input}, {output}, {format} and {ext}. The command must write
// "-progress" key=value blocks to stdout.
type ExecTranscoder struct {
	Command string
	Args    []string
	// Prober, when set, is an ffprobe-style command printing JSON streams and
	// format for {input}
	Prober *config.CommandConfig
}

func (t *ExecTranscoder) Transcode(ctx context.Context, src string, format types.TargetFormat, dst string, progress ProgressFunc) error {
	if progress == nil {
		progress = func(types.TranscodingEvent) {}
	}

	var props types.MediaProps
	if t.Prober != nil && t.Prober.Command != "" {
		p, err := t.probe(ctx, src)
		if err != nil {
			return err
		}
		props = *p
	}
	progress(types.TranscodingEvent{MediaIdentified: &props})

	cmd := exec.CommandContext(ctx, t.Command, expandArgs(t.Args, src, dst, format)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &limitedBuffer{max: maxStderr, buf: &stderr}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start transcoder: %w", err)
	}

	parser := NewProgressParser(props.DurationSecs)
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if p, ok := parser.Feed(scanner.Text()); ok {
			progress(types.TranscodingEvent{Progress: &p})
		}
	}
	// drain so the process never blocks on a full pipe
	_, _ = io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("transcoder %s failed: %w: %s", t.Command, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func expandArgs(args []string, src, dst string, format types.TargetFormat) []string {
	r := strings.NewReplacer(
		"{input}", src,
		"{output}", dst,
		"{format}", string(format),
		"{ext}", format.Ext(),
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     uint32 `json:"width"`
		Height    uint32 `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (t *ExecTranscoder) probe(ctx context.Context, src string) (*types.MediaProps, error) {
	cmd := exec.CommandContext(ctx, t.Prober.Command, expandArgs(t.Prober.Args, src, "", "")...)
	var stderr bytes.Buffer
	cmd.Stderr = &limitedBuffer{max: maxStderr, buf: &stderr}
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to probe media: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return ParseProbe(out)
}

// ParseProbe reads ffprobe JSON output
func ParseProbe(data []byte) (*types.MediaProps, error) {
	var po probeOutput
	if err := json.Unmarshal(data, &po); err != nil {
		return nil, fmt.Errorf("failed to parse probe output: %w", err)
	}
	props := &types.MediaProps{}
	for _, s := range po.Streams {
		switch s.CodecType {
		case "video":
			if props.VideoCodec == "" {
				props.VideoCodec = s.CodecName
				props.Width = s.Width
				props.Height = s.Height
			}
		case "audio":
			if props.AudioCodec == "" {
				props.AudioCodec = s.CodecName
			}
		}
	}
	if po.Format.Duration != "" {
		props.DurationSecs, _ = strconv.ParseFloat(po.Format.Duration, 64)
	}
	return props, nil
}

// ProgressParser accumulates ffmpeg "-progress" key=value lines and yields
// one report per block. A block ends with a "progress=" line.
type ProgressParser struct {
	total float64
	cur   types.TranscodingProgress
}

// NewProgressParser creates a parser; totalSecs fills TotalTime
func NewProgressParser(totalSecs float64) *ProgressParser {
	return &ProgressParser{total: totalSecs}
}

// Feed consumes one line and returns a report when a block completes
func (p *ProgressParser) Feed(line string) (types.TranscodingProgress, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return types.TranscodingProgress{}, false
	}
	value = strings.TrimSpace(value)

	switch {
	case key == "frame":
		if n, err := strconv.ParseUint(value, 10, 32); err == nil {
			p.cur.Frame = uint32(n)
		}
	case key == "fps":
		p.cur.FPS = parseFloat32(value)
	case strings.HasPrefix(key, "stream_") && strings.HasSuffix(key, "_q"):
		p.cur.Quality = parseFloat32(value)
	case key == "total_size":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil && n >= 0 {
			p.cur.SizeKB = uint32(n / 1024)
		}
	case key == "bitrate":
		p.cur.BitrateKbps = parseFloat32(strings.TrimSuffix(value, "kbits/s"))
	case key == "speed":
		p.cur.Speed = parseFloat32(strings.TrimSuffix(value, "x"))
	case key == "out_time_us" || key == "out_time_ms":
		// ffmpeg reports out_time_ms in microseconds too
		if n, err := strconv.ParseInt(value, 10, 64); err == nil && n >= 0 {
			p.cur.ProcessedTime = float64(n) / 1e6
		}
	case key == "progress":
		out := p.cur
		out.TotalTime = p.total
		return out, true
	}
	return types.TranscodingProgress{}, false
}

func parseFloat32(s string) float32 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
	if err != nil {
		return 0
	}
	return float32(f)
}

// NewTranscoder builds the configured transcoder; no command means Passthrough
func NewTranscoder(cfg, prober config.CommandConfig) Transcoder {
	if cfg.Command == "" {
		return Passthrough{}
	}
	t := &ExecTranscoder{Command: cfg.Command, Args: cfg.Args}
	if prober.Command != "" {
		t.Prober = &prober
	}
	return t
}

type readerCtx struct {
	ctx context.Context
	r   io.Reader
}

func (r readerCtx) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
