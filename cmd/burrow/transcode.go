package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/burrow/pkg/momclient"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/dustin/go-humanize"
	"github.com/google/renameio"
)

// transcode uploads src and writes the result to dst. dst is only
// replaced once the whole output has been received.
func transcode(ctx context.Context, tc *momclient.TenantClient, format types.TargetFormat, src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	dir := filepath.Dir(dst)
	pending, err := renameio.TempFile(dir, dst)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer pending.Cleanup()

	size, err := tc.UploadMedia(ctx, momclient.MediaUpload{
		TargetFormat: format,
		FileName:     filepath.Base(src),
		FileSize:     info.Size(),
		Source:       f,
		OnEvent:      printTranscodingEvent,
	}, pending)
	if err != nil {
		return err
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s (%s)\n", dst, humanize.Bytes(uint64(size)))
	return nil
}

func printTranscodingEvent(ev types.TranscodingEvent) {
	switch {
	case ev.MediaIdentified != nil:
		m := ev.MediaIdentified
		fmt.Fprintf(os.Stderr, "Source: %dx%d, %.1fs, video %s, audio %s\n",
			m.Width, m.Height, m.DurationSecs, orNone(m.VideoCodec), orNone(m.AudioCodec))
	case ev.Progress != nil:
		p := ev.Progress
		pct := 0.0
		if p.TotalTime > 0 {
			pct = min(100, 100*p.ProcessedTime/p.TotalTime)
		}
		fmt.Fprintf(os.Stderr, "\rframe %d  %.0f%%  %.1fx", p.Frame, pct, p.Speed)
		if pct >= 100 {
			fmt.Fprintln(os.Stderr)
		}
	}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
