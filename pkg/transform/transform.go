package transform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/types"
)

// maxStderr bounds how much of a failing command's stderr ends up in errors
const maxStderr = 4096

// Output is the result of a derivation
type Output struct {
	Data        []byte
	ContentType string
}

// Deriver materializes one derivation of an input
type Deriver interface {
	Derive(ctx context.Context, in types.Input, d types.Derivation, src io.Reader) (Output, error)
}

// DeriverFunc adapts a function to Deriver
type DeriverFunc func(ctx context.Context, in types.Input, d types.Derivation, src io.Reader) (Output, error)

func (f DeriverFunc) Derive(ctx context.Context, in types.Input, d types.Derivation, src io.Reader) (Output, error) {
	return f(ctx, in, d, src)
}

// Identity returns the input bytes unchanged
type Identity struct{}

func (Identity) Derive(ctx context.Context, in types.Input, d types.Derivation, src io.Reader) (Output, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return Output{}, fmt.Errorf("failed to read input %s: %w", in.Path, err)
	}
	contentType := d.ContentType
	if contentType == "" {
		contentType = in.ContentType
	}
	return Output{Data: data, ContentType: contentType}, nil
}

// Exec runs an external command per derivation. The input is written to its
// stdin and the output read from its stdout. The derivation is described in
// the environment:
//
//	BURROW_KIND           derivation kind
//	BURROW_CONTENT_TYPE   declared output content type
//	BURROW_INPUT_PATH     input path within the revision
//	BURROW_INPUT_TYPE     declared input content type
//	BURROW_PARAM_<NAME>   one per parameter, name upper-cased
type Exec struct {
	Command string
	Args    []string
}

func (e *Exec) Derive(ctx context.Context, in types.Input, d types.Derivation, src io.Reader) (Output, error) {
	cmd := exec.CommandContext(ctx, e.Command, e.Args...)
	cmd.Env = append(cmd.Environ(), deriveEnv(in, d)...)
	cmd.Stdin = src

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &limitedBuffer{max: maxStderr, buf: &stderr}

	if err := cmd.Run(); err != nil {
		return Output{}, fmt.Errorf("transformer %s failed for %s (%s): %w: %s",
			e.Command, in.Path, d.Kind, err, strings.TrimSpace(stderr.String()))
	}
	return Output{Data: stdout.Bytes(), ContentType: d.ContentType}, nil
}

func deriveEnv(in types.Input, d types.Derivation) []string {
	env := []string{
		"BURROW_KIND=" + string(d.Kind),
		"BURROW_CONTENT_TYPE=" + d.ContentType,
		"BURROW_INPUT_PATH=" + in.Path,
		"BURROW_INPUT_TYPE=" + in.ContentType,
	}
	names := make([]string, 0, len(d.Params))
	for k := range d.Params {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		env = append(env, "BURROW_PARAM_"+envName(k)+"="+d.Params[k])
	}
	return env
}

func envName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
}

// NewDeriver builds the configured deriver; no command means Identity
func NewDeriver(cfg config.CommandConfig) Deriver {
	if cfg.Command == "" {
		return Identity{}
	}
	return &Exec{Command: cfg.Command, Args: cfg.Args}
}

// limitedBuffer keeps the first max bytes written to it
type limitedBuffer struct {
	max int
	buf *bytes.Buffer
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if room := l.max - l.buf.Len(); room > 0 {
		if len(p) > room {
			l.buf.Write(p[:room])
		} else {
			l.buf.Write(p)
		}
	}
	return len(p), nil
}
