package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
)

// HeaderStructured marks a 500 response whose body is an Envelope
const HeaderStructured = "x-mom-structured-error"

// Envelope is the wire form of an internal error
type Envelope struct {
	UniqueID string   `json:"unique_id"`
	Errors   []string `json:"errors"`
	Frames   []string `json:"frames"`
}

// Kind classifies an error for status mapping
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindBadRequest
	KindUnauthorized
	KindForbidden
	KindConflict
	KindTransientUpstream
)

// Status is the HTTP status of a kind
func (k Kind) Status() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusInternalServerError
	case KindTransientUpstream:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Error attaches a kind to an error
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Newf builds a kinded error from a format string
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf finds the kind of err, defaulting to internal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Causes splits an error chain into one message per level
func Causes(err error) []string {
	var causes []string
	for err != nil {
		next := errors.Unwrap(err)
		msg := err.Error()
		if next != nil {
			inner := next.Error()
			if trimmed, ok := strings.CutSuffix(msg, ": "+inner); ok {
				msg = trimmed
			} else if msg == inner {
				err = next
				continue
			}
		}
		causes = append(causes, msg)
		err = next
	}
	return causes
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// Frames returns the deepest stack trace recorded in the chain, if any
func Frames(err error) []string {
	var frames []string
	for err != nil {
		if st, ok := err.(stackTracer); ok {
			frames = frames[:0]
			for _, f := range st.StackTrace() {
				frames = append(frames, fmt.Sprintf("%+v", f))
			}
		}
		err = errors.Unwrap(err)
	}
	if frames == nil {
		return []string{}
	}
	return frames
}

// NewEnvelope captures err for the wire
func NewEnvelope(err error) Envelope {
	return Envelope{
		UniqueID: uuid.NewString(),
		Errors:   Causes(err),
		Frames:   Frames(err),
	}
}

// Write sends err as an HTTP response. Internal errors carry the envelope;
// everything else gets a terse text body.
func Write(w http.ResponseWriter, err error) Envelope {
	kind := KindOf(err)
	if kind != KindInternal {
		http.Error(w, err.Error(), kind.Status())
		return Envelope{}
	}

	env := NewEnvelope(err)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderStructured, "1")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(env)
	return env
}

// RemoteError is an internal error reported by a coordinator
type RemoteError struct {
	UniqueID string
	Causes   []string
	Frames   []string
}

func (e *RemoteError) Error() string {
	if len(e.Causes) == 0 {
		return fmt.Sprintf("remote error %s", e.UniqueID)
	}
	return strings.Join(e.Causes, ": ")
}

// StatusError is a non-2xx response without an envelope
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Transient reports whether retrying may help
func (e *StatusError) Transient() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// FromResponse turns a non-2xx response into an error. It returns nil for 2xx.
// The body is consumed but not closed.
func FromResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.Header.Get(HeaderStructured) == "1" {
		var env Envelope
		if err := json.Unmarshal(body, &env); err == nil {
			return &RemoteError{UniqueID: env.UniqueID, Causes: env.Errors, Frames: env.Frames}
		}
	}
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
