package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// maxMediaFrame bounds one binary frame of an upload
	maxMediaFrame = 16 << 20
	mediaChunk    = 256 * 1024
)

// mediaSession is one media upload: receive, transcode, send back
type mediaSession struct {
	s      *Service
	t      *tenant
	conn   *websocket.Conn
	logger zerolog.Logger
}

func (s *Service) handleMediaUpload(w http.ResponseWriter, r *http.Request, t *tenant) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Media upgrade failed")
		return nil
	}
	defer conn.Close()
	conn.SetReadLimit(maxMediaFrame)

	metrics.TranscodeSessions.Inc()
	defer metrics.TranscodeSessions.Dec()

	ms := &mediaSession{s: s, t: t, conn: conn, logger: t.logger.With().Str("session", "media").Logger()}
	if err := ms.run(r.Context()); err != nil {
		ms.logger.Warn().Err(err).Msg("Media session failed")
		ms.fail(err.Error())
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return nil
}

func (ms *mediaSession) run(ctx context.Context) error {
	headers, err := ms.readHeaders()
	if err != nil {
		return err
	}
	logger := ms.logger.With().
		Str("file", headers.FileName).
		Str("format", string(headers.TargetFormat)).
		Logger()

	src, err := os.CreateTemp("", "burrow-upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(src.Name())

	received, err := ms.receive(src)
	if cerr := src.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	logger.Info().Str("size", humanize.Bytes(uint64(received))).Msg("Media received")

	if err := ms.t.budget.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("transcoder unavailable: %w", err)
	}
	defer ms.t.budget.Release(1)

	dst := src.Name() + ".out." + headers.TargetFormat.Ext()
	defer os.Remove(dst)

	var sendErr error
	err = ms.s.transcoder.Transcode(ctx, src.Name(), headers.TargetFormat, dst, func(ev types.TranscodingEvent) {
		if sendErr != nil {
			return
		}
		sendErr = ms.send(types.WebSocketMessage{TranscodingEvent: &ev})
	})
	if err != nil {
		return fmt.Errorf("transcode failed: %w", err)
	}
	if sendErr != nil {
		return sendErr
	}

	return ms.sendOutput(dst)
}

func (ms *mediaSession) readHeaders() (*types.UploadHeaders, error) {
	msg, err := ms.readControl()
	if err != nil {
		return nil, err
	}
	if msg.Headers == nil {
		return nil, errors.New("expected Headers as the first message")
	}
	if !msg.Headers.TargetFormat.Valid() {
		return nil, fmt.Errorf("invalid target format %q", msg.Headers.TargetFormat)
	}
	return msg.Headers, nil
}

// receive writes binary frames to w until UploadDone, and checks the total
func (ms *mediaSession) receive(w io.Writer) (int64, error) {
	var received int64
	for {
		typ, data, err := ms.conn.ReadMessage()
		if err != nil {
			return received, fmt.Errorf("upload interrupted: %w", err)
		}
		if typ == websocket.BinaryMessage {
			if _, err := w.Write(data); err != nil {
				return received, fmt.Errorf("failed to buffer upload: %w", err)
			}
			received += int64(len(data))
			continue
		}

		var msg types.WebSocketMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return received, fmt.Errorf("invalid control message: %w", err)
		}
		if msg.UploadDone == nil {
			return received, errors.New("expected UploadDone or binary data")
		}
		if msg.UploadDone.UploadedSize != received {
			return received, fmt.Errorf("uploaded_size %d does not match %d bytes received",
				msg.UploadDone.UploadedSize, received)
		}
		return received, nil
	}
}

func (ms *mediaSession) readControl() (types.WebSocketMessage, error) {
	var msg types.WebSocketMessage
	typ, data, err := ms.conn.ReadMessage()
	if err != nil {
		return msg, fmt.Errorf("connection closed unexpectedly: %w", err)
	}
	if typ != websocket.TextMessage {
		return msg, errors.New("expected a text message")
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("invalid control message: %w", err)
	}
	return msg, nil
}

func (ms *mediaSession) sendOutput(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("transcoder produced no output: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	if err := ms.send(types.WebSocketMessage{TranscodingComplete: &types.TranscodingComplete{OutputSize: info.Size()}}); err != nil {
		return err
	}

	buf := make([]byte, mediaChunk)
	var sent int64
	for sent < info.Size() {
		n, err := f.Read(buf)
		if n > 0 {
			_ = ms.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if werr := ms.conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return werr
			}
			sent += int64(n)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
	}
	if sent != info.Size() {
		return fmt.Errorf("sent %d of %d output bytes", sent, info.Size())
	}
	ms.logger.Info().Str("size", humanize.Bytes(uint64(sent))).Msg("Transcoded output sent")
	return nil
}

func (ms *mediaSession) send(msg types.WebSocketMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return writeText(ms.conn, data)
}

func (ms *mediaSession) fail(reason string) {
	_ = ms.send(types.ErrorMessage(reason))
	_ = ms.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseInternalServerErr, ""),
		time.Now().Add(time.Second))
}
