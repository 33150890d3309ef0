package momclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/gorilla/websocket"
)

const uploadChunkSize = 256 * 1024

// ErrConnectionClosed is returned when the session ends before the output
// has been fully received
var ErrConnectionClosed = errors.New("connection closed unexpectedly")

// MediaUpload describes one media transcode session
type MediaUpload struct {
	TargetFormat types.TargetFormat
	FileName     string
	FileSize     int64
	Source       io.Reader
	// OnEvent, when set, receives transcoding progress
	OnEvent func(types.TranscodingEvent)
}

// UploadMedia streams a media file to the coordinator, waits for the
// transcode, and writes the result to dst. It returns the output size.
func (t *TenantClient) UploadMedia(ctx context.Context, up MediaUpload, dst io.Writer) (int64, error) {
	if !up.TargetFormat.Valid() {
		return 0, fmt.Errorf("invalid target format %q", up.TargetFormat)
	}

	u := t.c.wsURL(t.prefix + "/media/upload")
	conn, resp, err := t.c.dialer.DialContext(ctx, u, t.c.authHeader())
	if err != nil {
		if resp != nil {
			return 0, fmt.Errorf("failed to open media session (status %d): %w", resp.StatusCode, err)
		}
		return 0, fmt.Errorf("failed to open media session: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	headers := types.WebSocketMessage{Headers: &types.UploadHeaders{
		TargetFormat: up.TargetFormat,
		FileName:     up.FileName,
		FileSize:     up.FileSize,
	}}
	if err := writeMessage(conn, headers); err != nil {
		return 0, err
	}

	sent, err := sendChunks(conn, up.Source)
	if err != nil {
		return 0, fmt.Errorf("failed to upload %s: %w", up.FileName, err)
	}
	if err := writeMessage(conn, types.WebSocketMessage{UploadDone: &types.UploadDone{UploadedSize: sent}}); err != nil {
		return 0, err
	}
	t.c.logger.Debug().Str("tenant", t.tenant).Str("file", up.FileName).Int64("bytes", sent).Msg("Media uploaded, waiting for transcode")

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 0, ErrConnectionClosed
		}
		if typ != websocket.TextMessage {
			return 0, fmt.Errorf("unexpected binary frame before TranscodingComplete")
		}

		var msg types.WebSocketMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return 0, fmt.Errorf("failed to decode media message: %w", err)
		}

		switch {
		case msg.TranscodingEvent != nil:
			if up.OnEvent != nil {
				up.OnEvent(*msg.TranscodingEvent)
			}
		case msg.TranscodingComplete != nil:
			return receiveOutput(ctx, conn, msg.TranscodingComplete.OutputSize, dst)
		case msg.Error != nil:
			return 0, fmt.Errorf("transcode failed: %s", *msg.Error)
		default:
			return 0, fmt.Errorf("unexpected message type")
		}
	}
}

func writeMessage(conn *websocket.Conn, msg types.WebSocketMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func sendChunks(conn *websocket.Conn, src io.Reader) (int64, error) {
	buf := make([]byte, uploadChunkSize)
	var sent int64
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return sent, werr
			}
			sent += int64(n)
		}
		if errors.Is(err, io.EOF) {
			return sent, nil
		}
		if err != nil {
			return sent, err
		}
	}
}

func receiveOutput(ctx context.Context, conn *websocket.Conn, size int64, dst io.Writer) (int64, error) {
	var received int64
	for received < size {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return received, ctx.Err()
			}
			return received, ErrConnectionClosed
		}
		if typ != websocket.BinaryMessage {
			return received, fmt.Errorf("unexpected text frame while receiving output")
		}
		if _, err := dst.Write(data); err != nil {
			return received, err
		}
		received += int64(len(data))
	}
	if received != size {
		return received, fmt.Errorf("received %d bytes, expected %d", received, size)
	}
	return received, nil
}

// TenantURL builds {base}/tenant/{t}/{relative}
func (c *Client) TenantURL(tenant, relative string) string {
	return c.url("/tenant/" + url.PathEscape(tenant) + "/" + relative)
}
