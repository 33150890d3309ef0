package types

import (
	"encoding/json"
	"fmt"
)

// UploadHeaders opens a media upload session
type UploadHeaders struct {
	TargetFormat TargetFormat `json:"target_format"`
	FileName     string       `json:"file_name"`
	FileSize     int64        `json:"file_size"`
}

// UploadDone closes the client's byte stream
type UploadDone struct {
	UploadedSize int64 `json:"uploaded_size"`
}

// TranscodingComplete announces how many output bytes follow
type TranscodingComplete struct {
	OutputSize int64 `json:"output_size"`
}

// MediaProps is what the transcoder learned about the source
type MediaProps struct {
	Width        uint32  `json:"width"`
	Height       uint32  `json:"height"`
	DurationSecs float64 `json:"duration_secs"`
	VideoCodec   string  `json:"vcodec,omitempty"`
	AudioCodec   string  `json:"acodec,omitempty"`
}

// TranscodingProgress mirrors an encoder progress report.
// Times are in seconds.
type TranscodingProgress struct {
	Frame         uint32  `json:"frame"`
	FPS           float32 `json:"fps"`
	Quality       float32 `json:"quality"`
	SizeKB        uint32  `json:"size_kb"`
	BitrateKbps   float32 `json:"bitrate_kbps"`
	Speed         float32 `json:"speed"`
	ProcessedTime float64 `json:"processed_time"`
	TotalTime     float64 `json:"total_time"`
}

func (p TranscodingProgress) String() string {
	return fmt.Sprintf("Frame %d, FPS %.2f, Quality %.2f, Size %dkb, Time %.2f/%.2fs, Bitrate %.2fkbps, Speed %.2fx",
		p.Frame, p.FPS, p.Quality, p.SizeKB, p.ProcessedTime, p.TotalTime, p.BitrateKbps, p.Speed)
}

// TranscodingEvent has exactly one variant set
type TranscodingEvent struct {
	MediaIdentified *MediaProps
	Progress        *TranscodingProgress
}

// WebSocketMessage is a text frame of the media upload session.
// Exactly one variant is set.
type WebSocketMessage struct {
	Headers             *UploadHeaders
	UploadDone          *UploadDone
	TranscodingEvent    *TranscodingEvent
	TranscodingComplete *TranscodingComplete
	Error               *string
}

// ErrorMessage builds a terminal Error message
func ErrorMessage(msg string) WebSocketMessage {
	return WebSocketMessage{Error: &msg}
}

func (e TranscodingEvent) MarshalJSON() ([]byte, error) {
	switch {
	case e.MediaIdentified != nil:
		return marshalTagged("MediaIdentified", e.MediaIdentified)
	case e.Progress != nil:
		return marshalTagged("Progress", e.Progress)
	default:
		return nil, fmt.Errorf("transcoding event: no variant set")
	}
}

func (e *TranscodingEvent) UnmarshalJSON(data []byte) error {
	tag, raw, err := unmarshalTagged(data)
	if err != nil {
		return fmt.Errorf("transcoding event: %w", err)
	}
	*e = TranscodingEvent{}
	switch tag {
	case "MediaIdentified":
		e.MediaIdentified = &MediaProps{}
		return jsonInto(raw, e.MediaIdentified)
	case "Progress":
		e.Progress = &TranscodingProgress{}
		return jsonInto(raw, e.Progress)
	default:
		return unknownVariant("transcoding event", tag)
	}
}

func (m WebSocketMessage) MarshalJSON() ([]byte, error) {
	switch {
	case m.Headers != nil:
		return marshalTagged("Headers", m.Headers)
	case m.UploadDone != nil:
		return marshalTagged("UploadDone", m.UploadDone)
	case m.TranscodingEvent != nil:
		return marshalTagged("TranscodingEvent", m.TranscodingEvent)
	case m.TranscodingComplete != nil:
		return marshalTagged("TranscodingComplete", m.TranscodingComplete)
	case m.Error != nil:
		return marshalTagged("Error", *m.Error)
	default:
		return nil, fmt.Errorf("websocket message: no variant set")
	}
}

func (m *WebSocketMessage) UnmarshalJSON(data []byte) error {
	tag, raw, err := unmarshalTagged(data)
	if err != nil {
		return fmt.Errorf("websocket message: %w", err)
	}
	*m = WebSocketMessage{}
	switch tag {
	case "Headers":
		m.Headers = &UploadHeaders{}
		return jsonInto(raw, m.Headers)
	case "UploadDone":
		m.UploadDone = &UploadDone{}
		return jsonInto(raw, m.UploadDone)
	case "TranscodingEvent":
		m.TranscodingEvent = &TranscodingEvent{}
		return jsonInto(raw, m.TranscodingEvent)
	case "TranscodingComplete":
		m.TranscodingComplete = &TranscodingComplete{}
		return jsonInto(raw, m.TranscodingComplete)
	case "Error":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		m.Error = &s
		return nil
	default:
		return unknownVariant("websocket message", tag)
	}
}
