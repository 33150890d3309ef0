package types

import (
	"encoding/json"
	"fmt"
)

// DeriveParams is the body of POST /tenant/{t}/derive
type DeriveParams struct {
	Input      Input      `json:"input"`
	Derivation Derivation `json:"derivation"`
}

// DeriveDone reports a materialized derivation
type DeriveDone struct {
	OutputSize int64  `json:"output_size"`
	OutputKey  string `json:"output_key"`
}

// InProgress reports that another caller is building the same thing
type InProgress struct {
	Info string `json:"info"`
}

// TooManyRequests reports an exhausted concurrency budget
type TooManyRequests struct{}

// DeriveResponse has exactly one variant set
type DeriveResponse struct {
	Done              *DeriveDone
	AlreadyInProgress *InProgress
	TooManyRequests   *TooManyRequests
}

func (r DeriveResponse) MarshalJSON() ([]byte, error) {
	switch {
	case r.Done != nil:
		return marshalTagged("Done", r.Done)
	case r.AlreadyInProgress != nil:
		return marshalTagged("AlreadyInProgress", r.AlreadyInProgress)
	case r.TooManyRequests != nil:
		return marshalTagged("TooManyRequests", r.TooManyRequests)
	default:
		return nil, fmt.Errorf("derive response: no variant set")
	}
}

func (r *DeriveResponse) UnmarshalJSON(data []byte) error {
	tag, raw, err := unmarshalTagged(data)
	if err != nil {
		return fmt.Errorf("derive response: %w", err)
	}
	*r = DeriveResponse{}
	switch tag {
	case "Done":
		r.Done = &DeriveDone{}
		return jsonInto(raw, r.Done)
	case "AlreadyInProgress":
		r.AlreadyInProgress = &InProgress{}
		return jsonInto(raw, r.AlreadyInProgress)
	case "TooManyRequests":
		r.TooManyRequests = &TooManyRequests{}
		return nil
	default:
		return unknownVariant("derive response", tag)
	}
}

// TargetFormat is the output format of a media transcode
type TargetFormat string

const (
	FormatAV1       TargetFormat = "AV1"
	FormatAVC       TargetFormat = "AVC"
	FormatVP9       TargetFormat = "VP9"
	FormatThumbJXL  TargetFormat = "ThumbJXL"
	FormatThumbAVIF TargetFormat = "ThumbAVIF"
	FormatThumbWEBP TargetFormat = "ThumbWEBP"
)

// Valid reports whether f is a known format
func (f TargetFormat) Valid() bool {
	switch f {
	case FormatAV1, FormatAVC, FormatVP9, FormatThumbJXL, FormatThumbAVIF, FormatThumbWEBP:
		return true
	}
	return false
}

// IsThumbnail reports whether f produces a still image
func (f TargetFormat) IsThumbnail() bool {
	return f == FormatThumbJXL || f == FormatThumbAVIF || f == FormatThumbWEBP
}

// Ext is the file extension of the output
func (f TargetFormat) Ext() string {
	switch f {
	case FormatAV1, FormatAVC:
		return "mp4"
	case FormatVP9:
		return "webm"
	case FormatThumbJXL:
		return "jxl"
	case FormatThumbAVIF:
		return "avif"
	case FormatThumbWEBP:
		return "webp"
	}
	return "bin"
}

// ContentType is the MIME type of the output
func (f TargetFormat) ContentType() string {
	switch f {
	case FormatAV1, FormatAVC:
		return "video/mp4"
	case FormatVP9:
		return "video/webm"
	case FormatThumbJXL:
		return "image/jxl"
	case FormatThumbAVIF:
		return "image/avif"
	case FormatThumbWEBP:
		return "image/webp"
	}
	return "application/octet-stream"
}

func (f *TargetFormat) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if !TargetFormat(s).Valid() {
		return unknownVariant("target format", s)
	}
	*f = TargetFormat(s)
	return nil
}

// TranscodeParams is the body of POST /tenant/{t}/media/transcode.
// Input and Output are blob keys.
type TranscodeParams struct {
	Input        string       `json:"input"`
	TargetFormat TargetFormat `json:"target_format"`
	Output       string       `json:"output"`
}

// TranscodeDone reports a finished transcode
type TranscodeDone struct {
	OutputSize int64 `json:"output_size"`
}

// TranscodeResponse has exactly one variant set
type TranscodeResponse struct {
	Done              *TranscodeDone
	AlreadyInProgress *InProgress
	TooManyRequests   *TooManyRequests
}

func (r TranscodeResponse) MarshalJSON() ([]byte, error) {
	switch {
	case r.Done != nil:
		return marshalTagged("Done", r.Done)
	case r.AlreadyInProgress != nil:
		return marshalTagged("AlreadyInProgress", r.AlreadyInProgress)
	case r.TooManyRequests != nil:
		return marshalTagged("TooManyRequests", r.TooManyRequests)
	default:
		return nil, fmt.Errorf("transcode response: no variant set")
	}
}

func (r *TranscodeResponse) UnmarshalJSON(data []byte) error {
	tag, raw, err := unmarshalTagged(data)
	if err != nil {
		return fmt.Errorf("transcode response: %w", err)
	}
	*r = TranscodeResponse{}
	switch tag {
	case "Done":
		r.Done = &TranscodeDone{}
		return jsonInto(raw, r.Done)
	case "AlreadyInProgress":
		r.AlreadyInProgress = &InProgress{}
		return jsonInto(raw, r.AlreadyInProgress)
	case "TooManyRequests":
		r.TooManyRequests = &TooManyRequests{}
		return nil
	default:
		return unknownVariant("transcode response", tag)
	}
}

// ListMissingArgs maps blob keys to the input path they were computed from
type ListMissingArgs struct {
	ObjectsToQuery      map[string]string `json:"objects_to_query"`
	MarkTheseAsUploaded []string          `json:"mark_these_as_uploaded,omitempty"`
}

// ListMissingResponse is the subset of queried keys believed absent
type ListMissingResponse struct {
	Missing map[string]string `json:"missing"`
}
