package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownVariant is returned when a tagged union carries a tag this
// version does not know about.
var ErrUnknownVariant = errors.New("unknown variant")

// Tagged unions are encoded as a single-key object: {"Variant": payload}.

func marshalTagged(tag string, payload any) ([]byte, error) {
	return json.Marshal(map[string]any{tag: payload})
}

func unmarshalTagged(data []byte) (string, json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return "", nil, err
	}
	if len(m) != 1 {
		return "", nil, fmt.Errorf("tagged union must have exactly one key, got %d", len(m))
	}
	for tag, raw := range m {
		return tag, raw, nil
	}
	return "", nil, nil
}

func unknownVariant(union, tag string) error {
	return fmt.Errorf("%s: %w %q", union, ErrUnknownVariant, tag)
}

func jsonInto(raw json.RawMessage, v any) error {
	return json.Unmarshal(raw, v)
}
