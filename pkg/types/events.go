package types

import (
	"fmt"
)

// MomEvent is a text message on the /events channel
type MomEvent struct {
	GoodMorning *GoodMorning
	TenantEvent *TenantEvent
}

// GoodMorning is sent exactly once, first, on every /events connection
type GoodMorning struct {
	InitialStates map[string]TenantInitialState `json:"initial_states"`
}

// TenantInitialState is everything a front-end needs to serve a tenant
type TenantInitialState struct {
	Pak   *Pak         `json:"pak,omitempty"`
	Users *AllUsers    `json:"users,omitempty"`
	TC    TenantConfig `json:"tc"`
	// BaseDir is only sent in development, where mom and cub share a disk
	BaseDir string `json:"base_dir,omitempty"`
}

// TenantEvent is an incremental change to one tenant
type TenantEvent struct {
	TenantName string             `json:"tenant_name"`
	Payload    TenantEventPayload `json:"payload"`
}

// TenantEventPayload has exactly one variant set
type TenantEventPayload struct {
	RevisionChanged *Pak
	UsersUpdated    *AllUsers
}

func (e MomEvent) MarshalJSON() ([]byte, error) {
	switch {
	case e.GoodMorning != nil:
		return marshalTagged("GoodMorning", e.GoodMorning)
	case e.TenantEvent != nil:
		return marshalTagged("TenantEvent", e.TenantEvent)
	default:
		return nil, fmt.Errorf("mom event: no variant set")
	}
}

func (e *MomEvent) UnmarshalJSON(data []byte) error {
	tag, raw, err := unmarshalTagged(data)
	if err != nil {
		return fmt.Errorf("mom event: %w", err)
	}
	*e = MomEvent{}
	switch tag {
	case "GoodMorning":
		e.GoodMorning = &GoodMorning{}
		return jsonInto(raw, e.GoodMorning)
	case "TenantEvent":
		e.TenantEvent = &TenantEvent{}
		return jsonInto(raw, e.TenantEvent)
	default:
		return unknownVariant("mom event", tag)
	}
}

func (p TenantEventPayload) MarshalJSON() ([]byte, error) {
	switch {
	case p.RevisionChanged != nil:
		return marshalTagged("RevisionChanged", p.RevisionChanged)
	case p.UsersUpdated != nil:
		return marshalTagged("UsersUpdated", p.UsersUpdated)
	default:
		return nil, fmt.Errorf("tenant event payload: no variant set")
	}
}

func (p *TenantEventPayload) UnmarshalJSON(data []byte) error {
	tag, raw, err := unmarshalTagged(data)
	if err != nil {
		return fmt.Errorf("tenant event payload: %w", err)
	}
	*p = TenantEventPayload{}
	switch tag {
	case "RevisionChanged":
		p.RevisionChanged = &Pak{}
		return jsonInto(raw, p.RevisionChanged)
	case "UsersUpdated":
		p.UsersUpdated = &AllUsers{}
		return jsonInto(raw, p.UsersUpdated)
	default:
		return unknownVariant("tenant event payload", tag)
	}
}

// Kind names the payload variant, for logs and metrics
func (p TenantEventPayload) Kind() string {
	switch {
	case p.RevisionChanged != nil:
		return "RevisionChanged"
	case p.UsersUpdated != nil:
		return "UsersUpdated"
	}
	return "Unknown"
}
