package types

import (
	"fmt"
)

// Input is a raw, content-addressed resource belonging to a revision
type Input struct {
	Path        string `json:"path"`
	ContentHash string `json:"content_hash"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// DerivationKind identifies the transformer family of a derivation
type DerivationKind string

const (
	KindIdentity  DerivationKind = "identity"
	KindThumbnail DerivationKind = "thumbnail"
	KindTranscode DerivationKind = "transcode"
	KindBundle    DerivationKind = "bundle"
	KindImage     DerivationKind = "image"
)

// Derivation is a deterministic transformation of an input.
// ContentType is the declared output content type.
type Derivation struct {
	Kind        DerivationKind    `json:"kind"`
	Params      map[string]string `json:"params,omitempty"`
	ContentType string            `json:"content_type"`
}

// Pak is a revision package: everything a front-end needs to serve a
// snapshot of a tenant's site.
type Pak struct {
	ID        string              `json:"id"`
	Inputs    map[string]Input    `json:"inputs"`
	Pages     map[string]Page     `json:"pages"`
	Assets    map[string]Asset    `json:"assets"`
	Templates map[string]Template `json:"templates,omitempty"`
	Config    RevisionConfig      `json:"rc"`
}

// Page is a routable rendered document
type Page struct {
	Route     string `json:"route"`
	InputPath string `json:"input_path"`
	Title     string `json:"title,omitempty"`
	Draft     bool   `json:"draft,omitempty"`
}

// Template is the source of a named template
type Template struct {
	Source string `json:"source"`
}

// RevisionConfig is the per-revision configuration record
type RevisionConfig struct {
	ID              string     `json:"id"`
	AdminGitHubIDs  []string   `json:"admin_github_ids,omitempty"`
	AdminPatreonIDs []string   `json:"admin_patreon_ids,omitempty"`
	Tiers           []Tier     `json:"tiers,omitempty"`
	SVGFonts        []FontSpec `json:"svg_fonts,omitempty"`
}

// Tier gates content behind a minimum pledge
type Tier struct {
	Name     string `json:"name"`
	MinCents int    `json:"min_cents"`
}

// FontSpec declares a font face used when rendering SVGs
type FontSpec struct {
	Family string `json:"family"`
	Path   string `json:"path"`
	Weight uint16 `json:"weight"`
	Style  string `json:"style"`
}

// Asset is one entry in a revision's routing table. Exactly one variant is set.
type Asset struct {
	Inline              *InlineAsset         `json:"-"`
	Derivation          *DerivationAsset     `json:"-"`
	AcceptBasedRedirect *AcceptBasedRedirect `json:"-"`
}

// InlineAsset is served directly from the revision
type InlineAsset struct {
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
}

// DerivationAsset is materialized through the coordinator
type DerivationAsset struct {
	InputPath  string     `json:"input_path"`
	Derivation Derivation `json:"derivation"`
}

// AcceptBasedRedirect picks a target route from the Accept header.
// The last option is the most compatible fallback.
type AcceptBasedRedirect struct {
	Options []RedirectOption `json:"options"`
}

// RedirectOption pairs a content type with the route serving it
type RedirectOption struct {
	ContentType string `json:"content_type"`
	Route       string `json:"route"`
}

func (a Asset) MarshalJSON() ([]byte, error) {
	switch {
	case a.Inline != nil:
		return marshalTagged("Inline", a.Inline)
	case a.Derivation != nil:
		return marshalTagged("Derivation", a.Derivation)
	case a.AcceptBasedRedirect != nil:
		return marshalTagged("AcceptBasedRedirect", a.AcceptBasedRedirect)
	default:
		return nil, fmt.Errorf("asset: no variant set")
	}
}

func (a *Asset) UnmarshalJSON(data []byte) error {
	tag, raw, err := unmarshalTagged(data)
	if err != nil {
		return fmt.Errorf("asset: %w", err)
	}
	*a = Asset{}
	switch tag {
	case "Inline":
		a.Inline = &InlineAsset{}
		return jsonInto(raw, a.Inline)
	case "Derivation":
		a.Derivation = &DerivationAsset{}
		return jsonInto(raw, a.Derivation)
	case "AcceptBasedRedirect":
		a.AcceptBasedRedirect = &AcceptBasedRedirect{}
		return jsonInto(raw, a.AcceptBasedRedirect)
	default:
		return unknownVariant("asset", tag)
	}
}

// ObjectStorageConfig points at a tenant's remote bucket
type ObjectStorageConfig struct {
	Bucket   string `json:"bucket" yaml:"bucket"`
	Region   string `json:"region" yaml:"region"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	// Provider is "s3" (default) or "gcs"
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
}

// AWSSecrets are static credentials for an S3-compatible store
type AWSSecrets struct {
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
}

// TenantSecrets holds per-tenant credentials
type TenantSecrets struct {
	AWS         *AWSSecrets `json:"aws,omitempty" yaml:"aws,omitempty"`
	CookieSauce string      `json:"cookie_sauce,omitempty" yaml:"cookie_sauce,omitempty"`
}

// TenantConfig is the coordinator-owned configuration of a tenant
type TenantConfig struct {
	Name          string               `json:"name" yaml:"name"`
	DomainAliases []string             `json:"domain_aliases,omitempty" yaml:"domain_aliases,omitempty"`
	ObjectStorage *ObjectStorageConfig `json:"object_storage,omitempty" yaml:"object_storage,omitempty"`
	Secrets       *TenantSecrets       `json:"secrets,omitempty" yaml:"secrets,omitempty"`
}

// UserInfo is what front-ends know about a user
type UserInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Tier      string `json:"tier,omitempty"`
}

// AllUsers is a full users snapshot; there are no deltas
type AllUsers struct {
	Users map[string]UserInfo `json:"users"`
}
