// Package fingerprint computes stable identities for derivations and the
// blob keys derived from them.
//
// A fingerprint is the SHA-256 of the RFC 8785 canonical JSON encoding of
// the input content hash, the derivation kind and its parameters. Canonical
// JSON fixes key order, number formatting and string escaping, so the value
// is the same across processes, releases and architectures.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"mime"
	"strings"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/gowebpki/jcs"
)

const (
	InputsPrefix      = "inputs/"
	DerivationsPrefix = "derivations/"
	RevpaksPrefix     = "revpaks/"
)

// Fingerprint is a 64-character lowercase hex string
type Fingerprint string

type canonicalForm struct {
	Input  string            `json:"input"`
	Kind   string            `json:"kind"`
	Params map[string]string `json:"params"`
}

// Of fingerprints a derivation of an input. It never fails.
func Of(input types.Input, d types.Derivation) Fingerprint {
	params := d.Params
	if params == nil {
		params = map[string]string{}
	}
	// Marshalling a struct of strings cannot fail.
	raw, _ := json.Marshal(canonicalForm{
		Input:  input.ContentHash,
		Kind:   string(d.Kind),
		Params: params,
	})
	canonical, err := jcs.Transform(raw)
	if err != nil {
		canonical = raw
	}
	sum := sha256.Sum256(canonical)
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// DerivationKey is where a derivation's output is stored
func DerivationKey(fp Fingerprint, contentType string) string {
	return DerivationsPrefix + string(fp) + "." + ExtFor(contentType)
}

// KeyFor computes the output key of a derivation of an input
func KeyFor(input types.Input, d types.Derivation) string {
	return DerivationKey(Of(input, d), d.ContentType)
}

// InputKey is where a raw input is stored
func InputKey(contentHash string) string {
	return InputsPrefix + contentHash
}

// RevpakKey is where an uploaded revision package is stored
func RevpakKey(revisionID string) string {
	return RevpaksPrefix + revisionID
}

// HashContent is the content hash used for inputs
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var knownExts = map[string]string{
	"image/jxl":              "jxl",
	"image/avif":             "avif",
	"image/webp":             "webp",
	"image/png":              "png",
	"image/jpeg":             "jpg",
	"image/gif":              "gif",
	"image/svg+xml":          "svg",
	"video/mp4":              "mp4",
	"video/webm":             "webm",
	"audio/mpeg":             "mp3",
	"font/woff2":             "woff2",
	"text/css":               "css",
	"text/javascript":        "js",
	"application/javascript": "js",
	"application/json":       "json",
	"text/plain":             "txt",
	"text/html":              "html",
}

// ExtFor maps a content type to a file extension, "bin" when unknown. Only
// the fixed table is consulted so every machine derives the same key.
func ExtFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	if ext, ok := knownExts[mediaType]; ok {
		return ext
	}
	return "bin"
}
