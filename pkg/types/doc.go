/*
Package types defines the data model and wire formats shared by mom (the
coordinator) and cub (the front-end).

# Data model

  - Input: a raw resource of a revision, addressed by content hash
  - Derivation: kind + parameters + declared output content type
  - Pak: a revision package (inputs, pages, assets, templates, config)
  - Asset: Inline, Derivation or AcceptBasedRedirect
  - TenantConfig: coordinator-owned tenant settings, also sent to front-ends
  - AllUsers: full users snapshot for a tenant

# Wire formats

All control messages are UTF-8 JSON. Sum types use a single-key object whose
key is the variant name and whose value is the variant payload:

	{"Done": {"output_size": 4, "output_key": "derivations/3fa2....webp"}}
	{"AlreadyInProgress": {"info": "in progress for 1.2s"}}
	{"TooManyRequests": {}}

	{"GoodMorning": {"initial_states": {"example.org": {"pak": {...}, "tc": {...}}}}}
	{"TenantEvent": {"tenant_name": "example.org", "payload": {"RevisionChanged": {...}}}}

	{"Headers": {"target_format": "AV1", "file_name": "a.mov", "file_size": 1024}}
	{"TranscodingEvent": {"Progress": {"frame": 12, ...}}}
	{"Error": "ffmpeg exited with status 1"}

Every union type implements json.Marshaler and json.Unmarshaler. Decoding an
unknown tag fails with an error wrapping ErrUnknownVariant; encoding a value
with no variant set fails.
*/
package types
