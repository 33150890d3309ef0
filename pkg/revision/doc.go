// Package revision loads revision packages into indexed, immutable values.
//
// A Revision answers route, page, input and template lookups in constant
// time. Routes are case sensitive and never end in a slash, except for the
// root route. A Handle holds the current revision of a tenant and swaps it
// atomically, so a request that loaded a revision keeps a consistent view
// even if a newer one is installed while it runs.
package revision
