// Package transform is the boundary to the programs that actually produce
// derivations and transcodes. The coordinator treats them as opaque: a
// Deriver turns an input into bytes and a content type, a Transcoder turns a
// media file into another one while reporting progress. The in-process
// Identity and Passthrough implementations are used in development and
// tests when no command is configured.
package transform
