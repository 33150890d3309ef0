// Package frontend implements cub, the process serving tenant assets.
//
// A front-end keeps an in-memory mirror of every tenant it is allowed to
// see, fed by the coordinator's event channel. Requests are routed by Host:
// the web and CDN domains of a tenant select it, domain aliases redirect to
// the web domain, and anything else gets a 400.
//
// Derived assets are read from the tenant's blob store. On a miss the
// front-end asks the coordinator to derive and polls with backoff until the
// blob is there, giving up after a bounded number of attempts.
package frontend
