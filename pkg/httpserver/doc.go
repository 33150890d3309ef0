// Package httpserver holds the HTTP plumbing shared by the coordinator and
// the front-end: request logging with ids, spans and metrics, body limits,
// and the listen/serve/graceful-shutdown lifecycle.
package httpserver
