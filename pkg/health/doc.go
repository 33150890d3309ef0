// Package health probes the dependencies a process relies on.
//
// A Monitor runs each Checker on its own interval and folds the results
// into a Status, which only turns unhealthy after Config.Retries failures
// in a row. The debounced state is published through the metrics
// component registry, so it shows up on /status and, for critical
// components, on /ready.
package health
