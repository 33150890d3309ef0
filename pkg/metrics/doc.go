/*
Package metrics provides Prometheus metrics and a component health registry
for both burrow processes.

All metrics are package-level collectors registered with the default
registry at init and exposed by Handler on /metrics.

# Metrics

	burrow_http_requests_total{server,method,status}      counter
	burrow_http_request_duration_seconds{server,method}   histogram
	burrow_derive_requests_total{tenant,outcome}          counter   (mom)
	burrow_derive_duration_seconds{kind}                  histogram (mom)
	burrow_inflight_builds{tenant}                        gauge     (mom)
	burrow_transcode_sessions                             gauge     (mom)
	burrow_event_subscribers                              gauge     (mom)
	burrow_events_published_total{kind}                   counter   (mom)
	burrow_revision_uploads_total{tenant}                 counter   (mom)
	burrow_asset_responses_total{source}                  counter   (cub)
	burrow_derive_retries_total{reason}                   counter   (cub)
	burrow_mom_reconnects_total                           counter   (cub)
	burrow_blobcache_bytes                                gauge     (cub)

Gauges that mirror internal state are set by their owner when it changes:
the coordinator sets burrow_event_subscribers from the broker after each
connect and disconnect, and the front-end's dependency monitor samples the
blob cache size.

# Timing

	timer := metrics.NewTimer()
	out, err := deriver.Derive(ctx, in, d, body)
	timer.ObserveDurationVec(metrics.DeriveDuration, string(d.Kind))

# Health

Components report their state with RegisterComponent and UpdateComponent.
GetHealth is unhealthy when any component is unhealthy. GetReadiness only
looks at the components named by SetCriticalComponents: the coordinator
marks "tenants" ready once every tenant is loaded, the front-end marks
"mirrors" ready after processing its first GoodMorning.

	/health   LivenessHandler, plain "OK"
	/ready    ReadyHandler, 503 until critical components are healthy
	/status   HealthHandler, JSON with every component
*/
package metrics
