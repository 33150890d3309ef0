/*
Package coordinator implements mom, the process that owns tenant state.

For every configured tenant the coordinator holds a blob store, a sqlite
metadata store and the current revision. Front-ends connect to /events and
receive a GoodMorning snapshot followed by TenantEvents whenever a revision
is published or the users of a tenant change.

# Endpoints

	GET  /health                                  liveness, unauthenticated
	GET  /ready, /status, /metrics                readiness, component health, prometheus
	GET  /events                                  WebSocket event channel
	POST /tenant/{t}/derive                       materialize a derivation
	POST /tenant/{t}/media/transcode              blob-to-blob transcode
	GET  /tenant/{t}/media/upload                 WebSocket media session
	POST /tenant/{t}/objectstore/list-missing     which blobs still need uploading
	PUT  /tenant/{t}/objectstore/put/{key}        store one blob
	PUT  /tenant/{t}/revision/upload/{rev}        publish a revision package

Every endpoint but /health and the observability ones needs a bearer key.
The readonly key sees every tenant; scoped keys see the tenants listed for
them. Anything else is answered with 401.

# Derivations

A derive request is answered immediately with AlreadyInProgress when a
build for the same output key runs, with Done when the blob already exists,
and with TooManyRequests when the tenant's rate limit or transformer budget
is exhausted. Otherwise the caller starts the build and waits for it. Builds
run detached from the request and always finish, so their output lands in
the blob store even when the caller went away.
*/
package coordinator
