/*
Package momclient is the client side of the coordinator API.

It is used by front-ends and by the command-line tools. HTTP calls go to
tenant-scoped endpoints under /tenant/{name}/ with a bearer API key. Errors
come back through apierror: a 500 carrying the structured header decodes
into *apierror.RemoteError, anything else non-2xx is an *apierror.StatusError.

Subscribe keeps a WebSocket on /events alive for the lifetime of the
process:

	go client.Subscribe(ctx, listener)

Every connection starts with a GoodMorning snapshot that replaces whatever
the listener knew. A lost connection is retried after about a second.

UploadMedia drives the media upload session: headers, binary chunks,
UploadDone, then progress events until the transcoded output is streamed
back.
*/
package momclient
