/*
Package storage provides the front-end's on-disk blob cache.

BoltCache keeps recently served blobs in a single bbolt file so that a
front-end restart or a burst of requests for the same derivation does not
go back to object storage. It sits in front of a blobstore.Store and is
itself a blobstore.Store, so the request pipeline does not know whether a
read was served locally.

# Layout

	<cache_dir>/blobcache.db
	  blobs   tenant \x00 blob key  ->  raw bytes
	  meta    tenant \x00 blob key  ->  {"content_type", "size", "last_access"}

# Policy

  - Only objects whose size is known and at most max_object_size are cached.
    Larger objects stream straight from the backend.
  - The sum of cached sizes is kept under the configured budget. Inserting
    past the budget evicts the least recently accessed entries.
  - Blob keys are content addressed, so entries never go stale. A Put
    through the wrapper still drops the cached copy first.
  - Cache failures are logged and the request falls through to the backend.
*/
package storage
