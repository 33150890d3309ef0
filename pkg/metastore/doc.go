/*
Package metastore is the per-tenant metadata database of the coordinator.

Each tenant owns one SQLite file at <tenant_base>/.internal/meta.db, opened
through modernc.org/sqlite with WAL journaling and a busy timeout. Two tables
are used:

	objectstore_entries(key)              blob keys confirmed to exist
	revisions(id, blob_key, uploaded_at)  log of uploaded revisions

objectstore_entries is an advisory index. A key may exist in the blob store
without a row here; callers repair it lazily by asking the blob store and
calling MarkPresent. Rows are never removed, so blobs deleted out of band
leave stale rows behind. The index answers list-missing queries from
uploaders without touching object storage.

LatestRevision recovers the current revision at startup by ordering on
uploaded_at, falling back to insertion order for uploads within the same
millisecond.
*/
package metastore
