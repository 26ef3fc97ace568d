/*
Package store implements the file store and query engine (C3/C4): the
tenant-scoped file-record lifecycle (create, resurrect, upsert,
soft-delete, rename, lazy tombstone cleanup) and the paginated,
filterable listing operation.

Store is the interface; PostgresStore is the concrete implementation
over a pgx connection pool, using prepared statements and per-
(tenant,path) transactional serialization as described in spec.md §5.
A MemoryStore fake backs unit and integration tests without a database.
*/
package store
