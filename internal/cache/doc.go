// Package cache defines the bucket storage used by the worker to keep
// request URL -> response entries. A Storage holds named buckets (one per
// deployed cache version); a Bucket exposes match/put/delete/keys with
// last-writer-wins semantics. Two backends ship with the package: a
// filesystem layout (temp file + rename, optional zstd bodies) and a SQLite
// database. Both verify bodies against the digest recorded at write time.
package cache
