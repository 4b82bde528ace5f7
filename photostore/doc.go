// Package photostore abstracts where a photo's encoded bytes live.
//
// A Store resolves a locator to read-only bytes; the image decoder sits on
// top and turns those bytes into pixels. Backends:
//
//   - MemoryStore: in-memory, for tests.
//   - LocalStore: a local directory tree, memory-mapped reads.
//   - s3.Store: an S3 bucket (ranged reads + download-manager fetches).
//   - minio.Store: MinIO / S3-compatible object storage.
//
// Stores are read-oriented by design: the cache never writes photo bytes,
// and nothing here persists across runs.
package photostore
