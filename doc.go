// Package envgo provides pluggable operating environments for storage
// engines.
//
// An Env bundles everything a log-structured engine needs from its host:
// file creation and access through narrow capability objects, directory
// and metadata operations, advisory locking, background scheduling, timing
// and diagnostic logging. Engines written against Env run unchanged on a
// local disk, in memory, or against an object store.
//
// # Quick Start
//
// Local filesystem (the common case):
//
//	env := envgo.Default()
//
//	w, _ := env.NewWritableFile("/data/000001.log")
//	w.Write(record)
//	w.Sync() // durable after this
//	w.Close()
//
//	r, _ := env.NewRandomAccessFile("/data/000001.log")
//	n, _ := r.ReadAt(buf, 4096) // safe from many goroutines
//
// In memory, for tests:
//
//	env := envgo.NewMemEnv()
//
// Object stores, via the subpackages:
//
//	env, _ := s3.New(ctx, "my-bucket", s3.WithPrefix("db/"))
//	env, _ := minio.New("localhost:9000", "my-bucket", minio.WithCredentials(key, secret))
//	env := billy.New(memfs.New())
//
// # Capability Objects
//
// Access rights are split by access pattern rather than bundled into one
// file handle:
//
//   - SequentialFile reads front to back (log replay, table scans).
//   - RandomAccessFile serves concurrent positioned reads (block fetches).
//   - WritableFile appends, with an explicit Sync for durability points.
//
// Every open states its intent, and the concurrency contract is carried by
// the type: sharing a RandomAccessFile across goroutines is always safe,
// sharing the other two is the caller's responsibility.
//
// # Locking
//
// LockFile takes an exclusive advisory lock and never blocks; a held lock
// is reported immediately as ErrLocked. The returned token is redeemed by
// UnlockFile of the same environment:
//
//	lock, err := env.LockFile("/data/LOCK")
//	if envgo.IsLocked(err) {
//	    // another process owns the database
//	}
//	defer env.UnlockFile(lock)
//
// # Background Work
//
// Schedule queues fire-and-forget work (compactions, uploads) on a bounded
// pool sized with WithBackgroundWorkers. Tasks may run concurrently and
// complete in any order. StartThread runs long-lived work on its own
// goroutine outside the pool.
//
// # Errors
//
// Failures are translated into *Error values carrying the operation and
// path while preserving the cause for errors.Is. The helpers IsNotFound,
// IsNotSupported, IsLocked and IsClosed answer the common questions across
// every backend.
package envgo
