// Package mmap maps files into memory for lock-free positioned reads.
//
// A Mapping is read-only and safe for concurrent ReadAt without any
// serialization, which makes it the preferred backing for random access
// files when the platform cooperates. Mapping can fail where a plain read
// would not (exhausted address space, exotic filesystems), so callers keep
// a fallback path and treat errors here as a reason to fall back, not to
// give up.
package mmap
