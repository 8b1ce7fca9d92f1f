// Package kv defines the storage-agnostic adapter every repository in
// the control plane is built on: atomic get/set/incr/expire, a lazy
// scan cursor, scripted read-modify-write updates, pipelining and a
// distributed lock.
//
// Store is the single seam between domain repositories (job queue,
// file metadata, rate-limit counters, archive) and the backing store.
// The only shipped implementation is kv/redisstore, but nothing above
// this package imports go-redis directly.
package kv
