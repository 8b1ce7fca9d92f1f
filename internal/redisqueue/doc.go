// Package redisqueue is the Redis-backed Job Repository: it persists
// job.Job records under kv.Store and adapts them to the queue
// package's Pusher/Puller/Observer/Cleaner interfaces.
//
// Where the teacher's sql package relied on a single "UPDATE ... WHERE
// status = ? RETURNING *" statement to guarantee atomic state
// transitions, redisqueue reaches the same guarantee with a Lua
// script that re-checks the expected status server-side before
// overwriting a record — a compare-and-swap on the status field that
// plays the same role as the SQL WHERE clause.
//
// Every job is stored as one JSON blob per id, so a single GET
// returns a full snapshot and a single conditional SET commits a
// transition. There is no secondary index: get_expired and
// find_by_status iterate the keyspace with kv.Store.Scan and filter
// application-side, matching the non-blocking-scan discipline the
// spec requires for both operations.
package redisqueue
