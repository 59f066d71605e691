// Package session stores conversation transcripts.
//
// A session is an append-only sequence of [Turn] values, oldest first,
// keyed by a caller-chosen id. Two [Store] implementations exist:
// [Memory] for single-process use (bounded by TTL and an LRU cap) and
// [Postgres] for durable multi-process use.
//
// # Lazy creation
//
// Reading an unknown session yields an empty transcript, not an error.
// The session comes into existence on its first Append. This keeps the
// caller's happy path free of create-if-missing branches.
//
// # Transaction safety
//
// [Postgres.Append] locks the session row with SELECT ... FOR UPDATE
// before assigning sequence numbers, so concurrent appends to the same
// session serialize and the transcript never interleaves or gaps. If any
// step fails the whole batch rolls back.
//
// # Local state
//
// [SaveCurrentSessionID] and [LoadCurrentSessionID] persist the active
// session id to <config dir>/current_session so consecutive CLI
// invocations continue the same conversation. Writes are atomic (temp
// file + rename) and guarded by an advisory lock via
// [github.com/gofrs/flock].
package session
