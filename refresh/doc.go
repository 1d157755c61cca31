// Package refresh tracks refresh-token identity, rotation lineage and revocation.
//
// # Rotation state machine
//
// A [Record] starts Active. A successful [Store.Rotate] moves it to Rotated and
// links it to an Active successor. Presenting a Rotated record again is a
// replay: the store revokes the whole successor chain before returning
// [ErrReplayDetected]. Revoked is terminal.
//
// # Backends
//
//   - [MemoryStore]: sharded lock table, periodic [MemoryStore.Sweep].
//   - [RedisStore]: one hash per record, Lua scripts for atomic transitions.
//   - [PostgresStore]: row locks inside a transaction, goose migrations.
//
// # What this package must NOT do
//
//   - Encode, sign or parse token strings (package token owns that).
//   - Import gatekeep or token.
package refresh
