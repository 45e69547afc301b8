// Package stores persists pending transactions in Redis.
//
// # Design
//
// Each pending transaction is one versioned, binary-encoded record with a
// TTL. Mutations (RecordAttempt, BindChallenge, Transition, MarkCommitted)
// use WATCH/MULTI optimistic transactions with bounded retry on contention,
// so concurrent submissions for one transaction can never push its attempt
// counter past the ceiling the caller passes in.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for pending records.
// It does NOT evaluate audio, apply throttles, or touch the ledger; those
// belong to the flow functions in internal/flows.
//
// # What this package must NOT do
//
//   - Import voiceGate or any sibling internal package.
//   - Store knowledge answers, transcripts, or audio.
package stores
