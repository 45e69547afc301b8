// Package voiceGate gates sensitive financial actions (transfer, deposit,
// withdraw) behind a spoken knowledge challenge. A transaction is opened after
// its preconditions pass, then the user answers a randomly chosen question
// aloud; the answer must match both the user's registered voice and the
// stored answer text before the transaction can be completed.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// voiceGate is the public surface. It exposes [Engine], [Builder], [Config]
// and value types. Flow orchestration, the Redis pending store, throttles,
// audio spooling and audit dispatch live under internal/ and are never
// exported. Voice matching and transcription are consumed through
// [VoiceMatcher] and [Transcriber]; package voiceservice provides HTTP
// clients for both. Balances live behind [Ledger]; package ledger/sqlledger
// provides a SQL implementation.
//
// # Verification protocol
//
// Each pending transaction carries an attempt counter with a hard ceiling of
// [MaxVerificationAttempts]. Every evaluated submission consumes exactly one
// attempt; rejected submissions (no audio, no bound challenge, no voice
// profile) consume none. Approval and denial are terminal and a closed
// transaction never accepts another attempt.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or record encodings.
//   - Log or audit expected answers.
//   - Apply a transaction to the ledger more than once.
package voiceGate
