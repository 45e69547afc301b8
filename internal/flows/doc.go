// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunBeginChallenge, RunSubmitResponse, RunOpenTransaction,
// etc.) accepts a typed dependency struct and returns results without
// side-effects beyond those dependencies. The Engine builds the dependency
// structs and converts store records into the flow-local types declared here.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the pending store, profile provider,
// ledger, voice and speech collaborators, throttle, audit dispatcher, and
// metrics. They do NOT own any of these resources; ownership stays with the
// Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import voiceGate or internal/stores (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency functions.
package flows
