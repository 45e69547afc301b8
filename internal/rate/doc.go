// Package rate provides Redis-backed fixed-window counters that bound how
// often a user may request voice challenges and open gated transactions.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - vgc: challenge issuance per user
//   - vgo: transaction opening per user
//
// # What this package must NOT do
//
//   - Decide transaction outcomes (the per-transaction attempt ceiling lives in
//     internal/stores).
//   - Be imported outside the voiceGate module.
package rate
