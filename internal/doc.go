// Package internal groups the private building blocks of voiceGate.
//
// # Sub-packages
//
//   - artifact — transient on-disk audio spool with size limits
//   - audit — async event dispatch (Dispatcher + Sink implementations)
//   - challenge — knowledge-question catalog and random field selection
//   - flows — pure-function orchestrators for every Engine operation
//   - metrics — lock-free counters and the evaluation latency histogram
//   - rate — Redis-backed challenge and open throttles
//   - settings — viper-backed settings for cmd/voicegate
//   - similarity — token Jaccard similarity for spoken answers
//   - stores — Redis pending-transaction store
//
// # What this package must NOT do
//
//   - Export types that appear in the public voiceGate API.
//   - Be imported by any package outside the voiceGate module.
package internal
