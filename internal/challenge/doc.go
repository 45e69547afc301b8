// Package challenge holds the fixed knowledge-question catalog and the
// random selector used to pick a question for a voice challenge.
//
// # What this package must NOT do
//
//   - Persist anything or remember previously issued questions.
//   - See or return the expected answer values.
package challenge
