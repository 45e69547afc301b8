// Package middleware exposes HTTP middleware that authenticates the caller
// with a bearer token and carries request metadata into voiceGate calls.
//
// # Guards
//
//   - [RequireUser] verifies the Authorization bearer token and injects the
//     authenticated user id.
//   - [RequestContext] copies the client IP and request id into the context
//     so the Engine can attach them to audit events and attempt logs.
//
// # What this package must NOT do
//
//   - Issue tokens.
//   - Make transaction or verification decisions; those belong to the Engine.
package middleware
