// Package jwt verifies bearer access tokens issued by an external identity
// provider. It never issues tokens; the subject claim names the voiceGate user.
package jwt
