package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the accepted token algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

var (
	// ErrMissingSubject is returned for a valid token without a user.
	ErrMissingSubject = errors.New("token has no subject")
	// ErrFutureIssuedAt is returned when iat is beyond MaxFutureIAT.
	ErrFutureIssuedAt = errors.New("token iat too far in the future")
)

// Config defines a public type used by voiceGate APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	SigningMethod SigningMethod
	// Key is the HS256 secret or the Ed25519 public key (raw or PEM).
	Key          []byte
	Issuer       string
	Audience     string
	Leeway       time.Duration
	RequireIAT   bool
	MaxFutureIAT time.Duration
	// VerifyKeys, when set, selects the key by the token's kid header.
	VerifyKeys map[string][]byte
}

// Claims are the verified claims of an access token. UserID mirrors the
// subject.
type Claims struct {
	UserID string `json:"uid,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates access tokens against one algorithm and key set.
type Verifier struct {
	config Config
	keys   map[string]any
	key    any
}

// NewVerifier describes the newverifier operation and its observable behavior.
//
// NewVerifier may return an error when input validation, dependency calls, or security checks fail.
// NewVerifier does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}

	v := &Verifier{config: cfg}
	switch cfg.SigningMethod {
	case MethodHS256, MethodEd25519:
	default:
		return nil, errors.New("unsupported signing method")
	}

	if len(cfg.VerifyKeys) > 0 {
		v.keys = make(map[string]any, len(cfg.VerifyKeys))
		for kid, raw := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("verify key map contains empty kid")
			}
			key, err := v.parseKey(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid verify key for kid %q: %w", kid, err)
			}
			v.keys[kid] = key
		}
		return v, nil
	}

	if len(cfg.Key) == 0 {
		return nil, errors.New("verification key required")
	}
	key, err := v.parseKey(cfg.Key)
	if err != nil {
		return nil, err
	}
	v.key = key
	return v, nil
}

// Verify parses tokenStr and returns its claims when signature, issuer,
// audience and time claims are valid and a subject is present.
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{v.method().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(v.config.Leeway))
	}
	if v.config.RequireIAT {
		options = append(options, jwt.WithIssuedAt())
	}
	if v.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(v.config.Issuer))
	}
	if v.config.Audience != "" {
		options = append(options, jwt.WithAudience(v.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != v.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		if v.keys == nil {
			return v.key, nil
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		key, ok := v.keys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(time.Now().Add(v.config.MaxFutureIAT)) {
		return nil, ErrFutureIssuedAt
	}
	if claims.Subject == "" {
		claims.Subject = claims.UserID
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	claims.UserID = claims.Subject
	return claims, nil
}

func (v *Verifier) method() jwt.SigningMethod {
	if v.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (v *Verifier) parseKey(raw []byte) (any, error) {
	if v.config.SigningMethod == MethodHS256 {
		if len(raw) < 16 {
			return nil, errors.New("hs256 secret must be at least 16 bytes")
		}
		return raw, nil
	}
	return parseEdPublicKey(raw)
}

// LoadKey returns value as key material, reading it from disk when value
// names an existing file.
func LoadKey(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("empty key")
	}
	if !strings.HasPrefix(value, "-----BEGIN") {
		if b, err := os.ReadFile(value); err == nil {
			return b, nil
		}
	}
	return []byte(value), nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
