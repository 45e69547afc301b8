package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t testing.TB) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func signEd(t testing.TB, priv ed25519.PrivateKey, kid string, claims Claims) string {
	t.Helper()
	tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(priv)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func validClaims(sub string) Claims {
	now := time.Now()
	return Claims{RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   sub,
		Issuer:    "idp",
		Audience:  gjwt.ClaimStrings{"voicegate-api"},
		ExpiresAt: gjwt.NewNumericDate(now.Add(time.Minute)),
		IssuedAt:  gjwt.NewNumericDate(now),
	}}
}

func TestVerifyEd25519(t *testing.T) {
	pub, priv := newEdKeys(t)
	v, err := NewVerifier(Config{SigningMethod: MethodEd25519, Key: pub, Issuer: "idp", Audience: "voicegate-api"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	claims, err := v.Verify(signEd(t, priv, "", validClaims("alice")))
	if err != nil {
		t.Fatalf("expected valid token: %v", err)
	}
	if claims.UserID != "alice" || claims.Subject != "alice" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestVerifyUIDFallback(t *testing.T) {
	pub, priv := newEdKeys(t)
	v, _ := NewVerifier(Config{SigningMethod: MethodEd25519, Key: pub})

	c := validClaims("")
	c.UserID = "bob"
	claims, err := v.Verify(signEd(t, priv, "", c))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "bob" {
		t.Fatalf("UserID = %q", claims.UserID)
	}

	if _, err := v.Verify(signEd(t, priv, "", validClaims(""))); !errors.Is(err, ErrMissingSubject) {
		t.Fatalf("expected ErrMissingSubject, got %v", err)
	}
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	v, err := NewVerifier(Config{SigningMethod: MethodEd25519, Key: pub})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, validClaims("alice"))
	token, err := tok.SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := v.Verify(token); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestVerifyIssuerAudienceAndLeeway(t *testing.T) {
	pub, priv := newEdKeys(t)
	v, err := NewVerifier(Config{
		SigningMethod: MethodEd25519,
		Key:           pub,
		Issuer:        "idp",
		Audience:      "voicegate-api",
		Leeway:        30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	wrongIssuer := validClaims("alice")
	wrongIssuer.Issuer = "other"
	if _, err := v.Verify(signEd(t, priv, "", wrongIssuer)); err == nil {
		t.Fatal("expected wrong issuer to fail")
	}

	wrongAudience := validClaims("alice")
	wrongAudience.Audience = gjwt.ClaimStrings{"other-api"}
	if _, err := v.Verify(signEd(t, priv, "", wrongAudience)); err == nil {
		t.Fatal("expected wrong audience to fail")
	}

	within := validClaims("alice")
	within.ExpiresAt = gjwt.NewNumericDate(time.Now().Add(-15 * time.Second))
	if _, err := v.Verify(signEd(t, priv, "", within)); err != nil {
		t.Fatalf("expected token within leeway to pass: %v", err)
	}

	expired := validClaims("alice")
	expired.ExpiresAt = gjwt.NewNumericDate(time.Now().Add(-2 * time.Minute))
	if _, err := v.Verify(signEd(t, priv, "", expired)); err == nil {
		t.Fatal("expected expired token to fail")
	}

	noExp := validClaims("alice")
	noExp.ExpiresAt = nil
	if _, err := v.Verify(signEd(t, priv, "", noExp)); err == nil {
		t.Fatal("expected token without exp to fail")
	}
}

func TestVerifyFutureIssuedAt(t *testing.T) {
	pub, priv := newEdKeys(t)
	v, _ := NewVerifier(Config{SigningMethod: MethodEd25519, Key: pub, MaxFutureIAT: time.Minute})

	c := validClaims("alice")
	c.IssuedAt = gjwt.NewNumericDate(time.Now().Add(time.Hour))
	c.ExpiresAt = gjwt.NewNumericDate(time.Now().Add(2 * time.Hour))
	if _, err := v.Verify(signEd(t, priv, "", c)); err == nil {
		t.Fatal("expected future iat to fail")
	}
}

func TestVerifyKeySetByKid(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	pub2, _ := newEdKeys(t)
	v, err := NewVerifier(Config{SigningMethod: MethodEd25519, VerifyKeys: map[string][]byte{"k1": pub1}})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	if _, err := v.Verify(signEd(t, priv1, "k2", validClaims("alice"))); err == nil {
		t.Fatal("expected unknown kid failure")
	}
	if _, err := v.Verify(signEd(t, priv1, "", validClaims("alice"))); err == nil {
		t.Fatal("expected missing kid failure")
	}
	good := signEd(t, priv1, "k1", validClaims("alice"))
	if _, err := v.Verify(good); err != nil {
		t.Fatalf("expected known kid token to pass: %v", err)
	}

	other, _ := NewVerifier(Config{SigningMethod: MethodEd25519, VerifyKeys: map[string][]byte{"k1": pub2}})
	if _, err := other.Verify(good); err == nil {
		t.Fatal("expected failure with mismatched key set")
	}
}

func TestVerifyHS256(t *testing.T) {
	secret := []byte("0123456789abcdef0123")
	v, err := NewVerifier(Config{SigningMethod: MethodHS256, Key: secret})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	tok, _ := gjwt.NewWithClaims(gjwt.SigningMethodHS256, validClaims("alice")).SignedString(secret)
	if _, err := v.Verify(tok); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	forged, _ := gjwt.NewWithClaims(gjwt.SigningMethodHS256, validClaims("alice")).SignedString([]byte("another-secret-of-len"))
	if _, err := v.Verify(forged); err == nil {
		t.Fatal("expected forged token to fail")
	}
}

func TestNewVerifierRejectsBadConfig(t *testing.T) {
	tests := map[string]Config{
		"no key":       {SigningMethod: MethodEd25519},
		"bad method":   {SigningMethod: "rs512", Key: []byte("x")},
		"short secret": {SigningMethod: MethodHS256, Key: []byte("short")},
		"bad ed key":   {SigningMethod: MethodEd25519, Key: []byte("not-a-key")},
		"empty kid":    {SigningMethod: MethodHS256, VerifyKeys: map[string][]byte{" ": []byte("0123456789abcdef")}},
		"leeway":       {SigningMethod: MethodHS256, Key: []byte("0123456789abcdef"), Leeway: time.Hour},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := NewVerifier(cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pub.pem")
	if err := os.WriteFile(path, []byte("file-contents"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := LoadKey(path)
	if err != nil || string(got) != "file-contents" {
		t.Fatalf("LoadKey(file) = %q, %v", got, err)
	}
	got, err = LoadKey("inline-secret-value")
	if err != nil || string(got) != "inline-secret-value" {
		t.Fatalf("LoadKey(inline) = %q, %v", got, err)
	}
	if _, err := LoadKey("  "); err == nil {
		t.Fatal("expected empty key error")
	}
}
