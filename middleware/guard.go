package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	voiceGate "github.com/MrEthical07/voiceGate"
	"github.com/MrEthical07/voiceGate/jwt"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type userIDContextKey struct{}

// TokenVerifier is satisfied by *jwt.Verifier.
type TokenVerifier interface {
	Verify(token string) (*jwt.Claims, error)
}

// UserIDFromContext returns the user id injected by [RequireUser].
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDContextKey{}).(string)
	return id, ok && id != ""
}

// WithUserID injects id as the authenticated user. Tests and trusted
// in-process callers use it instead of a token.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDContextKey{}, id)
}

func RequireUser(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), claims.UserID)))
		})
	}
}

// RequestContext copies the client address and chi's request id into the
// voiceGate context helpers. Mount it after chi's RequestID and RealIP.
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := chimw.GetReqID(ctx); id != "" {
			ctx = voiceGate.WithRequestID(ctx, id)
		}
		if ip := clientIP(r.RemoteAddr); ip != "" {
			ctx = voiceGate.WithClientIP(ctx, ip)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

// DevUser trusts the X-Debug-User header as the authenticated user. It is
// meant for local development only and refuses requests without the header.
func DevUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Debug-User"))
		if id == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
	})
}
