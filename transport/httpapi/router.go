// Package httpapi exposes the voice-challenge gate over HTTP with chi.
//
// Every /v1 route requires an authenticated user (see Options.Auth); the
// user id always comes from the auth middleware, never from the request body.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	voiceGate "github.com/MrEthical07/voiceGate"
	"github.com/MrEthical07/voiceGate/ledger/sqlledger"
	"github.com/MrEthical07/voiceGate/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

const (
	defaultMaxUploadBytes = 10 << 20
	multipartMemory       = 1 << 20
	maxJSONBodyBytes      = 64 << 10
)

// Gate is the subset of *voiceGate.Engine served by the router.
type Gate interface {
	OpenTransaction(ctx context.Context, req voiceGate.OpenRequest) (*voiceGate.PendingTransaction, error)
	GetTransaction(ctx context.Context, userID, transactionID string) (*voiceGate.PendingTransaction, error)
	CompleteTransaction(ctx context.Context, userID, transactionID string) (*voiceGate.CommitResult, error)
	BeginChallenge(ctx context.Context, userID, transactionID string) (*voiceGate.ChallengeResult, error)
	SubmitResponse(ctx context.Context, req voiceGate.SubmitRequest) (*voiceGate.SubmitResult, error)
}

// HistoryLister is satisfied by *sqlledger.Store.
type HistoryLister interface {
	History(ctx context.Context, userID string, limit int) ([]sqlledger.Entry, error)
}

// Options configures NewRouter.
type Options struct {
	Gate    Gate
	History HistoryLister
	// Auth authenticates /v1 routes and must inject the user with
	// middleware.WithUserID. Usually middleware.RequireUser.
	Auth func(http.Handler) http.Handler
	// Metrics, when set, is served unauthenticated at GET /metrics.
	Metrics http.Handler
	// Ready, when set, backs GET /readyz.
	Ready func(ctx context.Context) error
	// MaxUploadBytes caps the multipart body of /v1/voice/verify.
	MaxUploadBytes int64
	Logger         *slog.Logger
}

type server struct {
	gate      Gate
	history   HistoryLister
	maxUpload int64
	logger    *slog.Logger
}

// NewRouter builds the HTTP handler for the gate.
func NewRouter(opts Options) (http.Handler, error) {
	if opts.Gate == nil {
		return nil, errors.New("httpapi: gate is required")
	}
	if opts.Auth == nil {
		return nil, errors.New("httpapi: auth middleware is required")
	}

	s := &server{
		gate:      opts.Gate,
		history:   opts.History,
		maxUpload: opts.MaxUploadBytes,
		logger:    opts.Logger,
	}
	if s.maxUpload <= 0 {
		s.maxUpload = defaultMaxUploadBytes
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestContext)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := opts.Ready(ctx); err != nil {
				s.logger.Warn("readiness check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/v1", func(api chi.Router) {
		api.Use(opts.Auth)

		for _, kind := range []voiceGate.TransactionKind{voiceGate.KindTransfer, voiceGate.KindDeposit, voiceGate.KindWithdraw} {
			api.Post("/transactions/"+kind.String(), s.openTransaction(kind))
		}
		api.Get("/transactions/{id}", s.getTransaction)
		api.Post("/transactions/{id}/complete", s.completeTransaction)

		api.Post("/voice/challenge", s.beginChallenge)
		api.Post("/voice/verify", s.verifyResponse)

		api.Get("/accounts/{id}/transactions", s.listHistory)
	})

	return r, nil
}
