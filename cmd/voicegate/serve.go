package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	voiceGate "github.com/MrEthical07/voiceGate"
	"github.com/MrEthical07/voiceGate/audit/kafkasink"
	"github.com/MrEthical07/voiceGate/internal/settings"
	"github.com/MrEthical07/voiceGate/jwt"
	"github.com/MrEthical07/voiceGate/ledger/sqlledger"
	"github.com/MrEthical07/voiceGate/metrics/export/prometheus"
	"github.com/MrEthical07/voiceGate/middleware"
	"github.com/MrEthical07/voiceGate/transport/httpapi"
	"github.com/MrEthical07/voiceGate/voiceservice"
	"github.com/alicebob/miniredis/v2"
	"github.com/pterm/pterm"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	var dev bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, c.settings, dev)
		},
	}
	cmd.Flags().BoolVar(&dev, "dev", false, "use in-memory redis, trust X-Debug-User and seed demo users")
	return cmd
}

func serve(ctx context.Context, s *settings.Settings, dev bool) error {
	if dev && s.Production() {
		return errors.New("--dev is not allowed in production")
	}
	logger := newLogger(s)

	rdb, closeRedis, err := openRedis(s, dev)
	if err != nil {
		return err
	}
	defer closeRedis()

	store, err := sqlledger.Open(s.DBDriver, s.DBDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	if dev {
		if err := seedDemoUsers(ctx, store); err != nil {
			return err
		}
		pterm.Warning.Println("dev mode: demo users alice (ACC-1001) and bob (ACC-1002) seeded")
	}

	auth, err := buildAuth(s, dev)
	if err != nil {
		return err
	}

	sink, closeSink, err := buildAuditSink(s, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	voice := voiceservice.NewClient(s.VoiceServiceURL)
	voice.HTTPClient.Timeout = max(s.VoiceTimeout, s.TranscribeTimeout) + time.Second

	cfg := engineConfig(s)
	for _, w := range cfg.Lint() {
		logger.Warn("config lint", "code", w.Code, "severity", w.Severity.String(), "message", w.Message)
	}

	engine, err := voiceGate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithProfileProvider(store).
		WithLedger(store).
		WithVoiceMatcher(voice).
		WithTranscriber(voice).
		WithAuditSink(sink).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	report := engine.SecurityReport()
	logger.Info("security posture",
		"fusion", report.FusionPolicy,
		"content_threshold", report.ContentThreshold,
		"attempt_ceiling", report.AttemptCeiling,
		"stateless", report.StatelessAllowed,
		"auto_commit", report.AutoCommit,
		"challenge_throttle", report.ChallengeThrottleActive,
	)

	handler, err := httpapi.NewRouter(httpapi.Options{
		Gate:           engine,
		History:        store,
		Auth:           auth,
		Metrics:        prometheus.NewPrometheusExporter(engine).Handler(),
		MaxUploadBytes: s.MaxAudioBytes,
		Logger:         logger,
		Ready: func(ctx context.Context) error {
			if !engine.Health(ctx).RedisAvailable {
				return errors.New("redis unavailable")
			}
			return store.DB().PingContext(ctx)
		},
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", s.ListenAddr, "dev", dev, "config", s.ConfigPath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func engineConfig(s *settings.Settings) voiceGate.Config {
	cfg := voiceGate.DefaultConfig()
	cfg.Evaluation.VoiceTimeout = s.VoiceTimeout
	cfg.Evaluation.TranscribeTimeout = s.TranscribeTimeout
	cfg.Evaluation.MaxAudioBytes = s.MaxAudioBytes
	cfg.Evaluation.SpoolDir = s.SpoolDir
	cfg.Finalize.AutoCommit = s.AutoCommit
	cfg.Audit.Enabled = true
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func openRedis(s *settings.Settings, dev bool) (redis.UniversalClient, func(), error) {
	if dev {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		return rdb, func() {
			_ = rdb.Close()
			mr.Close()
		}, nil
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{s.RedisAddr},
		Password: s.RedisPassword,
		DB:       s.RedisDB,
	})
	return rdb, func() { _ = rdb.Close() }, nil
}

// buildAuth returns the /v1 authentication middleware. Without a JWT key
// only dev mode may run, trusting X-Debug-User.
func buildAuth(s *settings.Settings, dev bool) (func(http.Handler) http.Handler, error) {
	if !s.AuthEnabled() {
		if !dev {
			return nil, errors.New("jwt_secret or jwt_public_key is required outside --dev")
		}
		return middleware.DevUser, nil
	}

	verifier, err := buildVerifier(s)
	if err != nil {
		return nil, err
	}
	return middleware.RequireUser(verifier), nil
}

func buildVerifier(s *settings.Settings) (*jwt.Verifier, error) {
	cfg := jwt.Config{
		Issuer:     s.JWTIssuer,
		Audience:   s.JWTAudience,
		Leeway:     30 * time.Second,
		RequireIAT: true,
	}
	if s.JWTPublicKey != "" {
		key, err := jwt.LoadKey(s.JWTPublicKey)
		if err != nil {
			return nil, fmt.Errorf("jwt public key: %w", err)
		}
		cfg.SigningMethod = jwt.MethodEd25519
		cfg.Key = key
	} else {
		cfg.SigningMethod = jwt.MethodHS256
		cfg.Key = []byte(s.JWTSecret)
	}

	v, err := jwt.NewVerifier(cfg)
	if err != nil {
		return nil, fmt.Errorf("jwt verifier: %w", err)
	}
	return v, nil
}

func buildAuditSink(s *settings.Settings, logger *slog.Logger) (voiceGate.AuditSink, func(), error) {
	brokers := s.KafkaBrokerList()
	if len(brokers) == 0 {
		return voiceGate.NewJSONWriterSink(os.Stdout), func() {}, nil
	}

	ks, err := kafkasink.New(kafkasink.Options{
		Brokers: brokers,
		Topic:   s.KafkaTopic,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return ks, func() {
		if err := ks.Close(); err != nil {
			logger.Warn("close kafka audit sink", "error", err)
		}
	}, nil
}

func seedDemoUsers(ctx context.Context, store *sqlledger.Store) error {
	users := []sqlledger.User{
		{
			ID:              "alice",
			AccountNumber:   "ACC-1001",
			Balance:         100_000,
			VoiceRegistered: true,
			Answers: map[string]string{
				"nickname":   "Max",
				"petName":    "Rex",
				"birthPlace": "Pune",
			},
		},
		{
			ID:              "bob",
			AccountNumber:   "ACC-1002",
			Balance:         25_000,
			VoiceRegistered: true,
			Answers: map[string]string{
				"nickname":      "Bobby",
				"favoriteColor": "Green",
			},
		},
	}
	for _, u := range users {
		if err := store.PutUser(ctx, u); err != nil {
			return fmt.Errorf("seed %s: %w", u.ID, err)
		}
	}
	return nil
}
