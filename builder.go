package voiceGate

import (
	"errors"
	"log/slog"

	"github.com/MrEthical07/voiceGate/internal/artifact"
	internalaudit "github.com/MrEthical07/voiceGate/internal/audit"
	"github.com/MrEthical07/voiceGate/internal/challenge"
	"github.com/MrEthical07/voiceGate/internal/rate"
	"github.com/MrEthical07/voiceGate/internal/stores"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A Builder is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	profiles    ProfileProvider
	ledger      Ledger
	voice       VoiceMatcher
	transcriber Transcriber
	auditSink   AuditSink
	logger      *slog.Logger
	randSource  func(n int) (int, error)

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing pending transactions and throttles.
// Any go-redis client works, including cluster and ring clients.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithProfileProvider describes the withprofileprovider operation and its observable behavior.
//
// WithProfileProvider does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithProfileProvider(p ProfileProvider) *Builder {
	b.profiles = p
	return b
}

// WithLedger sets the balance store that validates and applies transactions.
func (b *Builder) WithLedger(l Ledger) *Builder {
	b.ledger = l
	return b
}

func (b *Builder) WithVoiceMatcher(m VoiceMatcher) *Builder {
	b.voice = m
	return b
}

func (b *Builder) WithTranscriber(t Transcriber) *Builder {
	b.transcriber = t
	return b
}

// WithAuditSink sets the destination of audit events. Events are only
// dispatched when Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger for per-attempt records. The
// default discards everything.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithChallengeSource overrides the random source used to pick challenge
// fields. intn must return a value in [0, n). Intended for tests.
func (b *Builder) WithChallengeSource(intn func(n int) (int, error)) *Builder {
	b.randSource = intn
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and collaborators and returns a ready
// Engine. Close the Engine to flush pending audit events.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if cfg.Evaluation.Fusion == nil {
		cfg.Evaluation.Fusion = StrictConjunction{ContentThreshold: DefaultContentThreshold}
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.profiles == nil {
		return nil, errors.New("profile provider required")
	}
	if b.ledger == nil {
		return nil, errors.New("ledger required")
	}
	if b.voice == nil {
		return nil, errors.New("voice matcher required")
	}
	if b.transcriber == nil {
		return nil, errors.New("transcriber required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	selector := challenge.NewSelector()
	if b.randSource != nil {
		selector = challenge.NewSelectorWithSource(b.randSource)
	}

	engine := &Engine{
		config:      cfg,
		pending:     stores.NewPendingStore(b.redis, cfg.Pending.RedisPrefix),
		spool:       artifact.NewSpool(cfg.Evaluation.SpoolDir, cfg.Evaluation.MaxAudioBytes),
		selector:    selector,
		profiles:    b.profiles,
		ledger:      b.ledger,
		voice:       b.voice,
		transcriber: b.transcriber,
		logger:      logger,
	}
	engine.throttle = rate.New(b.redis, rate.Config{
		EnableChallengeThrottle: cfg.Throttle.EnableChallengeThrottle,
		MaxChallenges:           cfg.Throttle.MaxChallenges,
		ChallengeWindow:         cfg.Throttle.ChallengeWindow,
		EnableOpenThrottle:      cfg.Throttle.EnableOpenThrottle,
		MaxOpens:                cfg.Throttle.MaxOpens,
		OpenWindow:              cfg.Throttle.OpenWindow,
	})
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Retained:   terminalAuditEvents,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.initFlowDeps()

	b.built = true
	return engine, nil
}
