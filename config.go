package voiceGate

import (
	"errors"
	"strings"
	"time"
)

// Config defines a public type used by voiceGate APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Challenge  ChallengeConfig
	Evaluation EvaluationConfig
	Pending    PendingConfig
	Finalize   FinalizeConfig
	Throttle   ThrottleConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

/*
====================================
CHALLENGE CONFIG
====================================
*/

// ChallengeConfig controls challenge issuance.
type ChallengeConfig struct {
	// AllowStateless permits BeginChallenge previews and SubmitResponse
	// calls without a transaction id.
	AllowStateless bool
}

/*
====================================
EVALUATION CONFIG
====================================
*/

// EvaluationConfig bounds one evaluation. A collaborator call that exceeds
// its timeout counts as a failed factor.
type EvaluationConfig struct {
	VoiceTimeout      time.Duration
	TranscribeTimeout time.Duration
	MaxAudioBytes     int64
	// SpoolDir holds transient audio files; empty means os.TempDir.
	SpoolDir string
	// Fusion decides approval from both factors. Nil means
	// StrictConjunction with DefaultContentThreshold.
	Fusion FusionPolicy
}

/*
====================================
PENDING CONFIG
====================================
*/

// PendingConfig controls how pending transactions are kept in Redis. TTL
// expires abandoned transactions; ClosedRetention replaces it once a
// transaction is approved or denied.
type PendingConfig struct {
	RedisPrefix     string
	TTL             time.Duration
	ClosedRetention time.Duration
}

/*
====================================
FINALIZE CONFIG
====================================
*/

// FinalizeConfig controls completion. With AutoCommit an approval applies
// the transaction in the same SubmitResponse call.
type FinalizeConfig struct {
	AutoCommit bool
}

/*
====================================
THROTTLE CONFIG
====================================
*/

// ThrottleConfig bounds how often one user may request challenges and open
// transactions. The challenge throttle keeps a user from sidestepping the
// per-transaction attempt ceiling by opening transactions in a loop.
type ThrottleConfig struct {
	EnableChallengeThrottle bool
	MaxChallenges           int
	ChallengeWindow         time.Duration
	EnableOpenThrottle      bool
	MaxOpens                int
	OpenWindow              time.Duration
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig defines a public type used by voiceGate APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig defines a public type used by voiceGate APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration used by [New].
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Challenge: ChallengeConfig{
			AllowStateless: true,
		},
		Evaluation: EvaluationConfig{
			VoiceTimeout:      5 * time.Second,
			TranscribeTimeout: 10 * time.Second,
			MaxAudioBytes:     10 << 20,
			Fusion:            StrictConjunction{ContentThreshold: DefaultContentThreshold},
		},
		Pending: PendingConfig{
			RedisPrefix:     "vgp",
			TTL:             30 * time.Minute,
			ClosedRetention: 24 * time.Hour,
		},
		Finalize: FinalizeConfig{
			AutoCommit: false,
		},
		Throttle: ThrottleConfig{
			EnableChallengeThrottle: true,
			MaxChallenges:           30,
			ChallengeWindow:         15 * time.Minute,
			EnableOpenThrottle:      false,
			MaxOpens:                20,
			OpenWindow:              15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Evaluation
	if c.Evaluation.VoiceTimeout <= 0 {
		return errors.New("Evaluation VoiceTimeout must be > 0")
	}
	if c.Evaluation.TranscribeTimeout <= 0 {
		return errors.New("Evaluation TranscribeTimeout must be > 0")
	}
	if c.Evaluation.MaxAudioBytes <= 0 {
		return errors.New("Evaluation MaxAudioBytes must be > 0")
	}
	if err := validateFusion(c.Evaluation.Fusion); err != nil {
		return err
	}

	// Pending
	if strings.TrimSpace(c.Pending.RedisPrefix) == "" {
		return errors.New("Pending RedisPrefix must not be empty")
	}
	if strings.ContainsAny(c.Pending.RedisPrefix, " :") {
		return errors.New("Pending RedisPrefix must not contain spaces or ':'")
	}
	if c.Pending.TTL <= 0 {
		return errors.New("Pending TTL must be > 0")
	}
	if c.Pending.ClosedRetention <= 0 {
		return errors.New("Pending ClosedRetention must be > 0")
	}

	// Throttle
	if c.Throttle.EnableChallengeThrottle {
		if c.Throttle.MaxChallenges <= 0 {
			return errors.New("Throttle MaxChallenges must be > 0 when challenge throttle is enabled")
		}
		if c.Throttle.ChallengeWindow <= 0 {
			return errors.New("Throttle ChallengeWindow must be > 0 when challenge throttle is enabled")
		}
	}
	if c.Throttle.EnableOpenThrottle {
		if c.Throttle.MaxOpens <= 0 {
			return errors.New("Throttle MaxOpens must be > 0 when open throttle is enabled")
		}
		if c.Throttle.OpenWindow <= 0 {
			return errors.New("Throttle OpenWindow must be > 0 when open throttle is enabled")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}
