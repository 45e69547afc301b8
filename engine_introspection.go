package voiceGate

import (
	"context"
	"time"
)

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	RedisAvailable bool
	RedisLatency   time.Duration
}

// Health describes the health operation and its observable behavior.
//
// Health pings the pending store. It never returns an error; an unreachable
// Redis is reported as RedisAvailable=false.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.pending == nil {
		return HealthStatus{}
	}

	latency, err := e.pending.Ping(ctx)
	return HealthStatus{
		RedisAvailable: err == nil,
		RedisLatency:   latency,
	}
}

// SecurityReport summarizes the verification posture of an engine.
type SecurityReport struct {
	FusionPolicy            string
	ContentThreshold        float64
	AttemptCeiling          int
	StatelessAllowed        bool
	AutoCommit              bool
	ChallengeThrottleActive bool
	OpenThrottleActive      bool
	PendingTTL              time.Duration
	VoiceTimeout            time.Duration
	TranscribeTimeout       time.Duration
	MaxAudioBytes           int64
	AuditEnabled            bool
	AuditMayDrop            bool
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	cfg := e.config
	report := SecurityReport{
		AttemptCeiling:          MaxVerificationAttempts,
		StatelessAllowed:        cfg.Challenge.AllowStateless,
		AutoCommit:              cfg.Finalize.AutoCommit,
		ChallengeThrottleActive: cfg.Throttle.EnableChallengeThrottle && cfg.Throttle.MaxChallenges > 0,
		OpenThrottleActive:      cfg.Throttle.EnableOpenThrottle && cfg.Throttle.MaxOpens > 0,
		PendingTTL:              cfg.Pending.TTL,
		VoiceTimeout:            cfg.Evaluation.VoiceTimeout,
		TranscribeTimeout:       cfg.Evaluation.TranscribeTimeout,
		MaxAudioBytes:           cfg.Evaluation.MaxAudioBytes,
		AuditEnabled:            cfg.Audit.Enabled,
		AuditMayDrop:            cfg.Audit.Enabled && cfg.Audit.DropIfFull,
	}

	switch p := cfg.Evaluation.Fusion.(type) {
	case nil:
		report.FusionPolicy = "strict_conjunction"
		report.ContentThreshold = DefaultContentThreshold
	case StrictConjunction:
		report.FusionPolicy = "strict_conjunction"
		report.ContentThreshold = orDefaultThreshold(p.ContentThreshold)
	case WeightedScore:
		report.FusionPolicy = "weighted_score"
		report.ContentThreshold = orDefaultThreshold(p.ContentThreshold)
	default:
		report.FusionPolicy = "custom"
	}
	return report
}

func orDefaultThreshold(v float64) float64 {
	if v <= 0 {
		return DefaultContentThreshold
	}
	return v
}
