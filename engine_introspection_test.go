package voiceGate

import (
	"context"
	"testing"
)

func TestHealthReportsRedisAvailability(t *testing.T) {
	h := newHarness(t, nil)

	if got := h.engine.Health(context.Background()); !got.RedisAvailable {
		t.Fatalf("expected redis available, got %+v", got)
	}

	h.mr.Close()
	if got := h.engine.Health(context.Background()); got.RedisAvailable {
		t.Fatalf("expected redis unavailable after shutdown, got %+v", got)
	}
}

func TestSecurityReport(t *testing.T) {
	h := newHarness(t, nil)
	report := h.engine.SecurityReport()

	if report.FusionPolicy != "strict_conjunction" || report.ContentThreshold != DefaultContentThreshold {
		t.Fatalf("unexpected fusion in report: %+v", report)
	}
	if report.AttemptCeiling != MaxVerificationAttempts {
		t.Fatalf("expected ceiling %d, got %d", MaxVerificationAttempts, report.AttemptCeiling)
	}
	if !report.ChallengeThrottleActive || !report.AuditEnabled || report.AuditMayDrop {
		t.Fatalf("unexpected posture: %+v", report)
	}

	weighted := newHarness(t, func(c *Config) {
		c.Evaluation.Fusion = WeightedScore{ContentThreshold: 0.5, VoiceWeight: 1, ContentWeight: 1, MinCombined: 1.2}
		c.Throttle.EnableChallengeThrottle = false
	}).engine.SecurityReport()
	if weighted.FusionPolicy != "weighted_score" || weighted.ContentThreshold != 0.5 || weighted.ChallengeThrottleActive {
		t.Fatalf("unexpected weighted report: %+v", weighted)
	}
}
