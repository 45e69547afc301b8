package voiceGate

import (
	"fmt"
	"strings"
	"time"
)

// LintSeverity orders lint findings. Higher is worse.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// LintWarning is one configuration smell. Unlike Validate failures, lint
// findings never stop Build.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the ordered list of findings from [Config.Lint].
type LintResult []LintWarning

func (r LintResult) Codes() []string {
	out := make([]string, 0, len(r))
	for _, w := range r {
		out = append(out, w.Code)
	}
	return out
}

// BySeverity returns findings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError folds findings at or above min into one error, or returns nil.
func (r LintResult) AsError(min LintSeverity) error {
	hits := r.BySeverity(min)
	if len(hits) == 0 {
		return nil
	}
	parts := make([]string, 0, len(hits))
	for _, w := range hits {
		parts = append(parts, fmt.Sprintf("[%s] %s: %s", w.Severity, w.Code, w.Message))
	}
	return fmt.Errorf("config lint: %s", strings.Join(parts, "; "))
}

// Lint reports settings that are valid but risky.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if !c.Throttle.EnableChallengeThrottle {
		add("challenge_throttle_disabled", LintHigh,
			"without a challenge throttle a user can open transactions in a loop and guess past the attempt ceiling")
	}
	if c.Throttle.EnableChallengeThrottle && c.Throttle.MaxChallenges > 10*MaxVerificationAttempts {
		add("challenge_throttle_loose", LintWarn,
			fmt.Sprintf("MaxChallenges %d allows many ceilings worth of guesses per window", c.Throttle.MaxChallenges))
	}

	switch p := c.Evaluation.Fusion.(type) {
	case StrictConjunction:
		if p.ContentThreshold > 0 && p.ContentThreshold < 0.5 {
			add("content_threshold_low", LintWarn, "a content threshold below 0.5 accepts loosely related transcripts")
		}
	case WeightedScore:
		if p.MinCombined <= 0 {
			add("weighted_floor_zero", LintHigh, "WeightedScore MinCombined <= 0 reduces approval to the factor floors")
		}
	}

	if c.Evaluation.VoiceTimeout > 30*time.Second || c.Evaluation.TranscribeTimeout > 30*time.Second {
		add("collaborator_timeout_long", LintWarn, "collaborator timeouts above 30s hold request goroutines and spooled audio")
	}
	if c.Evaluation.MaxAudioBytes > 50<<20 {
		add("audio_limit_large", LintWarn, "MaxAudioBytes above 50 MiB lets a single submission fill the spool directory")
	}

	if c.Pending.TTL > 24*time.Hour {
		add("pending_ttl_long", LintWarn, "pending transactions older than a day are unlikely to be completed")
	}
	if c.Pending.ClosedRetention < c.Pending.TTL {
		add("closed_retention_short", LintInfo, "closed transactions expire before awaiting ones; late completion calls will see not found")
	}

	if c.Finalize.AutoCommit {
		add("auto_commit", LintInfo, "approved transactions are applied without a separate completion call")
	}

	if c.Challenge.AllowStateless {
		add("stateless_verify_enabled", LintInfo, "stateless verification has no attempt ceiling; rely on the challenge throttle")
	}

	if !c.Audit.Enabled {
		add("audit_disabled", LintWarn, "verification attempts are not audited")
	}
	if c.Audit.Enabled && c.Audit.DropIfFull {
		add("audit_drop_if_full", LintInfo, "audit events are dropped under backpressure")
	}

	return ws
}
