package flows

import (
	"context"
	"errors"
	"time"
)

type ChallengeMetrics struct {
	ChallengeIssued      int
	ChallengeRateLimited int
	ChallengeUnavailable int
}

type ChallengeEvents struct {
	ChallengeIssue string
}

type ChallengeErrors struct {
	EngineNotReady       error
	InvalidRequest       error
	TransactionNotFound  error
	TransactionClosed    error
	ChallengeRateLimited error
	NoVoiceProfile       error
	NoChallengeAvailable error
}

type ChallengeDeps struct {
	Ceiling int
	Now     func() time.Time

	LoadPending     func(context.Context, string) (Pending, error)
	BindChallenge   func(context.Context, string, string, time.Time) error
	LoadProfile     func(context.Context, string) (Profile, error)
	SelectChallenge func(map[string]string) (ChallengeField, error)
	CheckThrottle   func(context.Context, string) error

	MapStoreError   func(error) error
	MapLimiterError func(error) error

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics ChallengeMetrics
	Events  ChallengeEvents
	Errors  ChallengeErrors
}

type ChallengeOutput struct {
	TransactionID string
	Field         string
	Prompt        string
	Bound         bool
	AttemptsLeft  int
}

// RunBeginChallenge picks a challenge from the user's answered fields and,
// when transactionID is set, binds it onto that pending transaction. An
// empty transactionID is a preview: nothing is persisted.
func RunBeginChallenge(ctx context.Context, userID, transactionID string, deps ChallengeDeps) (ChallengeOutput, error) {
	normalizeChallengeDeps(&deps)

	if deps.LoadProfile == nil || deps.SelectChallenge == nil {
		return ChallengeOutput{}, deps.Errors.EngineNotReady
	}
	if transactionID != "" && (deps.LoadPending == nil || deps.BindChallenge == nil) {
		return ChallengeOutput{}, deps.Errors.EngineNotReady
	}

	fail := func(err error, reason string) (ChallengeOutput, error) {
		deps.EmitAudit(ctx, deps.Events.ChallengeIssue, false, userID, transactionID, err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return ChallengeOutput{}, err
	}

	if userID == "" {
		return fail(deps.Errors.InvalidRequest, "empty_user")
	}

	left := deps.Ceiling
	if transactionID != "" {
		pending, err := deps.LoadPending(ctx, transactionID)
		if err != nil {
			return fail(deps.MapStoreError(err), "load_pending")
		}
		if !ownedBy(pending, userID) {
			return fail(deps.Errors.TransactionNotFound, "owner_mismatch")
		}
		if pending.Status != StatusAwaiting {
			return fail(deps.Errors.TransactionClosed, StatusName(pending.Status))
		}
		left = attemptsLeft(deps.Ceiling, pending.Attempts)
	}

	if deps.CheckThrottle != nil {
		if err := deps.CheckThrottle(ctx, userID); err != nil {
			mapped := deps.MapLimiterError(err)
			if errors.Is(mapped, deps.Errors.ChallengeRateLimited) {
				deps.MetricInc(deps.Metrics.ChallengeRateLimited)
			}
			return fail(mapped, "throttle")
		}
	}

	profile, err := deps.LoadProfile(ctx, userID)
	if err != nil {
		return fail(err, "load_profile")
	}
	if !profile.VoiceRegistered {
		deps.MetricInc(deps.Metrics.ChallengeUnavailable)
		return fail(deps.Errors.NoVoiceProfile, "no_voice_profile")
	}

	field, err := deps.SelectChallenge(profile.Answers)
	if err != nil {
		if errors.Is(err, deps.Errors.NoChallengeAvailable) {
			deps.MetricInc(deps.Metrics.ChallengeUnavailable)
		}
		return fail(err, "select")
	}

	out := ChallengeOutput{
		TransactionID: transactionID,
		Field:         field.Key,
		Prompt:        field.Prompt,
		AttemptsLeft:  left,
	}
	if transactionID != "" {
		if err := deps.BindChallenge(ctx, transactionID, field.Key, deps.Now()); err != nil {
			return fail(deps.MapStoreError(err), "bind")
		}
		out.Bound = true
	}

	deps.MetricInc(deps.Metrics.ChallengeIssued)
	deps.EmitAudit(ctx, deps.Events.ChallengeIssue, true, userID, transactionID, nil, func() map[string]string {
		return map[string]string{"field": field.Key}
	})
	return out, nil
}

func normalizeChallengeDeps(deps *ChallengeDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.MapStoreError == nil {
		deps.MapStoreError = func(err error) error { return err }
	}
	if deps.MapLimiterError == nil {
		deps.MapLimiterError = func(error) error { return deps.Errors.ChallengeRateLimited }
	}
}
