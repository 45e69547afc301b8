package voiceGate

import (
	"context"

	internalflows "github.com/MrEthical07/voiceGate/internal/flows"
)

// BeginChallenge picks a knowledge question for userID and binds it to the
// pending transaction transactionID, replacing any earlier binding. The
// attempt counter is left untouched.
//
// An empty transactionID returns a stateless preview when
// Challenge.AllowStateless is set; nothing is persisted.
//
// It fails with ErrNoVoiceProfile or ErrNoChallengeAvailable when the user
// cannot be challenged at all, and with ErrTransactionClosed once the
// transaction has been approved or denied.
func (e *Engine) BeginChallenge(ctx context.Context, userID, transactionID string) (*ChallengeResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if transactionID == "" && !e.config.Challenge.AllowStateless {
		return nil, ErrInvalidRequest
	}

	out, err := internalflows.RunBeginChallenge(ctx, userID, transactionID, e.flows.Challenge)
	if err != nil {
		return nil, err
	}
	return &ChallengeResult{
		TransactionID: out.TransactionID,
		Challenge:     Challenge{Field: out.Field, Prompt: out.Prompt},
		AttemptsLeft:  out.AttemptsLeft,
		Bound:         out.Bound,
	}, nil
}

func (e *Engine) challengeFlowDeps() internalflows.ChallengeDeps {
	deps := internalflows.ChallengeDeps{
		Ceiling:         MaxVerificationAttempts,
		LoadPending:     e.loadPending,
		BindChallenge:   e.pending.BindChallenge,
		LoadProfile:     e.loadProfile,
		SelectChallenge: e.selectChallenge,
		MapStoreError:   mapStoreError,
		MapLimiterError: limiterErrorMapper(ErrChallengeRateLimited),
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Metrics: internalflows.ChallengeMetrics{
			ChallengeIssued:      int(MetricChallengeIssued),
			ChallengeRateLimited: int(MetricChallengeRateLimited),
			ChallengeUnavailable: int(MetricChallengeUnavailable),
		},
		Events: internalflows.ChallengeEvents{
			ChallengeIssue: auditEventChallengeIssue,
		},
		Errors: internalflows.ChallengeErrors{
			EngineNotReady:       ErrEngineNotReady,
			InvalidRequest:       ErrInvalidRequest,
			TransactionNotFound:  ErrTransactionNotFound,
			TransactionClosed:    ErrTransactionClosed,
			ChallengeRateLimited: ErrChallengeRateLimited,
			NoVoiceProfile:       ErrNoVoiceProfile,
			NoChallengeAvailable: ErrNoChallengeAvailable,
		},
	}
	if e.throttle != nil {
		deps.CheckThrottle = e.throttle.CheckChallenge
	}
	return deps
}
