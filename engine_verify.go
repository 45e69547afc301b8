package voiceGate

import (
	"context"

	internalflows "github.com/MrEthical07/voiceGate/internal/flows"
)

// SubmitResponse evaluates one spoken answer against the challenge bound to
// req.TransactionID and advances the transaction's verification state.
//
// Outcomes:
//   - OutcomeApproved: both factors matched; the transaction is approved.
//   - OutcomeRetry: the answer failed and attempts remain; NextChallenge is
//     already bound for the next submission. It is nil when no follow-up
//     field could be selected, and the previous binding stays in force.
//   - OutcomeDenied: the attempt ceiling was reached; the transaction is
//     denied for good.
//   - OutcomeClosed: the transaction was already approved or denied; nothing
//     was evaluated or counted.
//
// Missing audio, a missing or mismatched challenge field, and a user without
// a voice profile are returned as errors and consume no attempt. Failures of
// the voice or transcription service are not errors: the attempt counts and
// Verdict.Degraded names the failed service.
//
// With an empty TransactionID (and Challenge.AllowStateless) the answer to
// req.Field is evaluated without touching any transaction.
func (e *Engine) SubmitResponse(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if req.TransactionID == "" && !e.config.Challenge.AllowStateless {
		return nil, ErrInvalidRequest
	}

	out, err := internalflows.RunSubmitResponse(ctx, internalflows.SubmitInput{
		UserID:        req.UserID,
		TransactionID: req.TransactionID,
		Field:         req.Field,
		Audio:         req.Audio,
		Filename:      req.Filename,
	}, e.flows.Submit)
	if err != nil && out.Outcome == "" {
		return nil, err
	}

	result := fromFlowSubmitOutput(out)
	// Auto-commit failures keep the approval visible next to the error.
	return result, err
}

// Evaluate scores audio against expected for userID without any transaction
// or attempt bookkeeping. It is the raw evaluator behind SubmitResponse.
func (e *Engine) Evaluate(ctx context.Context, userID, expected string, clip AudioClip) Verdict {
	if e == nil {
		return Verdict{}
	}
	v := internalflows.RunEvaluate(ctx, userID, expected, evaluateClip{clip}, e.flows.Evaluate)
	return fromFlowVerdict(v)
}

type evaluateClip struct {
	AudioClip
}

func (evaluateClip) Remove() error { return nil }

func (e *Engine) submitFlowDeps() internalflows.SubmitDeps {
	deps := internalflows.SubmitDeps{
		Ceiling:         MaxVerificationAttempts,
		ClosedRetention: e.config.Pending.ClosedRetention,
		AutoCommit:      e.config.Finalize.AutoCommit,
		LoadPending:     e.loadPending,
		RecordAttempt:   e.pending.RecordAttempt,
		BindChallenge:   e.pending.BindChallenge,
		Transition:      e.transitionPending,
		LoadProfile:     e.loadProfile,
		SelectChallenge: e.selectChallenge,
		KnownField:      knownField,
		SpoolAudio:      e.spoolAudio,
		Evaluate: func(ctx context.Context, userID, expected string, clip internalflows.Clip) internalflows.Verdict {
			return internalflows.RunEvaluate(ctx, userID, expected, clip, e.flows.Evaluate)
		},
		Commit: func(ctx context.Context, userID, transactionID string) (internalflows.Receipt, error) {
			return internalflows.RunComplete(ctx, userID, transactionID, e.flows.Transaction)
		},
		MapStoreError: mapStoreError,
		LogAttempt:    e.logAttempt,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Metrics: internalflows.SubmitMetrics{
			VerifyAttempt:   int(MetricVerifyAttempt),
			VerifyApproved:  int(MetricVerifyApproved),
			VerifyRetry:     int(MetricVerifyRetry),
			VerifyDenied:    int(MetricVerifyDenied),
			VerifyClosed:    int(MetricVerifyClosed),
			VerifyRejected:  int(MetricVerifyRejected),
			VoiceMismatch:   int(MetricVoiceMismatch),
			ContentMismatch: int(MetricContentMismatch),
			ServiceDegraded: int(MetricServiceDegraded),
			ChallengeIssued: int(MetricChallengeIssued),
		},
		Events: internalflows.SubmitEvents{
			VerifyAttempt:  auditEventVerifyAttempt,
			VerifyApproved: auditEventVerifyApproved,
			VerifyDenied:   auditEventVerifyDenied,
			VerifyRejected: auditEventVerifyRejected,
		},
		Errors: internalflows.SubmitErrors{
			EngineNotReady:       ErrEngineNotReady,
			InvalidRequest:       ErrInvalidRequest,
			AudioRequired:        ErrAudioRequired,
			MissingChallenge:     ErrMissingChallenge,
			ChallengeMismatch:    ErrChallengeMismatch,
			TransactionNotFound:  ErrTransactionNotFound,
			TransactionClosed:    ErrTransactionClosed,
			AttemptsExhausted:    ErrAttemptsExhausted,
			StatusConflict:       errStatusConflict,
			NoVoiceProfile:       ErrNoVoiceProfile,
			NoChallengeAvailable: ErrNoChallengeAvailable,
		},
	}
	return deps
}

func fromFlowSubmitOutput(out internalflows.SubmitOutput) *SubmitResult {
	result := &SubmitResult{
		Outcome:       Outcome(out.Outcome),
		Approved:      out.Approved,
		Terminal:      out.Terminal,
		AttemptNumber: out.AttemptNumber,
		AttemptsLeft:  out.AttemptsLeft,
		Field:         out.Field,
		Status:        VerificationStatus(out.Status),
	}
	if out.NextChallenge != nil {
		result.NextChallenge = &Challenge{Field: out.NextChallenge.Key, Prompt: out.NextChallenge.Prompt}
	}
	if out.Verdict != nil {
		v := fromFlowVerdict(*out.Verdict)
		result.Verdict = &v
	}
	if out.Receipt != nil {
		result.Commit = fromFlowReceipt(*out.Receipt)
	}
	return result
}

func fromFlowVerdict(v internalflows.Verdict) Verdict {
	out := Verdict{
		Approved:   v.Approved,
		Voice:      MatchResult{Matched: v.Voice.Matched, Score: v.Voice.Score},
		Content:    MatchResult{Matched: v.ContentMatched, Score: v.ContentScore},
		Transcript: v.Transcript,
		Elapsed:    v.Elapsed,
	}
	if len(v.Degraded) > 0 {
		out.Degraded = append([]string(nil), v.Degraded...)
	}
	return out
}

// IsDegraded reports whether v was produced with at least one collaborator
// unavailable.
func (v Verdict) IsDegraded() bool {
	return len(v.Degraded) > 0
}
