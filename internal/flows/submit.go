package flows

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"
)

type SubmitMetrics struct {
	VerifyAttempt   int
	VerifyApproved  int
	VerifyRetry     int
	VerifyDenied    int
	VerifyClosed    int
	VerifyRejected  int
	VoiceMismatch   int
	ContentMismatch int
	ServiceDegraded int
	ChallengeIssued int
}

type SubmitEvents struct {
	VerifyAttempt  string
	VerifyApproved string
	VerifyDenied   string
	VerifyRejected string
}

type SubmitErrors struct {
	EngineNotReady       error
	InvalidRequest       error
	AudioRequired        error
	MissingChallenge     error
	ChallengeMismatch    error
	TransactionNotFound  error
	TransactionClosed    error
	AttemptsExhausted    error
	StatusConflict       error
	NoVoiceProfile       error
	NoChallengeAvailable error
}

type SubmitDeps struct {
	Ceiling         int
	ClosedRetention time.Duration
	AutoCommit      bool
	Now             func() time.Time

	LoadPending     func(context.Context, string) (Pending, error)
	RecordAttempt   func(context.Context, string, int, time.Time) (int, error)
	BindChallenge   func(context.Context, string, string, time.Time) error
	Transition      func(context.Context, string, uint8, uint8, time.Time, time.Duration) (Pending, error)
	LoadProfile     func(context.Context, string) (Profile, error)
	SelectChallenge func(map[string]string) (ChallengeField, error)
	KnownField      func(string) bool
	SpoolAudio      func(io.Reader, string) (Clip, error)
	Evaluate        func(context.Context, string, string, Clip) Verdict
	Commit          func(context.Context, string, string) (Receipt, error)

	MapStoreError func(error) error
	LogAttempt    func(context.Context, AttemptLog)

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics SubmitMetrics
	Events  SubmitEvents
	Errors  SubmitErrors
}

type SubmitInput struct {
	UserID        string
	TransactionID string
	Field         string
	Audio         io.Reader
	Filename      string
}

type SubmitOutput struct {
	Outcome       string
	Approved      bool
	Terminal      bool
	AttemptNumber int
	AttemptsLeft  int
	Field         string
	Status        uint8
	NextChallenge *ChallengeField
	Verdict       *Verdict
	Receipt       *Receipt

	// NextChallengeErr is set on a retry when no follow-up field could be
	// selected for the caller.
	NextChallengeErr error
}

// RunSubmitResponse evaluates one spoken answer. With a transaction id it
// drives the attempt ledger and the awaiting/approved/denied state machine;
// without one it only reports the verdict.
//
// Submissions without audio or a bound challenge, and users without a voice
// profile, are rejected before an attempt is counted. Once an attempt is
// counted, collaborator failures degrade the verdict instead of failing the
// call. A submission against a closed transaction reports OutcomeClosed and
// a nil error.
func RunSubmitResponse(ctx context.Context, in SubmitInput, deps SubmitDeps) (SubmitOutput, error) {
	normalizeSubmitDeps(&deps)

	if deps.LoadProfile == nil || deps.SpoolAudio == nil || deps.Evaluate == nil || deps.SelectChallenge == nil {
		return SubmitOutput{}, deps.Errors.EngineNotReady
	}
	if in.TransactionID != "" && (deps.LoadPending == nil || deps.RecordAttempt == nil || deps.Transition == nil || deps.BindChallenge == nil) {
		return SubmitOutput{}, deps.Errors.EngineNotReady
	}

	reject := func(err error, reason string) (SubmitOutput, error) {
		deps.MetricInc(deps.Metrics.VerifyRejected)
		deps.EmitAudit(ctx, deps.Events.VerifyRejected, false, in.UserID, in.TransactionID, err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return SubmitOutput{}, err
	}

	if in.UserID == "" {
		return reject(deps.Errors.InvalidRequest, "empty_user")
	}
	if in.Audio == nil {
		return reject(deps.Errors.AudioRequired, "audio_missing")
	}

	if in.TransactionID == "" {
		return runStatelessSubmit(ctx, in, deps, reject)
	}

	pending, err := deps.LoadPending(ctx, in.TransactionID)
	if err != nil {
		return reject(deps.MapStoreError(err), "load_pending")
	}
	if !ownedBy(pending, in.UserID) {
		return reject(deps.Errors.TransactionNotFound, "owner_mismatch")
	}
	if pending.Status != StatusAwaiting {
		return closedOutput(ctx, in, pending, deps), nil
	}

	field := pending.BoundField
	if field == "" {
		return reject(deps.Errors.MissingChallenge, "no_bound_field")
	}
	if in.Field != "" && in.Field != field {
		return reject(deps.Errors.ChallengeMismatch, "field_mismatch")
	}

	if pending.Attempts >= deps.Ceiling {
		return denyWithoutEvaluation(ctx, in, pending, deps)
	}

	profile, expected, err := loadExpected(ctx, in.UserID, field, deps)
	if err != nil {
		return reject(err, "profile")
	}

	clip, err := deps.SpoolAudio(in.Audio, in.Filename)
	if err != nil {
		return reject(err, "spool")
	}
	defer func() { _ = clip.Remove() }()

	attempt, err := deps.RecordAttempt(ctx, in.TransactionID, deps.Ceiling, deps.Now())
	if err != nil {
		mapped := deps.MapStoreError(err)
		switch {
		case errors.Is(mapped, deps.Errors.AttemptsExhausted):
			return denyWithoutEvaluation(ctx, in, reload(ctx, in.TransactionID, pending, deps), deps)
		case errors.Is(mapped, deps.Errors.TransactionClosed):
			return closedOutput(ctx, in, reload(ctx, in.TransactionID, pending, deps), deps), nil
		}
		return reject(mapped, "record_attempt")
	}
	deps.MetricInc(deps.Metrics.VerifyAttempt)

	verdict := deps.Evaluate(ctx, in.UserID, expected, clip)
	countVerdict(verdict, deps)

	left := attemptsLeft(deps.Ceiling, attempt)
	out := SubmitOutput{
		AttemptNumber: attempt,
		AttemptsLeft:  left,
		Field:         field,
		Verdict:       &verdict,
	}

	switch {
	case verdict.Approved:
		current, err := deps.Transition(ctx, in.TransactionID, StatusAwaiting, StatusApproved, deps.Now(), deps.ClosedRetention)
		if err != nil {
			if errors.Is(deps.MapStoreError(err), deps.Errors.StatusConflict) {
				return closedOutput(ctx, in, current, deps), nil
			}
			return reject(deps.MapStoreError(err), "transition_approved")
		}
		out.Outcome = OutcomeApproved
		out.Approved = true
		out.Terminal = true
		out.Status = StatusApproved
		deps.MetricInc(deps.Metrics.VerifyApproved)

	case left == 0:
		current, err := deps.Transition(ctx, in.TransactionID, StatusAwaiting, StatusDenied, deps.Now(), deps.ClosedRetention)
		if err != nil {
			if errors.Is(deps.MapStoreError(err), deps.Errors.StatusConflict) {
				return closedOutput(ctx, in, current, deps), nil
			}
			return reject(deps.MapStoreError(err), "transition_denied")
		}
		out.Outcome = OutcomeDenied
		out.Terminal = true
		out.Status = StatusDenied
		deps.MetricInc(deps.Metrics.VerifyDenied)

	default:
		out.Outcome = OutcomeRetry
		out.Status = StatusAwaiting
		next, err := deps.SelectChallenge(profile.Answers)
		if err != nil {
			out.NextChallengeErr = err
		} else {
			if bindErr := deps.BindChallenge(ctx, in.TransactionID, next.Key, deps.Now()); bindErr != nil {
				if errors.Is(deps.MapStoreError(bindErr), deps.Errors.TransactionClosed) {
					return closedOutput(ctx, in, reload(ctx, in.TransactionID, pending, deps), deps), nil
				}
				return reject(deps.MapStoreError(bindErr), "bind_next")
			}
			out.NextChallenge = &next
			deps.MetricInc(deps.Metrics.ChallengeIssued)
		}
		deps.MetricInc(deps.Metrics.VerifyRetry)
	}

	logAttempt(ctx, in, out, deps)
	emitOutcome(ctx, in, out, deps)

	if out.Approved && deps.AutoCommit && deps.Commit != nil {
		receipt, err := deps.Commit(ctx, in.UserID, in.TransactionID)
		if err != nil {
			return out, err
		}
		out.Receipt = &receipt
	}

	return out, nil
}

func runStatelessSubmit(
	ctx context.Context,
	in SubmitInput,
	deps SubmitDeps,
	reject func(error, string) (SubmitOutput, error),
) (SubmitOutput, error) {
	if in.Field == "" || !deps.KnownField(in.Field) {
		return reject(deps.Errors.MissingChallenge, "no_field")
	}

	profile, expected, err := loadExpected(ctx, in.UserID, in.Field, deps)
	if err != nil {
		return reject(err, "profile")
	}

	clip, err := deps.SpoolAudio(in.Audio, in.Filename)
	if err != nil {
		return reject(err, "spool")
	}
	defer func() { _ = clip.Remove() }()

	deps.MetricInc(deps.Metrics.VerifyAttempt)
	verdict := deps.Evaluate(ctx, in.UserID, expected, clip)
	countVerdict(verdict, deps)

	out := SubmitOutput{
		AttemptsLeft: deps.Ceiling,
		Field:        in.Field,
		Verdict:      &verdict,
	}
	if verdict.Approved {
		out.Outcome = OutcomeApproved
		out.Approved = true
		deps.MetricInc(deps.Metrics.VerifyApproved)
	} else {
		out.Outcome = OutcomeRetry
		if next, err := deps.SelectChallenge(profile.Answers); err == nil {
			out.NextChallenge = &next
		} else {
			out.NextChallengeErr = err
		}
		deps.MetricInc(deps.Metrics.VerifyRetry)
	}

	logAttempt(ctx, in, out, deps)
	emitOutcome(ctx, in, out, deps)
	return out, nil
}

func loadExpected(ctx context.Context, userID, field string, deps SubmitDeps) (Profile, string, error) {
	profile, err := deps.LoadProfile(ctx, userID)
	if err != nil {
		return Profile{}, "", err
	}
	if !profile.VoiceRegistered {
		return Profile{}, "", deps.Errors.NoVoiceProfile
	}
	expected := strings.TrimSpace(profile.Answers[field])
	if expected == "" {
		return Profile{}, "", deps.Errors.NoChallengeAvailable
	}
	return profile, expected, nil
}

// denyWithoutEvaluation closes a transaction whose counter already sits at
// the ceiling. The audio is never scored and the counter is not touched.
func denyWithoutEvaluation(ctx context.Context, in SubmitInput, pending Pending, deps SubmitDeps) (SubmitOutput, error) {
	current, err := deps.Transition(ctx, in.TransactionID, StatusAwaiting, StatusDenied, deps.Now(), deps.ClosedRetention)
	if err != nil {
		if errors.Is(deps.MapStoreError(err), deps.Errors.StatusConflict) {
			return closedOutput(ctx, in, current, deps), nil
		}
		return SubmitOutput{}, deps.MapStoreError(err)
	}
	pending.Status = StatusDenied
	pending.BoundField = ""
	return deniedOutput(ctx, in, pending, deps, nil), nil
}

func deniedOutput(ctx context.Context, in SubmitInput, pending Pending, deps SubmitDeps, verdict *Verdict) SubmitOutput {
	out := SubmitOutput{
		Outcome:       OutcomeDenied,
		Terminal:      true,
		AttemptNumber: pending.Attempts,
		AttemptsLeft:  0,
		Status:        StatusDenied,
		Verdict:       verdict,
	}
	deps.MetricInc(deps.Metrics.VerifyDenied)
	logAttempt(ctx, in, out, deps)
	emitOutcome(ctx, in, out, deps)
	return out
}

func closedOutput(ctx context.Context, in SubmitInput, pending Pending, deps SubmitDeps) SubmitOutput {
	out := SubmitOutput{
		Outcome:       OutcomeClosed,
		Approved:      pending.Status == StatusApproved,
		Terminal:      true,
		AttemptNumber: pending.Attempts,
		AttemptsLeft:  attemptsLeft(deps.Ceiling, pending.Attempts),
		Status:        pending.Status,
	}
	deps.MetricInc(deps.Metrics.VerifyClosed)
	deps.EmitAudit(ctx, deps.Events.VerifyRejected, false, in.UserID, in.TransactionID, deps.Errors.TransactionClosed, func() map[string]string {
		return map[string]string{"status": StatusName(pending.Status)}
	})
	return out
}

func reload(ctx context.Context, transactionID string, fallback Pending, deps SubmitDeps) Pending {
	current, err := deps.LoadPending(ctx, transactionID)
	if err != nil {
		return fallback
	}
	return current
}

func countVerdict(v Verdict, deps SubmitDeps) {
	if !v.Voice.Matched {
		deps.MetricInc(deps.Metrics.VoiceMismatch)
	}
	if !v.ContentMatched {
		deps.MetricInc(deps.Metrics.ContentMismatch)
	}
	if len(v.Degraded) > 0 {
		deps.MetricInc(deps.Metrics.ServiceDegraded)
	}
}

func logAttempt(ctx context.Context, in SubmitInput, out SubmitOutput, deps SubmitDeps) {
	entry := AttemptLog{
		UserID:        in.UserID,
		TransactionID: in.TransactionID,
		Field:         out.Field,
		AttemptNumber: out.AttemptNumber,
		AttemptsLeft:  out.AttemptsLeft,
		Outcome:       out.Outcome,
	}
	if out.NextChallengeErr != nil {
		entry.Reason = reasonNextChallengeUnavailable
	}
	if out.Verdict != nil {
		entry.VoiceMatched = out.Verdict.Voice.Matched
		entry.VoiceScore = out.Verdict.Voice.Score
		entry.ContentMatched = out.Verdict.ContentMatched
		entry.ContentScore = out.Verdict.ContentScore
		entry.Degraded = out.Verdict.Degraded
	}
	deps.LogAttempt(ctx, entry)
}

func emitOutcome(ctx context.Context, in SubmitInput, out SubmitOutput, deps SubmitDeps) {
	event := deps.Events.VerifyAttempt
	var err error
	switch out.Outcome {
	case OutcomeApproved:
		event = deps.Events.VerifyApproved
	case OutcomeDenied:
		event = deps.Events.VerifyDenied
		err = deps.Errors.AttemptsExhausted
	}
	if out.NextChallengeErr != nil {
		err = out.NextChallengeErr
	}
	deps.EmitAudit(ctx, event, out.Approved, in.UserID, in.TransactionID, err, func() map[string]string {
		meta := map[string]string{
			"outcome":       out.Outcome,
			"field":         out.Field,
			"attempt":       strconv.Itoa(out.AttemptNumber),
			"attempts_left": strconv.Itoa(out.AttemptsLeft),
		}
		if out.NextChallengeErr != nil {
			meta["reason"] = reasonNextChallengeUnavailable
		}
		if out.Verdict != nil {
			meta["voice_match"] = strconv.FormatBool(out.Verdict.Voice.Matched)
			meta["content_match"] = strconv.FormatBool(out.Verdict.ContentMatched)
			if len(out.Verdict.Degraded) > 0 {
				meta["degraded"] = strings.Join(out.Verdict.Degraded, ",")
			}
		}
		return meta
	})
}

const reasonNextChallengeUnavailable = "next_challenge_unavailable"

func normalizeSubmitDeps(deps *SubmitDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.LogAttempt == nil {
		deps.LogAttempt = func(context.Context, AttemptLog) {}
	}
	if deps.MapStoreError == nil {
		deps.MapStoreError = func(err error) error { return err }
	}
	if deps.KnownField == nil {
		deps.KnownField = func(string) bool { return true }
	}
}
