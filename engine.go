package voiceGate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/voiceGate/internal/artifact"
	internalaudit "github.com/MrEthical07/voiceGate/internal/audit"
	"github.com/MrEthical07/voiceGate/internal/challenge"
	internalflows "github.com/MrEthical07/voiceGate/internal/flows"
	"github.com/MrEthical07/voiceGate/internal/rate"
	"github.com/MrEthical07/voiceGate/internal/similarity"
	"github.com/MrEthical07/voiceGate/internal/stores"
)

// Engine runs the voice verification protocol for pending financial
// transactions. It is safe for concurrent use; all per-transaction state
// lives in Redis.
type Engine struct {
	config      Config
	pending     *stores.PendingStore
	throttle    *rate.Limiter
	spool       *artifact.Spool
	selector    *challenge.Selector
	audit       *internalaudit.Dispatcher
	metrics     *Metrics
	profiles    ProfileProvider
	ledger      Ledger
	voice       VoiceMatcher
	transcriber Transcriber
	logger      *slog.Logger

	flows internalflows.Deps
}

// Close flushes and stops the audit dispatcher. It does not close the Redis
// client or any collaborator.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDroppedByEvent returns the number of lost audit events per event type.
func (e *Engine) AuditDroppedByEvent() map[string]uint64 {
	if e == nil || e.audit == nil {
		return map[string]uint64{}
	}
	return e.audit.DroppedByEvent()
}

// MetricsSnapshot returns a point-in-time copy of every counter.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the effective configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) initFlowDeps() {
	e.flows.Evaluate = e.evaluateFlowDeps()
	e.flows.Transaction = e.transactionFlowDeps()
	e.flows.Challenge = e.challengeFlowDeps()
	e.flows.Submit = e.submitFlowDeps()
}

func (e *Engine) evaluateFlowDeps() internalflows.EvaluateDeps {
	fusion := e.config.Evaluation.Fusion
	return internalflows.EvaluateDeps{
		VoiceTimeout:      e.config.Evaluation.VoiceTimeout,
		TranscribeTimeout: e.config.Evaluation.TranscribeTimeout,
		MatchVoice: func(ctx context.Context, userID string, clip internalflows.Clip) (internalflows.VoiceResult, error) {
			m, err := e.voice.Match(ctx, userID, clip)
			if err != nil {
				return internalflows.VoiceResult{}, err
			}
			return internalflows.VoiceResult{Matched: m.Matched, Score: m.Score, Message: m.Message}, nil
		},
		Transcribe: func(ctx context.Context, clip internalflows.Clip) (string, error) {
			return e.transcriber.Transcribe(ctx, clip)
		},
		Similarity: similarity.Jaccard,
		Decide: func(v internalflows.VoiceResult, score float64) (bool, bool) {
			return fusion.Decide(VoiceMatch{Matched: v.Matched, Score: v.Score, Message: v.Message}, score)
		},
		ObserveLatency: func(d time.Duration) {
			e.metrics.Observe(MetricEvaluateLatency, d)
		},
	}
}

// -------- pending store adapters --------

func (e *Engine) loadPending(ctx context.Context, transactionID string) (internalflows.Pending, error) {
	record, err := e.pending.Get(ctx, transactionID)
	if err != nil {
		return internalflows.Pending{}, err
	}
	return toFlowPending(transactionID, record), nil
}

func (e *Engine) createPending(ctx context.Context, p internalflows.Pending, ttl time.Duration) error {
	return e.pending.Create(ctx, p.ID, toPendingRecord(p), ttl)
}

func (e *Engine) transitionPending(
	ctx context.Context,
	transactionID string,
	from, to uint8,
	now time.Time,
	retention time.Duration,
) (internalflows.Pending, error) {
	record, err := e.pending.Transition(ctx, transactionID, stores.PendingStatus(from), stores.PendingStatus(to), now, retention)
	if record == nil {
		return internalflows.Pending{}, err
	}
	return toFlowPending(transactionID, record), err
}

func (e *Engine) loadProfile(ctx context.Context, userID string) (internalflows.Profile, error) {
	profile, err := e.profiles.GetProfile(ctx, userID)
	if err != nil {
		return internalflows.Profile{}, mapProfileError(err)
	}
	return internalflows.Profile{
		UserID:          profile.UserID,
		VoiceRegistered: profile.VoiceRegistered,
		Answers:         profile.Answers,
	}, nil
}

func (e *Engine) selectChallenge(answers map[string]string) (internalflows.ChallengeField, error) {
	field, err := e.selector.Select(answers)
	if err != nil {
		if errors.Is(err, challenge.ErrNoneAvailable) {
			return internalflows.ChallengeField{}, ErrNoChallengeAvailable
		}
		return internalflows.ChallengeField{}, err
	}
	return internalflows.ChallengeField{Key: field.Key, Prompt: field.Prompt}, nil
}

func (e *Engine) spoolAudio(r io.Reader, name string) (internalflows.Clip, error) {
	a, err := e.spool.Write(r, name)
	if err != nil {
		switch {
		case errors.Is(err, artifact.ErrEmpty):
			return nil, ErrAudioRequired
		case errors.Is(err, artifact.ErrTooLarge):
			return nil, ErrAudioTooLarge
		}
		return nil, fmt.Errorf("spool audio: %w", err)
	}
	return a, nil
}

func knownField(key string) bool {
	_, ok := challenge.Lookup(key)
	return ok
}

// logAttempt writes one record per verification attempt. The expected
// answer and transcript are never part of it.
func (e *Engine) logAttempt(ctx context.Context, entry internalflows.AttemptLog) {
	if e.logger == nil {
		return
	}
	attrs := []slog.Attr{
		slog.String("user_id", entry.UserID),
		slog.String("transaction_id", entry.TransactionID),
		slog.String("field", entry.Field),
		slog.Int("attempt", entry.AttemptNumber),
		slog.Int("attempts_left", entry.AttemptsLeft),
		slog.String("outcome", entry.Outcome),
		slog.Bool("voice_match", entry.VoiceMatched),
		slog.Float64("voice_score", entry.VoiceScore),
		slog.Bool("content_match", entry.ContentMatched),
		slog.Float64("content_score", entry.ContentScore),
	}
	if len(entry.Degraded) > 0 {
		attrs = append(attrs, slog.String("degraded", strings.Join(entry.Degraded, ",")))
	}
	if entry.Reason != "" {
		attrs = append(attrs, slog.String("reason", entry.Reason))
	}
	if id := requestIDFromContext(ctx); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}

	level := slog.LevelInfo
	if len(entry.Degraded) > 0 || entry.Reason != "" {
		level = slog.LevelWarn
	}
	e.logger.LogAttrs(ctx, level, "voice verification attempt", attrs...)
}

// -------- error mapping --------

func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, stores.ErrPendingNotFound):
		return ErrTransactionNotFound
	case errors.Is(err, stores.ErrPendingClosed):
		return ErrTransactionClosed
	case errors.Is(err, stores.ErrPendingAttemptsExhausted):
		return ErrAttemptsExhausted
	case errors.Is(err, stores.ErrPendingStatusConflict):
		return errStatusConflict
	case errors.Is(err, stores.ErrPendingNotApproved):
		return ErrVerificationRequired
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func limiterErrorMapper(limited error) func(error) error {
	return func(err error) error {
		switch {
		case err == nil:
			return nil
		case errors.Is(err, rate.ErrRateLimited):
			return limited
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
}

func mapProfileError(err error) error {
	switch {
	case errors.Is(err, ErrProfileNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
}

func mapLedgerError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRecipientNotFound),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInvalidTransaction),
		errors.Is(err, ErrProfileNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, ErrLedgerUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
}

// -------- conversions --------

func toFlowPending(id string, r *stores.PendingRecord) internalflows.Pending {
	return internalflows.Pending{
		ID:            id,
		OwnerID:       r.OwnerID,
		Kind:          r.Kind,
		Amount:        r.Amount,
		Recipient:     r.Recipient,
		Status:        uint8(r.Status),
		Attempts:      int(r.Attempts),
		BoundField:    r.BoundField,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		LastAttemptAt: r.LastAttemptAt,
		CommittedAt:   r.CommittedAt,
	}
}

func toPendingRecord(p internalflows.Pending) *stores.PendingRecord {
	return &stores.PendingRecord{
		Status:        stores.PendingStatus(p.Status),
		Attempts:      uint16(p.Attempts),
		LastAttemptAt: p.LastAttemptAt,
		CommittedAt:   p.CommittedAt,
		Kind:          p.Kind,
		Amount:        p.Amount,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
		OwnerID:       p.OwnerID,
		Recipient:     p.Recipient,
		BoundField:    p.BoundField,
	}
}

func fromFlowPending(p internalflows.Pending) PendingTransaction {
	return PendingTransaction{
		ID:        p.ID,
		OwnerID:   p.OwnerID,
		Kind:      TransactionKind(p.Kind),
		Amount:    p.Amount,
		Recipient: p.Recipient,
		CreatedAt: unixTime(p.CreatedAt),
		UpdatedAt: unixTime(p.UpdatedAt),
		Verification: VerificationState{
			Status:        VerificationStatus(p.Status),
			Attempts:      p.Attempts,
			BoundField:    p.BoundField,
			LastAttemptAt: unixTime(p.LastAttemptAt),
		},
		CommittedAt: unixTime(p.CommittedAt),
	}
}

func toFlowReceipt(r CommitResult) internalflows.Receipt {
	return internalflows.Receipt{
		TransactionID: r.TransactionID,
		LedgerID:      r.LedgerID,
		Kind:          uint8(r.Kind),
		Amount:        r.Amount,
		Recipient:     r.Recipient,
		NewBalance:    r.NewBalance,
		CommittedAt:   timeUnix(r.CommittedAt),
		Replayed:      r.Replayed,
	}
}

func fromFlowReceipt(r internalflows.Receipt) *CommitResult {
	return &CommitResult{
		TransactionID: r.TransactionID,
		LedgerID:      r.LedgerID,
		Kind:          TransactionKind(r.Kind),
		Amount:        r.Amount,
		Recipient:     r.Recipient,
		NewBalance:    r.NewBalance,
		CommittedAt:   unixTime(r.CommittedAt),
		Replayed:      r.Replayed,
	}
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func timeUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
