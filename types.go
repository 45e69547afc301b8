package voiceGate

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	internalaudit "github.com/MrEthical07/voiceGate/internal/audit"
	"github.com/MrEthical07/voiceGate/internal/challenge"
	internalmetrics "github.com/MrEthical07/voiceGate/internal/metrics"
)

// MaxVerificationAttempts is the hard ceiling of evaluated submissions per
// transaction. It is not configurable.
const MaxVerificationAttempts = 10

// TransactionKind identifies the financial action gated by a transaction.
type TransactionKind uint8

const (
	KindTransfer TransactionKind = iota + 1
	KindDeposit
	KindWithdraw
)

func (k TransactionKind) String() string {
	switch k {
	case KindTransfer:
		return "transfer"
	case KindDeposit:
		return "deposit"
	case KindWithdraw:
		return "withdraw"
	default:
		return "unknown"
	}
}

// ParseTransactionKind maps a wire name to its kind.
func ParseTransactionKind(s string) (TransactionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "transfer":
		return KindTransfer, nil
	case "deposit":
		return KindDeposit, nil
	case "withdraw":
		return KindWithdraw, nil
	default:
		return 0, errors.New("unknown transaction kind")
	}
}

// VerificationStatus is the voice verification state of a pending
// transaction. Approved and denied are terminal.
type VerificationStatus uint8

const (
	StatusAwaiting VerificationStatus = iota + 1
	StatusApproved
	StatusDenied
)

func (s VerificationStatus) String() string {
	switch s {
	case StatusAwaiting:
		return "awaiting-verification"
	case StatusApproved:
		return "approved"
	case StatusDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further attempts are accepted.
func (s VerificationStatus) Terminal() bool {
	return s == StatusApproved || s == StatusDenied
}

// Outcome is the decision reported for one submission.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRetry    Outcome = "retry"
	OutcomeDenied   Outcome = "denied"
	// OutcomeClosed is reported when the transaction was already approved
	// or denied before the submission arrived.
	OutcomeClosed Outcome = "closed"
)

// VerificationState is the verification part of a pending transaction.
type VerificationState struct {
	Status        VerificationStatus
	Attempts      int
	BoundField    string
	LastAttemptAt time.Time
}

// PendingTransaction is a financial action that passed its preconditions
// and waits for voice verification and completion.
type PendingTransaction struct {
	ID           string
	OwnerID      string
	Kind         TransactionKind
	Amount       int64
	Recipient    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Verification VerificationState
	CommittedAt  time.Time
}

// Committed reports whether the finalizer already applied the transaction.
func (p *PendingTransaction) Committed() bool {
	return p != nil && !p.CommittedAt.IsZero()
}

// Challenge is one knowledge question the user must answer aloud.
type Challenge struct {
	Field  string
	Prompt string
}

// ChallengeCatalog returns the fixed set of knowledge questions in canonical order.
func ChallengeCatalog() []Challenge {
	fields := challenge.Catalog()
	out := make([]Challenge, len(fields))
	for i, f := range fields {
		out[i] = Challenge{Field: f.Key, Prompt: f.Prompt}
	}
	return out
}

// MatchResult is the outcome of one verification factor.
type MatchResult struct {
	Matched bool
	Score   float64
}

// Verdict is the diagnostic result of one evaluation. Degraded lists the
// collaborators that failed or timed out; a degraded factor never matches.
type Verdict struct {
	Approved   bool
	Voice      MatchResult
	Content    MatchResult
	Transcript string
	Degraded   []string
	Elapsed    time.Duration
}

// AttemptRecord describes where a submission landed on the attempt ledger.
type AttemptRecord struct {
	AttemptNumber     int
	AttemptsRemaining int
	Terminal          bool
}

// ChallengeResult is returned by [Engine.BeginChallenge]. Bound is false for
// a stateless preview.
type ChallengeResult struct {
	TransactionID string
	Challenge     Challenge
	AttemptsLeft  int
	Bound         bool
}

// SubmitRequest carries one spoken answer. An empty TransactionID requests
// a stateless verification of Field without any ledger.
type SubmitRequest struct {
	UserID        string
	TransactionID string
	Field         string
	Audio         io.Reader
	Filename      string
}

// SubmitResult is returned by [Engine.SubmitResponse].
type SubmitResult struct {
	Outcome       Outcome
	Approved      bool
	Terminal      bool
	AttemptNumber int
	AttemptsLeft  int
	Field         string
	Status        VerificationStatus
	NextChallenge *Challenge
	Verdict       *Verdict
	// Commit is set when Finalize.AutoCommit applied an approved transaction.
	Commit *CommitResult
}

// Attempt returns the ledger view of the result.
func (r *SubmitResult) Attempt() AttemptRecord {
	if r == nil {
		return AttemptRecord{}
	}
	return AttemptRecord{
		AttemptNumber:     r.AttemptNumber,
		AttemptsRemaining: r.AttemptsLeft,
		Terminal:          r.Terminal,
	}
}

// OpenRequest describes a financial action to gate. Amount is in minor
// units. Recipient is an account number and is required for transfers only.
type OpenRequest struct {
	UserID    string
	Kind      TransactionKind
	Amount    int64
	Recipient string
}

// CommitResult is the receipt of an applied transaction. Replayed is set
// when the ledger had already applied it.
type CommitResult struct {
	TransactionID string
	LedgerID      string
	Kind          TransactionKind
	Amount        int64
	Recipient     string
	NewBalance    int64
	CommittedAt   time.Time
	Replayed      bool
}

// UserProfile is the verification view of a user: knowledge answers keyed
// by challenge field and whether a voice sample is registered.
type UserProfile struct {
	UserID          string
	VoiceRegistered bool
	Answers         map[string]string
}

// VoiceMatch is the voice service verdict for one clip.
type VoiceMatch struct {
	Matched bool
	Score   float64
	Message string
}

// AudioClip is a spooled audio sample. Open may be called concurrently; each
// call returns an independent reader.
type AudioClip interface {
	Open() (io.ReadCloser, error)
	Size() int64
	Filename() string
}

// VoiceMatcher compares a clip against the registered voice of userID.
type VoiceMatcher interface {
	Match(ctx context.Context, userID string, audio AudioClip) (VoiceMatch, error)
}

// Transcriber converts a clip to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio AudioClip) (string, error)
}

// ProfileProvider loads knowledge answers and voice registration. Unknown
// users return ErrProfileNotFound.
type ProfileProvider interface {
	GetProfile(ctx context.Context, userID string) (UserProfile, error)
}

// Ledger holds balances and applies committed transactions.
//
// Commit must be idempotent on tx.ID: a second call for the same transaction
// returns the first receipt with Replayed set and changes nothing.
// ResolveRecipient returns the owner of an account number or
// ErrRecipientNotFound.
type Ledger interface {
	Balance(ctx context.Context, userID string) (int64, error)
	ResolveRecipient(ctx context.Context, accountNumber string) (string, error)
	Commit(ctx context.Context, tx PendingTransaction) (CommitResult, error)
}

// AuditEvent is one structured audit record.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the async dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink discards every event.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink forwards events to a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// FanoutSink forwards each event to every sink in order.
type FanoutSink = internalaudit.FanoutSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// MetricID identifies one engine counter.
type MetricID = internalmetrics.MetricID

const (
	MetricChallengeIssued      = MetricID(internalmetrics.MetricChallengeIssued)
	MetricChallengeRateLimited = MetricID(internalmetrics.MetricChallengeRateLimited)
	MetricChallengeUnavailable = MetricID(internalmetrics.MetricChallengeUnavailable)
	MetricVerifyAttempt        = MetricID(internalmetrics.MetricVerifyAttempt)
	MetricVerifyApproved       = MetricID(internalmetrics.MetricVerifyApproved)
	MetricVerifyRetry          = MetricID(internalmetrics.MetricVerifyRetry)
	MetricVerifyDenied         = MetricID(internalmetrics.MetricVerifyDenied)
	MetricVerifyClosed         = MetricID(internalmetrics.MetricVerifyClosed)
	MetricVerifyRejected       = MetricID(internalmetrics.MetricVerifyRejected)
	MetricVoiceMismatch        = MetricID(internalmetrics.MetricVoiceMismatch)
	MetricContentMismatch      = MetricID(internalmetrics.MetricContentMismatch)
	MetricServiceDegraded      = MetricID(internalmetrics.MetricServiceDegraded)
	MetricTransactionOpened    = MetricID(internalmetrics.MetricTransactionOpened)
	MetricTransactionRejected  = MetricID(internalmetrics.MetricTransactionRejected)
	MetricTransactionCommitted = MetricID(internalmetrics.MetricTransactionCommitted)
	MetricCommitReplay         = MetricID(internalmetrics.MetricCommitReplay)
	MetricEvaluateLatency      = MetricID(internalmetrics.MetricEvaluateLatency)

	metricIDCount = internalmetrics.MetricIDCount
)

// Metrics holds atomic counters and the optional evaluation latency histogram.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a [Metrics] instance. When Enabled is false every
// operation is a no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:       cfg.Enabled,
		EnableLatency: cfg.EnableLatencyHistograms,
	})
}
