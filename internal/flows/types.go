package flows

import (
	"io"
	"time"
)

// Status bytes mirror the persisted pending-record status.
const (
	StatusAwaiting uint8 = 1
	StatusApproved uint8 = 2
	StatusDenied   uint8 = 3
)

// Outcome values reported by RunSubmitResponse.
const (
	OutcomeApproved = "approved"
	OutcomeRetry    = "retry"
	OutcomeDenied   = "denied"
	OutcomeClosed   = "closed"
)

// Kind bytes mirror the persisted transaction kind.
const (
	KindTransfer uint8 = 1
	KindDeposit  uint8 = 2
	KindWithdraw uint8 = 3
)

type Pending struct {
	ID            string
	OwnerID       string
	Kind          uint8
	Amount        int64
	Recipient     string
	Status        uint8
	Attempts      int
	BoundField    string
	CreatedAt     int64
	UpdatedAt     int64
	LastAttemptAt int64
	CommittedAt   int64
}

type Profile struct {
	UserID          string
	VoiceRegistered bool
	Answers         map[string]string
}

type ChallengeField struct {
	Key    string
	Prompt string
}

// Clip is a spooled audio sample. Open may be called more than once and
// concurrently; Remove deletes the backing file.
type Clip interface {
	Open() (io.ReadCloser, error)
	Size() int64
	Filename() string
	Remove() error
}

type VoiceResult struct {
	Matched bool
	Score   float64
	Message string
}

type Verdict struct {
	Approved       bool
	Voice          VoiceResult
	ContentMatched bool
	ContentScore   float64
	Transcript     string
	Degraded       []string
	Elapsed        time.Duration
}

type Receipt struct {
	TransactionID string
	LedgerID      string
	Kind          uint8
	Amount        int64
	Recipient     string
	NewBalance    int64
	CommittedAt   int64
	Replayed      bool
}

// AttemptLog is the per-attempt record handed to the structured logger.
// It never carries the expected answer.
type AttemptLog struct {
	UserID         string
	TransactionID  string
	Field          string
	AttemptNumber  int
	AttemptsLeft   int
	Outcome        string
	VoiceMatched   bool
	VoiceScore     float64
	ContentMatched bool
	ContentScore   float64
	Degraded       []string
	Reason         string
}

func attemptsLeft(ceiling, attemptNumber int) int {
	left := ceiling - attemptNumber
	if left < 0 {
		return 0
	}
	return left
}
