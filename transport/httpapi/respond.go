package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	voiceGate "github.com/MrEthical07/voiceGate"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type errorJSON struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type transactionJSON struct {
	ID           string     `json:"id"`
	Kind         string     `json:"kind"`
	Amount       int64      `json:"amount"`
	Recipient    string     `json:"recipient,omitempty"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	BoundField   string     `json:"boundField,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastAttempt  *time.Time `json:"lastAttemptAt,omitempty"`
	CommittedAt  *time.Time `json:"committedAt,omitempty"`
	AttemptsLeft int        `json:"attemptsLeft"`
}

type challengeJSON struct {
	TransactionID string `json:"transactionId,omitempty"`
	Field         string `json:"field"`
	Prompt        string `json:"prompt"`
	AttemptsLeft  int    `json:"attemptsLeft"`
	Bound         bool   `json:"bound"`
}

type nextChallengeJSON struct {
	Field  string `json:"field"`
	Prompt string `json:"prompt"`
}

type verifyJSON struct {
	Success        bool               `json:"success"`
	Outcome        string             `json:"outcome"`
	Terminal       bool               `json:"terminal"`
	AttemptNumber  int                `json:"attemptNumber"`
	AttemptsLeft   int                `json:"attemptsLeft"`
	Field          string             `json:"field,omitempty"`
	Status         string             `json:"status,omitempty"`
	NextChallenge  *nextChallengeJSON `json:"nextChallenge,omitempty"`
	VoiceMatch     bool               `json:"voiceMatch"`
	VoiceScore     float64            `json:"voiceScore"`
	ContentMatch   bool               `json:"contentMatch"`
	ContentScore   float64            `json:"contentScore"`
	RecognizedText string             `json:"recognizedText,omitempty"`
	Degraded       []string           `json:"degraded,omitempty"`
	Commit         *commitJSON        `json:"commit,omitempty"`
	CommitError    string             `json:"commitError,omitempty"`
}

type commitJSON struct {
	TransactionID string    `json:"transactionId"`
	LedgerID      string    `json:"ledgerId"`
	Kind          string    `json:"kind"`
	Amount        int64     `json:"amount"`
	Recipient     string    `json:"recipient,omitempty"`
	NewBalance    int64     `json:"newBalance"`
	CommittedAt   time.Time `json:"committedAt"`
	Replayed      bool      `json:"replayed"`
}

type historyJSON struct {
	ID               string    `json:"id"`
	TransactionID    string    `json:"transactionId"`
	Kind             string    `json:"kind"`
	Direction        string    `json:"direction"`
	SenderID         string    `json:"senderId"`
	RecipientID      string    `json:"recipientId,omitempty"`
	RecipientAccount string    `json:"recipientAccount,omitempty"`
	Amount           int64     `json:"amount"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"createdAt"`
}

func toTransactionJSON(p *voiceGate.PendingTransaction) transactionJSON {
	out := transactionJSON{
		ID:         p.ID,
		Kind:       p.Kind.String(),
		Amount:     p.Amount,
		Recipient:  p.Recipient,
		Status:     p.Verification.Status.String(),
		Attempts:   p.Verification.Attempts,
		BoundField: p.Verification.BoundField,
		CreatedAt:  p.CreatedAt,
	}
	if left := voiceGate.MaxVerificationAttempts - p.Verification.Attempts; left > 0 && !p.Verification.Status.Terminal() {
		out.AttemptsLeft = left
	}
	if !p.Verification.LastAttemptAt.IsZero() {
		t := p.Verification.LastAttemptAt
		out.LastAttempt = &t
	}
	if p.Committed() {
		t := p.CommittedAt
		out.CommittedAt = &t
	}
	return out
}

func toCommitJSON(c *voiceGate.CommitResult) *commitJSON {
	if c == nil {
		return nil
	}
	return &commitJSON{
		TransactionID: c.TransactionID,
		LedgerID:      c.LedgerID,
		Kind:          c.Kind.String(),
		Amount:        c.Amount,
		Recipient:     c.Recipient,
		NewBalance:    c.NewBalance,
		CommittedAt:   c.CommittedAt,
		Replayed:      c.Replayed,
	}
}

func toVerifyJSON(r *voiceGate.SubmitResult) verifyJSON {
	out := verifyJSON{
		Success:       r.Approved,
		Outcome:       string(r.Outcome),
		Terminal:      r.Terminal,
		AttemptNumber: r.AttemptNumber,
		AttemptsLeft:  r.AttemptsLeft,
		Field:         r.Field,
		Commit:        toCommitJSON(r.Commit),
	}
	if r.Status != 0 {
		out.Status = r.Status.String()
	}
	if r.NextChallenge != nil {
		out.NextChallenge = &nextChallengeJSON{Field: r.NextChallenge.Field, Prompt: r.NextChallenge.Prompt}
	}
	if v := r.Verdict; v != nil {
		out.VoiceMatch = v.Voice.Matched
		out.VoiceScore = v.Voice.Score
		out.ContentMatch = v.Content.Matched
		out.ContentScore = v.Content.Score
		out.RecognizedText = v.Transcript
		out.Degraded = v.Degraded
	}
	return out
}

// statusFor maps an engine error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, voiceGate.ErrAudioTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, voiceGate.ErrTransactionNotFound),
		errors.Is(err, voiceGate.ErrProfileNotFound):
		return http.StatusNotFound
	}

	switch voiceGate.ErrorClass(err) {
	case voiceGate.ClassValidation:
		return http.StatusBadRequest
	case voiceGate.ClassSetup:
		return http.StatusUnprocessableEntity
	case voiceGate.ClassPrecondition, voiceGate.ClassTerminal:
		return http.StatusConflict
	case voiceGate.ClassRateLimited:
		return http.StatusTooManyRequests
	case voiceGate.ClassInfrastructure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides backend details of infrastructure and unknown errors.
func publicMessage(err error) string {
	switch voiceGate.ErrorClass(err) {
	case voiceGate.ClassInfrastructure:
		return "service unavailable"
	case voiceGate.ClassUnknown:
		return "internal error"
	default:
		return err.Error()
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestID(r),
			"error", err,
		)
	}

	code := string(voiceGate.ErrorClass(err))
	if code == "" {
		code = "internal"
	}
	writeJSON(w, status, errorJSON{Error: code, Message: publicMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestID(r *http.Request) string {
	return chimw.GetReqID(r.Context())
}
