package voiceGate

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventChallengeIssue    = "challenge_issue"
	auditEventVerifyAttempt     = "verify_attempt"
	auditEventVerifyApproved    = "verify_approved"
	auditEventVerifyDenied      = "verify_denied"
	auditEventVerifyRejected    = "verify_rejected"
	auditEventTransactionOpen   = "transaction_open"
	auditEventTransactionCommit = "transaction_commit"
)

// terminalAuditEvents are never shed by a full DropIfFull buffer.
var terminalAuditEvents = []string{
	auditEventVerifyApproved,
	auditEventVerifyDenied,
	auditEventTransactionCommit,
}

// AuditErrorCode is the stable, low-cardinality error label written into
// [AuditEvent.Error].
type AuditErrorCode string

const (
	auditErrInvalidRequest       AuditErrorCode = "invalid_request"
	auditErrAudio                AuditErrorCode = "audio_invalid"
	auditErrMissingChallenge     AuditErrorCode = "missing_challenge"
	auditErrChallengeMismatch    AuditErrorCode = "challenge_mismatch"
	auditErrInvalidTransaction   AuditErrorCode = "invalid_transaction"
	auditErrTransactionNotFound  AuditErrorCode = "transaction_not_found"
	auditErrNoVoiceProfile       AuditErrorCode = "no_voice_profile"
	auditErrNoChallenge          AuditErrorCode = "no_challenge_available"
	auditErrProfileNotFound      AuditErrorCode = "profile_not_found"
	auditErrInsufficientFunds    AuditErrorCode = "insufficient_funds"
	auditErrRecipientNotFound    AuditErrorCode = "recipient_not_found"
	auditErrTransactionClosed    AuditErrorCode = "transaction_closed"
	auditErrAttemptsExhausted    AuditErrorCode = "attempts_exhausted"
	auditErrVerificationRequired AuditErrorCode = "verification_required"
	auditErrRateLimited          AuditErrorCode = "rate_limited"
	auditErrUnavailable          AuditErrorCode = "backend_unavailable"
	auditErrCanceled             AuditErrorCode = "canceled"
	auditErrInternal             AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	transactionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if id := requestIDFromContext(ctx); id != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["request_id"] = id
	}

	event := AuditEvent{
		Timestamp:     time.Now().UTC(),
		EventType:     eventType,
		UserID:        userID,
		TransactionID: transactionID,
		IP:            clientIPFromContext(ctx),
		Success:       success,
		Metadata:      metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidRequest):
		return auditErrInvalidRequest
	case errors.Is(err, ErrAudioRequired),
		errors.Is(err, ErrAudioTooLarge):
		return auditErrAudio
	case errors.Is(err, ErrMissingChallenge):
		return auditErrMissingChallenge
	case errors.Is(err, ErrChallengeMismatch):
		return auditErrChallengeMismatch
	case errors.Is(err, ErrInvalidTransaction):
		return auditErrInvalidTransaction
	case errors.Is(err, ErrTransactionNotFound):
		return auditErrTransactionNotFound
	case errors.Is(err, ErrNoVoiceProfile):
		return auditErrNoVoiceProfile
	case errors.Is(err, ErrNoChallengeAvailable):
		return auditErrNoChallenge
	case errors.Is(err, ErrProfileNotFound):
		return auditErrProfileNotFound
	case errors.Is(err, ErrInsufficientFunds):
		return auditErrInsufficientFunds
	case errors.Is(err, ErrRecipientNotFound):
		return auditErrRecipientNotFound
	case errors.Is(err, ErrTransactionClosed),
		errors.Is(err, errStatusConflict):
		return auditErrTransactionClosed
	case errors.Is(err, ErrAttemptsExhausted):
		return auditErrAttemptsExhausted
	case errors.Is(err, ErrVerificationRequired):
		return auditErrVerificationRequired
	case errors.Is(err, ErrChallengeRateLimited),
		errors.Is(err, ErrTransactionRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrLedgerUnavailable),
		errors.Is(err, ErrEngineNotReady):
		return auditErrUnavailable
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return auditErrCanceled
	default:
		return auditErrInternal
	}
}
