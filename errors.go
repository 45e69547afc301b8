package voiceGate

import "errors"

var (
	// ErrInvalidRequest is returned when a caller omits the user id or sends
	// an otherwise malformed request.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrAudioRequired is returned when a submission carries no audio.
	ErrAudioRequired = errors.New("audio required")
	// ErrAudioTooLarge is returned when a submission exceeds Evaluation.MaxAudioBytes.
	ErrAudioTooLarge = errors.New("audio too large")
	// ErrMissingChallenge is returned when no challenge field is bound to the
	// transaction, or a stateless submission names no known field.
	ErrMissingChallenge = errors.New("no challenge bound")
	// ErrChallengeMismatch is returned when the submitted field differs from
	// the field bound to the transaction.
	ErrChallengeMismatch = errors.New("challenge field mismatch")
	// ErrInvalidTransaction is returned for a bad amount, kind, or recipient.
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrTransactionNotFound is returned for unknown, expired, or foreign transactions.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrNoVoiceProfile is returned when the user has no registered voice sample.
	ErrNoVoiceProfile = errors.New("voice profile not registered")
	// ErrNoChallengeAvailable is returned when the user has no non-blank
	// knowledge answer to challenge.
	ErrNoChallengeAvailable = errors.New("no challenge available")
	// ErrProfileNotFound is returned by a ProfileProvider for unknown users.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrInsufficientFunds is returned when the balance does not cover the amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrRecipientNotFound is returned when no account matches the recipient.
	ErrRecipientNotFound = errors.New("recipient not found")

	// ErrTransactionClosed is returned when an operation needs an
	// awaiting-verification transaction and the transaction is already
	// approved or denied.
	ErrTransactionClosed = errors.New("transaction closed")
	// ErrAttemptsExhausted marks a transaction denied after the attempt ceiling.
	ErrAttemptsExhausted = errors.New("verification attempts exhausted")
	// ErrVerificationRequired is returned by CompleteTransaction while the
	// transaction still awaits voice verification.
	ErrVerificationRequired = errors.New("voice verification required")
	// ErrChallengeRateLimited is returned when a user asks for challenges
	// faster than Throttle allows.
	ErrChallengeRateLimited = errors.New("challenge rate limited")
	// ErrTransactionRateLimited is returned when a user opens transactions
	// faster than Throttle allows.
	ErrTransactionRateLimited = errors.New("transaction rate limited")

	// ErrStoreUnavailable wraps pending store and throttle backend failures.
	ErrStoreUnavailable = errors.New("pending store unavailable")
	// ErrLedgerUnavailable wraps ledger backend failures.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	// ErrEngineNotReady is returned when a required collaborator is missing.
	ErrEngineNotReady = errors.New("engine not ready")

	errStatusConflict = errors.New("transaction status conflict")
)

// ErrorKind groups sentinel errors by how a caller should react to them.
type ErrorKind string

const (
	ClassUnknown        ErrorKind = ""
	ClassValidation     ErrorKind = "validation"
	ClassSetup          ErrorKind = "setup"
	ClassPrecondition   ErrorKind = "precondition"
	ClassTerminal       ErrorKind = "terminal"
	ClassRateLimited    ErrorKind = "rate_limited"
	ClassInfrastructure ErrorKind = "infrastructure"
)

// ErrorClass reports the taxonomy of err. Validation and setup errors are
// fixable by the caller; terminal errors never succeed on retry.
func ErrorClass(err error) ErrorKind {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrAudioRequired),
		errors.Is(err, ErrAudioTooLarge),
		errors.Is(err, ErrMissingChallenge),
		errors.Is(err, ErrChallengeMismatch),
		errors.Is(err, ErrInvalidTransaction),
		errors.Is(err, ErrTransactionNotFound):
		return ClassValidation
	case errors.Is(err, ErrNoVoiceProfile),
		errors.Is(err, ErrNoChallengeAvailable),
		errors.Is(err, ErrProfileNotFound):
		return ClassSetup
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrRecipientNotFound),
		errors.Is(err, ErrVerificationRequired):
		return ClassPrecondition
	case errors.Is(err, ErrTransactionClosed),
		errors.Is(err, ErrAttemptsExhausted):
		return ClassTerminal
	case errors.Is(err, ErrChallengeRateLimited),
		errors.Is(err, ErrTransactionRateLimited):
		return ClassRateLimited
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrLedgerUnavailable),
		errors.Is(err, ErrEngineNotReady):
		return ClassInfrastructure
	default:
		return ClassUnknown
	}
}
