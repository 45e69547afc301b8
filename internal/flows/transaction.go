package flows

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type TransactionMetrics struct {
	TransactionOpened    int
	TransactionRejected  int
	TransactionCommitted int
	CommitReplay         int
}

type TransactionEvents struct {
	TransactionOpen   string
	TransactionCommit string
}

type TransactionErrors struct {
	EngineNotReady       error
	InvalidTransaction   error
	TransactionNotFound  error
	TransactionClosed    error
	VerificationRequired error
	AttemptsExhausted    error
	InsufficientFunds    error
	RecipientNotFound    error
	RateLimited          error
}

type TransactionDeps struct {
	PendingTTL time.Duration
	Now        func() time.Time
	NewID      func() string

	CheckThrottle    func(context.Context, string) error
	Balance          func(context.Context, string) (int64, error)
	ResolveRecipient func(context.Context, string) (string, error)
	Commit           func(context.Context, Pending) (Receipt, error)

	CreatePending func(context.Context, Pending, time.Duration) error
	LoadPending   func(context.Context, string) (Pending, error)
	MarkCommitted func(context.Context, string, time.Time) (bool, error)

	MapStoreError   func(error) error
	MapLimiterError func(error) error

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics TransactionMetrics
	Events  TransactionEvents
	Errors  TransactionErrors
}

type OpenInput struct {
	UserID    string
	Kind      uint8
	Amount    int64
	Recipient string
}

// RunOpenTransaction validates the preconditions of a financial action and
// parks it as a pending transaction awaiting voice verification. Transfers
// need a known recipient other than the sender and enough balance; withdraws
// need enough balance; deposits only a positive amount.
func RunOpenTransaction(ctx context.Context, in OpenInput, deps TransactionDeps) (Pending, error) {
	normalizeTransactionDeps(&deps)

	if deps.CreatePending == nil || deps.Balance == nil || deps.ResolveRecipient == nil {
		return Pending{}, deps.Errors.EngineNotReady
	}

	fail := func(err error, reason string) (Pending, error) {
		deps.MetricInc(deps.Metrics.TransactionRejected)
		deps.EmitAudit(ctx, deps.Events.TransactionOpen, false, in.UserID, "", err, func() map[string]string {
			return map[string]string{
				"reason": reason,
				"kind":   KindName(in.Kind),
			}
		})
		return Pending{}, err
	}

	recipient := strings.TrimSpace(in.Recipient)
	switch {
	case in.UserID == "":
		return fail(deps.Errors.InvalidTransaction, "empty_user")
	case in.Amount <= 0:
		return fail(deps.Errors.InvalidTransaction, "non_positive_amount")
	case in.Kind != KindTransfer && in.Kind != KindDeposit && in.Kind != KindWithdraw:
		return fail(deps.Errors.InvalidTransaction, "unknown_kind")
	case in.Kind == KindTransfer && recipient == "":
		return fail(deps.Errors.InvalidTransaction, "missing_recipient")
	case in.Kind != KindTransfer && recipient != "":
		return fail(deps.Errors.InvalidTransaction, "unexpected_recipient")
	}

	if deps.CheckThrottle != nil {
		if err := deps.CheckThrottle(ctx, in.UserID); err != nil {
			return fail(deps.MapLimiterError(err), "throttle")
		}
	}

	if in.Kind == KindTransfer {
		recipientID, err := deps.ResolveRecipient(ctx, recipient)
		if err != nil {
			return fail(err, "recipient")
		}
		if recipientID == in.UserID {
			return fail(deps.Errors.InvalidTransaction, "self_transfer")
		}
	}

	if in.Kind == KindTransfer || in.Kind == KindWithdraw {
		balance, err := deps.Balance(ctx, in.UserID)
		if err != nil {
			return fail(err, "balance")
		}
		if balance < in.Amount {
			return fail(deps.Errors.InsufficientFunds, "insufficient_funds")
		}
	}

	now := deps.Now().Unix()
	pending := Pending{
		ID:        deps.NewID(),
		OwnerID:   in.UserID,
		Kind:      in.Kind,
		Amount:    in.Amount,
		Recipient: recipient,
		Status:    StatusAwaiting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := deps.CreatePending(ctx, pending, deps.PendingTTL); err != nil {
		return fail(deps.MapStoreError(err), "create")
	}

	deps.MetricInc(deps.Metrics.TransactionOpened)
	deps.EmitAudit(ctx, deps.Events.TransactionOpen, true, in.UserID, pending.ID, nil, func() map[string]string {
		return map[string]string{
			"kind":   KindName(in.Kind),
			"amount": strconv.FormatInt(in.Amount, 10),
		}
	})
	return pending, nil
}

// RunGetTransaction returns a pending transaction owned by userID. Records of
// other users are reported as not found.
func RunGetTransaction(ctx context.Context, userID, transactionID string, deps TransactionDeps) (Pending, error) {
	normalizeTransactionDeps(&deps)

	if deps.LoadPending == nil {
		return Pending{}, deps.Errors.EngineNotReady
	}
	if userID == "" || transactionID == "" {
		return Pending{}, deps.Errors.TransactionNotFound
	}
	pending, err := deps.LoadPending(ctx, transactionID)
	if err != nil {
		return Pending{}, deps.MapStoreError(err)
	}
	if !ownedBy(pending, userID) {
		return Pending{}, deps.Errors.TransactionNotFound
	}
	return pending, nil
}

// RunComplete applies the financial effect of an approved transaction. The
// ledger commit is idempotent on the transaction id, so a repeated call
// returns the original receipt with Replayed set and changes no balance.
func RunComplete(ctx context.Context, userID, transactionID string, deps TransactionDeps) (Receipt, error) {
	normalizeTransactionDeps(&deps)

	if deps.LoadPending == nil || deps.Commit == nil || deps.MarkCommitted == nil {
		return Receipt{}, deps.Errors.EngineNotReady
	}

	fail := func(err error, reason string) (Receipt, error) {
		deps.EmitAudit(ctx, deps.Events.TransactionCommit, false, userID, transactionID, err, func() map[string]string {
			return map[string]string{"reason": reason}
		})
		return Receipt{}, err
	}

	pending, err := RunGetTransaction(ctx, userID, transactionID, deps)
	if err != nil {
		return fail(err, "load_pending")
	}

	switch pending.Status {
	case StatusApproved:
	case StatusAwaiting:
		return fail(deps.Errors.VerificationRequired, "awaiting_verification")
	case StatusDenied:
		return fail(deps.Errors.AttemptsExhausted, "denied")
	default:
		return fail(deps.Errors.TransactionClosed, "unknown_status")
	}

	receipt, err := deps.Commit(ctx, pending)
	if err != nil {
		return fail(err, "commit")
	}

	first, err := deps.MarkCommitted(ctx, transactionID, deps.Now())
	if err != nil {
		return fail(deps.MapStoreError(err), "mark_committed")
	}
	if !first {
		receipt.Replayed = true
	}

	if receipt.Replayed {
		deps.MetricInc(deps.Metrics.CommitReplay)
	} else {
		deps.MetricInc(deps.Metrics.TransactionCommitted)
	}
	deps.EmitAudit(ctx, deps.Events.TransactionCommit, true, userID, transactionID, nil, func() map[string]string {
		return map[string]string{
			"kind":     KindName(pending.Kind),
			"amount":   strconv.FormatInt(pending.Amount, 10),
			"replayed": strconv.FormatBool(receipt.Replayed),
		}
	})
	return receipt, nil
}

func normalizeTransactionDeps(deps *TransactionDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
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
		deps.MapLimiterError = func(error) error { return deps.Errors.RateLimited }
	}
}
