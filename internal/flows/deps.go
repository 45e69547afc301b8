package flows

import "context"

// Deps groups flow dependency sets. Root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Evaluate    EvaluateDeps
	Challenge   ChallengeDeps
	Submit      SubmitDeps
	Transaction TransactionDeps
}

// AuditFunc emits one audit event. metadata is invoked lazily and may be nil.
type AuditFunc func(ctx context.Context, event string, success bool, userID, transactionID string, err error, metadata func() map[string]string)

func noopAudit(context.Context, string, bool, string, string, error, func() map[string]string) {}

func noopMetric(int) {}

func ownedBy(p Pending, userID string) bool {
	return p.OwnerID != "" && p.OwnerID == userID
}

// KindName returns the wire name of a transaction kind byte.
func KindName(kind uint8) string {
	switch kind {
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

// StatusName returns the wire name of a status byte.
func StatusName(status uint8) string {
	switch status {
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
