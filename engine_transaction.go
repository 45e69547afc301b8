package voiceGate

import (
	"context"

	internalflows "github.com/MrEthical07/voiceGate/internal/flows"
)

// OpenTransaction validates a financial action and parks it as a pending
// transaction awaiting voice verification. Nothing is applied to the ledger.
//
// Transfers require a known recipient other than the sender and a covering
// balance; withdraws require a covering balance; deposits only a positive
// amount.
func (e *Engine) OpenTransaction(ctx context.Context, req OpenRequest) (*PendingTransaction, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	p, err := internalflows.RunOpenTransaction(ctx, internalflows.OpenInput{
		UserID:    req.UserID,
		Kind:      uint8(req.Kind),
		Amount:    req.Amount,
		Recipient: req.Recipient,
	}, e.flows.Transaction)
	if err != nil {
		return nil, err
	}
	tx := fromFlowPending(p)
	return &tx, nil
}

// GetTransaction returns the pending transaction transactionID if it belongs
// to userID. Foreign and expired transactions report ErrTransactionNotFound.
func (e *Engine) GetTransaction(ctx context.Context, userID, transactionID string) (*PendingTransaction, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	p, err := internalflows.RunGetTransaction(ctx, userID, transactionID, e.flows.Transaction)
	if err != nil {
		return nil, err
	}
	tx := fromFlowPending(p)
	return &tx, nil
}

// CompleteTransaction applies an approved transaction to the ledger. Calling
// it again returns the first receipt with Replayed set; balances change once.
// Awaiting transactions fail with ErrVerificationRequired and denied ones
// with ErrAttemptsExhausted.
func (e *Engine) CompleteTransaction(ctx context.Context, userID, transactionID string) (*CommitResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	receipt, err := internalflows.RunComplete(ctx, userID, transactionID, e.flows.Transaction)
	if err != nil {
		return nil, err
	}
	return fromFlowReceipt(receipt), nil
}

func (e *Engine) transactionFlowDeps() internalflows.TransactionDeps {
	deps := internalflows.TransactionDeps{
		PendingTTL: e.config.Pending.TTL,
		Balance: func(ctx context.Context, userID string) (int64, error) {
			balance, err := e.ledger.Balance(ctx, userID)
			return balance, mapLedgerError(err)
		},
		ResolveRecipient: func(ctx context.Context, accountNumber string) (string, error) {
			owner, err := e.ledger.ResolveRecipient(ctx, accountNumber)
			return owner, mapLedgerError(err)
		},
		Commit: func(ctx context.Context, p internalflows.Pending) (internalflows.Receipt, error) {
			result, err := e.ledger.Commit(ctx, fromFlowPending(p))
			if err != nil {
				return internalflows.Receipt{}, mapLedgerError(err)
			}
			return toFlowReceipt(result), nil
		},
		CreatePending:   e.createPending,
		LoadPending:     e.loadPending,
		MarkCommitted:   e.pending.MarkCommitted,
		MapStoreError:   mapStoreError,
		MapLimiterError: limiterErrorMapper(ErrTransactionRateLimited),
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Metrics: internalflows.TransactionMetrics{
			TransactionOpened:    int(MetricTransactionOpened),
			TransactionRejected:  int(MetricTransactionRejected),
			TransactionCommitted: int(MetricTransactionCommitted),
			CommitReplay:         int(MetricCommitReplay),
		},
		Events: internalflows.TransactionEvents{
			TransactionOpen:   auditEventTransactionOpen,
			TransactionCommit: auditEventTransactionCommit,
		},
		Errors: internalflows.TransactionErrors{
			EngineNotReady:       ErrEngineNotReady,
			InvalidTransaction:   ErrInvalidTransaction,
			TransactionNotFound:  ErrTransactionNotFound,
			TransactionClosed:    ErrTransactionClosed,
			VerificationRequired: ErrVerificationRequired,
			AttemptsExhausted:    ErrAttemptsExhausted,
			InsufficientFunds:    ErrInsufficientFunds,
			RecipientNotFound:    ErrRecipientNotFound,
			RateLimited:          ErrTransactionRateLimited,
		},
	}
	if e.throttle != nil {
		deps.CheckThrottle = e.throttle.CheckOpen
	}
	return deps
}
