package sqlledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	voiceGate "github.com/MrEthical07/voiceGate"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

var (
	_ voiceGate.Ledger          = (*Store)(nil)
	_ voiceGate.ProfileProvider = (*Store)(nil)
)

// User is a ledger account together with its knowledge answers.
type User struct {
	ID              string
	AccountNumber   string
	Balance         int64
	VoiceRegistered bool
	Answers         map[string]string
}

// PutUser inserts or replaces a user and its answers. It exists for seeding
// and tests; voiceGate itself never writes users.
func (s *Store) PutUser(ctx context.Context, u User) error {
	if u.ID == "" || u.AccountNumber == "" || u.Balance < 0 {
		return fmt.Errorf("sqlledger: %w", voiceGate.ErrInvalidRequest)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO users (id, account_number, balance, voice_registered, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			account_number = excluded.account_number,
			balance = excluded.balance,
			voice_registered = excluded.voice_registered`),
		u.ID, u.AccountNumber, u.Balance, u.VoiceRegistered, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("sqlledger: put user: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM security_answers WHERE user_id = ?`), u.ID); err != nil {
		return fmt.Errorf("sqlledger: reset answers: %w", err)
	}
	for field, answer := range u.Answers {
		_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO security_answers (user_id, field, answer) VALUES (?, ?, ?)`),
			u.ID, field, answer)
		if err != nil {
			return fmt.Errorf("sqlledger: put answer %s: %w", field, err)
		}
	}

	return tx.Commit()
}

// GetProfile returns the knowledge answers and voice registration of userID.
func (s *Store) GetProfile(ctx context.Context, userID string) (voiceGate.UserProfile, error) {
	var registered bool
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT voice_registered FROM users WHERE id = ?`), userID).Scan(&registered)
	if errors.Is(err, sql.ErrNoRows) {
		return voiceGate.UserProfile{}, voiceGate.ErrProfileNotFound
	}
	if err != nil {
		return voiceGate.UserProfile{}, fmt.Errorf("sqlledger: load user: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT field, answer FROM security_answers WHERE user_id = ?`), userID)
	if err != nil {
		return voiceGate.UserProfile{}, fmt.Errorf("sqlledger: load answers: %w", err)
	}
	defer rows.Close()

	answers := make(map[string]string)
	for rows.Next() {
		var field, answer string
		if err := rows.Scan(&field, &answer); err != nil {
			return voiceGate.UserProfile{}, fmt.Errorf("sqlledger: scan answer: %w", err)
		}
		answers[field] = answer
	}
	if err := rows.Err(); err != nil {
		return voiceGate.UserProfile{}, err
	}

	return voiceGate.UserProfile{UserID: userID, VoiceRegistered: registered, Answers: answers}, nil
}

func (s *Store) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT balance FROM users WHERE id = ?`), userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, voiceGate.ErrProfileNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("sqlledger: balance: %w", err)
	}
	return balance, nil
}

// ResolveRecipient returns the user owning accountNumber.
func (s *Store) ResolveRecipient(ctx context.Context, accountNumber string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id FROM users WHERE account_number = ?`),
		strings.TrimSpace(accountNumber)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", voiceGate.ErrRecipientNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sqlledger: resolve recipient: %w", err)
	}
	return id, nil
}

// Commit applies tx once. A transaction already recorded under tx.ID is
// returned with Replayed set and no balance changes.
func (s *Store) Commit(ctx context.Context, tx voiceGate.PendingTransaction) (voiceGate.CommitResult, error) {
	if tx.ID == "" || tx.OwnerID == "" || tx.Amount <= 0 {
		return voiceGate.CommitResult{}, voiceGate.ErrInvalidTransaction
	}

	if prev, ok, err := s.lookupCommit(ctx, s.db, tx.ID); err != nil {
		return voiceGate.CommitResult{}, err
	} else if ok {
		return prev, nil
	}

	result, err := s.applyCommit(ctx, tx)
	if err != nil && isUniqueViolation(err) {
		// Lost the race against a concurrent Commit of the same transaction.
		if prev, ok, lookupErr := s.lookupCommit(ctx, s.db, tx.ID); lookupErr == nil && ok {
			return prev, nil
		}
	}
	return result, err
}

func (s *Store) applyCommit(ctx context.Context, ptx voiceGate.PendingTransaction) (voiceGate.CommitResult, error) {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return voiceGate.CommitResult{}, err
	}
	defer func() { _ = dbtx.Rollback() }()

	var recipientID sql.NullString
	switch ptx.Kind {
	case voiceGate.KindDeposit:
		if err := s.credit(ctx, dbtx, ptx.OwnerID, ptx.Amount); err != nil {
			return voiceGate.CommitResult{}, err
		}

	case voiceGate.KindWithdraw:
		if err := s.debit(ctx, dbtx, ptx.OwnerID, ptx.Amount); err != nil {
			return voiceGate.CommitResult{}, err
		}

	case voiceGate.KindTransfer:
		var id string
		err := dbtx.QueryRowContext(ctx, s.rebind(`SELECT id FROM users WHERE account_number = ?`), ptx.Recipient).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return voiceGate.CommitResult{}, voiceGate.ErrRecipientNotFound
		}
		if err != nil {
			return voiceGate.CommitResult{}, fmt.Errorf("sqlledger: resolve recipient: %w", err)
		}
		if id == ptx.OwnerID {
			return voiceGate.CommitResult{}, voiceGate.ErrInvalidTransaction
		}
		if err := s.debit(ctx, dbtx, ptx.OwnerID, ptx.Amount); err != nil {
			return voiceGate.CommitResult{}, err
		}
		if err := s.credit(ctx, dbtx, id, ptx.Amount); err != nil {
			return voiceGate.CommitResult{}, err
		}
		recipientID = sql.NullString{String: id, Valid: true}

	default:
		return voiceGate.CommitResult{}, voiceGate.ErrInvalidTransaction
	}

	var balance int64
	if err := dbtx.QueryRowContext(ctx, s.rebind(`SELECT balance FROM users WHERE id = ?`), ptx.OwnerID).Scan(&balance); err != nil {
		return voiceGate.CommitResult{}, fmt.Errorf("sqlledger: read balance: %w", err)
	}

	now := time.Now().UTC()
	rowID := uuid.NewString()
	_, err = dbtx.ExecContext(ctx, s.rebind(`
		INSERT INTO transactions
			(id, pending_id, kind, sender_id, recipient_id, recipient_account, amount, balance_after, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'completed', ?)`),
		rowID, ptx.ID, ptx.Kind.String(), ptx.OwnerID, recipientID, ptx.Recipient, ptx.Amount, balance, now.UnixMilli())
	if err != nil {
		return voiceGate.CommitResult{}, fmt.Errorf("sqlledger: record transaction: %w", err)
	}

	if err := dbtx.Commit(); err != nil {
		return voiceGate.CommitResult{}, fmt.Errorf("sqlledger: commit: %w", err)
	}

	return voiceGate.CommitResult{
		TransactionID: ptx.ID,
		LedgerID:      rowID,
		Kind:          ptx.Kind,
		Amount:        ptx.Amount,
		Recipient:     ptx.Recipient,
		NewBalance:    balance,
		CommittedAt:   time.UnixMilli(now.UnixMilli()).UTC(),
	}, nil
}

func (s *Store) credit(ctx context.Context, dbtx *sql.Tx, userID string, amount int64) error {
	res, err := dbtx.ExecContext(ctx, s.rebind(`UPDATE users SET balance = balance + ? WHERE id = ?`), amount, userID)
	if err != nil {
		return fmt.Errorf("sqlledger: credit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return voiceGate.ErrProfileNotFound
	}
	return nil
}

func (s *Store) debit(ctx context.Context, dbtx *sql.Tx, userID string, amount int64) error {
	res, err := dbtx.ExecContext(ctx, s.rebind(`UPDATE users SET balance = balance - ? WHERE id = ? AND balance >= ?`),
		amount, userID, amount)
	if err != nil {
		return fmt.Errorf("sqlledger: debit: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists int
	err = dbtx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM users WHERE id = ?`), userID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return voiceGate.ErrProfileNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlledger: debit: %w", err)
	}
	return voiceGate.ErrInsufficientFunds
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) lookupCommit(ctx context.Context, q queryRower, pendingID string) (voiceGate.CommitResult, bool, error) {
	var (
		rowID     string
		kind      string
		recipient string
		amount    int64
		balance   int64
		createdAt int64
	)
	err := q.QueryRowContext(ctx, s.rebind(`
		SELECT id, kind, recipient_account, amount, balance_after, created_at
		FROM transactions WHERE pending_id = ?`), pendingID).
		Scan(&rowID, &kind, &recipient, &amount, &balance, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return voiceGate.CommitResult{}, false, nil
	}
	if err != nil {
		return voiceGate.CommitResult{}, false, fmt.Errorf("sqlledger: lookup commit: %w", err)
	}

	k, _ := voiceGate.ParseTransactionKind(kind)
	return voiceGate.CommitResult{
		TransactionID: pendingID,
		LedgerID:      rowID,
		Kind:          k,
		Amount:        amount,
		Recipient:     recipient,
		NewBalance:    balance,
		CommittedAt:   time.UnixMilli(createdAt).UTC(),
		Replayed:      true,
	}, true, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
