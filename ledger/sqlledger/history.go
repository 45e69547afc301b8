package sqlledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	voiceGate "github.com/MrEthical07/voiceGate"
)

const (
	DirectionSent     = "sent"
	DirectionReceived = "received"

	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Entry is one completed transaction as seen by a single user.
type Entry struct {
	ID               string
	PendingID        string
	Kind             voiceGate.TransactionKind
	SenderID         string
	RecipientID      string
	RecipientAccount string
	Amount           int64
	Status           string
	Direction        string
	CreatedAt        time.Time
}

// History lists completed transactions sent or received by userID, newest
// first. limit <= 0 uses a default page size.
func (s *Store) History(ctx context.Context, userID string, limit int) ([]Entry, error) {
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, pending_id, kind, sender_id, recipient_id, recipient_account, amount, status, created_at
		FROM transactions
		WHERE sender_id = ? OR recipient_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`), userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlledger: history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e           Entry
			kind        string
			recipientID sql.NullString
			createdAt   int64
		)
		if err := rows.Scan(&e.ID, &e.PendingID, &kind, &e.SenderID, &recipientID, &e.RecipientAccount, &e.Amount, &e.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlledger: scan history: %w", err)
		}
		e.Kind, _ = voiceGate.ParseTransactionKind(kind)
		e.RecipientID = recipientID.String
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		e.Direction = DirectionSent
		if e.SenderID != userID {
			e.Direction = DirectionReceived
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
