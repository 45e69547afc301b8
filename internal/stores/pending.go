package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pendingRecordVersionV1 = 1

	// version(1) status(1) attempts(2) lastAttemptAt(8)
	pendingHeaderSize = 12
)

var (
	ErrPendingNotFound          = errors.New("pending transaction not found")
	ErrPendingExists            = errors.New("pending transaction already exists")
	ErrPendingClosed            = errors.New("pending transaction closed")
	ErrPendingAttemptsExhausted = errors.New("pending transaction attempts exhausted")
	ErrPendingStatusConflict    = errors.New("pending transaction status conflict")
	ErrPendingNotApproved       = errors.New("pending transaction not approved")
	ErrPendingRedisUnavailable  = errors.New("pending transaction redis unavailable")
)

// PendingStatus is the persisted verification status byte.
type PendingStatus uint8

const (
	PendingAwaiting PendingStatus = iota + 1
	PendingApproved
	PendingDenied
)

// PendingRecord is the persisted state of one transaction awaiting voice
// verification.
type PendingRecord struct {
	Status        PendingStatus
	Attempts      uint16
	LastAttemptAt int64
	CommittedAt   int64
	Kind          uint8
	Amount        int64
	CreatedAt     int64
	UpdatedAt     int64
	OwnerID       string
	Recipient     string
	BoundField    string
}

// recordAttemptLua atomically increments the attempt counter of an awaiting
// record and stamps lastAttemptAt.
// KEYS[1] = record key
// ARGV[1] = attempt ceiling (int string)
// ARGV[2] = current unix timestamp (int string)
//
// Returns:
//
//	new attempt number on success
//	error string: "not_found", "corrupt", "closed", "exhausted"
//
// "exhausted" leaves the record untouched; the caller closes it through
// Transition so the binding is cleared and the retention TTL applied.
var recordAttemptLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end

local ceiling = tonumber(ARGV[1])
local nowUnix = tonumber(ARGV[2])

if string.len(data) < 12 or string.byte(data, 1) ~= 1 then
  return {err='corrupt'}
end

local status = string.byte(data, 2)
if status ~= 1 then
  return {err='closed'}
end

local ttlMs = redis.call('PTTL', KEYS[1])
local function store(newData)
  if ttlMs > 0 then
    redis.call('SET', KEYS[1], newData, 'PX', ttlMs)
  else
    redis.call('SET', KEYS[1], newData)
  end
end

local attempts = string.byte(data, 3) * 256 + string.byte(data, 4)
if attempts + 1 > ceiling then
  return {err='exhausted'}
end
attempts = attempts + 1

local ts = {}
local v = nowUnix
for i = 8, 1, -1 do
  ts[i] = v % 256
  v = math.floor(v / 256)
end

store(string.sub(data, 1, 2) ..
  string.char(math.floor(attempts / 256), attempts % 256) ..
  string.char(unpack(ts)) ..
  string.sub(data, 13))
return attempts
`)

// PendingStore persists pending transactions in Redis. The attempt counter is
// mutated only through RecordAttempt; status changes go through guarded
// WATCH/MULTI transactions.
type PendingStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewPendingStore(redisClient redis.UniversalClient, prefix string) *PendingStore {
	if prefix == "" {
		prefix = "vgp"
	}
	return &PendingStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *PendingStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (s *PendingStore) key(transactionID string) string {
	return s.prefix + ":" + transactionID
}

// Create stores a new record. It fails with ErrPendingExists instead of
// overwriting.
func (s *PendingStore) Create(ctx context.Context, transactionID string, record *PendingRecord, ttl time.Duration) error {
	encoded, err := encodePendingRecord(record)
	if err != nil {
		return err
	}
	ok, err := s.redis.SetNX(ctx, s.key(transactionID), encoded, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPendingRedisUnavailable, err)
	}
	if !ok {
		return ErrPendingExists
	}
	return nil
}

func (s *PendingStore) Get(ctx context.Context, transactionID string) (*PendingRecord, error) {
	data, err := s.redis.Get(ctx, s.key(transactionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPendingNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPendingRedisUnavailable, err)
	}
	record, err := decodePendingRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPendingRedisUnavailable, err)
	}
	return record, nil
}

// RecordAttempt increments the attempt counter and returns the new attempt
// number. When the increment would pass ceiling the record is flipped to
// denied and ErrPendingAttemptsExhausted is returned.
func (s *PendingStore) RecordAttempt(ctx context.Context, transactionID string, ceiling int, now time.Time) (int, error) {
	result, err := recordAttemptLua.Run(ctx, s.redis,
		[]string{s.key(transactionID)},
		ceiling,
		now.Unix(),
	).Int64()
	if err != nil {
		switch err.Error() {
		case "not_found":
			return 0, ErrPendingNotFound
		case "closed":
			return 0, ErrPendingClosed
		case "exhausted":
			return 0, ErrPendingAttemptsExhausted
		default:
			return 0, fmt.Errorf("%w: %v", ErrPendingRedisUnavailable, err)
		}
	}
	return int(result), nil
}

// BindChallenge overwrites the bound challenge field of an awaiting record.
func (s *PendingStore) BindChallenge(ctx context.Context, transactionID, field string, now time.Time) error {
	_, err := s.update(ctx, transactionID, 0, func(record *PendingRecord) error {
		if record.Status != PendingAwaiting {
			return ErrPendingClosed
		}
		record.BoundField = field
		record.UpdatedAt = now.Unix()
		return nil
	})
	return err
}

// Transition moves a record from one status to another. It fails with
// ErrPendingStatusConflict, and returns the current record, when the stored
// status is not from. A positive retention replaces the key TTL.
func (s *PendingStore) Transition(
	ctx context.Context,
	transactionID string,
	from, to PendingStatus,
	now time.Time,
	retention time.Duration,
) (*PendingRecord, error) {
	return s.update(ctx, transactionID, retention, func(record *PendingRecord) error {
		if record.Status != from {
			return ErrPendingStatusConflict
		}
		record.Status = to
		if to != PendingAwaiting {
			record.BoundField = ""
		}
		record.UpdatedAt = now.Unix()
		return nil
	})
}

// MarkCommitted stamps CommittedAt on an approved record. It reports false
// when the record was already committed.
func (s *PendingStore) MarkCommitted(ctx context.Context, transactionID string, now time.Time) (bool, error) {
	first := false
	_, err := s.update(ctx, transactionID, 0, func(record *PendingRecord) error {
		if record.Status != PendingApproved {
			return ErrPendingNotApproved
		}
		if record.CommittedAt != 0 {
			return nil
		}
		first = true
		record.CommittedAt = now.Unix()
		record.UpdatedAt = now.Unix()
		return nil
	})
	if err != nil {
		return false, err
	}
	return first, nil
}

func (s *PendingStore) update(
	ctx context.Context,
	transactionID string,
	ttl time.Duration,
	mutate func(record *PendingRecord) error,
) (*PendingRecord, error) {
	const maxRetries = 4
	key := s.key(transactionID)

	for i := 0; i < maxRetries; i++ {
		var current *PendingRecord
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			record, err := decodePendingRecord(data)
			if err != nil {
				return err
			}
			current = record

			if err := mutate(record); err != nil {
				return err
			}

			keep := ttl
			if keep <= 0 {
				keep, err = tx.PTTL(ctx, key).Result()
				if err != nil {
					return err
				}
				if keep < 0 {
					keep = 0
				}
			}
			updated, err := encodePendingRecord(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, keep)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrPendingNotFound
			case errors.Is(err, ErrPendingClosed),
				errors.Is(err, ErrPendingStatusConflict),
				errors.Is(err, ErrPendingNotApproved):
				return current, err
			}
			return nil, fmt.Errorf("%w: %v", ErrPendingRedisUnavailable, err)
		}
		return current, nil
	}

	return nil, fmt.Errorf("%w: too much contention", ErrPendingRedisUnavailable)
}

func encodePendingRecord(record *PendingRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(pendingHeaderSize + 41 + len(record.OwnerID) + len(record.Recipient) + len(record.BoundField))

	buf.WriteByte(pendingRecordVersionV1)
	buf.WriteByte(byte(record.Status))
	for _, v := range []any{record.Attempts, record.LastAttemptAt, record.CommittedAt} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	buf.WriteByte(record.Kind)
	for _, v := range []int64{record.Amount, record.CreatedAt, record.UpdatedAt} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	for _, s := range []string{record.OwnerID, record.Recipient, record.BoundField} {
		if len(s) > 65535 {
			return nil, errors.New("pending record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(s))); err != nil {
			return nil, err
		}
		buf.WriteString(s)
	}

	return buf.Bytes(), nil
}

func decodePendingRecord(data []byte) (*PendingRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != pendingRecordVersionV1 {
		return nil, errors.New("invalid pending record version")
	}
	status, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &PendingRecord{Status: PendingStatus(status)}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.LastAttemptAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.CommittedAt); err != nil {
		return nil, err
	}
	if record.Kind, err = reader.ReadByte(); err != nil {
		return nil, err
	}
	for _, dst := range []*int64{&record.Amount, &record.CreatedAt, &record.UpdatedAt} {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return nil, err
		}
	}
	for _, dst := range []*string{&record.OwnerID, &record.Recipient, &record.BoundField} {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		*dst = string(raw)
	}

	return record, nil
}
