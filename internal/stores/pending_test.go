package stores

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newPendingTestStore(t *testing.T) (*PendingStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return NewPendingStore(rdb, "vgp"), mr
}

func seedPending(t *testing.T, s *PendingStore, id string) *PendingRecord {
	t.Helper()

	now := time.Now().Unix()
	rec := &PendingRecord{
		Status:    PendingAwaiting,
		Kind:      1,
		Amount:    2500,
		CreatedAt: now,
		UpdatedAt: now,
		OwnerID:   "user-1",
		Recipient: "ACC-2",
	}
	if err := s.Create(context.Background(), id, rec, time.Hour); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return rec
}

func TestPendingRecordRoundTrip(t *testing.T) {
	in := &PendingRecord{
		Status:        PendingApproved,
		Attempts:      7,
		LastAttemptAt: 1_700_000_000,
		CommittedAt:   1_700_000_100,
		Kind:          3,
		Amount:        123456789,
		CreatedAt:     1_699_999_000,
		UpdatedAt:     1_700_000_100,
		OwnerID:       "owner",
		Recipient:     "",
		BoundField:    "petName",
	}
	data, err := encodePendingRecord(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	out, err := decodePendingRecord(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if *out != *in {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}

func TestPendingCreateRefusesOverwrite(t *testing.T) {
	s, _ := newPendingTestStore(t)
	seedPending(t, s, "tx-1")

	err := s.Create(context.Background(), "tx-1", &PendingRecord{Status: PendingAwaiting}, time.Hour)
	if !errors.Is(err, ErrPendingExists) {
		t.Fatalf("expected ErrPendingExists, got %v", err)
	}
}

func TestPendingGetMissing(t *testing.T) {
	s, _ := newPendingTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrPendingNotFound) {
		t.Fatalf("expected ErrPendingNotFound, got %v", err)
	}
}

func TestRecordAttemptIncrementsByOne(t *testing.T) {
	s, _ := newPendingTestStore(t)
	seedPending(t, s, "tx-1")
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	for want := 1; want <= 10; want++ {
		got, err := s.RecordAttempt(ctx, "tx-1", 10, now)
		if err != nil {
			t.Fatalf("attempt %d failed: %v", want, err)
		}
		if got != want {
			t.Fatalf("expected attempt %d, got %d", want, got)
		}
	}

	rec, err := s.Get(ctx, "tx-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Attempts != 10 || rec.LastAttemptAt != now.Unix() {
		t.Fatalf("unexpected record after attempts: %+v", rec)
	}
	if rec.OwnerID != "user-1" || rec.Amount != 2500 || rec.Recipient != "ACC-2" {
		t.Fatalf("lua rewrite corrupted tail fields: %+v", rec)
	}
}

func TestRecordAttemptPastCeilingLeavesRecordAwaiting(t *testing.T) {
	s, _ := newPendingTestStore(t)
	seedPending(t, s, "tx-1")
	ctx := context.Background()

	if err := s.BindChallenge(ctx, "tx-1", "nickname", time.Now()); err != nil {
		t.Fatalf("BindChallenge failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.RecordAttempt(ctx, "tx-1", 3, time.Now()); err != nil {
			t.Fatalf("attempt %d failed: %v", i+1, err)
		}
	}
	if _, err := s.RecordAttempt(ctx, "tx-1", 3, time.Now()); !errors.Is(err, ErrPendingAttemptsExhausted) {
		t.Fatalf("expected ErrPendingAttemptsExhausted, got %v", err)
	}

	rec, err := s.Get(ctx, "tx-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Status != PendingAwaiting || rec.Attempts != 3 || rec.BoundField != "nickname" {
		t.Fatalf("exhausted attempt must not rewrite the record: %+v", rec)
	}
}

func TestExhaustedRecordDeniedClearsBindingAndAppliesRetention(t *testing.T) {
	s, mr := newPendingTestStore(t)
	seedPending(t, s, "tx-1")
	ctx := context.Background()

	if err := s.BindChallenge(ctx, "tx-1", "nickname", time.Now()); err != nil {
		t.Fatalf("BindChallenge failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.RecordAttempt(ctx, "tx-1", 3, time.Now()); err != nil {
			t.Fatalf("attempt %d failed: %v", i+1, err)
		}
	}
	if _, err := s.RecordAttempt(ctx, "tx-1", 3, time.Now()); !errors.Is(err, ErrPendingAttemptsExhausted) {
		t.Fatalf("expected ErrPendingAttemptsExhausted, got %v", err)
	}

	closedAt := time.Now().Add(time.Minute)
	rec, err := s.Transition(ctx, "tx-1", PendingAwaiting, PendingDenied, closedAt, 24*time.Hour)
	if err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if rec.Status != PendingDenied || rec.BoundField != "" || rec.UpdatedAt != closedAt.Unix() {
		t.Fatalf("unexpected denied record: %+v", rec)
	}
	if ttl := mr.TTL("vgp:tx-1"); ttl != 24*time.Hour {
		t.Fatalf("expected retention ttl 24h, got %v", ttl)
	}

	stored, err := s.Get(ctx, "tx-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.BoundField != "" || stored.Attempts != 3 {
		t.Fatalf("unexpected stored record: %+v", stored)
	}
	if _, err := s.RecordAttempt(ctx, "tx-1", 3, time.Now()); !errors.Is(err, ErrPendingClosed) {
		t.Fatalf("expected ErrPendingClosed after denial, got %v", err)
	}
}

func TestRecordAttemptPreservesTTL(t *testing.T) {
	s, mr := newPendingTestStore(t)
	seedPending(t, s, "tx-1")

	if _, err := s.RecordAttempt(context.Background(), "tx-1", 10, time.Now()); err != nil {
		t.Fatalf("RecordAttempt failed: %v", err)
	}
	if ttl := mr.TTL("vgp:tx-1"); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("expected ttl to be preserved, got %v", ttl)
	}
}

func TestRecordAttemptConcurrentNeverExceedsCeiling(t *testing.T) {
	s, _ := newPendingTestStore(t)
	seedPending(t, s, "tx-1")
	ctx := context.Background()

	const workers = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		seen      = map[int]bool{}
		exhausted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.RecordAttempt(ctx, "tx-1", 10, time.Now())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				if seen[n] {
					t.Errorf("attempt number %d handed out twice", n)
				}
				seen[n] = true
			case errors.Is(err, ErrPendingAttemptsExhausted), errors.Is(err, ErrPendingClosed):
				exhausted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(seen) != 10 {
		t.Fatalf("expected exactly 10 counted attempts, got %d", len(seen))
	}
	if exhausted != workers-10 {
		t.Fatalf("expected %d rejected attempts, got %d", workers-10, exhausted)
	}
}

func TestBindChallengeOverwritesAndRejectsClosed(t *testing.T) {
	s, _ := newPendingTestStore(t)
	seedPending(t, s, "tx-1")
	ctx := context.Background()

	if err := s.BindChallenge(ctx, "tx-1", "nickname", time.Now()); err != nil {
		t.Fatalf("BindChallenge failed: %v", err)
	}
	if err := s.BindChallenge(ctx, "tx-1", "petName", time.Now()); err != nil {
		t.Fatalf("second BindChallenge failed: %v", err)
	}
	rec, _ := s.Get(ctx, "tx-1")
	if rec.BoundField != "petName" {
		t.Fatalf("expected petName binding, got %q", rec.BoundField)
	}

	if _, err := s.Transition(ctx, "tx-1", PendingAwaiting, PendingDenied, time.Now(), 0); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if err := s.BindChallenge(ctx, "tx-1", "nickname", time.Now()); !errors.Is(err, ErrPendingClosed) {
		t.Fatalf("expected ErrPendingClosed, got %v", err)
	}
}

func TestTransitionIsGuardedByCurrentStatus(t *testing.T) {
	s, mr := newPendingTestStore(t)
	seedPending(t, s, "tx-1")
	ctx := context.Background()

	if _, err := s.Transition(ctx, "tx-1", PendingAwaiting, PendingApproved, time.Now(), 24*time.Hour); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if ttl := mr.TTL("vgp:tx-1"); ttl <= time.Hour {
		t.Fatalf("expected retention ttl to replace pending ttl, got %v", ttl)
	}

	current, err := s.Transition(ctx, "tx-1", PendingAwaiting, PendingDenied, time.Now(), 0)
	if !errors.Is(err, ErrPendingStatusConflict) {
		t.Fatalf("expected ErrPendingStatusConflict, got %v", err)
	}
	if current == nil || current.Status != PendingApproved {
		t.Fatalf("expected current approved record on conflict, got %+v", current)
	}
}

func TestMarkCommittedOnce(t *testing.T) {
	s, _ := newPendingTestStore(t)
	seedPending(t, s, "tx-1")
	ctx := context.Background()

	if _, err := s.MarkCommitted(ctx, "tx-1", time.Now()); !errors.Is(err, ErrPendingNotApproved) {
		t.Fatalf("expected ErrPendingNotApproved, got %v", err)
	}
	if _, err := s.Transition(ctx, "tx-1", PendingAwaiting, PendingApproved, time.Now(), 0); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	first, err := s.MarkCommitted(ctx, "tx-1", time.Now())
	if err != nil || !first {
		t.Fatalf("expected first commit mark, got first=%v err=%v", first, err)
	}
	again, err := s.MarkCommitted(ctx, "tx-1", time.Now())
	if err != nil || again {
		t.Fatalf("expected repeat mark to be a no-op, got first=%v err=%v", again, err)
	}
}
