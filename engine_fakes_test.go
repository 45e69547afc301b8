package voiceGate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	_, client := newTestRedis(t)
	return client
}

// memLedger is an in-memory Ledger and ProfileProvider.
type memLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	accounts map[string]string
	profiles map[string]UserProfile
	commits  map[string]CommitResult
	applied  int
}

func newMemLedger() *memLedger {
	return &memLedger{
		balances: map[string]int64{},
		accounts: map[string]string{},
		profiles: map[string]UserProfile{},
		commits:  map[string]CommitResult{},
	}
}

func (l *memLedger) addUser(userID, account string, balance int64, voice bool, answers map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] = balance
	if account != "" {
		l.accounts[account] = userID
	}
	l.profiles[userID] = UserProfile{UserID: userID, VoiceRegistered: voice, Answers: answers}
}

func (l *memLedger) balance(userID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

func (l *memLedger) GetProfile(_ context.Context, userID string) (UserProfile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.profiles[userID]
	if !ok {
		return UserProfile{}, ErrProfileNotFound
	}
	return p, nil
}

func (l *memLedger) Balance(_ context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.profiles[userID]; !ok {
		return 0, ErrProfileNotFound
	}
	return l.balances[userID], nil
}

func (l *memLedger) ResolveRecipient(_ context.Context, account string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.accounts[account]
	if !ok {
		return "", ErrRecipientNotFound
	}
	return owner, nil
}

func (l *memLedger) Commit(_ context.Context, tx PendingTransaction) (CommitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if prev, ok := l.commits[tx.ID]; ok {
		prev.Replayed = true
		return prev, nil
	}

	switch tx.Kind {
	case KindDeposit:
		l.balances[tx.OwnerID] += tx.Amount
	case KindWithdraw:
		if l.balances[tx.OwnerID] < tx.Amount {
			return CommitResult{}, ErrInsufficientFunds
		}
		l.balances[tx.OwnerID] -= tx.Amount
	case KindTransfer:
		to, ok := l.accounts[tx.Recipient]
		if !ok {
			return CommitResult{}, ErrRecipientNotFound
		}
		if l.balances[tx.OwnerID] < tx.Amount {
			return CommitResult{}, ErrInsufficientFunds
		}
		l.balances[tx.OwnerID] -= tx.Amount
		l.balances[to] += tx.Amount
	}
	l.applied++

	result := CommitResult{
		TransactionID: tx.ID,
		LedgerID:      fmt.Sprintf("led-%d", l.applied),
		Kind:          tx.Kind,
		Amount:        tx.Amount,
		Recipient:     tx.Recipient,
		NewBalance:    l.balances[tx.OwnerID],
		CommittedAt:   time.Now().UTC().Truncate(time.Second),
	}
	l.commits[tx.ID] = result
	return result, nil
}

func (l *memLedger) appliedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applied
}

// stubVoice answers every Match with the configured verdict. With block set
// it waits for the context instead.
type stubVoice struct {
	mu      sync.Mutex
	matched bool
	score   float64
	err     error
	block   bool
	calls   int
	seen    []string
}

func (s *stubVoice) Match(ctx context.Context, userID string, audio AudioClip) (VoiceMatch, error) {
	s.mu.Lock()
	s.calls++
	matched, score, err, block := s.matched, s.score, s.err, s.block
	s.mu.Unlock()

	rc, openErr := audio.Open()
	if openErr != nil {
		return VoiceMatch{}, openErr
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	s.mu.Lock()
	s.seen = append(s.seen, string(data))
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return VoiceMatch{}, ctx.Err()
	}
	if err != nil {
		return VoiceMatch{}, err
	}
	return VoiceMatch{Matched: matched, Score: score}, nil
}

func (s *stubVoice) set(matched bool, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matched, s.score = matched, score
}

func (s *stubVoice) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubTranscriber struct {
	mu   sync.Mutex
	text string
	err  error
}

func (s *stubTranscriber) Transcribe(_ context.Context, _ AudioClip) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text, s.err
}

func (s *stubTranscriber) say(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = text
}

type harness struct {
	engine *Engine
	mr     *miniredis.Miniredis
	ledger *memLedger
	voice  *stubVoice
	stt    *stubTranscriber
	sink   *ChannelSink
	logs   *bytes.Buffer
	spool  string
}

// newHarness builds an engine whose selector always picks the first
// eligible field. alice answers nickname "Max" and owns account ACC-A;
// bob owns ACC-B.
func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	mr, rdb := newTestRedis(t)
	ledger := newMemLedger()
	ledger.addUser("alice", "ACC-A", 10_000, true, map[string]string{
		"nickname":      "Max",
		"favoriteColor": "deep blue",
		"petName":       "  ",
	})
	ledger.addUser("bob", "ACC-B", 500, true, map[string]string{"birthPlace": "Lyon"})
	ledger.addUser("carol", "ACC-C", 500, false, map[string]string{"nickname": "Caz"})
	ledger.addUser("dave", "ACC-D", 500, true, map[string]string{"nickname": " "})

	voice := &stubVoice{matched: true, score: 0.9}
	stt := &stubTranscriber{text: "max"}
	sink := NewChannelSink(256)
	logs := &bytes.Buffer{}
	spool := t.TempDir()

	cfg := DefaultConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 256
	cfg.Audit.DropIfFull = false
	cfg.Metrics.Enabled = true
	cfg.Evaluation.SpoolDir = spool
	cfg.Evaluation.VoiceTimeout = 200 * time.Millisecond
	cfg.Evaluation.TranscribeTimeout = 200 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithProfileProvider(ledger).
		WithLedger(ledger).
		WithVoiceMatcher(voice).
		WithTranscriber(stt).
		WithAuditSink(sink).
		WithLogger(newJSONLogger(logs)).
		WithChallengeSource(func(int) (int, error) { return 0, nil }).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	return &harness{
		engine: engine,
		mr:     mr,
		ledger: ledger,
		voice:  voice,
		stt:    stt,
		sink:   sink,
		logs:   logs,
		spool:  spool,
	}
}

func (h *harness) open(t *testing.T, req OpenRequest) *PendingTransaction {
	t.Helper()
	tx, err := h.engine.OpenTransaction(context.Background(), req)
	if err != nil {
		t.Fatalf("OpenTransaction: %v", err)
	}
	return tx
}

func (h *harness) openChallenged(t *testing.T) *PendingTransaction {
	t.Helper()
	tx := h.open(t, OpenRequest{UserID: "alice", Kind: KindTransfer, Amount: 2_500, Recipient: "ACC-B"})
	if _, err := h.engine.BeginChallenge(context.Background(), "alice", tx.ID); err != nil {
		t.Fatalf("BeginChallenge: %v", err)
	}
	return tx
}

func (h *harness) submit(t *testing.T, txID string) *SubmitResult {
	t.Helper()
	res, err := h.engine.SubmitResponse(context.Background(), SubmitRequest{
		UserID:        "alice",
		TransactionID: txID,
		Audio:         audioSample(),
		Filename:      "answer.wav",
	})
	if err != nil {
		t.Fatalf("SubmitResponse: %v", err)
	}
	return res
}

func (h *harness) attempts(t *testing.T, txID string) int {
	t.Helper()
	tx, err := h.engine.GetTransaction(context.Background(), "alice", txID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	return tx.Verification.Attempts
}

// drainEvents closes the engine so every queued audit event is delivered.
func (h *harness) drainEvents() []AuditEvent {
	h.engine.Close()
	var out []AuditEvent
	for {
		select {
		case ev := <-h.sink.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func audioSample() io.Reader {
	return strings.NewReader("RIFF....WAVEfmt fake-pcm-payload")
}

func eventTypes(events []AuditEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.EventType)
	}
	return out
}

func newJSONLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
