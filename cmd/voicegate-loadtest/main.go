package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	voiceGate "github.com/MrEthical07/voiceGate"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const answer = "deep blue"

var sampleAudio = []byte("RIFF....WAVEfmt loadtest-pcm-payload")

func main() {
	var (
		users        = flag.Int("users", 1000, "number of seeded users")
		transactions = flag.Int("transactions", 5000, "transactions to open and challenge")
		concurrency  = flag.Int("concurrency", 64, "number of concurrent workers")
		ops          = flag.Int("ops", 40000, "verification submissions to send")
		correct      = flag.Float64("correct", 0.05, "probability that a spoken answer is right")
		redisAddr    = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *users <= 0 || *transactions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, transactions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	book := newBook(*users)
	spool, err := os.MkdirTemp("", "voicegate-loadtest-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "spool dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(spool)

	cfg := voiceGate.DefaultConfig()
	cfg.Throttle.EnableChallengeThrottle = false
	cfg.Throttle.EnableOpenThrottle = false
	cfg.Evaluation.SpoolDir = spool
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	engine, err := voiceGate.New().
		WithConfig(cfg).
		WithRedis(client).
		WithProfileProvider(book).
		WithLedger(book).
		WithVoiceMatcher(voiceStub{}).
		WithTranscriber(transcriberStub{correct: *correct}).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("opening %d transactions for %d users...\n", *transactions, *users)
	ids, openStats := runOpenPhase(ctx, engine, *users, *transactions, *concurrency)
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "no transaction could be opened")
		os.Exit(1)
	}
	submitStats, outcomes := runSubmitPhase(ctx, engine, ids, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("open+challenge", openStats)
	printStats("submit", submitStats)
	printOutcomes(outcomes)

	if err := checkCeiling(ctx, engine, ids); err != nil {
		fmt.Fprintf(os.Stderr, "attempt ceiling violated: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("attempt ceiling held for %d transactions\n", len(ids))
}

type openedTx struct {
	id     string
	userID string
}

func runOpenPhase(ctx context.Context, engine *voiceGate.Engine, users, n, concurrency int) ([]openedTx, phaseStats) {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, n)
		opened    = make([]openedTx, 0, n)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= n {
					return
				}
				userID := userName(i % users)
				t0 := time.Now()
				tx, err := engine.OpenTransaction(ctx, voiceGate.OpenRequest{
					UserID: userID,
					Kind:   voiceGate.KindDeposit,
					Amount: 100,
				})
				if err == nil {
					_, err = engine.BeginChallenge(ctx, userID, tx.ID)
				}
				d := time.Since(t0)

				mu.Lock()
				latencies = append(latencies, d)
				if err == nil {
					opened = append(opened, openedTx{id: tx.ID, userID: userID})
				}
				mu.Unlock()
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	return opened, computeStats(total, latencies, failures)
}

func runSubmitPhase(ctx context.Context, engine *voiceGate.Engine, txs []openedTx, ops, concurrency int) (phaseStats, map[string]int) {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		outcomes  = map[string]int{}
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				tx := txs[r.Intn(len(txs))]
				t0 := time.Now()
				res, err := engine.SubmitResponse(ctx, voiceGate.SubmitRequest{
					UserID:        tx.userID,
					TransactionID: tx.id,
					Audio:         bytes.NewReader(sampleAudio),
					Filename:      "answer.wav",
				})
				d := time.Since(t0)

				outcome := "error"
				if res != nil {
					outcome = string(res.Outcome)
				}
				if err != nil && res == nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				outcomes[outcome]++
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures), outcomes
}

// checkCeiling reads every transaction back and fails if one recorded more
// attempts than the protocol allows.
func checkCeiling(ctx context.Context, engine *voiceGate.Engine, txs []openedTx) error {
	for _, tx := range txs {
		p, err := engine.GetTransaction(ctx, tx.userID, tx.id)
		if err != nil {
			return fmt.Errorf("%s: %w", tx.id, err)
		}
		if p.Verification.Attempts > voiceGate.MaxVerificationAttempts {
			return fmt.Errorf("%s: %d attempts", tx.id, p.Verification.Attempts)
		}
		if p.Verification.Status == voiceGate.StatusDenied && p.Verification.Attempts != voiceGate.MaxVerificationAttempts {
			return fmt.Errorf("%s: denied after %d attempts", tx.id, p.Verification.Attempts)
		}
	}
	return nil
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func printOutcomes(outcomes map[string]int) {
	keys := make([]string, 0, len(outcomes))
	for k := range outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %-10s %d\n", k, outcomes[k])
	}
}

func userName(i int) string {
	return fmt.Sprintf("user-%d", i)
}

// book is an in-memory ProfileProvider and Ledger. Every user answers
// favoriteColor with the same phrase.
type book struct {
	mu       sync.Mutex
	balances map[string]int64
	commits  map[string]voiceGate.CommitResult
}

func newBook(users int) *book {
	b := &book{
		balances: make(map[string]int64, users),
		commits:  map[string]voiceGate.CommitResult{},
	}
	for i := 0; i < users; i++ {
		b.balances[userName(i)] = 1_000_000
	}
	return b
}

func (b *book) GetProfile(_ context.Context, userID string) (voiceGate.UserProfile, error) {
	b.mu.Lock()
	_, ok := b.balances[userID]
	b.mu.Unlock()
	if !ok {
		return voiceGate.UserProfile{}, voiceGate.ErrProfileNotFound
	}
	return voiceGate.UserProfile{
		UserID:          userID,
		VoiceRegistered: true,
		Answers:         map[string]string{"favoriteColor": answer},
	}, nil
}

func (b *book) Balance(_ context.Context, userID string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bal, ok := b.balances[userID]
	if !ok {
		return 0, voiceGate.ErrProfileNotFound
	}
	return bal, nil
}

func (b *book) ResolveRecipient(context.Context, string) (string, error) {
	return "", voiceGate.ErrRecipientNotFound
}

func (b *book) Commit(_ context.Context, tx voiceGate.PendingTransaction) (voiceGate.CommitResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.commits[tx.ID]; ok {
		prev.Replayed = true
		return prev, nil
	}
	if tx.Kind != voiceGate.KindDeposit {
		return voiceGate.CommitResult{}, errors.New("loadtest only deposits")
	}
	b.balances[tx.OwnerID] += tx.Amount
	res := voiceGate.CommitResult{
		TransactionID: tx.ID,
		LedgerID:      "lt-" + tx.ID,
		Kind:          tx.Kind,
		Amount:        tx.Amount,
		NewBalance:    b.balances[tx.OwnerID],
		CommittedAt:   time.Now().UTC(),
	}
	b.commits[tx.ID] = res
	return res, nil
}

type voiceStub struct{}

func (voiceStub) Match(context.Context, string, voiceGate.AudioClip) (voiceGate.VoiceMatch, error) {
	return voiceGate.VoiceMatch{Matched: true, Score: 0.93}, nil
}

// transcriberStub hears the right answer with the given probability.
type transcriberStub struct {
	correct float64
}

func (t transcriberStub) Transcribe(context.Context, voiceGate.AudioClip) (string, error) {
	if rand.Float64() < t.correct {
		return answer, nil
	}
	return "bright red", nil
}
