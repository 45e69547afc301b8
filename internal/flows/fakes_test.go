package flows

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

var (
	errEngineNotReady       = errors.New("engine not ready")
	errInvalidRequest       = errors.New("invalid request")
	errAudioRequired        = errors.New("audio required")
	errMissingChallenge     = errors.New("missing challenge")
	errChallengeMismatch    = errors.New("challenge mismatch")
	errTransactionNotFound  = errors.New("transaction not found")
	errTransactionClosed    = errors.New("transaction closed")
	errAttemptsExhausted    = errors.New("attempts exhausted")
	errStatusConflict       = errors.New("status conflict")
	errNoVoiceProfile       = errors.New("no voice profile")
	errNoChallengeAvailable = errors.New("no challenge available")
	errRateLimited          = errors.New("rate limited")
	errInvalidTransaction   = errors.New("invalid transaction")
	errInsufficientFunds    = errors.New("insufficient funds")
	errVerificationRequired = errors.New("verification required")
)

// memPending is an in-memory pending store with the same guarded semantics
// as the Redis implementation.
type memPending struct {
	mu          sync.Mutex
	records     map[string]Pending
	binds       []string
	transitions []transitionCall

	// stale, when set, is returned by load instead of the stored record.
	stale *Pending
}

type transitionCall struct {
	from, to  uint8
	retention time.Duration
}

func newMemPending(records ...Pending) *memPending {
	m := &memPending{records: map[string]Pending{}}
	for _, r := range records {
		m.records[r.ID] = r
	}
	return m
}

func (m *memPending) load(_ context.Context, id string) (Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stale != nil {
		p := *m.stale
		m.stale = nil
		return p, nil
	}
	p, ok := m.records[id]
	if !ok {
		return Pending{}, errTransactionNotFound
	}
	return p, nil
}

func (m *memPending) create(_ context.Context, p Pending, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[p.ID]; ok {
		return errors.New("exists")
	}
	m.records[p.ID] = p
	return nil
}

func (m *memPending) recordAttempt(_ context.Context, id string, ceiling int, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.records[id]
	if !ok {
		return 0, errTransactionNotFound
	}
	if p.Status != StatusAwaiting {
		return 0, errTransactionClosed
	}
	if p.Attempts+1 > ceiling {
		return 0, errAttemptsExhausted
	}
	p.Attempts++
	p.LastAttemptAt = now.Unix()
	m.records[id] = p
	return p.Attempts, nil
}

func (m *memPending) bind(_ context.Context, id, field string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.records[id]
	if !ok {
		return errTransactionNotFound
	}
	if p.Status != StatusAwaiting {
		return errTransactionClosed
	}
	p.BoundField = field
	m.records[id] = p
	m.binds = append(m.binds, field)
	return nil
}

func (m *memPending) transition(_ context.Context, id string, from, to uint8, _ time.Time, retention time.Duration) (Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.records[id]
	if !ok {
		return Pending{}, errTransactionNotFound
	}
	if p.Status != from {
		return p, errStatusConflict
	}
	p.Status = to
	p.BoundField = ""
	m.records[id] = p
	m.transitions = append(m.transitions, transitionCall{from: from, to: to, retention: retention})
	return p, nil
}

func (m *memPending) markCommitted(_ context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.records[id]
	if !ok {
		return false, errTransactionNotFound
	}
	if p.CommittedAt != 0 {
		return false, nil
	}
	p.CommittedAt = now.Unix()
	m.records[id] = p
	return true, nil
}

func (m *memPending) get(id string) Pending {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id]
}

type fakeClip struct {
	data    []byte
	mu      sync.Mutex
	removed int
}

func (c *fakeClip) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(c.data)), nil
}
func (c *fakeClip) Size() int64      { return int64(len(c.data)) }
func (c *fakeClip) Filename() string { return "audio.wav" }
func (c *fakeClip) Remove() error {
	c.mu.Lock()
	c.removed++
	c.mu.Unlock()
	return nil
}

type clipTracker struct {
	mu    sync.Mutex
	clips []*fakeClip
}

func (t *clipTracker) spool(r io.Reader, _ string) (Clip, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errAudioRequired
	}
	c := &fakeClip{data: data}
	t.mu.Lock()
	t.clips = append(t.clips, c)
	t.mu.Unlock()
	return c, nil
}

func (t *clipTracker) allRemoved() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.clips {
		if c.removed == 0 {
			return false
		}
	}
	return true
}

var testAnswers = map[string]string{
	"nickname":      "Robin",
	"favoriteColor": "deep blue",
	"petName":       "",
}

func testProfile() Profile {
	return Profile{UserID: "u1", VoiceRegistered: true, Answers: testAnswers}
}

func firstEligible(answers map[string]string) (ChallengeField, error) {
	for _, key := range []string{"nickname", "favoriteColor", "petName"} {
		if strings.TrimSpace(answers[key]) != "" {
			return ChallengeField{Key: key, Prompt: "say " + key}, nil
		}
	}
	return ChallengeField{}, errNoChallengeAvailable
}

type submitHarness struct {
	store     *memPending
	clips     *clipTracker
	evaluated int
	verdicts  []bool
	logs      []AttemptLog
	metrics   map[int]int
}

func newSubmitHarness(records ...Pending) *submitHarness {
	return &submitHarness{
		store:   newMemPending(records...),
		clips:   &clipTracker{},
		metrics: map[int]int{},
	}
}

const (
	mAttempt = iota + 1
	mApproved
	mRetry
	mDenied
	mClosed
	mRejected
	mVoiceMismatch
	mContentMismatch
	mDegraded
	mIssued
)

func (h *submitHarness) deps() SubmitDeps {
	return SubmitDeps{
		Ceiling:         10,
		ClosedRetention: time.Hour,
		LoadPending:     h.store.load,
		RecordAttempt:   h.store.recordAttempt,
		BindChallenge:   h.store.bind,
		Transition:      h.store.transition,
		LoadProfile: func(context.Context, string) (Profile, error) {
			return testProfile(), nil
		},
		SelectChallenge: firstEligible,
		KnownField: func(key string) bool {
			_, ok := testAnswers[key]
			return ok
		},
		SpoolAudio: h.clips.spool,
		Evaluate: func(_ context.Context, _ string, expected string, clip Clip) Verdict {
			approved := false
			if h.evaluated < len(h.verdicts) {
				approved = h.verdicts[h.evaluated]
			}
			h.evaluated++
			return Verdict{
				Approved:       approved,
				Voice:          VoiceResult{Matched: approved, Score: 0.9},
				ContentMatched: approved,
				ContentScore:   1,
				Transcript:     expected,
			}
		},
		LogAttempt: func(_ context.Context, l AttemptLog) {
			h.logs = append(h.logs, l)
		},
		MapStoreError: func(err error) error { return err },
		MetricInc:     func(id int) { h.metrics[id]++ },
		Metrics: SubmitMetrics{
			VerifyAttempt:   mAttempt,
			VerifyApproved:  mApproved,
			VerifyRetry:     mRetry,
			VerifyDenied:    mDenied,
			VerifyClosed:    mClosed,
			VerifyRejected:  mRejected,
			VoiceMismatch:   mVoiceMismatch,
			ContentMismatch: mContentMismatch,
			ServiceDegraded: mDegraded,
			ChallengeIssued: mIssued,
		},
		Errors: SubmitErrors{
			EngineNotReady:       errEngineNotReady,
			InvalidRequest:       errInvalidRequest,
			AudioRequired:        errAudioRequired,
			MissingChallenge:     errMissingChallenge,
			ChallengeMismatch:    errChallengeMismatch,
			TransactionNotFound:  errTransactionNotFound,
			TransactionClosed:    errTransactionClosed,
			AttemptsExhausted:    errAttemptsExhausted,
			StatusConflict:       errStatusConflict,
			NoVoiceProfile:       errNoVoiceProfile,
			NoChallengeAvailable: errNoChallengeAvailable,
		},
	}
}

func awaiting(id, field string, attempts int) Pending {
	return Pending{
		ID:         id,
		OwnerID:    "u1",
		Kind:       KindWithdraw,
		Amount:     500,
		Status:     StatusAwaiting,
		Attempts:   attempts,
		BoundField: field,
	}
}

func audio() io.Reader {
	return strings.NewReader("RIFF....WAVEfmt ")
}
