package flows

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func exactSimilarity(a, b string) float64 {
	if a != "" && strings.EqualFold(a, b) {
		return 1
	}
	return 0
}

func TestEvaluateConjunction(t *testing.T) {
	tests := []struct {
		name       string
		voice      bool
		transcript string
		want       bool
	}{
		{"both match", true, "robin", true},
		{"voice only", true, "batman", false},
		{"content only", false, "robin", false},
		{"neither", false, "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := RunEvaluate(context.Background(), "u1", "Robin", &fakeClip{data: []byte("x")}, EvaluateDeps{
				MatchVoice: func(context.Context, string, Clip) (VoiceResult, error) {
					return VoiceResult{Matched: tc.voice, Score: 0.8}, nil
				},
				Transcribe: func(context.Context, Clip) (string, error) {
					return tc.transcript, nil
				},
				Similarity: exactSimilarity,
			})
			if v.Approved != tc.want {
				t.Fatalf("expected approved=%v, got %+v", tc.want, v)
			}
			if v.Transcript != tc.transcript || len(v.Degraded) != 0 {
				t.Fatalf("unexpected verdict detail: %+v", v)
			}
		})
	}
}

func TestEvaluateRunsCollaboratorsConcurrently(t *testing.T) {
	var inFlight, peak atomic.Int32
	track := func() func() {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(40 * time.Millisecond)
		return func() { inFlight.Add(-1) }
	}

	RunEvaluate(context.Background(), "u1", "robin", &fakeClip{data: []byte("x")}, EvaluateDeps{
		MatchVoice: func(context.Context, string, Clip) (VoiceResult, error) {
			defer track()()
			return VoiceResult{Matched: true}, nil
		},
		Transcribe: func(context.Context, Clip) (string, error) {
			defer track()()
			return "robin", nil
		},
	})

	if peak.Load() != 2 {
		t.Fatalf("expected voice and transcription to overlap, peak=%d", peak.Load())
	}
}

func TestEvaluateDegradesOnFailures(t *testing.T) {
	v := RunEvaluate(context.Background(), "u1", "robin", &fakeClip{data: []byte("x")}, EvaluateDeps{
		VoiceTimeout:      20 * time.Millisecond,
		TranscribeTimeout: time.Second,
		MatchVoice: func(ctx context.Context, _ string, _ Clip) (VoiceResult, error) {
			<-ctx.Done()
			return VoiceResult{}, ctx.Err()
		},
		Transcribe: func(context.Context, Clip) (string, error) {
			return "", errors.New("stt down")
		},
		Similarity: exactSimilarity,
	})

	if v.Approved || v.Voice.Matched || v.ContentMatched {
		t.Fatalf("degraded evaluation must fail closed: %+v", v)
	}
	want := map[string]bool{"voice_timeout": true, "transcribe_unavailable": true}
	if len(v.Degraded) != 2 || !want[v.Degraded[0]] || !want[v.Degraded[1]] {
		t.Fatalf("unexpected degraded reasons: %v", v.Degraded)
	}
}

func TestEvaluateVoiceErrorOverridesMatch(t *testing.T) {
	v := RunEvaluate(context.Background(), "u1", "robin", &fakeClip{data: []byte("x")}, EvaluateDeps{
		MatchVoice: func(context.Context, string, Clip) (VoiceResult, error) {
			return VoiceResult{Matched: true, Score: 0.99}, errors.New("bad payload")
		},
		Transcribe: func(context.Context, Clip) (string, error) { return "robin", nil },
		Similarity: exactSimilarity,
	})
	if v.Approved || v.Voice.Matched {
		t.Fatalf("voice error must not count as a match: %+v", v)
	}
	if !v.ContentMatched {
		t.Fatalf("content factor should still be scored: %+v", v)
	}
}

func TestEvaluateCollaboratorsShareClip(t *testing.T) {
	clip := &fakeClip{data: []byte("audio-bytes")}
	read := func(c Clip) string {
		rc, err := c.Open()
		if err != nil {
			return ""
		}
		defer rc.Close()
		b, _ := io.ReadAll(rc)
		return string(b)
	}

	var voiceSaw, sttSaw string
	RunEvaluate(context.Background(), "u1", "x", clip, EvaluateDeps{
		MatchVoice: func(_ context.Context, _ string, c Clip) (VoiceResult, error) {
			voiceSaw = read(c)
			return VoiceResult{}, nil
		},
		Transcribe: func(_ context.Context, c Clip) (string, error) {
			sttSaw = read(c)
			return "", nil
		},
	})
	if voiceSaw != "audio-bytes" || sttSaw != "audio-bytes" {
		t.Fatalf("each collaborator must read the full clip: %q %q", voiceSaw, sttSaw)
	}
}

func TestEvaluateObservesLatency(t *testing.T) {
	var observed time.Duration
	base := time.Unix(1700000000, 0)
	calls := 0
	RunEvaluate(context.Background(), "u1", "x", &fakeClip{}, EvaluateDeps{
		MatchVoice: func(context.Context, string, Clip) (VoiceResult, error) { return VoiceResult{}, nil },
		Transcribe: func(context.Context, Clip) (string, error) { return "", nil },
		Now: func() time.Time {
			calls++
			return base.Add(time.Duration(calls-1) * 300 * time.Millisecond)
		},
		ObserveLatency: func(d time.Duration) { observed = d },
	})
	if observed != 300*time.Millisecond {
		t.Fatalf("expected 300ms latency, got %v", observed)
	}
}
