package flows

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
)

type EvaluateDeps struct {
	VoiceTimeout      time.Duration
	TranscribeTimeout time.Duration

	MatchVoice func(context.Context, string, Clip) (VoiceResult, error)
	Transcribe func(context.Context, Clip) (string, error)
	Similarity func(string, string) float64
	// Decide fuses the two factors into (contentMatched, approved).
	Decide func(VoiceResult, float64) (bool, bool)

	Now            func() time.Time
	ObserveLatency func(time.Duration)
}

// RunEvaluate scores one audio clip against the expected answer. Collaborator
// failures never abort it; they degrade the matching factor to false and are
// listed in Verdict.Degraded.
func RunEvaluate(ctx context.Context, userID, expected string, clip Clip, deps EvaluateDeps) Verdict {
	normalizeEvaluateDeps(&deps)
	start := deps.Now()

	var (
		voice      VoiceResult
		voiceErr   error
		transcript string
		sttErr     error
	)

	var g errgroup.Group
	g.Go(func() error {
		if deps.MatchVoice == nil {
			voiceErr = errors.New("voice matcher not configured")
			return nil
		}
		callCtx, cancel := withOptionalTimeout(ctx, deps.VoiceTimeout)
		defer cancel()
		voice, voiceErr = deps.MatchVoice(callCtx, userID, clip)
		if voiceErr == nil && callCtx.Err() != nil {
			voiceErr = callCtx.Err()
		}
		return nil
	})
	g.Go(func() error {
		if deps.Transcribe == nil {
			sttErr = errors.New("transcriber not configured")
			return nil
		}
		callCtx, cancel := withOptionalTimeout(ctx, deps.TranscribeTimeout)
		defer cancel()
		transcript, sttErr = deps.Transcribe(callCtx, clip)
		if sttErr == nil && callCtx.Err() != nil {
			sttErr = callCtx.Err()
		}
		return nil
	})
	_ = g.Wait()

	verdict := Verdict{}
	if voiceErr != nil {
		verdict.Degraded = append(verdict.Degraded, degradedReason("voice", voiceErr))
		voice = VoiceResult{Matched: false, Score: voice.Score, Message: voice.Message}
	}
	if sttErr != nil {
		verdict.Degraded = append(verdict.Degraded, degradedReason("transcribe", sttErr))
		transcript = ""
	}

	verdict.Voice = voice
	verdict.Transcript = transcript
	verdict.ContentScore = deps.Similarity(transcript, expected)
	verdict.ContentMatched, verdict.Approved = deps.Decide(voice, verdict.ContentScore)
	verdict.Elapsed = deps.Now().Sub(start)
	deps.ObserveLatency(verdict.Elapsed)

	return verdict
}

func degradedReason(service string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return service + "_timeout"
	}
	if errors.Is(err, context.Canceled) {
		return service + "_canceled"
	}
	return service + "_unavailable"
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func normalizeEvaluateDeps(deps *EvaluateDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ObserveLatency == nil {
		deps.ObserveLatency = func(time.Duration) {}
	}
	if deps.Similarity == nil {
		deps.Similarity = func(string, string) float64 { return 0 }
	}
	if deps.Decide == nil {
		deps.Decide = func(v VoiceResult, score float64) (bool, bool) {
			content := score > 0.7
			return content, v.Matched && content
		}
	}
}
