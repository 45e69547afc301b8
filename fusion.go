package voiceGate

import "fmt"

// DefaultContentThreshold is the similarity a transcript must exceed for the
// content factor to match.
const DefaultContentThreshold = 0.7

// FusionPolicy combines the voice factor and the content similarity into the
// two match decisions of a [Verdict].
type FusionPolicy interface {
	Decide(voice VoiceMatch, contentScore float64) (contentMatched, approved bool)
}

// StrictConjunction approves only when the voice matches and the content
// score is strictly above ContentThreshold. It is the default policy.
type StrictConjunction struct {
	ContentThreshold float64
}

func (p StrictConjunction) Decide(voice VoiceMatch, contentScore float64) (bool, bool) {
	threshold := p.ContentThreshold
	if threshold <= 0 {
		threshold = DefaultContentThreshold
	}
	content := contentScore > threshold
	return content, voice.Matched && content
}

// WeightedScore approves when both factors pass their own floor and the
// weighted sum of the voice score and content score reaches MinCombined.
// Content still matches only above ContentThreshold.
type WeightedScore struct {
	ContentThreshold float64
	VoiceWeight      float64
	ContentWeight    float64
	MinCombined      float64
}

func (p WeightedScore) Decide(voice VoiceMatch, contentScore float64) (bool, bool) {
	threshold := p.ContentThreshold
	if threshold <= 0 {
		threshold = DefaultContentThreshold
	}
	content := contentScore > threshold
	if !voice.Matched || !content {
		return content, false
	}
	combined := p.VoiceWeight*voice.Score + p.ContentWeight*contentScore
	return content, combined >= p.MinCombined
}

func validateFusion(p FusionPolicy) error {
	switch v := p.(type) {
	case nil:
		return nil
	case StrictConjunction:
		if v.ContentThreshold < 0 || v.ContentThreshold >= 1 {
			return fmt.Errorf("StrictConjunction ContentThreshold must be in [0,1), got %v", v.ContentThreshold)
		}
	case WeightedScore:
		if v.ContentThreshold < 0 || v.ContentThreshold >= 1 {
			return fmt.Errorf("WeightedScore ContentThreshold must be in [0,1), got %v", v.ContentThreshold)
		}
		if v.VoiceWeight < 0 || v.ContentWeight < 0 || v.VoiceWeight+v.ContentWeight == 0 {
			return fmt.Errorf("WeightedScore weights must be non-negative and not both zero")
		}
	}
	return nil
}
