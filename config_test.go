package voiceGate

import (
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Pending.RedisPrefix != "vgp" {
		t.Fatalf("unexpected redis prefix %q", cfg.Pending.RedisPrefix)
	}
	if cfg.Finalize.AutoCommit {
		t.Fatal("auto commit must be opt-in")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name: "voice timeout zero",
			mutate: func(c *Config) {
				c.Evaluation.VoiceTimeout = 0
			},
			wantValid: false,
		},
		{
			name: "transcribe timeout negative",
			mutate: func(c *Config) {
				c.Evaluation.TranscribeTimeout = -time.Second
			},
			wantValid: false,
		},
		{
			name: "max audio bytes zero",
			mutate: func(c *Config) {
				c.Evaluation.MaxAudioBytes = 0
			},
			wantValid: false,
		},
		{
			name: "nil fusion allowed",
			mutate: func(c *Config) {
				c.Evaluation.Fusion = nil
			},
			wantValid: true,
		},
		{
			name: "strict threshold out of range",
			mutate: func(c *Config) {
				c.Evaluation.Fusion = StrictConjunction{ContentThreshold: 1.2}
			},
			wantValid: false,
		},
		{
			name: "weighted policy valid",
			mutate: func(c *Config) {
				c.Evaluation.Fusion = WeightedScore{VoiceWeight: 0.5, ContentWeight: 0.5, MinCombined: 0.8}
			},
			wantValid: true,
		},
		{
			name: "weighted policy zero weights",
			mutate: func(c *Config) {
				c.Evaluation.Fusion = WeightedScore{MinCombined: 0.8}
			},
			wantValid: false,
		},
		{
			name: "blank redis prefix",
			mutate: func(c *Config) {
				c.Pending.RedisPrefix = "  "
			},
			wantValid: false,
		},
		{
			name: "redis prefix with colon",
			mutate: func(c *Config) {
				c.Pending.RedisPrefix = "vg:p"
			},
			wantValid: false,
		},
		{
			name: "pending ttl zero",
			mutate: func(c *Config) {
				c.Pending.TTL = 0
			},
			wantValid: false,
		},
		{
			name: "closed retention zero",
			mutate: func(c *Config) {
				c.Pending.ClosedRetention = 0
			},
			wantValid: false,
		},
		{
			name: "challenge throttle without budget",
			mutate: func(c *Config) {
				c.Throttle.MaxChallenges = 0
			},
			wantValid: false,
		},
		{
			name: "disabled challenge throttle ignores budget",
			mutate: func(c *Config) {
				c.Throttle.EnableChallengeThrottle = false
				c.Throttle.MaxChallenges = 0
			},
			wantValid: true,
		},
		{
			name: "open throttle without window",
			mutate: func(c *Config) {
				c.Throttle.EnableOpenThrottle = true
				c.Throttle.OpenWindow = 0
			},
			wantValid: false,
		},
		{
			name: "audit enabled without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
		{
			name: "latency histograms without metrics",
			mutate: func(c *Config) {
				c.Metrics.EnableLatencyHistograms = true
			},
			wantValid: false,
		},
		{
			name: "latency histograms with metrics",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.EnableLatencyHistograms = true
			},
			wantValid: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected invalid config, got nil")
			}
		})
	}
}

func TestBuilderRequiresCollaborators(t *testing.T) {
	_, rdb := newTestRedis(t)

	if _, err := New().Build(); err == nil {
		t.Fatal("expected error without redis")
	}
	if _, err := New().WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected error without profile provider")
	}

	ledger := newMemLedger()
	_, err := New().
		WithRedis(rdb).
		WithProfileProvider(ledger).
		WithLedger(ledger).
		WithTranscriber(&stubTranscriber{}).
		Build()
	if err == nil {
		t.Fatal("expected error without voice matcher")
	}
}

func TestBuilderSingleUse(t *testing.T) {
	b := New().
		WithRedis(testRedisClient(t)).
		WithProfileProvider(newMemLedger()).
		WithLedger(newMemLedger()).
		WithVoiceMatcher(&stubVoice{}).
		WithTranscriber(&stubTranscriber{})
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestBuilderRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pending.TTL = 0

	_, err := New().
		WithConfig(cfg).
		WithRedis(testRedisClient(t)).
		WithProfileProvider(newMemLedger()).
		WithLedger(newMemLedger()).
		WithVoiceMatcher(&stubVoice{}).
		WithTranscriber(&stubTranscriber{}).
		Build()
	if err == nil {
		t.Fatal("expected invalid config to fail Build")
	}
}
