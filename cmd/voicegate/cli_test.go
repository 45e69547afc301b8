package main

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	voiceGate "github.com/MrEthical07/voiceGate"
	"github.com/MrEthical07/voiceGate/internal/settings"
	"github.com/MrEthical07/voiceGate/ledger/sqlledger"
)

func TestParseAnswers(t *testing.T) {
	got, err := parseAnswers([]string{"nickname=Max", " petName = Rex "})
	if err != nil {
		t.Fatalf("parseAnswers: %v", err)
	}
	if got["nickname"] != "Max" || got["petName"] != "Rex" {
		t.Fatalf("answers = %v", got)
	}

	for _, bad := range [][]string{
		{"nickname"},
		{"nickname="},
		{"shoe=42"},
		{"nickname=a", "nickname=b"},
	} {
		if _, err := parseAnswers(bad); err == nil {
			t.Fatalf("expected error for %v", bad)
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	cases := map[int64]string{0: "0.00", 5: "0.05", 12345: "123.45", -250: "-2.50"}
	for in, want := range cases {
		if got := formatAmount(in); got != want {
			t.Fatalf("formatAmount(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestEngineConfigFromSettings(t *testing.T) {
	s := &settings.Settings{
		VoiceTimeout:      2 * time.Second,
		TranscribeTimeout: 3 * time.Second,
		MaxAudioBytes:     1 << 20,
		SpoolDir:          t.TempDir(),
		AutoCommit:        true,
	}
	cfg := engineConfig(s)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Evaluation.VoiceTimeout != 2*time.Second || !cfg.Finalize.AutoCommit {
		t.Fatalf("settings not applied: %+v", cfg)
	}
	if !cfg.Audit.Enabled || !cfg.Metrics.Enabled {
		t.Fatal("audit and metrics must be on for the server")
	}
}

func TestBuildAuth(t *testing.T) {
	if _, err := buildAuth(&settings.Settings{}, false); err == nil {
		t.Fatal("expected error without keys outside dev")
	}

	dev, err := buildAuth(&settings.Settings{}, true)
	if err != nil {
		t.Fatalf("dev auth: %v", err)
	}
	rec := httptest.NewRecorder()
	dev(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("dev auth without header = %d", rec.Code)
	}

	if _, err := buildAuth(&settings.Settings{JWTSecret: "short"}, false); err == nil {
		t.Fatal("expected short secret to be rejected")
	}
	if _, err := buildAuth(&settings.Settings{JWTSecret: strings.Repeat("k", 32)}, false); err != nil {
		t.Fatalf("hs256 auth: %v", err)
	}
}

func TestHistoryTable(t *testing.T) {
	data := historyTable([]sqlledger.Entry{
		{Kind: voiceGate.KindTransfer, Direction: sqlledger.DirectionSent, RecipientAccount: "ACC-B", Amount: 300, PendingID: "p-1"},
		{Kind: voiceGate.KindTransfer, Direction: sqlledger.DirectionReceived, SenderID: "carol", Amount: 50, PendingID: "p-2"},
		{Kind: voiceGate.KindDeposit, Direction: sqlledger.DirectionSent, Amount: 100, PendingID: "p-3"},
	})
	if len(data) != 4 {
		t.Fatalf("rows = %d", len(data))
	}
	if data[1][3] != "ACC-B" || data[1][4] != "-3.00" {
		t.Fatalf("sent row = %v", data[1])
	}
	if data[2][3] != "carol" || data[2][4] != "0.50" {
		t.Fatalf("received row = %v", data[2])
	}
	if data[3][4] != "1.00" {
		t.Fatalf("deposit row = %v", data[3])
	}
}
