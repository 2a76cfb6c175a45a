package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestSetupWritesJSON(t *testing.T) {
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	defer func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	}()

	var buf bytes.Buffer
	if _, err := Setup(Config{Level: "warn", Format: "json", Output: &buf}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	log.Info().Msg("hidden")
	log.Warn().Str("symbol", "BTC").Msg("shown")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected exactly one json line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "shown" || entry["symbol"] != "BTC" || entry["level"] != "warn" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	if _, err := Setup(Config{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
