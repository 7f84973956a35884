package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewLevels(t *testing.T) {
	if got := New("debug").GetLevel(); got != logrus.DebugLevel {
		t.Fatalf("expected debug, got %s", got)
	}
	if got := New("nonsense").GetLevel(); got != logrus.InfoLevel {
		t.Fatalf("expected info fallback, got %s", got)
	}
}

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New("info")
	log.SetOutput(&buf)

	log.WithField("user_id", "u1").Info("recording started")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected json output: %v", err)
	}
	if entry["msg"] != "recording started" || entry["user_id"] != "u1" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}
