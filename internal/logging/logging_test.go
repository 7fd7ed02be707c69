package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestInitTo_JSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	InitTo(&buf, "warn", "json")
	defer InitTo(&bytes.Buffer{}, "info", "text")

	For("ingest").Info("dropped")
	For("ingest").WithField("rows", 3).Warn("ingest: parse errors")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected only the warn line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if entry["component"] != "ingest" || entry["rows"] != float64(3) {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestInitTo_UnknownLevelFallsBack(t *testing.T) {
	var buf bytes.Buffer
	InitTo(&buf, "chatty", "text")
	defer InitTo(&bytes.Buffer{}, "info", "text")

	if logrus.GetLevel() != logrus.InfoLevel {
		t.Fatalf("level=%v; want info", logrus.GetLevel())
	}
	if !strings.Contains(buf.String(), "unknown level") {
		t.Fatalf("expected a warning about the level, got %q", buf.String())
	}
}
