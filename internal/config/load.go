package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override values from the pipeline file.
const (
	EnvStorageKind    = "TRADEPIPE_STORAGE_KIND"
	EnvStorageDSN     = "TRADEPIPE_STORAGE_DSN"
	EnvStorageRoot    = "TRADEPIPE_STORAGE_ROOT"
	EnvSchedule       = "TRADEPIPE_SCHEDULE"
	EnvMaxRetries     = "TRADEPIPE_MAX_RETRIES"
	EnvLogLevel       = "TRADEPIPE_LOG_LEVEL"
	EnvPushgatewayURL = "PUSHGATEWAY_URL"
	EnvMetricsBackend = "METRICS_BACKEND"
)

// Load reads the pipeline file at path, applies environment overrides and
// fills defaults. A .env file in the working directory or next to the
// pipeline file is loaded first when present; variables already set in the
// environment win over .env entries.
func Load(path string) (Pipeline, error) {
	if err := loadDotEnv(".env", filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return Pipeline{}, err
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("open config: %w", err)
	}
	p, err := Decode(b)
	if err != nil {
		return Pipeline{}, err
	}
	ApplyEnv(&p)
	p.ApplyDefaults()
	return p, nil
}

// Decode parses a pipeline document. Unknown fields are rejected so typos in
// pipeline files surface early.
func Decode(b []byte) (Pipeline, error) {
	var p Pipeline
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("decode config: %w", err)
	}
	return p, nil
}

// ApplyEnv overrides p with any of the TRADEPIPE_* / metrics variables that
// are set and non-empty.
func ApplyEnv(p *Pipeline) {
	p.Storage.Kind = getenvString(EnvStorageKind, p.Storage.Kind)
	p.Storage.DSN = getenvString(EnvStorageDSN, p.Storage.DSN)
	p.Storage.Root = getenvString(EnvStorageRoot, p.Storage.Root)
	p.Schedule.Expression = getenvString(EnvSchedule, p.Schedule.Expression)
	p.Retry.MaxRetries = getenvInt(EnvMaxRetries, p.Retry.MaxRetries)
	p.Log.Level = getenvString(EnvLogLevel, p.Log.Level)
	p.Metrics.PushgatewayURL = getenvString(EnvPushgatewayURL, p.Metrics.PushgatewayURL)
	p.Metrics.Backend = getenvString(EnvMetricsBackend, p.Metrics.Backend)
}

func loadDotEnv(paths ...string) error {
	seen := map[string]bool{}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// getenvString returns the trimmed value of k, or def when unset or blank.
func getenvString(k, def string) string {
	if s := strings.TrimSpace(os.Getenv(k)); s != "" {
		return s
	}
	return def
}

// getenvInt returns the integer value of k, or def when unset or malformed.
func getenvInt(k string, def int) int {
	if s := os.Getenv(k); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

// pickInt chooses the first positive value 'a', otherwise returns 'b'.
func pickInt(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}
