// Package config defines the JSON pipeline document that drives a tradepipe
// deployment: which raw sources feed the ingestor, where layer snapshots are
// stored, when runs are scheduled and how the process reports on itself.
//
// Field names in Go mirror the JSON structure used in configs/pipelines/*.json.
// Decoding is plain encoding/json; Load adds .env support and environment
// overrides on top.
//
// Example (trimmed):
//
//	{
//	  "job": "client_investments",
//	  "sources": [
//	    { "dataset": "trade",  "kind": "file", "file": { "path": "testdata/trades.csv" } },
//	    { "dataset": "client", "kind": "http", "http": { "url": "https://ref.example/clients.csv" } }
//	  ],
//	  "storage":  { "kind": "fs", "root": "data" },
//	  "schedule": { "expression": "@every 15m" },
//	  "retry":    { "max_retries": 2, "min_backoff": "1s", "max_backoff": "30s" }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Pipeline is the top-level object decoded from a pipeline file.
type Pipeline struct {
	// Job names the pipeline. It labels metrics and identifies runs; two
	// orchestrators with the same job never run concurrently in one process.
	Job string `json:"job"`

	// Sources lists one raw input per ingestible dataset.
	Sources []Source `json:"sources"`

	Storage  Storage  `json:"storage"`
	Schedule Schedule `json:"schedule"`
	Retry    Retry    `json:"retry"`
	Runtime  Runtime  `json:"runtime"`
	Metrics  Metrics  `json:"metrics"`
	API      API      `json:"api"`
	Log      Log      `json:"log"`
}

// Source identifies where one dataset's raw rows come from.
type Source struct {
	// Dataset is the raw dataset the source feeds ("trade" or "client").
	Dataset string `json:"dataset"`

	// Kind selects the source implementation: "file" or "http".
	Kind string `json:"kind"`

	File SourceFile `json:"file"`
	HTTP SourceHTTP `json:"http"`

	// Parser configures the delimited-text reader for this source.
	Parser Parser `json:"parser"`
}

// SourceFile holds configuration for the "file" source kind.
type SourceFile struct {
	// Path is the local filesystem path to the input file.
	Path string `json:"path"`
}

// SourceHTTP holds configuration for the "http" source kind.
type SourceHTTP struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`

	// Timeout bounds a single request attempt. Zero uses the client default.
	Timeout Duration `json:"timeout,omitempty"`

	// MaxRetries is the number of extra attempts on transient failures.
	MaxRetries int `json:"max_retries,omitempty"`

	InsecureSkipVerify bool `json:"insecure_skip_verify,omitempty"`
}

// Parser carries reader options. For CSV, recognised keys are:
//
//	comma (string), lazy_quotes (bool), trim_space (bool), header_map (object)
type Parser struct {
	Options Options `json:"options"`
}

// Storage selects the layer store backend.
type Storage struct {
	// Kind is one of fs, sqlite, postgres, mssql, mysql or memory.
	Kind string `json:"kind"`

	// Root is the snapshot directory of the fs backend.
	Root string `json:"root,omitempty"`

	// DSN is the connection string of the SQL backends.
	DSN string `json:"dsn,omitempty"`

	// TablePrefix prefixes every table the SQL backends create.
	TablePrefix string `json:"table_prefix,omitempty"`
}

// Schedule configures periodic runs. An empty expression disables the
// scheduler; runs can still be triggered manually.
type Schedule struct {
	// Expression is a standard cron expression or descriptor such as
	// "@every 15m" or "@daily".
	Expression string `json:"expression"`
}

// Retry configures how failed runs are retried.
type Retry struct {
	MaxRetries int      `json:"max_retries"`
	MinBackoff Duration `json:"min_backoff"`
	MaxBackoff Duration `json:"max_backoff"`
}

// Runtime controls stage parallelism and bookkeeping.
type Runtime struct {
	AggregatePartitions int `json:"aggregate_partitions"`
	HistorySize         int `json:"history_size"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend is "none", "pushgateway" or "datadog".
	Backend        string `json:"backend"`
	PushgatewayURL string `json:"pushgateway_url,omitempty"`
	DatadogAddr    string `json:"datadog_addr,omitempty"`
}

// API configures the HTTP surface started by -serve.
type API struct {
	Addr          string  `json:"addr"`
	RatePerSecond float64 `json:"rate_per_second"`
	Burst         int     `json:"burst"`
}

// Log configures the process logger.
type Log struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Defaults applied by ApplyDefaults.
const (
	DefaultStorageKind         = "fs"
	DefaultStorageRoot         = "data"
	DefaultAggregatePartitions = 4
	DefaultHistorySize         = 50
	DefaultMinBackoff          = time.Second
	DefaultMaxBackoff          = 30 * time.Second
	DefaultAPIAddr             = ":8080"
	DefaultRatePerSecond       = 20
	DefaultBurst               = 40
)

// ApplyDefaults fills zero-valued settings with their defaults. Explicit
// values are never changed.
func (p *Pipeline) ApplyDefaults() {
	if p.Storage.Kind == "" {
		p.Storage.Kind = DefaultStorageKind
	}
	if p.Storage.Kind == "fs" && p.Storage.Root == "" {
		p.Storage.Root = DefaultStorageRoot
	}
	p.Runtime.AggregatePartitions = pickInt(p.Runtime.AggregatePartitions, DefaultAggregatePartitions)
	p.Runtime.HistorySize = pickInt(p.Runtime.HistorySize, DefaultHistorySize)
	if p.Retry.MinBackoff <= 0 {
		p.Retry.MinBackoff = Duration(DefaultMinBackoff)
	}
	if p.Retry.MaxBackoff <= 0 {
		p.Retry.MaxBackoff = Duration(DefaultMaxBackoff)
	}
	if p.Metrics.Backend == "" {
		p.Metrics.Backend = "none"
	}
	if p.API.Addr == "" {
		p.API.Addr = DefaultAPIAddr
	}
	if p.API.RatePerSecond == 0 {
		p.API.RatePerSecond = DefaultRatePerSecond
	}
	p.API.Burst = pickInt(p.API.Burst, DefaultBurst)
	if p.Log.Level == "" {
		p.Log.Level = "info"
	}
	if p.Log.Format == "" {
		p.Log.Format = "text"
	}
	for i := range p.Sources {
		if p.Sources[i].Parser.Options == nil {
			p.Sources[i].Parser.Options = Options{}
		}
	}
}

// Source returns the configured source for dataset.
func (p Pipeline) Source(dataset string) (Source, bool) {
	for _, s := range p.Sources {
		if s.Dataset == dataset {
			return s, true
		}
	}
	return Source{}, false
}

// Duration is a time.Duration that decodes from a Go duration string ("15s")
// or from a JSON number of seconds.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON encodes d as a duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts "1m30s" style strings and plain numbers of seconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		*d = 0
		return nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		if str == "" {
			*d = 0
			return nil
		}
		v, err := time.ParseDuration(str)
		if err != nil {
			return fmt.Errorf("duration %q: %w", str, err)
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration %s: %w", s, err)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// Options is a small helper to fetch typed values from arbitrary JSON maps
// without introducing third-party configuration libraries. It purposefully
// performs only minimal type coercion and returns provided defaults when a key
// is absent or of an unexpected type.
//
// Options is used for parser/transform-specific configuration where the shape
// varies by implementation.
type Options map[string]any

// String returns the string value for key or def if key is missing or not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def if key is missing or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers are decoded as
// float64 by encoding/json, so this method accepts float64 and casts to int.
// If the value is neither float64 nor int, def is returned.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def if key is
// missing or empty. This is useful for single-character parser settings such as
// a CSV delimiter.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			return []rune(s)[0]
		}
	}
	return def
}

// StringMap returns a map[string]string for key when the value is an object
// whose values are strings. Non-string values are ignored. Returns an empty map
// when the key is missing or the value is not an object.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o[key]; ok {
		if m, ok := v.(map[string]any); ok {
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		}
	}
	return res
}

// StringSlice returns a []string for key when the value is an array of strings
// (or an array of interface values containing strings). Returns nil when the
// key is missing or the value is not an array.
func (o Options) StringSlice(key string) []string {
	if v, ok := o[key]; ok {
		switch vv := v.(type) {
		case []any:
			out := make([]string, 0, len(vv))
			for _, x := range vv {
				if s, ok := x.(string); ok {
					out = append(out, s)
				}
			}
			return out
		case []string:
			return vv
		}
	}
	return nil
}

// Any returns the raw value for key (which may itself be a nested
// map[string]any, []any, or primitive). This is useful for retrieving nested
// configuration blocks that will be unmarshaled into a typed struct by the
// caller (e.g., an inline validation contract).
func (o Options) Any(key string) any {
	if v, ok := o[key]; ok {
		return v
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler so that a missing or null "options"
// object in JSON decodes to a non-nil, empty Options map. This simplifies call
// sites by removing the need to nil-check Options values.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
