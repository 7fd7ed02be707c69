// Package config provides configuration models and helpers for tradepipe.
//
// This file adds a lightweight linter/validator for Pipeline values. It
// performs static checks over a decoded Pipeline and returns a list of issues
// (errors and warnings) that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"tradepipe/internal/schema"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a Pipeline.
//
// Path is a dotted path into the config (e.g. "storage.kind",
// "sources[1].http.url"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has SeverityError.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// StorageKinds lists the storage backends built into the binary.
var StorageKinds = []string{"fs", "memory", "mssql", "mysql", "postgres", "sqlite"}

// ValidatePipeline performs static validation / linting of a Pipeline.
//
// It does not mutate the pipeline. Run it after ApplyDefaults (Load does
// that) so zero values that have defaults are not reported.
//
//	p, err := config.Load(path)
//	if err != nil { ... }
//	for _, iss := range config.ValidatePipeline(p) {
//	    fmt.Printf("%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
//	}
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it is used for metrics labeling and identifying runs",
		})
	}
	issues = append(issues, validateSources(p.Sources)...)
	issues = append(issues, validateStorage(p.Storage)...)
	issues = append(issues, validateSchedule(p.Schedule)...)
	issues = append(issues, validateRetry(p.Retry)...)
	issues = append(issues, validateRuntime(p.Runtime)...)
	issues = append(issues, validateMetrics(p.Metrics)...)
	issues = append(issues, validateAPI(p.API)...)
	issues = append(issues, validateLog(p.Log)...)

	return issues
}

// validateSources checks that every ingestible dataset has exactly one
// well-formed source.
func validateSources(ss []Source) []Issue {
	var issues []Issue

	seen := map[string]int{}
	for i, s := range ss {
		base := fmt.Sprintf("sources[%d]", i)

		switch {
		case strings.TrimSpace(s.Dataset) == "":
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     base + ".dataset",
				Message:  "dataset must not be empty",
			})
		case !ingestible(s.Dataset):
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     base + ".dataset",
				Message:  fmt.Sprintf("dataset %q is not ingestible; want one of %v", s.Dataset, schema.Ingestible()),
			})
		default:
			if j, dup := seen[s.Dataset]; dup {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     base + ".dataset",
					Message:  fmt.Sprintf("dataset %q already configured by sources[%d]", s.Dataset, j),
				})
			}
			seen[s.Dataset] = i
		}

		switch s.Kind {
		case "file":
			if strings.TrimSpace(s.File.Path) == "" {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     base + ".file.path",
					Message:  "file source requires a non-empty path",
				})
			}
		case "http":
			u, err := url.Parse(s.HTTP.URL)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     base + ".http.url",
					Message:  fmt.Sprintf("http source requires an absolute http(s) url, got %q", s.HTTP.URL),
				})
			}
			if s.HTTP.MaxRetries < 0 {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     base + ".http.max_retries",
					Message:  "max_retries must not be negative",
				})
			}
			if s.HTTP.InsecureSkipVerify {
				issues = append(issues, Issue{
					Severity: SeverityWarning,
					Path:     base + ".http.insecure_skip_verify",
					Message:  "TLS verification is disabled for this source",
				})
			}
		case "":
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     base + ".kind",
				Message:  "source kind must not be empty",
			})
		default:
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     base + ".kind",
				Message:  fmt.Sprintf("unknown source kind %q; want file or http", s.Kind),
			})
		}

		issues = append(issues, validateParser(base+".parser.options", s.Parser.Options)...)
	}

	for _, ds := range schema.Ingestible() {
		if _, ok := seen[ds]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "sources",
				Message:  fmt.Sprintf("no source configured for dataset %q", ds),
			})
		}
	}
	return issues
}

func ingestible(ds string) bool {
	for _, d := range schema.Ingestible() {
		if d == ds {
			return true
		}
	}
	return false
}

var parserKeys = map[string]struct{}{
	"comma":       {},
	"lazy_quotes": {},
	"trim_space":  {},
	"header_map":  {},
}

// validateParser lints CSV reader options. Unknown keys are warnings so new
// options can be rolled out before the binary learns them.
func validateParser(path string, o Options) []Issue {
	var issues []Issue

	for k := range o {
		if _, ok := parserKeys[k]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     path + "." + k,
				Message:  fmt.Sprintf("unknown parser option %q is ignored", k),
			})
		}
	}
	if v, ok := o["comma"]; ok {
		s, isStr := v.(string)
		if !isStr || utf8.RuneCountInString(s) != 1 || s == "\"" || s == "\n" || s == "\r" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".comma",
				Message:  fmt.Sprintf("comma must be a single character other than quote or newline, got %v", v),
			})
		}
	}
	if v, ok := o["header_map"]; ok {
		if _, isMap := v.(map[string]any); !isMap {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".header_map",
				Message:  "header_map must be an object of source header to column name",
			})
		}
	}
	return issues
}

// validateStorage validates the backend kind and its location settings.
func validateStorage(s Storage) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Kind) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  "storage.kind must not be empty",
		})
		return issues
	}

	known := false
	for _, k := range StorageKinds {
		if k == s.Kind {
			known = true
		}
	}
	if !known {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unknown storage kind %q; want one of %v", s.Kind, StorageKinds),
		})
		return issues
	}

	switch s.Kind {
	case "fs":
		if strings.TrimSpace(s.Root) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "storage.root",
				Message:  "fs storage requires a root directory",
			})
		}
	case "sqlite", "postgres", "mssql", "mysql":
		if strings.TrimSpace(s.DSN) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     "storage.dsn",
				Message:  fmt.Sprintf("%s storage requires a dsn", s.Kind),
			})
		}
	case "memory":
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "storage.kind",
			Message:  "memory storage does not survive a restart; snapshots are lost on exit",
		})
	}
	return issues
}

func validateSchedule(s Schedule) []Issue {
	if strings.TrimSpace(s.Expression) == "" {
		return nil
	}
	if _, err := cron.ParseStandard(s.Expression); err != nil {
		return []Issue{{
			Severity: SeverityError,
			Path:     "schedule.expression",
			Message:  fmt.Sprintf("invalid schedule %q: %v", s.Expression, err),
		}}
	}
	return nil
}

func validateRetry(r Retry) []Issue {
	var issues []Issue
	if r.MaxRetries < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "retry.max_retries",
			Message:  "max_retries must not be negative",
		})
	}
	if r.MinBackoff < 0 || r.MaxBackoff < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "retry",
			Message:  "backoff durations must not be negative",
		})
	}
	if r.MaxBackoff > 0 && r.MinBackoff > r.MaxBackoff {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "retry.min_backoff",
			Message:  fmt.Sprintf("min_backoff %s exceeds max_backoff %s", r.MinBackoff, r.MaxBackoff),
		})
	}
	return issues
}

func validateRuntime(r Runtime) []Issue {
	var issues []Issue
	if r.AggregatePartitions < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.aggregate_partitions",
			Message:  "aggregate_partitions must not be negative",
		})
	}
	if r.AggregatePartitions > 256 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "runtime.aggregate_partitions",
			Message:  fmt.Sprintf("aggregate_partitions=%d; more partitions than clients only adds overhead", r.AggregatePartitions),
		})
	}
	if r.HistorySize < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.history_size",
			Message:  "history_size must not be negative",
		})
	}
	return issues
}

func validateMetrics(m Metrics) []Issue {
	switch m.Backend {
	case "", "none":
		return nil
	case "pushgateway":
		if strings.TrimSpace(m.PushgatewayURL) == "" {
			return []Issue{{
				Severity: SeverityWarning,
				Path:     "metrics.pushgateway_url",
				Message:  "pushgateway backend without url; http://localhost:9091 is used",
			}}
		}
	case "datadog":
		if strings.TrimSpace(m.DatadogAddr) == "" {
			return []Issue{{
				Severity: SeverityWarning,
				Path:     "metrics.datadog_addr",
				Message:  "datadog backend without address; metrics disabled",
			}}
		}
	default:
		return []Issue{{
			Severity: SeverityWarning,
			Path:     "metrics.backend",
			Message:  fmt.Sprintf("unknown metrics backend %q; metrics disabled", m.Backend),
		}}
	}
	return nil
}

func validateAPI(a API) []Issue {
	var issues []Issue
	if a.RatePerSecond < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "api.rate_per_second",
			Message:  "rate_per_second must not be negative",
		})
	}
	if a.Burst < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "api.burst",
			Message:  "burst must not be negative",
		})
	}
	return issues
}

func validateLog(l Log) []Issue {
	var issues []Issue
	if l.Level != "" {
		if _, err := logrus.ParseLevel(l.Level); err != nil {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "log.level",
				Message:  fmt.Sprintf("unknown log level %q; info is used", l.Level),
			})
		}
	}
	switch l.Format {
	case "", "text", "json":
	default:
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "log.format",
			Message:  fmt.Sprintf("unknown log format %q; text is used", l.Format),
		})
	}
	return issues
}
