// Command tradepipe runs the layered trade pipeline.
//
//	tradepipe -config configs/pipelines/sample.json -validate
//	tradepipe -config ... -run                 # one run now, report on stdout
//	tradepipe -config ... -serve               # HTTP API plus scheduler until SIGINT/SIGTERM
//	tradepipe -config ... -query -region EU    # read the current summary
//
// The CLI layer stays thin: it loads the pipeline file, picks the metrics and
// storage backends and hands off to internal packages. Storage drivers are
// only reached through the storage registry.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"tradepipe/internal/config"
	"tradepipe/internal/logging"
	"tradepipe/internal/metrics"
	"tradepipe/internal/metrics/datadog"
	"tradepipe/internal/metrics/prompush"

	// register all backends with the storage factory.
	_ "tradepipe/internal/storage/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	cfgPath        string
	validate       bool
	runNow         bool
	serve          bool
	query          bool
	clientIDs      string
	regions        string
	totals         bool
	metricsBackend string
	pushGatewayURL string
	verbose        bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("tradepipe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.cfgPath, "config", "configs/pipelines/sample.json", "pipeline config JSON path")
	fs.BoolVar(&o.validate, "validate", false, "validate the configuration and exit")
	fs.BoolVar(&o.runNow, "run", false, "run the pipeline once and print the run report")
	fs.BoolVar(&o.serve, "serve", false, "serve the HTTP API and run the scheduler")
	fs.BoolVar(&o.query, "query", false, "print the current client investment summary")
	fs.StringVar(&o.clientIDs, "client", "", "comma-separated client_id filter for -query")
	fs.StringVar(&o.regions, "region", "", "comma-separated region filter for -query")
	fs.BoolVar(&o.totals, "totals", false, "with -query, print totals instead of rows")
	fs.StringVar(&o.metricsBackend, "metrics-backend", "", "metrics backend (pushgateway, datadog, none); overrides config")
	fs.StringVar(&o.pushGatewayURL, "pushgateway-url", "", "Pushgateway base URL; overrides config and PUSHGATEWAY_URL")
	fs.BoolVar(&o.verbose, "v", false, "enable debug logs")
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	modes := 0
	for _, m := range []bool{o.validate, o.runNow, o.serve, o.query} {
		if m {
			modes++
		}
	}
	switch {
	case modes > 1:
		return o, errors.New("choose one of -validate, -run, -serve, -query")
	case modes == 0:
		o.runNow = true
	}
	return o, nil
}

// run is main without the process exit, so tests can drive the CLI.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}

	p, err := config.Load(o.cfgPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	level := p.Log.Level
	if o.verbose {
		level = "debug"
	}
	logging.InitTo(stderr, level, p.Log.Format)
	log := logging.For("main")

	// Validate pipeline config.
	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		log.WithField("config", o.cfgPath).Error("main: configuration is invalid")
		return 1
	}
	if o.validate {
		log.WithField("config", o.cfgPath).Info("main: configuration is valid")
		return 0
	}

	flush := setupMetrics(p, o, log)
	defer flush()

	switch {
	case o.serve:
		err = serve(ctx, p)
	case o.query:
		err = printQuery(ctx, p, o, stdout)
	default:
		err = runOnce(ctx, p, stdout)
	}
	if err != nil {
		log.WithError(err).Error("main: failed")
		return 1
	}
	return 0
}

// setupMetrics installs the configured backend and returns the flush to run
// on exit. Backend choice: flag → config (with METRICS_BACKEND) → none.
func setupMetrics(p config.Pipeline, o options, log *logrus.Entry) func() {
	backendName := o.metricsBackend
	if backendName == "" {
		backendName = p.Metrics.Backend
	}
	nop := func() {}

	switch backendName {
	case "pushgateway":
		gwURL := o.pushGatewayURL
		if gwURL == "" {
			gwURL = p.Metrics.PushgatewayURL
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend(p.Job, gwURL)
		if err != nil {
			log.WithError(err).Warn("metrics: failed to init prom push backend; using nop")
			return nop
		}
		log.WithFields(logrus.Fields{"url": gwURL, "backend": backendName, "job": p.Job}).Info("metrics: enabled")
		metrics.SetBackend(b)
		return func() {
			if err := metrics.Flush(); err != nil {
				log.WithError(err).Warn("metrics: flush error")
			}
		}

	case "datadog":
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       p.Metrics.DatadogAddr,
			GlobalTags: []string{"pipeline:" + p.Job},
		})
		if err != nil {
			log.WithError(err).Warn("metrics: failed to init datadog backend; using nop")
			return nop
		}
		log.WithFields(logrus.Fields{"addr": p.Metrics.DatadogAddr, "backend": backendName}).Info("metrics: enabled")
		metrics.SetBackend(b)
		return func() {
			if err := metrics.Flush(); err != nil {
				log.WithError(err).Warn("metrics: flush error")
			}
			_ = b.Close()
		}

	case "", "none":
		log.Debug("metrics: disabled")
		return nop

	default:
		log.WithField("backend", backendName).Warn("metrics: unknown backend; metrics disabled")
		return nop
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
