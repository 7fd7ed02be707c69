package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"tradepipe/internal/datasource"
	"tradepipe/internal/ingest"
	"tradepipe/internal/orchestrator"
	"tradepipe/internal/pipeerr"
	"tradepipe/internal/query"
	"tradepipe/internal/schema"
	"tradepipe/internal/storage/memory"
)

const tradesCSV = "trade_id,client_id,instrument,quantity,price,trade_date\n" +
	"1,101,AAPL,100,150,2024-01-02\n" +
	"2,102,MSFT,200,250,2024-01-03\n" +
	"3,103,GOOG,150,1200,2024-01-04\n" +
	"4,999,TSLA,10,700,2024-01-05\n"

const clientsCSV = "client_id,client_name,region\n" +
	"101,Alpha,NA\n" +
	"102,Beta,EU\n" +
	"103,Gamma,Asia\n"

type stringSource string

func (s stringSource) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(string(s))), nil
}

// blockingSource holds Open until release is closed or the run is cancelled.
type blockingSource struct {
	started chan struct{}
	release chan struct{}
}

func (b blockingSource) Open(ctx context.Context) (io.ReadCloser, error) {
	close(b.started)
	select {
	case <-b.release:
		return io.NopCloser(strings.NewReader(tradesCSV)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fixture struct {
	srv  *httptest.Server
	orch *orchestrator.Orchestrator
}

func newFixture(t *testing.T, trades datasource.Source, cfg Config, schedule string) fixture {
	t.Helper()
	store := memory.New()
	o, err := orchestrator.New(orchestrator.Config{
		Pipeline: "api-test",
		Store:    store,
		Inputs: []ingest.Input{
			{Dataset: schema.DatasetTrade, Source: trades},
			{Dataset: schema.DatasetClient, Source: stringSource(clientsCSV)},
		},
	})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	var sched *orchestrator.Scheduler
	if schedule != "" {
		if sched, err = orchestrator.NewScheduler(o, schedule); err != nil {
			t.Fatalf("NewScheduler: %v", err)
		}
	}
	s := NewServer(cfg, query.New(store, 0), o, sched)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return fixture{srv: ts, orch: o}
}

func (f fixture) do(t *testing.T, method, path string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("%s %s: content type %q", method, path, ct)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	f := newFixture(t, stringSource(tradesCSV), Config{}, "")
	var body map[string]string
	if code := f.do(t, http.MethodGet, "/healthz", &body); code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthz = %d %v", code, body)
	}
}

func TestQueryBeforeFirstRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, stringSource(tradesCSV), Config{}, "")
	var body errorBody
	if code := f.do(t, http.MethodGet, "/v1/client-investments", &body); code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", code)
	}
	if body.Kind != pipeerr.KindNotFound {
		t.Fatalf("kind = %q", body.Kind)
	}
}

func TestTriggerThenQuery(t *testing.T) {
	t.Parallel()

	f := newFixture(t, stringSource(tradesCSV), Config{}, "")

	var trig map[string]string
	if code := f.do(t, http.MethodPost, "/v1/runs", &trig); code != http.StatusAccepted || trig["run_id"] == "" {
		t.Fatalf("trigger = %d %v", code, trig)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := f.orch.Wait(ctx, trig["run_id"]); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	var rep orchestrator.RunReport
	if code := f.do(t, http.MethodGet, "/v1/runs/"+trig["run_id"], &rep); code != http.StatusOK {
		t.Fatalf("run status = %d", code)
	}
	if rep.State != orchestrator.StateSucceeded || rep.Trigger != TriggerAPI {
		t.Fatalf("report = %+v", rep)
	}

	var res query.Result
	if code := f.do(t, http.MethodGet, "/v1/client-investments?region=EU,Asia", &res); code != http.StatusOK {
		t.Fatalf("query status = %d", code)
	}
	var got []string
	for _, r := range res.Records {
		got = append(got, r.ClientID+"="+r.TotalInvestment.String())
	}
	if diff := cmp.Diff([]string{"102=50000", "103=180000"}, got); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
	if res.Version != 1 || res.RunID != trig["run_id"] {
		t.Fatalf("provenance = %+v", res)
	}

	var tot query.Totals
	if code := f.do(t, http.MethodGet, "/v1/client-investments/totals?client_id=101&client_id=102", &tot); code != http.StatusOK {
		t.Fatalf("totals status = %d", code)
	}
	if tot.Total.String() != "65000" || tot.Clients != 2 || len(tot.ByRegion) != 2 {
		t.Fatalf("totals = %+v", tot)
	}

	var list struct {
		Runs []orchestrator.RunReport `json:"runs"`
	}
	if code := f.do(t, http.MethodGet, "/v1/runs", &list); code != http.StatusOK || len(list.Runs) != 1 {
		t.Fatalf("runs = %d %+v", code, list)
	}
}

func TestConcurrentTriggerAndCancel(t *testing.T) {
	t.Parallel()

	src := blockingSource{started: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, src, Config{}, "")

	var trig map[string]string
	if code := f.do(t, http.MethodPost, "/v1/runs", &trig); code != http.StatusAccepted {
		t.Fatalf("first trigger = %d", code)
	}
	<-src.started

	var body errorBody
	if code := f.do(t, http.MethodPost, "/v1/runs", &body); code != http.StatusConflict || body.Kind != pipeerr.KindConcurrentRun {
		t.Fatalf("second trigger = %d %+v", code, body)
	}

	if code := f.do(t, http.MethodPost, "/v1/runs/"+trig["run_id"]+"/cancel", nil); code != http.StatusAccepted {
		t.Fatalf("cancel = %d", code)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rep, err := f.orch.Wait(ctx, trig["run_id"])
	if err != nil || rep.ErrorKind != pipeerr.KindCancelled {
		t.Fatalf("cancelled run = %+v, %v", rep, err)
	}
}

func TestUnknownRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, stringSource(tradesCSV), Config{}, "")
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/runs/nope"},
		{http.MethodPost, "/v1/runs/nope/cancel"},
	} {
		if code := f.do(t, tc.method, tc.path, nil); code != http.StatusNotFound {
			t.Fatalf("%s %s = %d, want 404", tc.method, tc.path, code)
		}
	}
}

func TestSchedule(t *testing.T) {
	t.Parallel()

	none := newFixture(t, stringSource(tradesCSV), Config{}, "")
	if code := none.do(t, http.MethodGet, "/v1/schedule", nil); code != http.StatusNotFound {
		t.Fatalf("no schedule = %d, want 404", code)
	}

	f := newFixture(t, stringSource(tradesCSV), Config{}, "@daily")
	var st orchestrator.SchedulerStatus
	if code := f.do(t, http.MethodGet, "/v1/schedule", &st); code != http.StatusOK {
		t.Fatalf("schedule = %d", code)
	}
	if st.Expression != "@daily" || st.Running {
		t.Fatalf("status = %+v", st)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, stringSource(tradesCSV), Config{RatePerSecond: 0.001, Burst: 1}, "")
	if code := f.do(t, http.MethodGet, "/healthz", nil); code != http.StatusOK {
		t.Fatalf("first request = %d", code)
	}
	if code := f.do(t, http.MethodGet, "/healthz", nil); code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", code)
	}
}

func TestSplitValues(t *testing.T) {
	t.Parallel()

	got := splitValues([]string{"101, 102", "", " 103 ,"})
	if diff := cmp.Diff([]string{"101", "102", "103"}, got); diff != "" {
		t.Fatalf("splitValues mismatch (-want +got):\n%s", diff)
	}
	if splitValues(nil) != nil {
		t.Fatalf("splitValues(nil) must be nil")
	}
}
