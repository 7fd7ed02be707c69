package aggregate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"tradepipe/internal/layer"
	"tradepipe/internal/pipeerr"
	"tradepipe/internal/schema"
	"tradepipe/internal/storage"
	"tradepipe/internal/storage/memory"
	"tradepipe/internal/storage/storagetest"
	"tradepipe/internal/table"
)

// row builds a table.Row where "" means null.
func row(vals ...string) table.Row {
	r := make(table.Row, len(vals))
	for i, v := range vals {
		if v != "" {
			r[i] = table.Str(v)
		}
	}
	return r
}

func details(rows ...table.Row) table.Table {
	return table.Table{Schema: schema.TradeDetail, Rows: rows}
}

func scenario() table.Table {
	return details(
		row("1", "101", "AAPL", "100", "150", "2024-01-02", "Alpha", "NA"),
		row("2", "102", "MSFT", "200", "250", "2024-01-03", "Beta", "EU"),
		row("3", "103", "GOOG", "150", "1200", "2024-01-04", "Gamma", "Asia"),
	)
}

func TestAggregate_Scenario(t *testing.T) {
	t.Parallel()

	got, err := Aggregate(context.Background(), scenario(), 4)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	want := []table.Row{
		row("101", "Alpha", "NA", "15000", "1"),
		row("102", "Beta", "EU", "50000", "1"),
		row("103", "Gamma", "Asia", "180000", "1"),
	}
	if diff := cmp.Diff(want, got.Rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
	if !got.Schema.Equal(schema.ClientInvestment) {
		t.Fatalf("schema = %s", got.Schema.Name)
	}
}

func TestAggregate_ExactDecimals(t *testing.T) {
	t.Parallel()

	// 0.1 × 3 summed ten times is exactly 3 only in decimal arithmetic.
	var rows []table.Row
	for i := 0; i < 10; i++ {
		rows = append(rows, row(fmt.Sprint(i), "7", "X", "3", "0.1", "2024-01-02", "", ""))
	}
	got, err := Aggregate(context.Background(), details(rows...), 2)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if got.Len() != 1 || got.Get(0, schema.ColTotalInvestment) != table.Str("3") || got.Get(0, schema.ColTradeCount) != table.Str("10") {
		t.Fatalf("rows = %v", got.Rows)
	}
	// Null attributes are carried through as nulls.
	if got.Get(0, schema.ColClientName).Valid {
		t.Fatalf("client_name should be null: %v", got.Rows[0])
	}
}

/*
Partition count and row order must not change the summary: every client is
hashed to one partition and partitions hold disjoint clients.
*/
func TestAggregate_PartitionIndependent(t *testing.T) {
	t.Parallel()

	var rows []table.Row
	want := decimal.Zero
	for i := 0; i < 500; i++ {
		qty := fmt.Sprintf("%d.%02d", i%17+1, i%100)
		price := fmt.Sprintf("%d.5", i%13+1)
		client := fmt.Sprint(100 + i%37)
		rows = append(rows, row(fmt.Sprintf("t%04d", i), client, "I", qty, price, "2024-01-02", "c"+client, "R"))
		want = want.Add(decimal.RequireFromString(qty).Mul(decimal.RequireFromString(price)))
	}
	in := details(rows...)

	ref, err := Aggregate(context.Background(), in, 1)
	if err != nil {
		t.Fatalf("Aggregate(1): %v", err)
	}
	rev := in.Clone()
	for i, j := 0, len(rev.Rows)-1; i < j; i, j = i+1, j-1 {
		rev.Rows[i], rev.Rows[j] = rev.Rows[j], rev.Rows[i]
	}
	for _, p := range []int{0, 3, 8, 64} {
		got, err := Aggregate(context.Background(), rev, p)
		if err != nil {
			t.Fatalf("Aggregate(%d): %v", p, err)
		}
		if !table.Equal(got, ref) {
			t.Fatalf("partitions=%d differ from single partition", p)
		}
	}

	if ref.Len() != 37 {
		t.Fatalf("clients = %d, want 37", ref.Len())
	}
	sum, count := decimal.Zero, 0
	for i := range ref.Rows {
		sum = sum.Add(decimal.RequireFromString(ref.Get(i, schema.ColTotalInvestment).String))
		n, err := strconv.Atoi(ref.Get(i, schema.ColTradeCount).String)
		if err != nil {
			t.Fatalf("trade_count: %v", err)
		}
		count += n
	}
	if !sum.Equal(want) || count != 500 {
		t.Fatalf("grand total %s over %d trades, want %s over 500", sum, count, want)
	}
}

func TestAggregate_Empty(t *testing.T) {
	t.Parallel()

	got, err := Aggregate(context.Background(), table.Empty(schema.TradeDetail), 4)
	if err != nil || got.Len() != 0 || !got.Schema.Equal(schema.ClientInvestment) {
		t.Fatalf("got %+v, %v", got, err)
	}
}

func TestAggregate_Violations(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   table.Table
		key  string
	}{
		{"null quantity", details(row("1", "101", "A", "", "1", "2024-01-02", "n", "r")), "1"},
		{"bad price", details(row("1", "101", "A", "1", "x", "2024-01-02", "n", "r")), "1"},
		{"null client", details(row("9", "", "A", "1", "1", "2024-01-02", "n", "r")), "9"},
		{"name conflict", details(
			row("1", "101", "A", "1", "1", "2024-01-02", "Alpha", "NA"),
			row("2", "101", "A", "1", "1", "2024-01-02", "Alpha Ltd", "NA"),
		), "101"},
		{"region conflict", details(
			row("1", "101", "A", "1", "1", "2024-01-02", "Alpha", "NA"),
			row("2", "101", "A", "1", "1", "2024-01-02", "Alpha", ""),
		), "101"},
		{"wrong schema", table.Empty(schema.Trade), ""},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Aggregate(context.Background(), tc.in, 2)
			var ce *pipeerr.ConsistencyError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want ConsistencyError", err)
			}
			if ce.Key != tc.key {
				t.Fatalf("key = %q, want %q (%v)", ce.Key, tc.key, err)
			}
		})
	}
}

func TestAggregate_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Aggregate(ctx, scenario(), 2); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func seedCleaned(t *testing.T, acc storage.Accessor, in table.Table) {
	t.Helper()
	if _, err := acc.Write(context.Background(), layer.Cleaned, schema.DatasetTradeDetail, in, storage.WriteMeta{RunID: "seed"}); err != nil {
		t.Fatal(err)
	}
}

func TestStage_Run(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seedCleaned(t, store, scenario())

	res, err := (&Stage{Store: store, Partitions: 2}).Run(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.TradesIn != 3 || res.Clients != 3 || res.Manifest.Layer != layer.Summary || res.Manifest.RunID != "run-1" {
		t.Fatalf("result = %+v", res)
	}
}

func TestStage_WriteFailureKeepsPriorSummary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	faulty := storagetest.NewFaulty(memory.New())
	seedCleaned(t, faulty, scenario())
	first, err := (&Stage{Store: faulty}).Run(ctx, "run-1")
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}

	seedCleaned(t, faulty, details(row("9", "109", "A", "1", "1", "2024-01-02", "n", "r")))
	faulty.FailWrites(layer.Summary, 1)
	_, err = (&Stage{Store: faulty}).Run(ctx, "run-2")
	if !errors.Is(err, pipeerr.ErrIO) || pipeerr.FailedStage(err) != Name {
		t.Fatalf("err = %v, want io failure in %s", err, Name)
	}

	m, err := faulty.Stat(ctx, layer.Summary, schema.DatasetClientInvestment)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if m.Version != first.Manifest.Version || m.RunID != "run-1" {
		t.Fatalf("summary changed after failed write: %+v", m)
	}
	got, err := faulty.Read(ctx, layer.Summary, schema.DatasetClientInvestment)
	if err != nil || got.Len() != 3 {
		t.Fatalf("prior summary not readable: %v, %v", got.Rows, err)
	}
}

func TestStage_MissingCleaned(t *testing.T) {
	t.Parallel()

	_, err := (&Stage{Store: memory.New()}).Run(context.Background(), "r")
	if !errors.Is(err, pipeerr.ErrNotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
}
