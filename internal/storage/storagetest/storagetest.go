// Package storagetest holds the behavioral suite every storage.Accessor
// backend must pass. Backend tests call Run with a constructor for a fresh,
// empty accessor.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"tradepipe/internal/layer"
	"tradepipe/internal/pipeerr"
	"tradepipe/internal/schema"
	"tradepipe/internal/storage"
	"tradepipe/internal/table"
)

// Open returns a fresh accessor. Cleanup is registered by the caller.
type Open func(t *testing.T) storage.Accessor

// Trades returns a small raw trade snapshot containing a null cell.
func Trades() table.Table {
	return table.Table{Schema: schema.Trade, Rows: []table.Row{
		{table.Str("1"), table.Str("101"), table.Str("AAPL"), table.Str("10"), table.Str("150.00"), table.Str("2024-01-02")},
		{table.Str("2"), table.Str("102"), table.Str("MSFT"), table.Null(), table.Str("300"), table.Str("2024-01-03")},
		{table.Str("3"), table.Str("101"), table.Str("naïve, \"quoted\""), table.Str("1"), table.Str("0.5"), table.Str("")},
	}}
}

// Run executes the suite against open.
func Run(t *testing.T, open Open) {
	t.Helper()

	t.Run("ReadMissing", func(t *testing.T) {
		acc := open(t)
		_, err := acc.Read(context.Background(), layer.Raw, schema.DatasetTrade)
		if !errors.Is(err, pipeerr.ErrNotFound) {
			t.Fatalf("Read of absent snapshot: want NotFound, got %v", err)
		}
		_, err = acc.Stat(context.Background(), layer.Summary, schema.DatasetClientInvestment)
		if !errors.Is(err, pipeerr.ErrNotFound) {
			t.Fatalf("Stat of absent snapshot: want NotFound, got %v", err)
		}
	})

	t.Run("RoundTrip", func(t *testing.T) {
		acc := open(t)
		ctx := context.Background()
		in := Trades()

		m, err := acc.Write(ctx, layer.Raw, schema.DatasetTrade, in, storage.WriteMeta{RunID: "run-1"})
		if err != nil {
			t.Fatalf("Write: %v", err)
		}
		if m.Version != 1 || m.Rows != 3 || m.RunID != "run-1" {
			t.Fatalf("manifest = %+v", m)
		}
		if m.Fingerprint != in.Fingerprint() {
			t.Fatalf("manifest fingerprint %x, want %x", m.Fingerprint, in.Fingerprint())
		}

		got, err := acc.Read(ctx, layer.Raw, schema.DatasetTrade)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if !table.Equal(got, in) {
			t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, in)
		}

		st, err := acc.Stat(ctx, layer.Raw, schema.DatasetTrade)
		if err != nil {
			t.Fatalf("Stat: %v", err)
		}
		if st.Version != m.Version || st.Fingerprint != m.Fingerprint || st.Rows != m.Rows {
			t.Fatalf("Stat = %+v, want %+v", st, m)
		}
		if !st.Schema.Equal(schema.Trade) {
			t.Fatalf("Stat schema = %+v", st.Schema)
		}
	})

	t.Run("ReplaceBumpsVersion", func(t *testing.T) {
		acc := open(t)
		ctx := context.Background()
		in := Trades()
		if _, err := acc.Write(ctx, layer.Raw, schema.DatasetTrade, in, storage.WriteMeta{}); err != nil {
			t.Fatalf("Write 1: %v", err)
		}
		smaller := table.Table{Schema: in.Schema, Rows: in.Rows[:1]}
		m, err := acc.Write(ctx, layer.Raw, schema.DatasetTrade, smaller, storage.WriteMeta{RunID: "r2"})
		if err != nil {
			t.Fatalf("Write 2: %v", err)
		}
		if m.Version != 2 || m.Rows != 1 {
			t.Fatalf("manifest after replace = %+v", m)
		}
		got, err := acc.Read(ctx, layer.Raw, schema.DatasetTrade)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if !table.Equal(got, smaller) {
			t.Fatalf("replace must drop old rows; got %d rows", got.Len())
		}
	})

	t.Run("EmptySnapshot", func(t *testing.T) {
		acc := open(t)
		ctx := context.Background()
		empty := table.Empty(schema.ClientInvestment)
		if _, err := acc.Write(ctx, layer.Summary, schema.DatasetClientInvestment, empty, storage.WriteMeta{}); err != nil {
			t.Fatalf("Write: %v", err)
		}
		got, err := acc.Read(ctx, layer.Summary, schema.DatasetClientInvestment)
		if err != nil {
			t.Fatalf("Read empty snapshot: %v", err)
		}
		if got.Len() != 0 || !got.Schema.Equal(schema.ClientInvestment) {
			t.Fatalf("empty snapshot = %+v", got)
		}
	})

	t.Run("LayersAreIndependent", func(t *testing.T) {
		acc := open(t)
		ctx := context.Background()
		if _, err := acc.Write(ctx, layer.Raw, schema.DatasetTrade, Trades(), storage.WriteMeta{}); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if _, err := acc.Read(ctx, layer.Cleaned, schema.DatasetTrade); !errors.Is(err, pipeerr.ErrNotFound) {
			t.Fatalf("other layer must be absent, got %v", err)
		}
	})

	t.Run("RejectsBadWrites", func(t *testing.T) {
		acc := open(t)
		ctx := context.Background()
		bad := Trades()
		bad.Rows = append(bad.Rows, table.Row{table.Str("short")})
		if _, err := acc.Write(ctx, layer.Raw, schema.DatasetTrade, bad, storage.WriteMeta{}); err == nil {
			t.Fatalf("Write of ragged table must fail")
		}
		if _, err := acc.Write(ctx, layer.Layer("gold"), schema.DatasetTrade, Trades(), storage.WriteMeta{}); err == nil {
			t.Fatalf("Write to unknown layer must fail")
		}
		if _, err := acc.Read(ctx, layer.Raw, schema.DatasetTrade); !errors.Is(err, pipeerr.ErrNotFound) {
			t.Fatalf("failed writes must not publish, got %v", err)
		}
	})

	t.Run("ConcurrentReadersSeeWholeSnapshots", func(t *testing.T) {
		acc := open(t)
		ctx := context.Background()
		full := Trades()
		one := table.Table{Schema: full.Schema, Rows: full.Rows[:1]}
		if _, err := acc.Write(ctx, layer.Raw, schema.DatasetTrade, full, storage.WriteMeta{}); err != nil {
			t.Fatalf("Write: %v", err)
		}

		var wg sync.WaitGroup
		errs := make(chan error, 16)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				next := full
				if i%2 == 0 {
					next = one
				}
				if _, err := acc.Write(ctx, layer.Raw, schema.DatasetTrade, next, storage.WriteMeta{}); err != nil {
					errs <- err
					return
				}
			}
		}()
		for r := 0; r < 4; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 5; i++ {
					got, err := acc.Read(ctx, layer.Raw, schema.DatasetTrade)
					if err != nil {
						errs <- err
						return
					}
					if !table.Equal(got, full) && !table.Equal(got, one) {
						errs <- errors.New("reader observed a partial snapshot")
						return
					}
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatal(err)
		}
	})
}
