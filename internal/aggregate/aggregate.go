// Package aggregate reduces the cleaned trade_detail snapshot to one
// client_investment row per client.
package aggregate

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"tradepipe/internal/pipeerr"
	"tradepipe/internal/schema"
	"tradepipe/internal/table"
	"tradepipe/internal/transformer/builtin"
)

// checkEvery is how many rows a worker sums between context checks.
const checkEvery = 4096

type total struct {
	clientID string
	name     table.Cell
	region   table.Cell
	sum      decimal.Decimal
	count    int
}

// cols caches the trade_detail column positions.
type cols struct {
	trade, client, name, region, qty, price int
}

// Aggregate groups details by client_id and sums quantity × price exactly.
// Rows are split across partitions workers by a hash of client_id, so every
// client is summed by exactly one worker and the result does not depend on
// row order or partition count. partitions <= 0 means GOMAXPROCS.
//
// client_name and region must be the same on every row of a client; a
// disagreement, or a null or non-decimal amount, is a ConsistencyError.
// The output is sorted by client_id.
func Aggregate(ctx context.Context, details table.Table, partitions int) (table.Table, error) {
	if !details.Schema.Equal(schema.TradeDetail) {
		return table.Table{}, &pipeerr.ConsistencyError{
			Dataset: schema.DatasetTradeDetail,
			Reason:  fmt.Sprintf("aggregate expects %s, got %s", schema.DatasetTradeDetail, details.Schema.Name),
		}
	}
	if partitions <= 0 {
		partitions = runtime.GOMAXPROCS(0)
	}
	c := cols{
		trade:  details.MustCol(schema.ColTradeID),
		client: details.MustCol(schema.ColClientID),
		name:   details.MustCol(schema.ColClientName),
		region: details.MustCol(schema.ColRegion),
		qty:    details.MustCol(schema.ColQuantity),
		price:  details.MustCol(schema.ColPrice),
	}

	buckets := make([][]table.Row, partitions)
	for _, r := range details.Rows {
		id := r[c.client]
		if !id.Valid {
			return table.Table{}, violation(r, c, "null "+schema.ColClientID)
		}
		p := int(xxh3.HashString(id.String) % uint64(partitions))
		buckets[p] = append(buckets[p], r)
	}

	partial := make([]map[string]*total, partitions)
	g, gctx := errgroup.WithContext(ctx)
	for p := range buckets {
		p := p
		g.Go(func() error {
			m, err := sumPartition(gctx, buckets[p], c)
			partial[p] = m
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return table.Table{}, err
	}

	// Partitions hold disjoint clients, so merging is a plain union.
	var all []*total
	for _, m := range partial {
		for _, t := range m {
			all = append(all, t)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].clientID < all[j].clientID })

	out := table.Table{Schema: schema.ClientInvestment, Rows: make([]table.Row, len(all))}
	for i, t := range all {
		out.Rows[i] = table.Row{
			table.Str(t.clientID),
			t.name,
			t.region,
			table.Str(t.sum.String()),
			table.Str(strconv.Itoa(t.count)),
		}
	}
	return builtin.Validate{Contract: schema.ClientInvestment}.Apply(out)
}

func sumPartition(ctx context.Context, rows []table.Row, c cols) (map[string]*total, error) {
	m := map[string]*total{}
	for i, r := range rows {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		qty, err := amount(r, c, c.qty, schema.ColQuantity)
		if err != nil {
			return nil, err
		}
		price, err := amount(r, c, c.price, schema.ColPrice)
		if err != nil {
			return nil, err
		}

		id := r[c.client].String
		t, ok := m[id]
		if !ok {
			t = &total{clientID: id, name: r[c.name], region: r[c.region]}
			m[id] = t
		}
		switch {
		case r[c.name] != t.name:
			return nil, clientConflict(id, schema.ColClientName, t.name, r[c.name])
		case r[c.region] != t.region:
			return nil, clientConflict(id, schema.ColRegion, t.region, r[c.region])
		}
		t.sum = t.sum.Add(qty.Mul(price))
		t.count++
	}
	return m, nil
}

func amount(r table.Row, c cols, idx int, name string) (decimal.Decimal, error) {
	cell := r[idx]
	if !cell.Valid {
		return decimal.Decimal{}, violation(r, c, "null "+name)
	}
	d, err := decimal.NewFromString(cell.String)
	if err != nil {
		return decimal.Decimal{}, violation(r, c, fmt.Sprintf("%s %q is not a decimal", name, cell.String))
	}
	return d, nil
}

func violation(r table.Row, c cols, reason string) error {
	key := "<null>"
	if r[c.trade].Valid {
		key = r[c.trade].String
	}
	return &pipeerr.ConsistencyError{Dataset: schema.DatasetTradeDetail, Key: key, Reason: reason}
}

func clientConflict(clientID, col string, a, b table.Cell) error {
	return &pipeerr.ConsistencyError{
		Dataset: schema.DatasetTradeDetail,
		Key:     clientID,
		Reason:  fmt.Sprintf("%s differs between trades of the same client (%s vs %s)", col, show(a), show(b)),
	}
}

func show(c table.Cell) string {
	if !c.Valid {
		return "null"
	}
	return strconv.Quote(c.String)
}
