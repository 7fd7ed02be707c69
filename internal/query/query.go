// Package query serves read-only views of the summary layer. It never
// triggers a run: callers get the most recently published snapshot, however
// old, or a NotFound error when no summary was ever published.
package query

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"tradepipe/internal/layer"
	"tradepipe/internal/pipeerr"
	"tradepipe/internal/schema"
	"tradepipe/internal/storage"
	"tradepipe/internal/table"
)

// DefaultCacheExpiration bounds how long a decoded snapshot stays cached.
// Entries are keyed by manifest version, so a new publish is seen on the next
// query regardless.
const DefaultCacheExpiration = 15 * time.Minute

const ckSummary = "summary:v%d:%016x"

// ClientInvestment is one row of the summary layer.
type ClientInvestment struct {
	ClientID        string          `json:"client_id"`
	ClientName      string          `json:"client_name"`
	Region          string          `json:"region"`
	TotalInvestment decimal.Decimal `json:"total_investment"`
	TradeCount      int             `json:"trade_count"`
}

// Filter restricts a query. Empty fields match everything; within a field
// any listed value matches.
type Filter struct {
	ClientIDs []string
	Regions   []string
}

func (f Filter) match(ci ClientInvestment) bool {
	return matchAny(f.ClientIDs, ci.ClientID) && matchAny(f.Regions, ci.Region)
}

func matchAny(want []string, v string) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		if w == v {
			return true
		}
	}
	return false
}

// Result is a filtered view of one summary snapshot.
type Result struct {
	Version     int64              `json:"version"`
	RunID       string             `json:"run_id,omitempty"`
	PublishedAt time.Time          `json:"published_at"`
	Records     []ClientInvestment `json:"records"`
}

// RegionTotal aggregates the clients of one region.
type RegionTotal struct {
	Region  string          `json:"region"`
	Total   decimal.Decimal `json:"total"`
	Clients int             `json:"clients"`
	Trades  int             `json:"trades"`
}

// Totals summarizes a filtered snapshot.
type Totals struct {
	Version  int64           `json:"version"`
	Total    decimal.Decimal `json:"total"`
	Clients  int             `json:"clients"`
	Trades   int             `json:"trades"`
	ByRegion []RegionTotal   `json:"by_region"`
}

// Facade answers queries over the summary layer of an Accessor.
type Facade struct {
	store storage.Accessor
	cache *cache.Cache
}

type snapshot struct {
	manifest storage.Manifest
	records  []ClientInvestment
}

// New returns a Facade over store. A non-positive expiration selects
// DefaultCacheExpiration.
func New(store storage.Accessor, expiration time.Duration) *Facade {
	if expiration <= 0 {
		expiration = DefaultCacheExpiration
	}
	return &Facade{store: store, cache: cache.New(expiration, 2*expiration)}
}

// QueryClientInvestments returns the summary rows matching f, ordered by
// client_id.
func (q *Facade) QueryClientInvestments(ctx context.Context, f Filter) ([]ClientInvestment, error) {
	res, err := q.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// Query is QueryClientInvestments with the snapshot's provenance.
func (q *Facade) Query(ctx context.Context, f Filter) (Result, error) {
	snap, err := q.current(ctx)
	if err != nil {
		return Result{}, err
	}
	res := Result{
		Version:     snap.manifest.Version,
		RunID:       snap.manifest.RunID,
		PublishedAt: snap.manifest.PublishedAt,
		Records:     make([]ClientInvestment, 0, len(snap.records)),
	}
	for _, ci := range snap.records {
		if f.match(ci) {
			res.Records = append(res.Records, ci)
		}
	}
	return res, nil
}

// Totals returns the grand total and per-region totals of the rows matching
// f. Regions are ordered by name; clients without a region are grouped under
// "".
func (q *Facade) Totals(ctx context.Context, f Filter) (Totals, error) {
	res, err := q.Query(ctx, f)
	if err != nil {
		return Totals{}, err
	}
	out := Totals{Version: res.Version, Total: decimal.Zero}
	byRegion := map[string]*RegionTotal{}
	for _, ci := range res.Records {
		out.Total = out.Total.Add(ci.TotalInvestment)
		out.Clients++
		out.Trades += ci.TradeCount

		rt, ok := byRegion[ci.Region]
		if !ok {
			rt = &RegionTotal{Region: ci.Region, Total: decimal.Zero}
			byRegion[ci.Region] = rt
		}
		rt.Total = rt.Total.Add(ci.TotalInvestment)
		rt.Clients++
		rt.Trades += ci.TradeCount
	}
	out.ByRegion = make([]RegionTotal, 0, len(byRegion))
	for _, rt := range byRegion {
		out.ByRegion = append(out.ByRegion, *rt)
	}
	sort.Slice(out.ByRegion, func(i, j int) bool { return out.ByRegion[i].Region < out.ByRegion[j].Region })
	return out, nil
}

// current returns the decoded current snapshot, from cache when the manifest
// version is unchanged.
func (q *Facade) current(ctx context.Context) (snapshot, error) {
	// A publish between Stat and Read shows up as a fingerprint mismatch; the
	// loop then starts over from the newer manifest.
	for attempt := 0; attempt < 3; attempt++ {
		m, err := q.store.Stat(ctx, layer.Summary, schema.DatasetClientInvestment)
		if err != nil {
			return snapshot{}, err
		}
		key := fmt.Sprintf(ckSummary, m.Version, m.Fingerprint)
		if cached, found := q.cache.Get(key); found {
			return cached.(snapshot), nil
		}

		t, err := q.store.Read(ctx, layer.Summary, schema.DatasetClientInvestment)
		if err != nil {
			return snapshot{}, err
		}
		if t.Fingerprint() != m.Fingerprint {
			continue
		}
		recs, err := Decode(t)
		if err != nil {
			return snapshot{}, err
		}
		snap := snapshot{manifest: m, records: recs}
		q.cache.Set(key, snap, cache.DefaultExpiration)
		return snap, nil
	}
	return snapshot{}, pipeerr.IO("read summary", fmt.Errorf("summary kept changing while being read"))
}

// Decode converts a client_investment table into records.
func Decode(t table.Table) ([]ClientInvestment, error) {
	if !t.Schema.Equal(schema.ClientInvestment) {
		return nil, &pipeerr.ConsistencyError{
			Dataset: schema.DatasetClientInvestment,
			Reason:  fmt.Sprintf("summary has schema %s", t.Schema.Name),
		}
	}
	var (
		id     = t.MustCol(schema.ColClientID)
		name   = t.MustCol(schema.ColClientName)
		region = t.MustCol(schema.ColRegion)
		total  = t.MustCol(schema.ColTotalInvestment)
		count  = t.MustCol(schema.ColTradeCount)
	)
	out := make([]ClientInvestment, len(t.Rows))
	for i, r := range t.Rows {
		tot, err := decimal.NewFromString(r[total].String)
		if err != nil || !r[total].Valid {
			return nil, &pipeerr.ConsistencyError{Dataset: schema.DatasetClientInvestment, Key: r[id].String, Reason: "total_investment is not a decimal"}
		}
		n, err := strconv.Atoi(r[count].String)
		if err != nil || !r[count].Valid {
			return nil, &pipeerr.ConsistencyError{Dataset: schema.DatasetClientInvestment, Key: r[id].String, Reason: "trade_count is not an integer"}
		}
		out[i] = ClientInvestment{
			ClientID:        r[id].String,
			ClientName:      r[name].String,
			Region:          r[region].String,
			TotalInvestment: tot,
			TradeCount:      n,
		}
	}
	return out, nil
}
