package schema

import (
	"strings"
	"testing"
)

func TestBuiltinContractsAreValid(t *testing.T) {
	for _, name := range []string{DatasetTrade, DatasetClient, DatasetTradeDetail, DatasetClientInvestment} {
		c, ok := Lookup(name)
		if !ok {
			t.Fatalf("Lookup(%q) not found", name)
		}
		if err := c.Validate(); err != nil {
			t.Fatalf("contract %s invalid: %v", name, err)
		}
	}
	if _, ok := Lookup("nope"); ok {
		t.Fatalf("unexpected contract for unknown dataset")
	}
}

func TestContractAccessors(t *testing.T) {
	if got := TradeDetail.Index(ColPrice); got != 4 {
		t.Fatalf("Index(price)=%d; want 4", got)
	}
	if got := TradeDetail.Index("missing"); got != -1 {
		t.Fatalf("Index(missing)=%d; want -1", got)
	}
	req := strings.Join(Trade.Required(), ",")
	if req != "client_id,instrument,quantity,price,trade_date" {
		t.Fatalf("Trade.Required()=%s", req)
	}
	if keys := Client.Keys(); len(keys) != 1 || keys[0] != ColClientID {
		t.Fatalf("Client.Keys()=%v", keys)
	}
	if !Trade.Equal(Trade) || Trade.Equal(Client) {
		t.Fatalf("Equal mismatch")
	}
}

func TestContractValidate(t *testing.T) {
	cases := []struct {
		name    string
		c       Contract
		wantErr string
	}{
		{"empty name", Contract{Fields: []Field{{Name: "a", Type: KindString}}}, "name must not be empty"},
		{"no fields", Contract{Name: "x"}, "at least one field"},
		{"dup", Contract{Name: "x", Fields: []Field{{Name: "a", Type: KindString}, {Name: "a", Type: KindString}}}, "duplicate field"},
		{"bad kind", Contract{Name: "x", Fields: []Field{{Name: "a", Type: "money"}}}, "unknown type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.c.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate()=%v; want error containing %q", err, tc.wantErr)
			}
		})
	}
}
