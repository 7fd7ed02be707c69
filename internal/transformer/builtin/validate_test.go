package builtin

import (
	"errors"
	"strings"
	"testing"

	"tradepipe/internal/pipeerr"
	"tradepipe/internal/schema"
	"tradepipe/internal/table"
)

func details(rows ...table.Row) table.Table {
	return table.Table{Schema: schema.TradeDetail, Rows: rows}
}

/*
TestValidate_TableDriven verifies that Validate accepts canonical tables
unchanged and turns the first violation into a ConsistencyError naming the
row key.
*/
func TestValidate_TableDriven(t *testing.T) {
	cases := []struct {
		name   string
		in     table.Table
		reason string // empty: valid
	}{
		{"valid", details(row("T1", "101", "AAPL", "100", "150.5", "2024-01-02", "Acme", "")), ""},
		{"empty table", details(), ""},
		{"null required", details(row("T1", "101", "AAPL", "", "1", "2024-01-02", "Acme", "EMEA")), "required column quantity is null"},
		{"non canonical decimal", details(row("T1", "101", "AAPL", "1.50", "1", "2024-01-02", "", "")), "not canonical"},
		{"non canonical date", details(row("T1", "101", "AAPL", "1", "1", "02.01.2024", "", "")), "is not 2006-01-02"},
		{"wrong schema", trades(), "does not match contract"},
		{"short row", details(table.Row{table.Str("T1")}), "has 1 cells"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := Validate{Contract: schema.TradeDetail}.Apply(tc.in)
			if tc.reason == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !table.Equal(got, tc.in) {
					t.Fatalf("valid table changed")
				}
				return
			}
			var ce *pipeerr.ConsistencyError
			if !errors.As(err, &ce) || !strings.Contains(ce.Reason, tc.reason) {
				t.Fatalf("err = %v, want ConsistencyError containing %q", err, tc.reason)
			}
		})
	}
}

func TestValidate_KeyInError(t *testing.T) {
	_, err := Validate{Contract: schema.TradeDetail}.Apply(details(row("T9", "101", "AAPL", "1", "1", "bad", "", "")))
	var ce *pipeerr.ConsistencyError
	if !errors.As(err, &ce) || ce.Key != "T9" {
		t.Fatalf("err = %#v, want key T9", err)
	}
}

func TestValidate_Int(t *testing.T) {
	in := table.Table{Schema: schema.ClientInvestment, Rows: []table.Row{row("101", "Acme", "EMEA", "15000", "02")}}
	if _, err := (Validate{Contract: schema.ClientInvestment}).Apply(in); err == nil || !strings.Contains(err.Error(), "integer") {
		t.Fatalf("err = %v, want non-canonical integer", err)
	}
}
