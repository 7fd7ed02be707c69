package builtin

import (
	"testing"

	"tradepipe/internal/schema"
	"tradepipe/internal/transformer"
)

func TestRequire_DropsRowsWithNulls(t *testing.T) {
	in := trades(
		row("T1", "101", "AAPL", "10", "150", "2024-01-02"),
		row("T2", "", "AAPL", "10", "150", "2024-01-02"),
		row("T3", "102", "MSFT", "", "300", "2024-01-02"),
		row("", "103", "GOOG", "1", "1", "2024-01-02"), // trade_id not required here
	)
	var rej []transformer.Rejected
	got, err := Require{
		Fields: []string{schema.ColClientID, schema.ColInstrument, schema.ColQuantity, schema.ColPrice, schema.ColTradeDate},
		Reject: collect(&rej),
	}.Apply(in)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.Len() != 2 || got.Rows[0][0].String != "T1" || got.Rows[1][1].String != "103" {
		t.Fatalf("rows = %v", got.Rows)
	}
	if len(rej) != 2 || rej[0].Reason != "null client_id" || rej[1].Reason != "null quantity" || rej[0].Step != "require" {
		t.Fatalf("rejected = %+v", rej)
	}
	if in.Len() != 4 {
		t.Fatalf("input mutated")
	}
}

func TestRequire_UnknownField(t *testing.T) {
	if _, err := (Require{Fields: []string{"nope"}}).Apply(trades()); err == nil {
		t.Fatalf("expected error for unknown column")
	}
}
