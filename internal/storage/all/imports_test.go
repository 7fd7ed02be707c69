package all

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"tradepipe/internal/storage"
)

func TestAllKindsRegistered(t *testing.T) {
	want := []string{"fs", "memory", "mssql", "mysql", "postgres", "sqlite"}
	if diff := cmp.Diff(want, storage.Kinds()); diff != "" {
		t.Fatalf("registered kinds mismatch (-want +got):\n%s", diff)
	}
}
