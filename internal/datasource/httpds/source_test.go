package httpds

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSourceOpen(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/trade.csv":
			_, _ = io.WriteString(w, "trade_id,client_id\n1,101\n")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(fastConfig(0))

	rc, err := NewSource(c, srv.URL+"/trade.csv", nil).Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	body, _ := io.ReadAll(rc)
	rc.Close()
	if !strings.HasPrefix(string(body), "trade_id,client_id") {
		t.Fatalf("body = %q", body)
	}

	missing := NewSource(c, srv.URL+"/nope.csv", nil)
	if _, err := missing.Open(context.Background()); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("want 404 error, got %v", err)
	}
	if missing.Describe() != srv.URL+"/nope.csv" {
		t.Fatalf("Describe = %q", missing.Describe())
	}
}
