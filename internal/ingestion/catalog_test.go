package ingestion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchMarketsWalksCursorPagination(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("cursor") == "" {
			w.Write([]byte(`{"markets":[{"ticker":"MKT_A","title":"A","volume":100,"status":"active"}],"cursor":"page2"}`))
			return
		}
		w.Write([]byte(`{"markets":[{"ticker":"MKT_B","title":"B","volume":200,"status":"active"}],"cursor":""}`))
	}))
	defer srv.Close()

	client := NewCatalogClient(srv.URL, "", nil, 0)
	markets, err := client.FetchMarkets(context.Background())
	if err != nil {
		t.Fatalf("FetchMarkets: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("expected 2 markets across 2 pages, got %d", len(markets))
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 page fetches, got %d", calls)
	}
}

func TestFetchMarketsFiltersByCategory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"markets":[
			{"ticker":"MKT_A","title":"A","volume":100,"status":"active","category":"sports"},
			{"ticker":"MKT_B","title":"B","volume":200,"status":"active","category":"weather"}
		],"cursor":""}`))
	}))
	defer srv.Close()

	client := NewCatalogClient(srv.URL, "weather", nil, 0)
	markets, err := client.FetchMarkets(context.Background())
	if err != nil {
		t.Fatalf("FetchMarkets: %v", err)
	}
	if len(markets) != 1 || markets[0].ID != "MKT_B" {
		t.Fatalf("expected category filter to keep only MKT_B, got %+v", markets)
	}
}

func TestFetchMarketsPropagatesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewCatalogClient(srv.URL, "", nil, 0)
	if _, err := client.FetchMarkets(context.Background()); err == nil {
		t.Fatal("expected a server error to surface as an error")
	}
}

func TestGetOrderbookReturnsRawBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"yes":[],"no":[]}`))
	}))
	defer srv.Close()

	client := NewCatalogClient(srv.URL, "", nil, 0)
	body, err := client.GetOrderbook(context.Background(), "MKT")
	if err != nil {
		t.Fatalf("GetOrderbook: %v", err)
	}
	if string(body) != `{"yes":[],"no":[]}` {
		t.Fatalf("unexpected orderbook body: %s", body)
	}
}
