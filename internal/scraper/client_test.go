package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(apiURL, webURL string) *Client {
	return NewClient(Config{
		APIURL:    apiURL,
		WebURL:    webURL,
		APIKey:    "test-key",
		PageDelay: time.Millisecond,
		Timeout:   5 * time.Second,
	})
}

func TestFetchListingPaginatesAndDedups(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Api-Key"); got != "test-key" {
			t.Errorf("expected api key header, got %q", got)
		}
		switch r.URL.Query().Get("page_number") {
		case "1":
			fmt.Fprint(w, `{"success":"OK","payload":{"resultCount":3,"pageCount":2,"resultados":[
				{"codigo":"CA-1","nombre":"Notebook","organismo":"Org A","estado":"Publicada","monto_disponible_CLP":100000},
				{"codigo":"CA-2","nombre":"Impresora","organismo":"Org B","estado":"Publicada"}]}}`)
		case "2":
			fmt.Fprint(w, `{"success":"OK","payload":{"resultCount":3,"pageCount":2,"resultados":[
				{"codigo":"CA-2","nombre":"Impresora","organismo":"Org B","estado":"Publicada"},
				{"codigo":"CA-3","nombre":"Toner","organismo":"Org C","estado":"Publicada"}]}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	got, err := c.FetchListing(context.Background(), time.Time{}, time.Time{}, 0, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 unique tenders, got %d", len(got))
	}
	if got[0].Code != "CA-1" || got[1].Code != "CA-2" || got[2].Code != "CA-3" {
		t.Fatalf("unexpected codes: %v %v %v", got[0].Code, got[1].Code, got[2].Code)
	}
}

func TestFetchListingHonorsMaxPages(t *testing.T) {
	var pagesServed int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pagesServed++
		page := r.URL.Query().Get("page_number")
		fmt.Fprintf(w, `{"success":"OK","payload":{"resultCount":50,"pageCount":5,"resultados":[
			{"codigo":"CA-%s","nombre":"Item","organismo":"Org","estado":"Publicada"}]}}`, page)
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	got, err := c.FetchListing(context.Background(), time.Time{}, time.Time{}, 2, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pagesServed != 2 {
		t.Fatalf("expected 2 pages fetched, got %d", pagesServed)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 tenders, got %d", len(got))
	}
}

func TestFetchListingRejectsBadEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":"ERROR"}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	if _, err := c.FetchListing(context.Background(), time.Time{}, time.Time{}, 0, nil); err == nil {
		t.Fatal("expected error for bad envelope, got nil")
	}
}

func TestFetchDetailParsesAndSanitizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") != "ficha" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"success":"OK","payload":{
			"descripcion":"<p>Se requiere  <b>notebook</b></p>",
			"direccion_entrega":"Av. Principal 123",
			"fecha_cierre_primer_llamado":"2026-09-15T18:00:00",
			"productos_solicitados":[{"nombre":"Notebook 15\"","descripcion":"8GB RAM"}]}}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	detail, err := c.FetchDetail(context.Background(), "CA-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detail == nil {
		t.Fatal("expected detail, got nil")
	}
	if detail.Description != "Se requiere notebook" {
		t.Fatalf("expected sanitized description, got %q", detail.Description)
	}
	if detail.DeliveryAddress != "Av. Principal 123" {
		t.Fatalf("unexpected delivery address %q", detail.DeliveryAddress)
	}
	if detail.ClosesAt == nil {
		t.Fatal("expected closes_at to parse")
	}
	if len(detail.Products) != 1 || detail.Products[0].Description != "8GB RAM" {
		t.Fatalf("unexpected products: %+v", detail.Products)
	}
}

func TestFetchDetailFallsBackToHTML(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":"ERROR"}`)
	}))
	defer api.Close()

	web := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<div class="ficha-descripcion">Compra de impresoras láser</div>
			<div class="ficha-direccion">Bodega Central</div>
			<table class="productos-solicitados">
				<tr><td>Impresora</td><td>Láser monocromática</td></tr>
			</table>
		</body></html>`)
	}))
	defer web.Close()

	c := testClient(api.URL, web.URL)
	detail, err := c.FetchDetail(context.Background(), "CA-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detail == nil {
		t.Fatal("expected detail from HTML fallback, got nil")
	}
	if detail.Description != "Compra de impresoras láser" {
		t.Fatalf("unexpected description %q", detail.Description)
	}
	if len(detail.Products) != 1 || detail.Products[0].Name != "Impresora" {
		t.Fatalf("unexpected products: %+v", detail.Products)
	}
}

func TestGetWithRetryRecoversFrom500(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	body, err := c.getWithRetry(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
	if len(body) == 0 {
		t.Fatal("expected response body")
	}
}

func TestGetWithRetryGivesUpOn404(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL)
	if _, err := c.getWithRetry(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 404")
	}
	if calls != 1 {
		t.Fatalf("404 should not be retried, got %d attempts", calls)
	}
}

func TestParseAPITime(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"2026-09-15T18:00:00", true},
		{"2026-09-15", true},
		{"15-09-2026 18:00", true},
		{"", false},
		{"no es fecha", false},
	}
	for _, tc := range cases {
		got := parseAPITime(tc.in)
		if (got != nil) != tc.want {
			t.Fatalf("parseAPITime(%q) = %v, want parsed=%v", tc.in, got, tc.want)
		}
	}
}
