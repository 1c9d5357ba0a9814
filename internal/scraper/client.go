package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/dcastillo/agil-radar/internal/models"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config holds the knobs for a marketplace Client.
type Config struct {
	WebURL     string
	APIURL     string
	APIKey     string
	MaxRetries int
	Timeout    time.Duration
	PageDelay  time.Duration
}

// Client talks to the marketplace search and detail APIs, with an HTML
// fallback for detail sheets the API no longer serves.
type Client struct {
	http      *http.Client
	webURL    string
	apiURL    string
	apiKey    string
	retries   int
	pageDelay time.Duration
	sanitizer *bluemonday.Policy
}

func NewClient(cfg Config) *Client {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PageDelay == 0 {
		cfg.PageDelay = 2 * time.Second
	}

	return &Client{
		http:      &http.Client{Timeout: cfg.Timeout},
		webURL:    strings.TrimRight(cfg.WebURL, "/"),
		apiURL:    strings.TrimRight(cfg.APIURL, "/"),
		apiKey:    cfg.APIKey,
		retries:   cfg.MaxRetries,
		pageDelay: cfg.PageDelay,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

type listingEnvelope struct {
	Success string `json:"success"`
	Payload *struct {
		ResultCount int           `json:"resultCount"`
		PageCount   int           `json:"pageCount"`
		Resultados  []listingItem `json:"resultados"`
	} `json:"payload"`
}

type listingItem struct {
	ID               string  `json:"id"`
	Codigo           string  `json:"codigo"`
	Nombre           string  `json:"nombre"`
	Organismo        string  `json:"organismo"`
	Unidad           string  `json:"unidad"`
	MontoCLP         float64 `json:"monto_disponible_CLP"`
	FechaPublicacion string  `json:"fecha_publicacion"`
	FechaCierre      string  `json:"fecha_cierre"`
	Estado           string  `json:"estado"`
	Proveedores      int     `json:"cantidad_provedores_cotizando"`
}

type detailEnvelope struct {
	Success string `json:"success"`
	Payload *struct {
		Descripcion      string `json:"descripcion"`
		DireccionEntrega string `json:"direccion_entrega"`
		FechaCierreP1    string `json:"fecha_cierre_primer_llamado"`
		FechaCierreP2    string `json:"fecha_cierre_segundo_llamado"`
		Productos        []struct {
			Nombre      string `json:"nombre"`
			Descripcion string `json:"descripcion"`
		} `json:"productos_solicitados"`
	} `json:"payload"`
}

// FetchListing walks the paginated search API inside the given date window.
// Page 1 reveals the total page count; maxPages == 0 means no cap. Results
// are deduplicated by code, keeping the first occurrence.
func (c *Client) FetchListing(ctx context.Context, from, to time.Time, maxPages int, progress func(string)) ([]models.RawTender, error) {
	if progress == nil {
		progress = func(string) {}
	}

	progress("Fetching listing page 1...")
	env, err := c.fetchListingPage(ctx, 1, from, to)
	if err != nil {
		return nil, fmt.Errorf("listing page 1: %w", err)
	}

	limit := env.Payload.PageCount
	if maxPages > 0 && maxPages < limit {
		limit = maxPages
	}
	log.Printf("[scraper] listing: %d results across %d pages, fetching %d",
		env.Payload.ResultCount, env.Payload.PageCount, limit)

	seen := make(map[string]bool)
	var out []models.RawTender
	appendPage := func(items []listingItem) {
		for _, it := range items {
			raw, ok := c.toRawTender(it)
			if !ok || seen[raw.Code] {
				continue
			}
			seen[raw.Code] = true
			out = append(out, raw)
		}
	}
	appendPage(env.Payload.Resultados)

	for page := 2; page <= limit; page++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pageDelay):
		}

		progress(fmt.Sprintf("Fetching listing page %d/%d...", page, limit))
		env, err := c.fetchListingPage(ctx, page, from, to)
		if err != nil {
			// A failed middle page is skipped, not fatal.
			log.Printf("[scraper] listing page %d failed, skipping: %v", page, err)
			continue
		}
		appendPage(env.Payload.Resultados)
	}

	log.Printf("[scraper] listing complete: %d unique tenders", len(out))
	return out, nil
}

func (c *Client) fetchListingPage(ctx context.Context, page int, from, to time.Time) (*listingEnvelope, error) {
	body, err := c.getWithRetry(ctx, buildListingURL(c.apiURL, page, from, to))
	if err != nil {
		return nil, err
	}

	var env listingEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode listing response: %w", err)
	}
	if env.Success != "OK" || env.Payload == nil {
		return nil, fmt.Errorf("listing response not OK (success=%q)", env.Success)
	}
	return &env, nil
}

func (c *Client) toRawTender(it listingItem) (models.RawTender, bool) {
	code := it.Codigo
	if code == "" {
		code = it.ID
	}
	if code == "" {
		return models.RawTender{}, false
	}

	return models.RawTender{
		Code:             code,
		Name:             strings.TrimSpace(it.Nombre),
		OrganizationName: it.Organismo,
		SectorName:       it.Unidad,
		AmountCLP:        it.MontoCLP,
		PublishedAt:      parseAPITime(it.FechaPublicacion),
		ClosesAt:         parseAPITime(it.FechaCierre),
		StatusText:       it.Estado,
		BidderCount:      it.Proveedores,
	}, true
}

// FetchDetail fetches one tender's detail sheet. The JSON API is tried
// first; if it answers without a usable payload the public HTML page is
// parsed instead. A nil record with nil error means the sheet is gone.
func (c *Client) FetchDetail(ctx context.Context, code string) (*models.TenderDetail, error) {
	body, err := c.getWithRetry(ctx, buildDetailURL(c.apiURL, code))
	if err != nil {
		return nil, fmt.Errorf("detail %s: %w", code, err)
	}

	var env detailEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Success == "OK" && env.Payload != nil {
		p := env.Payload
		detail := &models.TenderDetail{
			Description:        c.cleanText(p.Descripcion),
			DeliveryAddress:    c.cleanText(p.DireccionEntrega),
			ClosesAt:           parseAPITime(p.FechaCierreP1),
			SecondCallClosesAt: parseAPITime(p.FechaCierreP2),
		}
		for _, prod := range p.Productos {
			detail.Products = append(detail.Products, models.Product{
				Name:        c.cleanText(prod.Nombre),
				Description: c.cleanText(prod.Descripcion),
			})
		}
		return detail, nil
	}

	log.Printf("[scraper] detail API gave no payload for %s, trying HTML page", code)
	return c.fetchDetailHTML(ctx, code)
}

// cleanText strips any markup out of API text and collapses whitespace.
func (c *Client) cleanText(s string) string {
	s = c.sanitizer.Sanitize(s)
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// getWithRetry performs a GET with the API key header, retrying on 429,
// 5xx and timeouts with exponential backoff plus jitter.
func (c *Client) getWithRetry(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(500*(1<<uint(attempt-1))) * time.Millisecond
			jitter := time.Duration(rand.Intn(100)) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", defaultUserAgent)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Accept-Language", "es-CL,es;q=0.9")
		if c.apiKey != "" {
			req.Header.Set("X-Api-Key", c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if shouldRetry(err, 0) {
				continue
			}
			return nil, fmt.Errorf("request failed: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read response body: %w", err)
			}
			return body, nil
		}

		resp.Body.Close()
		if shouldRetry(nil, resp.StatusCode) {
			lastErr = fmt.Errorf("status code %d", resp.StatusCode)
			continue
		}
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func shouldRetry(err error, statusCode int) bool {
	if err != nil {
		if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
			return true
		}
		return false
	}

	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

var apiTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-01-2006 15:04",
	"02-01-2006",
}

// parseAPITime tolerates the several date shapes the marketplace emits.
// Unparseable or empty values come back nil.
func parseAPITime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range apiTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
