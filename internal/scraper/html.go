package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/dcastillo/agil-radar/internal/models"
)

// fetchDetailHTML scrapes the public detail page for tenders whose detail
// API no longer answers. It returns nil with no error when the page exists
// but carries no detail content, which is how the marketplace renders
// removed tenders.
func (c *Client) fetchDetailHTML(ctx context.Context, code string) (*models.TenderDetail, error) {
	pageURL := buildDetailPageURL(c.webURL, code)

	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("detail page URL: %w", err)
	}

	collector := colly.NewCollector(
		colly.UserAgent(defaultUserAgent),
		colly.AllowedDomains(parsed.Host),
		colly.AllowURLRevisit(),
		colly.DetectCharset(),
	)
	collector.SetRequestTimeout(c.http.Timeout)
	collector.WithTransport(c.http.Transport)

	var body []byte
	var statusCode int
	var fetchErr error

	collector.OnRequest(func(r *colly.Request) {
		if err := ctx.Err(); err != nil {
			r.Abort()
			fetchErr = err
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = r.Body
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	if err := collector.Visit(pageURL); err != nil {
		return nil, fmt.Errorf("detail page visit %s: %w", code, err)
	}
	collector.Wait()

	if statusCode == http.StatusNotFound {
		return nil, nil
	}
	if fetchErr != nil {
		return nil, fmt.Errorf("detail page fetch %s: %w", code, fetchErr)
	}
	if len(body) == 0 {
		return nil, nil
	}

	return c.parseDetailPage(code, body)
}

func (c *Client) parseDetailPage(code string, body []byte) (*models.TenderDetail, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("detail page parse %s: %w", code, err)
	}

	detail := &models.TenderDetail{}

	doc.Find("[data-field=descripcion], .ficha-descripcion, #descripcion").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		detail.Description = c.cleanText(s.Text())
		return false
	})
	doc.Find("[data-field=direccion-entrega], .ficha-direccion, #direccion_entrega").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		detail.DeliveryAddress = c.cleanText(s.Text())
		return false
	})
	doc.Find("[data-field=fecha-cierre], .ficha-fecha-cierre time").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if v, ok := s.Attr("datetime"); ok {
			detail.ClosesAt = parseAPITime(v)
		} else {
			detail.ClosesAt = parseAPITime(s.Text())
		}
		return false
	})

	doc.Find(".productos-solicitados tr, [data-field=producto]").Each(func(_ int, s *goquery.Selection) {
		name := c.cleanText(s.Find(".producto-nombre, td:nth-child(1)").Text())
		desc := c.cleanText(s.Find(".producto-descripcion, td:nth-child(2)").Text())
		if name == "" {
			return
		}
		detail.Products = append(detail.Products, models.Product{Name: name, Description: desc})
	})

	if detail.Description == "" && detail.DeliveryAddress == "" && len(detail.Products) == 0 {
		log.Printf("[scraper] detail page for %s has no content, treating as removed", code)
		return nil, nil
	}

	return detail, nil
}
