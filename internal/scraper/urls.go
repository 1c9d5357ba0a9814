package scraper

import (
	"fmt"
	"net/url"
	"time"
)

// buildListingURL builds the search API URL for one listing page. Status 2
// is "published", ordering newest first. The date window narrows the search
// to recently published tenders.
func buildListingURL(apiBase string, page int, from, to time.Time) string {
	params := url.Values{}
	params.Set("status", "2")
	params.Set("order_by", "recent")
	params.Set("page_number", fmt.Sprintf("%d", page))
	params.Set("region", "all")
	if !from.IsZero() {
		params.Set("date_from", from.Format("2006-01-02"))
	}
	if !to.IsZero() {
		params.Set("date_to", to.Format("2006-01-02"))
	}
	return fmt.Sprintf("%s/compra-agil?%s", apiBase, params.Encode())
}

// buildDetailURL builds the detail API URL for one tender.
func buildDetailURL(apiBase, code string) string {
	return fmt.Sprintf("%s/compra-agil?action=ficha&code=%s", apiBase, url.QueryEscape(code))
}

// buildDetailPageURL builds the public web page URL for one tender, used by
// the HTML fallback when the detail API yields nothing.
func buildDetailPageURL(webBase, code string) string {
	return fmt.Sprintf("%s/ficha?code=%s", webBase, url.QueryEscape(code))
}
