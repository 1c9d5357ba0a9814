package models

import (
	"time"

	"github.com/google/uuid"
)

// Keyword types understood by the score engine.
const (
	KeywordTitlePositive = "title_positive"
	KeywordTitleNegative = "title_negative"
	KeywordProduct       = "product"
)

// Organization rule kinds.
const (
	RuleKindPriority = "priority"
	RuleKindUnwanted = "unwanted"
)

// Product is a single requested-product entry from a tender's detail sheet.
type Product struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Tender is one "compra ágil" listing. Description is nil until the detail
// phase has run for it; Score starts at 0 and accumulates phase-1 + phase-2
// points.
type Tender struct {
	ID                int64          `json:"id"`
	Code              string         `json:"code"`
	Name              string         `json:"name"`
	AmountCLP         float64        `json:"amount_clp"`
	PublishedAt       *time.Time     `json:"published_at"`
	ClosesAt          *time.Time     `json:"closes_at"`
	SecondCallClosesAt *time.Time    `json:"second_call_closes_at"`
	StatusText        string         `json:"status_text"`
	BidderCount       int            `json:"bidder_count"`
	Description       *string        `json:"description"`
	DeliveryAddress   string         `json:"delivery_address"`
	Products          []Product      `json:"products"`
	Score             int            `json:"score"`
	OrganizationID    *int64         `json:"organization_id"`
	Organization      *Organization  `json:"organization,omitempty"`
	Tracking          *TrackingState `json:"tracking,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Organization is a buying organization, created lazily the first time a
// tender references it. Names are stored normalized (lowercase, trimmed).
type Organization struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Sector string `json:"sector"`
}

// OrganizationRule classifies an organization for scoring. At most one rule
// exists per organization; Points is meaningful only for priority rules.
type OrganizationRule struct {
	ID               int64  `json:"id"`
	OrganizationID   int64  `json:"organization_id"`
	OrganizationName string `json:"organization_name,omitempty"`
	Kind             string `json:"kind"`
	Points           int    `json:"points"`
}

// Keyword is an operator-curated substring rule. Text is stored normalized;
// Points can be negative.
type Keyword struct {
	ID     int64  `json:"id"`
	Text   string `json:"text"`
	Type   string `json:"type"`
	Points int    `json:"points"`
}

// TrackingState holds the operator triage flags for one tender.
type TrackingState struct {
	TenderID   int64 `json:"tender_id"`
	IsFavorite bool  `json:"is_favorite"`
	IsBid      bool  `json:"is_bid"`
}

// SetFavorite clears or sets the favorite flag. Removing a favorite never
// touches the bid flag.
func (t *TrackingState) SetFavorite(v bool) {
	t.IsFavorite = v
}

// SetBid sets the bid flag. Marking a tender as bid forces it to be a
// favorite as well; un-marking leaves the favorite flag alone.
func (t *TrackingState) SetBid(v bool) {
	t.IsBid = v
	if v {
		t.IsFavorite = true
	}
}

// RawTender is a listing-level record as the extractor yields it, before
// any persistence.
type RawTender struct {
	Code             string     `json:"code"`
	Name             string     `json:"name"`
	OrganizationName string     `json:"organization_name"`
	SectorName       string     `json:"sector_name"`
	AmountCLP        float64    `json:"amount_clp"`
	PublishedAt      *time.Time `json:"published_at"`
	ClosesAt         *time.Time `json:"closes_at"`
	StatusText       string     `json:"status_text"`
	BidderCount      int        `json:"bidder_count"`
}

// TenderDetail is the detail-sheet payload for one tender.
type TenderDetail struct {
	Description        string     `json:"description"`
	DeliveryAddress    string     `json:"delivery_address"`
	ClosesAt           *time.Time `json:"closes_at"`
	SecondCallClosesAt *time.Time `json:"second_call_closes_at"`
	Products           []Product  `json:"products"`
}

// Run is one recorded pipeline invocation.
type Run struct {
	ID          uuid.UUID  `json:"id"`
	Kind        string     `json:"kind"` // listing, recompute, tracked_refresh, import
	Status      string     `json:"status"`
	Extracted   int        `json:"extracted"`
	Inserted    int        `json:"inserted"`
	Updated     int        `json:"updated"`
	Skipped     int        `json:"skipped"`
	Detailed    int        `json:"detailed"`
	Errors      int        `json:"errors"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	Detail      string     `json:"detail,omitempty"`
}
