package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dcastillo/agil-radar/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// UpsertStats reports what a raw-load batch did.
type UpsertStats struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

// ScoreUpdate pairs a tender id with its freshly computed score.
type ScoreUpdate struct {
	TenderID int64
	Score    int
}

// selectCols is the column list shared by all tender queries. Tenders are
// always read with their organization and tracking row joined in.
const selectCols = `t.id, t.code, t.name, t.amount_clp, t.published_at, t.closes_at,
	t.second_call_closes_at, t.status_text, t.bidder_count, t.description,
	t.delivery_address, t.products, t.score, t.organization_id,
	t.created_at, t.updated_at,
	o.id, o.name, s.name,
	k.tender_id, k.is_favorite, k.is_bid`

const fromTenders = `FROM tenders t
	LEFT JOIN organizations o ON o.id = t.organization_id
	LEFT JOIN sectors s ON s.id = o.sector_id
	LEFT JOIN tracking k ON k.tender_id = t.id`

func scanTender(scan func(dest ...interface{}) error) (models.Tender, error) {
	var t models.Tender
	var name, statusText, address *string
	var amount *float64
	var bidders *int
	var productsRaw []byte
	var orgID *int64
	var orgName, sectorName *string
	var trackID *int64
	var fav, bid *bool

	err := scan(
		&t.ID, &t.Code, &name, &amount, &t.PublishedAt, &t.ClosesAt,
		&t.SecondCallClosesAt, &statusText, &bidders, &t.Description,
		&address, &productsRaw, &t.Score, &t.OrganizationID,
		&t.CreatedAt, &t.UpdatedAt,
		&orgID, &orgName, &sectorName,
		&trackID, &fav, &bid,
	)
	if err != nil {
		return t, err
	}

	if name != nil {
		t.Name = *name
	}
	if statusText != nil {
		t.StatusText = *statusText
	}
	if address != nil {
		t.DeliveryAddress = *address
	}
	if amount != nil {
		t.AmountCLP = *amount
	}
	if bidders != nil {
		t.BidderCount = *bidders
	}
	if len(productsRaw) > 0 {
		_ = json.Unmarshal(productsRaw, &t.Products)
	}
	if orgID != nil {
		org := &models.Organization{ID: *orgID}
		if orgName != nil {
			org.Name = *orgName
		}
		if sectorName != nil {
			org.Sector = *sectorName
		}
		t.Organization = org
	}
	if trackID != nil {
		t.Tracking = &models.TrackingState{TenderID: *trackID}
		if fav != nil {
			t.Tracking.IsFavorite = *fav
		}
		if bid != nil {
			t.Tracking.IsBid = *bid
		}
	}

	return t, nil
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// getOrCreateOrganization resolves an organization (and its sector) inside
// the load transaction, creating both lazily. Names are normalized so the
// same buyer with different formatting maps to one row.
func getOrCreateOrganization(ctx context.Context, tx pgx.Tx, orgName, sectorName string) (int64, error) {
	sector := strings.TrimSpace(sectorName)
	if sector == "" {
		sector = "Unspecified"
	}

	var sectorID int64
	err := tx.QueryRow(ctx, "SELECT id FROM sectors WHERE name = $1", sector).Scan(&sectorID)
	if err == pgx.ErrNoRows {
		err = tx.QueryRow(ctx, "INSERT INTO sectors (name) VALUES ($1) RETURNING id", sector).Scan(&sectorID)
	}
	if err != nil {
		return 0, fmt.Errorf("resolving sector %q: %w", sector, err)
	}

	org := normalizeName(orgName)
	if org == "" {
		org = "unspecified organization"
	}

	var orgID int64
	err = tx.QueryRow(ctx, "SELECT id FROM organizations WHERE name = $1", org).Scan(&orgID)
	if err == pgx.ErrNoRows {
		err = tx.QueryRow(ctx, "INSERT INTO organizations (name, sector_id) VALUES ($1, $2) RETURNING id", org, sectorID).Scan(&orgID)
	}
	if err != nil {
		return 0, fmt.Errorf("resolving organization %q: %w", org, err)
	}

	return orgID, nil
}

// UpsertRaw loads a batch of listing records in one transaction. New tenders
// are inserted with score 0 and no description; existing ones only get their
// volatile fields refreshed (status, bidder count, closing date). Records
// with no code, or codes repeated within the batch, are skipped and counted.
func (s *Store) UpsertRaw(ctx context.Context, records []models.RawTender) (UpsertStats, error) {
	var stats UpsertStats

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return stats, fmt.Errorf("begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		code := strings.TrimSpace(rec.Code)
		if code == "" || seen[code] {
			stats.Skipped++
			continue
		}
		seen[code] = true

		orgID, err := getOrCreateOrganization(ctx, tx, rec.OrganizationName, rec.SectorName)
		if err != nil {
			return UpsertStats{}, err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE tenders
			SET status_text = $2, bidder_count = $3, closes_at = $4, updated_at = NOW()
			WHERE code = $1
		`, code, rec.StatusText, rec.BidderCount, rec.ClosesAt)
		if err != nil {
			return UpsertStats{}, fmt.Errorf("refresh failed for %s: %w", code, err)
		}
		if tag.RowsAffected() > 0 {
			stats.Updated++
			continue
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO tenders (code, name, amount_clp, published_at, closes_at,
				status_text, bidder_count, organization_id, score)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0)
		`, code, rec.Name, rec.AmountCLP, rec.PublishedAt, rec.ClosesAt,
			rec.StatusText, rec.BidderCount, orgID)
		if err != nil {
			return UpsertStats{}, fmt.Errorf("insert failed for %s: %w", code, err)
		}
		stats.Inserted++
	}

	if err := tx.Commit(ctx); err != nil {
		return UpsertStats{}, fmt.Errorf("commit failed: %w", err)
	}

	return stats, nil
}

func (s *Store) queryTenders(ctx context.Context, where string, orderBy string, args ...interface{}) ([]models.Tender, error) {
	sql := fmt.Sprintf("SELECT %s %s %s %s", selectCols, fromTenders, where, orderBy)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var tenders []models.Tender
	for rows.Next() {
		t, err := scanTender(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		tenders = append(tenders, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return tenders, nil
}

// SelectUnscored returns tenders never scored and never detailed: score = 0
// and description still null. The two conditions together distinguish "new"
// from "previously scored down to exactly 0".
func (s *Store) SelectUnscored(ctx context.Context) ([]models.Tender, error) {
	return s.queryTenders(ctx, "WHERE t.score = 0 AND t.description IS NULL", "ORDER BY t.id")
}

// SelectUnscoredAll returns every tender without a description regardless of
// score, for the full recompute path.
func (s *Store) SelectUnscoredAll(ctx context.Context) ([]models.Tender, error) {
	return s.queryTenders(ctx, "WHERE t.description IS NULL", "ORDER BY t.id")
}

// SelectPhase2Candidates returns tenders at or above the phase-1 threshold
// that have not been detailed yet, soonest closing first. That ordering is
// the detail-phase processing order.
func (s *Store) SelectPhase2Candidates(ctx context.Context, threshold int) ([]models.Tender, error) {
	return s.queryTenders(ctx,
		"WHERE t.score >= $1 AND t.description IS NULL",
		"ORDER BY t.closes_at ASC NULLS LAST", threshold)
}

// SelectTrackedForRefresh returns the union (by id) of relevant, favorited
// and bid tenders for the detail-refresh flow.
func (s *Store) SelectTrackedForRefresh(ctx context.Context, relevantThreshold int) ([]models.Tender, error) {
	return s.queryTenders(ctx,
		"WHERE t.score >= $1 OR k.is_favorite = TRUE OR k.is_bid = TRUE",
		"ORDER BY t.closes_at ASC NULLS LAST", relevantThreshold)
}

// ListByMinScore returns tenders at or above a score threshold, highest
// score first. Used for the candidate and relevant views.
func (s *Store) ListByMinScore(ctx context.Context, minScore int) ([]models.Tender, error) {
	return s.queryTenders(ctx, "WHERE t.score >= $1", "ORDER BY t.score DESC, t.closes_at ASC NULLS LAST", minScore)
}

// ListFavorites returns favorited tenders, soonest closing first.
func (s *Store) ListFavorites(ctx context.Context) ([]models.Tender, error) {
	return s.queryTenders(ctx, "WHERE k.is_favorite = TRUE", "ORDER BY t.closes_at ASC NULLS LAST")
}

// ListBids returns tenders the operator has bid on, soonest closing first.
func (s *Store) ListBids(ctx context.Context) ([]models.Tender, error) {
	return s.queryTenders(ctx, "WHERE k.is_bid = TRUE", "ORDER BY t.closes_at ASC NULLS LAST")
}

func (s *Store) GetTenderByCode(ctx context.Context, code string) (*models.Tender, error) {
	sql := fmt.Sprintf("SELECT %s %s WHERE t.code = $1", selectCols, fromTenders)
	row := s.pool.QueryRow(ctx, sql, code)

	t, err := scanTender(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("not found: %w", err)
	}
	return &t, nil
}

// BulkUpdateScores writes a batch of phase-1 scores in one transaction.
func (s *Store) BulkUpdateScores(ctx context.Context, updates []ScoreUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, u := range updates {
		if _, err := tx.Exec(ctx,
			"UPDATE tenders SET score = $2, updated_at = NOW() WHERE id = $1",
			u.TenderID, u.Score); err != nil {
			return fmt.Errorf("score update failed for %d: %w", u.TenderID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

// UpdateWithDetail persists the detail-sheet fields and the combined score
// for one tender. Each candidate's write is its own atomic unit.
func (s *Store) UpdateWithDetail(ctx context.Context, code string, detail models.TenderDetail, totalScore int) error {
	productsJSON, err := json.Marshal(detail.Products)
	if err != nil {
		return fmt.Errorf("encoding products for %s: %w", code, err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE tenders
		SET description = $2,
		    delivery_address = $3,
		    products = $4::jsonb,
		    second_call_closes_at = $5,
		    score = $6,
		    updated_at = NOW()
		WHERE code = $1
	`, code, detail.Description, detail.DeliveryAddress, string(productsJSON),
		detail.SecondCallClosesAt, totalScore)
	if err != nil {
		return fmt.Errorf("detail update failed for %s: %w", code, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("detail update failed for %s: tender not found", code)
	}
	return nil
}

// setTracking reads the current flags, applies the change through the model
// setters (which enforce bid implies favorite) and upserts the row.
func (s *Store) setTracking(ctx context.Context, tenderID int64, apply func(*models.TrackingState)) error {
	track := models.TrackingState{TenderID: tenderID}
	err := s.pool.QueryRow(ctx,
		"SELECT is_favorite, is_bid FROM tracking WHERE tender_id = $1",
		tenderID).Scan(&track.IsFavorite, &track.IsBid)
	if err != nil && err != pgx.ErrNoRows {
		return fmt.Errorf("tracking read failed for %d: %w", tenderID, err)
	}

	apply(&track)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tracking (tender_id, is_favorite, is_bid)
		VALUES ($1, $2, $3)
		ON CONFLICT (tender_id) DO UPDATE SET
			is_favorite = EXCLUDED.is_favorite,
			is_bid = EXCLUDED.is_bid
	`, tenderID, track.IsFavorite, track.IsBid)
	if err != nil {
		return fmt.Errorf("tracking write failed for %d: %w", tenderID, err)
	}
	return nil
}

func (s *Store) SetFavorite(ctx context.Context, tenderID int64, value bool) error {
	return s.setTracking(ctx, tenderID, func(t *models.TrackingState) { t.SetFavorite(value) })
}

func (s *Store) SetBid(ctx context.Context, tenderID int64, value bool) error {
	return s.setTracking(ctx, tenderID, func(t *models.TrackingState) { t.SetBid(value) })
}

// DeleteTender removes a tender permanently; the tracking row cascades.
func (s *Store) DeleteTender(ctx context.Context, tenderID int64) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM tenders WHERE id = $1", tenderID)
	if err != nil {
		return fmt.Errorf("delete failed for %d: %w", tenderID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete failed for %d: tender not found", tenderID)
	}
	return nil
}

// CreateRun records the start of a pipeline invocation.
func (s *Store) CreateRun(ctx context.Context, kind string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx,
		"INSERT INTO etl_runs (id, kind, status) VALUES ($1, $2, 'running')", id, kind)
	if err != nil {
		return uuid.Nil, fmt.Errorf("run insert failed: %w", err)
	}
	return id, nil
}

// FinishRun closes a run record with its final status and counters.
func (s *Store) FinishRun(ctx context.Context, run models.Run) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE etl_runs
		SET status = $2, extracted = $3, inserted = $4, updated = $5,
		    skipped = $6, detailed = $7, errors = $8, detail = $9,
		    completed_at = NOW()
		WHERE id = $1
	`, run.ID, run.Status, run.Extracted, run.Inserted, run.Updated,
		run.Skipped, run.Detailed, run.Errors, run.Detail)
	if err != nil {
		return fmt.Errorf("run update failed: %w", err)
	}
	return nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, status, extracted, inserted, updated, skipped,
		       detailed, errors, started_at, completed_at, COALESCE(detail, '')
		FROM etl_runs ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("runs query failed: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var r models.Run
		if err := rows.Scan(&r.ID, &r.Kind, &r.Status, &r.Extracted, &r.Inserted,
			&r.Updated, &r.Skipped, &r.Detailed, &r.Errors,
			&r.StartedAt, &r.CompletedAt, &r.Detail); err != nil {
			return nil, fmt.Errorf("run scan failed: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
