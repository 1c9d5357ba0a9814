package etl

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dcastillo/agil-radar/internal/db"
	"github.com/dcastillo/agil-radar/internal/models"
	"github.com/dcastillo/agil-radar/internal/scoring"
)

// Run kinds recorded per pipeline invocation.
const (
	RunKindListing        = "listing"
	RunKindRecompute      = "recompute"
	RunKindTrackedRefresh = "tracked_refresh"
	RunKindImport         = "import"
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Extractor is the remote-marketplace surface the pipeline pulls from.
// FetchDetail returns a nil record with nil error when one tender's sheet
// is gone; an error means the whole session is broken.
type Extractor interface {
	FetchListing(ctx context.Context, from, to time.Time, maxPages int, progress func(string)) ([]models.RawTender, error)
	FetchDetail(ctx context.Context, code string) (*models.TenderDetail, error)
}

// Repository is the persistence surface the pipeline writes through.
type Repository interface {
	UpsertRaw(ctx context.Context, records []models.RawTender) (db.UpsertStats, error)
	SelectUnscored(ctx context.Context) ([]models.Tender, error)
	SelectUnscoredAll(ctx context.Context) ([]models.Tender, error)
	SelectPhase2Candidates(ctx context.Context, threshold int) ([]models.Tender, error)
	SelectTrackedForRefresh(ctx context.Context, relevantThreshold int) ([]models.Tender, error)
	BulkUpdateScores(ctx context.Context, updates []db.ScoreUpdate) error
	UpdateWithDetail(ctx context.Context, code string, detail models.TenderDetail, totalScore int) error
	CreateRun(ctx context.Context, kind string) (uuid.UUID, error)
	FinishRun(ctx context.Context, run models.Run) error
}

// Scorer is the rule engine surface the pipeline scores with.
type Scorer interface {
	Reload(ctx context.Context)
	ScorePhase1(name, statusText, organizationName string) int
	ScorePhase2(description string, products []models.Product) int
}

// Options carries the pipeline tuning knobs.
type Options struct {
	Phase1Threshold   int
	RelevantThreshold int
	MaxPages          int
	LookbackDays      int
	CandidateDelay    time.Duration
}

// Pipeline orchestrates the two scraping phases. At most one run is active
// at a time; scheduled triggers that find the guard held skip their cycle.
type Pipeline struct {
	repo      Repository
	extractor Extractor
	scorer    Scorer
	opts      Options

	running atomic.Bool
}

// NewPipeline wires the pipeline. Thresholds are taken as given, a zero
// threshold is a valid operator choice; defaults live in the config layer.
func NewPipeline(repo Repository, extractor Extractor, scorer Scorer, opts Options) *Pipeline {
	if opts.LookbackDays == 0 {
		opts.LookbackDays = 3
	}
	if opts.CandidateDelay == 0 {
		opts.CandidateDelay = time.Second
	}
	return &Pipeline{repo: repo, extractor: extractor, scorer: scorer, opts: opts}
}

// Busy reports whether a run currently holds the guard.
func (p *Pipeline) Busy() bool {
	return p.running.Load()
}

func (p *Pipeline) acquire() bool {
	return p.running.CompareAndSwap(false, true)
}

func (p *Pipeline) release() {
	p.running.Store(false)
}

// startRun opens a run record. A nil repository error is required before
// any stage executes so every invocation leaves a trace.
func (p *Pipeline) startRun(ctx context.Context, kind string) (models.Run, error) {
	id, err := p.repo.CreateRun(ctx, kind)
	if err != nil {
		return models.Run{}, fmt.Errorf("failed to create run record: %w", err)
	}
	return models.Run{ID: id, Kind: kind, Status: RunStatusRunning, StartedAt: time.Now()}, nil
}

func (p *Pipeline) finishRun(ctx context.Context, run *models.Run, runErr error) {
	if runErr != nil {
		run.Status = RunStatusFailed
		run.Detail = runErr.Error()
	} else {
		run.Status = RunStatusCompleted
	}
	if err := p.repo.FinishRun(ctx, *run); err != nil {
		log.Printf("[etl] failed to finish run %s: %v", run.ID, err)
	}
}

// RunListing executes the full listing pipeline: extract the recent
// listing window, load it, score the new rows, then walk the phase-2
// candidates fetching detail sheets. Progress strings are fire-and-forget.
func (p *Pipeline) RunListing(ctx context.Context, progress func(string)) (*models.Run, error) {
	if !p.acquire() {
		return nil, ErrRunInProgress
	}
	defer p.release()

	if progress == nil {
		progress = func(string) {}
	}

	run, err := p.startRun(ctx, RunKindListing)
	if err != nil {
		return nil, err
	}
	var runErr error
	defer func() { p.finishRun(ctx, &run, runErr) }()

	// Extract
	progress("Extracting listing...")
	to := time.Now()
	from := to.AddDate(0, 0, -p.opts.LookbackDays)
	records, err := p.extractor.FetchListing(ctx, from, to, p.opts.MaxPages, progress)
	if err != nil {
		runErr = &ExtractionError{Err: err}
		return &run, runErr
	}
	run.Extracted = len(records)
	if len(records) == 0 {
		progress("Nothing found in the listing window.")
		return &run, nil
	}

	// Load
	progress(fmt.Sprintf("Loading %d records...", len(records)))
	stats, err := p.repo.UpsertRaw(ctx, records)
	if err != nil {
		runErr = &LoadError{Err: err}
		return &run, runErr
	}
	run.Inserted = stats.Inserted
	run.Updated = stats.Updated
	run.Skipped = stats.Skipped
	log.Printf("[etl] load: %d inserted, %d updated, %d skipped",
		stats.Inserted, stats.Updated, stats.Skipped)

	// Transform
	progress("Scoring new tenders...")
	if err := p.scoreUnscored(ctx, false); err != nil {
		runErr = &TransformError{Err: err}
		return &run, runErr
	}

	// Select candidates
	progress("Selecting detail candidates...")
	candidates, err := p.repo.SelectPhase2Candidates(ctx, p.opts.Phase1Threshold)
	if err != nil {
		runErr = &DetailPhaseError{Err: err}
		return &run, runErr
	}
	if len(candidates) == 0 {
		progress("No candidates above threshold.")
		return &run, nil
	}

	// Detail phase
	detailed, errors, err := p.detailLoop(ctx, candidates, progress, nil)
	run.Detailed = detailed
	run.Errors = errors
	if err != nil {
		runErr = &DetailPhaseError{Err: err}
		return &run, runErr
	}

	progress(fmt.Sprintf("Run complete: %d details fetched, %d failures.", detailed, errors))
	return &run, nil
}

// scoreUnscored computes phase-1 scores for tenders that never went through
// the detail phase. When all is false only never-scored rows are touched;
// when true every detail-less row is rescored except those an operator has
// already favorited or bid on.
func (p *Pipeline) scoreUnscored(ctx context.Context, all bool) error {
	var tenders []models.Tender
	var err error
	if all {
		tenders, err = p.repo.SelectUnscoredAll(ctx)
	} else {
		tenders, err = p.repo.SelectUnscored(ctx)
	}
	if err != nil {
		return err
	}

	var updates []db.ScoreUpdate
	for _, t := range tenders {
		if all && t.Tracking != nil && (t.Tracking.IsFavorite || t.Tracking.IsBid) {
			continue
		}
		score := p.scorer.ScorePhase1(t.Name, t.StatusText, organizationName(t))
		updates = append(updates, db.ScoreUpdate{TenderID: t.ID, Score: score})
	}
	if len(updates) == 0 {
		return nil
	}
	return p.repo.BulkUpdateScores(ctx, updates)
}

// detailLoop walks candidates in order, pacing requests with the
// configured delay. A missing sheet is counted and skipped; an extractor
// error aborts the remaining candidates. rescore, when set, replaces the
// stored phase-1 score for each candidate before the phase-2 delta is
// added; it returns false to skip the candidate entirely.
func (p *Pipeline) detailLoop(ctx context.Context, candidates []models.Tender, progress func(string), rescore func(models.Tender) (int, bool)) (detailed, failures int, err error) {
	for i, cand := range candidates {
		if i > 0 {
			select {
			case <-ctx.Done():
				return detailed, failures, ctx.Err()
			case <-time.After(p.opts.CandidateDelay):
			}
		}

		base := cand.Score
		if rescore != nil {
			fresh, ok := rescore(cand)
			if !ok {
				progress(fmt.Sprintf("[%d/%d] %s skipped.", i+1, len(candidates), cand.Code))
				continue
			}
			base = fresh
		}

		progress(fmt.Sprintf("[%d/%d] Fetching detail for %s...", i+1, len(candidates), cand.Code))
		detail, err := p.extractor.FetchDetail(ctx, cand.Code)
		if err != nil {
			return detailed, failures, err
		}
		if detail == nil {
			log.Printf("[etl] detail for %s unavailable, skipping", cand.Code)
			failures++
			continue
		}

		delta := p.scorer.ScorePhase2(detail.Description, detail.Products)
		if err := p.repo.UpdateWithDetail(ctx, cand.Code, *detail, base+delta); err != nil {
			return detailed, failures, err
		}
		detailed++
	}
	return detailed, failures, nil
}

// RunRecompute reloads the rule snapshot and rescores every tender that
// has not been through the detail phase, leaving favorited and bid
// tenders untouched.
func (p *Pipeline) RunRecompute(ctx context.Context, progress func(string)) (*models.Run, error) {
	if !p.acquire() {
		return nil, ErrRunInProgress
	}
	defer p.release()

	if progress == nil {
		progress = func(string) {}
	}

	run, err := p.startRun(ctx, RunKindRecompute)
	if err != nil {
		return nil, err
	}
	var runErr error
	defer func() { p.finishRun(ctx, &run, runErr) }()

	progress("Reloading scoring rules...")
	p.scorer.Reload(ctx)

	progress("Recomputing scores...")
	if err := p.scoreUnscored(ctx, true); err != nil {
		runErr = &RecalculationError{Err: err}
		return &run, runErr
	}

	progress("Recompute complete.")
	return &run, nil
}

// RunTrackedRefresh re-runs the detail phase over the union of relevant,
// favorited and bid tenders. Phase-1 scores are recomputed fresh so rule
// edits take effect, and tenders whose fresh score is the organization
// veto are skipped without spending a detail fetch.
func (p *Pipeline) RunTrackedRefresh(ctx context.Context, progress func(string)) (*models.Run, error) {
	if !p.acquire() {
		return nil, ErrRunInProgress
	}
	defer p.release()

	if progress == nil {
		progress = func(string) {}
	}

	run, err := p.startRun(ctx, RunKindTrackedRefresh)
	if err != nil {
		return nil, err
	}
	var runErr error
	defer func() { p.finishRun(ctx, &run, runErr) }()

	progress("Reloading scoring rules...")
	p.scorer.Reload(ctx)

	candidates, err := p.repo.SelectTrackedForRefresh(ctx, p.opts.RelevantThreshold)
	if err != nil {
		runErr = &DetailPhaseError{Err: err}
		return &run, runErr
	}
	if len(candidates) == 0 {
		progress("Nothing tracked to refresh.")
		return &run, nil
	}

	rescore := func(t models.Tender) (int, bool) {
		fresh := p.scorer.ScorePhase1(t.Name, t.StatusText, organizationName(t))
		if scoring.Vetoed(fresh) {
			run.Skipped++
			return 0, false
		}
		return fresh, true
	}

	detailed, failures, err := p.detailLoop(ctx, candidates, progress, rescore)
	run.Detailed = detailed
	run.Errors = failures
	if err != nil {
		runErr = &DetailPhaseError{Err: err}
		return &run, runErr
	}

	progress(fmt.Sprintf("Refresh complete: %d updated, %d skipped.", detailed, run.Skipped))
	return &run, nil
}

func organizationName(t models.Tender) string {
	if t.Organization != nil {
		return t.Organization.Name
	}
	return ""
}
