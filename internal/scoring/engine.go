package scoring

import (
	"context"
	"log"
	"strings"
	"sync/atomic"

	"github.com/dcastillo/agil-radar/internal/models"
)

// VetoScore is returned by ScorePhase1 when the tender's organization is
// flagged unwanted. It bypasses the zero floor so the veto survives every
// other rule.
const VetoScore = -9999

// Fixed status bonuses applied in phase 1.
const (
	SecondCallBonus = 4
	UrgencyBonus    = 3
)

// RuleStore is the persisted-rules surface the engine reloads from.
type RuleStore interface {
	GetAllKeywords(ctx context.Context) ([]models.Keyword, error)
	GetAllOrganizationRules(ctx context.Context) ([]models.OrganizationRule, error)
	GetAllOrganizations(ctx context.Context) ([]models.Organization, error)
}

// snapshot is one immutable view of the scoring rules. It is never mutated
// after Reload publishes it.
type snapshot struct {
	keywords       map[string][]models.Keyword
	priorityPoints map[int64]int
	unwanted       map[int64]struct{}
	orgIDsByName   map[string]int64
}

// Engine holds an in-memory snapshot of the scoring rules. Reload replaces
// the snapshot wholesale; scoring in flight keeps the view it started with,
// so rule edits during a run are safe and take effect on the next read.
type Engine struct {
	store RuleStore
	snap  atomic.Pointer[snapshot]
}

func NewEngine(ctx context.Context, store RuleStore) *Engine {
	e := &Engine{store: store}
	e.Reload(ctx)
	return e
}

// Reload re-reads all rule sources and swaps the snapshot. A failure in one
// source is logged and leaves that source empty rather than aborting the
// others; a stale half-merged state is never kept.
func (e *Engine) Reload(ctx context.Context) {
	next := &snapshot{
		keywords:       make(map[string][]models.Keyword),
		priorityPoints: make(map[int64]int),
		unwanted:       make(map[int64]struct{}),
		orgIDsByName:   make(map[string]int64),
	}

	kws, err := e.store.GetAllKeywords(ctx)
	if err != nil {
		log.Printf("[scoring] failed to load keywords: %v", err)
	} else {
		for _, kw := range kws {
			next.keywords[kw.Type] = append(next.keywords[kw.Type], kw)
		}
		log.Printf("[scoring] loaded %d keyword rules", len(kws))
	}

	rules, err := e.store.GetAllOrganizationRules(ctx)
	if err != nil {
		log.Printf("[scoring] failed to load organization rules: %v", err)
	} else {
		for _, r := range rules {
			switch r.Kind {
			case models.RuleKindPriority:
				next.priorityPoints[r.OrganizationID] = r.Points
			case models.RuleKindUnwanted:
				next.unwanted[r.OrganizationID] = struct{}{}
			}
		}
		log.Printf("[scoring] loaded %d organization rules", len(rules))
	}

	orgs, err := e.store.GetAllOrganizations(ctx)
	if err != nil {
		// Without the name map, organization lookups degrade to "no match".
		log.Printf("[scoring] failed to load organizations: %v", err)
	} else {
		for _, o := range orgs {
			next.orgIDsByName[normalize(o.Name)] = o.ID
		}
	}

	e.snap.Store(next)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Vetoed reports whether a phase-1 score is the organization veto. Phase 1
// floors everything else at zero, so the sentinel is the only negative
// value it can produce.
func Vetoed(score int) bool {
	return score == VetoScore
}

// ScorePhase1 scores a tender from listing-level data only. An unwanted
// organization vetoes immediately; otherwise points from priority rules,
// status bonuses and title keywords are summed and floored at zero.
func (e *Engine) ScorePhase1(name, statusText, organizationName string) int {
	s := e.snap.Load()

	orgID, hasOrg := s.orgIDsByName[normalize(organizationName)]
	if hasOrg {
		if _, bad := s.unwanted[orgID]; bad {
			return VetoScore
		}
	}

	nameNorm := normalize(name)
	if nameNorm == "" {
		return 0
	}

	score := 0
	if hasOrg {
		score += s.priorityPoints[orgID]
	}

	statusNorm := normalize(statusText)
	if strings.Contains(statusNorm, "segundo llamado") {
		score += SecondCallBonus
	}
	if strings.Contains(statusNorm, "alerta urgencia") {
		score += UrgencyBonus
	}

	for _, kw := range s.keywords[models.KeywordTitlePositive] {
		if strings.Contains(nameNorm, kw.Text) {
			score += kw.Points
		}
	}
	for _, kw := range s.keywords[models.KeywordTitleNegative] {
		if strings.Contains(nameNorm, kw.Text) {
			score += kw.Points
		}
	}

	if score < 0 {
		return 0
	}
	return score
}

// ScorePhase2 scores a tender's detail sheet: title keywords against the
// description, product keywords against the concatenated product texts.
// The sum is not floored; the caller adds it to the stored phase-1 score.
func (e *Engine) ScorePhase2(description string, products []models.Product) int {
	s := e.snap.Load()
	score := 0

	descNorm := normalize(description)
	if descNorm != "" {
		for _, kw := range s.keywords[models.KeywordTitlePositive] {
			if strings.Contains(descNorm, kw.Text) {
				score += kw.Points
			}
		}
		for _, kw := range s.keywords[models.KeywordTitleNegative] {
			if strings.Contains(descNorm, kw.Text) {
				score += kw.Points
			}
		}
	}

	var sb strings.Builder
	for _, p := range products {
		sb.WriteString(normalize(p.Name + " " + p.Description))
		sb.WriteString(" ")
	}
	productText := sb.String()
	if strings.TrimSpace(productText) != "" {
		for _, kw := range s.keywords[models.KeywordProduct] {
			if strings.Contains(productText, kw.Text) {
				score += kw.Points
			}
		}
	}

	return score
}
