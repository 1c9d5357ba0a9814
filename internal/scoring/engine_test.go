package scoring

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dcastillo/agil-radar/internal/models"
)

type fakeRuleStore struct {
	keywords []models.Keyword
	rules    []models.OrganizationRule
	orgs     []models.Organization

	keywordsErr error
}

func (f *fakeRuleStore) GetAllKeywords(ctx context.Context) ([]models.Keyword, error) {
	return f.keywords, f.keywordsErr
}

func (f *fakeRuleStore) GetAllOrganizationRules(ctx context.Context) ([]models.OrganizationRule, error) {
	return f.rules, nil
}

func (f *fakeRuleStore) GetAllOrganizations(ctx context.Context) ([]models.Organization, error) {
	return f.orgs, nil
}

func newTestEngine(t *testing.T, store *fakeRuleStore) *Engine {
	t.Helper()
	return NewEngine(context.Background(), store)
}

func TestScorePhase1TitleKeyword(t *testing.T) {
	e := newTestEngine(t, &fakeRuleStore{
		keywords: []models.Keyword{
			{Text: "notebook", Type: models.KeywordTitlePositive, Points: 5},
		},
	})

	got := e.ScorePhase1("Adquisición de Notebooks para colegio", "Publicada", "municipalidad de arica")
	if got != 5 {
		t.Fatalf("expected score 5, got %d", got)
	}
}

func TestScorePhase1PriorityOrganization(t *testing.T) {
	e := newTestEngine(t, &fakeRuleStore{
		orgs: []models.Organization{{ID: 7, Name: "ejercito de chile", Sector: "Defensa"}},
		rules: []models.OrganizationRule{
			{OrganizationID: 7, Kind: models.RuleKindPriority, Points: 4},
		},
	})

	got := e.ScorePhase1("Compra de repuestos", "Publicada", "Ejercito de Chile")
	if got != 4 {
		t.Fatalf("expected score 4, got %d", got)
	}
}

func TestScorePhase1UnwantedVetoWinsOverKeywords(t *testing.T) {
	e := newTestEngine(t, &fakeRuleStore{
		keywords: []models.Keyword{
			{Text: "notebook", Type: models.KeywordTitlePositive, Points: 10},
			{Text: "servidor", Type: models.KeywordTitlePositive, Points: 5},
		},
		orgs: []models.Organization{{ID: 3, Name: "hospital de talca", Sector: "Salud"}},
		rules: []models.OrganizationRule{
			{OrganizationID: 3, Kind: models.RuleKindUnwanted},
		},
	})

	got := e.ScorePhase1("Notebook y servidor de respaldo", "Publicada", "Hospital de Talca")
	if got != VetoScore {
		t.Fatalf("expected veto score %d, got %d", VetoScore, got)
	}
	if !Vetoed(got) {
		t.Fatalf("expected Vetoed to report true for %d", got)
	}
}

func TestScorePhase1StatusBonuses(t *testing.T) {
	e := newTestEngine(t, &fakeRuleStore{})

	if got := e.ScorePhase1("Compra de insumos", "Publicada (Segundo Llamado)", ""); got != 4 {
		t.Fatalf("expected second-call bonus 4, got %d", got)
	}
	if got := e.ScorePhase1("Compra de insumos", "Alerta Urgencia", ""); got != 3 {
		t.Fatalf("expected urgency bonus 3, got %d", got)
	}
	if got := e.ScorePhase1("Compra de insumos", "segundo llamado alerta urgencia", ""); got != 7 {
		t.Fatalf("expected combined bonuses 7, got %d", got)
	}
}

func TestScorePhase1FloorsNegativeSum(t *testing.T) {
	e := newTestEngine(t, &fakeRuleStore{
		keywords: []models.Keyword{
			{Text: "aseo", Type: models.KeywordTitleNegative, Points: -8},
			{Text: "notebook", Type: models.KeywordTitlePositive, Points: 5},
		},
	})

	got := e.ScorePhase1("Notebook y servicio de aseo", "Publicada", "")
	if got != 0 {
		t.Fatalf("expected floored score 0, got %d", got)
	}
}

func TestScorePhase1EmptyName(t *testing.T) {
	e := newTestEngine(t, &fakeRuleStore{
		keywords: []models.Keyword{
			{Text: "notebook", Type: models.KeywordTitlePositive, Points: 5},
		},
	})

	if got := e.ScorePhase1("   ", "Segundo Llamado", ""); got != 0 {
		t.Fatalf("expected 0 for empty name, got %d", got)
	}
}

func TestScorePhase1VetoBeforeEmptyName(t *testing.T) {
	e := newTestEngine(t, &fakeRuleStore{
		orgs: []models.Organization{{ID: 1, Name: "hospital de talca", Sector: "Salud"}},
		rules: []models.OrganizationRule{
			{OrganizationID: 1, Kind: models.RuleKindUnwanted},
		},
	})

	if got := e.ScorePhase1("", "Publicada", "Hospital de Talca"); got != VetoScore {
		t.Fatalf("expected veto even with empty name, got %d", got)
	}
}

func TestScorePhase2IsNotFloored(t *testing.T) {
	e := newTestEngine(t, &fakeRuleStore{
		keywords: []models.Keyword{
			{Text: "usado", Type: models.KeywordTitleNegative, Points: -10},
		},
	})

	got := e.ScorePhase2("equipamiento usado en buen estado", nil)
	if got != -10 {
		t.Fatalf("expected unfloored -10, got %d", got)
	}
}

func TestScorePhase2ProductKeywords(t *testing.T) {
	e := newTestEngine(t, &fakeRuleStore{
		keywords: []models.Keyword{
			{Text: "impresora", Type: models.KeywordProduct, Points: 6},
			{Text: "toner", Type: models.KeywordProduct, Points: 2},
			{Text: "notebook", Type: models.KeywordTitlePositive, Points: 5},
		},
	})

	products := []models.Product{
		{Name: "Impresora láser", Description: "incluye toner inicial"},
		{Name: "Papel carta", Description: ""},
	}
	got := e.ScorePhase2("Se requiere un notebook de reemplazo", products)
	if got != 13 {
		t.Fatalf("expected 13 (5 title + 6 + 2 product), got %d", got)
	}
}

func TestScorePhase2EmptyInputs(t *testing.T) {
	e := newTestEngine(t, &fakeRuleStore{
		keywords: []models.Keyword{
			{Text: "impresora", Type: models.KeywordProduct, Points: 6},
		},
	})

	if got := e.ScorePhase2("", nil); got != 0 {
		t.Fatalf("expected 0 for empty detail, got %d", got)
	}
}

func TestReloadReplacesSnapshot(t *testing.T) {
	store := &fakeRuleStore{
		keywords: []models.Keyword{
			{Text: "notebook", Type: models.KeywordTitlePositive, Points: 5},
		},
	}
	e := newTestEngine(t, store)

	if got := e.ScorePhase1("notebook", "", ""); got != 5 {
		t.Fatalf("expected 5 before reload, got %d", got)
	}

	store.keywords = nil
	e.Reload(context.Background())

	if got := e.ScorePhase1("notebook", "", ""); got != 0 {
		t.Fatalf("expected 0 after rules removed, got %d", got)
	}
}

func TestReloadConcurrentWithScoring(t *testing.T) {
	store := &fakeRuleStore{
		keywords: []models.Keyword{
			{Text: "notebook", Type: models.KeywordTitlePositive, Points: 5},
		},
		orgs: []models.Organization{{ID: 1, Name: "hospital de talca", Sector: "Salud"}},
		rules: []models.OrganizationRule{
			{OrganizationID: 1, Kind: models.RuleKindUnwanted},
		},
	}
	e := newTestEngine(t, store)

	// Rule edits reload the engine while a run is scoring on it; both sides
	// must be able to proceed, each read seeing one complete snapshot.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			e.Reload(context.Background())
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if got := e.ScorePhase1("notebook", "Publicada", "Hospital de Talca"); got != VetoScore {
				t.Errorf("expected veto score, got %d", got)
				return
			}
			if got := e.ScorePhase2("se requiere notebook", nil); got != 5 {
				t.Errorf("expected 5, got %d", got)
				return
			}
		}
	}()
	wg.Wait()
}

func TestReloadToleratesSourceFailure(t *testing.T) {
	store := &fakeRuleStore{
		keywords: []models.Keyword{
			{Text: "notebook", Type: models.KeywordTitlePositive, Points: 5},
		},
		orgs: []models.Organization{{ID: 2, Name: "hospital de talca", Sector: "Salud"}},
		rules: []models.OrganizationRule{
			{OrganizationID: 2, Kind: models.RuleKindUnwanted},
		},
	}
	e := newTestEngine(t, store)

	store.keywordsErr = errors.New("connection reset")
	e.Reload(context.Background())

	// Keywords are gone, but the organization veto still applies.
	if got := e.ScorePhase1("notebook", "", ""); got != 0 {
		t.Fatalf("expected 0 with keywords unavailable, got %d", got)
	}
	if got := e.ScorePhase1("notebook", "", "Hospital de Talca"); got != VetoScore {
		t.Fatalf("expected veto to survive keyword failure, got %d", got)
	}
}
