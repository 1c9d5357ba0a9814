package export

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/dcastillo/agil-radar/internal/models"
)

type fakeSource struct {
	byScore   map[int][]models.Tender
	favorites []models.Tender
	bids      []models.Tender
}

func (f *fakeSource) ListByMinScore(ctx context.Context, minScore int) ([]models.Tender, error) {
	return f.byScore[minScore], nil
}

func (f *fakeSource) ListFavorites(ctx context.Context) ([]models.Tender, error) {
	return f.favorites, nil
}

func (f *fakeSource) ListBids(ctx context.Context) ([]models.Tender, error) {
	return f.bids, nil
}

func TestWriteReport(t *testing.T) {
	desc := "Compra de notebooks"
	closes := time.Date(2026, 9, 15, 18, 0, 0, 0, time.UTC)
	tender := models.Tender{
		ID:       1,
		Code:     "CA-1",
		Name:     "Notebooks",
		Score:    12,
		ClosesAt: &closes,
		Description: &desc,
		Organization: &models.Organization{ID: 1, Name: "municipalidad de arica"},
		Products:     []models.Product{{Name: "Notebook", Description: "8GB"}},
		Tracking:     &models.TrackingState{TenderID: 1, IsFavorite: true},
	}

	src := &fakeSource{
		byScore: map[int][]models.Tender{
			5: {tender},
			9: {tender},
		},
		favorites: []models.Tender{tender},
	}

	path := filepath.Join(t.TempDir(), "report.xlsx")
	err := WriteReport(context.Background(), src, Options{Phase1Threshold: 5, RelevantThreshold: 9}, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("failed to reopen workbook: %v", err)
	}
	defer f.Close()

	for _, sheet := range []string{"Candidatas", "Relevantes", "Seguimiento", "Ofertadas"} {
		if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
			t.Fatalf("missing sheet %s", sheet)
		}
	}
	if idx, _ := f.GetSheetIndex("Sheet1"); idx >= 0 {
		t.Fatal("default sheet must be removed")
	}

	got, err := f.GetCellValue("Candidatas", "B2")
	if err != nil {
		t.Fatalf("failed to read cell: %v", err)
	}
	if got != "CA-1" {
		t.Fatalf("expected code in Candidatas B2, got %q", got)
	}

	// The detail sheets carry the description column.
	got, err = f.GetCellValue("Relevantes", "D2")
	if err != nil {
		t.Fatalf("failed to read cell: %v", err)
	}
	if got != desc {
		t.Fatalf("expected description in Relevantes D2, got %q", got)
	}

	// Ofertadas is present but empty beyond the header.
	got, _ = f.GetCellValue("Ofertadas", "A2")
	if got != "" {
		t.Fatalf("expected empty Ofertadas sheet, got %q", got)
	}
}
