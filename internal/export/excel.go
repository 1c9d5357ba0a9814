package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/dcastillo/agil-radar/internal/models"
)

// Source is the slice of the store the exporter reads.
type Source interface {
	ListByMinScore(ctx context.Context, minScore int) ([]models.Tender, error)
	ListFavorites(ctx context.Context) ([]models.Tender, error)
	ListBids(ctx context.Context) ([]models.Tender, error)
}

// Options selects the thresholds separating the Candidatas and Relevantes
// sheets.
type Options struct {
	Phase1Threshold   int
	RelevantThreshold int
}

var summaryColumns = []string{
	"Score", "Código CA", "Nombre", "Organismo", "Dirección Entrega",
	"Estado", "Fecha Publicación", "Fecha Cierre", "Proveedores",
}

var detailColumns = []string{
	"Score", "Código CA", "Nombre", "Descripcion", "Organismo",
	"Dirección Entrega", "Estado", "Fecha Publicación", "Fecha Cierre",
	"Fecha Cierre 2do Llamado", "Productos", "Proveedores",
	"Favorito", "Ofertada",
}

// WriteReport writes the four-sheet triage workbook to path: Candidatas
// (summary columns), Relevantes, Seguimiento and Ofertadas (detail
// columns).
func WriteReport(ctx context.Context, src Source, opts Options, path string) error {
	candidates, err := src.ListByMinScore(ctx, opts.Phase1Threshold)
	if err != nil {
		return fmt.Errorf("failed to load candidates: %w", err)
	}
	relevant, err := src.ListByMinScore(ctx, opts.RelevantThreshold)
	if err != nil {
		return fmt.Errorf("failed to load relevant tenders: %w", err)
	}
	favorites, err := src.ListFavorites(ctx)
	if err != nil {
		return fmt.Errorf("failed to load favorites: %w", err)
	}
	bids, err := src.ListBids(ctx)
	if err != nil {
		return fmt.Errorf("failed to load bids: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := writeSheet(f, "Candidatas", summaryColumns, candidates, summaryRow); err != nil {
		return err
	}
	if err := writeSheet(f, "Relevantes", detailColumns, relevant, detailRow); err != nil {
		return err
	}
	if err := writeSheet(f, "Seguimiento", detailColumns, favorites, detailRow); err != nil {
		return err
	}
	if err := writeSheet(f, "Ofertadas", detailColumns, bids, detailRow); err != nil {
		return err
	}

	// Drop the default sheet excelize creates.
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to drop default sheet: %w", err)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, name string, columns []string, tenders []models.Tender, row func(models.Tender) []interface{}) error {
	if _, err := f.NewSheet(name); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", name, err)
	}

	header := make([]interface{}, len(columns))
	for i, col := range columns {
		header[i] = col
	}
	if err := f.SetSheetRow(name, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header on %s: %w", name, err)
	}

	for i, t := range tenders {
		cell := fmt.Sprintf("A%d", i+2)
		values := row(t)
		if err := f.SetSheetRow(name, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d on %s: %w", i+2, name, err)
		}
	}
	return nil
}

func summaryRow(t models.Tender) []interface{} {
	return []interface{}{
		t.Score, t.Code, t.Name, organizationName(t), t.DeliveryAddress,
		t.StatusText, formatDate(t.PublishedAt), formatTime(t.ClosesAt), t.BidderCount,
	}
}

func detailRow(t models.Tender) []interface{} {
	return []interface{}{
		t.Score, t.Code, t.Name, description(t), organizationName(t),
		t.DeliveryAddress, t.StatusText, formatDate(t.PublishedAt), formatTime(t.ClosesAt),
		formatTime(t.SecondCallClosesAt), formatProducts(t.Products), t.BidderCount,
		isFavorite(t), isBid(t),
	}
}

func organizationName(t models.Tender) string {
	if t.Organization != nil {
		return t.Organization.Name
	}
	return "N/A"
}

func description(t models.Tender) string {
	if t.Description != nil {
		return *t.Description
	}
	return ""
}

func isFavorite(t models.Tender) bool {
	return t.Tracking != nil && t.Tracking.IsFavorite
}

func isBid(t models.Tender) bool {
	return t.Tracking != nil && t.Tracking.IsBid
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04")
}

func formatProducts(products []models.Product) string {
	if len(products) == 0 {
		return ""
	}
	parts := make([]string, 0, len(products))
	for _, p := range products {
		if p.Description != "" {
			parts = append(parts, p.Name+" ("+p.Description+")")
		} else {
			parts = append(parts, p.Name)
		}
	}
	return strings.Join(parts, "; ")
}

// ReportFilename builds the timestamped default file name.
func ReportFilename(now time.Time) string {
	return fmt.Sprintf("Reporte_Compras_Agiles_%s.xlsx", now.Format("20060102_150405"))
}
