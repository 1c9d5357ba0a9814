package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dcastillo/agil-radar/internal/config"
	"github.com/dcastillo/agil-radar/internal/db"
	"github.com/dcastillo/agil-radar/internal/etl"
	"github.com/dcastillo/agil-radar/internal/models"
	"github.com/dcastillo/agil-radar/internal/scoring"
)

// rawItem mirrors the marketplace listing JSON, so files captured from the
// API can be imported directly.
type rawItem struct {
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

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// Bulk-imports a JSON file of listing records: load plus phase-1 scoring,
// no detail phase.
func main() {
	path := flag.String("file", "", "path to a JSON array of listing records")
	flag.Parse()
	if *path == "" {
		log.Fatal("usage: import_json -file <listing.json>")
	}

	data, err := os.ReadFile(*path)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", *path, err)
	}

	var items []rawItem
	if err := json.Unmarshal(data, &items); err != nil {
		log.Fatalf("Failed to parse %s: %v", *path, err)
	}
	if len(items) == 0 {
		log.Fatal("File contains no records")
	}

	var records []models.RawTender
	for _, it := range items {
		code := it.Codigo
		if code == "" {
			code = it.ID
		}
		records = append(records, models.RawTender{
			Code:             code,
			Name:             strings.TrimSpace(it.Nombre),
			OrganizationName: it.Organismo,
			SectorName:       it.Unidad,
			AmountCLP:        it.MontoCLP,
			PublishedAt:      parseTime(it.FechaPublicacion),
			ClosesAt:         parseTime(it.FechaCierre),
			StatusText:       it.Estado,
			BidderCount:      it.Proveedores,
		})
	}

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	store := db.NewStore(pool)
	engine := scoring.NewEngine(ctx, store)

	runID, err := store.CreateRun(ctx, etl.RunKindImport)
	if err != nil {
		log.Fatalf("Failed to create run record: %v", err)
	}
	run := models.Run{ID: runID, Kind: etl.RunKindImport, Status: etl.RunStatusCompleted, Extracted: len(records)}

	stats, err := store.UpsertRaw(ctx, records)
	if err != nil {
		run.Status = etl.RunStatusFailed
		run.Detail = err.Error()
		store.FinishRun(ctx, run)
		log.Fatalf("Load failed: %v", err)
	}
	run.Inserted = stats.Inserted
	run.Updated = stats.Updated
	run.Skipped = stats.Skipped

	tenders, err := store.SelectUnscored(ctx)
	if err != nil {
		log.Fatalf("Failed to select unscored tenders: %v", err)
	}
	var updates []db.ScoreUpdate
	for _, t := range tenders {
		orgName := ""
		if t.Organization != nil {
			orgName = t.Organization.Name
		}
		updates = append(updates, db.ScoreUpdate{
			TenderID: t.ID,
			Score:    engine.ScorePhase1(t.Name, t.StatusText, orgName),
		})
	}
	if len(updates) > 0 {
		if err := store.BulkUpdateScores(ctx, updates); err != nil {
			log.Fatalf("Score write failed: %v", err)
		}
	}

	if err := store.FinishRun(ctx, run); err != nil {
		log.Printf("Failed to finish run record: %v", err)
	}

	log.Printf("Import complete: %d read, %d inserted, %d updated, %d skipped, %d scored",
		len(records), stats.Inserted, stats.Updated, stats.Skipped, len(updates))
}
