package main

import (
	"context"
	"log"

	"github.com/dcastillo/agil-radar/internal/config"
	"github.com/dcastillo/agil-radar/internal/db"
	"github.com/dcastillo/agil-radar/internal/etl"
	"github.com/dcastillo/agil-radar/internal/scoring"
	"github.com/dcastillo/agil-radar/internal/scraper"
)

// Rescoring of every tender that has not been through the detail phase,
// using the current rule set. Favorited and bid tenders are left alone.
func main() {
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
	client := scraper.NewClient(scraper.Config{
		WebURL: cfg.MarketplaceWebURL,
		APIURL: cfg.MarketplaceAPIURL,
		APIKey: cfg.MarketplaceAPIKey,
	})

	pipeline := etl.NewPipeline(store, client, engine, etl.Options{
		Phase1Threshold:   cfg.Phase1Threshold,
		RelevantThreshold: cfg.RelevantThreshold,
	})

	run, err := pipeline.RunRecompute(ctx, func(msg string) { log.Print(msg) })
	if err != nil {
		log.Fatalf("Recompute failed: %v", err)
	}
	log.Printf("Recompute run %s finished with status %s", run.ID, run.Status)
}
