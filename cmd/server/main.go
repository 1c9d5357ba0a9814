package main

import (
	"context"
	"log"

	"github.com/dcastillo/agil-radar/internal/api"
	"github.com/dcastillo/agil-radar/internal/auth"
	"github.com/dcastillo/agil-radar/internal/config"
	"github.com/dcastillo/agil-radar/internal/db"
	"github.com/dcastillo/agil-radar/internal/etl"
	"github.com/dcastillo/agil-radar/internal/scoring"
	"github.com/dcastillo/agil-radar/internal/scraper"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	store := db.NewStore(pool)
	engine := scoring.NewEngine(ctx, store)

	client := scraper.NewClient(scraper.Config{
		WebURL:    cfg.MarketplaceWebURL,
		APIURL:    cfg.MarketplaceAPIURL,
		APIKey:    cfg.MarketplaceAPIKey,
		PageDelay: cfg.PageDelay,
	})

	pipeline := etl.NewPipeline(store, client, engine, etl.Options{
		Phase1Threshold:   cfg.Phase1Threshold,
		RelevantThreshold: cfg.RelevantThreshold,
		MaxPages:          cfg.MaxPages,
		LookbackDays:      cfg.LookbackDays,
		CandidateDelay:    cfg.CandidateDelay,
	})

	go etl.NewScheduler(pipeline, cfg.ScheduleInterval).Run(ctx)

	authService, err := auth.NewService(pool, cfg.JWTSecret)
	if err != nil {
		log.Fatalf("Failed to initialize auth: %v", err)
	}

	srv := api.NewServer(store, authService, pipeline, engine, api.Config{
		Phase1Threshold:   cfg.Phase1Threshold,
		RelevantThreshold: cfg.RelevantThreshold,
	})

	log.Printf("Server starting on port %s...", cfg.Port)
	if err := srv.Start(cfg.Port); err != nil {
		log.Fatal(err)
	}
}
