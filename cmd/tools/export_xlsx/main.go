package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/dcastillo/agil-radar/internal/config"
	"github.com/dcastillo/agil-radar/internal/db"
	"github.com/dcastillo/agil-radar/internal/export"
)

func main() {
	out := flag.String("out", "", "output path (default: timestamped name in the current directory)")
	flag.Parse()

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

	path := *out
	if path == "" {
		path = export.ReportFilename(time.Now())
	}

	store := db.NewStore(pool)
	opts := export.Options{
		Phase1Threshold:   cfg.Phase1Threshold,
		RelevantThreshold: cfg.RelevantThreshold,
	}
	if err := export.WriteReport(ctx, store, opts, path); err != nil {
		log.Fatalf("Export failed: %v", err)
	}
	log.Printf("Report written to %s", path)
}
