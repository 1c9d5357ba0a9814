package etl

import (
	"context"
	"errors"
	"log"
	"time"
)

// Scheduler triggers listing runs on a fixed interval. A tick that finds a
// run already in progress is dropped, never queued.
type Scheduler struct {
	pipeline *Pipeline
	interval time.Duration
}

func NewScheduler(pipeline *Pipeline, interval time.Duration) *Scheduler {
	return &Scheduler{pipeline: pipeline, interval: interval}
}

// Run blocks until the context is cancelled. An interval of zero disables
// scheduling entirely.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		log.Printf("[scheduler] disabled")
		return
	}

	log.Printf("[scheduler] triggering a listing run every %s", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	run, err := s.pipeline.RunListing(ctx, nil)
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			return
		}
		log.Printf("[scheduler] listing run failed: %v", err)
		return
	}
	log.Printf("[scheduler] listing run %s completed: %d extracted, %d detailed",
		run.ID, run.Extracted, run.Detailed)
}
