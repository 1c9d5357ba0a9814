package etl

import "errors"

// ErrRunInProgress is returned by every pipeline entry point when another
// run already holds the guard.
var ErrRunInProgress = errors.New("a pipeline run is already in progress")

// ExtractionError means the listing fetch failed entirely; nothing was
// written.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string { return "extraction failed: " + e.Err.Error() }
func (e *ExtractionError) Unwrap() error { return e.Err }

// LoadError means persisting the extracted batch failed; the whole batch
// was rolled back.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string { return "load failed: " + e.Err.Error() }
func (e *LoadError) Unwrap() error { return e.Err }

// TransformError means scoring or the score write-back failed. The raw
// rows stay persisted at score 0 and a recompute can pick them up.
type TransformError struct {
	Err error
}

func (e *TransformError) Error() string { return "transform failed: " + e.Err.Error() }
func (e *TransformError) Unwrap() error { return e.Err }

// DetailPhaseError means the detail session failed wholesale. Candidates
// updated before the failure point keep their updates.
type DetailPhaseError struct {
	Err error
}

func (e *DetailPhaseError) Error() string { return "detail phase failed: " + e.Err.Error() }
func (e *DetailPhaseError) Unwrap() error { return e.Err }

// RecalculationError means the full score recompute failed.
type RecalculationError struct {
	Err error
}

func (e *RecalculationError) Error() string { return "recalculation failed: " + e.Err.Error() }
func (e *RecalculationError) Unwrap() error { return e.Err }
