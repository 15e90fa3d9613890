// Package persistence defines the run registry: every completed augmentation
// run is recorded with its parameters and output location so results stay
// attributable to the exact configuration that produced them.
package persistence

import (
	"context"
	"time"
)

// RunRecord captures one completed augmentation run.
type RunRecord struct {
	RunID        string                 `json:"run_id" db:"run_id"`
	Dataset      string                 `json:"dataset" db:"dataset"`
	InputPath    string                 `json:"input_path" db:"input_path"`
	OutputPath   string                 `json:"output_path" db:"output_path"`
	Lambda       float64                `json:"lambda" db:"lambda"`
	K            int                    `json:"k" db:"k"`
	Observations int                    `json:"observations" db:"observations"`
	Features     int                    `json:"features" db:"features"`
	Columns      int                    `json:"columns" db:"columns"`
	DurationMS   int64                  `json:"duration_ms" db:"duration_ms"`
	Params       map[string]interface{} `json:"params" db:"params"`
	CreatedAt    time.Time              `json:"created_at" db:"created_at"`
}

// RunStore provides run record persistence.
type RunStore interface {
	// Insert adds a completed run record
	Insert(ctx context.Context, rec RunRecord) error

	// Latest returns the most recent run, or nil when none exist
	Latest(ctx context.Context) (*RunRecord, error)

	// List retrieves the most recent runs, newest first
	List(ctx context.Context, limit int) ([]RunRecord, error)

	// ListByDataset retrieves runs for one dataset digest, newest first
	ListByDataset(ctx context.Context, dataset string, limit int) ([]RunRecord, error)
}
