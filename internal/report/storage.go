// Package report persists finished run summaries.
package report

import (
	"context"

	"github.com/gateway-fm/txstress/pkg/types"
)

// Storage defines the persistence interface for run history.
type Storage interface {
	// SaveRun inserts a finished run and sets its ID.
	SaveRun(ctx context.Context, run *types.RunReport) error
	GetRun(ctx context.Context, id int64) (*types.RunReport, error)

	// History queries, newest first.
	ListRuns(ctx context.Context, limit, offset int) (*PaginatedRuns, error)
	DeleteRun(ctx context.Context, id int64) error

	Close() error
}

// PaginatedRuns is one page of run history.
type PaginatedRuns struct {
	Runs   []types.RunReport `json:"runs"`
	Total  int               `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}
