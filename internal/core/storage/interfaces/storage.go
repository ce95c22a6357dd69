package interfaces

import (
	"context"

	"github.com/zeusync/replica/internal/core/replica"
)

// Storage persists replica state between process runs.
type Storage interface {
	Save(ctx context.Context, state replica.State) error
	Load(ctx context.Context) (replica.State, error)
	Statistics(ctx context.Context) (Statistics, error)
	Close() error
}

// Statistics describes what a Storage currently holds.
type Statistics struct {
	Versions      int
	Pending       int
	SchemaVersion int64
}
