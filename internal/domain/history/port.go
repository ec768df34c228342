package history

import (
	"context"
	"errors"
	"time"

	"github.com/bryanwahyu/automaton-sca/internal/domain/analysis"
)

var (
	ErrNotFound             = errors.New("analysis not found")
	ErrInvalidStatus        = errors.New("invalid status filter")
	ErrConfirmationRequired = errors.New("deletion requires explicit confirmation")
)

// Reader lists history and aggregate stats.
type Reader interface {
	ListByAgent(ctx context.Context, agentID string, opts ListOptions) (Page, error)
	ListByCheck(ctx context.Context, agentID string, checkID int, limit int) (Page, error)
	// Get returns one record or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)
	CacheStats(ctx context.Context) (CacheStats, error)
}

// Deleter removes one record by id.
type Deleter interface {
	Delete(ctx context.Context, id string) error
}

// Writer appends a record.
type Writer interface {
	Append(ctx context.Context, r *Record) error
}

// Client is the collaborator the application consumes.
type Client interface {
	Reader
	Deleter
}

// Repository is the full store used in direct mode.
type Repository interface {
	Client
	Writer
	// FindCached returns the newest completed record for (agent, check,
	// language) analyzed at or after since, or nil.
	FindCached(ctx context.Context, agentID string, checkID int, lang analysis.Language, since time.Time) (*Record, error)
	// FindShared is FindCached across agents, excluding excludeAgent.
	FindShared(ctx context.Context, checkID int, lang analysis.Language, excludeAgent string, since time.Time) (*Record, error)
}
