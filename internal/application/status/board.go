// Package status keeps the last known system status and the provider
// selection derived from it.
package status

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bryanwahyu/automaton-sca/internal/application"
	"github.com/bryanwahyu/automaton-sca/internal/domain/provider"
	"github.com/bryanwahyu/automaton-sca/internal/metrics"
)

var (
	// ErrStatusUnknown means no status fetch has succeeded yet.
	ErrStatusUnknown = errors.New("system status not available yet")
	// ErrNoProvider means neither provider is enabled.
	ErrNoProvider = errors.New("no ai provider configured")
)

// Fetcher port ke sumber status (backend REST atau probe langsung).
type Fetcher interface {
	SystemStatus(ctx context.Context) (provider.SystemStatus, error)
}

// View is a consistent copy of the board.
type View struct {
	Status     *provider.SystemStatus `json:"status,omitempty"`
	FetchedAt  *time.Time             `json:"fetched_at,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Degraded   bool                   `json:"degraded"`
	Provider   provider.Provider      `json:"provider,omitempty"`
	NoProvider bool                   `json:"no_provider_configured"`
}

// Board holds the last status, the last fetch error and the selection.
type Board struct {
	Fetcher Fetcher
	Clock   application.Clock
	Logger  *slog.Logger

	mu        sync.RWMutex
	status    *provider.SystemStatus
	fetchedAt time.Time
	lastErr   error
	selection provider.Provider
	none      bool
}

func (b *Board) now() time.Time {
	if b.Clock == nil {
		return time.Now()
	}
	return b.Clock.Now()
}

func (b *Board) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

// Refresh fetches status and re-derives the selection. On failure the
// previous status and selection are kept and the board reports degraded.
func (b *Board) Refresh(ctx context.Context) (View, error) {
	st, err := b.Fetcher.SystemStatus(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		metrics.StatusRefreshFailures.Inc()
		b.lastErr = err
		b.logger().Warn("status refresh failed", "err", err)
		return b.viewLocked(), err
	}

	b.status = &st
	b.fetchedAt = b.now()
	b.lastErr = nil

	res := provider.Resolve(st, b.selection)
	if res.Changed {
		b.logger().Info("ai provider reselected",
			"from", b.selection,
			"to", res.Provider,
			"no_provider_configured", res.None,
		)
	}
	b.selection = res.Provider
	b.none = res.None
	return b.viewLocked(), nil
}

// View returns the current board.
func (b *Board) View() View {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.viewLocked()
}

// Choose sets an explicit selection permitted by the last status.
func (b *Board) Choose(p provider.Provider) (View, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == nil {
		return b.viewLocked(), ErrStatusUnknown
	}
	if err := provider.Permit(*b.status, p); err != nil {
		return b.viewLocked(), err
	}
	b.selection = p
	b.none = false
	return b.viewLocked(), nil
}

// Provider returns the selection to use for a new run.
func (b *Board) Provider() (provider.Provider, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	switch {
	case b.status == nil:
		return "", ErrStatusUnknown
	case b.none || b.selection == "":
		return "", ErrNoProvider
	}
	return b.selection, nil
}

// Permit checks an explicit per-run provider against the last status.
func (b *Board) Permit(p provider.Provider) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.status == nil {
		return ErrStatusUnknown
	}
	return provider.Permit(*b.status, p)
}

// ForRun returns the provider a new run uses: p when permitted, the current
// selection when p is empty.
func (b *Board) ForRun(p provider.Provider) (provider.Provider, error) {
	if p == "" {
		return b.Provider()
	}
	if err := b.Permit(p); err != nil {
		return "", err
	}
	return p, nil
}

func (b *Board) viewLocked() View {
	v := View{Provider: b.selection, NoProvider: b.none}
	if b.status != nil {
		st := *b.status
		at := b.fetchedAt
		v.Status = &st
		v.FetchedAt = &at
	}
	if b.lastErr != nil {
		v.Error = b.lastErr.Error()
		v.Degraded = true
	}
	return v
}
