// Package history serves analysis history with a bounded client-side cache
// and keeps the per-agent set of analyzed checks.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bryanwahyu/automaton-sca/internal/application"
	domain "github.com/bryanwahyu/automaton-sca/internal/domain/history"
)

const (
	// MaxAnalyzedAge bounds how stale an analyzed set may be.
	MaxAnalyzedAge = 30 * time.Second

	DefaultAgentLimit = 50
	MaxAgentLimit     = 200
	DefaultCheckLimit = 20
	MaxCheckLimit     = 100

	statsKey = "history:stats"
	statsTTL = 30 * time.Second
)

// ErrInvalidPage is returned for out-of-range limit or offset.
var ErrInvalidPage = errors.New("invalid pagination")

// CheckSet is a set of check ids.
type CheckSet map[int]struct{}

// Has reports membership.
func (s CheckSet) Has(id int) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids ascending.
func (s CheckSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

type analyzedEntry struct {
	IDs       []int     `json:"ids"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Service wraps a history client.
type Service struct {
	Client domain.Client
	Cache  application.Cache
	// MaxAge of an analyzed set; capped at MaxAnalyzedAge.
	MaxAge time.Duration
	Clock  application.Clock
	Logger *slog.Logger

	mu     sync.Mutex
	viewed map[string]struct{}
	// marks made while a refresh of that agent is listing history
	marks map[string]*markLog
}

type markLog struct {
	refreshing int
	ids        CheckSet
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) maxAge() time.Duration {
	if s.MaxAge <= 0 || s.MaxAge > MaxAnalyzedAge {
		return MaxAnalyzedAge
	}
	return s.MaxAge
}

func analyzedKey(agentID string) string { return "history:analyzed:" + agentID }

// ListByAgent validates paging then delegates. A zero limit means the default.
func (s *Service) ListByAgent(ctx context.Context, agentID string, opts domain.ListOptions) (domain.Page, error) {
	if opts.Limit == 0 {
		opts.Limit = DefaultAgentLimit
	}
	if opts.Limit < 1 || opts.Limit > MaxAgentLimit {
		return domain.Page{}, fmt.Errorf("%w: limit must be 1-%d", ErrInvalidPage, MaxAgentLimit)
	}
	if opts.Offset < 0 {
		return domain.Page{}, fmt.Errorf("%w: offset must be >= 0", ErrInvalidPage)
	}
	s.touch(agentID)
	return s.Client.ListByAgent(ctx, agentID, opts)
}

// ListByCheck returns the records of one check on one agent.
func (s *Service) ListByCheck(ctx context.Context, agentID string, checkID, limit int) (domain.Page, error) {
	if limit == 0 {
		limit = DefaultCheckLimit
	}
	if limit < 1 || limit > MaxCheckLimit {
		return domain.Page{}, fmt.Errorf("%w: limit must be 1-%d", ErrInvalidPage, MaxCheckLimit)
	}
	return s.Client.ListByCheck(ctx, agentID, checkID, limit)
}

// Get returns one record by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Record, error) {
	if id == "" {
		return nil, domain.ErrNotFound
	}
	return s.Client.Get(ctx, id)
}

// Delete removes a record. Without confirm nothing is sent.
func (s *Service) Delete(ctx context.Context, id string, confirm bool) error {
	if !confirm {
		return domain.ErrConfirmationRequired
	}
	if err := s.Client.Delete(ctx, id); err != nil {
		return err
	}
	// the record's agent is unknown here, so every viewed set goes
	s.InvalidateAll(ctx)
	return nil
}

// CacheStats is cached for a short while.
func (s *Service) CacheStats(ctx context.Context) (domain.CacheStats, error) {
	var st domain.CacheStats
	if s.Cache != nil {
		if raw, ok, err := s.Cache.Get(ctx, statsKey); err == nil && ok {
			if json.Unmarshal(raw, &st) == nil {
				return st, nil
			}
		}
	}
	st, err := s.Client.CacheStats(ctx)
	if err != nil {
		return st, err
	}
	if s.Cache != nil {
		if raw, err := json.Marshal(st); err == nil {
			_ = s.Cache.Set(ctx, statsKey, raw, statsTTL)
		}
	}
	return st, nil
}

// AnalyzedSet returns the ids of checks with a completed record for agentID.
// The set is recomputed from the history listing once older than MaxAge.
func (s *Service) AnalyzedSet(ctx context.Context, agentID string) (CheckSet, error) {
	s.touch(agentID)
	if e, ok := s.cached(ctx, agentID); ok && s.now().Sub(e.FetchedAt) < s.maxAge() {
		return toSet(e.IDs), nil
	}
	return s.Refresh(ctx, agentID)
}

// Refresh recomputes the analyzed set of agentID now. Marks made while the
// listing is in flight are kept in the stored set.
func (s *Service) Refresh(ctx context.Context, agentID string) (CheckSet, error) {
	s.beginRefresh(agentID)
	set, err := s.listCompleted(ctx, agentID)

	s.mu.Lock()
	defer s.mu.Unlock()
	marked := s.endRefresh(agentID)
	if err != nil {
		return nil, err
	}
	for id := range marked {
		set[id] = struct{}{}
	}
	s.store(ctx, agentID, analyzedEntry{IDs: set.Sorted(), FetchedAt: s.now()})
	return set, nil
}

func (s *Service) listCompleted(ctx context.Context, agentID string) (CheckSet, error) {
	set := CheckSet{}
	opts := domain.ListOptions{Limit: MaxAgentLimit, Status: domain.StatusCompleted}
	for {
		page, err := s.Client.ListByAgent(ctx, agentID, opts)
		if err != nil {
			return nil, fmt.Errorf("list completed analyses: %w", err)
		}
		for _, r := range page.Analyses {
			if r.Status == domain.StatusCompleted {
				set[r.CheckID] = struct{}{}
			}
		}
		opts.Offset += len(page.Analyses)
		if len(page.Analyses) == 0 || opts.Offset >= page.Total {
			return set, nil
		}
	}
}

func (s *Service) beginRefresh(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.marks == nil {
		s.marks = make(map[string]*markLog)
	}
	l := s.marks[agentID]
	if l == nil {
		l = &markLog{ids: CheckSet{}}
		s.marks[agentID] = l
	}
	l.refreshing++
}

// endRefresh returns the marks seen since beginRefresh; callers hold s.mu.
func (s *Service) endRefresh(agentID string) CheckSet {
	l := s.marks[agentID]
	if l == nil {
		return nil
	}
	ids := make(CheckSet, len(l.ids))
	for id := range l.ids {
		ids[id] = struct{}{}
	}
	l.refreshing--
	if l.refreshing <= 0 {
		delete(s.marks, agentID)
	}
	return ids
}

// MarkAnalyzed adds checkID to the cached set of agentID, if one is cached.
// Marking an id twice leaves the set unchanged.
func (s *Service) MarkAnalyzed(agentID string, checkID int) {
	ctx := context.Background()
	if s.Cache != nil {
		_ = s.Cache.Delete(ctx, statsKey)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.marks[agentID]; l != nil {
		l.ids[checkID] = struct{}{}
	}
	e, ok := s.cached(ctx, agentID)
	if !ok {
		return
	}
	set := toSet(e.IDs)
	if set.Has(checkID) {
		return
	}
	set[checkID] = struct{}{}
	e.IDs = set.Sorted()
	s.store(ctx, agentID, e)
}

// Invalidate drops the cached analyzed set of agentID.
func (s *Service) Invalidate(ctx context.Context, agentID string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Delete(ctx, analyzedKey(agentID)); err != nil {
		s.logger().Warn("cache invalidate failed", "agent_id", agentID, "err", err)
	}
}

// InvalidateAll drops every cached analyzed set and the stats.
func (s *Service) InvalidateAll(ctx context.Context) {
	if s.Cache == nil {
		return
	}
	keys := []string{statsKey}
	for _, id := range s.Viewed() {
		keys = append(keys, analyzedKey(id))
	}
	if err := s.Cache.Delete(ctx, keys...); err != nil {
		s.logger().Warn("cache invalidate failed", "err", err)
	}
}

// Viewed lists agents whose analyzed set was requested.
func (s *Service) Viewed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.viewed))
	for id := range s.viewed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Service) touch(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.viewed == nil {
		s.viewed = make(map[string]struct{})
	}
	s.viewed[agentID] = struct{}{}
}

func (s *Service) cached(ctx context.Context, agentID string) (analyzedEntry, bool) {
	var e analyzedEntry
	if s.Cache == nil {
		return e, false
	}
	raw, ok, err := s.Cache.Get(ctx, analyzedKey(agentID))
	if err != nil {
		s.logger().Warn("cache read failed", "agent_id", agentID, "err", err)
		return e, false
	}
	if !ok || json.Unmarshal(raw, &e) != nil {
		return e, false
	}
	return e, true
}

// store keeps the entry until FetchedAt+MaxAge; callers hold s.mu.
func (s *Service) store(ctx context.Context, agentID string, e analyzedEntry) {
	if s.Cache == nil {
		return
	}
	ttl := s.maxAge() - s.now().Sub(e.FetchedAt)
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := s.Cache.Set(ctx, analyzedKey(agentID), raw, ttl); err != nil {
		s.logger().Warn("cache write failed", "agent_id", agentID, "err", err)
	}
}

func toSet(ids []int) CheckSet {
	set := make(CheckSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
