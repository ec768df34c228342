package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/automaton-sca/internal/domain/history"
	"github.com/bryanwahyu/automaton-sca/internal/infra/cache"
	"github.com/bryanwahyu/automaton-sca/internal/logging"
)

type fakeClient struct {
	mu        sync.Mutex
	records   []domain.Record
	listCalls int
	deleted   []string
	stats     domain.CacheStats
	statCalls int
	// listing blocks: entered is signalled, then release is awaited
	entered chan struct{}
	release chan struct{}
}

func (f *fakeClient) ListByAgent(_ context.Context, agentID string, opts domain.ListOptions) (domain.Page, error) {
	if f.release != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	var match []domain.Record
	for _, r := range f.records {
		if r.AgentID == agentID && (opts.Status == "" || r.Status == opts.Status) {
			match = append(match, r)
		}
	}
	page := domain.Page{Total: len(match), Limit: opts.Limit, Offset: opts.Offset}
	if opts.Offset < len(match) {
		end := opts.Offset + opts.Limit
		if end > len(match) {
			end = len(match)
		}
		page.Analyses = match[opts.Offset:end]
	}
	return page, nil
}

func (f *fakeClient) ListByCheck(_ context.Context, agentID string, checkID, limit int) (domain.Page, error) {
	return domain.Page{Limit: limit}, nil
}

func (f *fakeClient) CacheStats(context.Context) (domain.CacheStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statCalls++
	return f.stats, nil
}

func (f *fakeClient) Get(_ context.Context, id string) (*domain.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeClient) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeClient) add(agentID string, checkID int, st domain.RecordStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, domain.Record{AgentID: agentID, CheckID: checkID, Status: st})
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newService(client *fakeClient) (*Service, *stepClock) {
	clk := &stepClock{now: time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)}
	return &Service{
		Client: client,
		Cache:  cache.NewMemory(),
		Clock:  clk,
		Logger: logging.Discard(),
	}, clk
}

func TestAnalyzedSet_OnlyCompletedRecords(t *testing.T) {
	c := &fakeClient{}
	c.add("001", 10, domain.StatusCompleted)
	c.add("001", 11, domain.StatusFailed)
	c.add("001", 10, domain.StatusCompleted)
	c.add("002", 12, domain.StatusCompleted)
	s, _ := newService(c)

	set, err := s.AnalyzedSet(context.Background(), "001")
	require.NoError(t, err)
	assert.Equal(t, []int{10}, set.Sorted())
}

func TestAnalyzedSet_PagesThroughHistory(t *testing.T) {
	c := &fakeClient{}
	for i := 0; i < MaxAgentLimit+5; i++ {
		c.add("001", i, domain.StatusCompleted)
	}
	s, _ := newService(c)

	set, err := s.AnalyzedSet(context.Background(), "001")
	require.NoError(t, err)
	assert.Len(t, set, MaxAgentLimit+5)
	assert.Equal(t, 2, c.listCalls)
}

func TestAnalyzedSet_BoundedRefresh(t *testing.T) {
	c := &fakeClient{}
	c.add("001", 1, domain.StatusCompleted)
	s, clk := newService(c)
	ctx := context.Background()

	_, err := s.AnalyzedSet(ctx, "001")
	require.NoError(t, err)
	assert.Equal(t, 1, c.listCalls)

	// added out of band
	c.add("001", 2, domain.StatusCompleted)

	clk.Advance(10 * time.Second)
	set, _ := s.AnalyzedSet(ctx, "001")
	assert.Equal(t, 1, c.listCalls, "served from cache inside the window")
	assert.False(t, set.Has(2))

	clk.Advance(25 * time.Second)
	set, _ = s.AnalyzedSet(ctx, "001")
	assert.Equal(t, 2, c.listCalls, "recomputed after the window")
	assert.True(t, set.Has(2))
}

func TestMarkAnalyzed_Idempotent(t *testing.T) {
	c := &fakeClient{}
	c.add("001", 1, domain.StatusCompleted)
	c.add("001", 2, domain.StatusCompleted)
	s, _ := newService(c)
	ctx := context.Background()

	set, err := s.AnalyzedSet(ctx, "001")
	require.NoError(t, err)
	require.Len(t, set, 2)

	// re-analyzing an analyzed check
	s.MarkAnalyzed("001", 2)
	set, _ = s.AnalyzedSet(ctx, "001")
	assert.Len(t, set, 2)

	s.MarkAnalyzed("001", 3)
	set, _ = s.AnalyzedSet(ctx, "001")
	assert.Len(t, set, 3)
	assert.True(t, set.Has(3))
	assert.Equal(t, 1, c.listCalls)
}

func TestRefresh_KeepsMarkMadeDuringListing(t *testing.T) {
	c := &fakeClient{}
	c.add("001", 1, domain.StatusCompleted)
	s, clk := newService(c)
	ctx := context.Background()

	_, err := s.AnalyzedSet(ctx, "001")
	require.NoError(t, err)

	c.entered = make(chan struct{})
	c.release = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := s.Refresh(ctx, "001")
		done <- err
	}()

	<-c.entered
	s.MarkAnalyzed("001", 7)
	close(c.release)
	require.NoError(t, <-done)

	clk.Advance(time.Second)
	set, err := s.AnalyzedSet(ctx, "001")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 7}, set.Sorted())

	// the log is dropped once no refresh is running
	s.mu.Lock()
	assert.Empty(t, s.marks)
	s.mu.Unlock()
}

func TestInvalidate_ForcesRecompute(t *testing.T) {
	c := &fakeClient{}
	s, _ := newService(c)
	ctx := context.Background()

	_, _ = s.AnalyzedSet(ctx, "001")
	s.Invalidate(ctx, "001")
	_, _ = s.AnalyzedSet(ctx, "001")
	assert.Equal(t, 2, c.listCalls)
}

func TestDelete_RequiresConfirmation(t *testing.T) {
	c := &fakeClient{}
	s, _ := newService(c)
	ctx := context.Background()

	err := s.Delete(ctx, "abc", false)
	assert.True(t, errors.Is(err, domain.ErrConfirmationRequired))
	assert.Empty(t, c.deleted)

	require.NoError(t, s.Delete(ctx, "abc", true))
	assert.Equal(t, []string{"abc"}, c.deleted)
}

func TestDelete_InvalidatesViewedSets(t *testing.T) {
	c := &fakeClient{}
	c.add("001", 1, domain.StatusCompleted)
	s, _ := newService(c)
	ctx := context.Background()

	_, _ = s.AnalyzedSet(ctx, "001")
	require.NoError(t, s.Delete(ctx, "abc", true))
	_, _ = s.AnalyzedSet(ctx, "001")
	assert.Equal(t, 2, c.listCalls)
	assert.Equal(t, []string{"001"}, s.Viewed())
}

func TestCacheStats_Cached(t *testing.T) {
	c := &fakeClient{stats: domain.CacheStats{Completed: 4, CachedValid: 1}}
	s, _ := newService(c)
	ctx := context.Background()

	st, err := s.CacheStats(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, st.HitRate(), 0.001)
	_, _ = s.CacheStats(ctx)
	assert.Equal(t, 1, c.statCalls)

	s.MarkAnalyzed("001", 1)
	_, _ = s.CacheStats(ctx)
	assert.Equal(t, 2, c.statCalls)
}

func TestListValidation(t *testing.T) {
	s, _ := newService(&fakeClient{})
	ctx := context.Background()

	page, err := s.ListByAgent(ctx, "001", domain.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultAgentLimit, page.Limit)

	_, err = s.ListByAgent(ctx, "001", domain.ListOptions{Limit: 201})
	assert.ErrorIs(t, err, ErrInvalidPage)
	_, err = s.ListByAgent(ctx, "001", domain.ListOptions{Limit: 10, Offset: -1})
	assert.ErrorIs(t, err, ErrInvalidPage)

	page, err = s.ListByCheck(ctx, "001", 5, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultCheckLimit, page.Limit)
	_, err = s.ListByCheck(ctx, "001", 5, 101)
	assert.ErrorIs(t, err, ErrInvalidPage)
}
