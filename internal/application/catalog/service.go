// Package catalog reads agents, policies and failed checks, and picks the
// checks a batch will analyze.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bryanwahyu/automaton-sca/internal/application/history"
	"github.com/bryanwahyu/automaton-sca/internal/domain/sca"
)

// ErrUnknownCheck is returned when a requested check is not among the
// policy's failed checks.
var ErrUnknownCheck = errors.New("check is not a failed check of this policy")

// Source port ke backend SCA.
type Source interface {
	Agents(ctx context.Context, search string) ([]sca.Agent, error)
	Policies(ctx context.Context, agentID string) ([]sca.Policy, error)
	FailedChecks(ctx context.Context, agentID, policyID string) ([]sca.Check, error)
}

// AnalyzedSource supplies the analyzed indicator.
type AnalyzedSource interface {
	AnalyzedSet(ctx context.Context, agentID string) (history.CheckSet, error)
}

// CheckView is a failed check plus whether it has a completed analysis.
type CheckView struct {
	sca.Check
	Analyzed bool `json:"analyzed"`
}

type Service struct {
	Source   Source
	Analyzed AnalyzedSource
	Logger   *slog.Logger
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) Agents(ctx context.Context, search string) ([]sca.Agent, error) {
	return s.Source.Agents(ctx, search)
}

func (s *Service) Policies(ctx context.Context, agentID string) ([]sca.Policy, error) {
	return s.Source.Policies(ctx, agentID)
}

// FailedChecks lists the policy's failed checks. When the analyzed set
// cannot be loaded every check is reported as not analyzed.
func (s *Service) FailedChecks(ctx context.Context, agentID, policyID string) ([]CheckView, error) {
	checks, err := s.Source.FailedChecks(ctx, agentID, policyID)
	if err != nil {
		return nil, err
	}

	var done history.CheckSet
	if s.Analyzed != nil {
		done, err = s.Analyzed.AnalyzedSet(ctx, agentID)
		if err != nil {
			s.logger().Warn("analyzed set unavailable", "agent_id", agentID, "err", err)
		}
	}

	out := make([]CheckView, len(checks))
	for i, c := range checks {
		out[i] = CheckView{Check: c, Analyzed: done.Has(c.ID)}
	}
	return out, nil
}

// Select returns the failed checks named by ids, in ids order. No ids
// selects every failed check in catalog order.
func (s *Service) Select(ctx context.Context, agentID, policyID string, ids []int) ([]sca.Check, error) {
	checks, err := s.Source.FailedChecks(ctx, agentID, policyID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return checks, nil
	}

	byID := make(map[int]sca.Check, len(checks))
	for _, c := range checks {
		byID[c.ID] = c
	}
	out := make([]sca.Check, 0, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownCheck, id)
		}
		out = append(out, c)
	}
	return out, nil
}
