// Package rebalancing runs the allocation engine on behalf of callers,
// recording every run in the history store.
package rebalancing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vaultpilot/allocator/internal/domain"
	"github.com/vaultpilot/allocator/internal/events"
	"github.com/vaultpilot/allocator/internal/modules/allocation"
	"github.com/vaultpilot/allocator/internal/modules/history"
)

// MaxSimulationCycles bounds Simulate.
const MaxSimulationCycles = 100

// ErrInvalidCycles is returned by Simulate for a cycle count outside [1, MaxSimulationCycles].
var ErrInvalidCycles = errors.New("cycles must be between 1 and 100")

// RunStore persists rebalance runs.
type RunStore interface {
	Save(ctx context.Context, run *history.Run) error
	Get(ctx context.Context, id string) (*history.Run, error)
	Latest(ctx context.Context) (*history.Run, error)
	List(ctx context.Context, limit int) ([]history.RunSummary, error)
}

// MetricsRecorder records rebalance metrics.
type MetricsRecorder interface {
	ObserveRebalance(strategies, driftCorrections int, duration time.Duration, persisted bool)
}

// EventEmitter publishes typed events.
type EventEmitter interface {
	EmitTyped(module string, data events.EventData)
}

// Service orchestrates rebalance runs.
type Service struct {
	policy  allocation.Policy
	store   RunStore
	metrics MetricsRecorder
	events  EventEmitter
	log     zerolog.Logger

	now   func() time.Time
	newID func() string
}

// NewService creates a rebalancing service. store, metrics and emitter may
// be nil; the engine still runs without them.
func NewService(
	policy allocation.Policy,
	store RunStore,
	metrics MetricsRecorder,
	emitter EventEmitter,
	log zerolog.Logger,
) *Service {
	return &Service{
		policy:  policy,
		store:   store,
		metrics: metrics,
		events:  emitter,
		log:     log.With().Str("service", "rebalancing").Logger(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Rebalance computes new allocations for req and records the run. Failing to
// persist the run is logged but does not fail the computation.
func (s *Service) Rebalance(ctx context.Context, req domain.RebalanceRequest) (*history.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snapshot := req.Clone()
	start := time.Now()
	result, stats := s.policy.RebalanceWithStats(snapshot)
	duration := time.Since(start)

	run := &history.Run{
		ID:               s.newID(),
		RequestType:      result.RequestType,
		RequestTimestamp: snapshot.Timestamp,
		CreatedAt:        s.now().UTC(),
		TierCount:        stats.Tiers,
		StrategyCount:    stats.Strategies,
		DriftCorrections: stats.DriftCorrections,
		Duration:         duration,
		Request:          snapshot,
		Result:           result,
	}

	persisted := false
	if s.store != nil {
		if err := s.store.Save(ctx, run); err != nil {
			s.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to persist rebalance run")
		} else {
			persisted = true
		}
	}

	if s.metrics != nil {
		s.metrics.ObserveRebalance(stats.Strategies, stats.DriftCorrections, duration, persisted)
	}

	maxChange := maxAbsChange(result)
	if s.events != nil {
		s.events.EmitTyped("rebalancing", &events.RebalanceCompletedData{
			RunID:            run.ID,
			RequestType:      run.RequestType,
			Tiers:            stats.Tiers,
			Strategies:       stats.Strategies,
			DriftCorrections: stats.DriftCorrections,
			MaxAbsChange:     maxChange,
			DurationMs:       float64(duration.Microseconds()) / 1000,
			Persisted:        persisted,
		})
	}

	s.log.Info().
		Str("run_id", run.ID).
		Int("tiers", stats.Tiers).
		Int("empty_tiers", stats.EmptyTiers).
		Int("strategies", stats.Strategies).
		Int("drift_corrections", stats.DriftCorrections).
		Float64("max_abs_change", maxChange).
		Dur("duration", duration).
		Bool("persisted", persisted).
		Msg("Rebalance completed")

	return run, nil
}

// SimulationCycle is one projected rebalance.
type SimulationCycle struct {
	Cycle        int         `json:"cycle"`
	MaxAbsChange float64     `json:"max_abs_change"`
	Allocations  [][]float64 `json:"allocations"`
}

// Simulation is the projection of repeated rebalances with unchanged yields.
type Simulation struct {
	Cycles []SimulationCycle `json:"cycles"`
	// ConvergedAt is the first cycle of the final run of cycles in which
	// nothing moved, 0 if allocations were still moving at the end.
	ConvergedAt int                    `json:"converged_at"`
	Final       domain.RebalanceResult `json:"final"`
}

// Simulate feeds each cycle's newAllocation back as the next currentAllocation,
// holding yields fixed. Nothing is persisted.
func (s *Service) Simulate(ctx context.Context, req domain.RebalanceRequest, cycles int) (*Simulation, error) {
	if cycles < 1 || cycles > MaxSimulationCycles {
		return nil, ErrInvalidCycles
	}

	sim := &Simulation{Cycles: make([]SimulationCycle, 0, cycles)}
	current := req.Clone()
	for i := 1; i <= cycles; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("simulation interrupted at cycle %d: %w", i, err)
		}

		result := s.policy.Rebalance(current)
		change := maxAbsChange(result)
		sim.Cycles = append(sim.Cycles, SimulationCycle{
			Cycle:        i,
			MaxAbsChange: change,
			Allocations:  allocationMatrix(result),
		})
		sim.Final = result

		switch {
		case change != 0:
			sim.ConvergedAt = 0
		case sim.ConvergedAt == 0:
			sim.ConvergedAt = i
		}
		current = result.NextRequest()
	}

	return sim, nil
}

// GetRun loads a stored run.
func (s *Service) GetRun(ctx context.Context, id string) (*history.Run, error) {
	if s.store == nil {
		return nil, history.ErrRunNotFound
	}
	return s.store.Get(ctx, id)
}

// LatestRun loads the newest stored run.
func (s *Service) LatestRun(ctx context.Context) (*history.Run, error) {
	if s.store == nil {
		return nil, history.ErrRunNotFound
	}
	return s.store.Latest(ctx)
}

// ListRuns returns the newest stored runs.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]history.RunSummary, error) {
	if s.store == nil {
		return []history.RunSummary{}, nil
	}
	return s.store.List(ctx, limit)
}

func maxAbsChange(result domain.RebalanceResult) float64 {
	largest := 0.0
	for _, c := range result.Changes() {
		largest = math.Max(largest, math.Abs(c))
	}
	return largest
}

func allocationMatrix(result domain.RebalanceResult) [][]float64 {
	out := make([][]float64, len(result.Tiers))
	for i, t := range result.Tiers {
		out[i] = make([]float64, len(t.Strategies))
		for j, s := range t.Strategies {
			out[i][j] = s.NewAllocation
		}
	}
	return out
}
