// Package history stores every rebalance run and serves per-strategy time
// series built from them.
package history

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/vaultpilot/allocator/internal/domain"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("rebalance run not found")

// Run is one persisted rebalance computation.
type Run struct {
	ID               string                  `json:"id"`
	RequestType      string                  `json:"request_type"`
	RequestTimestamp json.RawMessage         `json:"request_timestamp,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
	TierCount        int                     `json:"tier_count"`
	StrategyCount    int                     `json:"strategy_count"`
	DriftCorrections int                     `json:"drift_corrections"`
	Duration         time.Duration           `json:"duration_us"`
	Request          domain.RebalanceRequest `json:"request"`
	Result           domain.RebalanceResult  `json:"result"`
}

// MarshalJSON reports the duration in microseconds.
func (r Run) MarshalJSON() ([]byte, error) {
	type plain Run
	return json.Marshal(struct {
		plain
		Duration int64 `json:"duration_us"`
	}{plain: plain(r), Duration: r.Duration.Microseconds()})
}

// RunSummary is a run without its request/result payloads.
type RunSummary struct {
	ID               string    `json:"id"`
	RequestType      string    `json:"request_type"`
	CreatedAt        time.Time `json:"created_at"`
	TierCount        int       `json:"tier_count"`
	StrategyCount    int       `json:"strategy_count"`
	DriftCorrections int       `json:"drift_corrections"`
	DurationUs       int64     `json:"duration_us"`
}

// AllocationPoint is one strategy's state in one run.
type AllocationPoint struct {
	RunID            string    `json:"run_id"`
	CreatedAt        time.Time `json:"created_at"`
	Tier             *float64  `json:"tier,omitempty"`
	TierName         string    `json:"tier_name,omitempty"`
	Address          string    `json:"address"`
	Name             string    `json:"name,omitempty"`
	CurrentAPY       float64   `json:"current_apy"`
	AvgAPY           float64   `json:"avg_apy"`
	OldAllocation    float64   `json:"old_allocation"`
	NewAllocation    float64   `json:"new_allocation"`
	AllocationChange float64   `json:"allocation_change"`
	Reason           string    `json:"reason"`
}
