package history

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vaultpilot/allocator/internal/database"
	"github.com/vmihailenco/msgpack/v5"
)

// Repository persists rebalance runs in the history database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new history repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "history").Logger(),
	}
}

// Save writes the run and one strategy_allocations row per strategy.
func (r *Repository) Save(ctx context.Context, run *Run) error {
	requestBlob, err := encodeBlob(run.Request)
	if err != nil {
		return fmt.Errorf("failed to encode request for run %s: %w", run.ID, err)
	}
	resultBlob, err := encodeBlob(run.Result)
	if err != nil {
		return fmt.Errorf("failed to encode result for run %s: %w", run.ID, err)
	}

	createdAt := run.CreatedAt.UnixMilli()
	var requestTimestamp interface{}
	if len(run.RequestTimestamp) > 0 {
		requestTimestamp = string(run.RequestTimestamp)
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rebalance_runs
				(id, request_type, request_timestamp, created_at, tier_count, strategy_count,
				 drift_corrections, duration_us, request_blob, result_blob)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.RequestType, requestTimestamp, createdAt, run.TierCount, run.StrategyCount,
			run.DriftCorrections, run.Duration.Microseconds(), requestBlob, resultBlob,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO strategy_allocations
				(run_id, tier_position, tier, tier_name, position, address, name, current_apy, avg_apy,
				 old_allocation, new_allocation, allocation_change, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare allocation insert: %w", err)
		}
		defer stmt.Close()

		for ti, tier := range run.Result.Tiers {
			var tierNumber interface{}
			if tier.Tier != nil {
				tierNumber = tier.Tier.Float()
			}
			for si, s := range tier.Strategies {
				_, err := stmt.ExecContext(ctx,
					run.ID, ti, tierNumber, nullString(tier.Name), si, s.Address, nullString(s.Name),
					s.APY(), s.AvgAPY(), s.Allocation(), s.NewAllocation, s.AllocationChange, s.Reason,
					createdAt,
				)
				if err != nil {
					return fmt.Errorf("failed to insert allocation %d/%d for run %s: %w", ti, si, run.ID, err)
				}
			}
		}
		return nil
	})
}

// Get loads a run with its request and result.
func (r *Repository) Get(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, request_type, request_timestamp, created_at, tier_count, strategy_count,
		       drift_corrections, duration_us, request_blob, result_blob
		FROM rebalance_runs WHERE id = ?`, id)
	return scanRun(row)
}

// Latest loads the most recent run.
func (r *Repository) Latest(ctx context.Context) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, request_type, request_timestamp, created_at, tier_count, strategy_count,
		       drift_corrections, duration_us, request_blob, result_blob
		FROM rebalance_runs ORDER BY created_at DESC, rowid DESC LIMIT 1`)
	return scanRun(row)
}

// List returns the newest runs first, without payloads.
func (r *Repository) List(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, request_type, created_at, tier_count, strategy_count, drift_corrections, duration_us
		FROM rebalance_runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	summaries := make([]RunSummary, 0)
	for rows.Next() {
		var s RunSummary
		var createdAt int64
		if err := rows.Scan(&s.ID, &s.RequestType, &createdAt, &s.TierCount, &s.StrategyCount,
			&s.DriftCorrections, &s.DurationUs); err != nil {
			return nil, fmt.Errorf("failed to scan run summary: %w", err)
		}
		s.CreatedAt = time.UnixMilli(createdAt).UTC()
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// StrategySeries returns up to limit points for address, oldest first.
func (r *Repository) StrategySeries(ctx context.Context, address string, limit int) ([]AllocationPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, created_at, tier, tier_name, address, name, current_apy, avg_apy,
		       old_allocation, new_allocation, allocation_change, reason
		FROM (
			SELECT a.*, r.rowid AS run_rowid FROM strategy_allocations a
			JOIN rebalance_runs r ON r.id = a.run_id
			WHERE a.address = ?
			ORDER BY a.created_at DESC, run_rowid DESC, a.tier_position DESC, a.position DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, run_rowid ASC, tier_position ASC, position ASC`, address, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query series for %s: %w", address, err)
	}
	defer rows.Close()

	points := make([]AllocationPoint, 0)
	for rows.Next() {
		var p AllocationPoint
		var createdAt int64
		var tier sql.NullFloat64
		var tierName, name sql.NullString
		if err := rows.Scan(&p.RunID, &createdAt, &tier, &tierName, &p.Address, &name, &p.CurrentAPY,
			&p.AvgAPY, &p.OldAllocation, &p.NewAllocation, &p.AllocationChange, &p.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan allocation point: %w", err)
		}
		p.CreatedAt = time.UnixMilli(createdAt).UTC()
		if tier.Valid {
			v := tier.Float64
			p.Tier = &v
		}
		p.TierName = tierName.String
		p.Name = name.String
		points = append(points, p)
	}
	return points, rows.Err()
}

// DeleteOlderThan removes runs created before cutoff and returns how many
// runs were deleted.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM strategy_allocations WHERE created_at < ?`, cutoff.UnixMilli()); err != nil {
			return fmt.Errorf("failed to delete allocations: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM rebalance_runs WHERE created_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to delete runs: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		r.log.Info().Int64("runs_deleted", deleted).Time("cutoff", cutoff).Msg("Deleted old rebalance runs")
	}
	return deleted, nil
}

// Count returns the number of stored runs.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rebalance_runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return n, nil
}

func scanRun(row *sql.Row) (*Run, error) {
	var run Run
	var requestTimestamp sql.NullString
	var createdAt, durationUs int64
	var requestBlob, resultBlob []byte

	err := row.Scan(&run.ID, &run.RequestType, &requestTimestamp, &createdAt, &run.TierCount,
		&run.StrategyCount, &run.DriftCorrections, &durationUs, &requestBlob, &resultBlob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	if requestTimestamp.Valid {
		run.RequestTimestamp = []byte(requestTimestamp.String)
	}
	run.CreatedAt = time.UnixMilli(createdAt).UTC()
	run.Duration = time.Duration(durationUs) * time.Microsecond

	if err := decodeBlob(requestBlob, &run.Request); err != nil {
		return nil, fmt.Errorf("failed to decode request of run %s: %w", run.ID, err)
	}
	if err := decodeBlob(resultBlob, &run.Result); err != nil {
		return nil, fmt.Errorf("failed to decode result of run %s: %w", run.ID, err)
	}
	return &run, nil
}

// Blobs reuse the json field names so they stay readable with generic
// msgpack tooling. Pass-through fields carry an explicit msgpack tag.
func encodeBlob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeBlob(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
