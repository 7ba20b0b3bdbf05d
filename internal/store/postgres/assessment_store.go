package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

const assessmentColumns = `id, symbol, ts, likelihood, confidence, severity, alert_eligible,
	insufficient_data, samples, detectors_fired, config_version, pattern_scores`

// AssessmentStore implements domain.AssessmentStore on the assessments table.
type AssessmentStore struct {
	pool *pgxpool.Pool
}

// NewAssessmentStore creates an AssessmentStore backed by pool.
func NewAssessmentStore(pool *pgxpool.Pool) *AssessmentStore {
	return &AssessmentStore{pool: pool}
}

// Insert persists a. Re-inserting the same ID is a no-op.
func (s *AssessmentStore) Insert(ctx context.Context, a domain.Assessment) error {
	patterns, err := json.Marshal(a.Patterns)
	if err != nil {
		return fmt.Errorf("postgres: marshal pattern scores: %w", err)
	}
	const query = `INSERT INTO assessments (` + assessmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`
	_, err = s.pool.Exec(ctx, query,
		a.ID, a.Symbol, a.Timestamp, a.Likelihood, a.Confidence, string(a.Severity), a.AlertEligible,
		a.InsufficientData, a.Samples, a.DetectorsFired, int64(a.ConfigVersion), patterns,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert assessment %s: %w", a.ID, err)
	}
	return nil
}

// ListBySymbol returns symbol's assessments newest first.
func (s *AssessmentStore) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.Assessment, error) {
	query, args := listQuery(`SELECT `+assessmentColumns+` FROM assessments WHERE symbol = $1`, "ts", opts, []any{symbol})
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list assessments %s: %w", symbol, err)
	}
	return collectAssessments(rows)
}

// ListBefore returns up to limit assessments older than before, oldest
// first.
func (s *AssessmentStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Assessment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+assessmentColumns+` FROM assessments WHERE ts < $1 ORDER BY ts ASC LIMIT $2`,
		before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list assessments before %s: %w", before.Format(time.RFC3339), err)
	}
	return collectAssessments(rows)
}

// DeleteBefore removes every assessment older than before.
func (s *AssessmentStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM assessments WHERE ts < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete assessments before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func collectAssessments(rows pgx.Rows) ([]domain.Assessment, error) {
	defer rows.Close()

	var out []domain.Assessment
	for rows.Next() {
		var (
			a        domain.Assessment
			severity string
			version  int64
			patterns []byte
		)
		if err := rows.Scan(&a.ID, &a.Symbol, &a.Timestamp, &a.Likelihood, &a.Confidence, &severity,
			&a.AlertEligible, &a.InsufficientData, &a.Samples, &a.DetectorsFired, &version, &patterns); err != nil {
			return nil, fmt.Errorf("postgres: scan assessment: %w", err)
		}
		a.Severity = domain.Severity(severity)
		a.ConfigVersion = uint64(version)
		if err := json.Unmarshal(patterns, &a.Patterns); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal pattern scores %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: assessment rows: %w", err)
	}
	return out, nil
}

var _ domain.AssessmentStore = (*AssessmentStore)(nil)
