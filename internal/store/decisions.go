// Package store provides the Data Access Layer (Repository) for the decision
// log. It handles all direct interactions with the PostgreSQL database using
// the pgx driver.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brokkr-labs/brokkr/internal/updater"
)

// Compile-time checks to verify that PostgresStore implements both the
// repository interface and the updater's recorder. If either contract
// changes and the struct doesn't, the build fails here.
var (
	_ DecisionRepository = (*PostgresStore)(nil)
	_ updater.Recorder   = (*PostgresStore)(nil)
)

// Decision represents one processed device check. It mirrors the 'decisions'
// table structure; Actions round-trips through a JSONB column.
type Decision struct {
	ID         string           `db:"id" json:"id"`
	DeviceUID  string           `db:"device_uid" json:"device_uid"`
	ProjectUID string           `db:"project_uid" json:"project_uid"`
	RuleID     *string          `db:"rule_id" json:"rule_id,omitempty"`
	Matched    bool             `db:"matched" json:"matched"`
	Actions    []updater.Action `db:"actions" json:"actions"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
}

// DecisionRepository defines the interface for decision log persistence.
// Using an interface allows for dependency injection and easier mocking in
// tests.
type DecisionRepository interface {
	// RecordDecision inserts a decision and populates the ID and CreatedAt
	// fields in the struct.
	RecordDecision(ctx context.Context, d *Decision) error

	// RecentDecisions retrieves the newest decisions for one device,
	// newest first.
	RecentDecisions(ctx context.Context, deviceUID string, limit int) ([]Decision, error)
}

// PostgresStore is the implementation of DecisionRepository backed by
// PostgreSQL.
type PostgresStore struct {
	db         *pgxpool.Pool
	projectUID string
}

// NewPostgresStore creates a new repository instance with the given
// connection pool. The project UID stamps every decision written through
// the updater.Recorder path.
func NewPostgresStore(db *pgxpool.Pool, projectUID string) *PostgresStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	if projectUID == "" {
		panic("store: project UID cannot be empty")
	}
	return &PostgresStore{db: db, projectUID: projectUID}
}

// RecordDecision inserts a new decision into the database.
// A missing ID is filled with a time-ordered UUID before the insert, and
// CreatedAt comes back from the server clock via the RETURNING clause.
func (s *PostgresStore) RecordDecision(ctx context.Context, d *Decision) error {
	if d.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate decision id: %w", err)
		}
		d.ID = id.String()
	}
	if d.ProjectUID == "" {
		d.ProjectUID = s.projectUID
	}

	// Normalize nil to an empty JSON array so unmatched decisions don't
	// store a JSON null.
	actions := []byte("[]")
	if d.Actions != nil {
		encoded, err := json.Marshal(d.Actions)
		if err != nil {
			return fmt.Errorf("failed to encode decision actions: %w", err)
		}
		actions = encoded
	}

	query := `
		INSERT INTO decisions (id, device_uid, project_uid, rule_id, matched, actions)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := s.db.QueryRow(ctx, query,
		d.ID,
		d.DeviceUID,
		d.ProjectUID,
		d.RuleID,
		d.Matched,
		actions,
	).Scan(&d.CreatedAt)

	if err != nil {
		// Handle specific database errors explicitly.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			// Error Code 23505: unique_violation
			if pgErr.Code == "23505" {
				return fmt.Errorf("decision %q already recorded", d.ID)
			}
		}
		return fmt.Errorf("failed to insert decision: %w", err)
	}

	return nil
}

// RecentDecisions retrieves up to limit decisions for the given device,
// newest first. The ID tiebreak keeps the order stable when two decisions
// share a timestamp.
func (s *PostgresStore) RecentDecisions(ctx context.Context, deviceUID string, limit int) ([]Decision, error) {
	query := `
		SELECT id, device_uid, project_uid, rule_id, matched, actions, created_at
		FROM decisions
		WHERE device_uid = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, deviceUID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	// Ensure rows are closed to prevent connection leaks in the pool.
	defer rows.Close()

	decisions := make([]Decision, 0, limit)

	for rows.Next() {
		var (
			d       Decision
			actions []byte
		)
		if err := rows.Scan(
			&d.ID,
			&d.DeviceUID,
			&d.ProjectUID,
			&d.RuleID,
			&d.Matched,
			&actions,
			&d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan decision row: %w", err)
		}
		if err := json.Unmarshal(actions, &d.Actions); err != nil {
			return nil, fmt.Errorf("failed to decode decision actions: %w", err)
		}
		decisions = append(decisions, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return decisions, nil
}

// Record implements updater.Recorder by translating a processed check into
// a decision row.
func (s *PostgresStore) Record(ctx context.Context, outcome updater.Outcome) error {
	d := Decision{
		DeviceUID:  outcome.DeviceUID,
		ProjectUID: s.projectUID,
		Matched:    outcome.Matched,
		Actions:    outcome.Actions,
	}
	if outcome.RuleID != "" {
		d.RuleID = &outcome.RuleID
	}
	return s.RecordDecision(ctx, &d)
}
