package repositories

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/propelkit/experiments/internal/domain/experiment"
	"github.com/propelkit/experiments/internal/infrastructure/database/postgres"
	"github.com/propelkit/experiments/internal/infrastructure/monitoring/logging"
	"github.com/propelkit/experiments/pkg/errors"
)

type postgresAssignmentRepo struct {
	conn     *postgres.Connection
	log      logging.Logger
	executor queryExecutor
}

// NewPostgresAssignmentRepo constructs the PostgreSQL-backed assignment
// repository.
func NewPostgresAssignmentRepo(conn *postgres.Connection, log logging.Logger) experiment.AssignmentRepository {
	return &postgresAssignmentRepo{
		conn:     conn,
		log:      log,
		executor: conn.DB(),
	}
}

// Create inserts the assignment.  The unique constraint on
// (experiment_id, session_id) turns a concurrent duplicate into a Conflict
// error, which the assignment engine resolves by re-reading.
func (r *postgresAssignmentRepo) Create(ctx context.Context, a *experiment.Assignment) error {
	_, err := r.executor.ExecContext(ctx, `
		INSERT INTO assignments (id, experiment_id, variant_id, session_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		a.ID, a.ExperimentID, a.VariantID, a.SessionID, a.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrap(err, errors.ErrCodeConflict,
				"assignment already exists for this session")
		}
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to insert assignment")
	}
	return nil
}

func (r *postgresAssignmentRepo) Get(ctx context.Context, experimentID, sessionID string) (*experiment.Assignment, error) {
	var a experiment.Assignment
	err := r.executor.QueryRowContext(ctx, `
		SELECT id, experiment_id, variant_id, session_id, created_at
		FROM assignments
		WHERE experiment_id = $1 AND session_id = $2
	`, experimentID, sessionID).Scan(
		&a.ID, &a.ExperimentID, &a.VariantID, &a.SessionID, &a.CreatedAt,
	)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.Newf(errors.ErrCodeAssignmentNotFound,
				"no assignment for session %s in experiment %s", sessionID, experimentID)
		}
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query assignment")
	}
	return &a, nil
}
