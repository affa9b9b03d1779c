package repositories

import (
	"context"

	"github.com/propelkit/experiments/internal/domain/experiment"
	"github.com/propelkit/experiments/internal/infrastructure/database/postgres"
	"github.com/propelkit/experiments/internal/infrastructure/monitoring/logging"
	"github.com/propelkit/experiments/pkg/errors"
)

type postgresConversionRepo struct {
	conn     *postgres.Connection
	log      logging.Logger
	executor queryExecutor
}

// NewPostgresConversionRepo constructs the PostgreSQL-backed conversion
// repository.  The conversions table is append-only; nothing in the engine
// updates or deletes individual rows.
func NewPostgresConversionRepo(conn *postgres.Connection, log logging.Logger) experiment.ConversionRepository {
	return &postgresConversionRepo{
		conn:     conn,
		log:      log,
		executor: conn.DB(),
	}
}

func (r *postgresConversionRepo) Create(ctx context.Context, c *experiment.Conversion) error {
	metadataJSON, err := marshalJSON(c.Metadata)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode conversion metadata")
	}

	_, err = r.executor.ExecContext(ctx, `
		INSERT INTO conversions (
			id, experiment_id, variant_id, session_id, event, value, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		c.ID, c.ExperimentID, c.VariantID, c.SessionID, c.Event, c.Value,
		metadataJSON, c.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to insert conversion")
	}
	return nil
}

func (r *postgresConversionRepo) ListByExperiment(ctx context.Context, experimentID string, limit, offset int) ([]*experiment.Conversion, int64, error) {
	var total int64
	err := r.executor.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversions WHERE experiment_id = $1`, experimentID).Scan(&total)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to count conversions")
	}

	rows, err := r.executor.QueryContext(ctx, `
		SELECT id, experiment_id, variant_id, session_id, event, value, metadata, created_at
		FROM conversions
		WHERE experiment_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, experimentID, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list conversions")
	}
	defer rows.Close()

	var out []*experiment.Conversion
	for rows.Next() {
		var c experiment.Conversion
		var metadataRaw []byte
		if err := rows.Scan(
			&c.ID, &c.ExperimentID, &c.VariantID, &c.SessionID, &c.Event,
			&c.Value, &metadataRaw, &c.CreatedAt,
		); err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan conversion")
		}
		if err := unmarshalJSON(metadataRaw, &c.Metadata); err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode conversion metadata")
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate conversions")
	}
	return out, total, nil
}
