package repositories

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/propelkit/experiments/internal/domain/experiment"
	"github.com/propelkit/experiments/internal/infrastructure/database/postgres"
	"github.com/propelkit/experiments/internal/infrastructure/monitoring/logging"
	"github.com/propelkit/experiments/pkg/errors"
)

type postgresExperimentRepo struct {
	conn     *postgres.Connection
	log      logging.Logger
	executor queryExecutor
}

// NewPostgresExperimentRepo constructs the PostgreSQL-backed experiment
// repository.
func NewPostgresExperimentRepo(conn *postgres.Connection, log logging.Logger) experiment.ExperimentRepository {
	return &postgresExperimentRepo{
		conn:     conn,
		log:      log,
		executor: conn.DB(),
	}
}

const experimentColumns = `
	id, owner_id, name, description, type, status, primary_metric,
	secondary_metrics, confidence_level, min_sample_size, auto_select_winner,
	start_date, end_date, winner_id, created_at, updated_at
`

const variantColumns = `
	id, experiment_id, name, description, content, traffic_allocation,
	is_control, position, impressions, conversions, clicks, total_value,
	created_at, updated_at
`

func (r *postgresExperimentRepo) Create(ctx context.Context, exp *experiment.Experiment) error {
	tx, err := r.conn.DB().BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to begin transaction")
	}
	defer tx.Rollback()

	metricsJSON, err := marshalJSON(exp.SecondaryMetrics)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode secondary metrics")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO experiments (
			id, owner_id, name, description, type, status, primary_metric,
			secondary_metrics, confidence_level, min_sample_size,
			auto_select_winner, start_date, end_date, winner_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		exp.ID, exp.OwnerID, exp.Name, exp.Description, exp.Type, exp.Status,
		exp.PrimaryMetric, metricsJSON, exp.ConfidenceLevel, exp.MinSampleSize,
		exp.AutoSelectWinner, exp.StartDate, exp.EndDate, exp.WinnerID,
		exp.CreatedAt, exp.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Wrap(err, errors.ErrCodeConflict, "experiment already exists")
		}
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to insert experiment")
	}

	for _, v := range exp.Variants {
		contentJSON, jerr := marshalJSON(v.Content)
		if jerr != nil {
			return errors.Wrap(jerr, errors.ErrCodeSerialization, "failed to encode variant content")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO variants (
				id, experiment_id, name, description, content,
				traffic_allocation, is_control, position,
				impressions, conversions, clicks, total_value, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`,
			v.ID, v.ExperimentID, v.Name, v.Description, contentJSON,
			v.TrafficAllocation, v.IsControl, v.Position,
			v.Impressions, v.Conversions, v.Clicks, v.TotalValue,
			v.CreatedAt, v.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to insert variant")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to commit transaction")
	}
	return nil
}

func (r *postgresExperimentRepo) Get(ctx context.Context, id string) (*experiment.Experiment, error) {
	row := r.executor.QueryRowContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE id = $1`, id)
	exp, err := scanExperiment(row)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.Newf(errors.ErrCodeExperimentNotFound, "experiment %s not found", id)
		}
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query experiment")
	}

	if err := r.loadVariants(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

func (r *postgresExperimentRepo) List(ctx context.Context, opts experiment.ListOptions) ([]*experiment.Experiment, int64, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	if opts.OwnerID != "" {
		args = append(args, opts.OwnerID)
		where += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}
	if opts.Status != "" {
		args = append(args, opts.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int64
	row := r.executor.QueryRowContext(ctx, "SELECT COUNT(*) FROM experiments"+where, args...)
	if err := row.Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to count experiments")
	}

	args = append(args, opts.Limit, opts.Offset)
	query := "SELECT " + experimentColumns + " FROM experiments" + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list experiments")
	}
	defer rows.Close()

	var out []*experiment.Experiment
	for rows.Next() {
		exp, serr := scanExperiment(rows)
		if serr != nil {
			return nil, 0, errors.Wrap(serr, errors.ErrCodeDatabaseError, "failed to scan experiment")
		}
		out = append(out, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate experiments")
	}

	for _, exp := range out {
		if err := r.loadVariants(ctx, exp); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

func (r *postgresExperimentRepo) Update(ctx context.Context, exp *experiment.Experiment) error {
	metricsJSON, err := marshalJSON(exp.SecondaryMetrics)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode secondary metrics")
	}

	res, err := r.executor.ExecContext(ctx, `
		UPDATE experiments SET
			name = $2, description = $3, type = $4, status = $5,
			primary_metric = $6, secondary_metrics = $7, confidence_level = $8,
			min_sample_size = $9, auto_select_winner = $10,
			start_date = $11, end_date = $12, winner_id = $13, updated_at = $14
		WHERE id = $1
	`,
		exp.ID, exp.Name, exp.Description, exp.Type, exp.Status,
		exp.PrimaryMetric, metricsJSON, exp.ConfidenceLevel,
		exp.MinSampleSize, exp.AutoSelectWinner,
		exp.StartDate, exp.EndDate, exp.WinnerID, exp.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to update experiment")
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return errors.Newf(errors.ErrCodeExperimentNotFound, "experiment %s not found", exp.ID)
	}
	return nil
}

func (r *postgresExperimentRepo) UpdateVariants(ctx context.Context, experimentID string, variants []*experiment.Variant) error {
	tx, err := r.conn.DB().BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to begin transaction")
	}
	defer tx.Rollback()

	for _, v := range variants {
		contentJSON, jerr := marshalJSON(v.Content)
		if jerr != nil {
			return errors.Wrap(jerr, errors.ErrCodeSerialization, "failed to encode variant content")
		}
		res, uerr := tx.ExecContext(ctx, `
			UPDATE variants SET
				name = $3, description = $4, content = $5,
				traffic_allocation = $6, is_control = $7, updated_at = $8
			WHERE id = $1 AND experiment_id = $2
		`,
			v.ID, experimentID, v.Name, v.Description, contentJSON,
			v.TrafficAllocation, v.IsControl, v.UpdatedAt,
		)
		if uerr != nil {
			return errors.Wrap(uerr, errors.ErrCodeDatabaseError, "failed to update variant")
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			return errors.Newf(errors.ErrCodeVariantNotFound,
				"variant %s not found in experiment %s", v.ID, experimentID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to commit transaction")
	}
	return nil
}

// IncrementCounters applies the delta inside a single UPDATE so concurrent
// writers never lose increments.
func (r *postgresExperimentRepo) IncrementCounters(ctx context.Context, variantID string, delta experiment.CounterDelta) error {
	res, err := r.executor.ExecContext(ctx, `
		UPDATE variants SET
			impressions = impressions + $2,
			conversions = conversions + $3,
			clicks = clicks + $4,
			total_value = total_value + $5,
			updated_at = NOW()
		WHERE id = $1
	`,
		variantID, delta.Impressions, delta.Conversions, delta.Clicks, delta.Value,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to increment variant counters")
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return errors.Newf(errors.ErrCodeVariantNotFound, "variant %s not found", variantID)
	}
	return nil
}

func (r *postgresExperimentRepo) Delete(ctx context.Context, id string) error {
	res, err := r.executor.ExecContext(ctx, `DELETE FROM experiments WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to delete experiment")
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return errors.Newf(errors.ErrCodeExperimentNotFound, "experiment %s not found", id)
	}
	return nil
}

// loadVariants populates exp.Variants in position order.
func (r *postgresExperimentRepo) loadVariants(ctx context.Context, exp *experiment.Experiment) error {
	rows, err := r.executor.QueryContext(ctx,
		`SELECT `+variantColumns+` FROM variants WHERE experiment_id = $1 ORDER BY position`, exp.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query variants")
	}
	defer rows.Close()

	exp.Variants = nil
	for rows.Next() {
		v, serr := scanVariant(rows)
		if serr != nil {
			return errors.Wrap(serr, errors.ErrCodeDatabaseError, "failed to scan variant")
		}
		exp.Variants = append(exp.Variants, v)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate variants")
	}
	return nil
}

func scanExperiment(s scanner) (*experiment.Experiment, error) {
	var exp experiment.Experiment
	var metricsRaw []byte
	err := s.Scan(
		&exp.ID, &exp.OwnerID, &exp.Name, &exp.Description, &exp.Type,
		&exp.Status, &exp.PrimaryMetric, &metricsRaw, &exp.ConfidenceLevel,
		&exp.MinSampleSize, &exp.AutoSelectWinner, &exp.StartDate,
		&exp.EndDate, &exp.WinnerID, &exp.CreatedAt, &exp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metricsRaw, &exp.SecondaryMetrics); err != nil {
		return nil, err
	}
	return &exp, nil
}

func scanVariant(s scanner) (*experiment.Variant, error) {
	var v experiment.Variant
	var contentRaw []byte
	err := s.Scan(
		&v.ID, &v.ExperimentID, &v.Name, &v.Description, &contentRaw,
		&v.TrafficAllocation, &v.IsControl, &v.Position,
		&v.Impressions, &v.Conversions, &v.Clicks, &v.TotalValue,
		&v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(contentRaw, &v.Content); err != nil {
		return nil, err
	}
	return &v, nil
}
