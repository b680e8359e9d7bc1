package postgres

import (
	"context"
	"errors"
	"fmt"
	"gw-settlement/internal/custom_err"
	"gw-settlement/internal/models"
	"gw-settlement/internal/storage"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RetryRepository append-only хранилище записей планировщика повторов
type RetryRepository interface {
	InsertTx(ctx context.Context, tx pgx.Tx, r *models.RetryRecord) error
	GetLatest(ctx context.Context, transactionID uuid.UUID) (*models.RetryRecord, error)
	ListDue(ctx context.Context, limit int) ([]*models.RetryRecord, error)
}

type PgRetryRepository struct {
	db *pgxpool.Pool
}

func NewRetryRepository(db *pgxpool.Pool) RetryRepository {
	return &PgRetryRepository{db: db}
}

func (r *PgRetryRepository) InsertTx(ctx context.Context, tx pgx.Tx, rec *models.RetryRecord) error {
	_, err := tx.Exec(ctx, storage.InsertRetryQuery,
		rec.ID, rec.TransactionID, rec.Reason, rec.AttemptCount,
		rec.MaxAttempts, rec.NextAttemptAt, rec.TriggerType,
	)
	return err
}

func (r *PgRetryRepository) GetLatest(ctx context.Context, transactionID uuid.UUID) (*models.RetryRecord, error) {
	const op = "storage.GetLatestRetry"

	rec, err := scanRetry(r.db.QueryRow(ctx, storage.GetLatestRetryQuery, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, custom_err.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

func (r *PgRetryRepository) ListDue(ctx context.Context, limit int) ([]*models.RetryRecord, error) {
	const op = "storage.ListDueRetries"

	rows, err := r.db.Query(ctx, storage.ListDueRetriesQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var records []*models.RetryRecord
	for rows.Next() {
		var rec models.RetryRecord
		err := rows.Scan(
			&rec.ID,
			&rec.TransactionID,
			&rec.Reason,
			&rec.AttemptCount,
			&rec.MaxAttempts,
			&rec.NextAttemptAt,
			&rec.TriggerType,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: scan error: %w", op, err)
		}
		records = append(records, &rec)
	}
	return records, nil
}

func scanRetry(row pgx.Row) (*models.RetryRecord, error) {
	var rec models.RetryRecord
	err := row.Scan(
		&rec.ID,
		&rec.TransactionID,
		&rec.Reason,
		&rec.AttemptCount,
		&rec.MaxAttempts,
		&rec.NextAttemptAt,
		&rec.TriggerType,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
