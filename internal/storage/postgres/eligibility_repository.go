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

// EligibilityRepository хранит только счетчик дневного использования
// мгновенных расчетов. Сам вердикт никогда не персистится.
type EligibilityRepository interface {
	GetUsage(ctx context.Context, userID uuid.UUID, currency models.Currency, direction models.Direction) (*models.InstantUsage, error)
	GetUsageForUpdateTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency models.Currency, direction models.Direction) (*models.InstantUsage, error)
	AddUsageTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency models.Currency, direction models.Direction, dailyLimit, amount int64) error
}

type PgEligibilityRepository struct {
	db *pgxpool.Pool
}

func NewEligibilityRepository(db *pgxpool.Pool) EligibilityRepository {
	return &PgEligibilityRepository{db: db}
}

func (r *PgEligibilityRepository) GetUsage(ctx context.Context, userID uuid.UUID, currency models.Currency, direction models.Direction) (*models.InstantUsage, error) {
	const op = "storage.GetInstantUsage"

	u, err := scanUsage(r.db.QueryRow(ctx, storage.GetInstantUsageQuery, userID, currency, direction))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, custom_err.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (r *PgEligibilityRepository) GetUsageForUpdateTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency models.Currency, direction models.Direction) (*models.InstantUsage, error) {
	u, err := scanUsage(tx.QueryRow(ctx, storage.GetInstantUsageForUpdateQuery, userID, currency, direction))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, custom_err.ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

// AddUsageTx инкрементирует дневное использование внутри транзакции
// расчета. Сброс на границе календарного дня делает сам запрос.
func (r *PgEligibilityRepository) AddUsageTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, currency models.Currency, direction models.Direction, dailyLimit, amount int64) error {
	_, err := tx.Exec(ctx, storage.UpsertInstantUsageQuery, userID, currency, direction, dailyLimit, amount)
	return err
}

func scanUsage(row pgx.Row) (*models.InstantUsage, error) {
	var u models.InstantUsage
	err := row.Scan(
		&u.UserID,
		&u.Currency,
		&u.Direction,
		&u.DailyLimit,
		&u.DailyUsed,
		&u.ResetDate,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
