package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gw-settlement/internal/custom_err"
	"gw-settlement/internal/storage"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ExchangeRate хранимый курс валюты к USD
type ExchangeRate struct {
	ID        uuid.UUID `db:"id"`
	Currency  string    `db:"currency"`
	Rate      float64   `db:"rate"`
	UpdatedAt time.Time `db:"updated_at"`
}

type RateRepository interface {
	GetAll(ctx context.Context) ([]ExchangeRate, error)
	GetByCurrency(ctx context.Context, currency string) (*ExchangeRate, error)
}

type PgRateRepository struct {
	db *pgxpool.Pool
}

func NewRateRepository(db *pgxpool.Pool) RateRepository {
	return &PgRateRepository{db: db}
}

func (r *PgRateRepository) GetAll(ctx context.Context) ([]ExchangeRate, error) {
	const op = "storage.GetAllRates"

	rows, err := r.db.Query(ctx, storage.GetAllRatesQuery)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var rates []ExchangeRate
	for rows.Next() {
		var rate ExchangeRate
		if err := rows.Scan(&rate.ID, &rate.Currency, &rate.Rate, &rate.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%s: scan error: %w", op, err)
		}
		rates = append(rates, rate)
	}

	return rates, nil
}

func (r *PgRateRepository) GetByCurrency(ctx context.Context, currency string) (*ExchangeRate, error) {
	const op = "storage.GetRateByCurrency"

	var rate ExchangeRate
	err := r.db.QueryRow(ctx, storage.GetRateByCurrencyQuery, currency).Scan(
		&rate.ID,
		&rate.Currency,
		&rate.Rate,
		&rate.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, custom_err.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &rate, nil
}
