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
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolRepository единственная точка доступа к строкам liquidity_pools.
// Любая мутация баланса проходит через DebitTx/CreditTx под блокировкой
// строки валюты и сопровождается записью в журнал движений.
type PoolRepository interface {
	GetByCurrency(ctx context.Context, currency models.Currency) (*models.LiquidityPool, error)
	GetAll(ctx context.Context) ([]*models.LiquidityPool, error)

	DebitTx(ctx context.Context, tx pgx.Tx, currency models.Currency, amount int64, reason, reference string) (int64, error)
	CreditTx(ctx context.Context, tx pgx.Tx, currency models.Currency, amount int64, reason, reference string) (int64, error)
	TouchRebalanceTx(ctx context.Context, tx pgx.Tx, currency models.Currency) error

	ListMovements(ctx context.Context, currency models.Currency, limit int) ([]*models.LiquidityMovement, error)
}

type PgPoolRepository struct {
	db *pgxpool.Pool
}

func NewPoolRepository(db *pgxpool.Pool) PoolRepository {
	return &PgPoolRepository{db: db}
}

func (r *PgPoolRepository) GetByCurrency(ctx context.Context, currency models.Currency) (*models.LiquidityPool, error) {
	const op = "storage.GetPoolByCurrency"

	var pool models.LiquidityPool
	err := r.db.QueryRow(ctx, storage.GetPoolByCurrencyQuery, currency).Scan(
		&pool.Currency,
		&pool.AvailableBalance,
		&pool.TargetBalance,
		&pool.MinThreshold,
		&pool.MaxThreshold,
		&pool.LastRebalanceAt,
		&pool.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, custom_err.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &pool, nil
}

func (r *PgPoolRepository) GetAll(ctx context.Context) ([]*models.LiquidityPool, error) {
	const op = "storage.GetAllPools"

	rows, err := r.db.Query(ctx, storage.GetAllPoolsQuery)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var pools []*models.LiquidityPool
	for rows.Next() {
		var pool models.LiquidityPool
		err := rows.Scan(
			&pool.Currency,
			&pool.AvailableBalance,
			&pool.TargetBalance,
			&pool.MinThreshold,
			&pool.MaxThreshold,
			&pool.LastRebalanceAt,
			&pool.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: scan error: %w", op, err)
		}
		pools = append(pools, &pool)
	}
	return pools, nil
}

// DebitTx списывает amount с пула под блокировкой строки. Возвращает
// баланс после списания. Уход в минус невозможен.
func (r *PgPoolRepository) DebitTx(ctx context.Context, tx pgx.Tx, currency models.Currency, amount int64, reason, reference string) (int64, error) {
	balance, err := r.balanceForUpdate(ctx, tx, currency)
	if err != nil {
		return 0, err
	}

	newBalance := balance - amount
	if newBalance < 0 {
		return 0, custom_err.ErrInsufficientLiquidity
	}

	if err := r.setBalance(ctx, tx, currency, newBalance); err != nil {
		return 0, err
	}

	if err := r.insertMovement(ctx, tx, currency, models.MovementDebit, amount, newBalance, reason, reference); err != nil {
		return 0, err
	}

	return newBalance, nil
}

// CreditTx зачисляет amount на пул под блокировкой строки. Возвращает
// баланс после зачисления.
func (r *PgPoolRepository) CreditTx(ctx context.Context, tx pgx.Tx, currency models.Currency, amount int64, reason, reference string) (int64, error) {
	balance, err := r.balanceForUpdate(ctx, tx, currency)
	if err != nil {
		return 0, err
	}

	newBalance := balance + amount

	if err := r.setBalance(ctx, tx, currency, newBalance); err != nil {
		return 0, err
	}

	if err := r.insertMovement(ctx, tx, currency, models.MovementCredit, amount, newBalance, reason, reference); err != nil {
		return 0, err
	}

	return newBalance, nil
}

func (r *PgPoolRepository) TouchRebalanceTx(ctx context.Context, tx pgx.Tx, currency models.Currency) error {
	_, err := tx.Exec(ctx, storage.TouchPoolRebalanceQuery, currency)
	return err
}

func (r *PgPoolRepository) balanceForUpdate(ctx context.Context, tx pgx.Tx, currency models.Currency) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, storage.GetPoolBalanceForUpdateQuery, currency).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, custom_err.ErrNotFound
		}
		return 0, err
	}
	return balance, nil
}

func (r *PgPoolRepository) setBalance(ctx context.Context, tx pgx.Tx, currency models.Currency, newBalance int64) error {
	res, err := tx.Exec(ctx, storage.UpdatePoolBalanceQuery, newBalance, currency)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			return custom_err.ErrInsufficientLiquidity
		}
		return err
	}
	if res.RowsAffected() == 0 {
		return custom_err.ErrNotFound
	}
	return nil
}

func (r *PgPoolRepository) insertMovement(ctx context.Context, tx pgx.Tx, currency models.Currency, mType models.MovementType, amount, balanceAfter int64, reason, reference string) error {
	_, err := tx.Exec(ctx, storage.InsertMovementQuery,
		uuid.New(), currency, mType, amount, balanceAfter, reason, reference)
	return err
}

func (r *PgPoolRepository) ListMovements(ctx context.Context, currency models.Currency, limit int) ([]*models.LiquidityMovement, error) {
	const op = "storage.ListMovements"

	rows, err := r.db.Query(ctx, storage.ListMovementsQuery, currency, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var movements []*models.LiquidityMovement
	for rows.Next() {
		var m models.LiquidityMovement
		err := rows.Scan(
			&m.ID,
			&m.Currency,
			&m.MovementType,
			&m.Amount,
			&m.BalanceAfter,
			&m.Reason,
			&m.Reference,
			&m.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: scan error: %w", op, err)
		}
		movements = append(movements, &m)
	}
	return movements, nil
}
