package postgres

import (
	"context"
	"fmt"
	"gw-settlement/internal/models"
	"gw-settlement/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RebalanceRepository аудит-очередь действий ребалансировки
type RebalanceRepository interface {
	InsertTx(ctx context.Context, tx pgx.Tx, a *models.RebalanceAction) error
	MarkTx(ctx context.Context, tx pgx.Tx, a *models.RebalanceAction, status models.RebalanceStatus) error
	ListPending(ctx context.Context) ([]*models.RebalanceAction, error)
}

type PgRebalanceRepository struct {
	db *pgxpool.Pool
}

func NewRebalanceRepository(db *pgxpool.Pool) RebalanceRepository {
	return &PgRebalanceRepository{db: db}
}

func (r *PgRebalanceRepository) InsertTx(ctx context.Context, tx pgx.Tx, a *models.RebalanceAction) error {
	_, err := tx.Exec(ctx, storage.InsertRebalanceActionQuery,
		a.ID, a.Action, a.FromCurrency, a.ToCurrency, a.Amount, a.Priority, a.Status,
	)
	return err
}

func (r *PgRebalanceRepository) MarkTx(ctx context.Context, tx pgx.Tx, a *models.RebalanceAction, status models.RebalanceStatus) error {
	_, err := tx.Exec(ctx, storage.MarkRebalanceActionQuery, status, a.ID)
	return err
}

func (r *PgRebalanceRepository) ListPending(ctx context.Context) ([]*models.RebalanceAction, error) {
	const op = "storage.ListPendingRebalanceActions"

	rows, err := r.db.Query(ctx, storage.ListPendingRebalanceActionsQuery)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var actions []*models.RebalanceAction
	for rows.Next() {
		var a models.RebalanceAction
		err := rows.Scan(
			&a.ID,
			&a.Action,
			&a.FromCurrency,
			&a.ToCurrency,
			&a.Amount,
			&a.Priority,
			&a.Status,
			&a.CreatedAt,
			&a.ExecutedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: scan error: %w", op, err)
		}
		actions = append(actions, &a)
	}
	return actions, nil
}
