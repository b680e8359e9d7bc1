package postgres

import (
	"context"
	"errors"
	"gw-settlement/internal/custom_err"
	"gw-settlement/internal/models"
	"gw-settlement/internal/storage"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func (r *PgWalletRepository) GetWalletBalanceForUpdateTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (int64, error) {
	var balance int64
	err := tx.QueryRow(ctx, storage.GetWalletStateQuery, walletID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, custom_err.ErrNotFound
		}
		return 0, err
	}
	return balance, nil
}

func (r *PgWalletRepository) UpdateBalanceTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, newBalance int64) error {
	res, err := tx.Exec(ctx,
		storage.UpdateWalletBalanceQuery,
		newBalance,
		walletID,
	)
	if err != nil {

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23514" {
			return custom_err.ErrInsufficientFunds
		}
		return err
	}

	if res.RowsAffected() == 0 {
		return custom_err.ErrNotFound
	}

	return nil
}

func (r *PgWalletRepository) CreateWalletTx(ctx context.Context, tx pgx.Tx, wallet *models.Wallet) error {
	_, err := tx.Exec(ctx, storage.CreateWalletQuery,
		wallet.ID, wallet.UserID, wallet.Currency, wallet.Balance)
	return err
}
