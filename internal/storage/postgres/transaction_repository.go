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

type TransactionRepository interface {
	InsertTx(ctx context.Context, tx pgx.Tx, t *models.Transaction, requestID string) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetByIDForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Transaction, error)
	GetByReferenceForUpdateTx(ctx context.Context, tx pgx.Tx, reference string) (*models.Transaction, error)
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to models.TransactionStatus, failureReason *string) error
	SetReferenceTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, reference string) error
	RequestExists(ctx context.Context, requestID string) (bool, error)
	CountCompletedBetween(ctx context.Context, senderID, recipientID uuid.UUID) (int, error)
}

type PgTransactionRepository struct {
	db *pgxpool.Pool
}

func NewTransactionRepository(db *pgxpool.Pool) TransactionRepository {
	return &PgTransactionRepository{db: db}
}

func (r *PgTransactionRepository) InsertTx(ctx context.Context, tx pgx.Tx, t *models.Transaction, requestID string) error {
	_, err := tx.Exec(ctx, storage.InsertTransactionQuery,
		t.ID, t.SenderID, t.RecipientID, t.Amount, t.SourceCurrency, t.TargetCurrency,
		t.ExchangeRate, t.Fee, t.ConvertedAmount, t.Status, t.TransactionType,
		t.ExternalReference, t.BankDetails, requestID, t.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return custom_err.ErrDuplicateRequest
		}
		return err
	}
	return nil
}

func (r *PgTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	const op = "storage.GetTransactionByID"

	t, err := scanTransaction(r.db.QueryRow(ctx, storage.GetTransactionByIDQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, custom_err.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

func (r *PgTransactionRepository) GetByIDForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Transaction, error) {
	t, err := scanTransaction(tx.QueryRow(ctx, storage.GetTransactionByIDForUpdateQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, custom_err.ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

func (r *PgTransactionRepository) GetByReferenceForUpdateTx(ctx context.Context, tx pgx.Tx, reference string) (*models.Transaction, error) {
	t, err := scanTransaction(tx.QueryRow(ctx, storage.GetTransactionByReferenceForUpdateQuery, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, custom_err.ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

// UpdateStatusTx выполняет переход статуса с предусловием. Недопустимый
// переход отклоняется до запроса; 0 затронутых строк означает, что статус
// уже изменился конкурентно.
func (r *PgTransactionRepository) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to models.TransactionStatus, failureReason *string) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", custom_err.ErrInvalidStateTransition, from, to)
	}

	res, err := tx.Exec(ctx, storage.UpdateTransactionStatusQuery, to, failureReason, id, from)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return custom_err.ErrConcurrencyConflict
	}
	return nil
}

func (r *PgTransactionRepository) SetReferenceTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, reference string) error {
	res, err := tx.Exec(ctx, storage.SetTransactionReferenceQuery, reference, id)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return custom_err.ErrNotFound
	}
	return nil
}

func (r *PgTransactionRepository) RequestExists(ctx context.Context, requestID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, storage.TransactionRequestExistsQuery, requestID).Scan(&exists)
	return exists, err
}

func (r *PgTransactionRepository) CountCompletedBetween(ctx context.Context, senderID, recipientID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, storage.CountCompletedBetweenQuery, senderID, recipientID).Scan(&count)
	return count, err
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(
		&t.ID,
		&t.SenderID,
		&t.RecipientID,
		&t.Amount,
		&t.SourceCurrency,
		&t.TargetCurrency,
		&t.ExchangeRate,
		&t.Fee,
		&t.ConvertedAmount,
		&t.Status,
		&t.TransactionType,
		&t.ExternalReference,
		&t.BankDetails,
		&t.FailureReason,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
