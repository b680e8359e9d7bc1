package service

import (
	"context"
	"fmt"
	"gw-settlement/internal/models"
	"gw-settlement/internal/storage/postgres"

	"github.com/google/uuid"
)

// Wallet read-only доступ к расчетному кошельку. Любое движение средств
// проходит исключительно через оркестратор расчетов.
type Wallet interface {
	GetWalletByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
	GetUserBalance(ctx context.Context, userID uuid.UUID) (*models.UserBalanceResponse, error)
}

type WalletService struct {
	repo postgres.WalletRepository
}

func NewWalletService(repo postgres.WalletRepository) Wallet {
	return &WalletService{repo: repo}
}

func (s *WalletService) GetWalletByID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	const op = "service.GetWalletByID"

	wallet, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return wallet, nil
}

func (s *WalletService) GetUserBalance(ctx context.Context, userID uuid.UUID) (*models.UserBalanceResponse, error) {
	const op = "service.GetUserBalance"

	wallet, err := s.repo.GetByUserAndCurrency(ctx, userID, models.CurrencySettlement)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.UserBalanceResponse{
		Currency: wallet.Currency,
		Balance:  models.AmountFromMinorUnits(wallet.Balance),
	}, nil
}
