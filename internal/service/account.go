package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// AccountService manages the per-user funds pool
type AccountService struct {
	store repository.Store
	log   *logrus.Logger
}

// NewAccountService initializes a new account service
func NewAccountService(store repository.Store, log *logrus.Logger) *AccountService {
	return &AccountService{store: store, log: log}
}

// CreateAccount opens an empty account for the caller
func (s *AccountService) CreateAccount(ctx context.Context, callerID uuid.UUID) (*models.AccountView, error) {
	var account *models.Account
	err := s.store.Do(ctx, func(tx repository.Store) error {
		if _, err := tx.Users().FindByID(ctx, callerID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("user %s: %w", callerID, ErrOwnerNotFound)
			}
			return err
		}

		_, err := tx.Accounts().FindByUser(ctx, callerID)
		if err == nil {
			return fmt.Errorf("user %s: %w", callerID, ErrAccountExists)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		account = &models.Account{ID: uuid.New(), UserID: callerID, Balance: decimal.Zero}
		if err := tx.Accounts().Save(ctx, account); err != nil {
			if errors.Is(err, repository.ErrConstraint) {
				return fmt.Errorf("user %s: %w", callerID, ErrAccountExists)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"account_id": account.ID, "user_id": callerID}).Info("Account created")
	view := account.View()
	return &view, nil
}

// GetBalance returns the balance of the caller's account
func (s *AccountService) GetBalance(ctx context.Context, callerID uuid.UUID) (decimal.Decimal, error) {
	account, err := s.store.Accounts().FindByUser(ctx, callerID)
	if errors.Is(err, repository.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("user %s: %w", callerID, ErrAccountNotFound)
	}
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

// DeleteAccount removes an account and every card issued on it
func (s *AccountService) DeleteAccount(ctx context.Context, accountID uuid.UUID) error {
	err := s.store.Do(ctx, func(tx repository.Store) error {
		exists, err := tx.Accounts().Exists(ctx, accountID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("account %s: %w", accountID, ErrAccountNotFound)
		}
		return tx.Accounts().Delete(ctx, accountID)
	})
	if err != nil {
		return err
	}

	s.log.WithField("account_id", accountID).Info("Account deleted")
	return nil
}
