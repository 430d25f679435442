package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// TransferService moves money between cards or between accounts.
// Every transfer runs as one unit of work: all rows it reads are locked, all
// checks happen under those locks, and either every balance change is
// committed or none is.
type TransferService struct {
	store repository.Store
	log   *logrus.Logger
	now   func() time.Time
}

// NewTransferService initializes a new transfer service
func NewTransferService(store repository.Store, log *logrus.Logger) *TransferService {
	return &TransferService{store: store, log: log, now: utcNow}
}

// Transfer moves an amount between two cards of the caller.
// Checks run in order: amount, existence, ownership of both cards, card
// status, sufficient source balance.
func (s *TransferService) Transfer(ctx context.Context, req models.TransferRequest, callerID uuid.UUID) (*models.TransferResult, error) {
	amount, err := validateAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	if req.SourceID == req.DestinationID {
		return nil, ErrSameCard
	}

	var result *models.TransferResult
	err = s.store.Do(ctx, func(tx repository.Store) error {
		src, dst, err := lockCards(ctx, tx.Cards(), req.SourceID, req.DestinationID)
		if err != nil {
			return err
		}

		if src.UserID != callerID || dst.UserID != callerID {
			return ErrUnauthorizedAccess
		}
		if !src.IsActive() {
			return fmt.Errorf("source card %s is %s: %w", src.ID, src.Status, ErrCardInactive)
		}
		if !dst.IsActive() {
			return fmt.Errorf("destination card %s is %s: %w", dst.ID, dst.Status, ErrCardInactive)
		}
		if src.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}

		src.Balance = src.Balance.Sub(amount)
		dst.Balance = dst.Balance.Add(amount)

		if err := tx.Cards().Save(ctx, src); err != nil {
			return err
		}
		if err := tx.Cards().Save(ctx, dst); err != nil {
			return err
		}

		result = &models.TransferResult{
			SourceID:      src.ID,
			DestinationID: dst.ID,
			Amount:        amount,
			Timestamp:     s.now(),
			Status:        models.TransferStatusSuccess,
		}
		return nil
	})
	if err != nil {
		s.logFailure(req, callerID, err)
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"from_card": result.SourceID,
		"to_card":   result.DestinationID,
		"amount":    result.Amount.StringFixed(2),
		"user_id":   callerID,
	}).Info("Card transfer completed")
	return result, nil
}

// TransferBetweenAccounts moves an amount from the caller's account to
// another account. The debit is drained from the source account's active
// cards in creation order; the first active card of the destination account
// receives the whole amount.
func (s *TransferService) TransferBetweenAccounts(ctx context.Context, req models.TransferRequest, callerID uuid.UUID) (*models.TransferResult, error) {
	amount, err := validateAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	if req.SourceID == req.DestinationID {
		return nil, ErrSameAccount
	}

	var result *models.TransferResult
	err = s.store.Do(ctx, func(tx repository.Store) error {
		src, dst, err := lockAccounts(ctx, tx.Accounts(), req.SourceID, req.DestinationID)
		if err != nil {
			return err
		}
		if src.UserID != callerID {
			return ErrUnauthorizedAccess
		}

		srcCards, dstCards, err := lockAccountCards(ctx, tx.Cards(), src.ID, dst.ID)
		if err != nil {
			return err
		}
		srcActive := activeCards(srcCards)
		if len(srcActive) == 0 {
			return fmt.Errorf("source account %s has no active card: %w", src.ID, ErrCardInactive)
		}
		dstActive := activeCards(dstCards)
		if len(dstActive) == 0 {
			return fmt.Errorf("destination account %s has no active card: %w", dst.ID, ErrCardInactive)
		}

		available := decimal.Zero
		for _, c := range srcActive {
			available = available.Add(c.Balance)
		}
		if src.Balance.LessThan(amount) || available.LessThan(amount) {
			return ErrInsufficientFunds
		}

		debited := drain(srcActive, amount)
		credited := dstActive[0]
		credited.Balance = credited.Balance.Add(amount)
		src.Balance = src.Balance.Sub(amount)
		dst.Balance = dst.Balance.Add(amount)

		for _, c := range append(debited, credited) {
			if err := tx.Cards().Save(ctx, c); err != nil {
				return err
			}
		}
		if err := tx.Accounts().Save(ctx, src); err != nil {
			return err
		}
		if err := tx.Accounts().Save(ctx, dst); err != nil {
			return err
		}

		result = &models.TransferResult{
			SourceID:      src.ID,
			DestinationID: dst.ID,
			Amount:        amount,
			Timestamp:     s.now(),
			Status:        models.TransferStatusSuccess,
		}
		return nil
	})
	if err != nil {
		s.logFailure(req, callerID, err)
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"from_account": result.SourceID,
		"to_account":   result.DestinationID,
		"amount":       result.Amount.StringFixed(2),
		"user_id":      callerID,
	}).Info("Account transfer completed")
	return result, nil
}

// validateAmount accepts positive amounts with at most two decimal places
func validateAmount(amount decimal.NullDecimal) (decimal.Decimal, error) {
	if !amount.Valid || !amount.Decimal.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	if !amount.Decimal.Equal(amount.Decimal.Round(2)) {
		return decimal.Zero, fmt.Errorf("amount %s has more than two decimal places: %w", amount.Decimal, ErrInvalidAmount)
	}
	return amount.Decimal, nil
}

// drain takes amount out of cards in order, emptying each card before moving
// to the next. It returns the cards it changed. The caller guarantees the
// cards hold at least amount in total.
func drain(cards []*models.Card, amount decimal.Decimal) []*models.Card {
	remaining := amount
	var touched []*models.Card
	for _, c := range cards {
		if !remaining.IsPositive() {
			break
		}
		if !c.Balance.IsPositive() {
			continue
		}
		take := decimal.Min(c.Balance, remaining)
		c.Balance = c.Balance.Sub(take)
		remaining = remaining.Sub(take)
		touched = append(touched, c)
	}
	return touched
}

func activeCards(cards []*models.Card) []*models.Card {
	var out []*models.Card
	for _, c := range cards {
		if c.IsActive() {
			out = append(out, c)
		}
	}
	return out
}

// lockCards loads both cards for update, always locking the lower id first.
// Account transfers lock cards in the same id order, so no pair of
// transfers can deadlock.
func lockCards(ctx context.Context, repo repository.CardRepository, srcID, dstID uuid.UUID) (*models.Card, *models.Card, error) {
	load := func(id uuid.UUID, role string) (*models.Card, error) {
		card, err := repo.FindByIDForUpdate(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s card %s: %w", role, id, ErrCardNotFound)
		}
		return card, err
	}

	if srcID.String() < dstID.String() {
		src, err := load(srcID, "source")
		if err != nil {
			return nil, nil, err
		}
		dst, err := load(dstID, "destination")
		return src, dst, err
	}
	dst, err := load(dstID, "destination")
	if err != nil {
		return nil, nil, err
	}
	src, err := load(srcID, "source")
	return src, dst, err
}

// lockAccounts loads both accounts for update in id order
func lockAccounts(ctx context.Context, repo repository.AccountRepository, srcID, dstID uuid.UUID) (*models.Account, *models.Account, error) {
	load := func(id uuid.UUID, role string) (*models.Account, error) {
		account, err := repo.FindByIDForUpdate(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s account %s: %w", role, id, ErrAccountNotFound)
		}
		return account, err
	}

	if srcID.String() < dstID.String() {
		src, err := load(srcID, "source")
		if err != nil {
			return nil, nil, err
		}
		dst, err := load(dstID, "destination")
		return src, dst, err
	}
	dst, err := load(dstID, "destination")
	if err != nil {
		return nil, nil, err
	}
	src, err := load(srcID, "source")
	return src, dst, err
}

// lockAccountCards locks the cards of both accounts in account id order
func lockAccountCards(ctx context.Context, repo repository.CardRepository, srcID, dstID uuid.UUID) ([]*models.Card, []*models.Card, error) {
	first, second := srcID, dstID
	if dstID.String() < srcID.String() {
		first, second = dstID, srcID
	}
	a, err := repo.FindByAccountForUpdate(ctx, first)
	if err != nil {
		return nil, nil, err
	}
	b, err := repo.FindByAccountForUpdate(ctx, second)
	if err != nil {
		return nil, nil, err
	}
	if first == srcID {
		return a, b, nil
	}
	return b, a, nil
}

func (s *TransferService) logFailure(req models.TransferRequest, callerID uuid.UUID, err error) {
	entry := s.log.WithError(err).WithFields(logrus.Fields{
		"from_id": req.SourceID,
		"to_id":   req.DestinationID,
		"user_id": callerID,
	})
	switch {
	case errors.Is(err, ErrCardNotFound), errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrUnauthorizedAccess), errors.Is(err, ErrCardInactive),
		errors.Is(err, ErrInsufficientFunds):
		entry.Warn("Transfer rejected")
	default:
		entry.Error("Transfer failed")
	}
}
