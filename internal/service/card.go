package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/Dan9191/bank-cards/internal/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DefaultCardValidityYears is how long a new card stays valid
const DefaultCardValidityYears = 3

// maxIssueAttempts bounds how often CreateCard regenerates a number that
// collided with an existing card
const maxIssueAttempts = 5

// CardService handles the card lifecycle: issue, list, block and balance
type CardService struct {
	store         repository.Store
	codec         *utils.CardCodec
	log           *logrus.Logger
	validityYears int
	now           func() time.Time
}

// NewCardService initializes a new card service
func NewCardService(store repository.Store, codec *utils.CardCodec, log *logrus.Logger, validityYears int) *CardService {
	if validityYears <= 0 {
		validityYears = DefaultCardValidityYears
	}
	return &CardService{store: store, codec: codec, log: log, validityYears: validityYears, now: utcNow}
}

// CreateCard issues a new card on the caller's account.
// The first active card of an account takes the whole account balance;
// any further card starts empty.
func (s *CardService) CreateCard(ctx context.Context, callerID uuid.UUID) (*models.CardView, error) {
	viewer, err := s.viewer(ctx, callerID)
	if err != nil {
		return nil, err
	}

	var card *models.Card
	for attempt := 1; ; attempt++ {
		card, err = s.issue(ctx, callerID)
		if err == nil || !errors.Is(err, repository.ErrConstraint) || attempt == maxIssueAttempts {
			break
		}
		s.log.WithError(err).WithFields(logrus.Fields{"user_id": callerID, "attempt": attempt}).Warn("Card number collision, retrying")
	}
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"card_id":    card.ID,
		"account_id": card.AccountID,
		"user_id":    callerID,
	}).Info("Card created")

	view, err := s.toView(card, viewer)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// issue creates one card in its own unit of work. A failed insert aborts the
// whole transaction, so retries start over from here.
func (s *CardService) issue(ctx context.Context, callerID uuid.UUID) (*models.Card, error) {
	var card *models.Card
	err := s.store.Do(ctx, func(tx repository.Store) error {
		account, err := tx.Accounts().FindByUser(ctx, callerID)
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("no account for user %s: %w", callerID, ErrOwnerNotFound)
		}
		if err != nil {
			return err
		}
		// lock the account so concurrent issues see each other's cards
		if account, err = tx.Accounts().FindByIDForUpdate(ctx, account.ID); err != nil {
			return err
		}

		active, err := hasActive(ctx, tx, account.ID)
		if err != nil {
			return err
		}

		number, err := s.codec.Generate()
		if err != nil {
			return fmt.Errorf("failed to generate card number: %w", err)
		}
		encrypted, err := s.codec.Encrypt(number)
		if err != nil {
			return fmt.Errorf("failed to encrypt card number: %w", err)
		}

		expiration := models.DateOf(s.now()).AddDate(s.validityYears, 0, 0)
		balance := decimal.Zero
		if !active {
			balance = account.Balance
		}

		card = &models.Card{
			ID:              uuid.New(),
			AccountID:       account.ID,
			UserID:          account.UserID,
			EncryptedNumber: encrypted,
			ExpirationDate:  &expiration,
			Status:          models.CardStatusActive,
			Balance:         balance,
		}
		return tx.Cards().Save(ctx, card)
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}

// ListCards returns the caller's cards. A caller without an account or
// without cards gets an empty slice.
func (s *CardService) ListCards(ctx context.Context, callerID uuid.UUID) ([]models.CardView, error) {
	viewer, err := s.viewer(ctx, callerID)
	if err != nil {
		return nil, err
	}

	account, err := s.store.Accounts().FindByUser(ctx, callerID)
	if errors.Is(err, repository.ErrNotFound) {
		return []models.CardView{}, nil
	}
	if err != nil {
		return nil, err
	}

	cards, err := s.store.Cards().FindByAccount(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	return s.toViews(cards, viewer)
}

// ListAllCards returns every card in the system rendered for the caller
func (s *CardService) ListAllCards(ctx context.Context, callerID uuid.UUID) ([]models.CardView, error) {
	viewer, err := s.viewer(ctx, callerID)
	if err != nil {
		return nil, err
	}
	cards, err := s.store.Cards().FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return s.toViews(cards, viewer)
}

// BlockCard moves a card to BLOCKED. Blocking a card that is already blocked
// or expired succeeds without changing it.
func (s *CardService) BlockCard(ctx context.Context, cardID uuid.UUID) error {
	return s.store.Do(ctx, func(tx repository.Store) error {
		card, err := tx.Cards().FindByIDForUpdate(ctx, cardID)
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("card %s: %w", cardID, ErrCardNotFound)
		}
		if err != nil {
			return err
		}

		if !card.IsActive() {
			s.log.WithFields(logrus.Fields{"card_id": cardID, "status": card.Status}).Debug("Card already inactive, block skipped")
			return nil
		}

		card.Block()
		if err := tx.Cards().Save(ctx, card); err != nil {
			return err
		}
		s.log.WithField("card_id", cardID).Info("Card blocked")
		return nil
	})
}

// GetBalance returns a card's balance to its owner
func (s *CardService) GetBalance(ctx context.Context, cardID, callerID uuid.UUID) (decimal.Decimal, error) {
	card, err := s.store.Cards().FindByID(ctx, cardID)
	if errors.Is(err, repository.ErrNotFound) {
		return decimal.Zero, fmt.Errorf("card %s: %w", cardID, ErrCardNotFound)
	}
	if err != nil {
		return decimal.Zero, err
	}
	if card.UserID != callerID {
		s.log.WithFields(logrus.Fields{"card_id": cardID, "user_id": callerID}).Warn("Balance requested by non-owner")
		return decimal.Zero, fmt.Errorf("card %s: %w", cardID, ErrAccessDenied)
	}
	return card.Balance, nil
}

// HasActiveCard reports whether any card of the account is ACTIVE
func (s *CardService) HasActiveCard(ctx context.Context, accountID uuid.UUID) (bool, error) {
	return hasActive(ctx, s.store, accountID)
}

func hasActive(ctx context.Context, store repository.Store, accountID uuid.UUID) (bool, error) {
	cards, err := store.Cards().FindByAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	for _, c := range cards {
		if c.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

func (s *CardService) viewer(ctx context.Context, callerID uuid.UUID) (*models.User, error) {
	user, err := s.store.Users().FindByID(ctx, callerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("user %s: %w", callerID, ErrOwnerNotFound)
	}
	return user, err
}

// toView decrypts the card number. Administrators get the masked form,
// regular users the full number.
func (s *CardService) toView(card *models.Card, viewer *models.User) (models.CardView, error) {
	number, err := s.codec.Decrypt(card.EncryptedNumber)
	if err != nil {
		s.log.WithError(err).WithField("card_id", card.ID).Error("Failed to decrypt card number")
		return models.CardView{}, fmt.Errorf("card %s: %w", card.ID, err)
	}
	if viewer.IsAdmin() {
		if number, err = utils.MaskCardNumber(number); err != nil {
			s.log.WithError(err).WithField("card_id", card.ID).Error("Failed to mask card number")
			return models.CardView{}, fmt.Errorf("card %s: %w", card.ID, err)
		}
	}
	return models.CardView{
		ID:             card.ID,
		Number:         number,
		OwnerID:        card.UserID,
		ExpirationDate: card.ExpirationDate,
		Balance:        card.Balance,
		Status:         card.Status,
	}, nil
}

func (s *CardService) toViews(cards []*models.Card, viewer *models.User) ([]models.CardView, error) {
	views := make([]models.CardView, 0, len(cards))
	for _, c := range cards {
		v, err := s.toView(c, viewer)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}
