package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/sirupsen/logrus"
)

// ExpirationChecker moves ACTIVE cards past their expiration date to EXPIRED.
// Run is idempotent and is meant to be triggered on a schedule.
type ExpirationChecker struct {
	store repository.Store
	log   *logrus.Logger
	now   func() time.Time
}

// NewExpirationChecker initializes a new checker
func NewExpirationChecker(store repository.Store, log *logrus.Logger) *ExpirationChecker {
	return &ExpirationChecker{store: store, log: log, now: utcNow}
}

// Run expires every ACTIVE card whose expiration date is strictly before
// today and returns how many cards changed. Each card is re-checked under
// its row lock, so a card blocked or used concurrently is never overwritten.
// Failures on single cards do not stop the sweep; they are joined into the
// returned error.
func (c *ExpirationChecker) Run(ctx context.Context) (int, error) {
	today := models.DateOf(c.now())

	cards, err := c.store.Cards().FindByStatus(ctx, models.CardStatusActive)
	if err != nil {
		return 0, fmt.Errorf("failed to load active cards: %w", err)
	}

	var errs []error
	expired := 0
	for _, candidate := range cards {
		if !candidate.ExpiredOn(today) {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		changed := false
		err := c.store.Do(ctx, func(tx repository.Store) error {
			card, err := tx.Cards().FindByIDForUpdate(ctx, candidate.ID)
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if !card.Expire(today) {
				return nil
			}
			if err := tx.Cards().Save(ctx, card); err != nil {
				return err
			}
			changed = true
			return nil
		})
		if err != nil {
			c.log.WithError(err).WithField("card_id", candidate.ID).Error("Failed to expire card")
			errs = append(errs, fmt.Errorf("card %s: %w", candidate.ID, err))
			continue
		}
		if changed {
			expired++
			c.log.WithField("card_id", candidate.ID).Info("Card expired")
		}
	}

	c.log.WithFields(logrus.Fields{"checked": len(cards), "expired": expired}).Info("Expiration sweep finished")
	return expired, errors.Join(errs...)
}
