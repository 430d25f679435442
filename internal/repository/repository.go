package repository

import (
	"context"
	"errors"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/google/uuid"
)

// ErrNotFound is returned by lookups that match no row
var ErrNotFound = errors.New("not found")

// CardRepository provides card persistence
type CardRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Card, error)
	// FindByIDForUpdate locks the card until the surrounding unit of work ends
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Card, error)
	// FindByAccount returns the account's cards ordered by creation time, then id
	FindByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Card, error)
	// FindByAccountForUpdate locks the account's cards in ascending id order
	// and returns them ordered like FindByAccount
	FindByAccountForUpdate(ctx context.Context, accountID uuid.UUID) ([]*models.Card, error)
	FindByStatus(ctx context.Context, status models.CardStatus) ([]*models.Card, error)
	FindAll(ctx context.Context) ([]*models.Card, error)
	// Save inserts the card or updates its mutable fields
	Save(ctx context.Context, card *models.Card) error
}

// AccountRepository provides account persistence
type AccountRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Account, error)
	FindByUser(ctx context.Context, userID uuid.UUID) (*models.Account, error)
	Save(ctx context.Context, account *models.Account) error
	// Delete removes the account together with its cards
	Delete(ctx context.Context, id uuid.UUID) error
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}

// UserRepository gives read access to users owned by the auth service
type UserRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Store groups the repositories behind one transaction boundary.
// Do runs fn with a Store whose repositories share a single transaction;
// the transaction commits only if fn returns nil.
type Store interface {
	Cards() CardRepository
	Accounts() AccountRepository
	Users() UserRepository
	Do(ctx context.Context, fn func(tx Store) error) error
}
