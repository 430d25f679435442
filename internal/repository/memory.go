package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/google/uuid"
)

// ErrConstraint is returned when a write would break a storage constraint
var ErrConstraint = errors.New("constraint violation")

type memState struct {
	users    map[uuid.UUID]models.User
	accounts map[uuid.UUID]models.Account
	cards    map[uuid.UUID]models.Card
}

func (s *memState) clone() *memState {
	c := &memState{
		users:    make(map[uuid.UUID]models.User, len(s.users)),
		accounts: make(map[uuid.UUID]models.Account, len(s.accounts)),
		cards:    make(map[uuid.UUID]models.Card, len(s.cards)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.cards {
		c.cards[k] = v
	}
	return c
}

// MemoryStore keeps everything in process memory. A single mutex serializes
// units of work; each one runs against a private copy of the state that
// replaces the shared state only when the work succeeds.
type MemoryStore struct {
	mu    *sync.Mutex
	state *memState
	inTx  bool
}

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu: &sync.Mutex{},
		state: &memState{
			users:    make(map[uuid.UUID]models.User),
			accounts: make(map[uuid.UUID]models.Account),
			cards:    make(map[uuid.UUID]models.Card),
		},
	}
}

// SeedUser registers a user. Users are created by the auth service, so the
// store offers no other way in.
func (s *MemoryStore) SeedUser(user models.User) {
	s.lock()
	defer s.unlock()
	s.state.users[user.ID] = user
}

func (s *MemoryStore) Cards() CardRepository       { return &memCards{s} }
func (s *MemoryStore) Accounts() AccountRepository { return &memAccounts{s} }
func (s *MemoryStore) Users() UserRepository       { return &memUsers{s} }

// Do implements Store
func (s *MemoryStore) Do(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &MemoryStore{mu: s.mu, state: s.state.clone(), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	*s.state = *tx.state
	return nil
}

func (s *MemoryStore) lock() {
	if !s.inTx {
		s.mu.Lock()
	}
}

func (s *MemoryStore) unlock() {
	if !s.inTx {
		s.mu.Unlock()
	}
}

type memUsers struct{ s *MemoryStore }

func (r *memUsers) FindByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	r.s.lock()
	defer r.s.unlock()
	u, ok := r.s.state.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

type memAccounts struct{ s *MemoryStore }

func (r *memAccounts) FindByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	r.s.lock()
	defer r.s.unlock()
	a, ok := r.s.state.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (r *memAccounts) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return r.FindByID(ctx, id)
}

func (r *memAccounts) FindByUser(_ context.Context, userID uuid.UUID) (*models.Account, error) {
	r.s.lock()
	defer r.s.unlock()
	for _, a := range r.s.state.accounts {
		if a.UserID == userID {
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memAccounts) Save(_ context.Context, account *models.Account) error {
	if account.Balance.IsNegative() {
		return fmt.Errorf("%w: account balance must be non-negative", ErrConstraint)
	}
	r.s.lock()
	defer r.s.unlock()
	if _, ok := r.s.state.users[account.UserID]; !ok {
		return fmt.Errorf("%w: unknown user %s", ErrConstraint, account.UserID)
	}
	for id, a := range r.s.state.accounts {
		if a.UserID == account.UserID && id != account.ID {
			return fmt.Errorf("%w: user %s already has an account", ErrConstraint, account.UserID)
		}
	}
	now := time.Now().UTC()
	if existing, ok := r.s.state.accounts[account.ID]; ok {
		account.CreatedAt = existing.CreatedAt
	} else if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now
	r.s.state.accounts[account.ID] = *account
	return nil
}

func (r *memAccounts) Delete(_ context.Context, id uuid.UUID) error {
	r.s.lock()
	defer r.s.unlock()
	if _, ok := r.s.state.accounts[id]; !ok {
		return ErrNotFound
	}
	delete(r.s.state.accounts, id)
	for cid, c := range r.s.state.cards {
		if c.AccountID == id {
			delete(r.s.state.cards, cid)
		}
	}
	return nil
}

func (r *memAccounts) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	r.s.lock()
	defer r.s.unlock()
	_, ok := r.s.state.accounts[id]
	return ok, nil
}

type memCards struct{ s *MemoryStore }

func (r *memCards) FindByID(_ context.Context, id uuid.UUID) (*models.Card, error) {
	r.s.lock()
	defer r.s.unlock()
	c, ok := r.s.state.cards[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyCard(c), nil
}

func (r *memCards) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Card, error) {
	return r.FindByID(ctx, id)
}

func (r *memCards) FindByAccount(_ context.Context, accountID uuid.UUID) ([]*models.Card, error) {
	return r.filter(func(c *models.Card) bool { return c.AccountID == accountID }), nil
}

func (r *memCards) FindByAccountForUpdate(ctx context.Context, accountID uuid.UUID) ([]*models.Card, error) {
	return r.FindByAccount(ctx, accountID)
}

func (r *memCards) FindByStatus(_ context.Context, status models.CardStatus) ([]*models.Card, error) {
	return r.filter(func(c *models.Card) bool { return c.Status == status }), nil
}

func (r *memCards) FindAll(_ context.Context) ([]*models.Card, error) {
	return r.filter(func(*models.Card) bool { return true }), nil
}

func (r *memCards) Save(_ context.Context, card *models.Card) error {
	if card.Balance.IsNegative() {
		return fmt.Errorf("%w: card balance must be non-negative", ErrConstraint)
	}
	r.s.lock()
	defer r.s.unlock()
	if _, ok := r.s.state.accounts[card.AccountID]; !ok {
		return fmt.Errorf("%w: unknown account %s", ErrConstraint, card.AccountID)
	}
	for id, c := range r.s.state.cards {
		if c.EncryptedNumber == card.EncryptedNumber && id != card.ID {
			return fmt.Errorf("%w: card number already issued", ErrConstraint)
		}
	}
	now := time.Now().UTC()
	if existing, ok := r.s.state.cards[card.ID]; ok {
		card.CreatedAt = existing.CreatedAt
	} else if card.CreatedAt.IsZero() {
		card.CreatedAt = now
	}
	card.UpdatedAt = now
	r.s.state.cards[card.ID] = *copyCard(*card)
	return nil
}

func (r *memCards) filter(keep func(*models.Card) bool) []*models.Card {
	r.s.lock()
	defer r.s.unlock()
	out := make([]*models.Card, 0)
	for _, c := range r.s.state.cards {
		cp := copyCard(c)
		if keep(cp) {
			out = append(out, cp)
		}
	}
	sortCards(out)
	return out
}

func copyCard(c models.Card) *models.Card {
	if c.ExpirationDate != nil {
		d := *c.ExpirationDate
		c.ExpirationDate = &d
	}
	return &c
}

func sortCards(cards []*models.Card) {
	sort.Slice(cards, func(i, j int) bool {
		if !cards[i].CreatedAt.Equal(cards[j].CreatedAt) {
			return cards[i].CreatedAt.Before(cards[j].CreatedAt)
		}
		return cards[i].ID.String() < cards[j].ID.String()
	})
}
