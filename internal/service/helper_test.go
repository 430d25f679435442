package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/Dan9191/bank-cards/internal/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *repository.MemoryStore
	codec *utils.CardCodec
	log   *logrus.Logger
	seq   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	codec, err := utils.NewCardCodec([]byte("0123456789abcdef0123456789abcdef"), "", nil)
	require.NoError(t, err)
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &fixture{t: t, ctx: context.Background(), store: repository.NewMemoryStore(), codec: codec, log: log}
}

func (f *fixture) user(role models.Role) models.User {
	u := models.User{ID: uuid.New(), Username: "u-" + uuid.NewString()[:8], Role: role}
	f.store.SeedUser(u)
	return u
}

func (f *fixture) account(owner models.User, balance string) models.Account {
	f.t.Helper()
	a := models.Account{ID: uuid.New(), UserID: owner.ID, Balance: decimal.RequireFromString(balance)}
	require.NoError(f.t, f.store.Accounts().Save(f.ctx, &a))
	return a
}

// card stores a card directly. Cards added later sort after earlier ones.
func (f *fixture) card(account models.Account, status models.CardStatus, balance string, expiration *time.Time) *models.Card {
	f.t.Helper()
	number, err := f.codec.Generate()
	require.NoError(f.t, err)
	encrypted, err := f.codec.Encrypt(number)
	require.NoError(f.t, err)
	f.seq++
	c := &models.Card{
		ID:              uuid.New(),
		AccountID:       account.ID,
		UserID:          account.UserID,
		EncryptedNumber: encrypted,
		ExpirationDate:  expiration,
		Status:          status,
		Balance:         decimal.RequireFromString(balance),
		CreatedAt:       fixedNow.Add(time.Duration(f.seq) * time.Minute),
	}
	require.NoError(f.t, f.store.Cards().Save(f.ctx, c))
	return c
}

func (f *fixture) reloadCard(id uuid.UUID) *models.Card {
	f.t.Helper()
	c, err := f.store.Cards().FindByID(f.ctx, id)
	require.NoError(f.t, err)
	return c
}

func (f *fixture) reloadAccount(id uuid.UUID) *models.Account {
	f.t.Helper()
	a, err := f.store.Accounts().FindByID(f.ctx, id)
	require.NoError(f.t, err)
	return a
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func amount(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func datePtr(t time.Time) *time.Time {
	return &t
}
