package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/Dan9191/bank-cards/internal/utils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCardService(f *fixture) *CardService {
	s := NewCardService(f.store, f.codec, f.log, 0)
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestCreateCard_FirstCardTakesAccountBalance(t *testing.T) {
	f := newFixture(t)
	owner := f.user(models.RoleUser)
	acc := f.account(owner, "250.50")
	svc := newCardService(f)

	first, err := svc.CreateCard(f.ctx, owner.ID)
	require.NoError(t, err)
	assert.True(t, first.Balance.Equal(dec("250.50")))
	assert.Equal(t, models.CardStatusActive, first.Status)
	assert.Equal(t, owner.ID, first.OwnerID)
	require.NotNil(t, first.ExpirationDate)
	assert.True(t, time.Date(2029, 3, 15, 0, 0, 0, 0, time.UTC).Equal(*first.ExpirationDate))

	// user callers see the full number
	assert.Len(t, first.Number, utils.CardNumberLength)
	assert.True(t, strings.HasPrefix(first.Number, utils.DefaultBIN))
	assert.True(t, utils.ValidLuhn(first.Number))

	second, err := svc.CreateCard(f.ctx, owner.ID)
	require.NoError(t, err)
	assert.True(t, second.Balance.IsZero())
	assert.NotEqual(t, first.Number, second.Number)

	stored, err := f.store.Cards().FindByAccount(f.ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.NotContains(t, stored[0].EncryptedNumber, first.Number)
}

func TestCreateCard_AfterBlockTakesBalanceAgain(t *testing.T) {
	f := newFixture(t)
	owner := f.user(models.RoleUser)
	f.account(owner, "40")
	svc := newCardService(f)

	first, err := svc.CreateCard(f.ctx, owner.ID)
	require.NoError(t, err)
	require.NoError(t, svc.BlockCard(f.ctx, first.ID))

	second, err := svc.CreateCard(f.ctx, owner.ID)
	require.NoError(t, err)
	assert.True(t, second.Balance.Equal(dec("40")))
}

func TestCreateCard_Errors(t *testing.T) {
	f := newFixture(t)
	svc := newCardService(f)

	_, err := svc.CreateCard(f.ctx, uuid.New())
	assert.ErrorIs(t, err, ErrOwnerNotFound)

	noAccount := f.user(models.RoleUser)
	_, err = svc.CreateCard(f.ctx, noAccount.ID)
	assert.ErrorIs(t, err, ErrOwnerNotFound)
}

func TestCreateCard_ConcurrentOnlyOneTakesBalance(t *testing.T) {
	f := newFixture(t)
	owner := f.user(models.RoleUser)
	f.account(owner, "100")
	svc := newCardService(f)

	var wg sync.WaitGroup
	views := make([]*models.CardView, 10)
	for i := range views {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := svc.CreateCard(context.Background(), owner.ID)
			assert.NoError(t, err)
			views[i] = v
		}(i)
	}
	wg.Wait()

	funded := 0
	for _, v := range views {
		require.NotNil(t, v)
		if !v.Balance.IsZero() {
			funded++
		}
	}
	assert.Equal(t, 1, funded)
}

func TestListCards_MaskingByRole(t *testing.T) {
	f := newFixture(t)
	owner := f.user(models.RoleUser)
	admin := f.user(models.RoleAdmin)
	acc := f.account(owner, "10")
	c := f.card(acc, models.CardStatusActive, "10", nil)
	number, err := f.codec.Decrypt(c.EncryptedNumber)
	require.NoError(t, err)
	svc := newCardService(f)

	own, err := svc.ListCards(f.ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, number, own[0].Number)

	all, err := svc.ListAllCards(f.ctx, admin.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "**** **** **** "+number[12:], all[0].Number)
	assert.Equal(t, owner.ID, all[0].OwnerID)
}

func TestListCards_Ordering(t *testing.T) {
	f := newFixture(t)
	owner := f.user(models.RoleUser)
	acc := f.account(owner, "0")
	c1 := f.card(acc, models.CardStatusActive, "0", nil)
	c2 := f.card(acc, models.CardStatusBlocked, "0", nil)
	c3 := f.card(acc, models.CardStatusExpired, "0", nil)

	views, err := newCardService(f).ListCards(f.ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, views, 3)
	assert.Equal(t, []uuid.UUID{c1.ID, c2.ID, c3.ID}, []uuid.UUID{views[0].ID, views[1].ID, views[2].ID})
}

func TestListCards_Empty(t *testing.T) {
	f := newFixture(t)
	svc := newCardService(f)

	noAccount := f.user(models.RoleUser)
	views, err := svc.ListCards(f.ctx, noAccount.ID)
	require.NoError(t, err)
	assert.NotNil(t, views)
	assert.Empty(t, views)

	withAccount := f.user(models.RoleUser)
	f.account(withAccount, "0")
	views, err = svc.ListCards(f.ctx, withAccount.ID)
	require.NoError(t, err)
	assert.Empty(t, views)

	_, err = svc.ListCards(f.ctx, uuid.New())
	assert.ErrorIs(t, err, ErrOwnerNotFound)
}

func TestListCards_CodecFailure(t *testing.T) {
	f := newFixture(t)
	owner := f.user(models.RoleUser)
	acc := f.account(owner, "0")
	c := f.card(acc, models.CardStatusActive, "0", nil)
	c.EncryptedNumber = "not-a-ciphertext"
	require.NoError(t, f.store.Cards().Save(f.ctx, c))

	_, err := newCardService(f).ListCards(f.ctx, owner.ID)
	assert.ErrorIs(t, err, utils.ErrCodecFailure)
}

func TestBlockCard(t *testing.T) {
	f := newFixture(t)
	owner := f.user(models.RoleUser)
	acc := f.account(owner, "0")
	active := f.card(acc, models.CardStatusActive, "5", nil)
	expired := f.card(acc, models.CardStatusExpired, "0", nil)
	svc := newCardService(f)

	require.NoError(t, svc.BlockCard(f.ctx, active.ID))
	assert.Equal(t, models.CardStatusBlocked, f.reloadCard(active.ID).Status)
	assert.True(t, f.reloadCard(active.ID).Balance.Equal(dec("5")))

	// repeated block is a no-op
	require.NoError(t, svc.BlockCard(f.ctx, active.ID))
	assert.Equal(t, models.CardStatusBlocked, f.reloadCard(active.ID).Status)

	require.NoError(t, svc.BlockCard(f.ctx, expired.ID))
	assert.Equal(t, models.CardStatusExpired, f.reloadCard(expired.ID).Status)

	assert.ErrorIs(t, svc.BlockCard(f.ctx, uuid.New()), ErrCardNotFound)
}

func TestCardGetBalance(t *testing.T) {
	f := newFixture(t)
	owner := f.user(models.RoleUser)
	other := f.user(models.RoleUser)
	acc := f.account(owner, "0")
	c := f.card(acc, models.CardStatusBlocked, "77.70", nil)
	svc := newCardService(f)

	bal, err := svc.GetBalance(f.ctx, c.ID, owner.ID)
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("77.7")))

	_, err = svc.GetBalance(f.ctx, c.ID, other.ID)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = svc.GetBalance(f.ctx, uuid.New(), owner.ID)
	assert.ErrorIs(t, err, ErrCardNotFound)
}

func TestHasActiveCard(t *testing.T) {
	f := newFixture(t)
	owner := f.user(models.RoleUser)
	acc := f.account(owner, "0")
	svc := newCardService(f)

	ok, err := svc.HasActiveCard(f.ctx, acc.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	f.card(acc, models.CardStatusBlocked, "0", nil)
	ok, err = svc.HasActiveCard(f.ctx, acc.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	f.card(acc, models.CardStatusActive, "0", nil)
	ok, err = svc.HasActiveCard(f.ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

// zeroReader yields zero bytes and counts how many it handed out
type zeroReader struct{ n int }

func (z *zeroReader) Read(p []byte) (int, error) {
	clear(p)
	z.n += len(p)
	return len(p), nil
}

// issueTaken stores a card carrying the number a zero-fed codec generates
// first and returns how many random bytes that generation consumed
func issueTaken(t *testing.T, f *fixture, acc models.Account) (string, int) {
	t.Helper()
	z := &zeroReader{}
	codec, err := utils.NewCardCodec([]byte("0123456789abcdef0123456789abcdef"), "", z)
	require.NoError(t, err)
	number, err := codec.Generate()
	require.NoError(t, err)
	encrypted, err := f.codec.Encrypt(number)
	require.NoError(t, err)
	require.NoError(t, f.store.Cards().Save(f.ctx, &models.Card{
		ID: uuid.New(), AccountID: acc.ID, UserID: acc.UserID, EncryptedNumber: encrypted, Status: models.CardStatusBlocked,
	}))
	return number, z.n
}

func TestCreateCard_RetriesOnNumberCollision(t *testing.T) {
	f := newFixture(t)
	owner := f.user(models.RoleUser)
	acc := f.account(owner, "0")
	taken, used := issueTaken(t, f, acc)

	// first generation repeats the taken number, later ones are random
	rnd := io.MultiReader(bytes.NewReader(make([]byte, used)), rand.Reader)
	codec, err := utils.NewCardCodec([]byte("0123456789abcdef0123456789abcdef"), "", rnd)
	require.NoError(t, err)
	svc := NewCardService(f.store, codec, f.log, 0)

	card, err := svc.CreateCard(f.ctx, owner.ID)
	require.NoError(t, err)
	assert.NotEqual(t, taken, card.Number)
	assert.True(t, utils.ValidLuhn(card.Number))

	cards, err := f.store.Cards().FindByAccount(f.ctx, acc.ID)
	require.NoError(t, err)
	assert.Len(t, cards, 2)
}

func TestCreateCard_GivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newFixture(t)
	owner := f.user(models.RoleUser)
	acc := f.account(owner, "0")
	issueTaken(t, f, acc)

	codec, err := utils.NewCardCodec([]byte("0123456789abcdef0123456789abcdef"), "", &zeroReader{})
	require.NoError(t, err)
	svc := NewCardService(f.store, codec, f.log, 0)

	_, err = svc.CreateCard(f.ctx, owner.ID)
	assert.ErrorIs(t, err, repository.ErrConstraint)

	cards, err := f.store.Cards().FindByAccount(f.ctx, acc.ID)
	require.NoError(t, err)
	assert.Len(t, cards, 1)
}
