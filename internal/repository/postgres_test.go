package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cardCols = []string{"id", "account_id", "user_id", "card_number", "expiration_date", "status", "balance", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db, sql.LevelReadCommitted), mock
}

func TestPostgresStore_FindCardForUpdate(t *testing.T) {
	store, mock := newMockStore(t)
	id, accountID, userID := uuid.New(), uuid.New(), uuid.New()
	expiry := time.Date(2028, 5, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM bank.cards WHERE id = $1 FOR UPDATE`)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(cardCols).
			AddRow(id.String(), accountID.String(), userID.String(), "abcdef", expiry, "ACTIVE", "1000.50", now, now))

	card, err := store.Cards().FindByIDForUpdate(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, card.ID)
	assert.Equal(t, accountID, card.AccountID)
	assert.Equal(t, userID, card.UserID)
	assert.Equal(t, models.CardStatusActive, card.Status)
	assert.True(t, card.Balance.Equal(decimal.RequireFromString("1000.50")))
	require.NotNil(t, card.ExpirationDate)
	assert.True(t, card.ExpirationDate.Equal(expiry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindCardNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM bank.cards WHERE id = $1`)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(cardCols))

	_, err := store.Cards().FindByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindCardUnknownStatus(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM bank.cards WHERE id = $1`)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(cardCols).
			AddRow(id.String(), uuid.NewString(), uuid.NewString(), "abcdef", nil, "LOST", "0", now, now))

	_, err := store.Cards().FindByID(context.Background(), id)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_FindByStatusNullExpiration(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM bank.cards WHERE status = $1 ORDER BY created_at, id`)).
		WithArgs("ACTIVE").
		WillReturnRows(sqlmock.NewRows(cardCols).
			AddRow(uuid.NewString(), uuid.NewString(), uuid.NewString(), "a1", nil, "ACTIVE", "0", now, now).
			AddRow(uuid.NewString(), uuid.NewString(), uuid.NewString(), "a2", now, "ACTIVE", "12.00", now, now))

	cards, err := store.Cards().FindByStatus(context.Background(), models.CardStatusActive)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Nil(t, cards[0].ExpirationDate)
	assert.NotNil(t, cards[1].ExpirationDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindByAccountForUpdateLocksInIDOrder(t *testing.T) {
	store, mock := newMockStore(t)
	accountID, userID := uuid.New(), uuid.New()
	low := uuid.MustParse("00000000-0000-4000-8000-000000000001")
	high := uuid.MustParse("ffffffff-0000-4000-8000-000000000001")
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	// the lower id was issued later; rows come back in lock order
	mock.ExpectQuery(regexp.QuoteMeta(`FROM bank.cards WHERE account_id = $1 ORDER BY id FOR UPDATE`)).
		WithArgs(accountID).
		WillReturnRows(sqlmock.NewRows(cardCols).
			AddRow(low.String(), accountID.String(), userID.String(), "c1", nil, "ACTIVE", "1", newer, newer).
			AddRow(high.String(), accountID.String(), userID.String(), "c2", nil, "ACTIVE", "2", older, older))

	cards, err := store.Cards().FindByAccountForUpdate(context.Background(), accountID)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, high, cards[0].ID)
	assert.Equal(t, low, cards[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveCard(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	card := &models.Card{
		ID:              uuid.New(),
		AccountID:       uuid.New(),
		UserID:          uuid.New(),
		EncryptedNumber: "cipher",
		Status:          models.CardStatusBlocked,
		Balance:         decimal.RequireFromString("5.25"),
	}

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO bank.cards`)).
		WithArgs(card.ID, card.AccountID, card.UserID, "cipher", nil, "BLOCKED", card.Balance).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	require.NoError(t, store.Cards().Save(context.Background(), card))
	assert.Equal(t, now, card.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveAccountCheckViolation(t *testing.T) {
	store, mock := newMockStore(t)
	account := &models.Account{ID: uuid.New(), UserID: uuid.New(), Balance: decimal.Zero}

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO bank.accounts`)).
		WithArgs(account.ID, account.UserID, account.Balance).
		WillReturnError(&pq.Error{Code: "23514", Message: "balance check"})

	err := store.Accounts().Save(context.Background(), account)
	assert.ErrorIs(t, err, ErrConstraint)
}

func TestPostgresStore_DeleteAccount(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM bank.accounts WHERE id = $1`)).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM bank.accounts WHERE id = $1`)).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Accounts().Delete(context.Background(), id))
	assert.ErrorIs(t, store.Accounts().Delete(context.Background(), id), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AccountExistsAndFindByUser(t *testing.T) {
	store, mock := newMockStore(t)
	id, userID := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM bank.accounts WHERE id = $1)`)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM bank.accounts WHERE user_id = $1`)).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "balance", "created_at", "updated_at"}).
			AddRow(id.String(), userID.String(), "300.00", now, now))

	exists, err := store.Accounts().Exists(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, exists)

	account, err := store.Accounts().FindByUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, id, account.ID)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(300)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindUser(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM bank.users`)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash", "first_name", "second_name", "middle_name", "birth_date", "role", "created_at"}).
			AddRow(id.String(), "admin", "hash", "Ivan", "Ivanov", "Ivanovich", nil, "ADMIN", now))

	user, err := store.Users().FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, user.IsAdmin())
	assert.Nil(t, user.BirthDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DoCommit(t *testing.T) {
	store, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM bank.accounts`)).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Do(context.Background(), func(tx Store) error {
		return tx.Accounts().Delete(context.Background(), id)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DoRollback(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	nested := false
	err := store.Do(context.Background(), func(tx Store) error {
		return tx.Do(context.Background(), func(inner Store) error {
			nested = true
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)
	assert.True(t, nested)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DoBeginFails(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	err := store.Do(context.Background(), func(Store) error { return nil })
	assert.ErrorContains(t, err, "failed to begin transaction")
}
