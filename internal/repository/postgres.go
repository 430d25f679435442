package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore provides database operations on the bank schema.
// Balance and status rows touched by a unit of work are locked with
// SELECT ... FOR UPDATE through the *ForUpdate lookups.
type PostgresStore struct {
	db        *sql.DB
	q         querier
	isolation sql.IsolationLevel
	inTx      bool
}

// NewPostgresStore initializes a new store
func NewPostgresStore(db *sql.DB, isolation sql.IsolationLevel) *PostgresStore {
	return &PostgresStore{db: db, q: db, isolation: isolation}
}

func (s *PostgresStore) Cards() CardRepository       { return &pgCards{q: s.q} }
func (s *PostgresStore) Accounts() AccountRepository { return &pgAccounts{q: s.q} }
func (s *PostgresStore) Users() UserRepository       { return &pgUsers{q: s.q} }

// Do implements Store
func (s *PostgresStore) Do(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: s.isolation})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&PostgresStore{db: s.db, q: tx, isolation: s.isolation, inTx: true}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapPQError(err))
	}
	return nil
}

// mapPQError turns integrity violations (SQLSTATE class 23) into ErrConstraint
func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return fmt.Errorf("%w: %s", ErrConstraint, pqErr.Message)
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

type pgUsers struct{ q querier }

// FindByID retrieves a user by id
func (r *pgUsers) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	var birth sql.NullTime
	var role string
	query := `
		SELECT id, username, password_hash, first_name, second_name, middle_name, birth_date, role, created_at
		FROM bank.users
		WHERE id = $1`
	err := r.q.QueryRowContext(ctx, query, id).
		Scan(&user.ID, &user.Username, &user.PasswordHash, &user.FirstName, &user.SecondName,
			&user.MiddleName, &birth, &role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if birth.Valid {
		user.BirthDate = &birth.Time
	}
	user.Role = models.Role(role)
	return user, nil
}

type pgAccounts struct{ q querier }

const accountColumns = `id, user_id, balance, created_at, updated_at`

func scanAccount(row rowScanner) (*models.Account, error) {
	account := &models.Account{}
	if err := row.Scan(&account.ID, &account.UserID, &account.Balance, &account.CreatedAt, &account.UpdatedAt); err != nil {
		return nil, err
	}
	return account, nil
}

func (r *pgAccounts) findOne(ctx context.Context, query string, arg any) (*models.Account, error) {
	account, err := scanAccount(r.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return account, nil
}

// FindByID retrieves an account by id
func (r *pgAccounts) FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM bank.accounts WHERE id = $1`, id)
}

// FindByIDForUpdate retrieves an account by id and locks its row
func (r *pgAccounts) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM bank.accounts WHERE id = $1 FOR UPDATE`, id)
}

// FindByUser retrieves the account owned by a user
func (r *pgAccounts) FindByUser(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM bank.accounts WHERE user_id = $1`, userID)
}

// Save creates or updates an account
func (r *pgAccounts) Save(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO bank.accounts (id, user_id, balance, created_at, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET balance = EXCLUDED.balance, updated_at = CURRENT_TIMESTAMP
		RETURNING created_at, updated_at`
	err := r.q.QueryRowContext(ctx, query, account.ID, account.UserID, account.Balance).
		Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", mapPQError(err))
	}
	return nil
}

// Delete removes an account; its cards go with it through ON DELETE CASCADE
func (r *pgAccounts) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM bank.accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Exists reports whether an account with the id exists
func (r *pgAccounts) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM bank.accounts WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check account: %w", err)
	}
	return exists, nil
}

type pgCards struct{ q querier }

const cardColumns = `id, account_id, user_id, card_number, expiration_date, status, balance, created_at, updated_at`

func scanCard(row rowScanner) (*models.Card, error) {
	card := &models.Card{}
	var expiration sql.NullTime
	var status string
	err := row.Scan(&card.ID, &card.AccountID, &card.UserID, &card.EncryptedNumber, &expiration,
		&status, &card.Balance, &card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if expiration.Valid {
		card.ExpirationDate = &expiration.Time
	}
	if card.Status, err = models.ParseCardStatus(status); err != nil {
		return nil, err
	}
	return card, nil
}

func (r *pgCards) findOne(ctx context.Context, query string, id uuid.UUID) (*models.Card, error) {
	card, err := scanCard(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find card: %w", err)
	}
	return card, nil
}

func (r *pgCards) findMany(ctx context.Context, query string, args ...any) ([]*models.Card, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	defer rows.Close()

	cards := make([]*models.Card, 0)
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	return cards, nil
}

// FindByID retrieves a card by id
func (r *pgCards) FindByID(ctx context.Context, id uuid.UUID) (*models.Card, error) {
	return r.findOne(ctx, `SELECT `+cardColumns+` FROM bank.cards WHERE id = $1`, id)
}

// FindByIDForUpdate retrieves a card by id and locks its row
func (r *pgCards) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Card, error) {
	return r.findOne(ctx, `SELECT `+cardColumns+` FROM bank.cards WHERE id = $1 FOR UPDATE`, id)
}

// FindByAccount lists an account's cards in creation order
func (r *pgCards) FindByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Card, error) {
	return r.findMany(ctx, `SELECT `+cardColumns+` FROM bank.cards WHERE account_id = $1 ORDER BY created_at, id`, accountID)
}

// FindByAccountForUpdate locks an account's cards in id order, the same
// order single-card locks are taken in, and returns them in creation order
func (r *pgCards) FindByAccountForUpdate(ctx context.Context, accountID uuid.UUID) ([]*models.Card, error) {
	cards, err := r.findMany(ctx, `SELECT `+cardColumns+` FROM bank.cards WHERE account_id = $1 ORDER BY id FOR UPDATE`, accountID)
	if err != nil {
		return nil, err
	}
	sortCards(cards)
	return cards, nil
}

// FindByStatus lists cards in the given status
func (r *pgCards) FindByStatus(ctx context.Context, status models.CardStatus) ([]*models.Card, error) {
	return r.findMany(ctx, `SELECT `+cardColumns+` FROM bank.cards WHERE status = $1 ORDER BY created_at, id`, string(status))
}

// FindAll lists every card
func (r *pgCards) FindAll(ctx context.Context) ([]*models.Card, error) {
	return r.findMany(ctx, `SELECT `+cardColumns+` FROM bank.cards ORDER BY created_at, id`)
}

// Save creates a card or updates its status, balance and expiration date
func (r *pgCards) Save(ctx context.Context, card *models.Card) error {
	var expiration sql.NullTime
	if card.ExpirationDate != nil {
		expiration = sql.NullTime{Time: *card.ExpirationDate, Valid: true}
	}
	query := `
		INSERT INTO bank.cards (id, account_id, user_id, card_number, expiration_date, status, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			expiration_date = EXCLUDED.expiration_date,
			status = EXCLUDED.status,
			balance = EXCLUDED.balance,
			updated_at = CURRENT_TIMESTAMP
		RETURNING created_at, updated_at`
	err := r.q.QueryRowContext(ctx, query, card.ID, card.AccountID, card.UserID, card.EncryptedNumber,
		expiration, string(card.Status), card.Balance).
		Scan(&card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save card: %w", mapPQError(err))
	}
	return nil
}
