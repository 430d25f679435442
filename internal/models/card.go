package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CardStatus is the lifecycle state of a card
type CardStatus string

const (
	CardStatusActive  CardStatus = "ACTIVE"
	CardStatusBlocked CardStatus = "BLOCKED"
	CardStatusExpired CardStatus = "EXPIRED"
)

// ParseCardStatus converts a stored status value
func ParseCardStatus(s string) (CardStatus, error) {
	switch st := CardStatus(s); st {
	case CardStatusActive, CardStatusBlocked, CardStatusExpired:
		return st, nil
	}
	return "", fmt.Errorf("unknown card status %q", s)
}

// Card represents a bank card. It belongs to an account; UserID is the
// account owner and never changes after creation.
type Card struct {
	ID              uuid.UUID       `json:"id"`
	AccountID       uuid.UUID       `json:"account_id"`
	UserID          uuid.UUID       `json:"user_id"`
	EncryptedNumber string          `json:"-"`
	ExpirationDate  *time.Time      `json:"expiration_date,omitempty"`
	Status          CardStatus      `json:"status"`
	Balance         decimal.Decimal `json:"balance"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IsActive reports whether the card can take part in transfers
func (c *Card) IsActive() bool {
	return c.Status == CardStatusActive
}

// Block moves an active card to BLOCKED. Blocked and expired cards are left
// as they are: no transition leaves a terminal status.
func (c *Card) Block() {
	if c.Status == CardStatusActive {
		c.Status = CardStatusBlocked
	}
}

// ExpiredOn reports whether the card is active and its expiration date is
// strictly before the given calendar day. Cards without a date never expire.
func (c *Card) ExpiredOn(day time.Time) bool {
	if !c.IsActive() || c.ExpirationDate == nil {
		return false
	}
	return DateOf(*c.ExpirationDate).Before(DateOf(day))
}

// Expire moves the card to EXPIRED when ExpiredOn(day) holds
func (c *Card) Expire(day time.Time) bool {
	if !c.ExpiredOn(day) {
		return false
	}
	c.Status = CardStatusExpired
	return true
}

// DateOf truncates t to its UTC calendar date
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CardView is the display form of a card. Number is either the full
// decrypted number or its masked form depending on who is looking.
type CardView struct {
	ID             uuid.UUID       `json:"id"`
	Number         string          `json:"card_number"`
	OwnerID        uuid.UUID       `json:"owner_id"`
	ExpirationDate *time.Time      `json:"expiration_date,omitempty"`
	Balance        decimal.Decimal `json:"balance"`
	Status         CardStatus      `json:"status"`
}
