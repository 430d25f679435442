package service

import "errors"

var (
	// ErrOwnerNotFound is returned when the user or the user's account does not exist
	ErrOwnerNotFound = errors.New("owner not found")
	// ErrAccountNotFound is returned when an account id matches no account
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists is returned when a user who already has an account asks for another
	ErrAccountExists = errors.New("account already exists")
	// ErrCardNotFound is returned when a card id matches no card
	ErrCardNotFound = errors.New("card not found")
	// ErrAccessDenied is returned when a balance is queried by someone other than the owner
	ErrAccessDenied = errors.New("access denied")
	// ErrUnauthorizedAccess is returned when a transfer touches cards or accounts the caller does not own
	ErrUnauthorizedAccess = errors.New("unauthorized access")
	// ErrCardInactive is returned when a card taking part in a transfer is not ACTIVE
	ErrCardInactive = errors.New("card is not active")
	// ErrInvalidAmount is returned for a missing, zero, negative or sub-cent amount
	ErrInvalidAmount = errors.New("invalid transfer amount")
	// ErrInsufficientFunds is returned when the source cannot cover the amount
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrSameCard is returned when source and destination are the same card
	ErrSameCard = errors.New("cannot transfer to the same card")
	// ErrSameAccount is returned when source and destination are the same account
	ErrSameAccount = errors.New("cannot transfer to the same account")
)
