package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferStatusSuccess is the only status a completed transfer reports
const TransferStatusSuccess = "SUCCESS"

// TransferRequest moves Amount from SourceID to DestinationID. The ids are
// cards or accounts depending on the operation it is passed to.
type TransferRequest struct {
	SourceID      uuid.UUID           `json:"from_id"`
	DestinationID uuid.UUID           `json:"to_id"`
	Amount        decimal.NullDecimal `json:"amount"`
}

// TransferResult describes a completed transfer
type TransferResult struct {
	SourceID      uuid.UUID       `json:"from_id"`
	DestinationID uuid.UUID       `json:"to_id"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     time.Time       `json:"timestamp"`
	Status        string          `json:"status"`
}
