package service

import (
	"time"

	"github.com/Dan9191/bank-cards/internal/config"
	"github.com/Dan9191/bank-cards/internal/repository"
	"github.com/Dan9191/bank-cards/internal/utils"
	"github.com/sirupsen/logrus"
)

// Service bundles the business operations exposed to the handler layer
type Service struct {
	Cards      *CardService
	Accounts   *AccountService
	Transfers  *TransferService
	Expiration *ExpirationChecker
}

// NewService initializes all services over one store
func NewService(store repository.Store, codec *utils.CardCodec, log *logrus.Logger, cfg *config.Config) *Service {
	return &Service{
		Cards:      NewCardService(store, codec, log, cfg.CardValidityYears),
		Accounts:   NewAccountService(store, log),
		Transfers:  NewTransferService(store, log),
		Expiration: NewExpirationChecker(store, log),
	}
}

func utcNow() time.Time {
	return time.Now().UTC()
}
