package handler

import (
	"encoding/json"
	"net/http"

	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/Dan9191/bank-cards/internal/service"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	svc *service.Service
	log *logrus.Logger
}

func NewHandler(svc *service.Service, log *logrus.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// Router wires all routes. Everything under /api requires a bearer token.
func (h *Handler) Router(jwtSecret []byte) *mux.Router {
	r := mux.NewRouter()
	r.Use(LoggingMiddleware(h.log))
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(AuthMiddleware(jwtSecret, h.log))
	api.HandleFunc("/accounts", h.CreateAccount).Methods(http.MethodPost)
	api.HandleFunc("/accounts/balance", h.AccountBalance).Methods(http.MethodGet)
	api.HandleFunc("/cards", h.CreateCard).Methods(http.MethodPost)
	api.HandleFunc("/cards", h.ListCards).Methods(http.MethodGet)
	api.HandleFunc("/cards/{id}/balance", h.CardBalance).Methods(http.MethodGet)
	api.HandleFunc("/transfers", h.Transfer).Methods(http.MethodPost)
	api.HandleFunc("/transfers/accounts", h.TransferBetweenAccounts).Methods(http.MethodPost)

	admin := api.NewRoute().Subrouter()
	admin.Use(RequireRole(models.RoleAdmin))
	admin.HandleFunc("/accounts/{id}", h.DeleteAccount).Methods(http.MethodDelete)
	admin.HandleFunc("/cards/{id}/block", h.BlockCard).Methods(http.MethodPatch)
	admin.HandleFunc("/admin/cards", h.ListAllCards).Methods(http.MethodGet)

	return r
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CreateAccount opens an account for the caller
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	account, err := h.svc.Accounts.CreateAccount(r.Context(), caller)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// AccountBalance returns the caller's account balance
func (h *Handler) AccountBalance(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	balance, err := h.svc.Accounts.GetBalance(r.Context(), caller)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
}

// DeleteAccount removes an account and its cards
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Accounts.DeleteAccount(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateCard issues a card on the caller's account
func (h *Handler) CreateCard(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	card, err := h.svc.Cards.CreateCard(r.Context(), caller)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, card)
}

// ListCards returns the caller's cards
func (h *Handler) ListCards(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	cards, err := h.svc.Cards.ListCards(r.Context(), caller)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

// ListAllCards returns every card, masked for administrators
func (h *Handler) ListAllCards(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	cards, err := h.svc.Cards.ListAllCards(r.Context(), caller)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

// CardBalance returns a card balance to its owner
func (h *Handler) CardBalance(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	balance, err := h.svc.Cards.GetBalance(r.Context(), id, caller)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Balance: balance})
}

// BlockCard blocks a card
func (h *Handler) BlockCard(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Cards.BlockCard(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Transfer moves money between two of the caller's cards
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req models.TransferRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.svc.Transfers.Transfer(r.Context(), req, caller)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// TransferBetweenAccounts moves money from the caller's account to another
func (h *Handler) TransferBetweenAccounts(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req models.TransferRequest
	if !decode(w, r, &req) {
		return
	}
	result, err := h.svc.Transfers.TransferBetweenAccounts(r.Context(), req, caller)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type balanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := CallerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errNoCaller.Error())
	}
	return id, ok
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	entry := h.log.WithError(err).WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path})
	if status == http.StatusInternalServerError {
		entry.Error("Request failed")
		writeError(w, status, "internal error")
		return
	}
	entry.Debug("Request rejected")
	writeError(w, status, err.Error())
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
