package ledger

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"banksandbox/internal/authz"
	"banksandbox/internal/common/api"
	"banksandbox/internal/common/middleware"
	"banksandbox/internal/common/money"
)

// Handler exposes account, transaction, and card routes over HTTP,
// gating every call through the Authorization Mediator per spec §4.2.
type Handler struct {
	service  *Service
	mediator *authz.Mediator
}

// NewHandler constructs a ledger HTTP handler.
func NewHandler(service *Service, mediator *authz.Mediator) *Handler {
	return &Handler{service: service, mediator: mediator}
}

// Routes mounts the ledger resource routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.listAccounts)
	r.Post("/", h.openAccount)
	r.Get("/{id}", h.getAccount)
	r.Get("/{id}/balance", h.getBalance)
	r.Get("/{id}/transactions", h.listTransactions)
	r.Get("/{id}/cards", h.listCards)
	r.Post("/{id}/cards", h.issueCard)
	r.Put("/{id}/status", h.putStatus)
	return r
}

// decide runs the mediator for a call targeting subjectClientID, reading
// the requesting institution and consent id off the standard headers,
// and writes a response for any non-allow outcome. It returns false
// when the caller should stop handling the request.
func (h *Handler) decide(w http.ResponseWriter, r *http.Request, op authz.Op, subjectClientID string) bool {
	call := authz.Call{Op: op, SubjectClientID: subjectClientID}
	if kind := middleware.GetPrincipalKind(r.Context()); kind == "institution" {
		call.RequestingInstitution = r.Header.Get("X-Requesting-Institution")
		if id := r.Header.Get("X-Account-Access-Consent-Id"); id != "" {
			call.ConsentExternalID = &id
		}
	}

	decision := h.mediator.Decide(r.Context(), call)
	switch decision.Outcome {
	case authz.OutcomeAllowClient, authz.OutcomeAllowInstitution, authz.OutcomeAllowStaff:
		return true
	case authz.OutcomeConsentRequired:
		api.ConsentRequired(w, decision.Hint)
		return false
	default:
		api.Forbidden(w, decision.Hint)
		return false
	}
}

type openAccountRequest struct {
	ClientID string `json:"client_id" validate:"required"`
	Type     string `json:"type" validate:"required,oneof=checking savings deposit card loan"`
	Currency string `json:"currency" validate:"required,len=3"`
}

func (h *Handler) openAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}
	if !h.decide(w, r, authz.OpPostAccount, req.ClientID) {
		return
	}

	acct, err := h.service.OpenAccount(r.Context(), OpenAccountRequest{
		ClientID: req.ClientID,
		Type:     AccountType(req.Type),
		Currency: money.Currency(req.Currency),
	})
	if err != nil {
		api.InternalError(w, "could not open account")
		return
	}
	api.WriteData(w, http.StatusCreated, acct)
}

// listAccounts serves GET /accounts?client_id=... — the Account
// Ledger's own account-discovery surface, gated the same way a single
// account's detail is.
func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeBadRequest, "client_id is required")
		return
	}
	if !h.decide(w, r, authz.OpGetAccountDetail, clientID) {
		return
	}

	accounts, err := h.service.ListAccountsByClient(r.Context(), clientID)
	if err != nil {
		api.InternalError(w, "could not list accounts")
		return
	}
	api.WriteData(w, http.StatusOK, accounts)
}

type balanceResponse struct {
	AccountID string      `json:"account_id"`
	Balance   money.Money `json:"balance"`
	Status    AccountStatus `json:"status"`
}

// getBalance serves GET /accounts/{id}/balance, the narrower surface an
// institution consent scoped only to ReadBalances can reach without
// also granting access to the rest of the account's detail.
func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	acct, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		api.WriteError(w, http.StatusNotFound, api.ErrCodeAccountNotFound, "account not found")
		return
	}
	if !h.decide(w, r, authz.OpGetBalance, acct.ClientID) {
		return
	}
	api.WriteData(w, http.StatusOK, balanceResponse{
		AccountID: acct.ExternalID,
		Balance:   acct.Balance,
		Status:    acct.Status,
	})
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	acct, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		api.WriteError(w, http.StatusNotFound, api.ErrCodeAccountNotFound, "account not found")
		return
	}
	if !h.decide(w, r, authz.OpGetAccountDetail, acct.ClientID) {
		return
	}
	api.WriteData(w, http.StatusOK, acct)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	acct, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		api.WriteError(w, http.StatusNotFound, api.ErrCodeAccountNotFound, "account not found")
		return
	}
	if !h.decide(w, r, authz.OpGetTransactions, acct.ClientID) {
		return
	}

	page := api.GetPageParams(r, 25, 200)

	txns, total, err := h.service.ListTransactions(r.Context(), id, page.Limit, page.Offset())
	if err != nil {
		api.InternalError(w, "could not list transactions")
		return
	}

	totalPages := int(total) / page.Limit
	if int(total)%page.Limit != 0 {
		totalPages++
	}

	api.WriteResource(w, http.StatusOK, txns, api.Links{
		Self: "/accounts/" + id + "/transactions?page=" + strconv.Itoa(page.Page),
	}, &api.Meta{
		TotalPages:   totalPages,
		TotalRecords: total,
		CurrentPage:  page.Page,
		PageSize:     page.Limit,
	})
}

func (h *Handler) listCards(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	acct, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		api.WriteError(w, http.StatusNotFound, api.ErrCodeAccountNotFound, "account not found")
		return
	}
	if !h.decide(w, r, authz.OpGetCards, acct.ClientID) {
		return
	}

	cards, err := h.service.store.ListCardsByAccount(r.Context(), h.service.store.DB(), id)
	if err != nil {
		api.InternalError(w, "could not list cards")
		return
	}
	api.WriteData(w, http.StatusOK, cards)
}

type issueCardRequest struct {
	Brand                   string  `json:"brand" validate:"required,oneof=visa mastercard"`
	Type                    string  `json:"type" validate:"required,oneof=debit credit"`
	PAN                     string  `json:"pan" validate:"required,numeric,len=16"`
	HolderName              string  `json:"holder_name" validate:"required"`
	ExpiryYears             int     `json:"expiry_years" validate:"omitempty,min=1,max=10"`
	DailySpendLimitMinor    *int64  `json:"daily_spend_limit_minor"`
	MonthlySpendLimitMinor  *int64  `json:"monthly_spend_limit_minor"`
}

func (h *Handler) issueCard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	acct, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		api.WriteError(w, http.StatusNotFound, api.ErrCodeAccountNotFound, "account not found")
		return
	}
	if !h.decide(w, r, authz.OpPostCard, acct.ClientID) {
		return
	}

	var req issueCardRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	cardReq := IssueCardRequest{
		AccountID:  acct.ID,
		Brand:      CardBrand(req.Brand),
		Type:       CardType(req.Type),
		PAN:        req.PAN,
		HolderName: req.HolderName,
	}
	if req.ExpiryYears > 0 {
		cardReq.Expiry = time.Now().UTC().AddDate(req.ExpiryYears, 0, 0)
	}
	if req.DailySpendLimitMinor != nil {
		limit := money.New(*req.DailySpendLimitMinor, acct.Currency)
		cardReq.DailySpendLimit = &limit
	}
	if req.MonthlySpendLimitMinor != nil {
		limit := money.New(*req.MonthlySpendLimitMinor, acct.Currency)
		cardReq.MonthlySpendLimit = &limit
	}

	card, err := h.service.IssueCard(r.Context(), cardReq)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeBadRequest, err.Error())
		return
	}
	api.WriteData(w, http.StatusCreated, card)
}

type putStatusRequest struct {
	Status                string `json:"status" validate:"required,oneof=active frozen closed"`
	Disposition           string `json:"disposition" validate:"omitempty,oneof=transfer donate"`
	DestinationAccountID  string `json:"destination_account_id"`
}

func (h *Handler) putStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	acct, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		api.WriteError(w, http.StatusNotFound, api.ErrCodeAccountNotFound, "account not found")
		return
	}
	if !h.decide(w, r, authz.OpPutAccountStatus, acct.ClientID) {
		return
	}

	var req putStatusRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	var transitionErr error
	switch AccountStatus(req.Status) {
	case AccountFrozen:
		transitionErr = h.service.FreezeAccount(r.Context(), id)
	case AccountActive:
		transitionErr = h.service.UnfreezeAccount(r.Context(), id)
	case AccountClosed:
		disposition := CloseDisposition(req.Disposition)
		if disposition == "" {
			disposition = CloseDonate
		}
		transitionErr = h.service.CloseAccount(r.Context(), id, disposition, req.DestinationAccountID)
	}
	if transitionErr != nil {
		writeTransitionError(w, transitionErr)
		return
	}

	acct, err = h.service.GetAccount(r.Context(), id)
	if err != nil {
		api.InternalError(w, "could not reload account")
		return
	}
	api.WriteData(w, http.StatusOK, acct)
}

// writeTransitionError maps a status-transition failure, including a
// direct account closure's disposition errors, to the appropriate HTTP
// status and error code.
func writeTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrDestinationRequired):
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeBadRequest, err.Error())
	case errors.Is(err, ErrDestinationNotFound):
		api.WriteError(w, http.StatusNotFound, api.ErrCodeSourceNotFound, err.Error())
	case errors.Is(err, ErrDestinationNotSameClient):
		api.WriteError(w, http.StatusForbidden, api.ErrCodeForbidden, err.Error())
	case errors.Is(err, ErrUnknownDisposition):
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeBadRequest, err.Error())
	case errors.Is(err, ErrInsufficientFunds):
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeInsufficientFunds, err.Error())
	default:
		api.WriteError(w, http.StatusConflict, api.ErrCodeInvalidTransition, err.Error())
	}
}
