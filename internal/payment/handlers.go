package payment

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"banksandbox/internal/common/api"
	"banksandbox/internal/common/middleware"
	"banksandbox/internal/common/money"
	"banksandbox/internal/ledger"
)

func moneyFromRequest(amountMinor int64, currency string) money.Money {
	return money.New(amountMinor, money.Currency(currency))
}

// Handler exposes payment initiation and lookup routes.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the payment resource routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.initiate)
	r.Post("/vrp", h.initiateVRP)
	r.Get("/{id}", h.get)
	return r
}

type initiateRequest struct {
	FromAccountExternalID string `json:"from_account_id" validate:"required"`
	ToAccountExternalID   string `json:"to_account_id,omitempty"`
	ToBankCode            string `json:"to_bank_code,omitempty"`
	AmountMinor           int64  `json:"amount_minor" validate:"required,gt=0"`
	Currency              string `json:"currency" validate:"required,len=3"`
	Description           string `json:"description"`
	ConsentID             string `json:"consent_id,omitempty"`
}

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request) {
	h.doInitiate(w, r, false)
}

func (h *Handler) initiateVRP(w http.ResponseWriter, r *http.Request) {
	h.doInitiate(w, r, true)
}

func (h *Handler) doInitiate(w http.ResponseWriter, r *http.Request, isVRP bool) {
	var req initiateRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	in := InitiateInput{
		FromAccountExternalID: req.FromAccountExternalID,
		ToAccountExternalID:   req.ToAccountExternalID,
		ToBankCode:            req.ToBankCode,
		Amount:                moneyFromRequest(req.AmountMinor, req.Currency),
		Description:           req.Description,
		ConsentExternalID:     req.ConsentID,
		IdempotencyKey:        r.Header.Get("Idempotency-Key"),
	}

	if kind := middleware.GetPrincipalKind(r.Context()); kind == "institution" {
		in.Institution = r.Header.Get("X-Requesting-Institution")
		if in.ConsentExternalID == "" {
			in.ConsentExternalID = r.Header.Get("X-Payment-Consent-Id")
		}
	}

	var p Payment
	var err error
	if isVRP {
		p, err = h.service.InitiateVRP(r.Context(), in)
	} else {
		p, err = h.service.Initiate(r.Context(), in)
	}
	if err != nil {
		writePaymentError(w, err)
		return
	}

	api.WriteData(w, http.StatusCreated, p)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "id")
	p, err := h.service.Get(r.Context(), externalID)
	if err != nil {
		api.NotFound(w, "payment not found")
		return
	}
	api.WriteData(w, http.StatusOK, p)
}

func writePaymentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSourceNotFound):
		api.WriteError(w, http.StatusNotFound, api.ErrCodeSourceNotFound, err.Error())
	case errors.Is(err, ErrConsentRequired):
		api.ConsentRequired(w, "request a payment consent covering this transfer")
	case errors.Is(err, ErrInvalidConsent):
		api.WriteError(w, http.StatusForbidden, api.ErrCodeInvalidConsent, err.Error())
	case errors.Is(err, ErrConsentMismatch):
		api.WriteError(w, http.StatusForbidden, api.ErrCodeConsentMismatch, err.Error())
	case errors.Is(err, ErrVRPCapExceeded):
		api.WriteError(w, http.StatusForbidden, api.ErrCodeInvalidConsent, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeInsufficientFunds, err.Error())
	case errors.Is(err, ledger.ErrAccountNotActive):
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeAccountNotFound, err.Error())
	default:
		api.InternalError(w, "could not complete payment")
	}
}
