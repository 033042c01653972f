package agreement

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"banksandbox/internal/bank"
	"banksandbox/internal/common/api"
	"banksandbox/internal/common/middleware"
	"banksandbox/internal/common/money"
	"banksandbox/internal/consent"
	"banksandbox/internal/ledger"
)

// Handler exposes product agreement opening, lookup, and closing routes.
type Handler struct {
	service *Service
}

// NewHandler constructs an agreement HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the agreement resource routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.open)
	r.Get("/{id}", h.get)
	r.Delete("/{id}", h.close)
	return r
}

type openRequest struct {
	ClientID              string `json:"client_id" validate:"required"`
	ProductKind           string `json:"product_kind" validate:"required,oneof=deposit loan card credit_card"`
	AmountMinor           int64  `json:"amount_minor" validate:"gte=0"`
	Currency              string `json:"currency" validate:"required,len=3"`
	SourceAccountID       string `json:"source_account_id,omitempty"`
	ConsentID             string `json:"consent_id,omitempty"`
}

func (h *Handler) open(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	in := OpenInput{
		ClientID:                req.ClientID,
		Kind:                    ProductKind(req.ProductKind),
		Amount:                  money.New(req.AmountMinor, money.Currency(req.Currency)),
		SourceAccountExternalID: req.SourceAccountID,
		ConsentExternalID:       req.ConsentID,
	}
	if kind := middleware.GetPrincipalKind(r.Context()); kind == "institution" {
		in.Institution = r.Header.Get("X-Requesting-Institution")
		if in.ConsentExternalID == "" {
			in.ConsentExternalID = r.Header.Get("X-Product-Agreement-Consent-Id")
		}
	}

	a, err := h.service.Open(r.Context(), in)
	if err != nil {
		writeAgreementError(w, err)
		return
	}
	api.WriteData(w, http.StatusCreated, a)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "id")
	a, err := h.service.Get(r.Context(), externalID)
	if err != nil {
		api.NotFound(w, "agreement not found")
		return
	}
	api.WriteData(w, http.StatusOK, a)
}

type closeRequest struct {
	RepaymentAccountID string `json:"repayment_account_id,omitempty"`
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "id")

	var req closeRequest
	if r.ContentLength > 0 {
		if err := api.DecodeAndValidate(r, &req); err != nil {
			api.ValidationError(w, err)
			return
		}
	}

	a, err := h.service.Close(r.Context(), externalID, CloseInput{RepaymentAccountExternalID: req.RepaymentAccountID})
	if err != nil {
		writeAgreementError(w, err)
		return
	}
	api.WriteData(w, http.StatusOK, a)
}

func writeAgreementError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownProduct):
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeBadRequest, err.Error())
	case errors.Is(err, ErrAmountOutOfRange):
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeAmountOutOfRange, err.Error())
	case errors.Is(err, ErrSourceAccountRequired), errors.Is(err, ErrSourceNotFound):
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeSourceNotFound, err.Error())
	case errors.Is(err, ErrInsufficientCapital):
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeInsufficientCapital, err.Error())
	case errors.Is(err, bank.ErrInsufficientCapital):
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeInsufficientCapital, err.Error())
	case errors.Is(err, ErrAlreadyClosed):
		api.WriteError(w, http.StatusConflict, api.ErrCodeConflict, err.Error())
	case errors.Is(err, ErrRepaymentAccountNeeded):
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeRepaymentRequired, err.Error())
	case errors.Is(err, ErrRepaymentNotFound):
		api.WriteError(w, http.StatusNotFound, api.ErrCodeSourceNotFound, err.Error())
	case errors.Is(err, consent.ErrConsentRequired):
		api.ConsentRequired(w, "request a product agreement consent covering this product")
	case errors.Is(err, consent.ErrInvalidConsent):
		api.WriteError(w, http.StatusForbidden, api.ErrCodeInvalidConsent, err.Error())
	case errors.Is(err, consent.ErrConsentMismatch):
		api.WriteError(w, http.StatusForbidden, api.ErrCodeConsentMismatch, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeInsufficientFunds, err.Error())
	case errors.Is(err, ledger.ErrAccountNotActive):
		api.WriteError(w, http.StatusBadRequest, api.ErrCodeAccountNotFound, err.Error())
	default:
		api.InternalError(w, "could not complete agreement operation")
	}
}
