package consent

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"banksandbox/internal/common/api"
	"banksandbox/internal/common/middleware"
)

// Handler exposes consent request, approval, and notification routes.
type Handler struct {
	service *Service
}

// NewHandler constructs a consent HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the consent resource routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.request)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/reject", h.reject)
	r.Post("/{id}/revoke", h.revoke)
	r.Get("/", h.list)
	return r
}

type requestConsentRequest struct {
	ClientID string                 `json:"client_id" validate:"required"`
	Kind     Kind                   `json:"kind" validate:"required,oneof=account_access payment product_agreement vrp offer"`
	Payload  map[string]interface{} `json:"payload" validate:"required"`
}

func (h *Handler) request(w http.ResponseWriter, r *http.Request) {
	var req requestConsentRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	grantee := middleware.GetPrincipalID(r.Context())

	header, err := h.service.Request(r.Context(), RequestInput{
		ClientID: req.ClientID,
		Grantee:  grantee,
		Kind:     req.Kind,
		Payload:  req.Payload,
	})
	if err != nil {
		api.InternalError(w, "could not create consent request")
		return
	}

	api.WriteData(w, http.StatusCreated, header)
}

type clientActionRequest struct {
	ClientID string `json:"client_id" validate:"required"`
}

type transitionFunc func(ctx context.Context, externalID, clientID string) (Header, error)

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	externalID := chi.URLParam(r, "id")

	var req clientActionRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	header, err := fn(r.Context(), externalID, req.ClientID)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidTransition):
			api.WriteError(w, http.StatusConflict, api.ErrCodeInvalidTransition, "consent is not in a state that allows this action")
		case errors.Is(err, ErrInvalidConsent):
			api.WriteError(w, http.StatusForbidden, api.ErrCodeInvalidConsent, "consent does not belong to this client")
		default:
			api.InternalError(w, "could not update consent")
		}
		return
	}

	api.WriteData(w, http.StatusOK, header)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Approve)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Reject)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Revoke)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		api.BadRequest(w, "client_id is required")
		return
	}

	consents, err := h.service.ListConsents(r.Context(), clientID)
	if err != nil {
		api.InternalError(w, "could not list consents")
		return
	}

	api.WriteData(w, http.StatusOK, consents)
}

// NotificationHandler exposes a client's notification queue, populated
// whenever a consent request bypassed auto-approval.
type NotificationHandler struct {
	service *Service
}

// NewNotificationHandler constructs a notification HTTP handler.
func NewNotificationHandler(service *Service) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// Routes mounts the notification resource routes.
func (h *NotificationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{clientID}", h.list)
	r.Post("/{clientID}/{id}/read", h.markRead)
	return r
}

func (h *NotificationHandler) list(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	page := api.GetPageParams(r, 25, 200)

	notifications, total, err := h.service.ListNotifications(r.Context(), clientID, page.Limit, page.Offset())
	if err != nil {
		api.InternalError(w, "could not list notifications")
		return
	}

	totalPages := int(total) / page.Limit
	if int(total)%page.Limit != 0 {
		totalPages++
	}

	api.WriteResource(w, http.StatusOK, notifications, api.Links{}, &api.Meta{
		TotalPages:   totalPages,
		TotalRecords: total,
		CurrentPage:  page.Page,
		PageSize:     page.Limit,
	})
}

func (h *NotificationHandler) markRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.Store().MarkNotificationRead(r.Context(), h.service.Store().DB(), id); err != nil {
		api.InternalError(w, "could not mark notification read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
