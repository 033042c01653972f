package client

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"banksandbox/internal/common/api"
)

// Handler exposes client onboarding and lookup over HTTP.
type Handler struct {
	store *Store
}

// NewHandler constructs a client HTTP handler.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// Routes mounts the client resource routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	return r
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	c, err := h.store.Create(r.Context(), req)
	if err != nil {
		api.InternalError(w, "could not create client")
		return
	}

	api.WriteData(w, http.StatusCreated, c)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := h.store.Get(r.Context(), id)
	if err != nil {
		api.WriteError(w, http.StatusNotFound, api.ErrCodeClientNotFound, "client not found")
		return
	}

	api.WriteData(w, http.StatusOK, c)
}
