package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/andres10976/certharvest/internal/model"
)

type domainStore interface {
	List(ctx context.Context) ([]model.Domain, error)
}

type DomainHandler struct {
	repo domainStore
}

func NewDomainHandler(repo domainStore) *DomainHandler {
	return &DomainHandler{repo: repo}
}

func (h *DomainHandler) RegisterRoutes(r chi.Router) {
	r.Get("/domains", h.List)
}

func (h *DomainHandler) List(w http.ResponseWriter, r *http.Request) {
	domains, err := h.repo.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list domains")
		return
	}
	if domains == nil {
		domains = []model.Domain{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"domains": domains, "total": len(domains)})
}
