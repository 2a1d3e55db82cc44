package handler

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/andres10976/certharvest/internal/domainname"
	"github.com/andres10976/certharvest/internal/model"
	"github.com/andres10976/certharvest/internal/repository"
	"github.com/andres10976/certharvest/internal/service/matcher"
)

type certificateStore interface {
	ListByDomain(ctx context.Context, p model.Partition, domain string, limit, offset int) ([]model.Certificate, int, error)
	ExportByDomain(ctx context.Context, p model.Partition, domain string) ([]model.Certificate, error)
	Get(ctx context.Context, p model.Partition, logID int64) (*model.Certificate, error)
}

type CertificateHandler struct {
	repo certificateStore
}

func NewCertificateHandler(repo certificateStore) *CertificateHandler {
	return &CertificateHandler{repo: repo}
}

func (h *CertificateHandler) RegisterRoutes(r chi.Router) {
	r.Get("/certificates", h.List)
	r.Get("/certificates/export", h.Export)
	r.Get("/certificates/{logID}", h.Get)
}

type certificateMatch struct {
	Certificate  model.Certificate `json:"certificate"`
	MatchedNames []string          `json:"matched_names"`
}

// lookup reads the domain and precert query parameters.
func lookup(r *http.Request) (domain string, p model.Partition, err error) {
	domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("domain"))), ".")
	if domain == "" {
		return "", "", errors.New("domain is required")
	}
	if err := domainname.Validate(domain); err != nil {
		return "", "", fmt.Errorf("invalid domain %q", domain)
	}
	p, err = partition(r)
	return domain, p, err
}

func partition(r *http.Request) (model.Partition, error) {
	v := r.URL.Query().Get("precert")
	if v == "" {
		return model.PartitionCerts, nil
	}
	precert, err := strconv.ParseBool(v)
	if err != nil {
		return "", errors.New("precert must be a boolean")
	}
	if precert {
		return model.PartitionPrecerts, nil
	}
	return model.PartitionCerts, nil
}

func (h *CertificateHandler) List(w http.ResponseWriter, r *http.Request) {
	domain, p, err := lookup(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, perPage := pagination(r)

	certs, total, err := h.repo.ListByDomain(r.Context(), p, domain, perPage, (page-1)*perPage)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list certificates")
		return
	}

	matches := make([]certificateMatch, 0, len(certs))
	for _, c := range certs {
		matched := matcher.Match(c.Subjects(), domain)
		if matched == nil {
			matched = []string{}
		}
		matches = append(matches, certificateMatch{Certificate: c, MatchedNames: matched})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"domain":       domain,
		"precert":      p == model.PartitionPrecerts,
		"certificates": matches,
		"total":        total,
		"page":         page,
		"per_page":     perPage,
	})
}

func (h *CertificateHandler) Get(w http.ResponseWriter, r *http.Request) {
	logID, err := strconv.ParseInt(chi.URLParam(r, "logID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid log id")
		return
	}
	p, err := partition(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cert, err := h.repo.Get(r.Context(), p, logID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "certificate not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get certificate")
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

func (h *CertificateHandler) Export(w http.ResponseWriter, r *http.Request) {
	domain, p, err := lookup(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	certs, err := h.repo.ExportByDomain(r.Context(), p, domain)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to export certificates")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_%s.csv"`, domain, p))

	writer := csv.NewWriter(w)
	defer writer.Flush()

	writer.Write([]string{
		"log_id", "serial", "issuer", "not_before", "not_after",
		"sct_or_not_before", "sct_exists", "subjects", "trimmed_subjects",
	})

	for _, c := range certs {
		writer.Write([]string{
			strconv.FormatInt(c.LogID, 10),
			c.Serial,
			c.Issuer,
			c.NotBefore.Format(time.RFC3339),
			c.NotAfter.Format(time.RFC3339),
			c.SCTOrNotBefore.Format(time.RFC3339),
			strconv.FormatBool(c.SCTExists),
			strings.Join(c.Subjects(), ";"),
			strings.Join(c.TrimmedSubjects(), ";"),
		})
	}
}
