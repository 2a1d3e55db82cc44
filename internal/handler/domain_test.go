package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andres10976/certharvest/internal/model"
)

type mockDomainStore struct {
	listFn func(ctx context.Context) ([]model.Domain, error)
}

func (m *mockDomainStore) List(ctx context.Context) ([]model.Domain, error) {
	return m.listFn(ctx)
}

func TestDomainList_Success(t *testing.T) {
	h := NewDomainHandler(&mockDomainStore{
		listFn: func(context.Context) ([]model.Domain, error) {
			return []model.Domain{
				{Domain: "cisa.gov", Agency: &model.Agency{ID: "DHS", Name: "Department of Homeland Security"}, CyhyStakeholder: true},
				{Domain: "nasa.gov"},
			}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/domains", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body struct {
		Domains []model.Domain `json:"domains"`
		Total   int            `json:"total"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Total != 2 || len(body.Domains) != 2 {
		t.Errorf("got %d domains (total %d), want 2", len(body.Domains), body.Total)
	}
}

func TestDomainList_Empty(t *testing.T) {
	h := NewDomainHandler(&mockDomainStore{
		listFn: func(context.Context) ([]model.Domain, error) { return nil, nil },
	})

	req := httptest.NewRequest(http.MethodGet, "/domains", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	var body map[string]json.RawMessage
	json.NewDecoder(rec.Body).Decode(&body)
	if string(body["domains"]) != "[]" {
		t.Errorf("domains = %s, want []", body["domains"])
	}
}

func TestDomainList_Error(t *testing.T) {
	h := NewDomainHandler(&mockDomainStore{
		listFn: func(context.Context) ([]model.Domain, error) { return nil, errors.New("db error") },
	})

	req := httptest.NewRequest(http.MethodGet, "/domains", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}
