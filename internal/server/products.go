package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/wesm/stocksync/internal/db"
)

func (s *Server) handleListProducts(
	w http.ResponseWriter, r *http.Request,
) {
	q := r.URL.Query()

	limit, ok := parseIntParam(w, r, "limit")
	if !ok {
		return
	}
	limit = clampLimit(limit, db.DefaultProductLimit, db.MaxProductLimit)
	offset, ok := parseIntParam(w, r, "offset")
	if !ok {
		return
	}
	if offset < 0 {
		writeError(w, http.StatusBadRequest,
			"offset must not be negative")
		return
	}

	source := db.Source(q.Get("source"))
	switch source {
	case "", db.SourceStock, db.SourceLocal:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf(
			"invalid source %q: use %q or %q",
			source, db.SourceStock, db.SourceLocal,
		))
		return
	}

	products, err := s.db.ListProducts(r.Context(), db.ProductFilter{
		Source:   source,
		Category: q.Get("category"),
		Search:   q.Get("q"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"products": products,
		"limit":    limit,
		"offset":   offset,
	})
}

func (s *Server) handleGetProduct(
	w http.ResponseWriter, r *http.Request,
) {
	sku := r.PathValue("sku")
	p, err := s.db.GetProduct(r.Context(), sku)
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type variantActiveRequest struct {
	Active *bool `json:"active"`
}

// handleSetVariantActive includes or excludes a variant from its
// product's total stock.
func (s *Server) handleSetVariantActive(
	w http.ResponseWriter, r *http.Request,
) {
	var req variantActiveRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.Active == nil {
		writeError(w, http.StatusBadRequest, "active is required")
		return
	}

	sku := r.PathValue("sku")
	err := s.db.SetVariantActive(
		r.Context(), sku, r.PathValue("variant"), *req.Active,
	)
	switch {
	case errors.Is(err, db.ErrVariantNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		if handleContextError(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.handleGetProduct(w, r)
}

func (s *Server) handleGetStats(
	w http.ResponseWriter, r *http.Request,
) {
	stats, err := s.db.GetStats(r.Context())
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
