package server

import (
	"fmt"
	"net/http"

	"github.com/wesm/stocksync/internal/stock"
	syncpkg "github.com/wesm/stocksync/internal/sync"
)

// syncPageRequest is the body of POST /api/v1/sync/page.
type syncPageRequest struct {
	Page         int    `json:"page"`
	PageSize     int    `json:"page_size"`
	Mode         string `json:"mode"`
	UpdatedAfter string `json:"updated_after"`
}

func (s *Server) handleSyncPage(
	w http.ResponseWriter, r *http.Request,
) {
	var req syncPageRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	if req.Page < 0 || req.PageSize < 0 {
		writeError(w, http.StatusBadRequest,
			"page and page_size must not be negative")
		return
	}
	mode, ok := stock.ParseMode(req.Mode)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf(
			"invalid mode %q: use %q or %q",
			req.Mode, stock.ModeIncremental, stock.ModeFull,
		))
		return
	}
	after, err := parseTimestamp(req.UpdatedAfter)
	if err != nil {
		writeError(w, http.StatusBadRequest,
			"invalid updated_after: use RFC3339 timestamp")
		return
	}

	res, err := s.driver.SyncPage(r.Context(), syncpkg.PageRequest{
		Page:         req.Page,
		PageSize:     req.PageSize,
		Mode:         mode,
		UpdatedAfter: after,
	})
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSyncStock(
	w http.ResponseWriter, r *http.Request,
) {
	res, err := s.driver.SyncStockLevels(r.Context())
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSyncFinish(
	w http.ResponseWriter, r *http.Request,
) {
	if err := s.driver.Finish(r.Context()); err != nil {
		if handleContextError(w, err) {
			return
		}
		writeServiceError(w, err)
		return
	}
	p, err := s.driver.Tracker().Read(r.Context())
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSyncStatus(
	w http.ResponseWriter, r *http.Request,
) {
	status, err := s.db.GetSyncStatus(r.Context())
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleSyncProgress(
	w http.ResponseWriter, r *http.Request,
) {
	p, err := s.driver.Tracker().Read(r.Context())
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}
