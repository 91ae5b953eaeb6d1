package server

import (
	"net/http"

	"github.com/wesm/stocksync/internal/movement"
)

func (s *Server) handleIssueMaterials(
	w http.ResponseWriter, r *http.Request,
) {
	var req movement.IssueRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	res, err := s.reconciler.IssueMaterials(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReceiveFinished(
	w http.ResponseWriter, r *http.Request,
) {
	var req movement.ReceiveRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	res, err := s.reconciler.ReceiveFinished(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListUsage(
	w http.ResponseWriter, r *http.Request,
) {
	usage, err := s.db.ListMaterialUsage(
		r.Context(), r.URL.Query().Get("production_id"),
	)
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"usage": usage,
	})
}
