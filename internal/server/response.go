package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/wesm/stocksync/internal/movement"
	"github.com/wesm/stocksync/internal/stock"
	"github.com/wesm/stocksync/internal/sync"
)

// writeJSON writes v as JSON with the given HTTP status code.
// Logs a warning if JSON encoding fails.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON: encoding response: %v", err)
	}
}

// writeError writes a JSON error response with the given status
// and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, jsonError{Error: msg})
}

// handleContextError detects context.Canceled and
// context.DeadlineExceeded errors, returning true so the
// caller stops processing. It does NOT write an HTTP
// response. The withTimeout middleware handles that via
// http.TimeoutHandler (503), and writing here would race with
// the middleware's buffered response.
func handleContextError(_ http.ResponseWriter, err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// reconcileError is the body returned when a movement was
// accepted remotely but could not be mirrored locally.
type reconcileError struct {
	Error             string `json:"error"`
	MovementDocNumber string `json:"movement_doc_number"`
	OrderNumber       string `json:"order_number"`
}

// errorStatus maps a service error to its HTTP status.
func errorStatus(err error) int {
	var remote *stock.RemoteAPIError
	switch {
	case errors.Is(err, stock.ErrNotConfigured):
		return http.StatusPreconditionFailed
	case errors.Is(err, sync.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, movement.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.As(err, &remote):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeServiceError writes err with the status errorStatus
// picks. Reconcile failures also carry the remote doc number.
func writeServiceError(w http.ResponseWriter, err error) {
	var rec *movement.ReconcileError
	if errors.As(err, &rec) {
		writeJSON(w, http.StatusInternalServerError, reconcileError{
			Error:             err.Error(),
			MovementDocNumber: rec.DocNumber,
			OrderNumber:       rec.OrderNumber,
		})
		return
	}
	writeError(w, errorStatus(err), err.Error())
}
