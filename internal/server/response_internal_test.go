package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wesm/stocksync/internal/movement"
	"github.com/wesm/stocksync/internal/stock"
	"github.com/wesm/stocksync/internal/sync"
)

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not configured", stock.ErrNotConfigured,
			http.StatusPreconditionFailed},
		{"wrapped not configured",
			fmt.Errorf("resolving: %w", stock.ErrNotConfigured),
			http.StatusPreconditionFailed},
		{"in progress", sync.ErrSyncInProgress, http.StatusConflict},
		{"invalid movement",
			fmt.Errorf("%w: order number is required",
				movement.ErrInvalidRequest),
			http.StatusBadRequest},
		{"remote", fmt.Errorf("posting: %w",
			&stock.RemoteAPIError{Message: "boom", StatusCode: 500}),
			http.StatusBadGateway},
		{"other", errors.New("disk full"),
			http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorStatus(tt.err); got != tt.want {
				t.Errorf("errorStatus = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWriteServiceErrorReconcile(t *testing.T) {
	w := httptest.NewRecorder()
	writeServiceError(w, &movement.ReconcileError{
		DocNumber:    "ISS-0042",
		OrderNumber:  "SO-9",
		ProductionID: "PRD-1",
		Err:          errors.New("database is locked"),
	})

	assertRecorderStatus(t, w, http.StatusInternalServerError)
	assertContentType(t, w, "application/json")

	var body reconcileError
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.MovementDocNumber != "ISS-0042" {
		t.Errorf("doc number = %q, want ISS-0042", body.MovementDocNumber)
	}
	if body.OrderNumber != "SO-9" {
		t.Errorf("order number = %q, want SO-9", body.OrderNumber)
	}
	if body.Error == "" {
		t.Error("expected error message")
	}
}

func TestHandleContextError(t *testing.T) {
	ctx, cancel := expiredCtx(t)
	defer cancel()

	w := httptest.NewRecorder()
	if !handleContextError(w, ctx.Err()) {
		t.Error("expected expired context to be handled")
	}
	if handleContextError(w, errors.New("other")) {
		t.Error("unexpected handling of non-context error")
	}
	if w.Body.Len() != 0 {
		t.Errorf("handleContextError wrote %q", w.Body.String())
	}
}

func TestHandlersStopOnExpiredContext(t *testing.T) {
	srv := testServer(t, 0)
	ctx, cancel := expiredCtx(t)
	defer cancel()

	w, r := newTestRequest(t, "")
	srv.handleSyncStatus(w, r.WithContext(ctx))
	if w.Body.Len() != 0 {
		t.Errorf("expected no body on cancelled request, got %q",
			w.Body.String())
	}
}
