package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// parseIntParam reads an optional integer query parameter. An
// absent parameter yields 0. On a malformed value it writes a
// 400 and returns ok=false.
func parseIntParam(
	w http.ResponseWriter, r *http.Request, name string,
) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("invalid %s: must be an integer", name))
		return 0, false
	}
	return v, true
}

// clampLimit applies the default to non-positive limits and
// caps the rest at max.
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// decodeBody decodes a JSON body into v. An empty body leaves v
// untouched when optional is set. On failure it writes a 400 and
// returns false.
func decodeBody(
	w http.ResponseWriter, r *http.Request, v any, optional bool,
) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	err := dec.Decode(v)
	if errors.Is(err, io.EOF) && optional {
		return true
	}
	if err != nil {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// parseTimestamp accepts RFC 3339 with or without fractional
// seconds. Empty input yields the zero time.
func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
