package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/wesm/stocksync/internal/stock"
)

// stockSettings is the wire shape of the stored credentials.
// The key is never returned in full.
type stockSettings struct {
	APIURL     string `json:"api_url"`
	APIKey     string `json:"api_key"`
	Configured bool   `json:"configured"`
}

// maskKey keeps the last four characters of a key.
func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}

func validAPIURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func (s *Server) handleGetStockSettings(
	w http.ResponseWriter, r *http.Request,
) {
	apiURL, apiKey, err := s.resolver.Credentials(r.Context())
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stockSettings{
		APIURL:     apiURL,
		APIKey:     maskKey(apiKey),
		Configured: apiURL != "" && apiKey != "",
	})
}

func (s *Server) handlePutStockSettings(
	w http.ResponseWriter, r *http.Request,
) {
	var req struct {
		APIURL string `json:"api_url"`
		APIKey string `json:"api_key"`
	}
	if !decodeBody(w, r, &req, false) {
		return
	}
	apiURL := strings.TrimSpace(req.APIURL)
	if !validAPIURL(apiURL) {
		writeError(w, http.StatusBadRequest,
			"api_url must be an absolute http(s) URL")
		return
	}

	// A blank key keeps the stored one.
	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" {
		_, stored, err := s.resolver.Credentials(r.Context())
		if err != nil {
			if handleContextError(w, err) {
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		apiKey = stored
	}
	if apiKey == "" {
		writeError(w, http.StatusBadRequest, "api_key required")
		return
	}

	if err := s.resolver.SaveCredentials(
		r.Context(), apiURL, apiKey,
	); err != nil {
		if handleContextError(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError,
			"failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, stockSettings{
		APIURL:     apiURL,
		APIKey:     maskKey(apiKey),
		Configured: true,
	})
}

func (s *Server) handleTestConnection(
	w http.ResponseWriter, r *http.Request,
) {
	var req struct {
		APIURL string `json:"api_url"`
		APIKey string `json:"api_key"`
	}
	if !decodeBody(w, r, &req, true) {
		return
	}
	client, err := s.resolver.ResolveWith(
		r.Context(), req.APIURL, req.APIKey,
	)
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if client == nil {
		writeJSON(w, http.StatusOK, stock.ConnectionResult{
			Error: stock.ErrNotConfigured.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, client.TestConnection(r.Context()))
}
