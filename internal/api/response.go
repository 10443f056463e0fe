package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"

	autoerrors "github.com/randalmurphal/autoform/internal/errors"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// CORS wraps handlers with CORS headers. An empty origin list allows any
// origin; otherwise the request's Origin is echoed only when listed.
func CORS(origins []string) func(http.HandlerFunc) http.HandlerFunc {
	return func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			switch origin := r.Header.Get("Origin"); {
			case len(origins) == 0:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case slices.Contains(origins, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			h(w, r)
		}
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

// writeError renders err as a structured AutoformError with its HTTP status.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	ae := autoerrors.AsAutoformError(err)
	if ae.Code == autoerrors.CodeInternal {
		s.logger.Error("request failed", "error", err)
	}
	s.jsonResponse(w, ae.HTTPStatus(), map[string]any{"error": ae})
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return autoerrors.ErrInvalidInput("malformed JSON body: " + err.Error())
	}
	return nil
}
