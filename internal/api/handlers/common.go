// Package handlers provides HTTP handlers for the clinic API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

const maxBodyBytes = 4 << 20

func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	writeJSONAs(w, code, "application/json", v)
}

func writeJSONAs(w http.ResponseWriter, code int, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

var errMissingParam = errors.New("missing parameter")

// queryUUID parses a required uuid query parameter, accepting the first of
// names that is present.
func queryUUID(r *http.Request, names ...string) (uuid.UUID, error) {
	for _, name := range names {
		v := r.URL.Query().Get(name)
		if v == "" {
			continue
		}
		id, err := uuid.Parse(v)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%s must be a uuid", name)
		}
		return id, nil
	}
	return uuid.Nil, fmt.Errorf("%w: %s", errMissingParam, names[0])
}

type okResponse struct {
	OK bool `json:"ok"`
}
