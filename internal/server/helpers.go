package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/knotty-dev/knotty/internal/apierror"
	"github.com/knotty-dev/knotty/internal/schema"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError serializes domain errors with their status and extra
// headers. Anything else is an internal error; the detail stays
// generic and the cause goes to the log.
func writeError(w http.ResponseWriter, err error) {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		for key, values := range apiErr.Header {
			for _, v := range values {
				w.Header().Add(key, v)
			}
		}
		writeJSON(w, apiErr.Status, apiErr)
		return
	}

	logger.Error("internal error", "err", err)
	writeJSON(w, http.StatusInternalServerError, &apierror.Error{
		Detail: "Internal server error",
	})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, schema.Message{Message: message})
}

// validator is implemented by every mutating request body.
type validator interface {
	Validate() error
}

// decodeBody reads a JSON payload into dst and runs its validation.
func decodeBody(r *http.Request, dst validator) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return apierror.Validation("Request body is not valid JSON")
	}
	return dst.Validate()
}
