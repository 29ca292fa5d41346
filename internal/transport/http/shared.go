// Package httptransport is the thin HTTP layer over the consent domain. It
// decodes the action protocol, delegates to the banner facade, and owns
// cookie writing; no business logic lives here.
package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "consentgate/pkg/domain-errors"
)

// WriteJSON encodes v with the standard headers.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates domain error codes into HTTP responses with a
// consistent JSON envelope.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	var de *dErrors.Error
	if errors.As(err, &de) {
		message = de.Message
		switch de.Code {
		case dErrors.CodeInvalidInput:
			status = http.StatusBadRequest
		case dErrors.CodeNotFound:
			status = http.StatusNotFound
		case dErrors.CodeUnauthorized:
			status = http.StatusUnauthorized
		case dErrors.CodeStorage, dErrors.CodeInternal, dErrors.CodeInvalidConfig:
			status = http.StatusInternalServerError
			message = "internal error"
		}
	}

	WriteJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
