// Package handlers provides HTTP handlers for the fotopdf API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/docker/go-units"

	"github.com/spherical/fotopdf/internal/domain"
	"github.com/spherical/fotopdf/internal/observability"
)

// ErrorDTO is the body of every non-2xx JSON response.
type ErrorDTO struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// StatusFor maps an error to the HTTP status reported to the client.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrResultNotFound),
		errors.Is(err, domain.ErrImageNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrOperationInProgress), errors.Is(err, domain.ErrImagesChanged):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, domain.ErrNoValidImages), errors.Is(err, domain.ErrParse):
		return http.StatusUnprocessableEntity
	case domain.IsType(err, domain.ErrorTypeValidation):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	writeJSON(w, status, ErrorDTO{Error: message, Message: message, Detail: detail})
}

// writeDomainError reports err with the status StatusFor picks. Server-side
// failures are logged; client errors are not.
func writeDomainError(w http.ResponseWriter, logger *observability.Logger, message string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg(message)
	}
	writeError(w, status, message, err.Error())
}

func humanSize(n int64) string {
	return units.HumanSize(float64(n))
}
