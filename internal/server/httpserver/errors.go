package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/legacyvault/internal/common"
)

// shareNotAccepted is the single answer to any failed share submission, so
// a contact cannot tell a bad share from a closed request.
const shareNotAccepted = "share not accepted"

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps service errors to HTTP. Unknown errors are internal.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrorValidation), errors.Is(err, common.ErrWeakSecret):
		return http.StatusBadRequest, err.Error()

	case errors.Is(err, common.ErrDecryption):
		return http.StatusUnauthorized, "invalid password"
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired),
		errors.Is(err, common.ErrSessionNotFound):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, common.ErrSessionScope):
		return http.StatusForbidden, err.Error()

	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, err.Error()

	case errors.Is(err, common.ErrShareRejected):
		return http.StatusUnprocessableEntity, shareNotAccepted

	case errors.Is(err, common.ErrorAlreadyExists),
		errors.Is(err, common.ErrAlreadyOpen),
		errors.Is(err, common.ErrRequestClosed),
		errors.Is(err, common.ErrInvalidTransition),
		errors.Is(err, common.ErrContactsLocked),
		errors.Is(err, common.ErrContactLimit),
		errors.Is(err, common.ErrContactsNotReady),
		errors.Is(err, common.ErrVaultNotInitialized),
		errors.Is(err, common.ErrVaultInitialized):
		return http.StatusConflict, err.Error()
	}
	return http.StatusInternalServerError, "internal error"
}
