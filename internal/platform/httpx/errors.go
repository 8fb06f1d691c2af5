// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/secengine/internal/datatypes"
	"github.com/odyssey-erp/secengine/internal/security"
)

// ErrValidation marks a request rejected before reaching the engine.
var ErrValidation = errors.New("validation failed")

// RespondError maps engine errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, security.ErrNotFound), errors.Is(err, security.ErrNoUserSession):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, security.ErrInvalidState):
		Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, datatypes.ErrUnparsable), errors.Is(err, datatypes.ErrUnknownDatatype):
		Problem(w, http.StatusUnprocessableEntity, "Unprocessable Group Definition", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
