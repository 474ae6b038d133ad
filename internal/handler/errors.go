package handler

import (
	"errors"
	"net/http"

	"cms-backend/internal/model"
)

// statusFromError maps domain errors onto HTTP status codes. Wrong-state
// transitions are conflicts, permission failures are forbidden, everything
// unrecognized is a 500.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, model.ErrPermissionDenied):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
