package auth

import (
	"context"
	"errors"
	"net/http"
)

// PlantAllowed reports whether the identity in ctx may access plantID.
func PlantAllowed(ctx context.Context, plantID string) bool {
	plants := PlantsFromContext(ctx)
	if len(plants) == 0 {
		return true
	}
	for _, plant := range plants {
		if plant == plantID {
			return true
		}
	}
	return false
}

// EnsurePlantAccess returns ErrForbidden when the identity is scoped to other plants.
func EnsurePlantAccess(ctx context.Context, plantID string) error {
	if plantID == "" || PlantAllowed(ctx, plantID) {
		return nil
	}
	return ErrForbidden
}

// RespondError maps auth errors to HTTP status codes.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidToken):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	default:
		http.Error(w, "access check failed", http.StatusInternalServerError)
	}
}
