// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/equiprent/equiprent/internal/shared"
)

// Problem kinds reported in the "kind" member of error bodies.
const (
	KindValidation = "validation"
	KindConflict   = "conflict"
	KindNotFound   = "not_found"
	KindStorage    = "storage"
)

// productConflict is implemented by overlap errors that name the products involved.
type productConflict interface {
	ConflictingProductIDs() []int64
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	problem := ProblemFor(err)
	JSON(w, problem.Status, problem)
}

// ProblemFor classifies err into a problem document.
func ProblemFor(err error) ProblemDetail {
	switch {
	case errors.Is(err, shared.ErrValidation):
		return ProblemDetail{Title: "Validation Failed", Status: http.StatusBadRequest, Kind: KindValidation, Detail: err.Error()}
	case errors.Is(err, shared.ErrConflict):
		p := ProblemDetail{Title: "Conflict", Status: http.StatusConflict, Kind: KindConflict, Detail: err.Error()}
		var pc productConflict
		if errors.As(err, &pc) {
			p.ProductIDs = pc.ConflictingProductIDs()
		}
		return p
	case errors.Is(err, shared.ErrNotFound):
		return ProblemDetail{Title: "Not Found", Status: http.StatusNotFound, Kind: KindNotFound, Detail: err.Error()}
	default:
		return ProblemDetail{Title: "Internal Error", Status: http.StatusInternalServerError, Kind: KindStorage}
	}
}
