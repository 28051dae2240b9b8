// Package rentals is the rental ledger and the scheduling engine that keeps
// it free of double bookings.
package rentals

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/equiprent/equiprent/internal/shared"
)

var (
	// ErrRentalNotFound is returned when a rental id does not exist.
	ErrRentalNotFound = fmt.Errorf("rentals: rental %w", shared.ErrNotFound)
	// ErrDuplicateProject is returned when another rental already uses the project number.
	ErrDuplicateProject = fmt.Errorf("rentals: project number already in use: %w", shared.ErrConflict)
)

// ConflictError reports products that are already booked in an overlapping period.
type ConflictError struct {
	ProductIDs []int64
}

func (e *ConflictError) Error() string {
	ids := make([]string, len(e.ProductIDs))
	for i, id := range e.ProductIDs {
		ids[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("rentals: products %s already booked in an overlapping period", strings.Join(ids, ", "))
}

// Unwrap classifies the error as a conflict.
func (e *ConflictError) Unwrap() error {
	return shared.ErrConflict
}

// ConflictingProductIDs lists the products that caused the conflict.
func (e *ConflictError) ConflictingProductIDs() []int64 {
	return e.ProductIDs
}

// DateRange is an inclusive span of whole UTC days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange truncates both ends to civil dates and checks their order.
func NewDateRange(start, end time.Time) (DateRange, error) {
	if start.IsZero() || end.IsZero() {
		return DateRange{}, shared.Invalid("start and end dates are required")
	}
	r := DateRange{Start: shared.CivilDate(start), End: shared.CivilDate(end)}
	if r.Start.After(r.End) {
		return DateRange{}, shared.Invalid("start date %s is after end date %s", shared.FormatDate(r.Start), shared.FormatDate(r.End))
	}
	return r, nil
}

// Overlaps reports whether the ranges share at least one day. Touching
// endpoints count as overlap.
func (r DateRange) Overlaps(o DateRange) bool {
	return !r.Start.After(o.End) && !r.End.Before(o.Start)
}

// Covers reports whether day falls inside the range.
func (r DateRange) Covers(day time.Time) bool {
	d := shared.CivilDate(day)
	return !d.Before(r.Start) && !d.After(r.End)
}

func (r DateRange) String() string {
	return shared.FormatDate(r.Start) + ".." + shared.FormatDate(r.End)
}

// Rental reserves a set of products for a project over a date range.
type Rental struct {
	ID            int64     `json:"id"`
	ProjectNumber string    `json:"project_number"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	ProductIDs    []int64   `json:"product_ids"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Range returns the rental period.
func (r Rental) Range() DateRange {
	return DateRange{Start: r.Start, End: r.End}
}

// Input carries the caller-supplied fields for create and update.
type Input struct {
	ProjectNumber string    `validate:"required,max=100"`
	ProductIDs    []int64   `validate:"required,min=1,dive,gt=0"`
	Start         time.Time `validate:"required"`
	End           time.Time `validate:"required"`
}

// Summary is the listing representation of a rental.
type Summary struct {
	ID            int64     `json:"id"`
	ProjectNumber string    `json:"project_number"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	ProductNames  []string  `json:"product_names"`
}

// CreateOptions tunes a single create call.
type CreateOptions struct {
	// IdempotencyKey makes a retried request fail with a conflict instead of
	// booking twice.
	IdempotencyKey string
}

// difference returns the ids in a that are not in b. Both must be sorted.
func difference(a, b []int64) []int64 {
	var out []int64
	for _, id := range a {
		if _, found := slices.BinarySearch(b, id); !found {
			out = append(out, id)
		}
	}
	return out
}
