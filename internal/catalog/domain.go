// Package catalog manages the equipment inventory: products, their stored
// status and the status callers actually see.
package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/equiprent/equiprent/internal/shared"
)

// Status is the lifecycle state of a product.
type Status string

const (
	StatusOnHand    Status = "ON_HAND"
	StatusInService Status = "IN_SERVICE"
	StatusOnRental  Status = "ON_RENTAL"
)

// legacyLabels maps labels used by older clients onto Status values.
var legacyLabels = map[string]Status{
	"på lager":   StatusOnHand,
	"på service": StatusInService,
	"på utleie":  StatusOnRental,
}

// ErrProductNotFound is returned when a product id does not exist.
var ErrProductNotFound = fmt.Errorf("catalog: product %w", shared.ErrNotFound)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOnHand, StatusInService, StatusOnRental:
		return true
	}
	return false
}

// ParseStatus accepts a canonical status or a legacy label, case-insensitively.
func ParseStatus(raw string) (Status, error) {
	trimmed := strings.TrimSpace(raw)
	if s := Status(strings.ToUpper(trimmed)); s.Valid() {
		return s, nil
	}
	if s, ok := legacyLabels[strings.ToLower(trimmed)]; ok {
		return s, nil
	}
	return "", shared.Invalid("unknown product status %q", raw)
}

// EffectiveStatus derives the externally visible status. A product referenced
// by a rental covering today is ON_RENTAL regardless of what is stored.
func EffectiveStatus(explicit Status, activeToday bool) Status {
	if activeToday {
		return StatusOnRental
	}
	return explicit
}

// Product is a single physical item.
type Product struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Location       string    `json:"location"`
	ExplicitStatus Status    `json:"explicit_status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ProductRow is a product joined with whether any rental covers the queried day.
type ProductRow struct {
	Product
	ActiveToday bool
}

// ProductView is the listing representation.
type ProductView struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Location        string `json:"location"`
	EffectiveStatus Status `json:"effective_status"`
	ExplicitStatus  Status `json:"explicit_status"`
}

// View applies EffectiveStatus to a row.
func (r ProductRow) View() ProductView {
	return ProductView{
		ID:              r.ID,
		Name:            r.Name,
		Location:        r.Location,
		EffectiveStatus: EffectiveStatus(r.ExplicitStatus, r.ActiveToday),
		ExplicitStatus:  r.ExplicitStatus,
	}
}

// CreateInput carries the fields for a new product. An empty Status means ON_HAND.
type CreateInput struct {
	Name     string `json:"name" validate:"required,max=200"`
	Location string `json:"location" validate:"required,max=200"`
	Status   string `json:"status"`
}
