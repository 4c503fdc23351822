package models

import (
	"time"

	"github.com/sunsetcarts/booking-widget/pkg/daterange"
)

// ============================================================================
// HOLD
// ============================================================================

// HoldStatus represents the lifecycle state of an inventory hold
type HoldStatus string

const (
	HoldStatusAbsent   HoldStatus = "absent"   // No hold requested yet
	HoldStatusPending  HoldStatus = "pending"  // Hold request in flight
	HoldStatusActive   HoldStatus = "active"   // Token and expiry known
	HoldStatusConsumed HoldStatus = "consumed" // Attached to cart and cleared
	HoldStatusExpired  HoldStatus = "expired"  // Countdown elapsed
	HoldStatusReleased HoldStatus = "released" // Explicitly released on abandonment
)

// Hold is a time-boxed reservation of inventory capacity, identified by an
// opaque token and an absolute expiry instant. It is owned exclusively by the
// controller instance that created it.
type Hold struct {
	Token     string    `json:"booking_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired checks whether the hold's expiry instant has passed
func (h Hold) IsExpired(now time.Time) bool {
	return !now.Before(h.ExpiresAt)
}

// SecondsLeft returns the remaining hold lifetime at 1-second resolution,
// never negative
func (h Hold) SecondsLeft(now time.Time) int {
	left := int(h.ExpiresAt.Sub(now).Seconds())
	if left < 0 {
		return 0
	}
	return left
}

// ============================================================================
// LINE ITEM
// ============================================================================

// BookingLineItem is the rental being configured by the shopper. ProductID,
// VariantID and the extra attributes are fixed at widget load; DateRange,
// Quantity and Location mutate on user input.
type BookingLineItem struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id"`
	Quantity  int             `json:"quantity"`
	DateRange daterange.Range `json:"date_range"`

	// Location is the selected pickup location ID, empty when the widget
	// does not use a location selector.
	Location string `json:"location,omitempty"`

	// LocationName is the display name of the selected location, carried as
	// a human-readable cart attribute.
	LocationName string `json:"location_name,omitempty"`
}

// ============================================================================
// AVAILABILITY
// ============================================================================

// AvailabilityQuery identifies one availability check. The prober tags each
// issued query with a monotonic sequence number; responses are matched by
// that number, never by field equality.
type AvailabilityQuery struct {
	ProductID string
	DateRange daterange.Range
	Quantity  int
	Location  string
}

// AvailabilityResult is the backend's answer for a single query
type AvailabilityResult struct {
	Available bool   `json:"available"`
	Reason    string `json:"error,omitempty"`
}

// ============================================================================
// WIDGET CONFIG
// ============================================================================

// Location is a pickup location offered by the rental backend
type Location struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WidgetConfig is the one-time configuration fetched from the backend at
// widget initialization
type WidgetConfig struct {
	Locations []Location `json:"locations"`
}
