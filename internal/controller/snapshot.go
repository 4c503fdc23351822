package controller

import (
	"time"

	"github.com/sunsetcarts/booking-widget/internal/models"
	"github.com/sunsetcarts/booking-widget/pkg/daterange"
	"github.com/sunsetcarts/booking-widget/pkg/money"
)

// Submit button labels
const (
	labelBookNow     = "Book Now"
	labelChecking    = "Checking Availability..."
	labelUnavailable = "Unavailable"
	labelReserving   = "Reserving..."
	labelAdding      = "Adding to Cart..."
	labelRetryAttach = "Retry Add to Cart"
	labelRetry       = "Retry"
	labelExpired     = "Expired"
	labelRedirecting = "Redirecting..."
)

// Snapshot is the complete derived view state of one widget controller,
// serialized to the embedding page on every poll.
type Snapshot struct {
	Closed       bool   `json:"closed,omitempty"`
	FormHidden   bool   `json:"form_hidden"`
	FatalMessage string `json:"fatal_message,omitempty"`

	Locations []models.Location `json:"locations,omitempty"`
	Location  string            `json:"location,omitempty"`

	PickupDate    string `json:"pickup_date,omitempty"`
	ReturnDate    string `json:"return_date,omitempty"`
	MinPickupDate string `json:"min_pickup_date"`
	MinReturnDate string `json:"min_return_date,omitempty"`
	Quantity      int    `json:"quantity"`

	Nights       int    `json:"nights"`
	ShowPrice    bool   `json:"show_price"`
	PriceDisplay string `json:"price_display,omitempty"`

	Availability  ProbeStatus `json:"availability"`
	StatusMessage string      `json:"status_message,omitempty"`

	SubmitEnabled bool   `json:"submit_enabled"`
	SubmitLabel   string `json:"submit_label"`

	HoldActive      bool `json:"hold_active"`
	HoldSecondsLeft int  `json:"hold_seconds_left,omitempty"`

	RedirectURL string `json:"redirect_url,omitempty"`
}

// buildSnapshot derives the view state from loop-owned fields. It never
// mutates the controller.
func (c *Controller) buildSnapshot() Snapshot {
	now := time.Now()

	s := Snapshot{
		Locations:     c.cfg.Locations,
		Location:      c.item.Location,
		PickupDate:    daterange.Format(c.item.DateRange.Pickup),
		ReturnDate:    daterange.Format(c.item.DateRange.Return),
		MinPickupDate: daterange.Format(daterange.DateOnly(now)),
		Quantity:      c.item.Quantity,
		Nights:        c.nights,
		Availability:  c.probeStatus,
	}

	if c.fatal != nil {
		s.FormHidden = true
		s.FatalMessage = c.fatal.Display()
		s.SubmitLabel = labelUnavailable
		return s
	}

	if !c.item.DateRange.Pickup.IsZero() {
		s.MinReturnDate = daterange.Format(daterange.MinReturn(c.item.DateRange.Pickup))
	}

	// Price preview tracks the validated range only.
	if c.nights > 0 && c.dateErr == nil {
		s.ShowPrice = true
		s.PriceDisplay = money.Format(money.Total(c.nights, c.cfg.RatePerNight), c.cfg.MoneyFormat)
	}

	s.HoldActive = c.holdStatus == models.HoldStatusActive
	if s.HoldActive {
		s.HoldSecondsLeft = c.holdLeft
	}

	s.StatusMessage = c.statusMsg
	if s.StatusMessage == "" && (c.probeStatus == ProbeUnavailable || c.probeStatus == ProbeFailed) {
		s.StatusMessage = c.probeReason
	}

	s.SubmitLabel, s.SubmitEnabled = c.submitState()
	if c.phase == PhaseRedirecting {
		s.RedirectURL = c.cfg.CheckoutURL
	}

	return s
}

// submitState derives the submit button label and enablement from the
// orchestrator phase, the last error and the prober state
func (c *Controller) submitState() (string, bool) {
	switch c.phase {
	case PhaseAcquiringHold:
		return labelReserving, false
	case PhaseAttaching:
		return labelAdding, false
	case PhaseAwaitingRetry:
		return labelRetryAttach, true
	case PhaseRedirecting:
		return labelRedirecting, false
	}

	// Idle: errors from the last attempt take precedence over prober state.
	switch c.lastErrKind {
	case models.ErrKindExpiry:
		return labelExpired, true
	case models.ErrKindHold:
		return labelRetry, true
	}

	switch c.probeStatus {
	case ProbeChecking:
		return labelChecking, false
	case ProbeUnavailable:
		return labelUnavailable, false
	case ProbeAvailable, ProbeFailed:
		// A failed probe never blocks submission; the hold request is the
		// authoritative availability check.
		return labelBookNow, true
	}

	return labelBookNow, false
}
