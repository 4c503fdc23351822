// Package controller implements the booking widget core: one controller
// instance owns one shopper's pickup/return selection, availability probing,
// inventory hold and cart submission, driven by a single event loop.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sunsetcarts/booking-widget/internal/models"
	"github.com/sunsetcarts/booking-widget/pkg/daterange"
)

// ProbeStatus is the availability prober state exposed to the UI
type ProbeStatus string

const (
	ProbeIdle        ProbeStatus = "idle"        // No valid query yet
	ProbeChecking    ProbeStatus = "checking"    // Debounce armed or probe in flight
	ProbeAvailable   ProbeStatus = "available"   // Latest probe succeeded
	ProbeUnavailable ProbeStatus = "unavailable" // Backend reported unavailable
	ProbeFailed      ProbeStatus = "failed"      // Probe errored; manual retry allowed
)

// Phase is the submission orchestrator state
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseAcquiringHold Phase = "acquiring_hold"
	PhaseAttaching     Phase = "attaching_to_cart"
	PhaseAwaitingRetry Phase = "awaiting_retry" // Attach failed, hold still active
	PhaseRedirecting   Phase = "redirecting"    // Terminal
)

// AvailabilityChecker queries the backend for date range availability
type AvailabilityChecker interface {
	CheckAvailability(ctx context.Context, query models.AvailabilityQuery) (models.AvailabilityResult, error)
}

// HoldAcquirer creates inventory holds on the backend
type HoldAcquirer interface {
	CreateHold(ctx context.Context, item models.BookingLineItem) (models.Hold, error)
}

// CartAttacher adds a held booking to the storefront cart
type CartAttacher interface {
	Attach(ctx context.Context, item models.BookingLineItem, hold models.Hold) error
}

// ReleaseSender delivers a fire-and-forget hold release. Implementations
// must attempt delivery even while the controller is being torn down.
type ReleaseSender interface {
	Send(token string)
}

// Config parameterizes one widget controller instance
type Config struct {
	ProductID string
	VariantID string

	// RatePerNight is the display rate in cents.
	RatePerNight int64

	// MoneyFormat is the storefront money format template.
	MoneyFormat string

	// RequireLocation hides the form when no locations are configured and
	// blocks probing until one is selected.
	RequireLocation bool

	// Locations is the selector population fetched at initialization.
	Locations []models.Location

	// CheckoutURL is the redirect target after a successful submission.
	CheckoutURL string

	// DebounceDelay is the quiet period before an availability probe.
	DebounceDelay time.Duration

	// CountdownInterval is the hold countdown resolution.
	CountdownInterval time.Duration

	// RequestTimeout bounds each backend call issued by the controller.
	RequestTimeout time.Duration
}

// Deps are the controller's collaborators
type Deps struct {
	Checker  AvailabilityChecker
	Holder   HoldAcquirer
	Cart     CartAttacher
	Releaser ReleaseSender
	Logger   *logrus.Logger
}

// Controller is the unified booking widget controller. All state below the
// deps is owned by the event loop goroutine and never touched from outside
// it; public methods communicate through the mailbox only.
type Controller struct {
	cfg  Config
	deps Deps

	events    chan event
	done      chan struct{}
	closeOnce sync.Once

	// Loop-owned state.
	item    models.BookingLineItem
	nights  int
	dateErr error // current validation error, nil when the range is valid
	fatal   *models.BookingError

	probeStatus ProbeStatus
	probeReason string
	probeSeq    uint64 // last issued probe sequence
	latestProbe uint64 // sequence whose result may apply; 0 = none

	debounce *time.Timer

	holdStatus models.HoldStatus
	hold       models.Hold
	countdown  *time.Ticker
	holdLeft   int // seconds, 1s resolution

	phase       Phase
	opSeq       uint64 // guards stale hold/attach completions
	statusMsg   string
	lastErrKind models.ErrorKind
}

// event is the tagged union flowing through the controller mailbox
type event interface{ isEvent() }

type setDatesEvent struct{ pickup, ret string }
type setQuantityEvent struct{ quantity int }
type setLocationEvent struct{ id string }
type submitEvent struct{}
type closeEvent struct{}
type snapshotEvent struct{ reply chan Snapshot }

type probeResultEvent struct {
	seq    uint64
	result models.AvailabilityResult
	err    error
}

type holdResultEvent struct {
	op   uint64
	hold models.Hold
	err  error
}

type attachResultEvent struct {
	op  uint64
	err error
}

func (setDatesEvent) isEvent()     {}
func (setQuantityEvent) isEvent()  {}
func (setLocationEvent) isEvent()  {}
func (submitEvent) isEvent()       {}
func (closeEvent) isEvent()        {}
func (snapshotEvent) isEvent()     {}
func (probeResultEvent) isEvent()  {}
func (holdResultEvent) isEvent()   {}
func (attachResultEvent) isEvent() {}

// New creates a controller and starts its event loop
func New(cfg Config, deps Deps) *Controller {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 500 * time.Millisecond
	}
	if cfg.CountdownInterval <= 0 {
		cfg.CountdownInterval = time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.CheckoutURL == "" {
		cfg.CheckoutURL = "/checkout"
	}

	c := &Controller{
		cfg:    cfg,
		deps:   deps,
		events: make(chan event, 16),
		done:   make(chan struct{}),
		item: models.BookingLineItem{
			ProductID: cfg.ProductID,
			VariantID: cfg.VariantID,
			Quantity:  1,
		},
		probeStatus: ProbeIdle,
		holdStatus:  models.HoldStatusAbsent,
		phase:       PhaseIdle,
	}

	if cfg.RequireLocation && len(cfg.Locations) == 0 {
		c.fatal = models.NewConfigError("")
		deps.Logger.WithFields(logrus.Fields{
			"product_id": cfg.ProductID,
		}).Error("Widget disabled: location required but none configured")
	}

	go c.run()
	return c
}

// SetDates applies a pickup/return selection, both as YYYY-MM-DD strings
// (empty means unset)
func (c *Controller) SetDates(pickup, ret string) {
	c.post(setDatesEvent{pickup: pickup, ret: ret})
}

// SetQuantity applies a quantity selection
func (c *Controller) SetQuantity(quantity int) {
	c.post(setQuantityEvent{quantity: quantity})
}

// SetLocation applies a pickup location selection
func (c *Controller) SetLocation(id string) {
	c.post(setLocationEvent{id: id})
}

// Submit starts a submission attempt. A submit while one is already in
// flight is ignored.
func (c *Controller) Submit() {
	c.post(submitEvent{})
}

// Snapshot returns the current view state
func (c *Controller) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	c.post(snapshotEvent{reply: reply})
	select {
	case s := <-reply:
		return s
	case <-c.done:
		return Snapshot{Closed: true, FormHidden: true}
	}
}

// Close tears the controller down. An active unconsumed hold is released
// exactly once through the durable sender; further calls are no-ops.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		select {
		case c.events <- closeEvent{}:
		case <-c.done:
		}
	})
	<-c.done
}

// Done is closed once the controller has fully torn down
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// run is the event loop. It owns every field of the controller; there is no
// other writer, so no locking discipline is needed.
func (c *Controller) run() {
	for {
		var debounceC, tickC <-chan time.Time
		if c.debounce != nil {
			debounceC = c.debounce.C
		}
		if c.countdown != nil {
			tickC = c.countdown.C
		}

		select {
		case ev := <-c.events:
			if _, ok := ev.(closeEvent); ok {
				c.teardown()
				return
			}
			c.handle(ev)
		case <-debounceC:
			c.debounce = nil
			c.issueProbe()
		case <-tickC:
			c.onCountdownTick()
		}
	}
}

func (c *Controller) handle(ev event) {
	switch ev := ev.(type) {
	case setDatesEvent:
		c.onSetDates(ev.pickup, ev.ret)
	case setQuantityEvent:
		c.onSetQuantity(ev.quantity)
	case setLocationEvent:
		c.onSetLocation(ev.id)
	case submitEvent:
		c.onSubmit()
	case snapshotEvent:
		ev.reply <- c.buildSnapshot()
	case probeResultEvent:
		c.onProbeResult(ev)
	case holdResultEvent:
		c.onHoldResult(ev)
	case attachResultEvent:
		c.onAttachResult(ev)
	}
}

// ============================================================================
// INPUT HANDLING & AVAILABILITY PROBER
// ============================================================================

// inputLocked reports whether user input is currently ignored because a
// submission step is in flight or the flow has reached its terminal state
func (c *Controller) inputLocked() bool {
	return c.fatal != nil ||
		c.phase == PhaseAcquiringHold ||
		c.phase == PhaseAttaching ||
		c.phase == PhaseRedirecting
}

func (c *Controller) onSetDates(pickupStr, retStr string) {
	if c.inputLocked() {
		return
	}

	pickup, err := daterange.Parse(pickupStr)
	if err != nil {
		pickup = time.Time{}
	}
	ret, err := daterange.Parse(retStr)
	if err != nil {
		ret = time.Time{}
	}

	pickupChanged := !pickup.Equal(c.item.DateRange.Pickup)

	// When pickup moves to or past the selected return, the return
	// selection is cleared (not silently corrected) so the shopper must
	// re-choose.
	if pickupChanged && !pickup.IsZero() && !ret.IsZero() && !ret.After(pickup) {
		ret = time.Time{}
	}

	c.item.DateRange = daterange.Range{Pickup: pickup, Return: ret}
	c.onInputChanged()
}

func (c *Controller) onSetQuantity(quantity int) {
	if c.inputLocked() {
		return
	}
	if quantity < 1 {
		quantity = 1
	}
	c.item.Quantity = quantity
	c.onInputChanged()
}

func (c *Controller) onSetLocation(id string) {
	if c.inputLocked() {
		return
	}

	c.item.Location = ""
	c.item.LocationName = ""
	for _, loc := range c.cfg.Locations {
		if loc.ID == id {
			c.item.Location = loc.ID
			c.item.LocationName = loc.Name
			break
		}
	}
	c.onInputChanged()
}

// onInputChanged revalidates after any input mutation and re-arms or resets
// the prober. Any user input leaves the awaiting-retry path: the next submit
// re-validates and acquires a fresh hold.
func (c *Controller) onInputChanged() {
	if c.phase == PhaseAwaitingRetry {
		c.phase = PhaseIdle
	}
	c.statusMsg = ""
	c.lastErrKind = ""

	c.nights, c.dateErr = daterange.Validate(c.item.DateRange.Pickup, c.item.DateRange.Return, time.Now())

	if c.dateErr != nil || (c.cfg.RequireLocation && c.item.Location == "") {
		c.resetProber()
		return
	}

	c.probeStatus = ProbeChecking
	c.probeReason = ""
	c.armDebounce()
}

// resetProber cancels any pending debounce and invalidates in-flight probe
// responses so they are discarded on arrival
func (c *Controller) resetProber() {
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	c.latestProbe = 0
	c.probeStatus = ProbeIdle
	c.probeReason = ""
}

func (c *Controller) armDebounce() {
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.debounce = time.NewTimer(c.cfg.DebounceDelay)
	// Invalidate any probe already in flight: its sequence can no longer
	// match, so its response will be discarded regardless of arrival order.
	c.latestProbe = 0
}

// issueProbe fires the debounced availability query, tagging it with a fresh
// sequence number. Only the response matching latestProbe may apply.
func (c *Controller) issueProbe() {
	if c.dateErr != nil || c.fatal != nil {
		return
	}

	c.probeSeq++
	seq := c.probeSeq
	c.latestProbe = seq
	c.probeStatus = ProbeChecking

	query := models.AvailabilityQuery{
		ProductID: c.item.ProductID,
		DateRange: c.item.DateRange,
		Quantity:  c.item.Quantity,
		Location:  c.item.Location,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		defer cancel()

		result, err := c.deps.Checker.CheckAvailability(ctx, query)
		c.post(probeResultEvent{seq: seq, result: result, err: err})
	}()
}

func (c *Controller) onProbeResult(ev probeResultEvent) {
	// Last-query-wins: results for superseded queries are discarded, no
	// matter when they arrive.
	if ev.seq != c.latestProbe {
		c.deps.Logger.WithFields(logrus.Fields{
			"seq":    ev.seq,
			"latest": c.latestProbe,
		}).Debug("Discarding stale availability result")
		return
	}

	switch {
	case ev.err != nil:
		// Submission stays enabled so the shopper can retry manually.
		c.probeStatus = ProbeFailed
		c.probeReason = models.DisplayOf(ev.err)
		c.deps.Logger.WithError(ev.err).Warn("Availability probe failed")
	case ev.result.Available:
		c.probeStatus = ProbeAvailable
		c.probeReason = ""
	default:
		c.probeStatus = ProbeUnavailable
		c.probeReason = ev.result.Reason
		if c.probeReason == "" {
			c.probeReason = models.NewAvailabilityError("These dates are not available.", nil).Display()
		}
	}
}
