package controller

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sunsetcarts/booking-widget/internal/models"
	"github.com/sunsetcarts/booking-widget/pkg/daterange"
)

// ============================================================================
// SUBMISSION FLOW
// ============================================================================

// onSubmit drives one submission attempt:
//
//	1. Validate the current selection locally (no backend call on failure)
//	2. Acquire an inventory hold
//	3. Attach the held booking to the cart
//	4. Signal the checkout redirect
//
// A submit while a step is in flight is ignored. When a prior attach failed
// and the hold is still alive, the flow resumes at step 3 with the same
// token; an expired hold restarts from step 1.
func (c *Controller) onSubmit() {
	if c.fatal != nil {
		return
	}

	switch c.phase {
	case PhaseAcquiringHold, PhaseAttaching, PhaseRedirecting:
		c.deps.Logger.WithField("phase", string(c.phase)).Debug("Ignoring re-entrant submit")
		return
	case PhaseAwaitingRetry:
		if c.holdStatus == models.HoldStatusActive && !c.hold.IsExpired(time.Now()) {
			c.statusMsg = ""
			c.lastErrKind = ""
			c.startAttach()
			return
		}
		// Hold died while waiting; fall through to a full restart.
		c.phase = PhaseIdle
	}

	// 1. Validate
	c.nights, c.dateErr = daterange.Validate(c.item.DateRange.Pickup, c.item.DateRange.Return, time.Now())
	if c.dateErr != nil {
		c.lastErrKind = models.ErrKindValidation
		msg := c.dateErr.Error()
		if errors.Is(c.dateErr, daterange.ErrMissingDates) {
			msg = "" // falls back to the generic prompt
		}
		c.statusMsg = models.NewValidationError(msg).Display()
		return
	}
	if c.cfg.RequireLocation && c.item.Location == "" {
		c.lastErrKind = models.ErrKindValidation
		c.statusMsg = "Please select a pickup location."
		return
	}

	c.statusMsg = ""
	c.lastErrKind = ""

	// 2. Acquire hold. A still-active hold from a superseded attempt is
	// simply abandoned to backend-side expiry; the new token replaces it.
	c.stopCountdown()
	c.hold = models.Hold{}
	c.holdLeft = 0
	c.phase = PhaseAcquiringHold
	c.holdStatus = models.HoldStatusPending
	c.opSeq++
	op := c.opSeq
	item := c.item

	c.deps.Logger.WithFields(logrus.Fields{
		"product_id": item.ProductID,
		"pickup":     daterange.Format(item.DateRange.Pickup),
		"return":     daterange.Format(item.DateRange.Return),
		"quantity":   item.Quantity,
	}).Info("Acquiring booking hold")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		defer cancel()

		hold, err := c.deps.Holder.CreateHold(ctx, item)
		c.post(holdResultEvent{op: op, hold: hold, err: err})
	}()
}

func (c *Controller) onHoldResult(ev holdResultEvent) {
	if ev.op != c.opSeq || c.phase != PhaseAcquiringHold {
		return
	}

	if ev.err != nil {
		c.phase = PhaseIdle
		c.holdStatus = models.HoldStatusAbsent
		c.lastErrKind = models.ErrKindHold
		c.statusMsg = models.DisplayOf(ev.err)
		c.deps.Logger.WithError(ev.err).Warn("Hold acquisition failed")
		return
	}

	c.hold = ev.hold
	c.holdStatus = models.HoldStatusActive
	c.holdLeft = ev.hold.SecondsLeft(time.Now())
	c.startCountdown()

	c.deps.Logger.WithFields(logrus.Fields{
		"expires_at":   ev.hold.ExpiresAt.Format(time.RFC3339),
		"seconds_left": c.holdLeft,
	}).Info("Booking hold acquired")

	// 3. Attach
	c.startAttach()
}

// startAttach begins (or resumes) cart attachment using the active hold
func (c *Controller) startAttach() {
	c.phase = PhaseAttaching
	c.opSeq++
	op := c.opSeq
	item := c.item
	hold := c.hold

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		defer cancel()

		err := c.deps.Cart.Attach(ctx, item, hold)
		c.post(attachResultEvent{op: op, err: err})
	}()
}

func (c *Controller) onAttachResult(ev attachResultEvent) {
	if ev.op != c.opSeq || c.phase != PhaseAttaching {
		return
	}

	if ev.err != nil {
		if c.holdStatus == models.HoldStatusActive {
			// The hold survives an attach failure; the shopper retries the
			// attachment alone, keeping the same token.
			c.phase = PhaseAwaitingRetry
			c.lastErrKind = models.ErrKindAttach
			c.statusMsg = models.DisplayOf(ev.err)
		} else {
			// The hold expired while the attach was in flight; the retry
			// must restart from validation.
			c.phase = PhaseIdle
			c.lastErrKind = models.ErrKindExpiry
			c.statusMsg = models.NewExpiryError().Display()
		}
		c.deps.Logger.WithError(ev.err).Warn("Cart attachment failed")
		return
	}

	// 4. Redirect. A late success after expiry still redirects: the cart
	// attachment went through, so the booking is recorded either way.
	c.consumeHold()
	c.phase = PhaseRedirecting
	c.statusMsg = ""
	c.lastErrKind = ""

	c.deps.Logger.WithField("redirect", c.cfg.CheckoutURL).Info("Booking submitted, redirecting to checkout")
}

// ============================================================================
// HOLD LIFECYCLE
// ============================================================================

func (c *Controller) startCountdown() {
	if c.countdown != nil {
		c.countdown.Stop()
	}
	c.countdown = time.NewTicker(c.cfg.CountdownInterval)
}

func (c *Controller) stopCountdown() {
	if c.countdown != nil {
		c.countdown.Stop()
		c.countdown = nil
	}
}

func (c *Controller) onCountdownTick() {
	if c.holdStatus != models.HoldStatusActive {
		c.stopCountdown()
		return
	}

	now := time.Now()
	c.holdLeft = c.hold.SecondsLeft(now)
	if c.hold.IsExpired(now) {
		c.expireHold()
	}
}

// expireHold transitions an active hold to expired. The token is cleared and
// never sent to the release endpoint: the backend reaps expired holds itself.
func (c *Controller) expireHold() {
	c.stopCountdown()
	c.holdStatus = models.HoldStatusExpired
	c.hold = models.Hold{}
	c.holdLeft = 0
	c.lastErrKind = models.ErrKindExpiry
	c.statusMsg = models.NewExpiryError().Display()

	// While an attach is in flight we only mark the hold; the attach result
	// decides the phase. Otherwise the flow restarts from validation.
	if c.phase == PhaseAwaitingRetry {
		c.phase = PhaseIdle
	}

	c.deps.Logger.WithField("product_id", c.item.ProductID).Info("Booking hold expired")
}

// consumeHold marks the active hold as spent by a successful cart attachment,
// disarming the abandonment release. No-op when the hold already expired.
func (c *Controller) consumeHold() {
	if c.holdStatus != models.HoldStatusActive {
		return
	}
	c.stopCountdown()
	c.holdStatus = models.HoldStatusConsumed
	c.hold = models.Hold{}
	c.holdLeft = 0
}

// teardown runs exactly once, on close. An active unconsumed hold is handed
// to the durable release sender so the capacity frees up without waiting for
// backend-side expiry.
func (c *Controller) teardown() {
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	c.stopCountdown()

	if c.holdStatus == models.HoldStatusActive && c.hold.Token != "" {
		c.deps.Releaser.Send(c.hold.Token)
		c.holdStatus = models.HoldStatusReleased
		c.hold = models.Hold{}
		c.deps.Logger.WithField("product_id", c.item.ProductID).Info("Released abandoned booking hold")
	}

	close(c.done)
}
