package controller

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunsetcarts/booking-widget/internal/models"
)

// ============================================================================
// FAKES
// ============================================================================

type fakeChecker struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, query models.AvailabilityQuery) (models.AvailabilityResult, error)
	calls int
}

func (f *fakeChecker) CheckAvailability(ctx context.Context, query models.AvailabilityQuery) (models.AvailabilityResult, error) {
	f.mu.Lock()
	f.calls++
	fn := f.fn
	f.mu.Unlock()

	if fn == nil {
		return models.AvailabilityResult{Available: true}, nil
	}
	return fn(ctx, query)
}

func (f *fakeChecker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeHolder struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, item models.BookingLineItem) (models.Hold, error)
	calls int
}

func (f *fakeHolder) CreateHold(ctx context.Context, item models.BookingLineItem) (models.Hold, error) {
	f.mu.Lock()
	f.calls++
	fn := f.fn
	f.mu.Unlock()

	if fn == nil {
		return models.Hold{Token: "tok-1", ExpiresAt: time.Now().Add(time.Minute)}, nil
	}
	return fn(ctx, item)
}

func (f *fakeHolder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAttacher struct {
	mu     sync.Mutex
	fn     func(ctx context.Context, item models.BookingLineItem, hold models.Hold) error
	tokens []string
}

func (f *fakeAttacher) Attach(ctx context.Context, item models.BookingLineItem, hold models.Hold) error {
	f.mu.Lock()
	f.tokens = append(f.tokens, hold.Token)
	fn := f.fn
	f.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn(ctx, item, hold)
}

func (f *fakeAttacher) attachedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...)
}

type fakeReleaser struct {
	mu     sync.Mutex
	tokens []string
}

func (f *fakeReleaser) Send(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
}

func (f *fakeReleaser) released() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...)
}

// ============================================================================
// HELPERS
// ============================================================================

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type testDeps struct {
	checker  *fakeChecker
	holder   *fakeHolder
	attacher *fakeAttacher
	releaser *fakeReleaser
}

func newTestController(t *testing.T, cfg Config) (*Controller, *testDeps) {
	t.Helper()

	deps := &testDeps{
		checker:  &fakeChecker{},
		holder:   &fakeHolder{},
		attacher: &fakeAttacher{},
		releaser: &fakeReleaser{},
	}

	if cfg.ProductID == "" {
		cfg.ProductID = "cart-4seat"
	}
	if cfg.VariantID == "" {
		cfg.VariantID = "41234"
	}
	if cfg.RatePerNight == 0 {
		cfg.RatePerNight = 5000
	}
	// Fast timers so tests stay quick.
	if cfg.DebounceDelay == 0 {
		cfg.DebounceDelay = 10 * time.Millisecond
	}
	if cfg.CountdownInterval == 0 {
		cfg.CountdownInterval = 20 * time.Millisecond
	}

	ctrl := New(cfg, Deps{
		Checker:  deps.checker,
		Holder:   deps.holder,
		Cart:     deps.attacher,
		Releaser: deps.releaser,
		Logger:   testLogger(),
	})
	t.Cleanup(ctrl.Close)

	return ctrl, deps
}

func setValidDates(ctrl *Controller) {
	ctrl.SetDates("2030-06-01", "2030-06-04")
}

func waitForLabel(t *testing.T, ctrl *Controller, label string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return ctrl.Snapshot().SubmitLabel == label
	}, 2*time.Second, 5*time.Millisecond, "never reached label %q", label)
}

// ============================================================================
// VALIDATION & PRICING
// ============================================================================

func TestController_ValidRangeShowsPrice(t *testing.T) {
	ctrl, _ := newTestController(t, Config{})

	setValidDates(ctrl)

	assert.Eventually(t, func() bool {
		s := ctrl.Snapshot()
		return s.ShowPrice && s.Nights == 3 && s.PriceDisplay == "$150.00"
	}, time.Second, 5*time.Millisecond)
}

func TestController_PastPickupNeverProbes(t *testing.T) {
	ctrl, deps := newTestController(t, Config{})

	ctrl.SetDates("2020-01-01", "2030-06-04")
	time.Sleep(50 * time.Millisecond)

	s := ctrl.Snapshot()
	assert.Equal(t, ProbeIdle, s.Availability)
	assert.False(t, s.SubmitEnabled)
	assert.Zero(t, deps.checker.callCount())
}

func TestController_PickupChangeClearsStaleReturn(t *testing.T) {
	ctrl, _ := newTestController(t, Config{})

	ctrl.SetDates("2030-06-01", "2030-06-03")
	// Pickup jumps past the selected return.
	ctrl.SetDates("2030-06-05", "2030-06-03")

	assert.Eventually(t, func() bool {
		s := ctrl.Snapshot()
		return s.PickupDate == "2030-06-05" && s.ReturnDate == ""
	}, time.Second, 5*time.Millisecond)

	s := ctrl.Snapshot()
	assert.Equal(t, "2030-06-06", s.MinReturnDate)
	assert.False(t, s.ShowPrice)
}

func TestController_SubmitWithoutDatesFailsLocally(t *testing.T) {
	ctrl, deps := newTestController(t, Config{})

	ctrl.Submit()

	assert.Eventually(t, func() bool {
		return ctrl.Snapshot().StatusMessage != ""
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, deps.holder.callCount())
}

// ============================================================================
// AVAILABILITY PROBER
// ============================================================================

func TestController_ProbeAvailableEnablesSubmit(t *testing.T) {
	ctrl, _ := newTestController(t, Config{})

	setValidDates(ctrl)
	waitForLabel(t, ctrl, "Book Now")

	assert.True(t, ctrl.Snapshot().SubmitEnabled)
}

func TestController_ProbeUnavailableDisablesSubmitWithReason(t *testing.T) {
	ctrl, deps := newTestController(t, Config{})
	deps.checker.fn = func(ctx context.Context, q models.AvailabilityQuery) (models.AvailabilityResult, error) {
		return models.AvailabilityResult{Available: false, Reason: "Only 1 cart left for these dates"}, nil
	}

	setValidDates(ctrl)
	waitForLabel(t, ctrl, "Unavailable")

	s := ctrl.Snapshot()
	assert.False(t, s.SubmitEnabled)
	assert.Equal(t, "Only 1 cart left for these dates", s.StatusMessage)
}

func TestController_ProbeFailureKeepsSubmitEnabled(t *testing.T) {
	ctrl, deps := newTestController(t, Config{})
	deps.checker.fn = func(ctx context.Context, q models.AvailabilityQuery) (models.AvailabilityResult, error) {
		return models.AvailabilityResult{}, errors.New("connection refused")
	}

	setValidDates(ctrl)
	waitForLabel(t, ctrl, "Book Now")

	s := ctrl.Snapshot()
	assert.Equal(t, ProbeFailed, s.Availability)
	assert.True(t, s.SubmitEnabled)
}

func TestController_LastQueryWins(t *testing.T) {
	ctrl, deps := newTestController(t, Config{})
	deps.checker.fn = func(ctx context.Context, q models.AvailabilityQuery) (models.AvailabilityResult, error) {
		// The first query straggles and comes back unavailable; the second
		// answers immediately.
		if q.DateRange.Pickup.Day() == 1 {
			time.Sleep(150 * time.Millisecond)
			return models.AvailabilityResult{Available: false, Reason: "gone"}, nil
		}
		return models.AvailabilityResult{Available: true}, nil
	}

	ctrl.SetDates("2030-06-01", "2030-06-04")
	// Let the first probe leave the debounce window and go on the wire.
	time.Sleep(40 * time.Millisecond)
	ctrl.SetDates("2030-06-02", "2030-06-05")

	waitForLabel(t, ctrl, "Book Now")

	// The straggler must not overwrite the newer result when it lands.
	time.Sleep(200 * time.Millisecond)
	s := ctrl.Snapshot()
	assert.Equal(t, ProbeAvailable, s.Availability)
	assert.Empty(t, s.StatusMessage)
}

func TestController_RapidInputCoalescesToOneProbe(t *testing.T) {
	ctrl, deps := newTestController(t, Config{DebounceDelay: 60 * time.Millisecond})

	ctrl.SetDates("2030-06-01", "2030-06-04")
	ctrl.SetDates("2030-06-02", "2030-06-05")
	ctrl.SetDates("2030-06-03", "2030-06-06")

	waitForLabel(t, ctrl, "Book Now")
	assert.Equal(t, 1, deps.checker.callCount())
}

// ============================================================================
// SUBMISSION FLOW
// ============================================================================

func TestController_HappyPathRedirects(t *testing.T) {
	ctrl, deps := newTestController(t, Config{CheckoutURL: "/checkout"})

	setValidDates(ctrl)
	waitForLabel(t, ctrl, "Book Now")
	ctrl.Submit()

	waitForLabel(t, ctrl, "Redirecting...")

	s := ctrl.Snapshot()
	assert.Equal(t, "/checkout", s.RedirectURL)
	assert.False(t, s.SubmitEnabled)
	assert.False(t, s.HoldActive)
	assert.Equal(t, []string{"tok-1"}, deps.attacher.attachedTokens())
}

func TestController_ConsumedHoldNotReleasedOnClose(t *testing.T) {
	ctrl, deps := newTestController(t, Config{})

	setValidDates(ctrl)
	waitForLabel(t, ctrl, "Book Now")
	ctrl.Submit()
	waitForLabel(t, ctrl, "Redirecting...")

	ctrl.Close()
	assert.Empty(t, deps.releaser.released())
}

func TestController_AbandonedHoldReleasedExactlyOnce(t *testing.T) {
	ctrl, deps := newTestController(t, Config{})
	deps.holder.fn = func(ctx context.Context, item models.BookingLineItem) (models.Hold, error) {
		return models.Hold{Token: "tok-abandoned", ExpiresAt: time.Now().Add(time.Minute)}, nil
	}
	deps.attacher.fn = func(ctx context.Context, item models.BookingLineItem, hold models.Hold) error {
		return models.NewAttachError("cart unavailable", nil)
	}

	setValidDates(ctrl)
	waitForLabel(t, ctrl, "Book Now")
	ctrl.Submit()
	waitForLabel(t, ctrl, "Retry Add to Cart")

	ctrl.Close()
	ctrl.Close() // second close must not double-release

	assert.Equal(t, []string{"tok-abandoned"}, deps.releaser.released())
}

func TestController_HoldFailureSurfacesBackendMessage(t *testing.T) {
	ctrl, deps := newTestController(t, Config{})
	deps.holder.fn = func(ctx context.Context, item models.BookingLineItem) (models.Hold, error) {
		return models.Hold{}, models.NewHoldError("Dates no longer available", nil)
	}

	setValidDates(ctrl)
	waitForLabel(t, ctrl, "Book Now")
	ctrl.Submit()

	waitForLabel(t, ctrl, "Retry")

	s := ctrl.Snapshot()
	assert.True(t, s.SubmitEnabled)
	assert.Equal(t, "Dates no longer available", s.StatusMessage)
	assert.False(t, s.HoldActive)
}

func TestController_AttachRetryReusesHoldToken(t *testing.T) {
	ctrl, deps := newTestController(t, Config{})
	deps.holder.fn = func(ctx context.Context, item models.BookingLineItem) (models.Hold, error) {
		return models.Hold{Token: "tok-keep", ExpiresAt: time.Now().Add(time.Minute)}, nil
	}
	var attachCalls int
	var mu sync.Mutex
	deps.attacher.fn = func(ctx context.Context, item models.BookingLineItem, hold models.Hold) error {
		mu.Lock()
		attachCalls++
		failFirst := attachCalls == 1
		mu.Unlock()
		if failFirst {
			return models.NewAttachError("All 2 Cart Four Seater are in your cart.", nil)
		}
		return nil
	}

	setValidDates(ctrl)
	waitForLabel(t, ctrl, "Book Now")
	ctrl.Submit()
	waitForLabel(t, ctrl, "Retry Add to Cart")

	s := ctrl.Snapshot()
	assert.True(t, s.HoldActive)
	assert.Equal(t, "All 2 Cart Four Seater are in your cart.", s.StatusMessage)

	ctrl.Submit()
	waitForLabel(t, ctrl, "Redirecting...")

	// One hold, attached twice with the same token.
	assert.Equal(t, 1, deps.holder.callCount())
	assert.Equal(t, []string{"tok-keep", "tok-keep"}, deps.attacher.attachedTokens())
}

func TestController_SupersededHoldNotReleased(t *testing.T) {
	ctrl, deps := newTestController(t, Config{})
	var mu sync.Mutex
	holdCalls := 0
	deps.holder.fn = func(ctx context.Context, item models.BookingLineItem) (models.Hold, error) {
		mu.Lock()
		holdCalls++
		token := "tok-a"
		if holdCalls > 1 {
			token = "tok-b"
		}
		mu.Unlock()
		return models.Hold{Token: token, ExpiresAt: time.Now().Add(time.Minute)}, nil
	}
	deps.attacher.fn = func(ctx context.Context, item models.BookingLineItem, hold models.Hold) error {
		if hold.Token == "tok-a" {
			return models.NewAttachError("cart busy", nil)
		}
		return nil
	}

	setValidDates(ctrl)
	waitForLabel(t, ctrl, "Book Now")
	ctrl.Submit()
	waitForLabel(t, ctrl, "Retry Add to Cart")

	// Changing dates abandons the retry path; the next submit acquires a
	// fresh hold while the first token is left to backend-side expiry.
	ctrl.SetDates("2030-06-10", "2030-06-12")
	waitForLabel(t, ctrl, "Book Now")
	ctrl.Submit()
	waitForLabel(t, ctrl, "Redirecting...")

	assert.Equal(t, 2, deps.holder.callCount())
	ctrl.Close()
	assert.Empty(t, deps.releaser.released(), "neither the superseded nor the consumed token may be released")
}

func TestController_ReentrantSubmitIgnored(t *testing.T) {
	ctrl, deps := newTestController(t, Config{})
	unblock := make(chan struct{})
	deps.holder.fn = func(ctx context.Context, item models.BookingLineItem) (models.Hold, error) {
		<-unblock
		return models.Hold{Token: "tok-1", ExpiresAt: time.Now().Add(time.Minute)}, nil
	}

	setValidDates(ctrl)
	waitForLabel(t, ctrl, "Book Now")

	ctrl.Submit()
	waitForLabel(t, ctrl, "Reserving...")
	ctrl.Submit()
	ctrl.Submit()

	close(unblock)
	waitForLabel(t, ctrl, "Redirecting...")

	assert.Equal(t, 1, deps.holder.callCount())
}

// ============================================================================
// HOLD EXPIRY
// ============================================================================

func TestController_ExpiryRestartsFlow(t *testing.T) {
	ctrl, deps := newTestController(t, Config{})
	var mu sync.Mutex
	holdCalls := 0
	deps.holder.fn = func(ctx context.Context, item models.BookingLineItem) (models.Hold, error) {
		mu.Lock()
		holdCalls++
		first := holdCalls == 1
		mu.Unlock()
		if first {
			// Dies almost immediately so the countdown catches it.
			return models.Hold{Token: "tok-short", ExpiresAt: time.Now().Add(150 * time.Millisecond)}, nil
		}
		return models.Hold{Token: "tok-fresh", ExpiresAt: time.Now().Add(time.Minute)}, nil
	}
	attachFails := true
	deps.attacher.fn = func(ctx context.Context, item models.BookingLineItem, hold models.Hold) error {
		mu.Lock()
		fail := attachFails
		mu.Unlock()
		if fail {
			return models.NewAttachError("cart busy", nil)
		}
		return nil
	}

	setValidDates(ctrl)
	waitForLabel(t, ctrl, "Book Now")
	ctrl.Submit()
	waitForLabel(t, ctrl, "Retry Add to Cart")

	// The held token expires underneath the retry prompt.
	waitForLabel(t, ctrl, "Expired")

	s := ctrl.Snapshot()
	assert.True(t, s.SubmitEnabled, "expired state must allow resubmission")
	assert.False(t, s.HoldActive)
	assert.Equal(t, "Your reservation hold has expired. Please try again.", s.StatusMessage)

	// Resubmission acquires a fresh hold rather than reusing the dead token.
	mu.Lock()
	attachFails = false
	mu.Unlock()
	ctrl.Submit()
	waitForLabel(t, ctrl, "Redirecting...")

	assert.Equal(t, 2, deps.holder.callCount())
	tokens := deps.attacher.attachedTokens()
	require.Len(t, tokens, 2)
	assert.Equal(t, "tok-fresh", tokens[1])
}

func TestController_ExpiredHoldNotReleasedOnClose(t *testing.T) {
	ctrl, deps := newTestController(t, Config{})
	deps.holder.fn = func(ctx context.Context, item models.BookingLineItem) (models.Hold, error) {
		return models.Hold{Token: "tok-short", ExpiresAt: time.Now().Add(50 * time.Millisecond)}, nil
	}
	deps.attacher.fn = func(ctx context.Context, item models.BookingLineItem, hold models.Hold) error {
		return models.NewAttachError("cart busy", nil)
	}

	setValidDates(ctrl)
	waitForLabel(t, ctrl, "Book Now")
	ctrl.Submit()
	waitForLabel(t, ctrl, "Expired")

	ctrl.Close()
	assert.Empty(t, deps.releaser.released())
}

func TestController_CountdownVisibleWhileHoldActive(t *testing.T) {
	ctrl, deps := newTestController(t, Config{})
	deps.holder.fn = func(ctx context.Context, item models.BookingLineItem) (models.Hold, error) {
		return models.Hold{Token: "tok-1", ExpiresAt: time.Now().Add(10 * time.Second)}, nil
	}
	deps.attacher.fn = func(ctx context.Context, item models.BookingLineItem, hold models.Hold) error {
		return models.NewAttachError("cart busy", nil)
	}

	setValidDates(ctrl)
	waitForLabel(t, ctrl, "Book Now")
	ctrl.Submit()
	waitForLabel(t, ctrl, "Retry Add to Cart")

	assert.Eventually(t, func() bool {
		s := ctrl.Snapshot()
		return s.HoldActive && s.HoldSecondsLeft > 0 && s.HoldSecondsLeft <= 10
	}, time.Second, 10*time.Millisecond)
}

// ============================================================================
// LOCATIONS
// ============================================================================

func TestController_NoLocationsIsFatal(t *testing.T) {
	ctrl, _ := newTestController(t, Config{RequireLocation: true})

	s := ctrl.Snapshot()
	assert.True(t, s.FormHidden)
	assert.NotEmpty(t, s.FatalMessage)
	assert.False(t, s.SubmitEnabled)
}

func TestController_LocationRequiredBeforeProbe(t *testing.T) {
	locations := []models.Location{{ID: "marina", Name: "Marina Dock"}}
	ctrl, deps := newTestController(t, Config{RequireLocation: true, Locations: locations})

	setValidDates(ctrl)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, deps.checker.callCount())

	ctrl.SetLocation("marina")
	waitForLabel(t, ctrl, "Book Now")

	s := ctrl.Snapshot()
	assert.Equal(t, "marina", s.Location)
}
