package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sunsetcarts/booking-widget/internal/backend"
	"github.com/sunsetcarts/booking-widget/internal/cart"
	"github.com/sunsetcarts/booking-widget/internal/config"
	"github.com/sunsetcarts/booking-widget/internal/controller"
	"github.com/sunsetcarts/booking-widget/internal/models"
)

// ErrSessionNotFound is returned for unknown or already closed session IDs
var ErrSessionNotFound = fmt.Errorf("widget session not found")

// CreateSessionRequest carries the per-product widget parameters sent by the
// embedding page when it boots
type CreateSessionRequest struct {
	ProductID       string `json:"product_id" binding:"required"`
	VariantID       string `json:"variant_id" binding:"required"`
	RatePerNight    int64  `json:"rate_per_night"`
	RequireLocation bool   `json:"require_location"`
}

// widgetSession pairs one controller with its bookkeeping. lastSeen is
// atomic so snapshot polls only ever need the registry's read lock.
type widgetSession struct {
	ID         string
	Controller *controller.Controller
	CreatedAt  time.Time
	lastSeen   atomic.Int64 // unix nanos
}

func (ws *widgetSession) touch() {
	ws.lastSeen.Store(time.Now().UnixNano())
}

func (ws *widgetSession) lastSeenTime() time.Time {
	return time.Unix(0, ws.lastSeen.Load())
}

// SessionService owns the live widget sessions. Each session hosts one
// booking controller; sessions idle past the TTL are reaped so abandoned
// holds get released without waiting for backend-side expiry.
type SessionService struct {
	cfg      *config.Config
	backend  *backend.Client
	cart     *cart.Client
	releaser *backend.Releaser
	logger   *logrus.Logger

	mu        sync.RWMutex
	sessions  map[string]*widgetSession
	widgetCfg models.WidgetConfig

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSessionService creates the session registry
func NewSessionService(cfg *config.Config, backendClient *backend.Client, cartClient *cart.Client, releaser *backend.Releaser, logger *logrus.Logger) *SessionService {
	return &SessionService{
		cfg:      cfg,
		backend:  backendClient,
		cart:     cartClient,
		releaser: releaser,
		logger:   logger,
		sessions: make(map[string]*widgetSession),
		stopCh:   make(chan struct{}),
	}
}

// Start fetches the widget configuration and launches the idle session
// reaper. A failed config fetch is not fatal here: sessions that require a
// location will surface the configuration error themselves.
func (s *SessionService) Start(ctx context.Context) {
	widgetCfg, err := s.backend.FetchConfig(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Widget config fetch failed, starting with no locations")
	} else {
		s.mu.Lock()
		s.widgetCfg = *widgetCfg
		s.mu.Unlock()
		s.logger.WithField("locations", len(widgetCfg.Locations)).Info("Widget config loaded")
	}

	s.wg.Add(1)
	go s.reapLoop()

	s.logger.WithFields(logrus.Fields{
		"session_ttl":   s.cfg.Widget.SessionTTL.String(),
		"reap_interval": s.cfg.Widget.ReapInterval.String(),
	}).Info("Session service started")
}

// Stop halts the reaper and closes every live session, releasing any
// unconsumed holds through the durable sender
func (s *SessionService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.CloseAll()
}

// Create opens a new widget session and returns its ID
func (s *SessionService) Create(req CreateSessionRequest) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	ctrl := controller.New(controller.Config{
		ProductID:         req.ProductID,
		VariantID:         req.VariantID,
		RatePerNight:      req.RatePerNight,
		MoneyFormat:       s.cfg.Widget.MoneyFormat,
		RequireLocation:   req.RequireLocation,
		Locations:         s.widgetCfg.Locations,
		CheckoutURL:       s.cfg.Widget.CheckoutURL,
		DebounceDelay:     s.cfg.Widget.DebounceDelay,
		CountdownInterval: s.cfg.Widget.CountdownInterval,
		RequestTimeout:    s.cfg.Backend.Timeout,
	}, controller.Deps{
		Checker:  s.backend,
		Holder:   s.backend,
		Cart:     s.cart,
		Releaser: s.releaser,
		Logger:   s.logger,
	})

	session := &widgetSession{
		ID:         id,
		Controller: ctrl,
		CreatedAt:  time.Now(),
	}
	session.touch()
	s.sessions[id] = session

	s.logger.WithFields(logrus.Fields{
		"session_id": id,
		"product_id": req.ProductID,
	}).Info("Widget session created")

	return id
}

// Lookup resolves a session ID to its controller and refreshes the idle
// timestamp. Polls are the hot path, so only the read lock is taken.
func (s *SessionService) Lookup(id string) (*controller.Controller, error) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	session.touch()
	return session.Controller, nil
}

// Close tears down one session. Closing an unknown ID is an error; closing
// is idempotent only through the not-found response.
func (s *SessionService) Close(id string) error {
	s.mu.Lock()
	session, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	session.Controller.Close()
	s.logger.WithField("session_id", id).Info("Widget session closed")
	return nil
}

// CloseAll tears down every live session
func (s *SessionService) CloseAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*widgetSession)
	s.mu.Unlock()

	for _, session := range sessions {
		session.Controller.Close()
	}

	if len(sessions) > 0 {
		s.logger.WithField("count", len(sessions)).Info("Closed all widget sessions")
	}
}

// Count returns the number of live sessions
func (s *SessionService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// reapLoop periodically closes sessions whose embedding page has stopped
// polling
func (s *SessionService) reapLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Widget.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reapIdle()
		case <-s.stopCh:
			return
		}
	}
}

func (s *SessionService) reapIdle() {
	cutoff := time.Now().Add(-s.cfg.Widget.SessionTTL)

	s.mu.Lock()
	var expired []*widgetSession
	for id, session := range s.sessions {
		if session.lastSeenTime().Before(cutoff) {
			expired = append(expired, session)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, session := range expired {
		session.Controller.Close()
		s.logger.WithFields(logrus.Fields{
			"session_id": session.ID,
			"idle_since": session.lastSeenTime().Format(time.RFC3339),
		}).Info("Reaped idle widget session")
	}
}
