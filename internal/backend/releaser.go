package backend

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// releaseQueueSize bounds the number of undelivered release tokens. The
// queue only grows when the backend is unreachable, and every queued token
// expires server-side anyway, so overflow drops are safe.
const releaseQueueSize = 64

// Releaser delivers fire-and-forget hold releases. Send never blocks the
// caller and no response is awaited; delivery is attempted by a background
// worker that keeps running through controller teardown and is drained with
// a deadline at process shutdown. This is the service-side counterpart of a
// page-unload beacon.
type Releaser struct {
	endpoint string
	client   *http.Client
	logger   *logrus.Logger

	mu     sync.Mutex
	closed bool
	queue  chan string
	done   chan struct{}
}

// NewReleaser creates a releaser posting to {base}/release
func NewReleaser(baseURL string, timeout time.Duration, logger *logrus.Logger) *Releaser {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Releaser{
		endpoint: strings.TrimRight(baseURL, "/") + "/release",
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
		queue:  make(chan string, releaseQueueSize),
		done:   make(chan struct{}),
	}
}

// Start launches the delivery worker
func (r *Releaser) Start() {
	go r.run()
}

// Send queues a hold token for release. Never blocks: when the queue is
// full the token is dropped and left to the backend's own expiry.
func (r *Releaser) Send(token string) {
	if token == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.logger.WithField("token", token).Warn("Releaser already draining, dropping token to backend expiry")
		return
	}

	select {
	case r.queue <- token:
	default:
		r.logger.WithField("token", token).Warn("Release queue full, dropping token to backend expiry")
	}
}

// Drain stops accepting new tokens and waits up to timeout for queued
// releases to be delivered. Called during graceful shutdown.
func (r *Releaser) Drain(timeout time.Duration) {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
	case <-time.After(timeout):
		r.logger.Warn("Release drain deadline reached, abandoning remaining tokens")
	}
}

func (r *Releaser) run() {
	defer close(r.done)

	for token := range r.queue {
		r.deliver(token)
	}
}

// releaseRequest is the release payload
type releaseRequest struct {
	BookingToken string `json:"booking_token"`
}

// deliver posts one release. Failures are logged and otherwise
// unobservable; the backend's hold expiry is the backstop.
func (r *Releaser) deliver(token string) {
	jsonData, err := json.Marshal(releaseRequest{BookingToken: token})
	if err != nil {
		r.logger.WithError(err).Warn("Failed to marshal release request")
		return
	}

	resp, err := r.client.Post(r.endpoint, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		r.logger.WithError(err).WithField("token", token).Warn("Hold release delivery failed")
		return
	}
	resp.Body.Close()

	r.logger.WithField("token", token).Debug("Hold released")
}
