package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunsetcarts/booking-widget/internal/backend"
	"github.com/sunsetcarts/booking-widget/internal/cart"
	"github.com/sunsetcarts/booking-widget/internal/config"
	"github.com/sunsetcarts/booking-widget/internal/models"
	"github.com/sunsetcarts/booking-widget/internal/services"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// setupWidgetTest wires a router against fake backend and cart servers
func setupWidgetTest(t *testing.T) (*gin.Engine, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mux := http.NewServeMux()
	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.WidgetConfig{
			Locations: []models.Location{{ID: "marina", Name: "Marina Dock"}},
		})
	})
	mux.HandleFunc("/availability", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.AvailabilityResult{Available: true})
	})
	mux.HandleFunc("/hold", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"booking_token": "tok-1",
			"expires_at":    time.Now().Add(time.Minute).Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/release", func(w http.ResponseWriter, r *http.Request) {})
	backendServer := httptest.NewServer(mux)

	cartServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cfg := &config.Config{
		Backend: config.BackendConfig{BaseURL: backendServer.URL, Timeout: 2 * time.Second},
		Cart:    config.CartConfig{BaseURL: cartServer.URL, Timeout: 2 * time.Second},
		Widget: config.WidgetConfig{
			DebounceDelay:     10 * time.Millisecond,
			CountdownInterval: 20 * time.Millisecond,
			CheckoutURL:       "/checkout",
			MoneyFormat:       "${{amount}}",
			SessionTTL:        time.Minute,
			ReapInterval:      time.Minute,
		},
	}

	logger := testLogger()
	backendClient := backend.NewClient(backend.ClientConfig{BaseURL: backendServer.URL, Timeout: cfg.Backend.Timeout}, logger)
	cartClient := cart.NewClient(cart.ClientConfig{BaseURL: cartServer.URL, Timeout: cfg.Cart.Timeout}, logger)
	releaser := backend.NewReleaser(backendServer.URL, cfg.Backend.Timeout, logger)
	releaser.Start()

	sessions := services.NewSessionService(cfg, backendClient, cartClient, releaser, logger)
	sessions.Start(context.Background())

	handler := NewWidgetHandler(sessions, logger)
	router := gin.New()
	handler.RegisterRoutes(router.Group("/api/v1"))

	cleanup := func() {
		sessions.Stop()
		releaser.Drain(time.Second)
		backendServer.Close()
		cartServer.Close()
	}
	return router, cleanup
}

// stateResponse decodes the {state: ...} envelope
type stateResponse struct {
	SessionID string `json:"session_id"`
	State     struct {
		FormHidden    bool   `json:"form_hidden"`
		PickupDate    string `json:"pickup_date"`
		ReturnDate    string `json:"return_date"`
		Nights        int    `json:"nights"`
		ShowPrice     bool   `json:"show_price"`
		PriceDisplay  string `json:"price_display"`
		SubmitEnabled bool   `json:"submit_enabled"`
		SubmitLabel   string `json:"submit_label"`
		RedirectURL   string `json:"redirect_url"`
	} `json:"state"`
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createSession(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := doJSON(router, http.MethodPost, "/api/v1/widget/sessions", gin.H{
		"product_id":     "cart-4seat",
		"variant_id":     "41234",
		"rate_per_night": 5000,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp stateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID
}

func TestCreateSession(t *testing.T) {
	router, cleanup := setupWidgetTest(t)
	defer cleanup()

	w := doJSON(router, http.MethodPost, "/api/v1/widget/sessions", gin.H{
		"product_id":     "cart-4seat",
		"variant_id":     "41234",
		"rate_per_night": 5000,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp stateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.False(t, resp.State.FormHidden)
	assert.Equal(t, "Book Now", resp.State.SubmitLabel)
	assert.False(t, resp.State.SubmitEnabled)
}

func TestCreateSession_MissingProduct(t *testing.T) {
	router, cleanup := setupWidgetTest(t)
	defer cleanup()

	w := doJSON(router, http.MethodPost, "/api/v1/widget/sessions", gin.H{"variant_id": "41234"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateInput_DatesAndPrice(t *testing.T) {
	router, cleanup := setupWidgetTest(t)
	defer cleanup()
	id := createSession(t, router)

	w := doJSON(router, http.MethodPut, "/api/v1/widget/sessions/"+id+"/input", gin.H{
		"pickup_date": "2030-06-01",
		"return_date": "2030-06-04",
	})
	require.Equal(t, http.StatusOK, w.Code)

	// The probe runs asynchronously; poll the state endpoint like the page does.
	assert.Eventually(t, func() bool {
		w := doJSON(router, http.MethodGet, "/api/v1/widget/sessions/"+id, nil)
		if w.Code != http.StatusOK {
			return false
		}
		var resp stateResponse
		if json.Unmarshal(w.Body.Bytes(), &resp) != nil {
			return false
		}
		return resp.State.Nights == 3 &&
			resp.State.PriceDisplay == "$150.00" &&
			resp.State.SubmitEnabled
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSubmit_FullFlowRedirects(t *testing.T) {
	router, cleanup := setupWidgetTest(t)
	defer cleanup()
	id := createSession(t, router)

	doJSON(router, http.MethodPut, "/api/v1/widget/sessions/"+id+"/input", gin.H{
		"pickup_date": "2030-06-01",
		"return_date": "2030-06-04",
	})

	assert.Eventually(t, func() bool {
		w := doJSON(router, http.MethodGet, "/api/v1/widget/sessions/"+id, nil)
		var resp stateResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		return resp.State.SubmitEnabled
	}, 2*time.Second, 20*time.Millisecond)

	w := doJSON(router, http.MethodPost, "/api/v1/widget/sessions/"+id+"/submit", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	assert.Eventually(t, func() bool {
		w := doJSON(router, http.MethodGet, "/api/v1/widget/sessions/"+id, nil)
		var resp stateResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		return resp.State.RedirectURL == "/checkout"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestGetState_UnknownSession(t *testing.T) {
	router, cleanup := setupWidgetTest(t)
	defer cleanup()

	w := doJSON(router, http.MethodGet, "/api/v1/widget/sessions/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "session_not_found", resp.Error)
}

func TestCloseSession_IdempotentForBeacons(t *testing.T) {
	router, cleanup := setupWidgetTest(t)
	defer cleanup()
	id := createSession(t, router)

	w := doJSON(router, http.MethodPost, "/api/v1/widget/sessions/"+id+"/close", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Unload handlers can fire twice; the second close must not error.
	w = doJSON(router, http.MethodPost, "/api/v1/widget/sessions/"+id+"/close", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(router, http.MethodGet, "/api/v1/widget/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
