package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sunsetcarts/booking-widget/internal/models"
	"github.com/sunsetcarts/booking-widget/pkg/daterange"
)

// ClientConfig holds configuration for the booking backend client
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the rental backend's availability/hold/config endpoints.
// All payloads are JSON over HTTP against the configured base path.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *logrus.Logger
}

// NewClient creates a new booking backend client
func NewClient(config ClientConfig, logger *logrus.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// errorResponse is the error envelope the backend uses on non-2xx responses
type errorResponse struct {
	Error string `json:"error"`
}

// FetchConfig retrieves the widget configuration. Called once at widget
// initialization.
//
// GET {base}/config -> { locations: [{ id, name }] }
func (c *Client) FetchConfig(ctx context.Context) (*models.WidgetConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/config", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create config request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch widget config: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read config response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("config request failed with status %d", resp.StatusCode)
	}

	var cfg models.WidgetConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config response: %w", err)
	}

	return &cfg, nil
}

// CheckAvailability asks the backend whether a date range/quantity can be
// fulfilled.
//
// GET {base}/availability?product_id&start_date&end_date&quantity&location
func (c *Client) CheckAvailability(ctx context.Context, query models.AvailabilityQuery) (models.AvailabilityResult, error) {
	params := url.Values{}
	params.Set("product_id", query.ProductID)
	params.Set("start_date", daterange.Format(query.DateRange.Pickup))
	params.Set("end_date", daterange.Format(query.DateRange.Return))
	params.Set("quantity", strconv.Itoa(query.Quantity))
	if query.Location != "" {
		params.Set("location", query.Location)
	}

	reqURL := c.baseURL + "/availability?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return models.AvailabilityResult{}, models.NewAvailabilityError("", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return models.AvailabilityResult{}, models.NewAvailabilityError("", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.AvailabilityResult{}, models.NewAvailabilityError("", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.AvailabilityResult{}, models.NewAvailabilityError(
			"", fmt.Errorf("availability request failed with status %d", resp.StatusCode))
	}

	var result models.AvailabilityResult
	if err := json.Unmarshal(body, &result); err != nil {
		return models.AvailabilityResult{}, models.NewAvailabilityError("", err)
	}

	return result, nil
}

// holdRequest is the hold creation payload
type holdRequest struct {
	StartDate string     `json:"start_date"`
	EndDate   string     `json:"end_date"`
	Location  string     `json:"location,omitempty"`
	Items     []holdItem `json:"items"`
}

// holdItem is one line item inside a hold request
type holdItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Qty       int    `json:"qty"`
}

// holdResponse is the hold creation response
type holdResponse struct {
	BookingToken string `json:"booking_token"`
	ExpiresAt    string `json:"expires_at"`
}

// CreateHold asks the backend to hold inventory for the line item over its
// date range. Non-2xx responses and responses missing a booking token are
// hold failures.
//
// POST {base}/hold -> { booking_token, expires_at }
func (c *Client) CreateHold(ctx context.Context, item models.BookingLineItem) (models.Hold, error) {
	payload := holdRequest{
		StartDate: daterange.Format(item.DateRange.Pickup),
		EndDate:   daterange.Format(item.DateRange.Return),
		Location:  item.Location,
		Items: []holdItem{
			{
				ProductID: item.ProductID,
				VariantID: item.VariantID,
				Qty:       item.Quantity,
			},
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return models.Hold{}, models.NewHoldError("", fmt.Errorf("failed to marshal hold request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/hold", bytes.NewBuffer(jsonData))
	if err != nil {
		return models.Hold{}, models.NewHoldError("", fmt.Errorf("failed to create hold request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return models.Hold{}, models.NewHoldError("", fmt.Errorf("failed to send hold request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Hold{}, models.NewHoldError("", fmt.Errorf("failed to read hold response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Surface the backend's conflict message verbatim when present.
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return models.Hold{}, models.NewHoldError(errResp.Error, nil)
		}
		return models.Hold{}, models.NewHoldError("", fmt.Errorf("hold request failed with status %d", resp.StatusCode))
	}

	var holdResp holdResponse
	if err := json.Unmarshal(body, &holdResp); err != nil {
		return models.Hold{}, models.NewHoldError("", fmt.Errorf("failed to parse hold response: %w", err))
	}

	if holdResp.BookingToken == "" {
		return models.Hold{}, models.NewHoldError("", fmt.Errorf("hold response missing booking_token"))
	}

	expiresAt, err := time.Parse(time.RFC3339, holdResp.ExpiresAt)
	if err != nil {
		return models.Hold{}, models.NewHoldError("", fmt.Errorf("failed to parse hold expiry %q: %w", holdResp.ExpiresAt, err))
	}

	c.logger.WithFields(logrus.Fields{
		"product_id": item.ProductID,
		"start_date": payload.StartDate,
		"end_date":   payload.EndDate,
		"expires_at": expiresAt,
	}).Info("Inventory hold created")

	return models.Hold{
		Token:     holdResp.BookingToken,
		ExpiresAt: expiresAt,
	}, nil
}
