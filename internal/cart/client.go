package cart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sunsetcarts/booking-widget/internal/models"
	"github.com/sunsetcarts/booking-widget/pkg/daterange"
)

// ClientConfig holds configuration for the cart client
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Client attaches booked line items to the storefront cart via the AJAX
// cart API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *logrus.Logger
}

// NewClient creates a new cart client
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

// addItem is one cart line in the add request
type addItem struct {
	ID         string            `json:"id"`
	Quantity   int               `json:"quantity"`
	Properties map[string]string `json:"properties"`
}

// addRequest is the POST /cart/add.js payload
type addRequest struct {
	Items []addItem `json:"items"`
}

// Attach adds the line item to the cart carrying the hold token and
// human-readable booking metadata as line-item properties. A non-2xx
// response is an attachment failure; the hold itself is untouched.
//
// POST /cart/add.js
func (c *Client) Attach(ctx context.Context, item models.BookingLineItem, hold models.Hold) error {
	properties := map[string]string{
		"booking_token": hold.Token,
		"Pickup Date":   daterange.Format(item.DateRange.Pickup),
		"Return Date":   daterange.Format(item.DateRange.Return),
		"Nights":        strconv.Itoa(item.DateRange.Nights()),
	}
	if item.LocationName != "" {
		properties["Location"] = item.LocationName
	}

	payload := addRequest{
		Items: []addItem{
			{
				ID:         item.VariantID,
				Quantity:   item.Quantity,
				Properties: properties,
			},
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return models.NewAttachError("", fmt.Errorf("failed to marshal cart request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/cart/add.js", bytes.NewBuffer(jsonData))
	if err != nil {
		return models.NewAttachError("", fmt.Errorf("failed to create cart request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return models.NewAttachError("", fmt.Errorf("failed to send cart request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.NewAttachError("", fmt.Errorf("failed to read cart response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// The cart API reports failures as { description } or { message }.
		var errResp struct {
			Description string `json:"description"`
			Message     string `json:"message"`
		}
		if json.Unmarshal(body, &errResp) == nil {
			if errResp.Description != "" {
				return models.NewAttachError(errResp.Description, nil)
			}
			if errResp.Message != "" {
				return models.NewAttachError(errResp.Message, nil)
			}
		}
		return models.NewAttachError("", fmt.Errorf("cart request failed with status %d", resp.StatusCode))
	}

	c.logger.WithFields(logrus.Fields{
		"variant_id": item.VariantID,
		"quantity":   item.Quantity,
	}).Info("Booking attached to cart")

	return nil
}
