package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/sunsetcarts/booking-widget/internal/services"
	"github.com/sunsetcarts/booking-widget/internal/utils"
)

// WidgetHandler handles the widget session HTTP API consumed by the
// embedding product page
type WidgetHandler struct {
	sessions *services.SessionService
	logger   *logrus.Logger
}

// NewWidgetHandler creates a new widget handler
func NewWidgetHandler(sessions *services.SessionService, logger *logrus.Logger) *WidgetHandler {
	return &WidgetHandler{
		sessions: sessions,
		logger:   logger,
	}
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// UpdateInputRequest carries form field changes. The page sends both date
// fields together on any date change; empty string means the field is unset.
type UpdateInputRequest struct {
	PickupDate *string `json:"pickup_date"`
	ReturnDate *string `json:"return_date"`
	Quantity   *int    `json:"quantity"`
	Location   *string `json:"location"`
}

// RegisterRoutes mounts the widget session API on the given router group
func (h *WidgetHandler) RegisterRoutes(api *gin.RouterGroup) {
	widget := api.Group("/widget/sessions")
	{
		widget.POST("", h.CreateSession)
		widget.GET("/:id", h.GetState)
		widget.PUT("/:id/input", h.UpdateInput)
		widget.POST("/:id/submit", h.Submit)
		widget.POST("/:id/close", h.CloseSession)
	}
}

// CreateSession handles POST /api/v1/widget/sessions
func (h *WidgetHandler) CreateSession(c *gin.Context) {
	var req services.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "product_id and variant_id are required",
		})
		return
	}

	id := h.sessions.Create(req)

	device := utils.ParseUserAgent(c.Request.UserAgent())
	h.logger.WithFields(logrus.Fields{
		"session_id":  id,
		"product_id":  req.ProductID,
		"ip":          utils.GetRealIP(c),
		"device_type": device.DeviceType,
		"browser":     device.Browser,
		"os":          device.OS,
	}).Info("Widget session opened")

	ctrl, err := h.sessions.Lookup(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to create session",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id": id,
		"state":      ctrl.Snapshot(),
	})
}

// GetState handles GET /api/v1/widget/sessions/:id
func (h *WidgetHandler) GetState(c *gin.Context) {
	ctrl, err := h.sessions.Lookup(c.Param("id"))
	if err != nil {
		h.sessionNotFound(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{"state": ctrl.Snapshot()})
}

// UpdateInput handles PUT /api/v1/widget/sessions/:id/input
func (h *WidgetHandler) UpdateInput(c *gin.Context) {
	var req UpdateInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
		})
		return
	}

	ctrl, err := h.sessions.Lookup(c.Param("id"))
	if err != nil {
		h.sessionNotFound(c)
		return
	}

	if req.PickupDate != nil || req.ReturnDate != nil {
		ctrl.SetDates(stringValue(req.PickupDate), stringValue(req.ReturnDate))
	}
	if req.Quantity != nil {
		ctrl.SetQuantity(*req.Quantity)
	}
	if req.Location != nil {
		ctrl.SetLocation(*req.Location)
	}

	c.JSON(http.StatusOK, gin.H{"state": ctrl.Snapshot()})
}

// Submit handles POST /api/v1/widget/sessions/:id/submit
func (h *WidgetHandler) Submit(c *gin.Context) {
	ctrl, err := h.sessions.Lookup(c.Param("id"))
	if err != nil {
		h.sessionNotFound(c)
		return
	}

	ctrl.Submit()
	c.JSON(http.StatusAccepted, gin.H{"state": ctrl.Snapshot()})
}

// CloseSession handles POST /api/v1/widget/sessions/:id/close.
// The page calls this from its unload handler (often via sendBeacon), so the
// response is intentionally empty and closing an unknown session still
// succeeds.
func (h *WidgetHandler) CloseSession(c *gin.Context) {
	if err := h.sessions.Close(c.Param("id")); err != nil && !errors.Is(err, services.ErrSessionNotFound) {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to close session",
		})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *WidgetHandler) sessionNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, ErrorResponse{
		Error:   "session_not_found",
		Message: "Unknown or expired widget session",
	})
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
