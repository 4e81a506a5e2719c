package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"optout-sentry-go/internal/model"
)

// ScanResponses runs a synchronous response scan for the caller.
func (h *Handlers) ScanResponses(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	if !h.checkRateLimit(c, user.ID, "response_scan", h.limits.ScanLimit, h.limits.ScanWindowSeconds) {
		return
	}

	summary, err := h.scanner.ScanResponses(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ScanInbox runs a synchronous inbox discovery scan for the caller.
func (h *Handlers) ScanInbox(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	if !h.checkRateLimit(c, user.ID, "inbox_scan", h.limits.ScanLimit, h.limits.ScanWindowSeconds) {
		return
	}

	summary, err := h.scanner.ScanInbox(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ListResponses returns the caller's broker responses, newest first.
func (h *Handlers) ListResponses(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	var responses []model.BrokerResponse
	err := h.db.
		Where("user_id = ?", user.ID).
		Order("received_date DESC").
		Find(&responses).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch responses",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, responses)
}

// ListActivities returns the caller's recent activity log entries.
func (h *Handlers) ListActivities(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "validation_error",
				Message: "limit must be between 1 and 500",
				Code:    http.StatusBadRequest,
			})
			return
		}
		limit = parsed
	}

	activities, err := h.audit.UserActivities(user.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch activities",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, activities)
}

// ListBrokers returns the broker directory.
func (h *Handlers) ListBrokers(c *gin.Context) {
	brokerList, err := h.directory.ListBrokers()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch brokers",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, brokerList)
}
