package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"optout-sentry-go/internal/apperr"
)

// CreateRequestPayload is the body for POST /requests.
type CreateRequestPayload struct {
	BrokerID  string `json:"broker_id" binding:"required"`
	Framework string `json:"framework"`
	Source    string `json:"source"`
}

// UpdateStatusPayload is the body for PATCH /requests/:id/status.
type UpdateStatusPayload struct {
	Status string `json:"status" binding:"required"`
	Notes  string `json:"notes"`
}

// CreateRequest creates a new deletion request for the caller.
func (h *Handlers) CreateRequest(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	var payload CreateRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	brokerID, err := uuid.Parse(payload.BrokerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "broker_id must be a UUID",
			Code:    http.StatusBadRequest,
		})
		return
	}

	broker, err := h.directory.GetBroker(brokerID)
	if err != nil {
		respondError(c, err)
		return
	}

	request, warning, err := h.lifecycle.CreateRequest(user, broker, payload.Framework, payload.Source)
	if err != nil {
		respondError(c, err)
		return
	}

	body := gin.H{"request": request}
	if warning != "" {
		body["warning"] = warning
	}
	c.JSON(http.StatusCreated, body)
}

// ListRequests returns the caller's deletion requests, newest first.
func (h *Handlers) ListRequests(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	requests, err := h.lifecycle.ListUserRequests(user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, requests)
}

// GetRequest returns a single deletion request by ID.
func (h *Handlers) GetRequest(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid request ID",
			Code:    http.StatusBadRequest,
		})
		return
	}

	request, err := h.lifecycle.GetRequest(id)
	if err != nil {
		respondError(c, err)
		return
	}
	if request.UserID != user.ID {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Resource not found",
			Code:    http.StatusNotFound,
		})
		return
	}
	c.JSON(http.StatusOK, request)
}

// SendRequest sends the generated deletion email for a pending request.
func (h *Handlers) SendRequest(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid request ID",
			Code:    http.StatusBadRequest,
		})
		return
	}

	if !h.checkRateLimit(c, user.ID, "send_request", h.limits.SendLimit, h.limits.SendWindowSeconds) {
		return
	}

	request, err := h.lifecycle.SendRequestEmail(c.Request.Context(), id)
	if err != nil {
		h.metrics.SendFailures.Inc()
		if apperr.IsQuotaExceeded(err) {
			h.metrics.QuotaBackoffs.Inc()
		}
		respondError(c, err)
		return
	}
	h.metrics.SendSuccesses.Inc()
	c.JSON(http.StatusOK, request)
}

// UpdateRequestStatus applies a manual status override.
func (h *Handlers) UpdateRequestStatus(c *gin.Context) {
	if _, ok := h.currentUser(c); !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid request ID",
			Code:    http.StatusBadRequest,
		})
		return
	}

	var payload UpdateStatusPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	request, err := h.lifecycle.UpdateStatus(id, payload.Status, payload.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, request)
}

// DeleteRequest soft-deletes a deletion request.
func (h *Handlers) DeleteRequest(c *gin.Context) {
	if _, ok := h.currentUser(c); !ok {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Invalid request ID",
			Code:    http.StatusBadRequest,
		})
		return
	}

	if err := h.lifecycle.DeleteRequest(id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
