// Package handlers contains the HTTP API surface.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"optout-sentry-go/internal/activity"
	"optout-sentry-go/internal/apperr"
	"optout-sentry-go/internal/brokers"
	"optout-sentry-go/internal/lifecycle"
	"optout-sentry-go/internal/metrics"
	"optout-sentry-go/internal/model"
	"optout-sentry-go/internal/orchestrator"
	"optout-sentry-go/internal/ratelimit"
	"optout-sentry-go/internal/scanner"
)

// RateLimits holds the per-action limits enforced by the API.
type RateLimits struct {
	ScanLimit         int
	ScanWindowSeconds int
	SendLimit         int
	SendWindowSeconds int
}

// Handlers contains all HTTP handlers.
type Handlers struct {
	db           *gorm.DB
	lifecycle    *lifecycle.Service
	directory    *brokers.Directory
	scanner      *scanner.Scanner
	orchestrator *orchestrator.Orchestrator
	limiter      *ratelimit.Limiter
	audit        *activity.Logger
	metrics      *metrics.Metrics
	limits       RateLimits
}

// NewHandlers creates new HTTP handlers.
func NewHandlers(db *gorm.DB, lc *lifecycle.Service, directory *brokers.Directory,
	sc *scanner.Scanner, orch *orchestrator.Orchestrator, limiter *ratelimit.Limiter,
	audit *activity.Logger, m *metrics.Metrics, limits RateLimits) *Handlers {
	return &Handlers{
		db:           db,
		lifecycle:    lc,
		directory:    directory,
		scanner:      sc,
		orchestrator: orch,
		limiter:      limiter,
		audit:        audit,
		metrics:      m,
		limits:       limits,
	}
}

// SetupRoutes sets up all HTTP routes.
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	// Health check
	router.GET("/healthz", h.HealthCheck)

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes
	api := router.Group("/api/v1")
	{
		// Deletion requests
		api.POST("/requests", h.CreateRequest)
		api.GET("/requests", h.ListRequests)
		api.GET("/requests/:id", h.GetRequest)
		api.POST("/requests/:id/send", h.SendRequest)
		api.PATCH("/requests/:id/status", h.UpdateRequestStatus)
		api.DELETE("/requests/:id", h.DeleteRequest)

		// Broker directory
		api.GET("/brokers", h.ListBrokers)

		// Responses and activity
		api.POST("/scans/responses", h.ScanResponses)
		api.POST("/scans/inbox", h.ScanInbox)
		api.GET("/responses", h.ListResponses)
		api.GET("/activities", h.ListActivities)

		// Scheduler control
		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunFanOutOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// currentUser resolves the caller from the X-User-ID header.
func (h *Handlers) currentUser(c *gin.Context) (*model.User, bool) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_user",
			Message: "X-User-ID header is required",
			Code:    http.StatusBadRequest,
		})
		return nil, false
	}

	userID, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_user",
			Message: "X-User-ID must be a UUID",
			Code:    http.StatusBadRequest,
		})
		return nil, false
	}

	var user model.User
	if err := h.db.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "User not found",
				Code:    http.StatusNotFound,
			})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to load user",
			Code:    http.StatusInternalServerError,
		})
		return nil, false
	}
	return &user, true
}

// checkRateLimit enforces a per-user action limit. It writes the 429 response
// itself and reports whether the request may proceed.
func (h *Handlers) checkRateLimit(c *gin.Context, userID uuid.UUID, action string, limit, windowSeconds int) bool {
	result := h.limiter.CheckLimit(c.Request.Context(), userID.String(), action, limit, windowSeconds)
	if result.Allowed {
		return true
	}

	h.metrics.RateLimitDenials.Inc()
	c.Header("Retry-After", strconv.Itoa(result.RetryAfter))
	c.JSON(http.StatusTooManyRequests, ErrorResponse{
		Error:   "rate_limited",
		Message: "Rate limit exceeded for " + action + ", try again later",
		Code:    http.StatusTooManyRequests,
	})
	return false
}

// respondError maps domain errors onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	switch {
	case apperr.IsValidation(err):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "validation_error", Message: err.Error(), Code: http.StatusBadRequest,
		})
	case errors.Is(err, apperr.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "not_found", Message: "Resource not found", Code: http.StatusNotFound,
		})
	case apperr.IsConflict(err):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: "conflict", Message: err.Error(), Code: http.StatusConflict,
		})
	case apperr.IsPermission(err):
		c.JSON(http.StatusForbidden, gin.H{
			"error":                    "permission_error",
			"message":                  err.Error(),
			"reauthorization_required": true,
			"code":                     http.StatusForbidden,
		})
	case apperr.IsQuotaExceeded(err):
		var quotaErr *apperr.QuotaExceededError
		errors.As(err, &quotaErr)
		c.Header("Retry-After", strconv.Itoa(quotaErr.RetryAfter))
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error: "quota_exceeded", Message: err.Error(), Code: http.StatusTooManyRequests,
		})
	case apperr.IsRetryLater(err):
		var retryErr *apperr.RetryLaterError
		errors.As(err, &retryErr)
		seconds := int(time.Until(retryErr.RetryAt).Seconds())
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error: "retry_later", Message: err.Error(), Code: http.StatusTooManyRequests,
		})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal_error", Message: err.Error(), Code: http.StatusInternalServerError,
		})
	}
}
