package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StartScheduler starts the scan orchestrator.
func (h *Handlers) StartScheduler(c *gin.Context) {
	if err := h.orchestrator.Start(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

// StopScheduler stops the scan orchestrator.
func (h *Handlers) StopScheduler(c *gin.Context) {
	if err := h.orchestrator.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

// RunFanOutOnce triggers the daily fan-out immediately.
func (h *Handlers) RunFanOutOnce(c *gin.Context) {
	if err := h.orchestrator.RunFanOutOnce(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

// GetSchedulerStatus returns the orchestrator status.
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	status := "stopped"
	if h.orchestrator.IsRunning() {
		status = "running"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"next_run": h.orchestrator.NextRun(),
	})
}
