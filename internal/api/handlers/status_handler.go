package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StatusHandler serves GET /status: an empty 200 liveness probe.
type StatusHandler struct{}

func NewStatusHandler() *StatusHandler {
	return &StatusHandler{}
}

func (h *StatusHandler) Status(c *gin.Context) {
	c.Status(http.StatusOK)
}
