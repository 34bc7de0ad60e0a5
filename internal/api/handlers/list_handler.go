package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/resourcewatch/aggregator/internal/cache"
)

// ListHandler serves GET /list: a human-readable HTML table of everything
// currently in the cache.
type ListHandler struct {
	cache *cache.Cache
}

func NewListHandler(c *cache.Cache) *ListHandler {
	return &ListHandler{cache: c}
}

func (h *ListHandler) ListResources(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(h.cache.List()))
}
