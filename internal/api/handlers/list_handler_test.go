package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/resourcewatch/aggregator/internal/cache"
)

func TestListResources_RendersHTMLTable(t *testing.T) {
	c := cache.New(4)
	c.Update(cache.Event{Type: cache.EventAdded, ID: cache.ResourceID{Kind: "Pod", Name: "a"}, Revision: 1})

	h := NewListHandler(c)
	r := gin.New()
	r.GET("/list", h.ListResources)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/list", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "<table>")
	assert.Contains(t, w.Body.String(), "Pod")
}
