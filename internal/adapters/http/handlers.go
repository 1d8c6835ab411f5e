package http

import (
	"net/http"

	"github.com/dkeye/Bounce/internal/app/orch"
	"github.com/dkeye/Bounce/internal/core"
	"github.com/gin-gonic/gin"
)

type handlers struct {
	orch *orch.Orchestrator
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

type sessionsResponse struct {
	Sessions []core.SessionInfo `json:"sessions"`
	Count    int                `json:"count"`
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{Status: "ok", Sessions: h.orch.Registry.Len()})
}

func (h *handlers) sessions(c *gin.Context) {
	list := h.orch.Registry.List()
	c.JSON(http.StatusOK, sessionsResponse{Sessions: list, Count: len(list)})
}

func (h *handlers) session(c *gin.Context) {
	s, ok := h.orch.Registry.Get(core.SessionID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, core.SessionInfo{ID: s.ID(), State: s.State().String()})
}
