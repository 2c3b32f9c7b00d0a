package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quakewatch/internal/repository"
)

// AdvantageHandler reports how far ahead of the reference feed the other
// sources ran, aggregated over confirmed events.
type AdvantageHandler struct {
	Repo         repository.Repository
	MinMagnitude float64
}

func (h *AdvantageHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/stats/advantage", h.stats)
}

func (h *AdvantageHandler) stats(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	minMag := h.MinMagnitude
	if v := floatQueryPtr(c, "min_magnitude"); v != nil {
		minMag = *v
	}
	stats, err := h.Repo.AdvantageStats(c.Request.Context(), minMag)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, stats, nil)
}
