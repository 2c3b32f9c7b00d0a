package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"quakewatch/internal/repository"
)

type SourceHandler struct {
	Repo repository.Repository
}

func (h *SourceHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/sources")
	group.GET("", h.listSources)
}

func (h *SourceHandler) listSources(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListSourceHealth(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}
