package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-presence-api/internal/models"
	"github.com/noah-isme/sma-presence-api/pkg/response"
)

type locationService interface {
	Get(ctx context.Context, id string) (*models.LocationProfile, error)
	Invalidate(ctx context.Context, id string) error
}

// LocationHandler exposes read access to location profiles and their cache.
type LocationHandler struct {
	service locationService
}

// NewLocationHandler constructs the handler.
func NewLocationHandler(service locationService) *LocationHandler {
	return &LocationHandler{service: service}
}

// Get godoc
// @Summary Get a location profile
// @Tags Locations
// @Produce json
// @Param id path string true "Location ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /locations/{id} [get]
func (h *LocationHandler) Get(c *gin.Context) {
	profile, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile)
}

// Invalidate godoc
// @Summary Drop the cached copy of a location profile
// @Tags Locations
// @Param id path string true "Location ID"
// @Success 204
// @Router /locations/{id}/cache [delete]
func (h *LocationHandler) Invalidate(c *gin.Context) {
	if err := h.service.Invalidate(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
