package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-presence-api/internal/dto"
	"github.com/noah-isme/sma-presence-api/internal/middleware"
	"github.com/noah-isme/sma-presence-api/internal/models"
	appErrors "github.com/noah-isme/sma-presence-api/pkg/errors"
	"github.com/noah-isme/sma-presence-api/pkg/response"
)

type verificationService interface {
	Verify(ctx context.Context, req dto.VerificationRequest, claims *models.JWTClaims) (models.SubmissionResult, error)
}

// VerificationHandler accepts presence submissions.
type VerificationHandler struct {
	service verificationService
}

// NewVerificationHandler constructs the handler.
func NewVerificationHandler(service verificationService) *VerificationHandler {
	return &VerificationHandler{service: service}
}

// Submit godoc
// @Summary Submit presence signals for verification
// @Description Rejections are reported in the disposition with HTTP 200. Storage failures return 503 and may be retried.
// @Tags Verification
// @Accept json
// @Produce json
// @Param payload body dto.VerificationRequest true "Presence submission"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /verifications [post]
func (h *VerificationHandler) Submit(c *gin.Context) {
	var req dto.VerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verification payload"))
		return
	}
	result, err := h.service.Verify(c.Request.Context(), req, middleware.Claims(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetOutcome(c, result.DispositionLabel())
	response.JSON(c, http.StatusOK, dto.NewVerificationResponse(result))
}
