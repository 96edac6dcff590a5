package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-presence-api/internal/dto"
	"github.com/noah-isme/sma-presence-api/internal/middleware"
	"github.com/noah-isme/sma-presence-api/internal/models"
	appErrors "github.com/noah-isme/sma-presence-api/pkg/errors"
	"github.com/noah-isme/sma-presence-api/pkg/response"
)

type sessionService interface {
	Open(ctx context.Context, req dto.OpenSessionRequest, claims *models.JWTClaims) (*models.Session, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	Cancel(ctx context.Context, id string, claims *models.JWTClaims) (*models.Session, error)
	Complete(ctx context.Context, id string) (*models.Session, error)
	CurrentToken(ctx context.Context, id string) (*models.RotatedToken, error)
}

type attendanceReporter interface {
	Attendance(ctx context.Context, sessionID string) (*dto.AttendanceReport, error)
	Export(ctx context.Context, sessionID, format string) (string, string, []byte, error)
}

type artifactLinker interface {
	ArtifactToken(sessionID string, sequence uint64) (string, time.Time, error)
}

// SessionHandler exposes attendance session endpoints.
type SessionHandler struct {
	sessions     sessionService
	reports      attendanceReporter
	artifacts    artifactLinker
	artifactBase string
}

// NewSessionHandler constructs the handler. artifacts may be nil when rendering is disabled;
// artifactBase is the route prefix signed artifact tokens are appended to.
func NewSessionHandler(sessions sessionService, reports attendanceReporter, artifacts artifactLinker, artifactBase string) *SessionHandler {
	return &SessionHandler{
		sessions:     sessions,
		reports:      reports,
		artifacts:    artifacts,
		artifactBase: strings.TrimRight(artifactBase, "/"),
	}
}

// Open godoc
// @Summary Open an attendance session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body dto.OpenSessionRequest true "Session payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /sessions [post]
func (h *SessionHandler) Open(c *gin.Context) {
	var req dto.OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload"))
		return
	}
	session, err := h.sessions.Open(c.Request.Context(), req, middleware.Claims(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// Get godoc
// @Summary Get an attendance session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session)
}

// Cancel godoc
// @Summary Cancel an attendance session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id}/cancel [post]
func (h *SessionHandler) Cancel(c *gin.Context) {
	session, err := h.sessions.Cancel(c.Request.Context(), c.Param("id"), middleware.Claims(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session)
}

// Complete godoc
// @Summary Close an attendance session early
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id}/complete [post]
func (h *SessionHandler) Complete(c *gin.Context) {
	session, err := h.sessions.Complete(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session)
}

// Token godoc
// @Summary Current rotating token of a session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id}/token [get]
func (h *SessionHandler) Token(c *gin.Context) {
	token, err := h.sessions.CurrentToken(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	payload, err := token.Payload().Encode()
	if err != nil {
		response.Error(c, err)
		return
	}
	resp := dto.SessionTokenResponse{
		SessionID: token.SessionID,
		Sequence:  token.Sequence,
		Payload:   payload,
		IssuedAt:  token.IssuedAt,
		ExpiresAt: token.ExpiresAt,
	}
	if h.artifacts != nil {
		signed, _, err := h.artifacts.ArtifactToken(token.SessionID, token.Sequence)
		switch {
		case err == nil:
			resp.ArtifactURL = fmt.Sprintf("%s/%s", h.artifactBase, signed)
		case !errors.Is(err, appErrors.ErrNoActiveToken):
			response.Error(c, err)
			return
		}
	}
	response.JSON(c, http.StatusOK, resp)
}

// Attendance godoc
// @Summary Attendance report of a session
// @Tags Sessions
// @Produce json
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Session ID"
// @Param format query string false "json, csv or pdf"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /sessions/{id}/attendance [get]
func (h *SessionHandler) Attendance(c *gin.Context) {
	format := strings.ToLower(c.DefaultQuery("format", "json"))
	if format == "json" {
		report, err := h.reports.Attendance(c.Request.Context(), c.Param("id"))
		if err != nil {
			response.Error(c, err)
			return
		}
		response.JSON(c, http.StatusOK, report)
		return
	}
	filename, contentType, data, err := h.reports.Export(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, filename, contentType, data)
}
