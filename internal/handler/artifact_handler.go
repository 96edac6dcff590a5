package handler

import (
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-presence-api/pkg/response"
)

type artifactOpener interface {
	OpenArtifact(signed string) (io.ReadCloser, error)
}

// ArtifactHandler serves rendered token images behind short lived signed links.
type ArtifactHandler struct {
	artifacts artifactOpener
	logger    *zap.Logger
}

// NewArtifactHandler constructs the handler.
func NewArtifactHandler(artifacts artifactOpener, logger *zap.Logger) *ArtifactHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactHandler{artifacts: artifacts, logger: logger}
}

// Download godoc
// @Summary Download a rendered token image
// @Tags Artifacts
// @Produce png
// @Param token path string true "Signed artifact token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /artifacts/{token} [get]
func (h *ArtifactHandler) Download(c *gin.Context) {
	artifact, err := h.artifacts.OpenArtifact(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer artifact.Close()

	c.Header("Cache-Control", "no-store")
	c.Header("Content-Type", "image/png")
	if _, err := io.Copy(c.Writer, artifact); err != nil {
		h.logger.Warn("artifact stream interrupted", zap.Error(err))
	}
}
