package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-presence-api/internal/dto"
	"github.com/noah-isme/sma-presence-api/internal/middleware"
	"github.com/noah-isme/sma-presence-api/internal/models"
	appErrors "github.com/noah-isme/sma-presence-api/pkg/errors"
)

type verificationMock struct {
	req    dto.VerificationRequest
	result models.SubmissionResult
	err    error
}

func (m *verificationMock) Verify(_ context.Context, req dto.VerificationRequest, _ *models.JWTClaims) (models.SubmissionResult, error) {
	m.req = req
	return m.result, m.err
}

func TestVerificationHandlerSubmit(t *testing.T) {
	distance := 20.0
	svc := &verificationMock{result: models.SubmissionResult{
		SubjectID:   "student-1",
		SessionID:   "session-1",
		Score:       85,
		Breakdown:   models.ScoreBreakdown{Token: 40, Location: 25, Network: 20},
		Distance:    &distance,
		Disposition: models.DispositionAccepted,
	}}
	h := NewVerificationHandler(svc)

	body := `{"token":"v1.abc","coordinate":{"lat":-6.2,"lng":106.8},"network":{"name":"LAB-WIFI","hw_address":"aa:bb:cc:dd:ee:ff"}}`
	c, w := newTestContext(http.MethodPost, "/verifications", []byte(body))
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent})
	h.Submit(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "LAB-WIFI", svc.req.Network.Name)
	require.NotNil(t, svc.req.Coordinate)

	var resp dto.VerificationResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &resp))
	assert.Equal(t, "accepted", resp.Disposition)
	assert.Equal(t, 85.0, resp.Score)
	assert.Equal(t, []string{}, resp.RadioMatches)
	assert.Equal(t, "accepted", c.GetString(middleware.ContextOutcomeKey))
}

func TestVerificationHandlerRejectionIsOK(t *testing.T) {
	svc := &verificationMock{result: models.Rejected("student-1", "session-1", models.ReasonExpiredToken, time.Time{})}
	h := NewVerificationHandler(svc)

	c, w := newTestContext(http.MethodPost, "/verifications", []byte(`{"token":"v1.abc"}`))
	h.Submit(c)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.VerificationResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &resp))
	assert.Equal(t, "rejected:expired_token", resp.Disposition)
	assert.Zero(t, resp.Score)
	assert.Equal(t, "rejected:expired_token", c.GetString(middleware.ContextOutcomeKey))
}

func TestVerificationHandlerRetryableFailure(t *testing.T) {
	svc := &verificationMock{err: appErrors.Retryable(errors.New("db down"), "")}
	h := NewVerificationHandler(svc)

	c, w := newTestContext(http.MethodPost, "/verifications", []byte(`{"token":"v1.abc"}`))
	h.Submit(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.True(t, decodeEnvelope(t, w).Error.Retryable)
}

type artifactOpenerMock struct {
	body string
	err  error
}

func (m artifactOpenerMock) OpenArtifact(string) (io.ReadCloser, error) {
	if m.err != nil {
		return nil, m.err
	}
	return io.NopCloser(strings.NewReader(m.body)), nil
}

func TestArtifactHandlerDownload(t *testing.T) {
	h := NewArtifactHandler(artifactOpenerMock{body: "png-bytes"}, nil)
	c, w := newTestContext(http.MethodGet, "/artifacts/token", nil)
	c.Params = gin.Params{{Key: "token", Value: "token"}}
	h.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "png-bytes", w.Body.String())

	denied := NewArtifactHandler(artifactOpenerMock{err: appErrors.Clone(appErrors.ErrForbidden, "artifact link expired")}, nil)
	c, w = newTestContext(http.MethodGet, "/artifacts/token", nil)
	denied.Download(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

type locationServiceMock struct {
	invalidated string
}

func (m *locationServiceMock) Get(_ context.Context, id string) (*models.LocationProfile, error) {
	if id != "room-1" {
		return nil, appErrors.ErrProfileNotFound
	}
	return &models.LocationProfile{ID: id, RadiusMeters: 50}, nil
}

func (m *locationServiceMock) Invalidate(_ context.Context, id string) error {
	m.invalidated = id
	return nil
}

func TestLocationHandler(t *testing.T) {
	svc := &locationServiceMock{}
	h := NewLocationHandler(svc)

	c, w := newTestContext(http.MethodGet, "/locations/room-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "room-1"}}
	h.Get(c)
	assert.Equal(t, http.StatusOK, w.Code)

	c, w = newTestContext(http.MethodGet, "/locations/nowhere", nil)
	c.Params = gin.Params{{Key: "id", Value: "nowhere"}}
	h.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)

	c, _ = newTestContext(http.MethodDelete, "/locations/room-1/cache", nil)
	c.Params = gin.Params{{Key: "id", Value: "room-1"}}
	h.Invalidate(c)
	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.Equal(t, "room-1", svc.invalidated)
}

func TestMetricsHandlerReady(t *testing.T) {
	ok := NewMetricsHandler(nil, map[string]ReadinessCheck{"db": func(context.Context) error { return nil }})
	c, w := newTestContext(http.MethodGet, "/ready", nil)
	ok.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)

	down := NewMetricsHandler(nil, map[string]ReadinessCheck{"redis": func(context.Context) error { return errors.New("refused") }})
	c, w = newTestContext(http.MethodGet, "/ready", nil)
	down.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "refused")
}
