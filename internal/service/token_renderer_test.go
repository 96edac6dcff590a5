package service

import (
	"bytes"
	"context"
	"image/png"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-presence-api/internal/models"
	appErrors "github.com/noah-isme/sma-presence-api/pkg/errors"
	"github.com/noah-isme/sma-presence-api/pkg/jobs"
	"github.com/noah-isme/sma-presence-api/pkg/storage"
)

func TestRenderQRProducesSquarePNG(t *testing.T) {
	data, err := RenderQR("v1.payload", 256)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
	assert.Equal(t, 256, img.Bounds().Dy())
}

func TestTokenRendererPublishesSignedArtifacts(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("artifact-secret", time.Minute)
	renderer := NewTokenRenderer(store, signer, RendererConfig{ImageSize: 128, Workers: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	renderer.Start(ctx)
	defer renderer.Stop()

	token := models.RotatedToken{
		SessionID:   "session-1",
		BaseToken:   "base",
		Sequence:    2,
		IssuedAt:    time.Now(),
		ExpiresAt:   time.Now().Add(5 * time.Second),
		SecureValue: "sv-2",
	}
	_, _, err = renderer.ArtifactToken("session-1", 2)
	assert.ErrorIs(t, err, appErrors.ErrNoActiveToken)

	require.NoError(t, renderer.Publish(ctx, token))

	var signed string
	require.Eventually(t, func() bool {
		signed, _, err = renderer.ArtifactToken("session-1", 2)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	artifact, err := renderer.OpenArtifact(signed)
	require.NoError(t, err)
	defer artifact.Close()
	data, err := io.ReadAll(artifact)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())

	_, _, err = renderer.ArtifactToken("session-1", 1)
	assert.ErrorIs(t, err, appErrors.ErrNoActiveToken)
}

func TestTokenRendererRejectsBadLinks(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	now := time.Now()
	signer := storage.NewSignedURLSigner("artifact-secret", time.Second).WithClock(func() time.Time { return now })
	renderer := NewTokenRenderer(store, signer, RendererConfig{})

	_, err = renderer.OpenArtifact("garbage")
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	missing, _, err := signer.Generate("session-1", "session-1/00000009.png")
	require.NoError(t, err)
	_, err = renderer.OpenArtifact(missing)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	now = now.Add(2 * time.Second)
	_, err = renderer.OpenArtifact(missing)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestTokenRendererKeepsNewestSequence(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	renderer := NewTokenRenderer(store, storage.NewSignedURLSigner("s", time.Minute), RendererConfig{ImageSize: 64})
	ctx := context.Background()

	require.NoError(t, renderer.handle(ctx, jobFor("session-1", 5)))
	require.NoError(t, renderer.handle(ctx, jobFor("session-1", 4)))

	_, _, err = renderer.ArtifactToken("session-1", 5)
	assert.NoError(t, err)
	_, _, err = renderer.ArtifactToken("session-1", 4)
	assert.ErrorIs(t, err, appErrors.ErrNoActiveToken)

	renderer.forget([]string{"session-1/00000005.png"})
	_, _, err = renderer.ArtifactToken("session-1", 5)
	assert.ErrorIs(t, err, appErrors.ErrNoActiveToken)
}

func jobFor(sessionID string, sequence uint64) jobs.Job {
	return jobs.Job{ID: "job", Type: renderJobType, Payload: renderRequest{SessionID: sessionID, Sequence: sequence, Payload: "v1.payload"}}
}
