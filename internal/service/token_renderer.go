package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-presence-api/internal/models"
	appErrors "github.com/noah-isme/sma-presence-api/pkg/errors"
	"github.com/noah-isme/sma-presence-api/pkg/jobs"
	"github.com/noah-isme/sma-presence-api/pkg/storage"
)

const (
	renderJobType      = "token_qr"
	defaultArtifactPx  = 320
	artifactNameFormat = "%s/%08d.png"
)

type artifactStore interface {
	Save(name string, data []byte) (string, error)
	Open(name string) (*os.File, error)
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type artifactSigner interface {
	Generate(owner, relPath string) (string, time.Time, error)
	Parse(token string) (owner, relPath string, expiresAt time.Time, err error)
}

// RendererConfig tunes QR artifact rendering.
type RendererConfig struct {
	ImageSize       int
	Workers         int
	Retries         int
	CleanupInterval time.Duration
	Retention       time.Duration
	Logger          *zap.Logger
	Metrics         *MetricsService
}

type renderRequest struct {
	SessionID string
	Sequence  uint64
	Payload   string
}

type artifactRef struct {
	name     string
	sequence uint64
}

// TokenRenderer turns published tokens into scannable PNG artifacts. It is a TokenSink:
// Publish only enqueues, so a slow or failing renderer never delays the rotation.
type TokenRenderer struct {
	store   artifactStore
	signer  artifactSigner
	queue   *jobs.Queue
	size    int
	cfg     RendererConfig
	logger  *zap.Logger
	metrics *MetricsService

	mu     sync.RWMutex
	latest map[string]artifactRef

	stopCleanup context.CancelFunc
	cleanupDone chan struct{}
}

// NewTokenRenderer constructs a renderer with its own worker queue.
func NewTokenRenderer(store artifactStore, signer artifactSigner, cfg RendererConfig) *TokenRenderer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ImageSize <= 0 {
		cfg.ImageSize = defaultArtifactPx
	}
	r := &TokenRenderer{
		store:   store,
		signer:  signer,
		size:    cfg.ImageSize,
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		latest:  make(map[string]artifactRef),
	}
	r.queue = jobs.NewQueue("token-render", r.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.Retries,
		Logger:     cfg.Logger,
	})
	return r
}

// Name identifies the sink in logs and metrics.
func (r *TokenRenderer) Name() string {
	return "renderer"
}

// Start launches the render workers and the artifact cleanup loop.
func (r *TokenRenderer) Start(ctx context.Context) {
	r.queue.Start(ctx)
	if r.cfg.CleanupInterval <= 0 || r.cfg.Retention <= 0 {
		return
	}
	cleanupCtx, cancel := context.WithCancel(ctx)
	r.stopCleanup = cancel
	r.cleanupDone = make(chan struct{})
	go r.cleanupLoop(cleanupCtx)
}

// Stop halts the workers. Pending renders are dropped.
func (r *TokenRenderer) Stop() {
	if r.stopCleanup != nil {
		r.stopCleanup()
		<-r.cleanupDone
	}
	r.queue.Stop()
}

// Publish schedules rendering of token.
func (r *TokenRenderer) Publish(_ context.Context, token models.RotatedToken) error {
	payload, err := token.Payload().Encode()
	if err != nil {
		return err
	}
	return r.queue.Enqueue(jobs.Job{
		ID:   uuid.NewString(),
		Type: renderJobType,
		Payload: renderRequest{
			SessionID: token.SessionID,
			Sequence:  token.Sequence,
			Payload:   payload,
		},
	})
}

// ArtifactToken returns a signed download token for the artifact of the given sequence.
// ErrNoActiveToken is returned until that sequence has been rendered.
func (r *TokenRenderer) ArtifactToken(sessionID string, sequence uint64) (string, time.Time, error) {
	r.mu.RLock()
	ref, ok := r.latest[sessionID]
	r.mu.RUnlock()
	if !ok || ref.sequence != sequence {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrNoActiveToken, "artifact not rendered yet")
	}
	return r.signer.Generate(sessionID, ref.name)
}

// OpenArtifact validates a signed token and opens the referenced artifact.
func (r *TokenRenderer) OpenArtifact(signed string) (io.ReadCloser, error) {
	_, name, _, err := r.signer.Parse(signed)
	if err != nil {
		if errors.Is(err, storage.ErrSignedTokenExpired) {
			return nil, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "artifact link expired")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid artifact link")
	}
	file, err := r.store.Open(name)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "artifact not found")
	}
	return file, nil
}

func (r *TokenRenderer) handle(_ context.Context, job jobs.Job) error {
	req, ok := job.Payload.(renderRequest)
	if !ok {
		r.logger.Error("unexpected render payload", zap.String("job_id", job.ID))
		return nil
	}
	start := time.Now()
	data, err := RenderQR(req.Payload, r.size)
	if err != nil {
		return err
	}
	name, err := r.store.Save(fmt.Sprintf(artifactNameFormat, req.SessionID, req.Sequence), data)
	if err != nil {
		return err
	}
	r.metrics.ObserveRender(time.Since(start))

	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.latest[req.SessionID]; ok && current.sequence > req.Sequence {
		return nil
	}
	r.latest[req.SessionID] = artifactRef{name: name, sequence: req.Sequence}
	return nil
}

func (r *TokenRenderer) cleanupLoop(ctx context.Context) {
	defer close(r.cleanupDone)
	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := r.store.CleanupOlderThan(r.cfg.Retention)
			if err != nil {
				r.logger.Warn("artifact cleanup failed", zap.Error(err))
				continue
			}
			if len(deleted) > 0 {
				r.forget(deleted)
				r.logger.Debug("artifacts removed", zap.Int("count", len(deleted)))
			}
		}
	}
}

// forget drops references to deleted artifacts so finished sessions do not linger.
func (r *TokenRenderer) forget(deleted []string) {
	gone := make(map[string]struct{}, len(deleted))
	for _, name := range deleted {
		gone[filepath.ToSlash(name)] = struct{}{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for sessionID, ref := range r.latest {
		if _, ok := gone[ref.name]; ok {
			delete(r.latest, sessionID)
		}
	}
}

// RenderQR encodes payload as a square QR PNG of size pixels.
func RenderQR(payload string, size int) ([]byte, error) {
	code, err := qr.Encode(payload, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	scaled, err := barcode.Scale(code, size, size)
	if err != nil {
		return nil, fmt.Errorf("scale qr: %w", err)
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, scaled); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
