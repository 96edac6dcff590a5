package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/crypto/hkdf"

	"github.com/noah-isme/sma-presence-api/internal/models"
	appErrors "github.com/noah-isme/sma-presence-api/pkg/errors"
)

const (
	defaultRotationInterval = 5 * time.Second
	defaultGraceWindow      = 2 * time.Second
	rotationKeyInfo         = "sma-presence/token-rotation/v1"
)

var tracer = otel.Tracer("github.com/noah-isme/sma-presence-api/internal/service")

// TokenSink receives every published token. Sinks are best-effort: a failing sink is
// logged and does not affect the rotation.
type TokenSink interface {
	Name() string
	Publish(ctx context.Context, token models.RotatedToken) error
}

// RotatorConfig tunes the token rotator.
type RotatorConfig struct {
	Interval     time.Duration
	Grace        time.Duration
	KeyRetention time.Duration
	Clock        func() time.Time
	Logger       *zap.Logger
	Metrics      *MetricsService
}

// TokenRotator runs one goroutine per active session, minting a new signed token every
// interval until the session's duration elapses or Stop is called.
type TokenRotator struct {
	registry *SessionRegistry
	keys     KeyStore
	sinks    []TokenSink

	interval     time.Duration
	grace        time.Duration
	keyRetention time.Duration
	now          func() time.Time
	logger       *zap.Logger
	metrics      *MetricsService

	onExpire atomic.Pointer[func(sessionID string)]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTokenRotator constructs a rotator backed by registry and keys.
func NewTokenRotator(registry *SessionRegistry, keys KeyStore, cfg RotatorConfig, sinks ...TokenSink) *TokenRotator {
	if registry == nil {
		registry = NewSessionRegistry()
	}
	if keys == nil {
		keys = NewMemoryKeyStore(cfg.Clock)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultRotationInterval
	}
	if cfg.Grace < 0 {
		cfg.Grace = defaultGraceWindow
	}
	if cfg.KeyRetention < cfg.Interval+cfg.Grace {
		cfg.KeyRetention = 10 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TokenRotator{
		registry:     registry,
		keys:         keys,
		sinks:        sinks,
		interval:     cfg.Interval,
		grace:        cfg.Grace,
		keyRetention: cfg.KeyRetention,
		now:          cfg.Clock,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Interval returns the rotation period.
func (r *TokenRotator) Interval() time.Duration {
	return r.interval
}

// OnExpire registers fn to be called when a rotation ends because its duration elapsed.
func (r *TokenRotator) OnExpire(fn func(sessionID string)) {
	r.onExpire.Store(&fn)
}

// Start begins rotation for sessionID. Starting an already-active session returns the
// existing handle.
func (r *TokenRotator) Start(sessionID, baseSecret string, duration time.Duration) (*RotationHandle, error) {
	if sessionID == "" || baseSecret == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session id and base secret are required")
	}
	if duration <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rotation duration must be positive")
	}
	if existing, ok := r.registry.Lookup(sessionID); ok && existing.Active() {
		return existing, nil
	}

	baseToken, err := randomHex(8)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to seed rotation")
	}
	key, err := deriveRotationKey(baseSecret, sessionID, baseToken)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to derive rotation key")
	}

	handle := newRotationHandle(sessionID, baseToken, key, r.now(), duration)
	current, registered := r.registry.Register(handle)
	if !registered {
		return current, nil
	}
	r.metrics.SetActiveSessions(r.registry.Len())
	r.logger.Info("token rotation started",
		zap.String("session_id", sessionID),
		zap.Duration("duration", duration),
		zap.Duration("interval", r.interval))

	r.wg.Add(1)
	go r.run(handle)
	return handle, nil
}

// Current returns the latest non-expired token of an active session.
func (r *TokenRotator) Current(sessionID string) (*models.RotatedToken, bool) {
	handle, ok := r.registry.Lookup(sessionID)
	if !ok {
		return nil, false
	}
	return handle.Current(r.now())
}

// Stop marks the session inactive. The rotation goroutine observes the signal at its next
// tick boundary; an in-flight tick completes without publishing. Unknown sessions are ignored.
func (r *TokenRotator) Stop(sessionID string) {
	handle, ok := r.registry.Lookup(sessionID)
	if !ok {
		return
	}
	handle.signalStop()
}

// Lookup resolves a presented secure value to the token that carried it.
func (r *TokenRotator) Lookup(ctx context.Context, secureValue string) (*models.RotatedToken, error) {
	return r.keys.Get(ctx, secureValue)
}

// Active reports whether sessionID has a running rotation.
func (r *TokenRotator) Active(sessionID string) bool {
	handle, ok := r.registry.Lookup(sessionID)
	return ok && handle.Active()
}

// Shutdown stops every rotation and waits for the goroutines to exit or ctx to end.
func (r *TokenRotator) Shutdown(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *TokenRotator) run(h *RotationHandle) {
	defer r.wg.Done()
	expired := false
	defer func() {
		h.deactivate()
		r.registry.Unregister(h)
		r.metrics.SetActiveSessions(r.registry.Len())
		close(h.done)
		r.logger.Info("token rotation stopped", zap.String("session_id", h.SessionID), zap.Bool("expired", expired))
		if expired {
			if fn := r.onExpire.Load(); fn != nil && *fn != nil {
				(*fn)(h.SessionID)
			}
		}
	}()

	r.tick(h)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	deadline := time.NewTimer(h.Deadline.Sub(r.now()))
	defer deadline.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-h.stop:
			return
		case <-deadline.C:
			expired = true
			return
		case <-ticker.C:
			if !h.Active() {
				return
			}
			if !r.now().Before(h.Deadline) {
				expired = true
				return
			}
			r.tick(h)
		}
	}
}

// tick mints and publishes one token. Any failure is logged and the tick skipped.
func (r *TokenRotator) tick(h *RotationHandle) {
	ctx, span := tracer.Start(r.ctx, "presence.rotator.tick",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("session.id", h.SessionID)))
	defer span.End()

	token, err := r.mint(h)
	if err != nil {
		r.tickFailed(h, "mint", err)
		return
	}
	span.SetAttributes(attribute.Int64("token.sequence", int64(token.Sequence)))

	ttl := token.ExpiresAt.Sub(r.now()) + r.keyRetention
	if err := r.keys.Put(ctx, token, ttl); err != nil {
		r.tickFailed(h, "keystore", err)
		return
	}
	if !h.Active() {
		return
	}
	h.publish(token)
	r.metrics.TokenEmitted()

	for _, sink := range r.sinks {
		if err := sink.Publish(ctx, token); err != nil {
			r.tickFailed(h, sink.Name(), err)
		}
	}
}

func (r *TokenRotator) tickFailed(h *RotationHandle, stage string, err error) {
	r.metrics.TickFailed(stage)
	r.logger.Warn("token rotation tick failed",
		zap.String("session_id", h.SessionID),
		zap.String("stage", stage),
		zap.Error(err))
}

func (r *TokenRotator) mint(h *RotationHandle) (models.RotatedToken, error) {
	issuedAt := r.now().UTC()
	sequence := h.nextSequence()
	nonce, err := randomHex(16)
	if err != nil {
		return models.RotatedToken{}, fmt.Errorf("generate nonce: %w", err)
	}
	return models.RotatedToken{
		SessionID:   h.SessionID,
		BaseToken:   h.BaseToken,
		Sequence:    sequence,
		IssuedAt:    issuedAt,
		ExpiresAt:   issuedAt.Add(r.interval + r.grace),
		SecureValue: secureValue(h.key, h.SessionID, issuedAt, sequence, nonce),
		Nonce:       nonce,
	}, nil
}

// deriveRotationKey expands the base secret into a key bound to one rotation lifecycle.
func deriveRotationKey(baseSecret, sessionID, baseToken string) ([]byte, error) {
	reader := hkdf.New(sha256.New, []byte(baseSecret), []byte(sessionID+"|"+baseToken), []byte(rotationKeyInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// secureValue = HMAC-SHA256(key, session_id | issued_at | sequence | nonce).
func secureValue(key []byte, sessionID string, issuedAt time.Time, sequence uint64, nonce string) string {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(sessionID))
	_, _ = mac.Write([]byte{'|'})
	_, _ = mac.Write([]byte(strconv.FormatInt(issuedAt.UnixNano(), 10)))
	_, _ = mac.Write([]byte{'|'})
	_, _ = mac.Write([]byte(strconv.FormatUint(sequence, 10)))
	_, _ = mac.Write([]byte{'|'})
	_, _ = mac.Write([]byte(nonce))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
