package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-presence-api/internal/dto"
	"github.com/noah-isme/sma-presence-api/internal/models"
	appErrors "github.com/noah-isme/sma-presence-api/pkg/errors"
)

const autoCompleteTimeout = 5 * time.Second

type sessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	UpdateStatus(ctx context.Context, id string, from, to models.SessionStatus) (bool, error)
	ListActive(ctx context.Context) ([]models.Session, error)
}

type sessionLocationReader interface {
	Get(ctx context.Context, id string) (*models.LocationProfile, error)
}

type tokenRotation interface {
	Start(sessionID, baseSecret string, duration time.Duration) (*RotationHandle, error)
	Stop(sessionID string)
	Current(sessionID string) (*models.RotatedToken, bool)
	OnExpire(fn func(sessionID string))
}

// SessionServiceConfig tunes the attendance window and rotation lifetime.
type SessionServiceConfig struct {
	PreBuffer   time.Duration
	PostBuffer  time.Duration
	TokenSecret string
	MaxRuntime  time.Duration
	Clock       func() time.Time
}

// SessionService is the session state machine: it opens attendance windows, drives the
// token rotator and moves sessions into their terminal states.
type SessionService struct {
	repo      sessionStore
	locations sessionLocationReader
	rotator   tokenRotation
	validator *validator.Validate
	logger    *zap.Logger
	cfg       SessionServiceConfig
	now       func() time.Time
}

// NewSessionService wires the state machine and registers it as the rotator's expiry handler.
func NewSessionService(repo sessionStore, locations sessionLocationReader, rotator tokenRotation, cfg SessionServiceConfig, validate *validator.Validate, logger *zap.Logger) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	svc := &SessionService{
		repo:      repo,
		locations: locations,
		rotator:   rotator,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       cfg.Clock,
	}
	if rotator != nil {
		rotator.OnExpire(svc.expire)
	}
	return svc
}

// Open persists a new active session and starts its token rotation.
func (s *SessionService) Open(ctx context.Context, req dto.OpenSessionRequest, claims *models.JWTClaims) (*models.Session, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !claims.Role.CanManageSessions() {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	if s.locations != nil {
		if _, err := s.locations.Get(ctx, req.LocationID); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	windowStart := req.ScheduledStart.UTC().Add(-s.cfg.PreBuffer)
	windowEnd := req.ScheduledEnd.UTC().Add(s.cfg.PostBuffer)
	if !windowEnd.After(now) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "scheduled end has already passed")
	}
	runtime := windowEnd.Sub(now)
	if s.cfg.MaxRuntime > 0 && runtime > s.cfg.MaxRuntime {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session window exceeds the maximum runtime")
	}

	session := &models.Session{
		ID:          uuid.NewString(),
		ScheduleID:  req.ScheduleID,
		LocationID:  req.LocationID,
		Status:      models.SessionStatusActive,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		CreatedBy:   claims.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}

	if _, err := s.rotator.Start(session.ID, s.cfg.TokenSecret, runtime); err != nil {
		if _, updErr := s.repo.UpdateStatus(ctx, session.ID, models.SessionStatusActive, models.SessionStatusCancelled); updErr != nil {
			s.logger.Error("failed to cancel session after rotation start failure", zap.String("session_id", session.ID), zap.Error(updErr))
		}
		return nil, err
	}

	s.logger.Info("session opened",
		zap.String("session_id", session.ID),
		zap.String("location_id", session.LocationID),
		zap.Time("window_start", windowStart),
		zap.Time("window_end", windowEnd),
		zap.String("actor", claims.UserID))
	return session, nil
}

// Evaluate gates a submission on session status and the attendance window. An empty
// reason means the submission may proceed. A window found closed completes the session.
func (s *SessionService) Evaluate(ctx context.Context, session *models.Session, now time.Time) models.RejectReason {
	if !session.Active() {
		return models.ReasonSessionNotActive
	}
	if now.Before(session.WindowStart) {
		return models.ReasonWindowNotOpen
	}
	if now.After(session.WindowEnd) {
		if _, err := s.transition(ctx, session.ID, models.SessionStatusCompleted); err != nil && !errors.Is(err, appErrors.ErrSessionTerminal) {
			s.logger.Warn("failed to auto-complete session", zap.String("session_id", session.ID), zap.Error(err))
		}
		return models.ReasonWindowClosed
	}
	return ""
}

// Get loads a session.
func (s *SessionService) Get(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrSessionNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if session == nil {
		return nil, appErrors.ErrSessionNotFound
	}
	return session, nil
}

// Cancel moves an active session to cancelled.
func (s *SessionService) Cancel(ctx context.Context, id string, claims *models.JWTClaims) (*models.Session, error) {
	if claims == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !claims.Role.CanManageSessions() {
		return nil, appErrors.ErrForbidden
	}
	session, err := s.transition(ctx, id, models.SessionStatusCancelled)
	if err != nil {
		return nil, err
	}
	s.logger.Info("session cancelled", zap.String("session_id", id), zap.String("actor", claims.UserID))
	return session, nil
}

// Complete moves an active session to completed.
func (s *SessionService) Complete(ctx context.Context, id string) (*models.Session, error) {
	return s.transition(ctx, id, models.SessionStatusCompleted)
}

// CurrentToken returns the latest valid token of an active session.
func (s *SessionService) CurrentToken(ctx context.Context, id string) (*models.RotatedToken, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.Active() {
		return nil, appErrors.ErrSessionTerminal
	}
	token, ok := s.rotator.Current(id)
	if !ok {
		return nil, appErrors.ErrNoActiveToken
	}
	return token, nil
}

// Resume restarts rotation for persisted active sessions and completes the ones whose
// window passed while the process was down. It returns the number of resumed rotations.
func (s *SessionService) Resume(ctx context.Context) (int, error) {
	sessions, err := s.repo.ListActive(ctx)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list active sessions")
	}
	now := s.now()
	resumed := 0
	for i := range sessions {
		session := sessions[i]
		if !now.Before(session.WindowEnd) {
			if _, err := s.transition(ctx, session.ID, models.SessionStatusCompleted); err != nil && !errors.Is(err, appErrors.ErrSessionTerminal) {
				s.logger.Warn("failed to complete stale session", zap.String("session_id", session.ID), zap.Error(err))
			}
			continue
		}
		if _, err := s.rotator.Start(session.ID, s.cfg.TokenSecret, session.WindowEnd.Sub(now)); err != nil {
			s.logger.Warn("failed to resume rotation", zap.String("session_id", session.ID), zap.Error(err))
			continue
		}
		resumed++
	}
	s.logger.Info("active sessions resumed", zap.Int("resumed", resumed), zap.Int("active", len(sessions)))
	return resumed, nil
}

func (s *SessionService) transition(ctx context.Context, id string, next models.SessionStatus) (*models.Session, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.Status.CanTransition(next) {
		return nil, appErrors.ErrSessionTerminal
	}
	updated, err := s.repo.UpdateStatus(ctx, id, models.SessionStatusActive, next)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update session status")
	}
	if !updated {
		return nil, appErrors.ErrSessionTerminal
	}
	s.rotator.Stop(id)

	session.Status = next
	session.UpdatedAt = s.now().UTC()
	s.logger.Info("session status changed", zap.String("session_id", id), zap.String("status", string(next)))
	return session, nil
}

func (s *SessionService) expire(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), autoCompleteTimeout)
	defer cancel()
	if _, err := s.transition(ctx, sessionID, models.SessionStatusCompleted); err != nil && !errors.Is(err, appErrors.ErrSessionTerminal) {
		s.logger.Warn("failed to complete expired session", zap.String("session_id", sessionID), zap.Error(err))
	}
}
