package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-presence-api/internal/dto"
	"github.com/noah-isme/sma-presence-api/internal/models"
	appErrors "github.com/noah-isme/sma-presence-api/pkg/errors"
)

// DefaultPassThreshold is the minimum score accepted when none is configured.
const DefaultPassThreshold = 60.0

type verificationSessions interface {
	Get(ctx context.Context, id string) (*models.Session, error)
	Evaluate(ctx context.Context, session *models.Session, now time.Time) models.RejectReason
}

type tokenResolver interface {
	Lookup(ctx context.Context, secureValue string) (*models.RotatedToken, error)
}

type profileReader interface {
	Get(ctx context.Context, id string) (*models.LocationProfile, error)
}

type submissionAcceptor interface {
	Accept(ctx context.Context, result models.SubmissionResult) (models.SubmissionResult, error)
	Existing(ctx context.Context, subjectID, sessionID string) (*models.SubmissionResult, error)
}

// FenceState reports the last geofence state of a subject, nil when unknown.
type FenceState interface {
	Inside(subjectID, fenceID string) *bool
}

// VerificationConfig tunes the acceptance policy.
type VerificationConfig struct {
	PassThreshold float64
	Clock         func() time.Time
}

// VerificationService runs a presence submission through the session gate, the signal
// validators, scoring and the duplicate guard.
type VerificationService struct {
	sessions  verificationSessions
	tokens    tokenResolver
	locations profileReader
	guard     submissionAcceptor
	scorer    *ScoringEngine
	fences    FenceState
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	threshold float64
	now       func() time.Time
}

// NewVerificationService constructs the verification flow. fences may be nil.
func NewVerificationService(
	sessions verificationSessions,
	tokens tokenResolver,
	locations profileReader,
	guard submissionAcceptor,
	fences FenceState,
	metrics *MetricsService,
	cfg VerificationConfig,
	validate *validator.Validate,
	logger *zap.Logger,
) *VerificationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PassThreshold <= 0 {
		cfg.PassThreshold = DefaultPassThreshold
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &VerificationService{
		sessions:  sessions,
		tokens:    tokens,
		locations: locations,
		guard:     guard,
		scorer:    NewScoringEngine(),
		fences:    fences,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		threshold: cfg.PassThreshold,
		now:       cfg.Clock,
	}
}

// Verify evaluates one submission. Rejections are results, not errors; errors are
// reserved for bad input, authorization and storage failures.
func (s *VerificationService) Verify(ctx context.Context, req dto.VerificationRequest, claims *models.JWTClaims) (models.SubmissionResult, error) {
	if claims == nil {
		return models.SubmissionResult{}, appErrors.ErrUnauthorized
	}
	if claims.Role == models.RoleStudent {
		if req.SubjectID == "" {
			req.SubjectID = claims.UserID
		}
		if req.SubjectID != claims.UserID {
			return models.SubmissionResult{}, appErrors.Clone(appErrors.ErrForbidden, "students may only submit for themselves")
		}
	}
	if err := s.validator.Struct(req); err != nil {
		return models.SubmissionResult{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verification payload")
	}

	ctx, span := tracer.Start(ctx, "presence.verify", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	result, err := s.verify(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return models.SubmissionResult{}, err
	}
	span.SetAttributes(
		attribute.String("session.id", result.SessionID),
		attribute.String("verification.disposition", result.DispositionLabel()),
		attribute.Float64("verification.score", result.Score),
	)
	s.metrics.ObserveVerification(result.DispositionLabel(), result.Score, result.Disposition != models.DispositionRejected || result.Reason == models.ReasonInsufficientScore)
	return result, nil
}

func (s *VerificationService) verify(ctx context.Context, req dto.VerificationRequest) (models.SubmissionResult, error) {
	now := s.now()

	payload, err := models.DecodeTokenPayload(req.Token)
	if err != nil {
		return s.reject(req.SubjectID, "", models.ReasonInvalidToken, now, err), nil
	}
	token, err := s.tokens.Lookup(ctx, payload.SecureValue)
	if err != nil {
		return models.SubmissionResult{}, appErrors.Retryable(err, "token store unavailable")
	}
	if token == nil || token.SessionID != payload.SessionID || token.Sequence != payload.Sequence {
		return s.reject(req.SubjectID, payload.SessionID, models.ReasonInvalidToken, now, nil), nil
	}

	session, err := s.sessions.Get(ctx, token.SessionID)
	if err != nil {
		if errors.Is(err, appErrors.ErrSessionNotFound) {
			return s.reject(req.SubjectID, token.SessionID, models.ReasonInvalidToken, now, err), nil
		}
		return models.SubmissionResult{}, err
	}

	if check := ValidateToken(now, token, session); !check.Valid {
		return s.reject(req.SubjectID, session.ID, check.Reason, now, nil), nil
	}
	if reason := s.sessions.Evaluate(ctx, session, now); reason != "" {
		return s.reject(req.SubjectID, session.ID, reason, now, nil), nil
	}

	profile, err := s.locations.Get(ctx, session.LocationID)
	if err != nil {
		return models.SubmissionResult{}, err
	}

	location := ValidateLocation(req.Coordinate, profile)
	network := ValidateNetwork(req.Network, profile)
	radios := ValidateRadios(req.Radios, profile)
	s.factorError(session.ID, req.SubjectID, "location", location.Err)
	s.factorError(session.ID, req.SubjectID, "network", network.Err)
	s.factorError(session.ID, req.SubjectID, "radio", radios.Err)

	score := s.scorer.Score(ScoreInputs{
		TokenValid:   true,
		Distance:     location.Distance,
		RadiusMeters: profile.RadiusMeters,
		NetworkValid: network.Valid,
		RadioValid:   radios.Valid,
	})

	result := models.SubmissionResult{
		SubjectID: req.SubjectID,
		SessionID: session.ID,
		Factors: models.FactorResults{
			Token:    true,
			Location: location.Valid,
			Network:  network.Valid,
			Radio:    radios.Valid,
		},
		RadioMatches: radios.Matches,
		Distance:     location.Distance,
		Score:        score.Total,
		Breakdown:    score.Breakdown,
		SubmittedAt:  now.UTC(),
	}
	if s.fences != nil {
		result.GeofenceInside = s.fences.Inside(req.SubjectID, session.LocationID)
	}

	if score.Total < s.threshold {
		// A weaker rescan after acceptance reports the stored record.
		existing, err := s.guard.Existing(ctx, req.SubjectID, session.ID)
		if err != nil {
			return models.SubmissionResult{}, err
		}
		if existing != nil {
			s.logger.Info("verification below threshold after acceptance",
				zap.String("session_id", session.ID),
				zap.String("subject_id", req.SubjectID),
				zap.Float64("score", score.Total))
			return *existing, nil
		}
		result.Disposition = models.DispositionRejected
		result.Reason = models.ReasonInsufficientScore
		s.logger.Info("verification below threshold",
			zap.String("session_id", session.ID),
			zap.String("subject_id", req.SubjectID),
			zap.Float64("score", score.Total),
			zap.Float64("threshold", s.threshold))
		return result, nil
	}

	stored, err := s.guard.Accept(ctx, result)
	if err != nil {
		return models.SubmissionResult{}, err
	}
	s.logger.Info("verification scored",
		zap.String("session_id", session.ID),
		zap.String("subject_id", req.SubjectID),
		zap.Float64("score", stored.Score),
		zap.String("disposition", stored.DispositionLabel()))
	return stored, nil
}

func (s *VerificationService) reject(subjectID, sessionID string, reason models.RejectReason, now time.Time, cause error) models.SubmissionResult {
	fields := []zap.Field{
		zap.String("subject_id", subjectID),
		zap.String("session_id", sessionID),
		zap.String("reason", string(reason)),
	}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	s.logger.Info("verification rejected", fields...)
	return models.Rejected(subjectID, sessionID, reason, now.UTC())
}

func (s *VerificationService) factorError(sessionID, subjectID, factor string, err error) {
	if err == nil {
		return
	}
	s.metrics.FactorError(factor)
	s.logger.Warn("signal could not be evaluated",
		zap.String("session_id", sessionID),
		zap.String("subject_id", subjectID),
		zap.String("factor", factor),
		zap.Error(err))
}
