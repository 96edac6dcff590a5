package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-presence-api/internal/dto"
	"github.com/noah-isme/sma-presence-api/internal/models"
	appErrors "github.com/noah-isme/sma-presence-api/pkg/errors"
)

type tokenStoreStub struct {
	tokens map[string]*models.RotatedToken
	err    error
}

func (s tokenStoreStub) Lookup(_ context.Context, secureValue string) (*models.RotatedToken, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.tokens[secureValue], nil
}

type fenceStub struct{ inside *bool }

func (f fenceStub) Inside(string, string) *bool { return f.inside }

type verificationFixture struct {
	svc     *VerificationService
	store   *MemorySubmissionStore
	tokens  tokenStoreStub
	repo    *sessionRepoStub
	token   *models.RotatedToken
	encoded string
	now     time.Time
}

func newVerificationFixture(t *testing.T, now time.Time, session *models.Session) *verificationFixture {
	t.Helper()
	token := &models.RotatedToken{
		SessionID:   session.ID,
		BaseToken:   "0011223344556677",
		Sequence:    3,
		IssuedAt:    now.Add(-2 * time.Second),
		ExpiresAt:   now.Add(5 * time.Second),
		SecureValue: "secure-3",
		Nonce:       "nonce",
	}
	encoded, err := token.Payload().Encode()
	require.NoError(t, err)

	repo := newSessionRepoStub(session)
	sessions := newSessionServiceForTest(repo, newRotatorStub(), now)
	tokens := tokenStoreStub{tokens: map[string]*models.RotatedToken{token.SecureValue: token}}
	store := NewMemorySubmissionStore()
	locations := locationStub{profiles: map[string]*models.LocationProfile{"room-1": labProfile()}}
	inside := true
	svc := NewVerificationService(sessions, tokens, locations, NewDuplicateGuard(store, nil), fenceStub{inside: &inside}, nil,
		VerificationConfig{Clock: func() time.Time { return now }}, nil, nil)

	return &verificationFixture{svc: svc, store: store, tokens: tokens, repo: repo, token: token, encoded: encoded, now: now}
}

func activeSession(now time.Time) *models.Session {
	return &models.Session{
		ID:          "session-1",
		LocationID:  "room-1",
		Status:      models.SessionStatusActive,
		WindowStart: now.Add(-10 * time.Minute),
		WindowEnd:   now.Add(50 * time.Minute),
	}
}

var studentClaims = &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent}

func TestVerificationServiceAcceptsStrongSubmission(t *testing.T) {
	now := time.Date(2025, 2, 3, 7, 10, 0, 0, time.UTC)
	fx := newVerificationFixture(t, now, activeSession(now))
	coord := north(labProfile().Center, 20)

	result, err := fx.svc.Verify(context.Background(), dto.VerificationRequest{
		Token:      fx.encoded,
		Coordinate: &coord,
		Network:    &dto.NetworkObservation{Name: "LAB-WIFI", HWAddress: "aa-bb-cc-dd-ee-ff"},
	}, studentClaims)
	require.NoError(t, err)

	assert.Equal(t, "accepted", result.DispositionLabel())
	assert.Equal(t, "student-1", result.SubjectID)
	assert.InDelta(t, 85, result.Score, 1e-9)
	assert.Equal(t, models.ScoreBreakdown{Token: 40, Location: 25, Network: 20}, result.Breakdown)
	assert.Empty(t, result.RadioMatches)
	require.NotNil(t, result.Distance)
	assert.InDelta(t, 20, *result.Distance, 0.01)
	require.NotNil(t, result.GeofenceInside)
	assert.True(t, *result.GeofenceInside)
	assert.Equal(t, 1, fx.store.Len())
}

func TestVerificationServiceAcceptsPartialSignals(t *testing.T) {
	now := time.Date(2025, 2, 3, 7, 10, 0, 0, time.UTC)
	fx := newVerificationFixture(t, now, activeSession(now))
	coord := north(labProfile().Center, 45)

	result, err := fx.svc.Verify(context.Background(), dto.VerificationRequest{
		Token:      fx.encoded,
		Coordinate: &coord,
		Radios:     []string{"11:22:33:44:55:66", "ff:ff:ff:ff:ff:ff"},
	}, studentClaims)
	require.NoError(t, err)

	assert.Equal(t, models.DispositionAccepted, result.Disposition)
	assert.InDelta(t, 67.5, result.Score, 1e-9)
	assert.Equal(t, []string{"11:22:33:44:55:66"}, result.RadioMatches)
	assert.False(t, result.Factors.Network)
}

func TestVerificationServiceRejectsLowScoreWithoutPersisting(t *testing.T) {
	now := time.Date(2025, 2, 3, 7, 10, 0, 0, time.UTC)
	fx := newVerificationFixture(t, now, activeSession(now))
	coord := north(labProfile().Center, 80)

	result, err := fx.svc.Verify(context.Background(), dto.VerificationRequest{Token: fx.encoded, Coordinate: &coord}, studentClaims)
	require.NoError(t, err)
	assert.Equal(t, "rejected:insufficient_score", result.DispositionLabel())
	assert.InDelta(t, 40, result.Score, 1e-9)
	assert.Zero(t, fx.store.Len())
}

func TestVerificationServiceDuplicateReturnsStoredResult(t *testing.T) {
	now := time.Date(2025, 2, 3, 7, 10, 0, 0, time.UTC)
	fx := newVerificationFixture(t, now, activeSession(now))
	near := north(labProfile().Center, 10)
	far := north(labProfile().Center, 45)
	ctx := context.Background()

	first, err := fx.svc.Verify(ctx, dto.VerificationRequest{
		Token:      fx.encoded,
		Coordinate: &near,
		Network:    &dto.NetworkObservation{Name: "LAB-WIFI", HWAddress: "AA:BB:CC:DD:EE:FF"},
	}, studentClaims)
	require.NoError(t, err)
	require.Equal(t, models.DispositionAccepted, first.Disposition)

	second, err := fx.svc.Verify(ctx, dto.VerificationRequest{
		Token:      fx.encoded,
		Coordinate: &far,
		Radios:     []string{"11:22:33:44:55:66"},
	}, studentClaims)
	require.NoError(t, err)
	assert.Equal(t, "duplicate", second.DispositionLabel())
	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, fx.store.Len())
}

func TestVerificationServiceWeakRescanAfterAcceptanceIsDuplicate(t *testing.T) {
	now := time.Date(2025, 2, 3, 7, 10, 0, 0, time.UTC)
	fx := newVerificationFixture(t, now, activeSession(now))
	near := north(labProfile().Center, 20)
	outside := north(labProfile().Center, 80)
	ctx := context.Background()

	first, err := fx.svc.Verify(ctx, dto.VerificationRequest{
		Token:      fx.encoded,
		Coordinate: &near,
		Network:    &dto.NetworkObservation{Name: "LAB-WIFI", HWAddress: "aa:bb:cc:dd:ee:ff"},
	}, studentClaims)
	require.NoError(t, err)
	require.Equal(t, models.DispositionAccepted, first.Disposition)

	rescan, err := fx.svc.Verify(ctx, dto.VerificationRequest{Token: fx.encoded, Coordinate: &outside}, studentClaims)
	require.NoError(t, err)
	assert.Equal(t, "duplicate", rescan.DispositionLabel())
	assert.Equal(t, first.ID, rescan.ID)
	assert.InDelta(t, 85, rescan.Score, 1e-9)
	assert.Equal(t, 1, fx.store.Len())
}

func TestVerificationServiceRejections(t *testing.T) {
	now := time.Date(2025, 2, 3, 7, 10, 0, 0, time.UTC)

	t.Run("expired token", func(t *testing.T) {
		fx := newVerificationFixture(t, now, activeSession(now))
		fx.token.ExpiresAt = now.Add(-time.Millisecond)
		result, err := fx.svc.Verify(context.Background(), dto.VerificationRequest{Token: fx.encoded}, studentClaims)
		require.NoError(t, err)
		assert.Equal(t, "rejected:expired_token", result.DispositionLabel())
		assert.Zero(t, result.Score)
	})

	t.Run("malformed token", func(t *testing.T) {
		fx := newVerificationFixture(t, now, activeSession(now))
		result, err := fx.svc.Verify(context.Background(), dto.VerificationRequest{Token: "not-a-token"}, studentClaims)
		require.NoError(t, err)
		assert.Equal(t, "rejected:invalid_token", result.DispositionLabel())
	})

	t.Run("unknown secure value", func(t *testing.T) {
		fx := newVerificationFixture(t, now, activeSession(now))
		forged := fx.token.Payload()
		forged.SecureValue = "forged"
		encoded, err := forged.Encode()
		require.NoError(t, err)
		result, err := fx.svc.Verify(context.Background(), dto.VerificationRequest{Token: encoded}, studentClaims)
		require.NoError(t, err)
		assert.Equal(t, "rejected:invalid_token", result.DispositionLabel())
	})

	t.Run("sequence mismatch", func(t *testing.T) {
		fx := newVerificationFixture(t, now, activeSession(now))
		tampered := fx.token.Payload()
		tampered.Sequence = 9
		encoded, err := tampered.Encode()
		require.NoError(t, err)
		result, err := fx.svc.Verify(context.Background(), dto.VerificationRequest{Token: encoded}, studentClaims)
		require.NoError(t, err)
		assert.Equal(t, "rejected:invalid_token", result.DispositionLabel())
	})

	t.Run("window not open", func(t *testing.T) {
		session := activeSession(now)
		session.WindowStart = now.Add(time.Minute)
		fx := newVerificationFixture(t, now, session)
		result, err := fx.svc.Verify(context.Background(), dto.VerificationRequest{Token: fx.encoded}, studentClaims)
		require.NoError(t, err)
		assert.Equal(t, "rejected:window_not_open", result.DispositionLabel())
	})

	t.Run("window closed completes session", func(t *testing.T) {
		session := activeSession(now)
		session.WindowEnd = now.Add(-time.Second)
		fx := newVerificationFixture(t, now, session)
		result, err := fx.svc.Verify(context.Background(), dto.VerificationRequest{Token: fx.encoded}, studentClaims)
		require.NoError(t, err)
		assert.Equal(t, "rejected:window_closed", result.DispositionLabel())
		assert.Equal(t, models.SessionStatusCompleted, fx.repo.status("session-1"))
	})

	t.Run("cancelled session", func(t *testing.T) {
		session := activeSession(now)
		session.Status = models.SessionStatusCancelled
		fx := newVerificationFixture(t, now, session)
		result, err := fx.svc.Verify(context.Background(), dto.VerificationRequest{Token: fx.encoded}, studentClaims)
		require.NoError(t, err)
		assert.Equal(t, "rejected:session_not_active", result.DispositionLabel())
	})
}

func TestVerificationServiceErrors(t *testing.T) {
	now := time.Date(2025, 2, 3, 7, 10, 0, 0, time.UTC)
	fx := newVerificationFixture(t, now, activeSession(now))
	ctx := context.Background()

	_, err := fx.svc.Verify(ctx, dto.VerificationRequest{Token: fx.encoded}, nil)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = fx.svc.Verify(ctx, dto.VerificationRequest{Token: fx.encoded, SubjectID: "student-2"}, studentClaims)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = fx.svc.Verify(ctx, dto.VerificationRequest{SubjectID: "student-1"}, teacherClaims)
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	failing := NewVerificationService(fx.svc.sessions, tokenStoreStub{err: errors.New("redis down")}, fx.svc.locations, fx.svc.guard, nil, nil,
		VerificationConfig{Clock: func() time.Time { return now }}, nil, nil)
	_, err = failing.Verify(ctx, dto.VerificationRequest{Token: fx.encoded}, studentClaims)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.True(t, appErr.Retryable)
}

func TestVerificationServiceStaffMaySubmitForSubject(t *testing.T) {
	now := time.Date(2025, 2, 3, 7, 10, 0, 0, time.UTC)
	fx := newVerificationFixture(t, now, activeSession(now))
	coord := north(labProfile().Center, 5)

	result, err := fx.svc.Verify(context.Background(), dto.VerificationRequest{
		Token:      fx.encoded,
		SubjectID:  "student-9",
		Coordinate: &coord,
		Network:    &dto.NetworkObservation{Name: "LAB-WIFI", HWAddress: "AA:BB:CC:DD:EE:FF"},
		Radios:     []string{"11:22:33:44:55:77"},
	}, teacherClaims)
	require.NoError(t, err)
	assert.Equal(t, "student-9", result.SubjectID)
	assert.InDelta(t, 100, result.Score, 1e-9)
}
