package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-presence-api/internal/models"
	appErrors "github.com/noah-isme/sma-presence-api/pkg/errors"
)

// SubmissionStore performs the atomic check-and-insert behind the duplicate guard. When a
// row for (subject, session) already exists it returns that row and wasDuplicate=true.
type SubmissionStore interface {
	InsertIfAbsent(ctx context.Context, result models.SubmissionResult) (stored models.SubmissionResult, wasDuplicate bool, err error)
	Find(ctx context.Context, subjectID, sessionID string) (*models.SubmissionResult, error)
}

// DuplicateGuard admits at most one accepted submission per subject and session.
type DuplicateGuard struct {
	store  SubmissionStore
	logger *zap.Logger
}

// NewDuplicateGuard constructs a guard over store.
func NewDuplicateGuard(store SubmissionStore, logger *zap.Logger) *DuplicateGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DuplicateGuard{store: store, logger: logger}
}

// Accept persists result unless the pair already has a stored submission, in which case the
// stored one is returned with the duplicate disposition. Storage failures are retryable.
func (g *DuplicateGuard) Accept(ctx context.Context, result models.SubmissionResult) (models.SubmissionResult, error) {
	if result.SubjectID == "" || result.SessionID == "" {
		return models.SubmissionResult{}, appErrors.Clone(appErrors.ErrValidation, "subject and session are required")
	}
	if result.ID == "" {
		result.ID = uuid.NewString()
	}
	result = result.WithDisposition(models.DispositionAccepted)

	stored, duplicate, err := g.store.InsertIfAbsent(ctx, result)
	if err != nil {
		g.logger.Error("submission insert failed",
			zap.String("subject_id", result.SubjectID),
			zap.String("session_id", result.SessionID),
			zap.Error(err))
		return models.SubmissionResult{}, appErrors.Retryable(err, "")
	}
	if duplicate {
		g.logger.Info("duplicate submission",
			zap.String("subject_id", result.SubjectID),
			zap.String("session_id", result.SessionID))
		return stored.WithDisposition(models.DispositionDuplicate), nil
	}
	return stored.WithDisposition(models.DispositionAccepted), nil
}

// Existing returns the stored submission for the pair with the duplicate disposition, or nil
// when the subject has not been accepted yet. Storage failures are retryable.
func (g *DuplicateGuard) Existing(ctx context.Context, subjectID, sessionID string) (*models.SubmissionResult, error) {
	stored, err := g.store.Find(ctx, subjectID, sessionID)
	if err != nil {
		g.logger.Error("submission lookup failed",
			zap.String("subject_id", subjectID),
			zap.String("session_id", sessionID),
			zap.Error(err))
		return nil, appErrors.Retryable(err, "")
	}
	if stored == nil {
		return nil, nil
	}
	duplicate := stored.WithDisposition(models.DispositionDuplicate)
	return &duplicate, nil
}

type submissionKey struct {
	subjectID string
	sessionID string
}

// MemorySubmissionStore is a process-local SubmissionStore.
type MemorySubmissionStore struct {
	mu      sync.Mutex
	entries map[submissionKey]models.SubmissionResult
}

// NewMemorySubmissionStore constructs an empty store.
func NewMemorySubmissionStore() *MemorySubmissionStore {
	return &MemorySubmissionStore{entries: make(map[submissionKey]models.SubmissionResult)}
}

// InsertIfAbsent stores result unless the pair exists.
func (s *MemorySubmissionStore) InsertIfAbsent(_ context.Context, result models.SubmissionResult) (models.SubmissionResult, bool, error) {
	key := submissionKey{subjectID: result.SubjectID, sessionID: result.SessionID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[key]; ok {
		return existing.WithDisposition(existing.Disposition), true, nil
	}
	s.entries[key] = result.WithDisposition(result.Disposition)
	return result, false, nil
}

// Find returns the stored submission of the pair, nil when absent.
func (s *MemorySubmissionStore) Find(_ context.Context, subjectID, sessionID string) (*models.SubmissionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.entries[submissionKey{subjectID: subjectID, sessionID: sessionID}]
	if !ok {
		return nil, nil
	}
	found := existing.WithDisposition(existing.Disposition)
	return &found, nil
}

// ListBySession returns the stored submissions of a session.
func (s *MemorySubmissionStore) ListBySession(_ context.Context, sessionID string) ([]models.SubmissionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SubmissionResult, 0)
	for key, result := range s.entries {
		if key.sessionID == sessionID {
			out = append(out, result.WithDisposition(result.Disposition))
		}
	}
	return out, nil
}

// Len returns the number of stored submissions.
func (s *MemorySubmissionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
