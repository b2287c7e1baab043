package sessions

import (
	"context"
	"sync"

	apperrors "github.com/jrsteele09/go-webapp-auth/internal/errors"
	"github.com/pkg/errors"
)

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryRepo is an in-memory implementation of Repo, suitable for tests
// and single-instance deployments.
type InMemoryRepo struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewInMemoryRepo creates a new in-memory session repository
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		sessions: make(map[string]*Session),
	}
}

// Upsert creates or updates a session
func (r *InMemoryRepo) Upsert(_ context.Context, session *Session) error {
	if session == nil || session.ID == "" {
		return errors.New("[InMemoryRepo.Upsert] session ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
	return nil
}

// Get retrieves a session by ID
func (r *InMemoryRepo) Get(_ context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, apperrors.ErrSessionNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, apperrors.ErrSessionNotFound
	}
	return session, nil
}

// Delete removes a session. Deleting a session that does not exist is not
// an error.
func (r *InMemoryRepo) Delete(_ context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.New("[InMemoryRepo.Delete] session ID is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	return nil
}
