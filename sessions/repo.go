package sessions

import "context"

// Repo is the pluggable session store. The authentication layer relies on
// the store's per-session isolation for correctness of the multi-request
// redirect flow; it performs no cross-request locking of its own.
//
// Delete is synchronous: when it returns nil the session is gone from the
// store, which lets sign-out guarantee destruction before the logout
// redirect is written.
type Repo interface {
	Upsert(ctx context.Context, session *Session) error
	Get(ctx context.Context, sessionID string) (*Session, error)
	Delete(ctx context.Context, sessionID string) error
}
