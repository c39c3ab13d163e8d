package attendance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// SessionWriter persists sessions for the Registry.
type SessionWriter interface {
	InsertSession(ctx context.Context, s Session) (Session, error)
	LatestSession(ctx context.Context) (*Session, error)
}

// Registry owns the single active session. Readers get an immutable snapshot;
// Open replaces it wholesale.
type Registry struct {
	store  SessionWriter
	now    func() time.Time
	mu     sync.Mutex // serializes Open so persisted order matches the active snapshot
	active atomic.Pointer[Session]
}

// NewRegistry creates an empty registry.
func NewRegistry(store SessionWriter, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{store: store, now: now}
}

// Open validates the input, persists a new session and makes it the active one.
// The previous session's code stops being accepted immediately.
func (r *Registry) Open(ctx context.Context, code string, fence GeofenceInput) (Session, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Session{}, validationError("missing code")
	}
	if fence.Lat == nil || fence.Lng == nil || fence.Radius == nil {
		return Session{}, validationError("incomplete classroom information")
	}
	if *fence.Radius <= 0 {
		return Session{}, validationError("radius must be positive")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.store.InsertSession(ctx, Session{
		Code:     code,
		Geofence: Geofence{Lat: *fence.Lat, Lng: *fence.Lng, Radius: *fence.Radius},
		OpenedAt: r.now().UTC(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("persist session: %w", err)
	}
	r.active.Store(&s)
	return s, nil
}

// Current returns a snapshot of the active session or ErrNoActiveSession.
func (r *Registry) Current() (Session, error) {
	s := r.active.Load()
	if s == nil {
		return Session{}, ErrNoActiveSession
	}
	return *s, nil
}

// Restore activates the most recently persisted session, if any.
// It reports whether a session was restored.
func (r *Registry) Restore(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, err := r.store.LatestSession(ctx)
	if err != nil {
		return false, fmt.Errorf("load latest session: %w", err)
	}
	if s == nil {
		return false, nil
	}
	r.active.Store(s)
	return true, nil
}
