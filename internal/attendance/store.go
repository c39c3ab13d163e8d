package attendance

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the durable record of sessions, users, check-ins and rejected attempts.
// Finders return (nil, nil) when nothing matches.
type Store interface {
	InsertSession(ctx context.Context, s Session) (Session, error)
	LatestSession(ctx context.Context) (*Session, error)

	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	// InsertUser returns ErrUniqueViolation when the email is already taken.
	InsertUser(ctx context.Context, u User) (User, error)

	InsertCheckIn(ctx context.Context, c CheckIn) (CheckIn, error)
	ListCheckIns(ctx context.Context, f CheckInFilter) ([]CheckInView, error)
	LateCounts(ctx context.Context, sessionID string) ([]LateCount, error)

	InsertAttempt(ctx context.Context, a Attempt) (Attempt, error)
}

// MemoryStore is a process-local Store used in development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions []Session
	users    map[string]User
	checkins []CheckIn
	attempts []Attempt
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]User)}
}

func (m *MemoryStore) InsertSession(_ context.Context, s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	m.sessions = append(m.sessions, s)
	return s, nil
}

func (m *MemoryStore) LatestSession(_ context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Session
	for i := range m.sessions {
		if latest == nil || !m.sessions[i].OpenedAt.Before(latest.OpenedAt) {
			s := m.sessions[i]
			latest = &s
		}
	}
	return latest, nil
}

func (m *MemoryStore) FindUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[email]; ok {
		return &u, nil
	}
	return nil, nil
}

func (m *MemoryStore) FindUserByUsername(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) InsertUser(_ context.Context, u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Email]; ok {
		return User{}, ErrUniqueViolation
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	m.users[u.Email] = u
	return u, nil
}

func (m *MemoryStore) InsertCheckIn(_ context.Context, c CheckIn) (CheckIn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	m.checkins = append(m.checkins, c)
	return c, nil
}

func (m *MemoryStore) ListCheckIns(_ context.Context, f CheckInFilter) ([]CheckInView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := make(map[string]User, len(m.users))
	for _, u := range m.users {
		byID[u.ID] = u
	}
	var res []CheckInView
	for _, c := range m.checkins {
		if f.SessionID != "" && c.SessionID != f.SessionID {
			continue
		}
		u := byID[c.UserID]
		res = append(res, CheckInView{CheckIn: c, Username: u.Username, Email: u.Email})
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Timestamp.After(res[j].Timestamp) })
	return paginate(res, f.Limit, f.Offset), nil
}

func (m *MemoryStore) LateCounts(_ context.Context, sessionID string) ([]LateCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]*LateCount)
	for _, c := range m.checkins {
		if sessionID != "" && c.SessionID != sessionID {
			continue
		}
		lc, ok := counts[c.UserID]
		if !ok {
			lc = &LateCount{}
			for _, u := range m.users {
				if u.ID == c.UserID {
					lc.Username, lc.Email = u.Username, u.Email
				}
			}
			counts[c.UserID] = lc
		}
		lc.Total++
		if c.Arrival == ArrivalLate {
			lc.Late++
		}
	}
	res := make([]LateCount, 0, len(counts))
	for _, lc := range counts {
		res = append(res, *lc)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Late != res[j].Late {
			return res[i].Late > res[j].Late
		}
		return strings.Compare(res[i].Username, res[j].Username) < 0
	})
	return res, nil
}

func (m *MemoryStore) InsertAttempt(_ context.Context, a Attempt) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	m.attempts = append(m.attempts, a)
	return a, nil
}

// Attempts returns a copy of the recorded rejected attempts.
func (m *MemoryStore) Attempts() []Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Attempt(nil), m.attempts...)
}

// UserCount returns the number of stored users.
func (m *MemoryStore) UserCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

// CheckInCount returns the number of stored check-ins.
func (m *MemoryStore) CheckInCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.checkins)
}

func paginate(res []CheckInView, limit, offset int) []CheckInView {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(res) {
		return nil
	}
	end := offset + limit
	if end > len(res) {
		end = len(res)
	}
	return res[offset:end]
}

// DefaultListLimit caps ListCheckIns when no limit is given.
const DefaultListLimit = 50
