package attendance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"geoattend/internal/geo"
)

// DefaultLateAfter is how long after a session opens a check-in still counts as on time.
const DefaultLateAfter = 15 * time.Second

// AttemptRecorder receives rejected out-of-range attempts for auditing.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, a Attempt) error
}

// Observer is notified of service outcomes, typically to export metrics.
type Observer interface {
	SessionOpened()
	CheckInDecided(accepted bool, arrival ArrivalStatus, distance float64)
	CheckInFailed(kind Kind)
	UserResolved(r Resolution)
}

type nopObserver struct{}

func (nopObserver) SessionOpened() {}
func (nopObserver) CheckInDecided(bool, ArrivalStatus, float64) {}
func (nopObserver) CheckInFailed(Kind) {}
func (nopObserver) UserResolved(Resolution) {}

// Options configures a Service.
type Options struct {
	Store           Store
	Logger          *zap.Logger
	LateAfter       time.Duration
	UniqueUsernames bool
	Attempts        AttemptRecorder
	Observer        Observer
	Clock           func() time.Time
}

// Service validates check-ins against the active session.
type Service struct {
	store     Store
	registry  *Registry
	users     *Directory
	lateAfter time.Duration
	attempts  AttemptRecorder
	observer  Observer
	now       func() time.Time
	logger    *zap.Logger
}

// NewService creates a service backed by opts.Store.
func NewService(opts Options) *Service {
	if opts.LateAfter <= 0 {
		opts.LateAfter = DefaultLateAfter
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Service{
		store:     opts.Store,
		registry:  NewRegistry(opts.Store, opts.Clock),
		users:     NewDirectory(opts.Store, opts.UniqueUsernames, opts.Logger),
		lateAfter: opts.LateAfter,
		attempts:  opts.Attempts,
		observer:  opts.Observer,
		now:       opts.Clock,
		logger:    opts.Logger,
	}
}

// Registry exposes the session registry.
func (s *Service) Registry() *Registry { return s.registry }

// LateAfter returns the on-time threshold.
func (s *Service) LateAfter() time.Duration { return s.lateAfter }

// OpenSession replaces the active session.
func (s *Service) OpenSession(ctx context.Context, code string, fence GeofenceInput) (Session, error) {
	sess, err := s.registry.Open(ctx, code, fence)
	if err != nil {
		return Session{}, err
	}
	s.observer.SessionOpened()
	s.logger.Info("session opened",
		zap.String("session_id", sess.ID),
		zap.Float64("lat", sess.Geofence.Lat),
		zap.Float64("lng", sess.Geofence.Lng),
		zap.Float64("radius", sess.Geofence.Radius),
	)
	return sess, nil
}

// CurrentSession returns the active session or ErrNoActiveSession.
func (s *Service) CurrentSession() (Session, error) {
	return s.registry.Current()
}

// CheckInRequest is a student's check-in submission. Nil Lat/Lng mean missing;
// a zero At means "now".
type CheckInRequest struct {
	Code  string
	Email string
	Name  string
	Lat   *float64
	Lng   *float64
	At    time.Time
}

// Verdict is the outcome of a check-in that passed validation.
// Distance is always set; Arrival and CheckIn only when Accepted.
type Verdict struct {
	Accepted bool
	Distance float64
	Arrival  ArrivalStatus
	CheckIn  *CheckIn
	Session  Session
}

// CheckIn validates req against one snapshot of the active session and records
// an accepted check-in. An out-of-range location is a rejected Verdict, not an error.
func (s *Service) CheckIn(ctx context.Context, req CheckInRequest) (Verdict, error) {
	v, err := s.checkIn(ctx, req)
	if err != nil {
		s.observer.CheckInFailed(KindOf(err))
		return Verdict{}, err
	}
	s.observer.CheckInDecided(v.Accepted, v.Arrival, v.Distance)
	return v, nil
}

func (s *Service) checkIn(ctx context.Context, req CheckInRequest) (Verdict, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return Verdict{}, validationError("missing code")
	}

	sess, err := s.registry.Current()
	if err != nil {
		return Verdict{}, &Error{Kind: KindValidation, Message: "no active session", Err: err}
	}
	if code != sess.Code {
		return Verdict{}, ErrInvalidCode
	}

	if req.Lat == nil || req.Lng == nil {
		return Verdict{}, validationError("missing location")
	}
	loc := geo.Point{Lat: *req.Lat, Lng: *req.Lng}
	if !loc.Valid() {
		return Verdict{}, validationError("location out of range")
	}

	if NormalizeEmail(req.Email) == "" {
		return Verdict{}, validationError("missing email")
	}
	if NormalizeName(req.Name) == "" {
		return Verdict{}, validationError("missing name")
	}

	user, res, err := s.users.ResolveOrCreate(ctx, req.Email, req.Name)
	if err != nil {
		return Verdict{}, err
	}
	s.observer.UserResolved(res)

	at := req.At
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()
	arrival := Classify(at.Sub(sess.OpenedAt), s.lateAfter)

	distance := geo.Distance(loc, sess.Geofence.Center())
	if distance > sess.Geofence.Radius {
		s.recordAttempt(ctx, Attempt{
			SessionID:   sess.ID,
			Email:       user.Email,
			Username:    user.Username,
			Lat:         loc.Lat,
			Lng:         loc.Lng,
			Distance:    distance,
			Reason:      ReasonOutOfRange,
			AttemptedAt: at,
		})
		return Verdict{Accepted: false, Distance: distance, Session: sess}, nil
	}

	rec, err := s.store.InsertCheckIn(ctx, CheckIn{
		UserID:    user.ID,
		SessionID: sess.ID,
		Lat:       loc.Lat,
		Lng:       loc.Lng,
		Timestamp: at,
		Distance:  distance,
		Arrival:   arrival,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("persist check-in: %w", err)
	}
	s.logger.Info("check-in accepted",
		zap.String("checkin_id", rec.ID),
		zap.String("user_id", user.ID),
		zap.String("session_id", sess.ID),
		zap.Float64("distance", distance),
		zap.String("arrival", string(arrival)),
	)
	return Verdict{Accepted: true, Distance: distance, Arrival: arrival, CheckIn: &rec, Session: sess}, nil
}

func (s *Service) recordAttempt(ctx context.Context, a Attempt) {
	s.logger.Info("check-in out of range",
		zap.String("session_id", a.SessionID),
		zap.String("email", a.Email),
		zap.Float64("distance", a.Distance),
	)
	if s.attempts == nil {
		return
	}
	if err := s.attempts.RecordAttempt(ctx, a); err != nil {
		s.logger.Warn("record rejected attempt failed", zap.Error(err))
	}
}

// Classify returns late when elapsed exceeds threshold.
func Classify(elapsed, threshold time.Duration) ArrivalStatus {
	if elapsed > threshold {
		return ArrivalLate
	}
	return ArrivalOnTime
}

// ListCheckIns returns accepted check-ins, newest first.
func (s *Service) ListCheckIns(ctx context.Context, f CheckInFilter) ([]CheckInView, error) {
	return s.store.ListCheckIns(ctx, f)
}

// LateReport aggregates check-ins per user; an empty sessionID covers all sessions.
func (s *Service) LateReport(ctx context.Context, sessionID string) ([]LateCount, error) {
	return s.store.LateCounts(ctx, sessionID)
}
