package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"geoattend/internal/attendance"
)

// Repository persists attendance data in Postgres or SQLite.
type Repository struct {
	db      *sql.DB
	dialect Dialect
}

var _ attendance.Store = (*Repository)(nil)

// NewRepository creates a repo over an open DB.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db.Client, dialect: db.Dialect}
}

var placeholder = regexp.MustCompile(`\$\d+`)

// q rewrites $n placeholders for drivers that only understand ?.
// Queries must use each placeholder once, in order.
func (r *Repository) q(query string) string {
	if r.dialect == SQLite {
		return placeholder.ReplaceAllString(query, "?")
	}
	return query
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// InsertSession writes a new session.
func (r *Repository) InsertSession(ctx context.Context, s attendance.Session) (attendance.Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO class_sessions (id, code, lat, lng, radius, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`), s.ID, s.Code, s.Geofence.Lat, s.Geofence.Lng, s.Geofence.Radius, s.OpenedAt.UTC())
	if err != nil {
		return attendance.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// LatestSession returns the most recently opened session.
func (r *Repository) LatestSession(ctx context.Context) (*attendance.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, code, lat, lng, radius, opened_at
		FROM class_sessions
		ORDER BY opened_at DESC
		LIMIT 1
	`)
	var s attendance.Session
	if err := row.Scan(&s.ID, &s.Code, &s.Geofence.Lat, &s.Geofence.Lng, &s.Geofence.Radius, &s.OpenedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest session: %w", err)
	}
	s.OpenedAt = s.OpenedAt.UTC()
	return &s, nil
}

func (r *Repository) findUser(ctx context.Context, column, value string) (*attendance.User, error) {
	row := r.db.QueryRowContext(ctx, r.q(`
		SELECT id, username, email, created_at FROM users WHERE `+column+` = $1
	`), value)
	var u attendance.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find user by %s: %w", column, err)
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

// FindUserByEmail looks a user up by normalized email.
func (r *Repository) FindUserByEmail(ctx context.Context, email string) (*attendance.User, error) {
	return r.findUser(ctx, "email", email)
}

// FindUserByUsername looks a user up by display name.
func (r *Repository) FindUserByUsername(ctx context.Context, username string) (*attendance.User, error) {
	return r.findUser(ctx, "username", username)
}

// InsertUser writes a new user, reporting attendance.ErrUniqueViolation on a taken email.
func (r *Repository) InsertUser(ctx context.Context, u attendance.User) (attendance.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO users (id, username, email, created_at)
		VALUES ($1, $2, $3, $4)
	`), u.ID, u.Username, u.Email, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return attendance.User{}, attendance.ErrUniqueViolation
		}
		return attendance.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// InsertCheckIn writes an accepted check-in.
func (r *Repository) InsertCheckIn(ctx context.Context, c attendance.CheckIn) (attendance.CheckIn, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO checkins (id, user_id, session_id, lat, lng, checked_in_at, distance, arrival_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`), c.ID, c.UserID, c.SessionID, c.Lat, c.Lng, c.Timestamp.UTC(), c.Distance, string(c.Arrival))
	if err != nil {
		return attendance.CheckIn{}, fmt.Errorf("insert check-in: %w", err)
	}
	return c, nil
}

// ListCheckIns returns check-ins joined with users, newest first.
func (r *Repository) ListCheckIns(ctx context.Context, f attendance.CheckInFilter) ([]attendance.CheckInView, error) {
	if f.Limit <= 0 {
		f.Limit = attendance.DefaultListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	query := `
		SELECT c.id, c.user_id, c.session_id, c.lat, c.lng, c.checked_in_at, c.distance, c.arrival_status,
		       u.username, u.email
		FROM checkins c
		JOIN users u ON u.id = c.user_id`
	args := []any{}
	if f.SessionID != "" {
		args = append(args, f.SessionID)
		query += " WHERE c.session_id = $" + strconv.Itoa(len(args))
	}
	query += " ORDER BY c.checked_in_at DESC LIMIT $" + strconv.Itoa(len(args)+1) + " OFFSET $" + strconv.Itoa(len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list check-ins: %w", err)
	}
	defer rows.Close()

	var res []attendance.CheckInView
	for rows.Next() {
		var v attendance.CheckInView
		var arrival string
		if err := rows.Scan(&v.ID, &v.UserID, &v.SessionID, &v.Lat, &v.Lng, &v.Timestamp, &v.Distance, &arrival, &v.Username, &v.Email); err != nil {
			return nil, fmt.Errorf("scan check-in: %w", err)
		}
		v.Arrival = attendance.ArrivalStatus(arrival)
		v.Timestamp = v.Timestamp.UTC()
		res = append(res, v)
	}
	return res, rows.Err()
}

// LateCounts aggregates late and total check-ins per user.
func (r *Repository) LateCounts(ctx context.Context, sessionID string) ([]attendance.LateCount, error) {
	clauses := []string{}
	args := []any{}
	if sessionID != "" {
		args = append(args, sessionID)
		clauses = append(clauses, "c.session_id = $1")
	}
	query := `
		SELECT u.username, u.email,
		       SUM(CASE WHEN c.arrival_status = 'late' THEN 1 ELSE 0 END) AS late_count,
		       COUNT(*) AS total
		FROM checkins c
		JOIN users u ON u.id = c.user_id`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += `
		GROUP BY u.id, u.username, u.email
		ORDER BY late_count DESC, u.username`

	rows, err := r.db.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("late counts: %w", err)
	}
	defer rows.Close()

	var res []attendance.LateCount
	for rows.Next() {
		var lc attendance.LateCount
		if err := rows.Scan(&lc.Username, &lc.Email, &lc.Late, &lc.Total); err != nil {
			return nil, fmt.Errorf("scan late count: %w", err)
		}
		res = append(res, lc)
	}
	return res, rows.Err()
}

// InsertAttempt writes an audit row for a rejected check-in.
func (r *Repository) InsertAttempt(ctx context.Context, a attendance.Attempt) (attendance.Attempt, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, r.q(`
		INSERT INTO checkin_attempts (id, session_id, email, username, lat, lng, distance, reason, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`), a.ID, a.SessionID, a.Email, a.Username, a.Lat, a.Lng, a.Distance, a.Reason, a.AttemptedAt.UTC())
	if err != nil {
		return attendance.Attempt{}, fmt.Errorf("insert attempt: %w", err)
	}
	return a, nil
}
