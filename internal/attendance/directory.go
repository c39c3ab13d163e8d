package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// Resolution tells how ResolveOrCreate found its user.
type Resolution int

const (
	Created Resolution = iota + 1
	AlreadyExists
	ConflictUnresolved
)

func (r Resolution) String() string {
	switch r {
	case Created:
		return "created"
	case AlreadyExists:
		return "already_exists"
	case ConflictUnresolved:
		return "conflict_unresolved"
	}
	return "unknown"
}

// UserStore is the subset of Store used by the Directory.
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	InsertUser(ctx context.Context, u User) (User, error)
}

// Directory resolves students by email, creating them on first sight.
type Directory struct {
	store           UserStore
	uniqueUsernames bool
	logger          *zap.Logger

	// names serializes the username check with the insert. It only covers
	// this process; the schema has no unique index on username.
	names sync.Mutex
}

// NewDirectory creates a directory. When uniqueUsernames is set, a display name
// already held by a different email is rejected.
func NewDirectory(store UserStore, uniqueUsernames bool, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{store: store, uniqueUsernames: uniqueUsernames, logger: logger}
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeName trims a display name and puts it in Unicode NFC form.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// ResolveOrCreate returns the user for email, inserting one with displayName when
// none exists. A concurrent insert of the same email is retried once as a lookup.
func (d *Directory) ResolveOrCreate(ctx context.Context, email, displayName string) (User, Resolution, error) {
	email = NormalizeEmail(email)
	displayName = NormalizeName(displayName)
	if email == "" {
		return User{}, 0, validationError("missing email")
	}
	if displayName == "" {
		return User{}, 0, validationError("missing name")
	}

	existing, err := d.store.FindUserByEmail(ctx, email)
	if err != nil {
		return User{}, 0, fmt.Errorf("find user: %w", err)
	}
	if existing != nil {
		return *existing, AlreadyExists, nil
	}

	if d.uniqueUsernames {
		d.names.Lock()
		defer d.names.Unlock()
		holder, err := d.store.FindUserByUsername(ctx, displayName)
		if err != nil {
			return User{}, 0, fmt.Errorf("find user by name: %w", err)
		}
		if holder != nil && holder.Email != email {
			return User{}, 0, validationError("username already taken")
		}
	}

	created, err := d.store.InsertUser(ctx, User{Username: displayName, Email: email})
	if err == nil {
		d.logger.Info("user created", zap.String("user_id", created.ID), zap.String("email", email))
		return created, Created, nil
	}
	if !errors.Is(err, ErrUniqueViolation) {
		return User{}, 0, fmt.Errorf("create user: %w", err)
	}

	existing, err = d.store.FindUserByEmail(ctx, email)
	if err != nil {
		return User{}, 0, fmt.Errorf("find user after conflict: %w", err)
	}
	if existing != nil {
		return *existing, AlreadyExists, nil
	}

	d.logger.Error("user insert conflicted but lookup found nothing", zap.String("email", email))
	return User{}, ConflictUnresolved, &Error{
		Kind:    KindDuplicateUser,
		Message: "user could not be resolved after a conflicting insert",
		Err:     ErrUniqueViolation,
	}
}
