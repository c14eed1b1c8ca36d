// Package storage persists the session record across restarts.
package storage

import (
	"errors"

	"github.com/naveenspark/hwstore/pkg/domain"
)

// ErrNotFound is returned by Load when nothing has been persisted.
var ErrNotFound = errors.New("session record not found")

// Fixed keys the record is stored under.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
)

// Record is the persisted part of a session.
type Record struct {
	AccessToken  string
	RefreshToken string
	User         *domain.User
}

// SessionRepository stores at most one session record. Save and Delete
// are atomic: a reader never sees a token from one record and a user from
// another.
type SessionRepository interface {
	Load() (Record, error)
	Save(rec Record) error
	Delete() error
}
