// Package memory provides a thread-safe in-memory storage.SessionRepository.
package memory

import (
	"sync"

	"github.com/naveenspark/hwstore/internal/storage"
	"github.com/naveenspark/hwstore/pkg/domain"
)

// Repository keeps the session record in process memory.
// Suitable for testing and one-shot commands.
type Repository struct {
	mu  sync.RWMutex
	rec *storage.Record
}

var _ storage.SessionRepository = (*Repository)(nil)

// NewRepository creates an empty Repository.
func NewRepository() *Repository {
	return &Repository{}
}

func cloneRecord(r storage.Record) storage.Record {
	out := r
	if r.User != nil {
		u := *r.User
		out.User = &u
	}
	return out
}

// Load returns the stored record or storage.ErrNotFound.
func (r *Repository) Load() (storage.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.rec == nil {
		return storage.Record{}, storage.ErrNotFound
	}
	return cloneRecord(*r.rec), nil
}

// Save replaces the stored record.
func (r *Repository) Save(rec storage.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := cloneRecord(rec)
	r.rec = &c
	return nil
}

// Delete removes the stored record. Deleting nothing is not an error.
func (r *Repository) Delete() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec = nil
	return nil
}

// User returns the stored user, for assertions in tests.
func (r *Repository) User() *domain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.rec == nil || r.rec.User == nil {
		return nil
	}
	u := *r.rec.User
	return &u
}
