// Package bbolt provides a BBolt-backed session repository.
package bbolt

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/naveenspark/hwstore/internal/storage"
	"github.com/naveenspark/hwstore/pkg/domain"
)

var bucketName = []byte("session")

// Store implements storage.SessionRepository backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.SessionRepository = (*Store)(nil)

// NewRepository returns a repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens a BBolt database at the given path.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the record. A bucket missing either the access token or the
// user is reported as storage.ErrNotFound.
func (s *Store) Load() (storage.Record, error) {
	var rec storage.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return storage.ErrNotFound
		}
		access := b.Get([]byte(storage.KeyAccessToken))
		userData := b.Get([]byte(storage.KeyUser))
		if len(access) == 0 || len(userData) == 0 {
			return storage.ErrNotFound
		}
		var u domain.User
		if err := json.Unmarshal(userData, &u); err != nil {
			return fmt.Errorf("decode user: %w", err)
		}
		rec.AccessToken = string(access)
		rec.RefreshToken = string(b.Get([]byte(storage.KeyRefreshToken)))
		rec.User = &u
		return nil
	})
	if err != nil {
		return storage.Record{}, err
	}
	return rec, nil
}

// Save writes all keys in one transaction.
func (s *Store) Save(rec storage.Record) error {
	userData, err := json.Marshal(rec.User)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(storage.KeyAccessToken), []byte(rec.AccessToken)); err != nil {
			return err
		}
		if err := b.Put([]byte(storage.KeyRefreshToken), []byte(rec.RefreshToken)); err != nil {
			return err
		}
		return b.Put([]byte(storage.KeyUser), userData)
	})
}

// Delete drops the session bucket.
func (s *Store) Delete() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketName) == nil {
			return nil
		}
		return tx.DeleteBucket(bucketName)
	})
}
