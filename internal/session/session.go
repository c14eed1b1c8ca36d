// Package session owns the signed-in identity: the token pair and the user
// it belongs to. It is the only writer of session state; the HTTP gateway
// reaches it through Invalidate when the API rejects a token.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/naveenspark/hwstore/internal/storage"
	"github.com/naveenspark/hwstore/pkg/client"
	"github.com/naveenspark/hwstore/pkg/domain"
)

var (
	// ErrInvalidCredentials means the API rejected the username or password.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrMissingCredentials means the username or password was empty.
	ErrMissingCredentials = errors.New("username and password are required")
)

// Credentials are what the user types on the login screen.
type Credentials struct {
	Username string
	Password string
}

// Authenticator is the slice of the API client the store needs.
type Authenticator interface {
	Login(ctx context.Context, req client.LoginRequest) (*client.LoginResponse, error)
	Logout(ctx context.Context) error
}

// Store holds the current session. Token and user are always written
// together: readers see either both or neither.
type Store struct {
	api  Authenticator
	repo storage.SessionRepository
	log  logrus.FieldLogger

	// writeMu serializes transitions so persistence, memory and listener
	// fan-out happen in the same order.
	writeMu sync.Mutex

	mu      sync.RWMutex
	current domain.Session

	lmu       sync.Mutex
	listeners map[int]func(domain.Session)
	nextID    int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) { s.log = l }
}

// New creates an empty store. Call Restore to pick up a persisted session.
func New(api Authenticator, repo storage.SessionRepository, opts ...Option) *Store {
	s := &Store{
		api:       api,
		repo:      repo,
		listeners: make(map[int]func(domain.Session)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.log = l
	}
	return s
}

// SetAPI wires the authenticator after construction. The gateway needs the
// store as its credential source and the store needs the gateway to log in,
// so one side has to be attached late.
func (s *Store) SetAPI(api Authenticator) {
	s.writeMu.Lock()
	s.api = api
	s.writeMu.Unlock()
}

// Restore loads the persisted session, if any. The session is trusted
// optimistically: no request is made, the first API call confirms it or the
// gateway invalidates it.
func (s *Store) Restore() (*domain.User, bool) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rec, err := s.repo.Load()
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.WithError(err).Warn("could not read persisted session")
		}
		return nil, false
	}
	if rec.AccessToken == "" || rec.User == nil {
		// Half a session is no session.
		s.purge()
		return nil, false
	}

	sess := domain.Session{AccessToken: rec.AccessToken, RefreshToken: rec.RefreshToken, User: rec.User}
	s.set(sess)
	s.log.WithField("user", rec.User.Username).Debug("session restored")
	u := *rec.User
	return &u, true
}

// Login authenticates against the API. On any failure the existing session
// is left exactly as it was.
func (s *Store) Login(ctx context.Context, creds Credentials) (*domain.User, error) {
	if creds.Username == "" || creds.Password == "" {
		return nil, ErrMissingCredentials
	}

	s.writeMu.Lock()
	api := s.api
	s.writeMu.Unlock()

	resp, err := api.Login(ctx, client.LoginRequest{Username: creds.Username, Password: creds.Password})
	if err != nil {
		if client.IsStatus(err, http.StatusUnauthorized) || client.IsStatus(err, http.StatusBadRequest) {
			return nil, fmt.Errorf("session.Login: %w", ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("session.Login: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rec := storage.Record{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken, User: resp.User}
	if err := s.repo.Save(rec); err != nil {
		return nil, fmt.Errorf("session.Login: persist session: %w", err)
	}
	s.set(domain.Session{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken, User: resp.User})
	s.log.WithField("user", resp.User.Username).Info("signed in")

	u := *resp.User
	return &u, nil
}

// Logout notifies the API on a best-effort basis and then clears the
// session. It always succeeds locally and is safe to call repeatedly.
func (s *Store) Logout(ctx context.Context) {
	s.writeMu.Lock()
	api := s.api
	s.writeMu.Unlock()

	if s.AccessToken() != "" && api != nil {
		if err := api.Logout(ctx); err != nil {
			s.log.WithError(err).Debug("logout request failed, clearing locally")
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.clear()
	s.log.Info("signed out")
}

// Invalidate is called by the HTTP gateway when the API answered 401 for a
// request carrying the rejected token ("" when it carried none). It clears
// the session only if that token is still the current one, and reports
// whether the caller should send the user to the login screen. A token
// that was already cleared or replaced by a newer login reports false, so
// concurrent rejections of one token navigate once.
func (s *Store) Invalidate(rejected string) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.AccessToken() != rejected {
		return false
	}
	s.clear()
	return true
}

// AccessToken returns the current bearer token, or "".
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.AccessToken
}

// Current returns a snapshot of the session.
func (s *Store) Current() domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSession(s.current)
}

// User returns the signed-in user.
func (s *Store) User() (*domain.User, bool) {
	sess := s.Current()
	return sess.User, sess.User != nil
}

// Subscribe registers fn to receive every session transition, in
// transition order. fn must not call Login, Logout or Invalidate. The
// returned func removes the subscription.
func (s *Store) Subscribe(fn func(domain.Session)) (unsubscribe func()) {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.lmu.Unlock()

	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

// set publishes a new session. writeMu must be held.
func (s *Store) set(sess domain.Session) {
	s.mu.Lock()
	s.current = sess
	snap := cloneSession(s.current)
	s.mu.Unlock()
	s.notify(snap)
}

// clear drops memory and persisted state. writeMu must be held.
func (s *Store) clear() {
	s.purge()

	s.mu.Lock()
	wasActive := s.current.AccessToken != "" || s.current.User != nil
	s.current = domain.Session{}
	s.mu.Unlock()

	if wasActive {
		s.notify(domain.Session{})
	}
}

func (s *Store) purge() {
	if err := s.repo.Delete(); err != nil {
		s.log.WithError(err).Warn("could not delete persisted session")
	}
}

func (s *Store) notify(sess domain.Session) {
	s.lmu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(domain.Session), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.lmu.Unlock()

	for _, fn := range fns {
		fn(cloneSession(sess))
	}
}

func cloneSession(s domain.Session) domain.Session {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}
