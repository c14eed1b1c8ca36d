// Package app wires the console core together: persisted session, API
// gateway, cart synchronizer and notification poller.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"

	"github.com/naveenspark/hwstore/internal/cart"
	"github.com/naveenspark/hwstore/internal/config"
	"github.com/naveenspark/hwstore/internal/notify"
	"github.com/naveenspark/hwstore/internal/session"
	"github.com/naveenspark/hwstore/internal/storage"
	"github.com/naveenspark/hwstore/internal/storage/bbolt"
	"github.com/naveenspark/hwstore/pkg/client"
)

// ErrSignedOut means the operation needs an active session.
var ErrSignedOut = errors.New("not signed in")

// Console is one running instance of the client core.
type Console struct {
	Config   config.Config
	API      *client.Client
	Sessions *session.Store
	Cart     *cart.Sync
	Notifier *notify.Poller

	log     logrus.FieldLogger
	nav     *navigator
	closers []func() error
	unbind  []func()
}

type options struct {
	repo storage.SessionRepository
}

// Option configures New.
type Option func(*options)

// WithRepository replaces the bbolt session file, e.g. with an in-memory
// repository in tests.
func WithRepository(r storage.SessionRepository) Option {
	return func(o *options) { o.repo = r }
}

// New builds the console and restores any persisted session. It does not
// start polling; call Start.
func New(cfg config.Config, log logrus.FieldLogger, opts ...Option) (*Console, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Console{Config: cfg, log: log, nav: &navigator{}}

	repo := o.repo
	if repo == nil {
		if err := cfg.EnsureDataDir(); err != nil {
			return nil, fmt.Errorf("app.New: create data dir: %w", err)
		}
		store, err := bbolt.NewRepositoryFromFile(cfg.SessionPath(), &bolt.Options{Timeout: time.Second})
		if err != nil {
			return nil, fmt.Errorf("app.New: open session store: %w", err)
		}
		c.closers = append(c.closers, store.Close)
		repo = store
	}

	c.Sessions = session.New(nil, repo, session.WithLogger(log.WithField("component", "session")))
	c.API = client.New(cfg.APIURL,
		client.WithCredentials(c.Sessions),
		client.WithNavigator(c.nav),
		client.WithTimeout(cfg.Timeout),
		client.WithLogger(log.WithField("component", "client")),
	)
	c.Sessions.SetAPI(c.API)

	c.Cart = cart.New(c.API, cart.WithLogger(log.WithField("component", "cart")))
	c.Notifier = notify.New(c.API,
		notify.WithInterval(cfg.PollInterval),
		notify.WithLogger(log.WithField("component", "notify")),
	)
	c.unbind = append(c.unbind, c.Cart.Bind(c.Sessions))

	if u, ok := c.Sessions.Restore(); ok {
		log.WithField("username", u.Username).Debug("restored session")
	}
	return c, nil
}

// Start ties notification polling to the session lifetime.
func (c *Console) Start(ctx context.Context) {
	c.unbind = append(c.unbind, c.Notifier.Bind(ctx, c.Sessions))
}

// OnLoginRequired sets what happens when the API rejects the session. The
// gateway calls fn at most once per rejected response.
func (c *Console) OnLoginRequired(fn func()) {
	c.nav.set(fn)
}

// Refresh reloads the cart and the unread notifications concurrently.
func (c *Console) Refresh(ctx context.Context) error {
	if !c.Sessions.Current().Active() {
		return ErrSignedOut
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := c.Cart.Load(ctx)
		return err
	})
	g.Go(func() error {
		return c.Notifier.Refresh(ctx)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("app.Refresh: %w", err)
	}
	return nil
}

// Close stops background work and releases the session file.
func (c *Console) Close() error {
	for i := len(c.unbind) - 1; i >= 0; i-- {
		c.unbind[i]()
	}
	c.unbind = nil
	c.Notifier.Stop()

	var errs []error
	for _, fn := range c.closers {
		errs = append(errs, fn())
	}
	c.closers = nil
	return errors.Join(errs...)
}

// navigator forwards the gateway's login redirect to whoever is driving
// the UI. Until a target is set, it does nothing.
type navigator struct {
	mu sync.Mutex
	fn func()
}

func (n *navigator) set(fn func()) {
	n.mu.Lock()
	n.fn = fn
	n.mu.Unlock()
}

func (n *navigator) ToLogin() {
	n.mu.Lock()
	fn := n.fn
	n.mu.Unlock()
	if fn != nil {
		fn()
	}
}
