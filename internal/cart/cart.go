// Package cart keeps a local, render-ready copy of the draft order in step
// with the remote cart.
//
// Mutations always go through the API. Quantity edits are applied locally
// before the request resolves and rolled back on failure; additions and
// clearing wait for the server. Per line only one quantity update is on the
// wire at a time: newer edits replace the queued one, and a response that is
// no longer the latest for its line is dropped on arrival.
package cart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/naveenspark/hwstore/pkg/client"
	"github.com/naveenspark/hwstore/pkg/domain"
)

var (
	// ErrLineNotFound means the line is not in the local cart.
	ErrLineNotFound = errors.New("cart line not found")
	// ErrInvalidQuantity means a quantity below 1 was requested for an add.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

// DefaultRequestTimeout bounds queued quantity updates, which run detached
// from the caller that queued them.
const DefaultRequestTimeout = 15 * time.Second

// maxLoadAttempts bounds how often Load re-fetches when confirmed edits keep
// landing while its request is on the wire.
const maxLoadAttempts = 3

// API is the slice of the API client the synchronizer needs.
type API interface {
	GetCart(ctx context.Context) (*domain.Cart, error)
	AddCartItem(ctx context.Context, productID int64, quantity int) (*client.AddResult, error)
	UpdateCartItem(ctx context.Context, lineID int64, quantity int) (*domain.CartLine, error)
	RemoveCartItem(ctx context.Context, lineID int64) error
	ClearCart(ctx context.Context) error
	Checkout(ctx context.Context) (*domain.Order, error)
}

// Sync owns the local cart. No other component writes to it.
type Sync struct {
	api     API
	log     logrus.FieldLogger
	timeout time.Duration
	loads   singleflight.Group
	changes chan struct{}

	mu    sync.Mutex
	items []domain.CartLine
	// lines tracks only lines with a quantity update in flight.
	lines map[int64]*lineState
	// epoch moves on clear, checkout and reset; results from an older
	// epoch are not applied.
	epoch uint64
	// mutations counts edits applied to local state. A fetched cart is
	// only applied if no edit landed after its request went out.
	mutations uint64
	// removing holds lines whose delete is still on the wire.
	removing map[int64]struct{}
}

type fetched struct {
	cart      *domain.Cart
	mutations uint64
}

type lineState struct {
	confirmed int // last quantity the server acknowledged
	requested int // latest quantity the user asked for
	seq       uint64
	busy      bool
	next      *update
}

type update struct {
	ctx      context.Context
	seq      uint64
	quantity int
	done     chan error
}

// Option configures a Sync.
type Option func(*Sync)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Sync) { s.log = l }
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Sync) { s.timeout = d }
}

// New creates an empty synchronizer. Call Load to fetch the remote cart.
func New(api API, opts ...Option) *Sync {
	s := &Sync{
		api:      api,
		timeout:  DefaultRequestTimeout,
		changes:  make(chan struct{}, 1),
		lines:    make(map[int64]*lineState),
		removing: make(map[int64]struct{}),
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

// Changes signals that the local cart changed. Signals are coalesced; read
// Snapshot after receiving one.
func (s *Sync) Changes() <-chan struct{} {
	return s.changes
}

// Snapshot returns a copy of the local cart.
func (s *Sync) Snapshot() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Total is Snapshot().Total(), recomputed from the current lines.
func (s *Sync) Total() domain.Money {
	return s.Snapshot().Total()
}

// Load fetches the remote cart and replaces local state with it. Concurrent
// calls share one request. Lines with a quantity update still in flight keep
// showing the requested quantity until that update resolves, and lines being
// deleted stay hidden. A response that was requested before an edit landed
// locally is discarded and the cart fetched again.
func (s *Sync) Load(ctx context.Context) (domain.Cart, error) {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	for attempt := 1; ; attempt++ {
		v, err, _ := s.loads.Do("cart", func() (any, error) {
			s.mu.Lock()
			f := fetched{mutations: s.mutations}
			s.mu.Unlock()
			c, err := s.api.GetCart(ctx)
			f.cart = c
			return f, err
		})
		if err != nil {
			return s.Snapshot(), fmt.Errorf("cart.Load: %w", err)
		}
		f, _ := v.(fetched)
		if f.cart == nil {
			f.cart = &domain.Cart{}
		}

		s.mu.Lock()
		if epoch != s.epoch {
			// Cleared while the load was in flight.
			snap := s.snapshotLocked()
			s.mu.Unlock()
			return snap, nil
		}
		if f.mutations != s.mutations {
			snap := s.snapshotLocked()
			s.mu.Unlock()
			if attempt >= maxLoadAttempts {
				s.log.Debug("cart kept changing during load; keeping local state")
				return snap, nil
			}
			continue
		}
		s.replaceLocked(f.cart.Items)
		snap := s.snapshotLocked()
		s.mu.Unlock()

		s.signal()
		return snap, nil
	}
}

// AddItem adds quantity units of a product. Nothing changes locally until
// the server answers; the returned line is merged by line ID.
func (s *Sync) AddItem(ctx context.Context, productID int64, quantity int) (domain.Cart, error) {
	if quantity < 1 {
		return s.Snapshot(), ErrInvalidQuantity
	}

	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	res, err := s.api.AddCartItem(ctx, productID, quantity)
	if err != nil {
		return s.Snapshot(), fmt.Errorf("cart.AddItem: %w", err)
	}

	s.mu.Lock()
	if epoch == s.epoch {
		switch {
		case res.Cart != nil:
			s.replaceLocked(res.Cart.Items)
		case res.Line != nil:
			s.mergeLocked(*res.Line)
		}
		s.mutations++
	} else {
		s.log.WithField("product_id", productID).Debug("dropping add result from before a clear")
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.signal()
	return snap, nil
}

// UpdateItem sets a line's quantity. A quantity below 1 removes the line.
// The new quantity shows immediately; if the request fails the line returns
// to the last quantity the server confirmed. A call whose request was
// superseded by a newer edit of the same line returns without error.
func (s *Sync) UpdateItem(ctx context.Context, lineID int64, quantity int) (domain.Cart, error) {
	if quantity < 1 {
		return s.RemoveItem(ctx, lineID)
	}

	s.mu.Lock()
	idx := s.indexLocked(lineID)
	if idx < 0 {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrLineNotFound
	}

	st, ok := s.lines[lineID]
	if !ok {
		st = &lineState{confirmed: s.items[idx].Quantity}
		s.lines[lineID] = st
	}
	st.seq++
	st.requested = quantity
	u := &update{
		ctx:      context.WithoutCancel(ctx),
		seq:      st.seq,
		quantity: quantity,
		done:     make(chan error, 1),
	}
	s.items[idx].Quantity = quantity

	var superseded *update
	start := false
	if st.busy {
		superseded = st.next
		st.next = u
	} else {
		st.busy = true
		start = true
	}
	s.mu.Unlock()

	s.signal()
	if superseded != nil {
		superseded.done <- nil
	}
	if start {
		go s.drain(lineID, st, u)
	}

	select {
	case err := <-u.done:
		return s.Snapshot(), err
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	}
}

// drain sends queued updates for one line, one at a time, in dispatch order.
func (s *Sync) drain(lineID int64, st *lineState, u *update) {
	for u != nil {
		ctx, cancel := context.WithTimeout(u.ctx, s.timeout)
		line, err := s.api.UpdateCartItem(ctx, lineID, u.quantity)
		cancel()

		s.mu.Lock()
		live := s.lines[lineID] == st
		latest := live && u.seq == st.seq
		var result error
		switch {
		case err == nil && live:
			q := u.quantity
			if line != nil {
				q = line.Quantity
			}
			st.confirmed = q
			s.mutations++
			if latest {
				if idx := s.indexLocked(lineID); idx >= 0 {
					if line != nil {
						l := *line
						l.ID = lineID
						s.items[idx] = mergeLine(s.items[idx], l)
					} else {
						s.items[idx].Quantity = q
					}
				}
			}
		case err != nil && latest:
			if idx := s.indexLocked(lineID); idx >= 0 {
				s.items[idx].Quantity = st.confirmed
			}
			result = fmt.Errorf("cart.UpdateItem: %w", err)
		case err != nil:
			s.log.WithError(err).WithField("line_id", lineID).Debug("superseded update failed")
		}

		next := st.next
		st.next = nil
		if !live && next != nil {
			// The line was removed or the cart reset; queued edits are moot.
			next.done <- nil
			next = nil
		}
		if next == nil {
			st.busy = false
			if live {
				delete(s.lines, lineID)
			}
		}
		s.mu.Unlock()

		if latest {
			s.signal()
		}
		u.done <- result
		u = next
	}
}

// RemoveItem deletes a line. The line disappears immediately and is put back
// in its old position if the request fails.
func (s *Sync) RemoveItem(ctx context.Context, lineID int64) (domain.Cart, error) {
	s.mu.Lock()
	idx := s.indexLocked(lineID)
	if idx < 0 {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, ErrLineNotFound
	}
	epoch := s.epoch
	removed := s.items[idx]
	if st, ok := s.lines[lineID]; ok {
		removed.Quantity = st.confirmed
		// Orphan the in-flight update so its result is dropped.
		delete(s.lines, lineID)
	}
	undo := func() {
		if s.epoch != epoch || s.indexLocked(lineID) >= 0 {
			return
		}
		at := idx
		if at > len(s.items) {
			at = len(s.items)
		}
		s.items = append(s.items[:at], append([]domain.CartLine{removed}, s.items[at:]...)...)
	}
	s.items = append(s.items[:idx:idx], s.items[idx+1:]...)
	s.removing[lineID] = struct{}{}
	s.mutations++
	s.mu.Unlock()
	s.signal()

	err := s.api.RemoveCartItem(ctx, lineID)

	s.mu.Lock()
	if s.epoch == epoch {
		delete(s.removing, lineID)
		s.mutations++
	}
	if err != nil && !client.IsStatus(err, http.StatusNotFound) {
		undo()
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.signal()
		return snap, fmt.Errorf("cart.RemoveItem: %w", err)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	return snap, nil
}

// Clear empties the remote cart and then the local one. Local state is only
// touched after the server confirms.
func (s *Sync) Clear(ctx context.Context) (domain.Cart, error) {
	if err := s.api.ClearCart(ctx); err != nil {
		return s.Snapshot(), fmt.Errorf("cart.Clear: %w", err)
	}
	s.Reset()
	return s.Snapshot(), nil
}

// Checkout turns the cart into an order and empties the local cart.
func (s *Sync) Checkout(ctx context.Context) (*domain.Order, error) {
	order, err := s.api.Checkout(ctx)
	if err != nil {
		return nil, fmt.Errorf("cart.Checkout: %w", err)
	}
	s.Reset()
	s.log.WithField("order", order.OrderNumber).Info("checkout complete")
	return order, nil
}

// Reset drops local state without contacting the server, e.g. when the
// session ends. Results of requests already in flight are discarded.
func (s *Sync) Reset() {
	s.mu.Lock()
	s.items = nil
	s.lines = make(map[int64]*lineState)
	s.removing = make(map[int64]struct{})
	s.epoch++
	s.mu.Unlock()
	s.signal()
}

// Sessions publishes session transitions.
type Sessions interface {
	Subscribe(fn func(domain.Session)) (unsubscribe func())
}

// Bind resets the cart whenever the session becomes inactive.
func (s *Sync) Bind(sessions Sessions) (unbind func()) {
	return sessions.Subscribe(func(sess domain.Session) {
		if !sess.Active() {
			s.Reset()
		}
	})
}

func (s *Sync) replaceLocked(items []domain.CartLine) {
	out := make([]domain.CartLine, 0, len(items))
	for _, l := range items {
		if _, gone := s.removing[l.ID]; !gone {
			out = append(out, l)
		}
	}
	lines := make(map[int64]*lineState)
	for i := range out {
		if st, ok := s.lines[out[i].ID]; ok && st.busy {
			st.confirmed = out[i].Quantity
			out[i].Quantity = st.requested
			lines[out[i].ID] = st
		}
	}
	s.items = out
	s.lines = lines
}

func (s *Sync) mergeLocked(line domain.CartLine) {
	if idx := s.indexLocked(line.ID); idx >= 0 {
		s.items[idx] = mergeLine(s.items[idx], line)
		if st, ok := s.lines[line.ID]; ok {
			st.confirmed = line.Quantity
		}
		return
	}
	s.items = append(s.items, line)
}

func (s *Sync) indexLocked(lineID int64) int {
	for i := range s.items {
		if s.items[i].ID == lineID {
			return i
		}
	}
	return -1
}

func (s *Sync) snapshotLocked() domain.Cart {
	return domain.Cart{Items: s.items}.Clone()
}

func (s *Sync) signal() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// mergeLine takes the server's line, keeping display fields the server
// left out of a partial response.
func mergeLine(old, fresh domain.CartLine) domain.CartLine {
	if fresh.ProductID == 0 {
		fresh.ProductID = old.ProductID
	}
	if fresh.ProductName == "" {
		fresh.ProductName = old.ProductName
	}
	if fresh.SKU == "" {
		fresh.SKU = old.SKU
	}
	if fresh.UnitPrice == 0 {
		fresh.UnitPrice = old.UnitPrice
	}
	return fresh
}
