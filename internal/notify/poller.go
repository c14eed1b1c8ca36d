// Package notify polls the API for unread notifications while a session is
// active and keeps the unread set that drives the console badge.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/naveenspark/hwstore/pkg/client"
	"github.com/naveenspark/hwstore/pkg/domain"
)

// DefaultInterval is the time between polls.
const DefaultInterval = 30 * time.Second

// ErrNotFound means the notification is not in the unread set.
var ErrNotFound = errors.New("notification not in unread set")

// API is the slice of the API client the poller needs.
type API interface {
	UnreadNotifications(ctx context.Context) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id int64) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// Sessions is the session source the poller follows.
type Sessions interface {
	Current() domain.Session
	Subscribe(fn func(domain.Session)) (unsubscribe func())
}

// BatchError reports a mark-all that went item by item and failed for some
// notifications. The ones in Failed are unread again; the rest stay read.
type BatchError struct {
	Failed map[int64]error
}

func (e *BatchError) Error() string {
	ids := make([]int64, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%d: %v", id, e.Failed[id]))
	}
	return fmt.Sprintf("%d notifications not marked read (%s)", len(ids), strings.Join(parts, "; "))
}

// Poller owns the unread set.
type Poller struct {
	api      API
	log      logrus.FieldLogger
	interval time.Duration
	changes  chan struct{}

	mu      sync.Mutex
	unread  []domain.Notification
	pending map[int64]int // ids with a mark-read in flight
	running bool
	cancel  context.CancelFunc
	// gen changes on every start and halt. Results tagged with an older
	// generation are dropped.
	gen uint64
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Poller) { p.log = l }
}

// New creates a stopped poller.
func New(api API, opts ...Option) *Poller {
	p := &Poller{
		api:      api,
		interval: DefaultInterval,
		changes:  make(chan struct{}, 1),
		pending:  make(map[int64]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		p.log = l
	}
	return p
}

// Changes signals that the unread set changed. Signals are coalesced.
func (p *Poller) Changes() <-chan struct{} {
	return p.changes
}

// Unread returns a copy of the unread set, newest first as the API sent it.
func (p *Poller) Unread() []domain.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Notification, len(p.unread))
	copy(out, p.unread)
	return out
}

// Count is the badge number.
func (p *Poller) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.unread)
}

// Running reports whether the poll loop is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start begins polling: once immediately, then every interval. It is a no-op
// if the poller is already running.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.gen++
	gen := p.gen
	runCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.mu.Unlock()

	p.log.WithField("interval", p.interval).Debug("notification polling started")
	go p.run(runCtx, gen)
}

// Stop halts polling and clears the unread set. It does not wait for the
// poll goroutine; anything that goroutine fetches afterwards is dropped.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running && len(p.unread) == 0 {
		p.mu.Unlock()
		return
	}
	p.gen++
	p.running = false
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.unread = nil
	p.pending = make(map[int64]int)
	p.mu.Unlock()

	p.log.Debug("notification polling stopped")
	p.signal()
}

// Bind ties the poller to the session lifetime: it runs while a session is
// active and halts in the same call that observes the session ending. A
// new login restarts it with an empty unread set.
func (p *Poller) Bind(ctx context.Context, sessions Sessions) (unbind func()) {
	unsubscribe := sessions.Subscribe(func(sess domain.Session) {
		p.Stop()
		if sess.Active() {
			p.Start(ctx)
		}
	})
	if sessions.Current().Active() {
		p.Start(ctx)
	}
	return func() {
		unsubscribe()
		p.Stop()
	}
}

func (p *Poller) run(ctx context.Context, gen uint64) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx, gen)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx, gen)
		}
	}
}

// poll fetches once. A failed poll leaves the unread set alone; the next
// tick retries.
func (p *Poller) poll(ctx context.Context, gen uint64) {
	list, err := p.api.UnreadNotifications(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.WithError(err).Warn("notification poll failed")
		}
		return
	}
	p.apply(gen, list)
}

// Refresh fetches the unread set now, outside the ticker. It only updates
// state while the poller is running.
func (p *Poller) Refresh(ctx context.Context) error {
	p.mu.Lock()
	gen, running := p.gen, p.running
	p.mu.Unlock()
	if !running {
		return nil
	}

	list, err := p.api.UnreadNotifications(ctx)
	if err != nil {
		return fmt.Errorf("notify.Refresh: %w", err)
	}
	p.apply(gen, list)
	return nil
}

func (p *Poller) apply(gen uint64, list []domain.Notification) {
	p.mu.Lock()
	if gen != p.gen || !p.running {
		p.mu.Unlock()
		return
	}
	unread := make([]domain.Notification, 0, len(list))
	for _, n := range list {
		if n.IsRead || p.pending[n.ID] > 0 {
			continue
		}
		unread = append(unread, n)
	}
	p.unread = unread
	p.mu.Unlock()
	p.signal()
}

// MarkAsRead drops the notification from the unread set and confirms with
// the API. If the API fails the notification is put back where it was.
func (p *Poller) MarkAsRead(ctx context.Context, id int64) error {
	p.mu.Lock()
	idx := p.indexLocked(id)
	if idx < 0 {
		p.mu.Unlock()
		return ErrNotFound
	}
	undo := p.undoLocked([]domain.Notification{p.unread[idx]}, idx)
	p.unread = append(p.unread[:idx:idx], p.unread[idx+1:]...)
	p.pending[id]++
	p.mu.Unlock()
	p.signal()

	err := p.api.MarkNotificationRead(ctx, id)

	p.mu.Lock()
	p.doneLocked(id)
	if err != nil {
		undo()
	}
	p.mu.Unlock()

	if err != nil {
		p.signal()
		return fmt.Errorf("notify.MarkAsRead: %w", err)
	}
	return nil
}

// MarkAllAsRead empties the unread set and confirms with the API. If the
// API has no bulk endpoint it falls back to one request per notification
// and reports the ones that failed in a *BatchError.
func (p *Poller) MarkAllAsRead(ctx context.Context) error {
	p.mu.Lock()
	prev := p.unread
	if len(prev) == 0 {
		p.mu.Unlock()
		return nil
	}
	undo := p.undoLocked(prev, 0)
	p.unread = nil
	for _, n := range prev {
		p.pending[n.ID]++
	}
	p.mu.Unlock()
	p.signal()

	err := p.api.MarkAllNotificationsRead(ctx)
	if client.IsStatus(err, http.StatusNotFound) || client.IsStatus(err, http.StatusMethodNotAllowed) {
		return p.markEach(ctx, prev)
	}

	p.mu.Lock()
	for _, n := range prev {
		p.doneLocked(n.ID)
	}
	if err != nil {
		undo()
	}
	p.mu.Unlock()

	if err != nil {
		p.signal()
		return fmt.Errorf("notify.MarkAllAsRead: %w", err)
	}
	return nil
}

// markEach marks notifications one at a time. Every item is attempted;
// failures are restored and reported together.
func (p *Poller) markEach(ctx context.Context, items []domain.Notification) error {
	failed := make(map[int64]error)
	var restore []domain.Notification
	for _, n := range items {
		err := p.api.MarkNotificationRead(ctx, n.ID)
		if err != nil {
			failed[n.ID] = err
			restore = append(restore, n)
		}
	}

	p.mu.Lock()
	for _, n := range items {
		p.doneLocked(n.ID)
	}
	if len(restore) > 0 {
		p.undoLocked(restore, 0)()
	}
	p.mu.Unlock()

	if len(failed) > 0 {
		p.signal()
		return fmt.Errorf("notify.MarkAllAsRead: %w", &BatchError{Failed: failed})
	}
	return nil
}

// undoLocked captures notifications and their position so a failed mark
// can put them back. The returned func must run with p.mu held; it does
// nothing after a halt or for ids a poll has already brought back.
func (p *Poller) undoLocked(items []domain.Notification, at int) func() {
	saved := make([]domain.Notification, len(items))
	copy(saved, items)
	gen := p.gen
	return func() {
		if gen != p.gen {
			return
		}
		missing := make([]domain.Notification, 0, len(saved))
		for _, n := range saved {
			if p.indexLocked(n.ID) < 0 {
				missing = append(missing, n)
			}
		}
		pos := at
		if pos > len(p.unread) {
			pos = len(p.unread)
		}
		out := make([]domain.Notification, 0, len(p.unread)+len(missing))
		out = append(out, p.unread[:pos]...)
		out = append(out, missing...)
		out = append(out, p.unread[pos:]...)
		p.unread = out
	}
}

func (p *Poller) doneLocked(id int64) {
	if p.pending[id] <= 1 {
		delete(p.pending, id)
		return
	}
	p.pending[id]--
}

func (p *Poller) indexLocked(id int64) int {
	for i := range p.unread {
		if p.unread[i].ID == id {
			return i
		}
	}
	return -1
}

func (p *Poller) signal() {
	select {
	case p.changes <- struct{}{}:
	default:
	}
}
