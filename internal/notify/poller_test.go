package notify

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naveenspark/hwstore/pkg/client"
	"github.com/naveenspark/hwstore/pkg/domain"
)

type fakeAPI struct {
	mu         sync.Mutex
	list       []domain.Notification
	pollErr    error
	polls      int
	marked     []int64
	markErr    map[int64]error
	markAllErr error
	markAll    int

	onPoll    func()
	pollGate  chan struct{}
	pollStart chan struct{}
	markGate  chan struct{}
}

func newFake(ids ...int64) *fakeAPI {
	f := &fakeAPI{markErr: map[int64]error{}}
	for _, id := range ids {
		f.list = append(f.list, domain.Notification{ID: id, Type: domain.NotifLowStock, Title: "Low stock"})
	}
	return f
}

func (f *fakeAPI) UnreadNotifications(context.Context) ([]domain.Notification, error) {
	f.mu.Lock()
	f.polls++
	hook, gate, start := f.onPoll, f.pollGate, f.pollStart
	f.mu.Unlock()
	if start != nil {
		start <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if hook != nil {
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	return append([]domain.Notification(nil), f.list...), nil
}

func (f *fakeAPI) MarkNotificationRead(_ context.Context, id int64) error {
	f.mu.Lock()
	gate := f.markGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.markErr[id]; err != nil {
		return err
	}
	f.marked = append(f.marked, id)
	f.remove(id)
	return nil
}

func (f *fakeAPI) MarkAllNotificationsRead(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markAll++
	if f.markAllErr != nil {
		return f.markAllErr
	}
	f.list = nil
	return nil
}

func (f *fakeAPI) remove(id int64) {
	for i := range f.list {
		if f.list[i].ID == id {
			f.list = append(f.list[:i], f.list[i+1:]...)
			return
		}
	}
}

func (f *fakeAPI) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

type fakeSessions struct {
	mu      sync.Mutex
	current domain.Session
	fn      func(domain.Session)
}

func (f *fakeSessions) Current() domain.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeSessions) Subscribe(fn func(domain.Session)) func() {
	f.mu.Lock()
	f.fn = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.fn = nil
		f.mu.Unlock()
	}
}

func (f *fakeSessions) transition(s domain.Session) {
	f.mu.Lock()
	f.current = s
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

var active = domain.Session{AccessToken: "tok", User: &domain.User{ID: 1, Username: "ana"}}

// started returns a running poller that has finished its first poll.
func started(t *testing.T, api *fakeAPI, opts ...Option) *Poller {
	t.Helper()
	api.mu.Lock()
	want := len(api.list)
	api.mu.Unlock()

	p := New(api, opts...)
	p.Start(context.Background())
	t.Cleanup(p.Stop)
	require.Eventually(t, func() bool { return api.pollCount() >= 1 && p.Count() == want }, time.Second, 5*time.Millisecond)
	return p
}

func TestStartPollsImmediately(t *testing.T) {
	api := newFake(1, 2, 3)
	p := started(t, api)
	assert.Equal(t, 3, p.Count())
	assert.True(t, p.Running())
	assert.Equal(t, int64(1), p.Unread()[0].ID)
}

func TestPollsOnInterval(t *testing.T) {
	api := newFake(1)
	p := started(t, api, WithInterval(10*time.Millisecond))

	api.mu.Lock()
	api.list = append(api.list, domain.Notification{ID: 2})
	api.mu.Unlock()

	require.Eventually(t, func() bool { return p.Count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestFailedPollKeepsUnreadSet(t *testing.T) {
	api := newFake(1, 2)
	p := started(t, api)

	api.mu.Lock()
	api.pollErr = &client.TransportError{Method: http.MethodGet, Path: "/notifications/unread/", Err: errors.New("connection refused")}
	api.mu.Unlock()

	err := p.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, client.IsTransport(err))
	assert.Equal(t, 2, p.Count())
}

func TestStopClearsAndDropsLatePoll(t *testing.T) {
	api := newFake(1, 2)
	api.pollGate = make(chan struct{})
	api.pollStart = make(chan struct{}, 1)
	p := New(api)

	p.Start(context.Background())
	<-api.pollStart
	p.Stop()
	close(api.pollGate)

	time.Sleep(20 * time.Millisecond)
	assert.False(t, p.Running())
	assert.Equal(t, 0, p.Count())
}

func TestRefreshWhileStoppedIsNoop(t *testing.T) {
	api := newFake(1)
	p := New(api)
	require.NoError(t, p.Refresh(context.Background()))
	assert.Equal(t, 0, api.pollCount())
	assert.Equal(t, 0, p.Count())
}

func TestBindFollowsSession(t *testing.T) {
	api := newFake(1, 2)
	sessions := &fakeSessions{}
	p := New(api, WithInterval(time.Hour))

	unbind := p.Bind(context.Background(), sessions)
	assert.False(t, p.Running())

	sessions.transition(active)
	assert.True(t, p.Running())
	require.Eventually(t, func() bool { return p.Count() == 2 }, time.Second, 5*time.Millisecond)

	sessions.transition(domain.Session{})
	assert.False(t, p.Running(), "halts in the same call that sees the session end")
	assert.Equal(t, 0, p.Count())

	sessions.transition(active)
	assert.True(t, p.Running())
	unbind()
	assert.False(t, p.Running())
}

func TestBindStartsForRestoredSession(t *testing.T) {
	api := newFake(1)
	sessions := &fakeSessions{current: active}
	p := New(api)
	unbind := p.Bind(context.Background(), sessions)
	defer unbind()
	assert.True(t, p.Running())
}

func TestHaltFromInsidePollDoesNotDeadlock(t *testing.T) {
	api := newFake(1)
	sessions := &fakeSessions{current: active}
	// The gateway clears the session while the poll request is in flight.
	api.onPoll = func() { sessions.transition(domain.Session{}) }
	p := New(api)

	unbind := p.Bind(context.Background(), sessions)
	defer unbind()

	require.Eventually(t, func() bool { return !p.Running() }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, p.Count(), "result of the rejected poll must not land")
}

func TestMarkAsRead(t *testing.T) {
	api := newFake(1, 2, 3)
	p := started(t, api)

	require.NoError(t, p.MarkAsRead(context.Background(), 2))
	assert.Equal(t, 2, p.Count())
	assert.Equal(t, []int64{2}, api.marked)

	assert.ErrorIs(t, p.MarkAsRead(context.Background(), 99), ErrNotFound)
}

func TestMarkAsReadFailureRestoresPosition(t *testing.T) {
	api := newFake(1, 2, 3)
	p := started(t, api)
	before := p.Unread()
	api.markErr[2] = &client.HTTPError{StatusCode: http.StatusInternalServerError, Message: "boom"}

	err := p.MarkAsRead(context.Background(), 2)
	require.Error(t, err)
	assert.Equal(t, before, p.Unread())
}

func TestMarkAsReadIsOptimistic(t *testing.T) {
	api := newFake(1, 2)
	api.markGate = make(chan struct{})
	p := started(t, api)

	done := make(chan error, 1)
	go func() { done <- p.MarkAsRead(context.Background(), 1) }()
	require.Eventually(t, func() bool { return p.Count() == 1 }, time.Second, 5*time.Millisecond)

	// A poll landing before the API confirms must not resurrect the id.
	require.NoError(t, p.Refresh(context.Background()))
	assert.Equal(t, 1, p.Count())

	close(api.markGate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, p.Count())
}

func TestMarkAllAsRead(t *testing.T) {
	api := newFake(1, 2, 3)
	p := started(t, api)

	require.NoError(t, p.MarkAllAsRead(context.Background()))
	assert.Equal(t, 0, p.Count())
	assert.Equal(t, 1, api.markAll)

	require.NoError(t, p.MarkAllAsRead(context.Background()), "nothing to mark")
	assert.Equal(t, 1, api.markAll)
}

func TestMarkAllAsReadFailureRestoresAll(t *testing.T) {
	api := newFake(1, 2, 3)
	p := started(t, api)
	before := p.Unread()
	api.markAllErr = &client.HTTPError{StatusCode: http.StatusInternalServerError, Message: "boom"}

	require.Error(t, p.MarkAllAsRead(context.Background()))
	assert.Equal(t, before, p.Unread())
}

func TestMarkAllFallsBackToPerItem(t *testing.T) {
	api := newFake(1, 2, 3)
	p := started(t, api)
	api.markAllErr = &client.HTTPError{StatusCode: http.StatusNotFound}
	api.markErr[2] = &client.HTTPError{StatusCode: http.StatusInternalServerError, Message: "boom"}

	err := p.MarkAllAsRead(context.Background())
	require.Error(t, err)

	var batch *BatchError
	require.ErrorAs(t, err, &batch)
	assert.Len(t, batch.Failed, 1)
	assert.Contains(t, batch.Failed, int64(2))

	assert.Equal(t, []int64{1, 3}, api.marked, "every item is attempted")
	require.Equal(t, 1, p.Count())
	assert.Equal(t, int64(2), p.Unread()[0].ID)
}
