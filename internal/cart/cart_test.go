package cart

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

// fakeAPI is an in-memory cart backend. Gates, when set, hold the matching
// call until the test sends on them.
type fakeAPI struct {
	mu        sync.Mutex
	lines     []domain.CartLine
	nextID    int64
	gets      int
	updates   []int
	updateErr map[int]error
	addErr    error
	removeErr error
	clearErr  error
	addCart   bool
	// getEarly makes GetCart read the cart before waiting on getGate, like
	// a server that answers from the state it saw on arrival.
	getEarly bool

	getGate       chan struct{}
	getStarted    chan struct{}
	updateGate    chan struct{}
	updateStarted chan int
	clearGate     chan struct{}
	removeGate    chan struct{}
}

func newFake(lines ...domain.CartLine) *fakeAPI {
	f := &fakeAPI{lines: lines, nextID: 100, updateErr: map[int]error{}}
	return f
}

func line(id, product int64, qty int, cents int64) domain.CartLine {
	return domain.CartLine{ID: id, ProductID: product, ProductName: "item", Quantity: qty, UnitPrice: domain.Cents(cents)}
}

func (f *fakeAPI) GetCart(context.Context) (*domain.Cart, error) {
	f.mu.Lock()
	f.gets++
	gate, started := f.getGate, f.getStarted
	var early domain.Cart
	if f.getEarly {
		early = domain.Cart{Items: f.lines}.Clone()
	}
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if early.Items != nil {
		return &early, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c := domain.Cart{Items: f.lines}.Clone()
	return &c, nil
}

func (f *fakeAPI) AddCartItem(_ context.Context, productID int64, quantity int) (*client.AddResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return nil, f.addErr
	}
	var added domain.CartLine
	merged := false
	for i := range f.lines {
		if f.lines[i].ProductID == productID {
			f.lines[i].Quantity += quantity
			added = f.lines[i]
			merged = true
			break
		}
	}
	if !merged {
		f.nextID++
		added = line(f.nextID, productID, quantity, 100)
		f.lines = append(f.lines, added)
	}
	if f.addCart {
		c := domain.Cart{Items: f.lines}.Clone()
		return &client.AddResult{Cart: &c}, nil
	}
	return &client.AddResult{Line: &added}, nil
}

func (f *fakeAPI) UpdateCartItem(_ context.Context, lineID int64, quantity int) (*domain.CartLine, error) {
	f.mu.Lock()
	f.updates = append(f.updates, quantity)
	gate, started := f.updateGate, f.updateStarted
	f.mu.Unlock()
	if started != nil {
		started <- quantity
	}
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.updateErr[quantity]; err != nil {
		return nil, err
	}
	for i := range f.lines {
		if f.lines[i].ID == lineID {
			f.lines[i].Quantity = quantity
			l := f.lines[i]
			return &l, nil
		}
	}
	return nil, &client.HTTPError{StatusCode: http.StatusNotFound, Message: "Not found."}
}

func (f *fakeAPI) RemoveCartItem(_ context.Context, lineID int64) error {
	f.mu.Lock()
	gate := f.removeGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	for i := range f.lines {
		if f.lines[i].ID == lineID {
			f.lines = append(f.lines[:i], f.lines[i+1:]...)
			return nil
		}
	}
	return &client.HTTPError{StatusCode: http.StatusNotFound, Message: "Not found."}
}

func (f *fakeAPI) ClearCart(context.Context) error {
	f.mu.Lock()
	gate := f.clearGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clearErr != nil {
		return f.clearErr
	}
	f.lines = nil
	return nil
}

func (f *fakeAPI) Checkout(context.Context) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := domain.Cart{Items: f.lines}.Total()
	f.lines = nil
	return &domain.Order{ID: 7, OrderNumber: "ORD-7", Status: "pending", Total: total}, nil
}

func (f *fakeAPI) updateCalls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.updates...)
}

func loaded(t *testing.T, api *fakeAPI) *Sync {
	t.Helper()
	s := New(api)
	_, err := s.Load(context.Background())
	require.NoError(t, err)
	return s
}

func quantityOf(s *Sync, lineID int64) int {
	l, ok := s.Snapshot().Line(lineID)
	if !ok {
		return -1
	}
	return l.Quantity
}

func TestLoadReplacesLocalState(t *testing.T) {
	api := newFake(line(1, 10, 2, 250), line(2, 11, 1, 1000))
	s := New(api)
	assert.Empty(t, s.Snapshot().Items)

	c, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, c.Items, 2)
	assert.Equal(t, domain.Cents(1500), s.Total())

	select {
	case <-s.Changes():
	default:
		t.Fatal("expected a change signal after load")
	}
}

func TestConcurrentLoadsShareOneRequest(t *testing.T) {
	api := newFake(line(1, 10, 1, 100))
	api.getGate = make(chan struct{})
	api.getStarted = make(chan struct{}, 8)
	s := New(api)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := s.Load(context.Background())
			assert.NoError(t, err)
			assert.Len(t, c.Items, 1)
		}()
	}
	<-api.getStarted
	time.Sleep(50 * time.Millisecond)
	close(api.getGate)
	wg.Wait()

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, 1, api.gets)
}

func TestAddItem(t *testing.T) {
	t.Run("new product appends a line", func(t *testing.T) {
		s := loaded(t, newFake(line(1, 10, 1, 250)))
		c, err := s.AddItem(context.Background(), 11, 3)
		require.NoError(t, err)
		require.Len(t, c.Items, 2)
		assert.Equal(t, int64(11), c.Items[1].ProductID)
		assert.Equal(t, 3, c.Items[1].Quantity)
	})

	t.Run("same product merges into its line", func(t *testing.T) {
		s := loaded(t, newFake(line(1, 10, 1, 250)))
		c, err := s.AddItem(context.Background(), 10, 2)
		require.NoError(t, err)
		require.Len(t, c.Items, 1)
		assert.Equal(t, 3, c.Items[0].Quantity)
		assert.Equal(t, domain.Cents(750), s.Total())
	})

	t.Run("full cart response replaces state", func(t *testing.T) {
		api := newFake(line(1, 10, 1, 250))
		api.addCart = true
		s := loaded(t, api)
		c, err := s.AddItem(context.Background(), 12, 1)
		require.NoError(t, err)
		assert.Len(t, c.Items, 2)
	})

	t.Run("quantity below one is rejected locally", func(t *testing.T) {
		api := newFake()
		api.addErr = errors.New("must not be called")
		s := New(api)
		_, err := s.AddItem(context.Background(), 10, 0)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	})

	t.Run("failure leaves the cart untouched", func(t *testing.T) {
		api := newFake(line(1, 10, 1, 250))
		s := loaded(t, api)
		api.addErr = &client.HTTPError{StatusCode: http.StatusBadRequest, Fields: map[string][]string{"quantity": {"Only 3 in stock."}}}
		c, err := s.AddItem(context.Background(), 11, 9)
		require.Error(t, err)
		assert.True(t, client.IsValidation(err))
		assert.Len(t, c.Items, 1)
	})
}

func TestUpdateItemAppliesServerQuantity(t *testing.T) {
	s := loaded(t, newFake(line(1, 10, 1, 250), line(2, 11, 1, 100)))
	c, err := s.UpdateItem(context.Background(), 1, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Items[0].Quantity)
	assert.Equal(t, "item", c.Items[0].ProductName)
	assert.Equal(t, domain.Cents(1100), s.Total())
}

func TestUpdateItemUnknownLine(t *testing.T) {
	s := loaded(t, newFake(line(1, 10, 1, 250)))
	_, err := s.UpdateItem(context.Background(), 99, 2)
	assert.ErrorIs(t, err, ErrLineNotFound)
}

func TestUpdateToZeroMatchesRemove(t *testing.T) {
	a := loaded(t, newFake(line(1, 10, 1, 250), line(2, 11, 2, 100)))
	b := loaded(t, newFake(line(1, 10, 1, 250), line(2, 11, 2, 100)))

	_, err := a.UpdateItem(context.Background(), 1, 0)
	require.NoError(t, err)
	_, err = b.RemoveItem(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, b.Snapshot(), a.Snapshot())
	assert.Equal(t, b.Total(), a.Total())
}

func TestUpdateFailureRollsBack(t *testing.T) {
	api := newFake(line(1, 10, 1, 250))
	api.updateErr[5] = &client.HTTPError{StatusCode: http.StatusBadRequest, Message: "Only 3 in stock."}
	s := loaded(t, api)

	c, err := s.UpdateItem(context.Background(), 1, 5)
	require.Error(t, err)
	assert.True(t, client.IsValidation(err))
	assert.Equal(t, 1, c.Items[0].Quantity)
	assert.Equal(t, domain.Cents(250), s.Total())
}

func TestUpdateIsOptimistic(t *testing.T) {
	api := newFake(line(1, 10, 1, 250))
	api.updateGate = make(chan struct{})
	api.updateStarted = make(chan int, 8)
	s := loaded(t, api)

	done := make(chan error, 1)
	go func() {
		_, err := s.UpdateItem(context.Background(), 1, 3)
		done <- err
	}()
	assert.Equal(t, 3, <-api.updateStarted)
	assert.Equal(t, 3, quantityOf(s, 1), "quantity shows before the server answers")

	api.updateGate <- struct{}{}
	require.NoError(t, <-done)
	assert.Equal(t, 3, quantityOf(s, 1))
}

func TestRapidUpdatesCoalesce(t *testing.T) {
	api := newFake(line(1, 10, 1, 250))
	api.updateGate = make(chan struct{})
	api.updateStarted = make(chan int, 8)
	s := loaded(t, api)

	errs := make(chan error, 3)
	update := func(q int) {
		go func() {
			_, err := s.UpdateItem(context.Background(), 1, q)
			errs <- err
		}()
	}

	update(2)
	assert.Equal(t, 2, <-api.updateStarted)
	update(3)
	require.Eventually(t, func() bool { return quantityOf(s, 1) == 3 }, time.Second, 5*time.Millisecond)
	update(4)
	require.Eventually(t, func() bool { return quantityOf(s, 1) == 4 }, time.Second, 5*time.Millisecond)

	// 3 was replaced in the queue before it was sent.
	require.NoError(t, <-errs)

	api.updateGate <- struct{}{}
	assert.Equal(t, 4, <-api.updateStarted)
	assert.Equal(t, 4, quantityOf(s, 1), "stale response for 2 must not be applied")
	api.updateGate <- struct{}{}

	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
	assert.Equal(t, []int{2, 4}, api.updateCalls())
	assert.Equal(t, 4, quantityOf(s, 1))
	assert.Equal(t, domain.Cents(1000), s.Total())
}

func TestLatestFailureRollsBackToLastConfirmed(t *testing.T) {
	api := newFake(line(1, 10, 1, 250))
	api.updateGate = make(chan struct{})
	api.updateStarted = make(chan int, 8)
	api.updateErr[5] = &client.HTTPError{StatusCode: http.StatusBadRequest, Message: "Only 4 in stock."}
	s := loaded(t, api)

	first := make(chan error, 1)
	second := make(chan error, 1)
	go func() {
		_, err := s.UpdateItem(context.Background(), 1, 2)
		first <- err
	}()
	<-api.updateStarted
	go func() {
		_, err := s.UpdateItem(context.Background(), 1, 5)
		second <- err
	}()
	require.Eventually(t, func() bool { return quantityOf(s, 1) == 5 }, time.Second, 5*time.Millisecond)

	api.updateGate <- struct{}{}
	<-api.updateStarted
	api.updateGate <- struct{}{}

	require.NoError(t, <-first)
	require.Error(t, <-second)
	assert.Equal(t, 2, quantityOf(s, 1), "rolls back to the quantity the server confirmed")
}

func TestLoadKeepsRequestedQuantityWhileUpdateInFlight(t *testing.T) {
	api := newFake(line(1, 10, 1, 250))
	api.updateGate = make(chan struct{})
	api.updateStarted = make(chan int, 8)
	s := loaded(t, api)

	done := make(chan error, 1)
	go func() {
		_, err := s.UpdateItem(context.Background(), 1, 3)
		done <- err
	}()
	<-api.updateStarted

	_, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, quantityOf(s, 1))

	api.updateGate <- struct{}{}
	require.NoError(t, <-done)
	assert.Equal(t, 3, quantityOf(s, 1))
}

func TestRemoveDropsInFlightUpdate(t *testing.T) {
	api := newFake(line(1, 10, 1, 250), line(2, 11, 1, 100))
	api.updateGate = make(chan struct{})
	api.updateStarted = make(chan int, 8)
	s := loaded(t, api)

	done := make(chan error, 1)
	go func() {
		_, err := s.UpdateItem(context.Background(), 1, 3)
		done <- err
	}()
	<-api.updateStarted

	c, err := s.RemoveItem(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, c.Items, 1)

	api.updateGate <- struct{}{}
	require.NoError(t, <-done)
	assert.Equal(t, -1, quantityOf(s, 1))
	assert.Equal(t, domain.Cents(100), s.Total())
}

func TestRemoveFailureRestoresPosition(t *testing.T) {
	api := newFake(line(1, 10, 1, 100), line(2, 11, 2, 200), line(3, 12, 3, 300))
	s := loaded(t, api)
	before := s.Snapshot()
	api.removeErr = &client.TransportError{Method: http.MethodDelete, Path: "/cart/items/2/", Err: errors.New("connection refused")}

	c, err := s.RemoveItem(context.Background(), 2)
	require.Error(t, err)
	assert.True(t, client.IsTransport(err))
	assert.Equal(t, before, c)
	assert.Equal(t, before.Total(), s.Total())
}

func TestRemoveTreatsNotFoundAsGone(t *testing.T) {
	api := newFake(line(1, 10, 1, 100))
	s := loaded(t, api)
	api.removeErr = &client.HTTPError{StatusCode: http.StatusNotFound}

	c, err := s.RemoveItem(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, c.Items)
}

func TestAddThenRemoveRestoresCart(t *testing.T) {
	s := loaded(t, newFake(line(1, 10, 1, 100)))
	before := s.Snapshot()

	c, err := s.AddItem(context.Background(), 42, 2)
	require.NoError(t, err)
	added := c.Items[len(c.Items)-1]

	_, err = s.RemoveItem(context.Background(), added.ID)
	require.NoError(t, err)
	assert.Equal(t, before, s.Snapshot())
	assert.Equal(t, before.Total(), s.Total())
}

func TestClearWaitsForServer(t *testing.T) {
	api := newFake(line(1, 10, 1, 100), line(2, 11, 1, 100))
	api.clearGate = make(chan struct{})
	s := loaded(t, api)

	done := make(chan error, 1)
	go func() {
		_, err := s.Clear(context.Background())
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, s.Snapshot().Items, 2, "clear is not applied before the server confirms")

	close(api.clearGate)
	require.NoError(t, <-done)
	assert.Empty(t, s.Snapshot().Items)
	assert.Equal(t, domain.Money(0), s.Total())
}

func TestClearFailureKeepsLines(t *testing.T) {
	api := newFake(line(1, 10, 1, 100))
	s := loaded(t, api)
	api.clearErr = &client.HTTPError{StatusCode: http.StatusInternalServerError, Message: "boom"}

	c, err := s.Clear(context.Background())
	require.Error(t, err)
	assert.Len(t, c.Items, 1)
}

func TestCheckoutEmptiesCart(t *testing.T) {
	s := loaded(t, newFake(line(1, 10, 2, 1250)))
	order, err := s.Checkout(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ORD-7", order.OrderNumber)
	assert.Equal(t, domain.Cents(2500), order.Total)
	assert.Empty(t, s.Snapshot().Items)
}

// slowLoad starts a Load whose request has already read the server's cart
// and waits for the returned release func before answering.
func slowLoad(t *testing.T, api *fakeAPI, s *Sync) (release func() domain.Cart) {
	t.Helper()
	api.mu.Lock()
	api.getEarly = true
	api.getGate = make(chan struct{})
	api.getStarted = make(chan struct{}, 8)
	api.mu.Unlock()

	done := make(chan domain.Cart, 1)
	go func() {
		c, err := s.Load(context.Background())
		assert.NoError(t, err)
		done <- c
	}()
	<-api.getStarted
	return func() domain.Cart {
		close(api.getGate)
		return <-done
	}
}

func TestLoadRequestedBeforeAddDoesNotUndoIt(t *testing.T) {
	api := newFake(line(1, 10, 1, 100))
	s := loaded(t, api)
	release := slowLoad(t, api, s)

	c, err := s.AddItem(context.Background(), 7, 1)
	require.NoError(t, err)
	require.Len(t, c.Items, 2)

	c = release()
	assert.Len(t, c.Items, 2)
	assert.Len(t, s.Snapshot().Items, 2, "the stale cart must not replace the confirmed add")

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, 3, api.gets, "initial load, discarded load and re-fetch")
}

func TestLoadRequestedBeforeRemoveDoesNotRestoreLine(t *testing.T) {
	api := newFake(line(1, 10, 1, 100), line(2, 11, 1, 200))
	s := loaded(t, api)
	release := slowLoad(t, api, s)

	_, err := s.RemoveItem(context.Background(), 2)
	require.NoError(t, err)

	release()
	assert.Equal(t, -1, quantityOf(s, 2))
	assert.Equal(t, domain.Cents(100), s.Total())
}

func TestLoadDuringRemoveKeepsLineHidden(t *testing.T) {
	api := newFake(line(1, 10, 1, 100), line(2, 11, 1, 200))
	s := loaded(t, api)
	api.mu.Lock()
	api.removeGate = make(chan struct{})
	api.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := s.RemoveItem(context.Background(), 2)
		done <- err
	}()
	require.Eventually(t, func() bool { return quantityOf(s, 2) == -1 }, time.Second, 5*time.Millisecond)

	_, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -1, quantityOf(s, 2), "line with a delete on the wire stays hidden")

	close(api.removeGate)
	require.NoError(t, <-done)
	assert.Equal(t, -1, quantityOf(s, 2))
	assert.Len(t, s.Snapshot().Items, 1)
}

func TestResetDropsLoadInFlight(t *testing.T) {
	api := newFake(line(1, 10, 1, 100))
	api.getGate = make(chan struct{})
	api.getStarted = make(chan struct{}, 1)
	s := New(api)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Load(context.Background())
	}()
	<-api.getStarted
	s.Reset()
	close(api.getGate)
	<-done

	assert.Empty(t, s.Snapshot().Items)
}

func TestBindResetsOnSessionEnd(t *testing.T) {
	s := loaded(t, newFake(line(1, 10, 1, 100)))

	sessions := &fakeSessions{}
	unbind := s.Bind(sessions)
	listener := sessions.fn

	listener(domain.Session{AccessToken: "t", User: &domain.User{ID: 1}})
	assert.Len(t, s.Snapshot().Items, 1)

	listener(domain.Session{})
	assert.Empty(t, s.Snapshot().Items)

	unbind()
	assert.True(t, sessions.unsubscribed)
}

type fakeSessions struct {
	fn           func(domain.Session)
	unsubscribed bool
}

func (f *fakeSessions) Subscribe(fn func(domain.Session)) func() {
	f.fn = fn
	return func() { f.unsubscribed = true }
}

func TestSnapshotIsACopy(t *testing.T) {
	s := loaded(t, newFake(line(1, 10, 1, 100)))
	c := s.Snapshot()
	c.Items[0].Quantity = 99
	assert.Equal(t, 1, quantityOf(s, 1))
}
