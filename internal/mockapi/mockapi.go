// Package mockapi is an in-memory stand-in for the store's REST backend. It
// serves the endpoints the console uses, with the backend's cart rules:
// one line per product, price snapshotted when the line is created, stock
// checked on every quantity change.
package mockapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/naveenspark/hwstore/pkg/domain"
)

// Product is a catalog entry.
type Product struct {
	ID       int64
	Name     string
	SKU      string
	Price    domain.Money
	Stock    int
	MinStock int
}

type account struct {
	password string
	user     domain.User
}

type orderRecord struct {
	order    domain.Order
	username string
	lines    []domain.CartLine
}

// Server holds all backend state behind one mutex.
type Server struct {
	log logrus.FieldLogger
	now func() time.Time

	mu        sync.Mutex
	accounts  map[string]account
	tokens    map[string]string // access token -> username
	products  map[int64]Product
	carts     map[string][]domain.CartLine
	notifs    map[string][]domain.Notification
	orders    map[int64]orderRecord
	nextLine  int64
	nextNotif int64
	nextOrder int64
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.log = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates an empty backend. Use Seed for demo data.
func New(opts ...Option) *Server {
	s := &Server{
		now:      time.Now,
		accounts: make(map[string]account),
		tokens:   make(map[string]string),
		products: make(map[int64]Product),
		carts:    make(map[string][]domain.CartLine),
		notifs:   make(map[string][]domain.Notification),
		orders:   make(map[int64]orderRecord),
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

// Seed loads a staff account (admin/admin) and a small catalog.
func (s *Server) Seed() *Server {
	s.AddUser("admin", "admin", domain.User{ID: 1, Username: "admin", FirstName: "Store", LastName: "Admin", IsStaff: true})
	for _, p := range []Product{
		{ID: 1, Name: "Claw Hammer 16oz", SKU: "HAM-016", Price: domain.Cents(1499), Stock: 40, MinStock: 5},
		{ID: 2, Name: "Wood Screws 3in (100)", SKU: "SCR-300", Price: domain.Cents(899), Stock: 120, MinStock: 20},
		{ID: 3, Name: "Cordless Drill 18V", SKU: "DRL-18V", Price: domain.Cents(8999), Stock: 6, MinStock: 3},
		{ID: 4, Name: "Tape Measure 25ft", SKU: "TAP-025", Price: domain.Cents(1250), Stock: 3, MinStock: 2},
		{ID: 7, Name: "Utility Knife", SKU: "KNF-001", Price: domain.Cents(650), Stock: 25, MinStock: 5},
	} {
		s.AddProduct(p)
	}
	s.Notify("admin", domain.Notification{Type: domain.NotifSystem, Title: "Welcome", Message: "Mock backend is running."})
	return s
}

// AddUser registers an account.
func (s *Server) AddUser(username, password string, u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Username == "" {
		u.Username = username
	}
	s.accounts[username] = account{password: password, user: u}
}

// AddProduct adds or replaces a catalog entry.
func (s *Server) AddProduct(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// Notify queues an unread notification for a user.
func (s *Server) Notify(username string, n domain.Notification) domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifyLocked(username, n)
}

// RevokeTokens invalidates every token issued to username, as if the
// session expired server-side.
func (s *Server) RevokeTokens(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tok, u := range s.tokens {
		if u == username {
			delete(s.tokens, tok)
		}
	}
}

// Stock returns the current stock of a product.
func (s *Server) Stock(productID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[productID].Stock
}

// Router returns the API routes, meant to be mounted under /api.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, s.logRequests)

	r.Post("/auth/login/", s.login)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/auth/logout/", s.logout)
		r.Get("/auth/profile/", s.profile)

		r.Get("/cart/", s.getCart)
		r.Post("/cart/add/", s.addToCart)
		r.Put("/cart/items/{lineID}/", s.updateCartItem)
		r.Delete("/cart/items/{lineID}/", s.removeCartItem)
		r.Delete("/cart/clear/", s.clearCart)
		r.Post("/checkout/", s.checkout)
		r.Get("/orders/{orderID}/receipt/", s.receipt)

		r.Get("/notifications/unread/", s.unreadNotifications)
		r.Post("/notifications/{notifID}/mark-read/", s.markRead)
		r.Post("/notifications/mark-all-read/", s.markAllRead)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// Handler mounts Router under /api.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Mount("/api", s.Router())
	return r
}

type contextKey int

const usernameKey contextKey = iota

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || tok == "" {
			writeError(w, http.StatusUnauthorized, "Authentication credentials were not provided.")
			return
		}
		s.mu.Lock()
		username, ok := s.tokens[tok]
		s.mu.Unlock()
		if !ok {
			writeError(w, http.StatusUnauthorized, "Given token not valid for any token type")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUsername(r.Context(), username)))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := s.now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"request_id": r.Header.Get("X-Request-ID"),
			"duration":   s.now().Sub(start),
		}).Debug("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func writeFieldError(w http.ResponseWriter, field, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string][]string{field: {msg}})
}

var errEmptyBody = errors.New("empty body")

func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return errEmptyBody
	}
	return err
}

func (s *Server) issueToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *Server) notifyLocked(username string, n domain.Notification) domain.Notification {
	s.nextNotif++
	n.ID = s.nextNotif
	n.IsRead = false
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	// Newest first, as the backend orders by -created_at.
	s.notifs[username] = append([]domain.Notification{n}, s.notifs[username]...)
	return n
}
