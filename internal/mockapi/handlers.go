package mockapi

import (
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/naveenspark/hwstore/pkg/domain"
)

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	if req.Username == "" || req.Password == "" {
		fields := map[string][]string{}
		if req.Username == "" {
			fields["username"] = []string{"This field is required."}
		}
		if req.Password == "" {
			fields["password"] = []string{"This field is required."}
		}
		writeJSON(w, http.StatusBadRequest, fields)
		return
	}

	s.mu.Lock()
	acct, ok := s.accounts[req.Username]
	if !ok || acct.password != req.Password {
		s.mu.Unlock()
		writeError(w, http.StatusUnauthorized, "No active account found with the given credentials")
		return
	}
	access, refresh := s.issueToken(), s.issueToken()
	s.tokens[access] = req.Username
	s.mu.Unlock()

	s.log.WithField("username", req.Username).Info("login")
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  access,
		"refreshToken": refresh,
		"user":         acct.user,
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	delete(s.tokens, tok)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"detail": "Successfully logged out."})
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	acct := s.accounts[usernameFrom(r.Context())]
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, acct.user)
}

type cartBody struct {
	Items []domain.CartLine `json:"items"`
	Total domain.Money      `json:"total"`
}

func cartResponse(lines []domain.CartLine) cartBody {
	c := domain.Cart{Items: lines}.Clone()
	return cartBody{Items: c.Items, Total: c.Total()}
}

func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	body := cartResponse(s.carts[usernameFrom(r.Context())])
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) addToCart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID int64 `json:"product_id"`
		Quantity  *int  `json:"quantity"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	if qty < 1 {
		writeFieldError(w, "quantity", "Ensure this value is greater than or equal to 1.")
		return
	}

	username := usernameFrom(r.Context())
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[req.ProductID]
	if !ok {
		writeError(w, http.StatusNotFound, "Product not found.")
		return
	}
	lines := s.carts[username]
	for i := range lines {
		if lines[i].ProductID != p.ID {
			continue
		}
		if lines[i].Quantity+qty > p.Stock {
			writeFieldError(w, "quantity", stockMessage(p.Stock))
			return
		}
		lines[i].Quantity += qty
		writeJSON(w, http.StatusOK, lines[i])
		return
	}
	if qty > p.Stock {
		writeFieldError(w, "quantity", stockMessage(p.Stock))
		return
	}
	s.nextLine++
	line := domain.CartLine{
		ID:          s.nextLine,
		ProductID:   p.ID,
		ProductName: p.Name,
		SKU:         p.SKU,
		Quantity:    qty,
		UnitPrice:   p.Price,
	}
	s.carts[username] = append(lines, line)
	writeJSON(w, http.StatusCreated, line)
}

func (s *Server) updateCartItem(w http.ResponseWriter, r *http.Request) {
	lineID, ok := pathID(w, r, "lineID")
	if !ok {
		return
	}
	var req struct {
		Quantity *int `json:"quantity"`
	}
	if err := decodeBody(r, &req); err != nil || req.Quantity == nil {
		writeFieldError(w, "quantity", "This field is required.")
		return
	}

	username := usernameFrom(r.Context())
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := s.carts[username]
	idx := domain.Cart{Items: lines}.Index(lineID)
	if idx < 0 {
		writeError(w, http.StatusNotFound, "Cart item not found.")
		return
	}
	if *req.Quantity <= 0 {
		s.carts[username] = append(lines[:idx:idx], lines[idx+1:]...)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if stock := s.products[lines[idx].ProductID].Stock; *req.Quantity > stock {
		writeFieldError(w, "quantity", stockMessage(stock))
		return
	}
	lines[idx].Quantity = *req.Quantity
	writeJSON(w, http.StatusOK, lines[idx])
}

func (s *Server) removeCartItem(w http.ResponseWriter, r *http.Request) {
	lineID, ok := pathID(w, r, "lineID")
	if !ok {
		return
	}
	username := usernameFrom(r.Context())
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := s.carts[username]
	idx := domain.Cart{Items: lines}.Index(lineID)
	if idx < 0 {
		writeError(w, http.StatusNotFound, "Cart item not found.")
		return
	}
	s.carts[username] = append(lines[:idx:idx], lines[idx+1:]...)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearCart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delete(s.carts, usernameFrom(r.Context()))
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	username := usernameFrom(r.Context())
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := s.carts[username]
	if len(lines) == 0 {
		writeError(w, http.StatusBadRequest, "Your cart is empty.")
		return
	}
	for _, l := range lines {
		if p := s.products[l.ProductID]; l.Quantity > p.Stock {
			writeFieldError(w, "quantity", fmt.Sprintf("%s: %s", p.Name, stockMessage(p.Stock)))
			return
		}
	}

	s.nextOrder++
	order := domain.Order{
		ID:            s.nextOrder,
		OrderNumber:   strings.ToUpper(s.issueToken()[:20]),
		Status:        "pending",
		PaymentStatus: "unpaid",
		Total:         domain.Cart{Items: lines}.Total(),
		CreatedAt:     s.now().UTC(),
	}
	for _, l := range lines {
		p := s.products[l.ProductID]
		p.Stock -= l.Quantity
		s.products[p.ID] = p
		if p.Stock <= p.MinStock {
			s.lowStockLocked(p)
		}
	}
	s.orders[order.ID] = orderRecord{order: order, username: username, lines: domain.Cart{Items: lines}.Clone().Items}
	delete(s.carts, username)

	s.log.WithFields(logrus.Fields{"order": order.OrderNumber, "username": username}).Info("checkout")
	writeJSON(w, http.StatusCreated, order)
}

// lowStockLocked alerts every staff account.
func (s *Server) lowStockLocked(p Product) {
	for name, acct := range s.accounts {
		if !acct.user.IsStaff {
			continue
		}
		s.notifyLocked(name, domain.Notification{
			Type:    domain.NotifLowStock,
			Title:   "Low Stock Alert: " + p.Name,
			Message: fmt.Sprintf("Only %d left in stock. Minimum is %d.", p.Stock, p.MinStock),
		})
	}
}

var receiptTmpl = template.Must(template.New("receipt").Parse(`<!DOCTYPE html>
<html><head><title>Receipt {{.Order.OrderNumber}}</title></head>
<body>
<h1>Order #{{.Order.OrderNumber}}</h1>
<p>{{.Order.CreatedAt.Format "2006-01-02 15:04"}}</p>
<table>
<tr><th>Product</th><th>Qty</th><th>Price</th><th>Subtotal</th></tr>
{{range .Lines}}<tr><td>{{.ProductName}}</td><td>{{.Quantity}}</td><td>{{.UnitPrice}}</td><td>{{.Subtotal}}</td></tr>
{{end}}</table>
<p>Total: {{.Order.Total}}</p>
</body></html>
`))

func (s *Server) receipt(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "orderID")
	if !ok {
		return
	}
	s.mu.Lock()
	rec, found := s.orders[orderID]
	s.mu.Unlock()
	if !found || rec.username != usernameFrom(r.Context()) {
		writeError(w, http.StatusNotFound, "Order not found.")
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "html":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := receiptTmpl.Execute(w, struct {
			Order domain.Order
			Lines []domain.CartLine
		}{rec.order, rec.lines}); err != nil {
			s.log.WithError(err).Warn("render receipt")
		}
	case "json":
		writeJSON(w, http.StatusOK, map[string]any{
			"order_number": rec.order.OrderNumber,
			"date":         rec.order.CreatedAt,
			"items":        rec.lines,
			"total":        rec.order.Total,
		})
	default:
		writeFieldError(w, "format", fmt.Sprintf("Unsupported receipt format %q.", format))
	}
}

func (s *Server) unreadNotifications(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	all := s.notifs[usernameFrom(r.Context())]
	unread := make([]domain.Notification, 0, len(all))
	for _, n := range all {
		if !n.IsRead {
			unread = append(unread, n)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, unread)
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "notifID")
	if !ok {
		return
	}
	username := usernameFrom(r.Context())
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifs[username] {
		if s.notifs[username][i].ID == id {
			s.notifs[username][i].IsRead = true
			writeJSON(w, http.StatusOK, map[string]bool{"success": true})
			return
		}
	}
	writeError(w, http.StatusNotFound, "Notification not found.")
}

func (s *Server) markAllRead(w http.ResponseWriter, r *http.Request) {
	username := usernameFrom(r.Context())
	s.mu.Lock()
	for i := range s.notifs[username] {
		s.notifs[username][i].IsRead = true
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, "Not found.")
		return 0, false
	}
	return id, true
}

func stockMessage(stock int) string {
	return fmt.Sprintf("Only %d in stock.", stock)
}
