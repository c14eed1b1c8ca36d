package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/naveenspark/hwstore/pkg/domain"
)

// LoginRequest is the payload for POST /auth/login/.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the issued token pair and the resolved user.
type LoginResponse struct {
	AccessToken  string
	RefreshToken string
	User         *domain.User
}

// UnmarshalJSON accepts camelCase, snake_case and SimpleJWT-style token keys.
func (r *LoginResponse) UnmarshalJSON(data []byte) error {
	var raw struct {
		AccessToken       string       `json:"accessToken"`
		RefreshToken      string       `json:"refreshToken"`
		AccessTokenSnake  string       `json:"access_token"`
		RefreshTokenSnake string       `json:"refresh_token"`
		Access            string       `json:"access"`
		Refresh           string       `json:"refresh"`
		User              *domain.User `json:"user"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.AccessToken = firstNonEmpty(raw.AccessToken, raw.AccessTokenSnake, raw.Access)
	r.RefreshToken = firstNonEmpty(raw.RefreshToken, raw.RefreshTokenSnake, raw.Refresh)
	r.User = raw.User
	return nil
}

// AddResult is what POST /cart/add/ returned: either the whole cart or the
// affected line. Exactly one field is set.
type AddResult struct {
	Cart *domain.Cart
	Line *domain.CartLine
}

// Login exchanges credentials for a token pair. It is sent anonymously, so a
// 401 for bad credentials never touches the current session.
func (c *Client) Login(ctx context.Context, creds LoginRequest) (*LoginResponse, error) {
	var out LoginResponse
	err := c.do(ctx, Request{
		Method:    http.MethodPost,
		Path:      "/auth/login/",
		Body:      creds,
		Anonymous: true,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("client.Login: %w", err)
	}
	if out.AccessToken == "" || out.User == nil {
		return nil, fmt.Errorf("client.Login: response missing token or user")
	}
	return &out, nil
}

// Logout tells the API to end the session. The body is ignored.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.post(ctx, "/auth/logout/", nil, nil); err != nil {
		return fmt.Errorf("client.Logout: %w", err)
	}
	return nil
}

// Profile returns the authenticated user.
func (c *Client) Profile(ctx context.Context) (*domain.User, error) {
	var u domain.User
	if err := c.get(ctx, "/auth/profile/", &u); err != nil {
		return nil, fmt.Errorf("client.Profile: %w", err)
	}
	return &u, nil
}

// GetCart fetches the current draft order.
func (c *Client) GetCart(ctx context.Context) (*domain.Cart, error) {
	var cart domain.Cart
	if err := c.get(ctx, "/cart/", &cart); err != nil {
		return nil, fmt.Errorf("client.GetCart: %w", err)
	}
	return &cart, nil
}

// AddCartItem adds quantity units of a product to the cart.
func (c *Client) AddCartItem(ctx context.Context, productID int64, quantity int) (*AddResult, error) {
	resp, err := c.Send(ctx, Request{
		Method: http.MethodPost,
		Path:   "/cart/add/",
		Body:   map[string]any{"product_id": productID, "quantity": quantity},
	})
	if err != nil {
		return nil, fmt.Errorf("client.AddCartItem: %w", err)
	}
	res, err := decodeAddResult(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client.AddCartItem: %w", err)
	}
	return res, nil
}

// UpdateCartItem sets the quantity of a cart line. The returned line is nil
// when the API answers with an empty body.
func (c *Client) UpdateCartItem(ctx context.Context, lineID int64, quantity int) (*domain.CartLine, error) {
	resp, err := c.Send(ctx, Request{
		Method: http.MethodPut,
		Path:   "/cart/items/" + strconv.FormatInt(lineID, 10) + "/",
		Body:   map[string]int{"quantity": quantity},
	})
	if err != nil {
		return nil, fmt.Errorf("client.UpdateCartItem: %w", err)
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil, nil
	}
	var line domain.CartLine
	if err := resp.Decode(&line); err != nil {
		return nil, fmt.Errorf("client.UpdateCartItem: %w", err)
	}
	return &line, nil
}

// RemoveCartItem deletes a cart line.
func (c *Client) RemoveCartItem(ctx context.Context, lineID int64) error {
	err := c.do(ctx, Request{
		Method: http.MethodDelete,
		Path:   "/cart/items/" + strconv.FormatInt(lineID, 10) + "/",
	}, nil)
	if err != nil {
		return fmt.Errorf("client.RemoveCartItem: %w", err)
	}
	return nil
}

// ClearCart removes every line from the cart.
func (c *Client) ClearCart(ctx context.Context) error {
	if err := c.do(ctx, Request{Method: http.MethodDelete, Path: "/cart/clear/"}, nil); err != nil {
		return fmt.Errorf("client.ClearCart: %w", err)
	}
	return nil
}

// Checkout turns the cart into an order.
func (c *Client) Checkout(ctx context.Context) (*domain.Order, error) {
	var order domain.Order
	if err := c.post(ctx, "/checkout/", nil, &order); err != nil {
		return nil, fmt.Errorf("client.Checkout: %w", err)
	}
	return &order, nil
}

// Receipt downloads an order receipt. format is "html" or "pdf".
func (c *Client) Receipt(ctx context.Context, orderID int64, format string) ([]byte, error) {
	params := url.Values{}
	if format != "" {
		params.Set("format", format)
	}
	resp, err := c.Send(ctx, Request{
		Method: http.MethodGet,
		Path:   "/orders/" + strconv.FormatInt(orderID, 10) + "/receipt/",
		Query:  params,
		Raw:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("client.Receipt: %w", err)
	}
	return resp.Body, nil
}

// UnreadNotifications returns the caller's unread notifications. Both a bare
// array and a paginated {"results": [...]} body are accepted.
func (c *Client) UnreadNotifications(ctx context.Context) ([]domain.Notification, error) {
	resp, err := c.Send(ctx, Request{Method: http.MethodGet, Path: "/notifications/unread/"})
	if err != nil {
		return nil, fmt.Errorf("client.UnreadNotifications: %w", err)
	}
	body := bytes.TrimSpace(resp.Body)
	var notifs []domain.Notification
	if len(body) > 0 && body[0] == '{' {
		var page struct {
			Results []domain.Notification `json:"results"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("client.UnreadNotifications: decode response: %w", err)
		}
		notifs = page.Results
	} else if err := resp.Decode(&notifs); err != nil {
		return nil, fmt.Errorf("client.UnreadNotifications: %w", err)
	}
	return notifs, nil
}

// MarkNotificationRead marks a single notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, id int64) error {
	if err := c.post(ctx, "/notifications/"+strconv.FormatInt(id, 10)+"/mark-read/", nil, nil); err != nil {
		return fmt.Errorf("client.MarkNotificationRead: %w", err)
	}
	return nil
}

// MarkAllNotificationsRead marks every notification as read.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	if err := c.post(ctx, "/notifications/mark-all-read/", nil, nil); err != nil {
		return fmt.Errorf("client.MarkAllNotificationsRead: %w", err)
	}
	return nil
}

func decodeAddResult(body []byte) (*AddResult, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if _, ok := probe["items"]; ok {
		var cart domain.Cart
		if err := json.Unmarshal(body, &cart); err != nil {
			return nil, fmt.Errorf("decode cart: %w", err)
		}
		return &AddResult{Cart: &cart}, nil
	}
	var line domain.CartLine
	if err := json.Unmarshal(body, &line); err != nil {
		return nil, fmt.Errorf("decode line: %w", err)
	}
	if line.ID == 0 {
		return nil, fmt.Errorf("decode line: missing id")
	}
	return &AddResult{Line: &line}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
