package client

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type anonymousKey struct{}

func withAnonymous(ctx context.Context) context.Context {
	return context.WithValue(ctx, anonymousKey{}, true)
}

func isAnonymous(ctx context.Context) bool {
	v, _ := ctx.Value(anonymousKey{}).(bool)
	return v
}

// requestIDTransport tags every request so backend logs can be correlated.
type requestIDTransport struct {
	next http.RoundTripper
}

func (t *requestIDTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("X-Request-ID") != "" {
		return t.next.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("X-Request-ID", uuid.NewString())
	return t.next.RoundTrip(req)
}

// authTransport is the only stage that touches credentials. It attaches the
// current bearer token and, when the API answers 401, invalidates the
// session and navigates to login exactly once for that response.
type authTransport struct {
	next  http.RoundTripper
	creds Credentials
	nav   Navigator
	log   logrus.FieldLogger
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if isAnonymous(req.Context()) {
		return t.next.RoundTrip(req)
	}

	var token string
	if t.creds != nil {
		token = t.creds.AccessToken()
	}
	if token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		t.unauthorized(req, token)
	}
	return resp, nil
}

func (t *authTransport) unauthorized(req *http.Request, token string) {
	entry := t.log.WithFields(logrus.Fields{"method": req.Method, "path": req.URL.Path})
	if t.creds != nil && !t.creds.Invalidate(token) {
		// A newer login replaced the token this request carried.
		entry.Debug("ignoring 401 for superseded token")
		return
	}
	entry.Info("session rejected by API, returning to login")
	if t.nav != nil {
		t.nav.ToLogin()
	}
}
