package tui

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/naveenspark/hwstore/internal/notify"
	"github.com/naveenspark/hwstore/internal/session"
	"github.com/naveenspark/hwstore/pkg/client"
	"github.com/naveenspark/hwstore/pkg/domain"
)

var moneyPrinter = message.NewPrinter(language.English)

// formatTime renders a relative timestamp for notification rows.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// truncStr truncates a string to maxLen runes, appending an ellipsis if needed.
func truncStr(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	if maxLen < 1 {
		return ""
	}
	runes := []rune(s)
	return string(runes[:maxLen-1]) + "…"
}

// formatMoney renders an amount with grouped dollars, e.g. "$1,234.05".
func formatMoney(m domain.Money) string {
	c := m.Cents()
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return sign + "$" + moneyPrinter.Sprintf("%d", c/100) + fmt.Sprintf(".%02d", c%100)
}

// errText turns a core error into a one-line message for the status bar.
func errText(err error) string {
	if err == nil {
		return ""
	}
	var batch *notify.BatchError
	var httpErr *client.HTTPError
	switch {
	case errors.Is(err, session.ErrInvalidCredentials):
		return "invalid username or password"
	case errors.Is(err, session.ErrMissingCredentials):
		return "username and password are required"
	case client.IsTransport(err):
		return "cannot reach the server"
	case errors.As(err, &batch):
		return fmt.Sprintf("%d notifications could not be marked read", len(batch.Failed))
	case errors.As(err, &httpErr):
		if len(httpErr.Fields) > 0 {
			keys := make([]string, 0, len(httpErr.Fields))
			for k := range httpErr.Fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			var msgs []string
			for _, k := range keys {
				msgs = append(msgs, httpErr.Fields[k]...)
			}
			return strings.Join(msgs, " ")
		}
		if httpErr.Message != "" {
			return httpErr.Message
		}
		return fmt.Sprintf("request failed (%d)", httpErr.StatusCode)
	}
	return err.Error()
}

// cartSummary renders the cart as plain text for the clipboard.
func cartSummary(c domain.Cart) string {
	var b strings.Builder
	for _, l := range c.Items {
		name := l.ProductName
		if name == "" {
			name = fmt.Sprintf("product %d", l.ProductID)
		}
		fmt.Fprintf(&b, "%d x %s @ %s = %s\n", l.Quantity, name, formatMoney(l.UnitPrice), formatMoney(l.Subtotal()))
	}
	fmt.Fprintf(&b, "Total: %s (%d items)\n", formatMoney(c.Total()), c.ItemCount())
	return b.String()
}
