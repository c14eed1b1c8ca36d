// Package tui is the terminal admin console: a login screen, the cart and
// the unread notifications, all driven by the client core.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/naveenspark/hwstore/internal/browser"
	"github.com/naveenspark/hwstore/internal/session"
	"github.com/naveenspark/hwstore/pkg/client"
	"github.com/naveenspark/hwstore/pkg/domain"
)

type view int

const (
	viewLogin view = iota
	viewCart
	viewNotifications
)

// Sessions is the session store as seen by the console.
type Sessions interface {
	Login(ctx context.Context, creds session.Credentials) (*domain.User, error)
	Logout(ctx context.Context)
	Current() domain.Session
}

// Cart is the cart synchronizer as seen by the console.
type Cart interface {
	Snapshot() domain.Cart
	Changes() <-chan struct{}
	Load(ctx context.Context) (domain.Cart, error)
	AddItem(ctx context.Context, productID int64, quantity int) (domain.Cart, error)
	UpdateItem(ctx context.Context, lineID int64, quantity int) (domain.Cart, error)
	RemoveItem(ctx context.Context, lineID int64) (domain.Cart, error)
	Clear(ctx context.Context) (domain.Cart, error)
	Checkout(ctx context.Context) (*domain.Order, error)
}

// Notifications is the notification poller as seen by the console.
type Notifications interface {
	Unread() []domain.Notification
	Changes() <-chan struct{}
	MarkAsRead(ctx context.Context, id int64) error
	MarkAllAsRead(ctx context.Context) error
}

// Deps are the core services behind the console. Any of them may be nil,
// in which case the matching actions do nothing.
type Deps struct {
	Sessions      Sessions
	Cart          Cart
	Notifications Notifications
	// AdminURL is opened in the browser with "o".
	AdminURL string
	Version  string
}

// LoginRequiredMsg sends the console back to the login screen. Send it
// when the API rejects the session.
type LoginRequiredMsg struct{}

type loginResultMsg struct {
	user *domain.User
	err  error
}

type loggedOutMsg struct{}

type openResultMsg struct {
	err error
}

// App is the root Bubbletea model.
type App struct {
	deps      Deps
	view      view
	login     loginModel
	cart      cartModel
	notifs    notifModel
	user      *domain.User
	status    string
	statusErr bool
	width     int
	height    int
	frame     int // logo shimmer animation frame
	// loggingOut is set while a user-initiated logout is in flight; a
	// rejected token on the way out is not reported as an expiry.
	loggingOut bool
}

// NewApp creates the console. It opens on the cart when a session is
// already active and on the login screen otherwise.
func NewApp(d Deps) App {
	a := App{
		deps:   d,
		login:  newLoginModel(d.Sessions),
		cart:   newCartModel(d.Cart),
		notifs: newNotifModel(d.Notifications),
	}
	if d.Sessions != nil {
		if s := d.Sessions.Current(); s.Active() {
			a.user = s.User
			a.view = viewCart
		}
	}
	return a
}

func (a App) Init() tea.Cmd {
	cmds := []tea.Cmd{shimmerTickCmd(), a.cart.watch(), a.notifs.watch()}
	if a.view == viewCart {
		cmds = append(cmds, a.cart.load())
	}
	return tea.Batch(cmds...)
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		// Chrome: header(2) + tabs(1) + status(1) + help(1) = 5 lines
		bodyMsg := tea.WindowSizeMsg{Width: msg.Width, Height: msg.Height - 5}
		a.cart, _ = a.cart.Update(bodyMsg)
		a.notifs, _ = a.notifs.Update(bodyMsg)
		return a, nil

	case shimmerTickMsg:
		a.frame++
		a.login.frame = a.frame
		a.cart.frame = a.frame
		return a, shimmerTickCmd()

	case LoginRequiredMsg:
		if a.view == viewLogin {
			return a, nil
		}
		a.signedOut()
		if !a.loggingOut {
			a.login.notice = "Your session has expired. Sign in again."
		}
		return a, nil

	case loginResultMsg:
		a.login.busy = false
		if msg.err != nil {
			a.login.err = errText(msg.err)
			return a, nil
		}
		a.user = msg.user
		a.view = viewCart
		a.login = newLoginModel(a.deps.Sessions)
		a.setStatus("Signed in as "+msg.user.Name(), false)
		return a, a.cart.load()

	case loggedOutMsg:
		a.loggingOut = false
		a.signedOut()
		return a, nil

	case openResultMsg:
		if msg.err != nil {
			a.setStatus("open browser: "+msg.err.Error(), true)
		}
		return a, nil

	case cartResultMsg:
		var cmd tea.Cmd
		a.cart, cmd = a.cart.Update(msg)
		a.report(msg.err, msg.done)
		return a, cmd

	case notifResultMsg:
		a.report(msg.err, msg.done)
		return a, nil

	case cartChangedMsg:
		var cmd tea.Cmd
		a.cart, cmd = a.cart.Update(msg)
		return a, cmd

	case notifChangedMsg:
		var cmd tea.Cmd
		a.notifs, cmd = a.notifs.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
		if a.view == viewLogin {
			if msg.String() == "esc" {
				return a, tea.Quit
			}
			var cmd tea.Cmd
			a.login, cmd = a.login.Update(msg)
			return a, cmd
		}

		// Global keys (only when not editing)
		if !a.cart.adding {
			switch msg.String() {
			case "q":
				return a, tea.Quit
			case "1":
				a.view = viewCart
				return a, nil
			case "2":
				a.view = viewNotifications
				return a, nil
			case "L":
				a.loggingOut = true
				return a, a.logout()
			case "o":
				return a, a.openAdmin()
			}
		}

		var cmd tea.Cmd
		switch a.view {
		case viewCart:
			a.cart, cmd = a.cart.Update(msg)
		case viewNotifications:
			a.notifs, cmd = a.notifs.Update(msg)
		}
		return a, cmd
	}
	return a, nil
}

// signedOut drops everything tied to the previous session. The core
// services reset themselves through their session subscriptions.
func (a *App) signedOut() {
	a.view = viewLogin
	a.user = nil
	a.login = newLoginModel(a.deps.Sessions)
	a.cart = a.cart.reset()
	a.status = ""
	a.statusErr = false
}

func (a *App) setStatus(s string, isErr bool) {
	a.status = s
	a.statusErr = isErr
}

// report shows an action outcome. Rejected sessions are not reported here;
// they arrive as LoginRequiredMsg.
func (a *App) report(err error, done string) {
	switch {
	case err == nil:
		if done != "" {
			a.setStatus(done, false)
		}
	case client.IsUnauthenticated(err):
	default:
		a.setStatus(errText(err), true)
	}
}

func (a App) logout() tea.Cmd {
	s := a.deps.Sessions
	if s == nil {
		return func() tea.Msg { return loggedOutMsg{} }
	}
	return func() tea.Msg {
		s.Logout(context.Background())
		return loggedOutMsg{}
	}
}

func (a App) openAdmin() tea.Cmd {
	url := a.deps.AdminURL
	if url == "" {
		return nil
	}
	return func() tea.Msg {
		return openResultMsg{err: browser.Open(url)}
	}
}

func (a App) View() string {
	logo := renderShimmerLogo(a.frame)
	header := center(logo, a.width)

	sub := ""
	if a.user != nil {
		sub = metaStyle.Render(a.user.Name())
		if a.user.IsStaff {
			sub += metaStyle.Render(" . staff")
		}
	} else if a.deps.Version != "" {
		sub = metaStyle.Render(a.deps.Version)
	}
	header += "\n" + center(sub, a.width)

	var body, help string
	tabs := ""
	switch a.view {
	case viewLogin:
		body = a.login.View()
		help = helpBar("tab", "next field", "enter", "sign in", "esc", "quit")
	case viewCart:
		tabs = a.tabBar()
		body = a.cart.View()
		if a.cart.adding {
			help = helpBar("enter", "add", "esc", "cancel")
		} else {
			help = helpBar("1-2", "tabs", "j/k", "nav", "+/-", "qty", "d", "remove", "a", "add",
				"C", "clear", "P", "checkout", "y", "copy", "L", "logout", "q", "quit")
		}
	case viewNotifications:
		tabs = a.tabBar()
		body = a.notifs.View()
		help = helpBar("1-2", "tabs", "j/k", "nav", "enter", "mark read", "A", "mark all", "o", "admin", "L", "logout", "q", "quit")
	}

	status := ""
	if a.status != "" {
		if a.statusErr {
			status = " " + errorStyle.Render(a.status)
		} else {
			status = " " + noticeStyle.Render(a.status)
		}
	}

	chrome := 5
	body = strings.TrimRight(truncateToHeight(body, a.height-chrome), "\n")

	return fmt.Sprintf("%s\n%s\n%s\n%s\n%s", header, tabs, body, status, help)
}

func (a App) tabBar() string {
	type tabEntry struct {
		key  string
		name string
		v    view
	}
	tabs := []tabEntry{
		{"1", "Cart", viewCart},
		{"2", "Notifications", viewNotifications},
	}

	colWidth := a.width / len(tabs)
	var bar strings.Builder
	for _, t := range tabs {
		var label string
		if t.v == a.view {
			label = accentStyle.Render(t.key) + " " + selectedStyle.Underline(true).Render(t.name)
		} else {
			label = metaStyle.Render(t.key) + " " + dimStyle.Render(t.name)
		}
		switch t.v {
		case viewCart:
			if n := a.cart.items.ItemCount(); n > 0 {
				label += " " + dimStyle.Render(fmt.Sprintf("(%d)", n))
			}
		case viewNotifications:
			if n := len(a.notifs.items); n > 0 {
				label += " " + badgeStyle.Render(fmt.Sprintf(" %d ", n))
			}
		}
		w := lipgloss.Width(label)
		left := max((colWidth-w)/2, 0)
		right := max(colWidth-w-left, 0)
		bar.WriteString(strings.Repeat(" ", left) + label + strings.Repeat(" ", right))
	}
	return bar.String()
}

func center(s string, width int) string {
	pad := (width - lipgloss.Width(s)) / 2
	if pad < 0 {
		pad = 0
	}
	return strings.Repeat(" ", pad) + s
}
