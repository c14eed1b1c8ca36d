package tui

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/naveenspark/hwstore/internal/session"
)

type loginField int

const (
	fieldUsername loginField = iota
	fieldPassword
)

type loginModel struct {
	sessions Sessions
	username string
	password string
	field    loginField
	busy     bool
	err      string
	notice   string
	frame    int
}

func newLoginModel(s Sessions) loginModel {
	return loginModel{sessions: s}
}

func (m loginModel) Update(msg tea.Msg) (loginModel, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok || m.busy {
		return m, nil
	}
	switch key.String() {
	case "tab", "shift+tab", "up", "down":
		if m.field == fieldUsername {
			m.field = fieldPassword
		} else {
			m.field = fieldUsername
		}
	case "enter":
		if m.field == fieldUsername && m.password == "" {
			m.field = fieldPassword
			return m, nil
		}
		return m.submit()
	default:
		if m.field == fieldUsername {
			m.username = editRune(m.username, key.String())
		} else {
			m.password = editRune(m.password, key.String())
		}
		m.err = ""
	}
	return m, nil
}

func (m loginModel) submit() (loginModel, tea.Cmd) {
	creds := session.Credentials{Username: strings.TrimSpace(m.username), Password: m.password}
	if creds.Username == "" || creds.Password == "" {
		m.err = errText(session.ErrMissingCredentials)
		return m, nil
	}
	if m.sessions == nil {
		return m, nil
	}
	m.busy = true
	m.err = ""
	s := m.sessions
	return m, func() tea.Msg {
		u, err := s.Login(context.Background(), creds)
		return loginResultMsg{user: u, err: err}
	}
}

func (m loginModel) View() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString("  " + sectionHeaderStyle.Render("Sign in to the admin console") + "\n\n")
	if m.notice != "" {
		b.WriteString("  " + noticeStyle.Render(m.notice) + "\n\n")
	}
	b.WriteString("  " + renderField("username", m.username, "admin", m.field == fieldUsername, false, m.frame) + "\n")
	b.WriteString("  " + renderField("password", m.password, "", m.field == fieldPassword, true, m.frame) + "\n\n")
	switch {
	case m.busy:
		b.WriteString("  " + dimStyle.Render("signing in...") + "\n")
	case m.err != "":
		b.WriteString("  " + errorStyle.Render(m.err) + "\n")
	}
	return b.String()
}
