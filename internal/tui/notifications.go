package tui

import (
	"context"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/naveenspark/hwstore/pkg/domain"
)

type notifChangedMsg struct{}

type notifResultMsg struct {
	err  error
	done string
}

type notifModel struct {
	notifs Notifications
	items  []domain.Notification
	cursor int
	width  int
	height int
}

func newNotifModel(n Notifications) notifModel {
	m := notifModel{notifs: n}
	if n != nil {
		m.items = n.Unread()
	}
	return m
}

func (m notifModel) watch() tea.Cmd {
	if m.notifs == nil {
		return nil
	}
	ch := m.notifs.Changes()
	return func() tea.Msg {
		<-ch
		return notifChangedMsg{}
	}
}

func (m notifModel) Update(msg tea.Msg) (notifModel, tea.Cmd) {
	switch msg := msg.(type) {
	case notifChangedMsg:
		if m.notifs != nil {
			m.items = m.notifs.Unread()
		}
		if m.cursor >= len(m.items) {
			m.cursor = max(len(m.items)-1, 0)
		}
		return m, m.watch()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "j", "down":
			if m.cursor < len(m.items)-1 {
				m.cursor++
			}
		case "k", "up":
			if m.cursor > 0 {
				m.cursor--
			}
		case "enter", "m":
			if m.notifs != nil && m.cursor < len(m.items) {
				n, id := m.notifs, m.items[m.cursor].ID
				return m, func() tea.Msg {
					return notifResultMsg{err: n.MarkAsRead(context.Background(), id)}
				}
			}
		case "A":
			if m.notifs != nil && len(m.items) > 0 {
				n := m.notifs
				return m, func() tea.Msg {
					return notifResultMsg{err: n.MarkAllAsRead(context.Background()), done: "All notifications marked read"}
				}
			}
		}
	}
	return m, nil
}

func (m notifModel) View() string {
	if len(m.items) == 0 {
		return " " + dimStyle.Render("no unread notifications")
	}

	var b strings.Builder
	msgW := max(m.width-6, 20)
	for i, n := range m.items {
		label := notifStyle(n.Type).Render("[" + notifLabel(n.Type) + "]")
		title := normalStyle.Render(n.Title)
		prefix := "   "
		if i == m.cursor {
			prefix = " " + accentStyle.Render("> ")
			title = selectedStyle.Render(n.Title)
		}
		b.WriteString(prefix + label + " " + title)
		if ts := formatTime(n.CreatedAt); ts != "" {
			b.WriteString("  " + metaStyle.Render(ts))
		}
		b.WriteString("\n")
		if n.Message != "" {
			b.WriteString("     " + dimStyle.Render(truncStr(n.Message, msgW)) + "\n")
		}
	}
	return b.String()
}
