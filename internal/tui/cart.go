package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/naveenspark/hwstore/pkg/domain"
)

var errBadAddInput = errors.New(`enter "product [quantity]", e.g. "3 2"`)

type cartChangedMsg struct{}

type cartResultMsg struct {
	err   error
	done  string
	order *domain.Order
}

type cartModel struct {
	cart      Cart
	items     domain.Cart
	cursor    int
	adding    bool
	input     string
	lastOrder *domain.Order
	loading   bool
	width     int
	height    int
	frame     int
}

func newCartModel(c Cart) cartModel {
	m := cartModel{cart: c}
	if c != nil {
		m.items = c.Snapshot()
	}
	return m
}

// watch waits for the next change signal from the synchronizer.
func (m cartModel) watch() tea.Cmd {
	if m.cart == nil {
		return nil
	}
	ch := m.cart.Changes()
	return func() tea.Msg {
		<-ch
		return cartChangedMsg{}
	}
}

func (m cartModel) load() tea.Cmd {
	c := m.cart
	if c == nil {
		return nil
	}
	return func() tea.Msg {
		_, err := c.Load(context.Background())
		return cartResultMsg{err: err}
	}
}

func (m cartModel) reset() cartModel {
	m.items = domain.Cart{}
	m.cursor = 0
	m.adding = false
	m.input = ""
	m.lastOrder = nil
	m.loading = false
	return m
}

// run executes a cart call off the UI goroutine.
func (m cartModel) run(done string, fn func(ctx context.Context, c Cart) error) tea.Cmd {
	c := m.cart
	if c == nil {
		return nil
	}
	return func() tea.Msg {
		err := fn(context.Background(), c)
		return cartResultMsg{err: err, done: done}
	}
}

func (m cartModel) selected() (domain.CartLine, bool) {
	if m.cursor < 0 || m.cursor >= len(m.items.Items) {
		return domain.CartLine{}, false
	}
	return m.items.Items[m.cursor], true
}

func (m cartModel) Update(msg tea.Msg) (cartModel, tea.Cmd) {
	switch msg := msg.(type) {
	case cartChangedMsg:
		if m.cart != nil {
			m.items = m.cart.Snapshot()
		}
		m.clampCursor()
		return m, m.watch()

	case cartResultMsg:
		m.loading = false
		if msg.order != nil {
			m.lastOrder = msg.order
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if m.adding {
			return m.updateAdding(msg)
		}
		return m.updateNav(msg)
	}
	return m, nil
}

func (m cartModel) updateNav(msg tea.KeyMsg) (cartModel, tea.Cmd) {
	switch msg.String() {
	case "j", "down":
		if m.cursor < len(m.items.Items)-1 {
			m.cursor++
		}
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
	case "+", "=":
		if line, ok := m.selected(); ok {
			return m, m.setQuantity(line.ID, line.Quantity+1)
		}
	case "-":
		if line, ok := m.selected(); ok {
			return m, m.setQuantity(line.ID, line.Quantity-1)
		}
	case "d", "x", "delete":
		if line, ok := m.selected(); ok {
			id := line.ID
			return m, m.run("", func(ctx context.Context, c Cart) error {
				_, err := c.RemoveItem(ctx, id)
				return err
			})
		}
	case "a":
		m.adding = true
		m.input = ""
	case "C":
		if len(m.items.Items) > 0 {
			return m, m.run("Cart cleared", func(ctx context.Context, c Cart) error {
				_, err := c.Clear(ctx)
				return err
			})
		}
	case "P":
		return m, m.checkout()
	case "y":
		if len(m.items.Items) > 0 {
			text := cartSummary(m.items)
			return m, func() tea.Msg {
				if err := clipboard.WriteAll(text); err != nil {
					return cartResultMsg{err: fmt.Errorf("copy: %w", err)}
				}
				return cartResultMsg{done: "Cart copied to clipboard"}
			}
		}
	case "r":
		m.loading = true
		return m, m.load()
	}
	return m, nil
}

func (m cartModel) setQuantity(lineID int64, qty int) tea.Cmd {
	return m.run("", func(ctx context.Context, c Cart) error {
		_, err := c.UpdateItem(ctx, lineID, qty)
		return err
	})
}

func (m cartModel) checkout() tea.Cmd {
	c := m.cart
	if c == nil || len(m.items.Items) == 0 {
		return nil
	}
	return func() tea.Msg {
		order, err := c.Checkout(context.Background())
		if err != nil {
			return cartResultMsg{err: err}
		}
		return cartResultMsg{
			order: order,
			done:  fmt.Sprintf("Order %s placed, total %s", order.OrderNumber, formatMoney(order.Total)),
		}
	}
}

func (m cartModel) updateAdding(msg tea.KeyMsg) (cartModel, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.adding = false
		m.input = ""
	case "enter":
		productID, qty, err := parseAddInput(m.input)
		if err != nil {
			return m, func() tea.Msg { return cartResultMsg{err: err} }
		}
		m.adding = false
		m.input = ""
		return m, m.run("Added to cart", func(ctx context.Context, c Cart) error {
			_, err := c.AddItem(ctx, productID, qty)
			return err
		})
	default:
		m.input = editRune(m.input, msg.String())
	}
	return m, nil
}

// parseAddInput reads "product [quantity]". Quantity defaults to 1.
func parseAddInput(s string) (productID int64, qty int, err error) {
	fields := strings.Fields(s)
	if len(fields) == 0 || len(fields) > 2 {
		return 0, 0, errBadAddInput
	}
	productID, err = strconv.ParseInt(fields[0], 10, 64)
	if err != nil || productID < 1 {
		return 0, 0, errBadAddInput
	}
	qty = 1
	if len(fields) == 2 {
		qty, err = strconv.Atoi(fields[1])
		if err != nil || qty < 1 {
			return 0, 0, errBadAddInput
		}
	}
	return productID, qty, nil
}

func (m *cartModel) clampCursor() {
	if m.cursor >= len(m.items.Items) {
		m.cursor = len(m.items.Items) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m cartModel) View() string {
	var b strings.Builder

	if len(m.items.Items) == 0 {
		if m.loading {
			b.WriteString(" " + dimStyle.Render("loading cart...") + "\n")
		} else {
			b.WriteString(" " + dimStyle.Render("cart is empty, press a to add a product") + "\n")
		}
	} else {
		nameW := max(m.width-40, 16)
		b.WriteString(" " + sectionHeaderStyle.Render(fmt.Sprintf("  %-*s %5s %10s %11s", nameW, "PRODUCT", "QTY", "PRICE", "SUBTOTAL")) + "\n")
		for i, l := range m.items.Items {
			name := l.ProductName
			if name == "" {
				name = fmt.Sprintf("product %d", l.ProductID)
			}
			row := fmt.Sprintf("%-*s %5d %10s %11s", nameW, truncStr(name, nameW), l.Quantity,
				formatMoney(l.UnitPrice), formatMoney(l.Subtotal()))
			if i == m.cursor {
				b.WriteString(" " + selectedRowBg.Render(accentStyle.Render("> ")+selectedStyle.Render(row)) + "\n")
			} else {
				b.WriteString(" " + "  " + normalStyle.Render(row) + "\n")
			}
		}
		b.WriteString("\n")
		b.WriteString(" " + dimStyle.Render(fmt.Sprintf("%d items", m.items.ItemCount())) +
			"   " + metaStyle.Render("total ") + priceStyle.Render(formatMoney(m.items.Total())) + "\n")
	}

	if m.lastOrder != nil {
		b.WriteString("\n " + metaStyle.Render("last order ") + normalStyle.Render(m.lastOrder.OrderNumber) +
			metaStyle.Render(" . "+m.lastOrder.Status) + "\n")
	}

	if m.adding {
		b.WriteString("\n " + renderField("add>", m.input, "product [quantity]", true, false, m.frame) + "\n")
	}
	return b.String()
}
