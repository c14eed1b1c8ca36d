package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/naveenspark/hwstore/pkg/domain"
)

var cartCmd = &cobra.Command{
	Use:   "cart",
	Short: "Show and edit the draft order",
}

var cartShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the cart",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := signedIn(cmd)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		cart, err := c.Cart.Load(cmd.Context())
		if err != nil {
			return err
		}
		printCart(cmd.OutOrStdout(), cart)
		return nil
	},
}

var cartAddCmd = &cobra.Command{
	Use:   "add PRODUCT_ID [QUANTITY]",
	Short: "Add a product to the cart",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		productID, err := parseID("product", args[0])
		if err != nil {
			return err
		}
		qty := 1
		if len(args) == 2 {
			if qty, err = parseQuantity(args[1]); err != nil {
				return err
			}
		}

		c, err := signedIn(cmd)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		if _, err := c.Cart.Load(cmd.Context()); err != nil {
			return err
		}
		cart, err := c.Cart.AddItem(cmd.Context(), productID, qty)
		if err != nil {
			return err
		}
		printCart(cmd.OutOrStdout(), cart)
		return nil
	},
}

var cartSetCmd = &cobra.Command{
	Use:   "set LINE_ID QUANTITY",
	Short: "Change a line's quantity (0 removes it)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		lineID, err := parseID("line", args[0])
		if err != nil {
			return err
		}
		qty, err := strconv.Atoi(args[1])
		if err != nil || qty < 0 {
			return fmt.Errorf("invalid quantity %q", args[1])
		}

		c, err := signedIn(cmd)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		if _, err := c.Cart.Load(cmd.Context()); err != nil {
			return err
		}
		cart, err := c.Cart.UpdateItem(cmd.Context(), lineID, qty)
		if err != nil {
			return err
		}
		printCart(cmd.OutOrStdout(), cart)
		return nil
	},
}

var cartRemoveCmd = &cobra.Command{
	Use:     "remove LINE_ID",
	Aliases: []string{"rm"},
	Short:   "Remove a line from the cart",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lineID, err := parseID("line", args[0])
		if err != nil {
			return err
		}

		c, err := signedIn(cmd)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		if _, err := c.Cart.Load(cmd.Context()); err != nil {
			return err
		}
		cart, err := c.Cart.RemoveItem(cmd.Context(), lineID)
		if err != nil {
			return err
		}
		printCart(cmd.OutOrStdout(), cart)
		return nil
	},
}

var cartClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the cart",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := signedIn(cmd)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		if _, err := c.Cart.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Cart cleared")
		return nil
	},
}

var cartCheckoutCmd = &cobra.Command{
	Use:   "checkout",
	Short: "Turn the cart into an order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := signedIn(cmd)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		order, err := c.Cart.Checkout(cmd.Context())
		if err != nil {
			return err
		}
		printOrder(cmd.OutOrStdout(), order)
		return nil
	},
}

func init() {
	cartCmd.AddCommand(cartShowCmd, cartAddCmd, cartSetCmd, cartRemoveCmd, cartClearCmd, cartCheckoutCmd)
	rootCmd.AddCommand(cartCmd)
}

func printCart(w io.Writer, c domain.Cart) {
	if len(c.Items) == 0 {
		fmt.Fprintln(w, "Cart is empty.")
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("LINE", "PRODUCT", "QTY", "PRICE", "SUBTOTAL")
	for _, l := range c.Items {
		name := l.ProductName
		if name == "" {
			name = fmt.Sprintf("product %d", l.ProductID)
		}
		t.Row(strconv.FormatInt(l.ID, 10), name, strconv.Itoa(l.Quantity), l.UnitPrice.String(), l.Subtotal().String())
	}
	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "Total: %s (%d items)\n", c.Total(), c.ItemCount())
}

func printOrder(w io.Writer, o *domain.Order) {
	fmt.Fprintf(w, "Order %s placed\n", o.OrderNumber)
	fmt.Fprintf(w, "status: %s\n", o.Status)
	fmt.Fprintf(w, "total:  %s\n", o.Total)
	fmt.Fprintf(w, "receipt: hwstore receipt %d\n", o.ID)
}

func parseID(kind, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid %s id %q", kind, s)
	}
	return id, nil
}

func parseQuantity(s string) (int, error) {
	q, err := strconv.Atoi(s)
	if err != nil || q < 1 {
		return 0, fmt.Errorf("invalid quantity %q", s)
	}
	return q, nil
}
