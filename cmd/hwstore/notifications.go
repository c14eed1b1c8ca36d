package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/naveenspark/hwstore/internal/app"
	"github.com/naveenspark/hwstore/internal/notify"
	"github.com/naveenspark/hwstore/pkg/domain"
)

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"notifs"},
	Short:   "List and acknowledge unread notifications",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return notificationsListCmd.RunE(cmd, args)
	},
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print unread notifications",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := unreadConsole(cmd)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		printNotifications(cmd.OutOrStdout(), c.Notifier.Unread())
		return nil
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read ID",
	Short: "Mark one notification read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID("notification", args[0])
		if err != nil {
			return err
		}
		c, err := unreadConsole(cmd)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		if err := c.Notifier.MarkAsRead(cmd.Context(), id); err != nil {
			if errors.Is(err, notify.ErrNotFound) {
				return fmt.Errorf("notification %d is not unread", id)
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Marked %d read, %d unread left\n", id, c.Notifier.Count())
		return nil
	},
}

var notificationsReadAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark every unread notification read",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := unreadConsole(cmd)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		n := c.Notifier.Count()
		if err := c.Notifier.MarkAllAsRead(cmd.Context()); err != nil {
			var batch *notify.BatchError
			if errors.As(err, &batch) {
				fmt.Fprintf(cmd.OutOrStdout(), "Marked %d read\n", n-len(batch.Failed))
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Marked %d read\n", n)
		return nil
	},
}

func init() {
	notificationsCmd.AddCommand(notificationsListCmd, notificationsReadCmd, notificationsReadAllCmd)
	rootCmd.AddCommand(notificationsCmd)
}

// unreadConsole starts the poller and fetches the unread set once, so the
// optimistic mark operations have something to act on.
func unreadConsole(cmd *cobra.Command) (*app.Console, error) {
	c, err := signedIn(cmd)
	if err != nil {
		return nil, err
	}
	c.Start(cmd.Context())
	if err := c.Notifier.Refresh(cmd.Context()); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func printNotifications(w io.Writer, list []domain.Notification) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No unread notifications.")
		return
	}
	for _, n := range list {
		fmt.Fprintf(w, "%d\t%s\t%s\n", n.ID, n.CreatedAt.Local().Format("2006-01-02 15:04"), n.Title)
		if n.Message != "" {
			fmt.Fprintf(w, "\t\t%s\n", n.Message)
		}
	}
}
