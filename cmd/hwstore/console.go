package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/naveenspark/hwstore/internal/app"
	"github.com/naveenspark/hwstore/internal/tui"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Open the interactive console (default)",
	Args:  cobra.NoArgs,
	RunE:  runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}

func runConsole(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if err := cfg.EnsureDataDir(); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	// The terminal belongs to the console, so logs go to a file.
	log, closeLog, err := newFileLogger(cfg.LogPath(), cfg.LogLevel)
	if err != nil {
		return err
	}
	defer closeLog() //nolint:errcheck

	c, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	defer c.Close() //nolint:errcheck

	model := tui.NewApp(tui.Deps{
		Sessions:      c.Sessions,
		Cart:          c.Cart,
		Notifications: c.Notifier,
		AdminURL:      cfg.AdminURL,
		Version:       version,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	c.OnLoginRequired(func() {
		go p.Send(tui.LoginRequiredMsg{})
	})
	c.Start(cmd.Context())

	log.WithField("api", cfg.APIURL).Info("console started")
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("tui error: %w", err)
	}
	return nil
}
