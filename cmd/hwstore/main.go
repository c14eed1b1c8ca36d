package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/naveenspark/hwstore/internal/app"
	"github.com/naveenspark/hwstore/internal/config"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

var (
	flagAPIURL  string
	flagDataDir string
	flagEnvFile string
	flagDebug   bool
)

var rootCmd = &cobra.Command{
	Use:   "hwstore",
	Short: "Hardware store admin console",
	Long: `Admin console for the hardware store backend.

Run without a command to open the interactive console. Settings come from
HWSTORE_* environment variables or a .env file in the working directory.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runConsole,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagAPIURL, "api-url", "", "backend API base URL (default $HWSTORE_API_URL or "+config.DefaultAPIURL+")")
	pf.StringVar(&flagDataDir, "data-dir", "", "directory for the session file and log (default $HWSTORE_DATA_DIR or ~/.hwstore)")
	pf.StringVar(&flagEnvFile, "env-file", "", "read settings from this file instead of ./.env")
	pf.BoolVar(&flagDebug, "debug", false, "log requests and state changes")
}

func main() {
	rootCmd.Version = version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, app.ErrSignedOut) {
			printGreeting()
		}
		os.Exit(1)
	}
}

func loadConfig() config.Config {
	var cfg config.Config
	if flagEnvFile != "" {
		cfg = config.Load(flagEnvFile)
	} else {
		cfg = config.Load()
	}
	if flagAPIURL != "" {
		cfg = cfg.WithAPIURL(flagAPIURL)
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagDebug {
		cfg.LogLevel = logrus.DebugLevel
	}
	return cfg
}

// openConsole builds the client core for a one-shot command. A rejected
// session is reported on stderr.
func openConsole(cmd *cobra.Command) (*app.Console, error) {
	cfg := loadConfig()
	log := newCLILogger(cmd.ErrOrStderr(), cfg.LogLevel)
	c, err := app.New(cfg, log)
	if err != nil {
		return nil, err
	}
	c.OnLoginRequired(func() {
		fmt.Fprintln(cmd.ErrOrStderr(), "Session expired. Run: hwstore login")
	})
	return c, nil
}

// signedIn opens the console and fails early when there is no session.
func signedIn(cmd *cobra.Command) (*app.Console, error) {
	c, err := openConsole(cmd)
	if err != nil {
		return nil, err
	}
	if !c.Sessions.Current().Active() {
		_ = c.Close()
		return nil, app.ErrSignedOut
	}
	return c, nil
}
