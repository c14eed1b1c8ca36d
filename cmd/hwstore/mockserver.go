package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/naveenspark/hwstore/internal/mockapi"
)

var mockAddr string

var mockServerCmd = &cobra.Command{
	Use:   "mock-server",
	Short: "Run an in-memory backend for trying the console",
	Long: `Serve a seeded, in-memory copy of the backend API. Sign in with
admin / admin. Nothing is persisted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		log := logrus.New()
		log.SetOutput(cmd.ErrOrStderr())
		log.SetLevel(cfg.LogLevel)

		srv := &http.Server{
			Handler:           mockapi.New(mockapi.WithLogger(log)).Seed().Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		ln, err := net.Listen("tcp", mockAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", mockAddr, err)
		}

		done := make(chan error, 1)
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printMockBanner(ln.Addr().String())

		select {
		case <-cmd.Context().Done():
			log.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	mockServerCmd.Flags().StringVar(&mockAddr, "addr", "127.0.0.1:8000", "address to listen on")
	rootCmd.AddCommand(mockServerCmd)
}
