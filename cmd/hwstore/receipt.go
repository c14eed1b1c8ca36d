package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	receiptFormat string
	receiptOutput string
)

var receiptCmd = &cobra.Command{
	Use:   "receipt ORDER_ID",
	Short: "Download an order receipt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orderID, err := parseID("order", args[0])
		if err != nil {
			return err
		}
		c, err := signedIn(cmd)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		body, err := c.API.Receipt(cmd.Context(), orderID, receiptFormat)
		if err != nil {
			return err
		}
		if receiptOutput == "" || receiptOutput == "-" {
			_, err = cmd.OutOrStdout().Write(body)
			return err
		}
		if err := os.WriteFile(receiptOutput, body, 0600); err != nil {
			return fmt.Errorf("write receipt: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Receipt for order %d saved to %s\n", orderID, receiptOutput)
		return nil
	},
}

func init() {
	receiptCmd.Flags().StringVarP(&receiptFormat, "format", "f", "html", "receipt format understood by the backend (html, json, pdf)")
	receiptCmd.Flags().StringVarP(&receiptOutput, "output", "o", "", "write to this file instead of stdout")
	rootCmd.AddCommand(receiptCmd)
}
