package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/naveenspark/hwstore/internal/session"
)

var (
	loginUsername string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and remember the session",
	Long: `Sign in with a staff username and password. The password is read from
--password, then $HWSTORE_PASSWORD, then standard input.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openConsole(cmd)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		password := loginPassword
		if password == "" {
			password = os.Getenv("HWSTORE_PASSWORD")
		}
		creds, err := promptCredentials(cmd.InOrStdin(), cmd.ErrOrStderr(), loginUsername, password)
		if err != nil {
			return err
		}
		u, err := c.Sessions.Login(cmd.Context(), creds)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", u.Name())
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openConsole(cmd)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		// An expired token is rejected on the way out; that is not news.
		c.OnLoginRequired(nil)
		c.Sessions.Logout(cmd.Context())
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := signedIn(cmd)
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck

		u, _ := c.Sessions.User()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (%s)\n", u.Name(), u.Username)
		if u.Email != "" {
			fmt.Fprintf(out, "email:  %s\n", u.Email)
		}
		if u.IsStaff {
			fmt.Fprintln(out, "role:   staff")
		}
		fmt.Fprintf(out, "server: %s\n", c.Config.APIURL)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "staff username")
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "password (prefer $HWSTORE_PASSWORD)")
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
}

// promptCredentials asks for whatever is missing, one line each.
func promptCredentials(in io.Reader, prompt io.Writer, username, password string) (session.Credentials, error) {
	r := bufio.NewReader(in)
	read := func(label string) (string, error) {
		fmt.Fprint(prompt, label)
		line, err := r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	var err error
	if username == "" {
		if username, err = read("Username: "); err != nil {
			return session.Credentials{}, err
		}
	}
	if password == "" {
		if password, err = read("Password: "); err != nil {
			return session.Credentials{}, err
		}
	}
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return session.Credentials{}, session.ErrMissingCredentials
	}
	return session.Credentials{Username: username, Password: password}, nil
}
