package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gymmando/voice-client/internal/identity"
	"github.com/gymmando/voice-client/internal/token"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password",
	Long: `Sign in to Gymmando. The session is kept in
~/.config/gymmando/session.json (readable only by you) and refreshed
automatically.

Example:
  gymmando login --email you@example.com`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cfg, false)
		if err != nil {
			return err
		}
		defer log.Close()

		email, err := cmd.Flags().GetString("email")
		if err != nil {
			return fmt.Errorf("failed to read 'email' flag: %w", err)
		}
		in := bufio.NewReader(os.Stdin)
		if email == "" {
			fmt.Print("Email: ")
			line, _ := in.ReadString('\n')
			email = strings.TrimSpace(line)
		}
		if email == "" {
			return fmt.Errorf("email is required")
		}

		password, err := readPassword(in)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		sess, err := newIdentity(cfg, nil, log).SignIn(ctx, email, password)
		if err != nil {
			if errors.Is(err, identity.ErrInvalidCredentials) {
				return fmt.Errorf("wrong email or password")
			}
			return err
		}

		fmt.Printf("✓ Signed in as %s\n", sess.Email)
		return nil
	},
}

// readPassword reads without echo from a terminal, or a line from a pipe
func readPassword(in *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Print("Password: ")
	b, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(b), nil
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cfg, false)
		if err != nil {
			return err
		}
		defer log.Close()

		if err := newIdentity(cfg, nil, log).SignOut(); err != nil {
			return err
		}
		fmt.Println("✓ Signed out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cfg, false)
		if err != nil {
			return err
		}
		defer log.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		sess, err := newIdentity(cfg, nil, log).CurrentUser(ctx)
		if errors.Is(err, identity.ErrNotSignedIn) {
			fmt.Println("Not signed in. Run: gymmando login")
			return nil
		}
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
				"user_id":    sess.UserID,
				"email":      sess.Email,
				"expires_at": sess.ExpiresAt,
			})
		}
		fmt.Printf("%s (%s)\n", sess.Email, sess.UserID)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Fetch a room access token for the signed-in user",
	Long: `Ask the backend for a room token, the same request a session makes
before joining. Useful to check the backend without opening a room.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cfg, false)
		if err != nil {
			return err
		}
		defer log.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		sess, err := newIdentity(cfg, nil, log).CurrentUser(ctx)
		if err != nil {
			return err
		}

		fetcher, err := token.NewFetcher(cfg.Backend.TokenURL, cfg.BackendTimeout(), nil, log)
		if err != nil {
			return err
		}
		tok, err := fetcher.Fetch(ctx, sess.UserID, sess.IDToken)
		if err != nil {
			return err
		}

		if raw, _ := cmd.Flags().GetBool("raw"); raw {
			fmt.Println(tok)
			return nil
		}
		fmt.Printf("✓ Token for %s: %s\n", sess.UserID, redact(tok))
		return nil
	},
}

func redact(s string) string {
	if len(s) <= 16 {
		return strings.Repeat("*", len(s))
	}
	return s[:8] + "…" + s[len(s)-8:]
}

func init() {
	loginCmd.Flags().String("email", "", "account email")
	whoamiCmd.Flags().Bool("json", false, "output as JSON")
	tokenCmd.Flags().Bool("raw", false, "print the full token")
}
