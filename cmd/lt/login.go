package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/leitnerhq/leitner/internal/remote"
	"github.com/leitnerhq/leitner/internal/store"
	"github.com/leitnerhq/leitner/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "sync",
	Short:   "Connect a sync backend",
	Long: `Sign in to the remote database that keeps devices in sync.

The endpoint and token come from your Turso database ('turso db show' and
'turso db tokens create'). Credentials are verified with a live connection
before anything is saved. Records created before login are adopted into the
account so they upload and reach your other devices.

Scripted use:
  lt login --url libsql://my-db.turso.io --owner me@example.com --token-stdin < token.txt`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx := cmd.Context()

		creds := remote.Credentials{}
		creds.URL, _ = cmd.Flags().GetString("url")
		creds.OwnerID, _ = cmd.Flags().GetString("owner")
		tokenStdin, _ := cmd.Flags().GetBool("token-stdin")

		if tokenStdin {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				fatalf("failed to read token from stdin: %v", err)
			}
			creds.AuthToken = strings.TrimSpace(string(data))
		}

		interactive := term.IsTerminal(int(os.Stdin.Fd()))
		if creds.URL == "" || creds.OwnerID == "" {
			if !interactive {
				fatalf("--url and --owner are required when not running interactively")
			}
			if err := loginForm(cfg.Endpoint, cfg.Account, &creds); err != nil {
				if errors.Is(err, huh.ErrUserAborted) {
					return
				}
				fatal(err)
			}
		}
		if creds.AuthToken == "" {
			if !interactive {
				fatalf("pass the token with --token-stdin when not running interactively")
			}
			fmt.Print("Auth token (input hidden): ")
			raw, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				fatalf("failed to read token: %v", err)
			}
			creds.AuthToken = strings.TrimSpace(string(raw))
		}

		fmt.Printf("%s Verifying %s...\n", ui.RenderAccent("🔄"), creds.URL)
		client, err := remote.Connect(ctx, creds)
		if err != nil {
			fatal(err)
		}
		if err := client.EnsureSchema(ctx); err != nil {
			client.Close()
			fatal(err)
		}
		client.Close()

		if err := remote.Save(cfg.SessionPath, creds); err != nil {
			fatal(err)
		}

		s := openStore(cmd, cfg)
		defer s.Close()
		adopted, err := s.AdoptOwner(ctx, store.LocalOwner, creds.OwnerID)
		if err != nil {
			fatal(err)
		}

		fmt.Printf("%s Logged in as %s\n", ui.RenderPass("✓"), creds.OwnerID)
		if adopted > 0 {
			fmt.Printf("  Adopted %d records created before login; they upload on the next sync.\n", adopted)
		}
		fmt.Printf("  Run 'lt sync' now or 'lt daemon start' to sync continuously.\n")
	},
}

func loginForm(defaultURL, defaultOwner string, creds *remote.Credentials) error {
	if creds.URL == "" {
		creds.URL = defaultURL
	}
	if creds.OwnerID == "" {
		creds.OwnerID = defaultOwner
	}
	return huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("Database URL").
			Description("libsql://<name>.turso.io").
			Value(&creds.URL).
			Validate(func(v string) error {
				if strings.TrimSpace(v) == "" {
					return fmt.Errorf("the URL is required")
				}
				return nil
			}),
		huh.NewInput().Title("Account id").
			Description("Identifies your records across devices").
			Value(&creds.OwnerID).
			Validate(func(v string) error {
				if strings.TrimSpace(v) == "" {
					return fmt.Errorf("the account id is required")
				}
				return nil
			}),
	)).Run()
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "sync",
	Short:   "Remove the saved session",
	Long: `Sign out. Local data stays; only the saved credentials are removed.
New records are created under the local placeholder owner until the next
login adopts them.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if err := remote.Clear(cfg.SessionPath); err != nil {
			fatal(err)
		}
		fmt.Printf("%s Logged out\n", ui.RenderPass("✓"))
	},
}

func init() {
	loginCmd.Flags().String("url", "", "Database endpoint")
	loginCmd.Flags().String("owner", "", "Account id")
	loginCmd.Flags().Bool("token-stdin", false, "Read the auth token from stdin")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}
