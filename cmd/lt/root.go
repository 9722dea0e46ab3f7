package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/leitnerhq/leitner/internal/config"
	"github.com/leitnerhq/leitner/internal/remote"
	"github.com/leitnerhq/leitner/internal/store"
	"github.com/leitnerhq/leitner/internal/sync"
	"github.com/leitnerhq/leitner/internal/ui"
)

const version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "lt",
	Short: "Local-first spaced repetition with background sync",
	Long: `lt is a flashcard study tool that works entirely offline.

Every deck, card and review lands in a local SQLite database first and is
queued for upload. A background daemon (or an explicit 'lt sync') drains the
queue to the remote backend and pulls changes made on other devices. The
app never waits on the network: sync failures go to an error queue and the
next cycle retries them.

Start with:
  lt init                    # create the data directory and a config file
  lt deck add "Spanish"      # make a deck
  lt card add                # add cards interactively
  lt review                  # study what's due
  lt login                   # connect a sync backend (optional)
  lt daemon start            # keep everything synced in the background`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	cobra.OnInitialize(ui.AutoProfile)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default is ~/.leitner/config.yaml)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "study", Title: "Study Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "data", Title: "Data Commands:"},
	)
}

// fatalf prints an error to stderr and exits. Commands use it for failures
// that have no recovery path; anything retryable should be reported inline
// instead.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func fatal(err error) {
	fatalf("%v", err)
}

// loadConfig resolves the configuration for this invocation.
func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err)
	}
	return cfg
}

// openStore opens the local database and makes sure the schema exists.
// The caller owns the returned store and must Close it.
func openStore(cmd *cobra.Command, cfg *config.Config) *store.Store {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		fatalf("failed to create data directory: %v", err)
	}
	s, err := store.Open(cfg.DBPath)
	if err != nil {
		fatal(err)
	}
	if err := s.InitSchema(cmd.Context()); err != nil {
		s.Close()
		fatal(err)
	}
	return s
}

// buildEngine wires a sync engine over the session credentials. The engine
// connects lazily, so this succeeds even when nobody is logged in; the
// first cycle then fails with an auth error and the caller reports it.
func buildEngine(cfg *config.Config, s *store.Store, logger *log.Logger) *sync.Engine {
	source := remote.FileSource{Path: cfg.SessionPath}
	connect := func(ctx context.Context) (sync.Backend, error) {
		creds, err := source.Load()
		if err != nil {
			return nil, err
		}
		client, err := remote.Connect(ctx, creds)
		if err != nil {
			return nil, err
		}
		if err := client.EnsureSchema(ctx); err != nil {
			client.Close()
			return nil, err
		}
		return client, nil
	}
	return sync.New(s, connect, sync.Config{
		MaxErrors:  cfg.MaxErrors,
		MaxRetries: cfg.MaxRetries,
		RetryBase:  cfg.RetryBackoff,
	}, logger)
}
