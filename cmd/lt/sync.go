package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	stdsync "sync"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/leitnerhq/leitner/internal/config"
	"github.com/leitnerhq/leitner/internal/daemon"
	"github.com/leitnerhq/leitner/internal/remote"
	"github.com/leitnerhq/leitner/internal/store"
	"github.com/leitnerhq/leitner/internal/sync"
	"github.com/leitnerhq/leitner/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync cycle now",
	Long: `Upload pending local changes and pull changes from other devices.

Every local edit queues an operation; sync drains the queue to the remote
backend, merging against newer server copies where both sides changed, then
pulls rows modified elsewhere since the last cycle.

A per-record failure does not stop the cycle. Failures are recorded and can
be inspected with 'lt sync errors' and retried with 'lt sync retry'.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		s := openStore(cmd, cfg)
		defer s.Close()

		if pid, ok := daemonPid(cfg); ok {
			fmt.Printf("%s The daemon is running (pid %d) and syncs on its own.\n",
				ui.RenderWarn("⚠"), pid)
		}

		ok := runSyncCycle(cmd, cfg, s)
		if !ok {
			os.Exit(1)
		}
	},
}

// runSyncCycle builds an engine, runs one full cycle with live phase
// output, and reports false when anything failed.
func runSyncCycle(cmd *cobra.Command, cfg *config.Config, s *store.Store) bool {
	engine := buildEngine(cfg, s, log.New(io.Discard, "", 0))
	defer engine.Close()

	statusCh := engine.Tracker().Subscribe()
	var printer stdsync.WaitGroup
	printer.Add(1)
	go func() {
		defer printer.Done()
		for st := range statusCh {
			switch st.Phase {
			case sync.PhaseConnecting:
				fmt.Printf("%s Connecting...\n", ui.RenderAccent("🔄"))
			case sync.PhaseUploading:
				if st.Total > 0 && st.Uploaded == 0 {
					fmt.Printf("%s Uploading %d operations...\n", ui.RenderAccent("🔄"), st.Total)
				}
			case sync.PhaseDownloading:
				fmt.Printf("%s Downloading...\n", ui.RenderAccent("🔄"))
			}
		}
	}()

	drain, pull, err := engine.Sync(cmd.Context())
	engine.Tracker().Unsubscribe(statusCh)
	printer.Wait()

	if err != nil {
		fmt.Printf("%s Sync failed: %v\n", ui.RenderFail("✗"), err)
		return false
	}

	parts := []string{fmt.Sprintf("%d uploaded", drain.Uploaded)}
	if drain.Conflicts > 0 {
		parts = append(parts, fmt.Sprintf("%d conflicts merged", drain.Conflicts))
	}
	if drain.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", drain.Failed))
	}
	parts = append(parts, fmt.Sprintf("%d pulled", pull.Applied))
	if pull.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d deferred to next drain", pull.Skipped))
	}
	fmt.Printf("%s Sync complete: %s\n", ui.RenderPass("✓"), strings.Join(parts, ", "))

	if errs := engine.Queue().Errors(); len(errs) > 0 {
		fmt.Println()
		for i := range errs {
			e := &errs[i]
			fmt.Printf("  %s %s: %s\n", ui.RenderFail("✗"), e.Describe(), e.Message)
		}
		fmt.Printf("\nInspect later with 'lt sync errors', retry with 'lt sync retry --all'.\n")
	}
	return drain.Failed == 0
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what is waiting to sync",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		s := openStore(cmd, cfg)
		defer s.Close()
		ctx := cmd.Context()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

		creds, err := remote.FileSource{Path: cfg.SessionPath}.Load()
		if err != nil {
			fmt.Fprintf(w, "Account:\tnot logged in\n")
		} else {
			fmt.Fprintf(w, "Account:\t%s (%s)\n", creds.OwnerID, creds.URL)
		}

		if pid, ok := daemonPid(cfg); ok {
			fmt.Fprintf(w, "Daemon:\trunning (pid %d)\n", pid)
		} else {
			fmt.Fprintf(w, "Daemon:\tstopped\n")
		}

		pending, err := s.PendingCount(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Fprintf(w, "Pending uploads:\t%d\n", pending)

		lastPull, err := s.LastPull(ctx)
		if err != nil {
			fatal(err)
		}
		fmt.Fprintf(w, "Last pull:\t%s\n", fmtAgo(lastPull))

		history, err := s.ListHistory(ctx, 500)
		if err != nil {
			fatal(err)
		}
		if failures := failureTargets(history); len(failures) > 0 {
			fmt.Fprintf(w, "Failed records:\t%d ('lt sync errors')\n", len(failures))
		}

		decks, _ := s.CountDecks(ctx)
		cards, _ := s.CountCards(ctx)
		fmt.Fprintf(w, "Local data:\t%d decks, %d cards\n", decks, cards)
		w.Flush()
	},
}

var syncErrorsCmd = &cobra.Command{
	Use:   "errors",
	Short: "List records whose last upload failed",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		s := openStore(cmd, cfg)
		defer s.Close()

		history, err := s.ListHistory(cmd.Context(), 500)
		if err != nil {
			fatal(err)
		}
		targets := failureTargets(history)
		if len(targets) == 0 {
			fmt.Printf("%s No failed uploads.\n", ui.RenderPass("✓"))
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TABLE\tRECORD\tWHEN\tDETAIL")
		for _, t := range targets {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Table, shortID(t.RecordID), fmtAgo(t.At), t.Detail)
		}
		w.Flush()
		fmt.Printf("\nRetry one with 'lt sync retry <record>', all with 'lt sync retry --all'.\n")
	},
}

var syncRetryCmd = &cobra.Command{
	Use:   "retry [record]",
	Short: "Requeue failed uploads and sync again",
	Long: `Retry failed uploads.

A failed operation is settled, not stuck: retrying re-queues the record's
current state as a fresh operation and runs a new sync cycle. Pass a record
id (or its prefix) to retry one record, or --all for every record whose
last upload failed.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		s := openStore(cmd, cfg)
		defer s.Close()
		ctx := cmd.Context()

		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) == 1) {
			fatalf("pass a record id or --all, not both")
		}

		history, err := s.ListHistory(ctx, 1000)
		if err != nil {
			fatal(err)
		}
		targets := failureTargets(history)
		if !all {
			var match *retryTarget
			for i := range targets {
				if strings.HasPrefix(targets[i].RecordID, args[0]) {
					if match != nil {
						fatalf("record prefix %q is ambiguous", args[0])
					}
					match = &targets[i]
				}
			}
			if match == nil {
				fatalf("no failed upload matches %q", args[0])
			}
			targets = []retryTarget{*match}
		}
		if len(targets) == 0 {
			fmt.Printf("%s Nothing to retry.\n", ui.RenderPass("✓"))
			return
		}

		for _, t := range targets {
			if err := s.Requeue(ctx, t.Table, t.RecordID); err != nil {
				fatal(err)
			}
		}
		fmt.Printf("Requeued %d records.\n", len(targets))

		if !runSyncCycle(cmd, cfg, s) {
			os.Exit(1)
		}
	},
}

var syncClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Dismiss recorded upload failures",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		s := openStore(cmd, cfg)
		defer s.Close()

		n, err := s.ClearFailures(cmd.Context())
		if err != nil {
			fatal(err)
		}
		fmt.Printf("%s Dismissed %d recorded failures.\n", ui.RenderPass("✓"), n)
	},
}

var syncHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent upload outcomes",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		s := openStore(cmd, cfg)
		defer s.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := s.ListHistory(cmd.Context(), limit)
		if err != nil {
			fatal(err)
		}
		if len(entries) == 0 {
			fmt.Println("No sync activity recorded yet.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tOUTCOME\tOP\tTABLE\tRECORD\tDETAIL")
		for _, e := range entries {
			outcome := e.Outcome
			switch outcome {
			case store.HistoryOK:
				outcome = ui.RenderPass(outcome)
			case store.HistoryFailed:
				outcome = ui.RenderFail(outcome)
			case store.HistoryDropped:
				outcome = ui.RenderWarn(outcome)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				fmtAgo(e.At), outcome, e.Op, e.Table, shortID(e.RecordID), e.Detail)
		}
		w.Flush()
	},
}

// daemonPid reports the live daemon's pid, if one holds the lock.
func daemonPid(cfg *config.Config) (int, bool) {
	if !daemon.Alive(cfg.PidPath()) {
		return 0, false
	}
	pid, err := daemon.ReadPid(cfg.PidPath())
	if err != nil {
		return 0, false
	}
	return pid, true
}

func init() {
	syncRetryCmd.Flags().Bool("all", false, "Retry every failed record")
	syncHistoryCmd.Flags().IntP("limit", "n", 20, "Entries to show")

	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncErrorsCmd)
	syncCmd.AddCommand(syncRetryCmd)
	syncCmd.AddCommand(syncClearCmd)
	syncCmd.AddCommand(syncHistoryCmd)
	rootCmd.AddCommand(syncCmd)
}
