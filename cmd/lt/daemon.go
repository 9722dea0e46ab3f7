package main

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/leitnerhq/leitner/internal/apkg"
	"github.com/leitnerhq/leitner/internal/config"
	"github.com/leitnerhq/leitner/internal/daemon"
	"github.com/leitnerhq/leitner/internal/media"
	"github.com/leitnerhq/leitner/internal/netmon"
	"github.com/leitnerhq/leitner/internal/remote"
	"github.com/leitnerhq/leitner/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Keep everything synced in the background",
	Long: `The daemon syncs on a schedule, retries failed uploads when the network
comes back, and imports any .apkg file dropped into the inbox directory.

Only one daemon runs per data directory; a lock file enforces that.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		if pid, ok := daemonPid(cfg); ok {
			fatalf("daemon already running (pid %d)", pid)
		}

		exe, err := os.Executable()
		if err != nil {
			fatalf("failed to locate executable: %v", err)
		}
		childArgs := []string{"daemon", "run", "--log-file"}
		if configPath != "" {
			childArgs = append(childArgs, "--config", configPath)
		}

		child := exec.Command(exe, childArgs...)
		child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
		if err := child.Start(); err != nil {
			fatalf("failed to start daemon: %v", err)
		}

		// The child acquires the lock once it is up; poll briefly so a
		// startup failure is reported here instead of silently logged.
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			if daemon.Alive(cfg.PidPath()) {
				fmt.Printf("%s Daemon started (pid %d)\n", ui.RenderPass("✓"), child.Process.Pid)
				fmt.Printf("  Logs: %s\n", cfg.LogFile)
				fmt.Printf("  Inbox: %s\n", cfg.InboxDir)
				return
			}
			time.Sleep(100 * time.Millisecond)
		}
		fatalf("daemon did not come up; check %s", cfg.LogFile)
	},
}

var daemonRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	Long: `Run the daemon in this terminal. Useful for debugging; 'lt daemon start'
runs the same loop detached.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		toFile, _ := cmd.Flags().GetBool("log-file")

		pidfile, err := daemon.AcquirePidfile(cfg.PidPath())
		if err != nil {
			fatal(err)
		}
		defer pidfile.Release()

		s := openStore(cmd, cfg)
		defer s.Close()

		logPath := ""
		if toFile {
			logPath = cfg.LogFile
		}
		logger := daemon.NewLogger(logPath)

		engine := buildEngine(cfg, s, logger)
		defer engine.Close()

		importer := &apkg.Importer{
			Store:   s,
			Media:   media.NewStore(cfg.MediaDir),
			OwnerID: currentOwner(cfg),
			Logger:  logger,
		}

		d, err := daemon.New(engine, importer, buildMonitor(cfg, logger), cfg.InboxDir, &daemon.Config{
			SyncInterval: cfg.SyncInterval,
			Logger:       logger,
		})
		if err != nil {
			fatal(err)
		}

		if !toFile {
			fmt.Printf("%s Daemon running (pid %d). Press Ctrl+C to stop.\n",
				ui.RenderAccent("🚀"), os.Getpid())
		}
		if err := d.Start(cmd.Context()); err != nil {
			fatalf("daemon stopped with error: %v", err)
		}
	},
}

// buildMonitor wires a reachability probe against the session endpoint,
// falling back to the configured one. Without either there is nothing to
// probe and the daemon relies on its ticker alone.
func buildMonitor(cfg *config.Config, logger *log.Logger) *netmon.Monitor {
	endpoint := cfg.Endpoint
	if creds, err := (remote.FileSource{Path: cfg.SessionPath}).Load(); err == nil {
		endpoint = creds.URL
	}
	if endpoint == "" {
		return nil
	}
	return &netmon.Monitor{
		Probe:  netmon.EndpointProbe(endpoint),
		Logger: logger,
	}
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		pid, ok := daemonPid(cfg)
		if !ok {
			fmt.Println("Daemon is not running.")
			return
		}

		if err := unix.Kill(pid, unix.SIGTERM); err != nil {
			fatalf("failed to signal daemon (pid %d): %v", pid, err)
		}

		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if !daemon.Alive(cfg.PidPath()) {
				fmt.Printf("%s Daemon stopped\n", ui.RenderPass("✓"))
				return
			}
			time.Sleep(100 * time.Millisecond)
		}
		fatalf("daemon (pid %d) did not stop within 5s", pid)
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the daemon is running",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		if pid, ok := daemonPid(cfg); ok {
			fmt.Printf("%s Daemon running (pid %d)\n", ui.RenderPass("✓"), pid)
			fmt.Printf("  Sync interval: %s\n", cfg.SyncInterval)
			fmt.Printf("  Inbox: %s\n", cfg.InboxDir)
			fmt.Printf("  Logs: %s\n", cfg.LogFile)
			return
		}
		fmt.Println("Daemon is not running. Start it with 'lt daemon start'.")
	},
}

func init() {
	daemonRunCmd.Flags().Bool("log-file", false, "Log to the rotated log file instead of stderr")

	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonRunCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}
