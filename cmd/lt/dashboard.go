package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/leitnerhq/leitner/internal/apkg"
	"github.com/leitnerhq/leitner/internal/daemon"
	"github.com/leitnerhq/leitner/internal/dashboard"
	"github.com/leitnerhq/leitner/internal/media"
	"github.com/leitnerhq/leitner/internal/ui"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "sync",
	Short:   "Run the sync daemon with a live web dashboard",
	Long: `Run the full sync daemon and serve a local dashboard on top of it.

The dashboard shows sync phase transitions as they happen, the error queue,
and deck/card/due counts. Routes:

  /            landing page
  /api/status  one JSON snapshot
  /ws          WebSocket stream of status frames
  /health      liveness check

This takes the daemon's place: it holds the same lock, syncs on the same
schedule and watches the same inbox. Stop the plain daemon first.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.DashboardAddr
		}

		pidfile, err := daemon.AcquirePidfile(cfg.PidPath())
		if err != nil {
			fatal(err)
		}
		defer pidfile.Release()

		s := openStore(cmd, cfg)
		defer s.Close()

		logger := log.New(os.Stderr, "[lt] ", log.LstdFlags)
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

		server, err := dashboard.NewServer(s, engine, &dashboard.Config{
			Addr:   addr,
			Logger: logger,
		})
		if err != nil {
			fatal(err)
		}
		if err := server.Start(); err != nil {
			fatalf("failed to start dashboard: %v", err)
		}

		fmt.Printf("%s Dashboard on http://%s\n", ui.RenderAccent("📊"), server.Addr())
		fmt.Printf("  WebSocket: ws://%s/ws\n", server.Addr())
		fmt.Println("\nPress Ctrl+C to stop...")

		daemonErr := make(chan error, 1)
		go func() { daemonErr <- d.Start(cmd.Context()) }()

		err = <-daemonErr
		if serr := server.Stop(); serr != nil {
			fmt.Fprintf(os.Stderr, "Error during dashboard shutdown: %v\n", serr)
		}
		if err != nil {
			fatalf("daemon stopped with error: %v", err)
		}
		fmt.Println("Stopped.")
	},
}

func init() {
	dashboardCmd.Flags().String("addr", "", "Listen address (default from config, 127.0.0.1:7373)")
	rootCmd.AddCommand(dashboardCmd)
}
