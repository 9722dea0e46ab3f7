package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leitnerhq/leitner/internal/config"
	"github.com/leitnerhq/leitner/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the data directory, database and a starter config",
	Long: `Initialize lt on this machine.

Creates the data directory (default ~/.leitner), opens the local database
and applies its schema, and writes a commented config file next to it.
Running init twice is safe: existing files are left alone.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		s := openStore(cmd, cfg)
		defer s.Close()

		cfgFile := configPath
		if cfgFile == "" {
			cfgFile = filepath.Join(cfg.DataDir, "config.yaml")
		}
		if _, err := os.Stat(cfgFile); err == nil {
			fmt.Printf("%s Config already present at %s\n", ui.RenderWarn("⚠"), cfgFile)
		} else if err := config.WriteDefault(cfgFile); err != nil {
			fatal(err)
		} else {
			fmt.Printf("%s Wrote config %s\n", ui.RenderPass("✓"), cfgFile)
		}

		fmt.Printf("%s Database ready at %s\n", ui.RenderPass("✓"), cfg.DBPath)
		fmt.Printf("\nData directory: %s\n", cfg.DataDir)
		fmt.Printf("Next: 'lt deck add' to create a deck, 'lt login' to connect a backend.\n")
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
