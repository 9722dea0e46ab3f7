package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leitnerhq/leitner/internal/apkg"
	"github.com/leitnerhq/leitner/internal/media"
	"github.com/leitnerhq/leitner/internal/migrate"
	"github.com/leitnerhq/leitner/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "data",
	Short:   "Import an Anki package or a JSONL backup",
	Long: `Import cards from another system.

Anki packages (.apkg, .colpkg) bring their deck hierarchy, cards and media.
JSONL files are lt's own backup format, written by 'lt export'.

Imported records go through the normal write path, so they are queued for
upload and sync out like anything created by hand. The daemon also imports
packages automatically when they are dropped into the inbox directory.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		s := openStore(cmd, cfg)
		defer s.Close()
		ctx := cmd.Context()

		path := args[0]
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".apkg", ".colpkg":
			if dryRun {
				fatalf("--dry-run only applies to JSONL imports")
			}
			importer := &apkg.Importer{
				Store:   s,
				Media:   media.NewStore(cfg.MediaDir),
				OwnerID: currentOwner(cfg),
				Progress: func(p apkg.Phase) {
					if p != apkg.PhaseComplete {
						fmt.Printf("%s %s...\n", ui.RenderAccent("🔄"), p)
					}
				},
			}
			res, err := importer.Import(ctx, path)
			if err != nil {
				fatal(err)
			}
			fmt.Printf("%s Imported %d decks, %d cards, %d media files\n",
				ui.RenderPass("✓"), res.Decks, res.Cards, res.MediaFiles)
			if res.SkippedCards > 0 || res.SkippedMedia > 0 {
				fmt.Printf("  Skipped %d cards and %d media files\n", res.SkippedCards, res.SkippedMedia)
			}
			fmt.Println("  Run 'lt sync' to upload them.")

		case ".jsonl":
			res, err := migrate.ImportFile(ctx, s, path, migrate.Options{DryRun: dryRun})
			if err != nil {
				fatal(err)
			}
			verb := "Imported"
			if dryRun {
				verb = "Validated"
			}
			fmt.Printf("%s %s %d decks and %d cards\n", ui.RenderPass("✓"), verb, res.Decks, res.Cards)
			for _, line := range res.Errors {
				fmt.Printf("  %s %s\n", ui.RenderFail("✗"), line)
			}
			if res.Failed() {
				os.Exit(1)
			}

		default:
			fatalf("unsupported file type %q (expected .apkg or .jsonl)", ext)
		}
	},
}

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "data",
	Short:   "Write every deck and card as JSONL",
	Long: `Export the whole collection, one JSON object per line. Without a file
argument the export goes to stdout, so it pipes cleanly:

  lt export backup.jsonl
  lt export | gzip > backup.jsonl.gz`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		s := openStore(cmd, cfg)
		defer s.Close()
		ctx := cmd.Context()

		if len(args) == 0 || args[0] == "-" {
			if _, err := migrate.ExportJSONL(ctx, s, os.Stdout); err != nil {
				fatal(err)
			}
			return
		}

		res, err := migrate.ExportFile(ctx, s, args[0])
		if err != nil {
			fatal(err)
		}
		fmt.Printf("%s Exported %d decks and %d cards to %s\n",
			ui.RenderPass("✓"), res.Decks, res.Cards, args[0])
	},
}

func init() {
	importCmd.Flags().Bool("dry-run", false, "Validate a JSONL file without writing")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
}
