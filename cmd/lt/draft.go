package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/leitnerhq/leitner/internal/assist"
	"github.com/leitnerhq/leitner/internal/schema"
	"github.com/leitnerhq/leitner/internal/ui"
)

var draftCmd = &cobra.Command{
	Use:     "draft [notes-file]",
	GroupID: "data",
	Short:   "Draft cards from notes with Claude",
	Long: `Turn free-form notes into flashcard drafts.

Notes come from a file argument or stdin. The drafts are previewed and
nothing is saved without confirmation (or --yes). Requires the
ANTHROPIC_API_KEY environment variable.

  lt draft lecture-notes.txt --deck Biology --count 8
  pbpaste | lt draft --yes --deck Inbox`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		ctx := cmd.Context()

		count, _ := cmd.Flags().GetInt("count")
		deckRef, _ := cmd.Flags().GetString("deck")
		model, _ := cmd.Flags().GetString("model")
		yes, _ := cmd.Flags().GetBool("yes")

		var notes []byte
		var err error
		if len(args) == 1 {
			notes, err = os.ReadFile(args[0])
		} else {
			if term.IsTerminal(int(os.Stdin.Fd())) {
				fatalf("pass a notes file or pipe notes on stdin")
			}
			notes, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			fatalf("failed to read notes: %v", err)
		}

		s := openStore(cmd, cfg)
		defer s.Close()

		var deckID *string
		if deckRef != "" {
			d, err := resolveDeck(ctx, s, deckRef)
			if err != nil {
				fatal(err)
			}
			deckID = &d.ID
		}

		drafter := assist.NewDrafter(&assist.Config{
			Model:  model,
			Logger: log.New(io.Discard, "", 0),
		})

		fmt.Printf("%s Drafting up to %d cards...\n", ui.RenderAccent("🔄"), count)
		drafts, err := drafter.Draft(ctx, string(notes), count)
		if err != nil {
			fatal(err)
		}

		for i, d := range drafts {
			fmt.Printf("\n%s\n", ui.RenderBold(fmt.Sprintf("Draft %d", i+1)))
			fmt.Printf("  Q: %s\n", d.Front)
			fmt.Printf("  A: %s\n", d.Back)
		}
		fmt.Println()

		if !yes {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				fmt.Println("Nothing saved. Re-run with --yes to keep these drafts.")
				return
			}
			var save bool
			err := huh.NewConfirm().
				Title(fmt.Sprintf("Save %d cards?", len(drafts))).
				Value(&save).Run()
			if errors.Is(err, huh.ErrUserAborted) || err == nil && !save {
				fmt.Println("Nothing saved.")
				return
			}
			if err != nil {
				fatal(err)
			}
		}

		owner := currentOwner(cfg)
		for _, d := range drafts {
			card := &schema.Card{
				OwnerID: owner,
				DeckID:  deckID,
				Front:   d.Front,
				Back:    d.Back,
			}
			if err := s.CreateCard(ctx, card); err != nil {
				fatal(err)
			}
		}
		fmt.Printf("%s Saved %d cards\n", ui.RenderPass("✓"), len(drafts))
	},
}

func init() {
	draftCmd.Flags().IntP("count", "n", 5, "Cards to draft")
	draftCmd.Flags().StringP("deck", "d", "", "File the cards into this deck (id or name)")
	draftCmd.Flags().String("model", "", "Claude model override")
	draftCmd.Flags().Bool("yes", false, "Save without confirming")

	rootCmd.AddCommand(draftCmd)
}
