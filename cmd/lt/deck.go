package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/leitnerhq/leitner/internal/deck"
	"github.com/leitnerhq/leitner/internal/schema"
	"github.com/leitnerhq/leitner/internal/store"
	"github.com/leitnerhq/leitner/internal/ui"
)

var deckCmd = &cobra.Command{
	Use:     "deck",
	GroupID: "study",
	Short:   "Create and organize decks",
	Long: `Manage the deck hierarchy.

Decks nest: give a deck a parent and it becomes a subdeck. Cards reference
their deck weakly, so deleting a deck leaves its cards unfiled rather than
deleting them.`,
}

var deckAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a deck",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		s := openStore(cmd, cfg)
		defer s.Close()
		ctx := cmd.Context()

		parentRef, _ := cmd.Flags().GetString("parent")
		description, _ := cmd.Flags().GetString("description")

		d := &schema.Deck{
			OwnerID:     currentOwner(cfg),
			Name:        args[0],
			Description: description,
		}
		if parentRef != "" {
			parent, err := resolveDeck(ctx, s, parentRef)
			if err != nil {
				fatal(err)
			}
			d.ParentID = &parent.ID
		}

		if err := s.CreateDeck(ctx, d); err != nil {
			fatal(err)
		}
		fmt.Printf("%s Created deck %q (%s)\n", ui.RenderPass("✓"), d.Name, ui.RenderMuted(d.ID))
	},
}

var deckListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all decks",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		s := openStore(cmd, cfg)
		defer s.Close()
		ctx := cmd.Context()

		decks, err := s.ListDecks(ctx)
		if err != nil {
			fatal(err)
		}
		if len(decks) == 0 {
			fmt.Println("No decks yet. Create one with 'lt deck add <name>'.")
			return
		}

		cards, err := s.ListCards(ctx, store.CardFilter{})
		if err != nil {
			fatal(err)
		}
		counts := make(map[string]int)
		for _, c := range cards {
			if c.DeckID != nil {
				counts[*c.DeckID]++
			}
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tCARDS\tCREATED\tID")
		for _, d := range decks {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", d.Name, counts[d.ID], fmtTime(d.CreatedAt), d.ID)
		}
		w.Flush()
	},
}

var deckTreeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Show the deck hierarchy with card counts",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		s := openStore(cmd, cfg)
		defer s.Close()
		ctx := cmd.Context()

		decks, err := s.ListDecks(ctx)
		if err != nil {
			fatal(err)
		}
		cards, err := s.ListCards(ctx, store.CardFilter{})
		if err != nil {
			fatal(err)
		}

		tree := deck.Build(decks, cards)
		if len(tree.Roots) == 0 && len(tree.Unfiled) == 0 {
			fmt.Println("No decks yet. Create one with 'lt deck add <name>'.")
			return
		}

		tree.Walk(func(n *deck.Node, depth int) {
			indent := strings.Repeat("  ", depth)
			count := fmt.Sprintf("%d cards", len(n.Cards))
			if total := n.TotalCards(); total != len(n.Cards) {
				count = fmt.Sprintf("%d cards, %d in subdecks", len(n.Cards), total-len(n.Cards))
			}
			fmt.Printf("%s%s  %s %s\n", indent, n.Deck.Name,
				ui.RenderMuted("("+count+")"), ui.RenderMuted(shortID(n.Deck.ID)))
		})
		if len(tree.Unfiled) > 0 {
			fmt.Printf("%s  %s\n", ui.RenderWarn("unfiled"),
				ui.RenderMuted(fmt.Sprintf("(%d cards)", len(tree.Unfiled))))
		}
	},
}

var deckRenameCmd = &cobra.Command{
	Use:   "rename <deck> <new-name>",
	Short: "Rename a deck",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		s := openStore(cmd, cfg)
		defer s.Close()
		ctx := cmd.Context()

		d, err := resolveDeck(ctx, s, args[0])
		if err != nil {
			fatal(err)
		}
		old := d.Name
		d.Name = args[1]
		if err := s.UpdateDeck(ctx, d); err != nil {
			fatal(err)
		}
		fmt.Printf("%s Renamed %q to %q\n", ui.RenderPass("✓"), old, d.Name)
	},
}

var deckRmCmd = &cobra.Command{
	Use:   "rm <deck>",
	Short: "Delete a deck",
	Long: `Delete a deck. Its cards are not deleted; they become unfiled and
show up under 'lt card list --unfiled'. Subdecks move to the top level.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		s := openStore(cmd, cfg)
		defer s.Close()
		ctx := cmd.Context()

		d, err := resolveDeck(ctx, s, args[0])
		if err != nil {
			fatal(err)
		}
		orphaned, err := s.ListCards(ctx, store.CardFilter{DeckID: d.ID})
		if err != nil {
			fatal(err)
		}
		if err := s.DeleteDeck(ctx, d.ID); err != nil {
			fatal(err)
		}
		fmt.Printf("%s Deleted deck %q\n", ui.RenderPass("✓"), d.Name)
		if len(orphaned) > 0 {
			fmt.Printf("  %d cards are now unfiled\n", len(orphaned))
		}
	},
}

func init() {
	deckAddCmd.Flags().StringP("parent", "p", "", "Parent deck (id or name)")
	deckAddCmd.Flags().StringP("description", "d", "", "Deck description")

	deckCmd.AddCommand(deckAddCmd)
	deckCmd.AddCommand(deckListCmd)
	deckCmd.AddCommand(deckTreeCmd)
	deckCmd.AddCommand(deckRenameCmd)
	deckCmd.AddCommand(deckRmCmd)
	rootCmd.AddCommand(deckCmd)
}
