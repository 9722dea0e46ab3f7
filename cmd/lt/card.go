package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/leitnerhq/leitner/internal/schema"
	"github.com/leitnerhq/leitner/internal/store"
	"github.com/leitnerhq/leitner/internal/ui"
)

var cardCmd = &cobra.Command{
	Use:     "card",
	GroupID: "study",
	Short:   "Create and manage cards",
}

var cardAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a card",
	Long: `Add a flashcard.

With --front and --back the card is created directly, which suits scripts:

  lt card add --front "casa" --back "house" --deck Spanish

Without them an interactive form opens.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		s := openStore(cmd, cfg)
		defer s.Close()
		ctx := cmd.Context()

		front, _ := cmd.Flags().GetString("front")
		back, _ := cmd.Flags().GetString("back")
		deckRef, _ := cmd.Flags().GetString("deck")

		var deckID *string
		if deckRef != "" {
			d, err := resolveDeck(ctx, s, deckRef)
			if err != nil {
				fatal(err)
			}
			deckID = &d.ID
		}

		if front == "" {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				fatalf("--front is required when not running interactively")
			}
			var err error
			front, back, deckID, err = cardForm(cmd, s, deckID)
			if errors.Is(err, huh.ErrUserAborted) {
				return
			}
			if err != nil {
				fatal(err)
			}
		}

		card := &schema.Card{
			OwnerID: currentOwner(cfg),
			DeckID:  deckID,
			Front:   front,
			Back:    back,
		}
		if err := s.CreateCard(ctx, card); err != nil {
			fatal(err)
		}
		fmt.Printf("%s Added card %s\n", ui.RenderPass("✓"), ui.RenderMuted(card.ID))
	},
}

// cardForm collects a card interactively. A preselected deck id (from
// --deck) skips the deck picker.
func cardForm(cmd *cobra.Command, s *store.Store, preselected *string) (front, back string, deckID *string, err error) {
	fields := []huh.Field{
		huh.NewText().Title("Front").Description("The prompt side").Value(&front).
			Validate(func(v string) error {
				if strings.TrimSpace(v) == "" {
					return fmt.Errorf("front must not be empty")
				}
				return nil
			}),
		huh.NewText().Title("Back").Description("The answer side").Value(&back),
	}

	var picked string
	if preselected == nil {
		decks, derr := s.ListDecks(cmd.Context())
		if derr != nil {
			return "", "", nil, derr
		}
		if len(decks) > 0 {
			options := []huh.Option[string]{huh.NewOption("(unfiled)", "")}
			for _, d := range decks {
				options = append(options, huh.NewOption(d.Name, d.ID))
			}
			fields = append(fields, huh.NewSelect[string]().Title("Deck").Options(options...).Value(&picked))
		}
	}

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return "", "", nil, err
	}

	deckID = preselected
	if deckID == nil && picked != "" {
		deckID = &picked
	}
	return front, back, deckID, nil
}

var cardListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cards",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		s := openStore(cmd, cfg)
		defer s.Close()
		ctx := cmd.Context()

		deckRef, _ := cmd.Flags().GetString("deck")
		unfiled, _ := cmd.Flags().GetBool("unfiled")
		state, _ := cmd.Flags().GetString("state")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.CardFilter{Unfiled: unfiled, Limit: limit}
		if state != "" {
			ls := schema.LearningState(state)
			if !ls.Valid() {
				fatalf("unknown state %q (new, learning, review, relearning)", state)
			}
			filter.State = ls
		}

		deckNames := make(map[string]string)
		if deckRef != "" {
			d, err := resolveDeck(ctx, s, deckRef)
			if err != nil {
				fatal(err)
			}
			filter.DeckID = d.ID
			deckNames[d.ID] = d.Name
		} else {
			decks, err := s.ListDecks(ctx)
			if err != nil {
				fatal(err)
			}
			for _, d := range decks {
				deckNames[d.ID] = d.Name
			}
		}

		cards, err := s.ListCards(ctx, filter)
		if err != nil {
			fatal(err)
		}
		if len(cards) == 0 {
			fmt.Println("No cards match.")
			return
		}

		now := time.Now()
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FRONT\tSTATE\tDUE\tDECK\tID")
		for _, c := range cards {
			deckName := "-"
			if c.DeckID != nil {
				if name, ok := deckNames[*c.DeckID]; ok {
					deckName = name
				} else {
					deckName = "(missing)"
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				truncate(oneLine(c.Front), 40), c.Memory.LearningState,
				dueLabel(c, now), deckName, shortID(c.ID))
		}
		w.Flush()
	},
}

var cardShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one card in full",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		s := openStore(cmd, cfg)
		defer s.Close()
		ctx := cmd.Context()

		c, err := resolveCard(ctx, s, args[0])
		if err != nil {
			fatal(err)
		}

		fmt.Println(ui.CardBox.Render(c.Front))
		fmt.Println(ui.CardBox.Render(c.Back))
		fmt.Println()

		deckName := "(unfiled)"
		if c.DeckID != nil {
			if d, derr := s.GetDeck(ctx, *c.DeckID); derr == nil {
				deckName = d.Name
			} else {
				deckName = "(missing deck)"
			}
		}

		accuracy := "-"
		if c.TotalReviews > 0 {
			accuracy = fmt.Sprintf("%.0f%%", float64(c.CorrectReviews)/float64(c.TotalReviews)*100)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "Deck:\t%s\n", deckName)
		fmt.Fprintf(w, "State:\t%s\n", c.Memory.LearningState)
		fmt.Fprintf(w, "Due:\t%s\n", dueLabel(c, time.Now()))
		fmt.Fprintf(w, "Reviews:\t%d (%s correct)\n", c.TotalReviews, accuracy)
		fmt.Fprintf(w, "Lapses:\t%d\n", c.Memory.Lapses)
		if c.Memory.Stability > 0 {
			fmt.Fprintf(w, "Stability:\t%.1f days\n", c.Memory.Stability)
			fmt.Fprintf(w, "Difficulty:\t%.1f\n", c.Memory.Difficulty)
		}
		fmt.Fprintf(w, "Created:\t%s\n", fmtTime(c.CreatedAt))
		fmt.Fprintf(w, "ID:\t%s\n", c.ID)
		w.Flush()
	},
}

var cardRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a card",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		s := openStore(cmd, cfg)
		defer s.Close()
		ctx := cmd.Context()

		c, err := resolveCard(ctx, s, args[0])
		if err != nil {
			fatal(err)
		}
		if err := s.DeleteCard(ctx, c.ID); err != nil {
			fatal(err)
		}
		fmt.Printf("%s Deleted card %q\n", ui.RenderPass("✓"), truncate(oneLine(c.Front), 40))
	},
}

var cardPostponeCmd = &cobra.Command{
	Use:   "postpone <id> <when>",
	Short: "Push a card's next review to a later date",
	Long: `Reschedule a card using natural language:

  lt card postpone 3f2a91c8 tomorrow
  lt card postpone 3f2a91c8 "next friday"
  lt card postpone 3f2a91c8 in 3 days`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		s := openStore(cmd, cfg)
		defer s.Close()
		ctx := cmd.Context()

		c, err := resolveCard(ctx, s, args[0])
		if err != nil {
			fatal(err)
		}

		phrase := strings.Join(args[1:], " ")
		due, err := parseWhen(phrase, time.Now())
		if err != nil {
			fatal(err)
		}

		patch := schema.Row{"next_review_at": schema.Millis(due.UTC())}
		if err := s.PatchCard(ctx, c.ID, patch); err != nil {
			fatal(err)
		}
		fmt.Printf("%s Next review of %q: %s\n", ui.RenderPass("✓"),
			truncate(oneLine(c.Front), 40), fmtTime(due))
	},
}

// parseWhen turns a natural-language phrase into a future timestamp.
func parseWhen(phrase string, now time.Time) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(phrase, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %q: %w", phrase, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand %q (try \"tomorrow\" or \"in 3 days\")", phrase)
	}
	if !r.Time.After(now) {
		return time.Time{}, fmt.Errorf("%q resolves to %s, which is not in the future", phrase, fmtTime(r.Time))
	}
	return r.Time, nil
}

func dueLabel(c *schema.Card, now time.Time) string {
	if c.Memory.NextReviewAt == nil {
		return "new"
	}
	if c.Due(now) {
		return "due"
	}
	return fmtTime(*c.Memory.NextReviewAt)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	cardAddCmd.Flags().String("front", "", "Front (prompt) text")
	cardAddCmd.Flags().String("back", "", "Back (answer) text")
	cardAddCmd.Flags().StringP("deck", "d", "", "Deck (id or name)")

	cardListCmd.Flags().StringP("deck", "d", "", "Only cards in this deck (id or name)")
	cardListCmd.Flags().Bool("unfiled", false, "Only cards without a deck")
	cardListCmd.Flags().String("state", "", "Only cards in this learning state")
	cardListCmd.Flags().IntP("limit", "n", 0, "Stop after this many cards")

	cardCmd.AddCommand(cardAddCmd)
	cardCmd.AddCommand(cardListCmd)
	cardCmd.AddCommand(cardShowCmd)
	cardCmd.AddCommand(cardRmCmd)
	cardCmd.AddCommand(cardPostponeCmd)
	rootCmd.AddCommand(cardCmd)
}
