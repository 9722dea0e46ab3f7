package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/leitnerhq/leitner/internal/fsrs"
	"github.com/leitnerhq/leitner/internal/schema"
	"github.com/leitnerhq/leitner/internal/store"
	"github.com/leitnerhq/leitner/internal/ui"
)

var reviewCmd = &cobra.Command{
	Use:     "review [deck]",
	GroupID: "study",
	Short:   "Study the cards that are due",
	Long: `Run a review session over everything due right now, or just one deck.

Each card shows its front, waits, then reveals the back. Rate your answer:

  1  again   forgot it, see it again soon
  2  hard    recalled with effort
  3  good    recalled fine
  4  easy    too easy, wait much longer

Ratings feed the FSRS scheduler, which picks the next review date. Press q
to stop early; everything already rated stays recorded.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		s := openStore(cmd, cfg)
		defer s.Close()
		ctx := cmd.Context()

		limit, _ := cmd.Flags().GetInt("limit")

		deckID := ""
		deckName := "all decks"
		if len(args) > 0 {
			d, err := resolveDeck(ctx, s, args[0])
			if err != nil {
				fatal(err)
			}
			deckID = d.ID
			deckName = d.Name
		}

		now := time.Now()
		due, err := s.DueCards(ctx, now, deckID, limit)
		if err != nil {
			fatal(err)
		}
		if len(due) == 0 {
			printNothingDue(cmd, s, deckID)
			return
		}

		params, err := cfg.SchedulerParams()
		if err != nil {
			fatal(err)
		}
		sched := fsrs.New(params)

		runSession(cmd, s, sched, due, deckName)
	},
}

type sessionTally struct {
	reviewed int
	byRating [5]int
	skipped  int
}

func runSession(cmd *cobra.Command, s *store.Store, sched *fsrs.Scheduler, due []*schema.Card, deckName string) {
	ctx := cmd.Context()
	in := bufio.NewReader(os.Stdin)
	var tally sessionTally

	for i, card := range due {
		if ctx.Err() != nil {
			break
		}

		ui.ClearScreen(os.Stdout)
		fmt.Printf("%s  %s\n\n", ui.RenderBold(fmt.Sprintf("Card %d of %d", i+1, len(due))),
			ui.RenderMuted(deckName))
		fmt.Println(ui.CardBox.Render(card.Front))
		fmt.Printf("\n%s ", ui.RenderMuted("[enter] show answer · [s]kip · [q]uit"))

		action := readLine(in)
		if action == "q" {
			break
		}
		if action == "s" {
			tally.skipped++
			continue
		}

		fmt.Println(ui.CardBox.Render(card.Back))

		rating, quit := readRating(in)
		if quit {
			break
		}
		if rating == 0 {
			tally.skipped++
			continue
		}

		res, err := s.RecordReview(ctx, sched, card.ID, rating, time.Now())
		if err != nil {
			fatal(err)
		}
		tally.reviewed++
		tally.byRating[rating]++
		fmt.Printf("%s next review in %s\n", ui.RenderPass("✓"), intervalLabel(res.Interval))
		time.Sleep(400 * time.Millisecond)
	}

	ui.ClearScreen(os.Stdout)
	fmt.Printf("%s\n\n", ui.RenderBold("Session complete"))
	fmt.Printf("Reviewed: %d", tally.reviewed)
	if tally.skipped > 0 {
		fmt.Printf("  (skipped %d)", tally.skipped)
	}
	fmt.Println()
	if tally.reviewed > 0 {
		fmt.Printf("  again %d · hard %d · good %d · easy %d\n",
			tally.byRating[fsrs.Again], tally.byRating[fsrs.Hard],
			tally.byRating[fsrs.Good], tally.byRating[fsrs.Easy])
	}
}

// readRating prompts until it gets a rating, a skip, or a quit.
func readRating(in *bufio.Reader) (rating fsrs.Rating, quit bool) {
	for {
		fmt.Printf("\n%s ", ui.RenderMuted("rate: [1] again · [2] hard · [3] good · [4] easy · [s]kip · [q]uit"))
		switch answer := readLine(in); answer {
		case "q":
			return 0, true
		case "s":
			return 0, false
		case "1", "2", "3", "4":
			return fsrs.Rating(answer[0] - '0'), false
		}
	}
}

func readLine(in *bufio.Reader) string {
	line, err := in.ReadString('\n')
	if err != nil {
		return "q"
	}
	return strings.ToLower(strings.TrimSpace(line))
}

func intervalLabel(days int) string {
	if days <= 0 {
		return "under a day"
	}
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

func printNothingDue(cmd *cobra.Command, s *store.Store, deckID string) {
	ctx := cmd.Context()
	fmt.Printf("%s Nothing due right now.\n", ui.RenderPass("✓"))

	cards, err := s.ListCards(ctx, store.CardFilter{DeckID: deckID})
	if err != nil || len(cards) == 0 {
		return
	}
	var next *time.Time
	for _, c := range cards {
		at := c.Memory.NextReviewAt
		if at == nil {
			continue
		}
		if next == nil || at.Before(*next) {
			next = at
		}
	}
	if next != nil {
		fmt.Printf("  Next review: %s\n", fmtTime(*next))
	}
}

func init() {
	reviewCmd.Flags().IntP("limit", "n", 0, "Stop after this many cards")
	rootCmd.AddCommand(reviewCmd)
}
