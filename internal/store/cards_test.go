package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leitnerhq/leitner/internal/fsrs"
	"github.com/leitnerhq/leitner/internal/schema"
)

func TestCreateCard_RoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	deck := testDeck("Spanish")
	if err := s.CreateDeck(ctx, deck); err != nil {
		t.Fatalf("CreateDeck failed: %v", err)
	}

	card := testCard("hola")
	card.DeckID = &deck.ID
	if err := s.CreateCard(ctx, card); err != nil {
		t.Fatalf("CreateCard failed: %v", err)
	}
	if card.ID == "" {
		t.Fatal("CreateCard should assign an id")
	}

	got, err := s.GetCard(ctx, card.ID)
	if err != nil {
		t.Fatalf("GetCard failed: %v", err)
	}
	if got.Front != "hola" || got.Back != "back of hola" {
		t.Errorf("content round trip: got %q / %q", got.Front, got.Back)
	}
	if got.DeckID == nil || *got.DeckID != deck.ID {
		t.Errorf("deck reference round trip: got %v", got.DeckID)
	}
	if got.Memory.LearningState != schema.StateNew {
		t.Errorf("expected new card state, got %s", got.Memory.LearningState)
	}
	if got.Memory.NextReviewAt != nil || got.Memory.LastReviewAt != nil {
		t.Error("new card should have no review timestamps")
	}
	if got.CreatedAt.UnixMilli() != card.CreatedAt.UnixMilli() {
		t.Errorf("created_at round trip: got %v, want %v", got.CreatedAt, card.CreatedAt)
	}
}

func TestUpdateDeck_StampsModifiedAt(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	deck := testDeck("History")
	if err := s.CreateDeck(ctx, deck); err != nil {
		t.Fatalf("CreateDeck failed: %v", err)
	}
	created := deck.ModifiedAt

	time.Sleep(5 * time.Millisecond)
	deck.Name = "World History"
	if err := s.UpdateDeck(ctx, deck); err != nil {
		t.Fatalf("UpdateDeck failed: %v", err)
	}

	got, err := s.GetDeck(ctx, deck.ID)
	if err != nil {
		t.Fatalf("GetDeck failed: %v", err)
	}
	if got.Name != "World History" {
		t.Errorf("expected renamed deck, got %q", got.Name)
	}
	if !got.ModifiedAt.After(created) {
		t.Errorf("modified_at not advanced: %v vs %v", got.ModifiedAt, created)
	}
}

func TestUpdateDeck_RejectsCycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	root := testDeck("Languages")
	if err := s.CreateDeck(ctx, root); err != nil {
		t.Fatalf("CreateDeck failed: %v", err)
	}
	mid := testDeck("Romance")
	mid.ParentID = &root.ID
	if err := s.CreateDeck(ctx, mid); err != nil {
		t.Fatalf("CreateDeck failed: %v", err)
	}
	leaf := testDeck("Spanish")
	leaf.ParentID = &mid.ID
	if err := s.CreateDeck(ctx, leaf); err != nil {
		t.Fatalf("CreateDeck failed: %v", err)
	}

	// Moving the root under its own grandchild would close a loop.
	root.ParentID = &leaf.ID
	if err := s.UpdateDeck(ctx, root); err == nil {
		t.Fatal("expected cycle rejection")
	}

	// A legal re-parent within the same tree still works.
	leaf.ParentID = &root.ID
	if err := s.UpdateDeck(ctx, leaf); err != nil {
		t.Fatalf("UpdateDeck failed: %v", err)
	}
}

func TestCreateDeck_CycleThroughDanglingParent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// An orphan whose parent has not synced down yet is legal.
	missing := "deck-not-yet-synced"
	orphan := testDeck("Orphan")
	orphan.ParentID = &missing
	if err := s.CreateDeck(ctx, orphan); err != nil {
		t.Fatalf("CreateDeck failed: %v", err)
	}

	// Creating that missing parent under the orphan would close a loop.
	parent := testDeck("Arrives Late")
	parent.ID = missing
	parent.ParentID = &orphan.ID
	if err := s.CreateDeck(ctx, parent); err == nil {
		t.Fatal("expected cycle rejection")
	}

	// Created as a root it slots in and the orphan reattaches.
	parent.ParentID = nil
	if err := s.CreateDeck(ctx, parent); err != nil {
		t.Fatalf("CreateDeck failed: %v", err)
	}
}

func TestListCards_Filters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	deck := testDeck("Filed")
	if err := s.CreateDeck(ctx, deck); err != nil {
		t.Fatalf("CreateDeck failed: %v", err)
	}

	filed := testCard("filed")
	filed.DeckID = &deck.ID
	loose := testCard("loose")
	dangling := testCard("dangling")
	gone := "deck-that-never-synced"
	dangling.DeckID = &gone

	for _, c := range []*schema.Card{filed, loose, dangling} {
		if err := s.CreateCard(ctx, c); err != nil {
			t.Fatalf("CreateCard failed: %v", err)
		}
	}

	inDeck, err := s.ListCards(ctx, CardFilter{DeckID: deck.ID})
	if err != nil {
		t.Fatalf("ListCards failed: %v", err)
	}
	if len(inDeck) != 1 || inDeck[0].Front != "filed" {
		t.Errorf("deck filter: got %d cards", len(inDeck))
	}

	unfiled, err := s.ListCards(ctx, CardFilter{Unfiled: true})
	if err != nil {
		t.Fatalf("ListCards failed: %v", err)
	}
	if len(unfiled) != 2 {
		t.Fatalf("unfiled filter: expected loose and dangling, got %d cards", len(unfiled))
	}
	fronts := map[string]bool{}
	for _, c := range unfiled {
		fronts[c.Front] = true
	}
	if !fronts["loose"] || !fronts["dangling"] {
		t.Errorf("unfiled filter matched wrong cards: %v", fronts)
	}
}

func TestDeleteDeck_CardsBecomeUnfiled(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	deck := testDeck("Doomed")
	if err := s.CreateDeck(ctx, deck); err != nil {
		t.Fatalf("CreateDeck failed: %v", err)
	}
	card := testCard("survivor")
	card.DeckID = &deck.ID
	if err := s.CreateCard(ctx, card); err != nil {
		t.Fatalf("CreateCard failed: %v", err)
	}

	if err := s.DeleteDeck(ctx, deck.ID); err != nil {
		t.Fatalf("DeleteDeck failed: %v", err)
	}
	if _, err := s.GetDeck(ctx, deck.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deck gone, got %v", err)
	}

	// The card survives with its dangling reference intact.
	got, err := s.GetCard(ctx, card.ID)
	if err != nil {
		t.Fatalf("GetCard failed: %v", err)
	}
	if got.DeckID == nil || *got.DeckID != deck.ID {
		t.Errorf("expected dangling deck reference to survive, got %v", got.DeckID)
	}

	unfiled, err := s.ListCards(ctx, CardFilter{Unfiled: true})
	if err != nil {
		t.Fatalf("ListCards failed: %v", err)
	}
	if len(unfiled) != 1 || unfiled[0].ID != card.ID {
		t.Errorf("expected card in unfiled bucket, got %d cards", len(unfiled))
	}
}

func TestDueCards_Ordering(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	overdue := testCard("overdue")
	soon := testCard("soon")
	future := testCard("future")
	fresh := testCard("fresh")

	past := now.Add(-24 * time.Hour)
	nearly := now.Add(-1 * time.Hour)
	later := now.Add(24 * time.Hour)
	overdue.Memory.NextReviewAt = &past
	soon.Memory.NextReviewAt = &nearly
	future.Memory.NextReviewAt = &later

	for _, c := range []*schema.Card{future, soon, fresh, overdue} {
		if err := s.CreateCard(ctx, c); err != nil {
			t.Fatalf("CreateCard failed: %v", err)
		}
	}

	due, err := s.DueCards(ctx, now, "", 0)
	if err != nil {
		t.Fatalf("DueCards failed: %v", err)
	}
	if len(due) != 3 {
		t.Fatalf("expected 3 due cards, got %d", len(due))
	}
	// Never-scheduled first, then by due time.
	if due[0].Front != "fresh" || due[1].Front != "overdue" || due[2].Front != "soon" {
		t.Errorf("unexpected due order: %s, %s, %s", due[0].Front, due[1].Front, due[2].Front)
	}

	count, err := s.CountDue(ctx, now)
	if err != nil {
		t.Fatalf("CountDue failed: %v", err)
	}
	if count != 3 {
		t.Errorf("CountDue = %d, want 3", count)
	}
}

func TestRecordReview_FirstReview(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	sched := fsrs.New(fsrs.DefaultParams())
	now := time.Now().UTC()

	card := testCard("first")
	if err := s.CreateCard(ctx, card); err != nil {
		t.Fatalf("CreateCard failed: %v", err)
	}

	res, err := s.RecordReview(ctx, sched, card.ID, fsrs.Good, now)
	if err != nil {
		t.Fatalf("RecordReview failed: %v", err)
	}
	if res.Interval < 1 {
		t.Errorf("expected at least a one-day interval, got %d", res.Interval)
	}

	got := res.Card
	if got.Memory.LearningState != schema.StateLearning {
		t.Errorf("expected learning state after first Good, got %s", got.Memory.LearningState)
	}
	if got.Memory.Stability <= 0 || got.Memory.Difficulty < 1 {
		t.Errorf("memory state not initialized: %+v", got.Memory)
	}
	if got.TotalReviews != 1 || got.CorrectReviews != 1 {
		t.Errorf("counters: total=%d correct=%d, want 1/1", got.TotalReviews, got.CorrectReviews)
	}
	if got.Memory.LastReviewAt == nil || got.Memory.LastReviewAt.UnixMilli() != now.UnixMilli() {
		t.Errorf("last_review_at not stamped: %v", got.Memory.LastReviewAt)
	}
	wantDue := now.AddDate(0, 0, res.Interval)
	if got.Memory.NextReviewAt == nil || got.Memory.NextReviewAt.UnixMilli() != wantDue.UnixMilli() {
		t.Errorf("next_review_at: got %v, want %v", got.Memory.NextReviewAt, wantDue)
	}

	// The review is durable and queued for upload (create + review).
	count, err := s.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 pending operations, got %d", count)
	}
}

func TestRecordReview_LapseFromReviewState(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	sched := fsrs.New(fsrs.DefaultParams())
	now := time.Now().UTC()

	// Seed a mature card as if it had been pulled from the remote.
	card := testCard("mature")
	card.SetDefaults()
	lastReview := now.Add(-10 * 24 * time.Hour)
	card.Memory = schema.MemoryState{
		Stability:     12,
		Difficulty:    5,
		LearningState: schema.StateReview,
		NextReviewAt:  &now,
		LastReviewAt:  &lastReview,
	}
	card.TotalReviews = 8
	card.CorrectReviews = 7
	if err := s.ApplyRemote(ctx, schema.TableCards, card.Row()); err != nil {
		t.Fatalf("ApplyRemote failed: %v", err)
	}

	res, err := s.RecordReview(ctx, sched, card.ID, fsrs.Again, now)
	if err != nil {
		t.Fatalf("RecordReview failed: %v", err)
	}

	got := res.Card
	if got.Memory.LearningState != schema.StateRelearning {
		t.Errorf("expected relearning after lapse, got %s", got.Memory.LearningState)
	}
	if got.Memory.Lapses != 1 {
		t.Errorf("expected 1 lapse, got %d", got.Memory.Lapses)
	}
	if got.Memory.Stability >= 12 {
		t.Errorf("lapse should reduce stability, got %v", got.Memory.Stability)
	}
	if got.TotalReviews != 9 || got.CorrectReviews != 7 {
		t.Errorf("counters: total=%d correct=%d, want 9/7", got.TotalReviews, got.CorrectReviews)
	}
}

func TestRecordReview_HardCountsAsCorrect(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	sched := fsrs.New(fsrs.DefaultParams())

	card := testCard("hard")
	if err := s.CreateCard(ctx, card); err != nil {
		t.Fatalf("CreateCard failed: %v", err)
	}

	res, err := s.RecordReview(ctx, sched, card.ID, fsrs.Hard, time.Now().UTC())
	if err != nil {
		t.Fatalf("RecordReview failed: %v", err)
	}
	if res.Card.CorrectReviews != 1 {
		t.Errorf("Hard should count as correct, got %d", res.Card.CorrectReviews)
	}
	if res.Card.Memory.LearningState != schema.StateLearning {
		t.Errorf("expected learning state, got %s", res.Card.Memory.LearningState)
	}
}

func TestRecordReview_InvalidRating(t *testing.T) {
	s := setupTestStore(t)
	sched := fsrs.New(fsrs.DefaultParams())

	if _, err := s.RecordReview(context.Background(), sched, "whatever", fsrs.Rating(9), time.Now()); err == nil {
		t.Error("expected error for invalid rating")
	}
}
