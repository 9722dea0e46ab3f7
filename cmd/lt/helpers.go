package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leitnerhq/leitner/internal/config"
	"github.com/leitnerhq/leitner/internal/remote"
	"github.com/leitnerhq/leitner/internal/schema"
	"github.com/leitnerhq/leitner/internal/store"
)

// currentOwner returns the signed-in owner id, or the local placeholder
// when there is no session. Records created under the placeholder are
// adopted by `lt login`.
func currentOwner(cfg *config.Config) string {
	creds, err := remote.FileSource{Path: cfg.SessionPath}.Load()
	if err != nil {
		return store.LocalOwner
	}
	return creds.OwnerID
}

// resolveDeck finds a deck by full id, unique id prefix, or
// case-insensitive name, so commands accept whatever a listing showed.
func resolveDeck(ctx context.Context, s *store.Store, ref string) (*schema.Deck, error) {
	deck, err := s.GetDeck(ctx, ref)
	if err == nil {
		return deck, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	decks, err := s.ListDecks(ctx)
	if err != nil {
		return nil, err
	}
	var matches []*schema.Deck
	for _, d := range decks {
		if strings.EqualFold(d.Name, ref) || strings.HasPrefix(d.ID, ref) {
			matches = append(matches, d)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no deck matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, d := range matches {
			ids[i] = d.ID
		}
		return nil, fmt.Errorf("deck %q is ambiguous, use an id: %s", ref, strings.Join(ids, ", "))
	}
}

// resolveCard finds a card by full id or unique id prefix.
func resolveCard(ctx context.Context, s *store.Store, ref string) (*schema.Card, error) {
	card, err := s.GetCard(ctx, ref)
	if err == nil {
		return card, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	cards, err := s.ListCards(ctx, store.CardFilter{})
	if err != nil {
		return nil, err
	}
	var matches []*schema.Card
	for _, c := range cards {
		if strings.HasPrefix(c.ID, ref) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no card matches %q", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("card id %q is ambiguous (%d matches)", ref, len(matches))
	}
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// fmtAgo renders a past timestamp as a rough age.
func fmtAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// shortID trims a uuid down to the prefix shown in listings. resolveDeck
// and resolveCard accept these prefixes back.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type retryTarget struct {
	Table    string
	RecordID string
	Detail   string
	At       time.Time
}

// failureTargets picks the records whose most recent history entry is a
// failure. Entries must be newest first, which is how the store returns
// them. Records that failed and later uploaded fine are not targets.
func failureTargets(entries []store.HistoryEntry) []retryTarget {
	seen := make(map[string]bool)
	var targets []retryTarget
	for _, e := range entries {
		key := e.Table + "/" + e.RecordID
		if seen[key] {
			continue
		}
		seen[key] = true
		if e.Outcome == store.HistoryOK {
			continue
		}
		targets = append(targets, retryTarget{
			Table:    e.Table,
			RecordID: e.RecordID,
			Detail:   e.Detail,
			At:       e.At,
		})
	}
	return targets
}
