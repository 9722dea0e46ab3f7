// Package migrate moves study data in and out of the local store as JSONL.
//
// The format is one JSON object per line with a kind discriminator, decks
// before cards so a restored file never imports a card ahead of its deck.
// Imports write through the store, so restored records enter the mutation
// log and upload on the next sync like any local edit.
package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/leitnerhq/leitner/internal/schema"
	"github.com/leitnerhq/leitner/internal/store"
)

// line is the wire shape of one JSONL record.
type line struct {
	Kind string       `json:"kind"`
	Deck *schema.Deck `json:"deck,omitempty"`
	Card *schema.Card `json:"card,omitempty"`
}

// Options configures an import run.
type Options struct {
	// DryRun parses and validates without writing anything.
	DryRun bool
}

// Result summarizes one export or import run.
type Result struct {
	Decks  int
	Cards  int
	Errors []string
}

// Failed reports whether any line was rejected.
func (r *Result) Failed() bool {
	return len(r.Errors) > 0
}

// ExportJSONL streams every deck and card to w.
func ExportJSONL(ctx context.Context, s *store.Store, w io.Writer) (*Result, error) {
	result := &Result{}
	enc := json.NewEncoder(w)

	decks, err := s.ListDecks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list decks: %w", err)
	}
	for _, d := range decks {
		if err := enc.Encode(line{Kind: "deck", Deck: d}); err != nil {
			return nil, fmt.Errorf("failed to write deck %s: %w", d.ID, err)
		}
		result.Decks++
	}

	cards, err := s.ListCards(ctx, store.CardFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	for _, c := range cards {
		if err := enc.Encode(line{Kind: "card", Card: c}); err != nil {
			return nil, fmt.Errorf("failed to write card %s: %w", c.ID, err)
		}
		result.Cards++
	}

	return result, nil
}

// ExportFile writes the JSONL backup atomically via a temp file and rename.
func ExportFile(ctx context.Context, s *store.Store, path string) (*Result, error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("failed to create export file: %w", err)
	}

	result, err := ExportJSONL(ctx, s, f)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to finish export file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to replace export file: %w", err)
	}
	return result, nil
}

// ImportJSONL reads records from r and writes them through the store.
//
// Bad lines are collected in Result.Errors rather than aborting the run;
// a torn backup still restores everything readable.
func ImportJSONL(ctx context.Context, s *store.Store, r io.Reader, opts Options) (*Result, error) {
	result := &Result{}
	dec := json.NewDecoder(r)

	for lineNum := 1; ; lineNum++ {
		var rec line
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// The decoder cannot resync after malformed input, so this
			// one is fatal for the rest of the stream.
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", lineNum, err))
			return result, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}

		switch rec.Kind {
		case "deck":
			if rec.Deck == nil {
				result.Errors = append(result.Errors, fmt.Sprintf("line %d: deck record without deck body", lineNum))
				continue
			}
			rec.Deck.SetDefaults()
			if err := rec.Deck.Validate(); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", lineNum, err))
				continue
			}
			if !opts.DryRun {
				if err := s.CreateDeck(ctx, rec.Deck); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", lineNum, err))
					continue
				}
			}
			result.Decks++

		case "card":
			if rec.Card == nil {
				result.Errors = append(result.Errors, fmt.Sprintf("line %d: card record without card body", lineNum))
				continue
			}
			rec.Card.SetDefaults()
			if err := rec.Card.Validate(); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", lineNum, err))
				continue
			}
			if !opts.DryRun {
				if err := s.CreateCard(ctx, rec.Card); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("line %d: %v", lineNum, err))
					continue
				}
			}
			result.Cards++

		default:
			result.Errors = append(result.Errors, fmt.Sprintf("line %d: unknown kind %q", lineNum, rec.Kind))
		}
	}

	return result, nil
}

// ImportFile imports a JSONL backup from disk.
func ImportFile(ctx context.Context, s *store.Store, path string, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()
	return ImportJSONL(ctx, s, f, opts)
}
