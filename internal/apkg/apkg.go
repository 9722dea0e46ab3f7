// Package apkg reads Anki .apkg export packages: a zip archive carrying a
// SQLite collection database plus numbered media files and a JSON manifest.
//
// Three collection variants exist. The original exports ship
// collection.anki2, 2.1-era exports add collection.anki21, and current
// exports ship collection.anki21b with zstd compression applied to the
// database and to individual media files. Read prefers the newest variant
// present in the archive.
//
// Read stops at the package boundary: it returns decks, cards with their raw
// note fields, and the media manifest. Importer layers the translation into
// local records on top (HTML cleanup, deck hierarchy from "::" names,
// content-addressed media storage).
package apkg

import (
	"fmt"
	"strings"
)

// Format names the collection database variant inside a package.
type Format string

const (
	// FormatLegacy is the original schema, written by every Anki release.
	FormatLegacy Format = "collection.anki2"
	// FormatModern is the 2.1 schema with a dedicated decks table.
	FormatModern Format = "collection.anki21"
	// FormatCompressed is the current schema with zstd-compressed payloads.
	FormatCompressed Format = "collection.anki21b"
)

// Deck is one deck entry from the collection. Name is the full "A::B::C"
// path; Anki encodes nesting in the name rather than with parent pointers.
type Deck struct {
	ID   int64
	Name string
}

// ShortName returns the last path segment of the deck name.
func (d Deck) ShortName() string {
	if i := strings.LastIndex(d.Name, "::"); i >= 0 {
		return d.Name[i+2:]
	}
	return d.Name
}

// ParentPath returns the full name of the enclosing deck. The second return
// is false for top-level decks.
func (d Deck) ParentPath() (string, bool) {
	if i := strings.LastIndex(d.Name, "::"); i >= 0 {
		return d.Name[:i], true
	}
	return "", false
}

// IsRoot reports whether the deck sits at the top of the hierarchy.
func (d Deck) IsRoot() bool {
	return !strings.Contains(d.Name, "::")
}

// Card is one card row joined with its note. Fields hold the raw HTML field
// values in the note type's order; by Anki convention the first field renders
// the front of the card and the second the back.
type Card struct {
	ID     int64
	NoteID int64
	DeckID int64
	Fields []string
}

// Package is a parsed .apkg. Media bytes are not loaded eagerly: the zip
// stays open and Media serves entries on demand until Close is called.
type Package struct {
	Format Format
	Decks  []Deck
	Cards  []Card

	// Manifest maps zip entry names ("0", "1", ...) to original filenames.
	Manifest map[string]string

	archive *archive
}

// Read parses the package at path. The caller owns the returned Package and
// must Close it.
func Read(path string) (*Package, error) {
	return read(path, nil)
}

func read(path string, report func(Phase)) (*Package, error) {
	if report == nil {
		report = func(Phase) {}
	}

	report(PhaseExtracting)
	a, err := openArchive(path)
	if err != nil {
		return nil, err
	}

	report(PhaseReadingDecks)
	raw, err := a.extractDatabase()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	db, err := openCollection(raw)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	defer db.Close()

	decks, err := db.decks()
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	report(PhaseReadingCards)
	cards, err := db.cards()
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	// Some exporters write cards whose deck id has no deck row. Those cards
	// still need somewhere to land, so a placeholder deck is synthesized per
	// missing id.
	known := make(map[int64]bool, len(decks))
	for _, d := range decks {
		known[d.ID] = true
	}
	for _, c := range cards {
		if !known[c.DeckID] {
			known[c.DeckID] = true
			decks = append(decks, Deck{ID: c.DeckID, Name: fmt.Sprintf("Deck %d", c.DeckID)})
		}
	}

	return &Package{
		Format:   a.format,
		Decks:    decks,
		Cards:    cards,
		Manifest: a.manifest(),
		archive:  a,
	}, nil
}

// Media returns the decompressed bytes of the manifest entry index. A nil
// slice with nil error means the manifest names an entry the zip does not
// carry.
func (p *Package) Media(index string) ([]byte, error) {
	return p.archive.mediaFile(index)
}

// Close releases the underlying zip handle.
func (p *Package) Close() error {
	return p.archive.Close()
}
