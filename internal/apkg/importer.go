package apkg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/leitnerhq/leitner/internal/media"
	"github.com/leitnerhq/leitner/internal/schema"
	"github.com/leitnerhq/leitner/internal/store"
)

// Phase identifies one stage of an import for progress reporting.
type Phase string

const (
	PhaseExtracting      Phase = "extracting"
	PhaseReadingDecks    Phase = "reading decks"
	PhaseReadingCards    Phase = "reading cards"
	PhaseProcessingMedia Phase = "processing media"
	PhaseComplete        Phase = "complete"
)

// Importer translates a parsed package into local records. Every record goes
// through the store's normal write path, so imported decks and cards land in
// the mutation log and upload on the next sync like any other local edit.
type Importer struct {
	Store   *store.Store
	Media   *media.Store
	OwnerID string

	// Progress, when set, receives each phase as the import enters it.
	Progress func(Phase)
	Logger   *log.Logger
}

// Result summarizes one import. Skipped counts cover cards whose front came
// out empty and media entries that failed content sniffing.
type Result struct {
	Decks        int
	Cards        int
	MediaFiles   int
	SkippedCards int
	SkippedMedia int
}

// Import reads the package at path and writes its contents into the local
// store. Deck hierarchy is rebuilt from the "::" path names, card fields are
// cleaned of HTML, and media lands in the content-addressed blob store with
// card references rewritten to point at the stored addresses.
func (im *Importer) Import(ctx context.Context, path string) (*Result, error) {
	if im.Store == nil || im.Media == nil {
		return nil, fmt.Errorf("importer needs a record store and a media store")
	}
	if im.OwnerID == "" {
		return nil, fmt.Errorf("owner id is required for import")
	}
	logger := im.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	pkg, err := read(path, im.report)
	if err != nil {
		return nil, err
	}
	defer pkg.Close()

	res := &Result{}

	deckIDs, err := im.importDecks(ctx, pkg, res)
	if err != nil {
		return nil, err
	}

	im.report(PhaseProcessingMedia)
	addrByName := im.importMedia(ctx, pkg, res, logger)

	if err := im.importCards(ctx, pkg, deckIDs, addrByName, res, logger); err != nil {
		return nil, err
	}

	im.report(PhaseComplete)
	logger.Printf("Imported %s: %d decks, %d cards, %d media files",
		filepath.Base(path), res.Decks, res.Cards, res.MediaFiles)
	return res, nil
}

func (im *Importer) report(p Phase) {
	if im.Progress != nil {
		im.Progress(p)
	}
}

// importDecks recreates the package hierarchy as parent-linked decks and
// returns the Anki deck id to local deck id mapping. Parsed decks arrive
// parents-first, but a child can still name a parent path without its own
// deck row, so missing intermediate segments are created on the way down.
func (im *Importer) importDecks(ctx context.Context, pkg *Package, res *Result) (map[int64]string, error) {
	byPath := make(map[string]string)
	byAnkiID := make(map[int64]string, len(pkg.Decks))

	for _, d := range pkg.Decks {
		localID, err := im.ensureDeckPath(ctx, d.Name, byPath, res)
		if err != nil {
			return nil, err
		}
		if localID != "" {
			byAnkiID[d.ID] = localID
		}
	}
	return byAnkiID, nil
}

// ensureDeckPath walks one "A::B::C" path, creating any segment that does
// not exist yet, and returns the local id of the leaf deck.
func (im *Importer) ensureDeckPath(ctx context.Context, path string, byPath map[string]string, res *Result) (string, error) {
	var parentID *string
	var prefix, leafID string

	for _, segment := range strings.Split(path, "::") {
		if segment == "" {
			continue
		}
		if prefix == "" {
			prefix = segment
		} else {
			prefix = prefix + "::" + segment
		}

		if id, ok := byPath[prefix]; ok {
			leafID = id
			parentID = &id
			continue
		}

		deck := &schema.Deck{
			OwnerID:  im.OwnerID,
			ParentID: parentID,
			Name:     segment,
		}
		if err := im.Store.CreateDeck(ctx, deck); err != nil {
			return "", fmt.Errorf("failed to import deck %q: %w", prefix, err)
		}
		res.Decks++
		byPath[prefix] = deck.ID
		leafID = deck.ID
		id := deck.ID
		parentID = &id
	}
	return leafID, nil
}

// importMedia stores every manifest entry that passes content sniffing and
// returns the filename to content address mapping used for reference
// rewriting. Anki packages sometimes carry junk entries (zero-byte files,
// leftovers in no recognizable format); those are skipped with a warning
// rather than failing the import.
func (im *Importer) importMedia(ctx context.Context, pkg *Package, res *Result, logger *log.Logger) map[string]string {
	addrByName := make(map[string]string, len(pkg.Manifest))

	for _, index := range sortedIndexes(pkg.Manifest) {
		filename := pkg.Manifest[index]

		data, err := pkg.Media(index)
		if err != nil {
			logger.Printf("WARNING: failed to extract media %s (%s): %v", index, filename, err)
			res.SkippedMedia++
			continue
		}
		if data == nil {
			logger.Printf("WARNING: manifest names entry %s (%s) but the archive has no such file", index, filename)
			res.SkippedMedia++
			continue
		}

		mime := media.DetectMIME(data)
		if mime == "" {
			logger.Printf("WARNING: skipping media %s: unrecognized format", filename)
			res.SkippedMedia++
			continue
		}

		addr, err := im.Media.Store(data)
		if err != nil {
			logger.Printf("WARNING: failed to store media %s: %v", filename, err)
			res.SkippedMedia++
			continue
		}
		addrByName[filename] = addr

		if err := im.recordMedia(ctx, filename, addr, int64(len(data)), mime); err != nil {
			logger.Printf("WARNING: failed to record media %s: %v", filename, err)
			continue
		}
		res.MediaFiles++
	}
	return addrByName
}

// recordMedia writes the media row unless an identical blob is already
// registered, which happens when the same package is imported twice or two
// packages share files.
func (im *Importer) recordMedia(ctx context.Context, filename, addr string, size int64, mime string) error {
	_, err := im.Store.MediaByAddress(ctx, addr)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	return im.Store.PutMedia(ctx, &schema.Media{
		OwnerID:        im.OwnerID,
		Filename:       filename,
		ContentAddress: addr,
		Size:           size,
		MIME:           mime,
	})
}

func (im *Importer) importCards(ctx context.Context, pkg *Package, deckIDs map[int64]string, addrByName map[string]string, res *Result, logger *log.Logger) error {
	for _, c := range pkg.Cards {
		front, back := cardText(c)
		front = rewriteMediaRefs(front, addrByName)
		back = rewriteMediaRefs(back, addrByName)
		if front == "" {
			logger.Printf("WARNING: skipping card %d: empty front after cleanup", c.ID)
			res.SkippedCards++
			continue
		}

		card := &schema.Card{
			OwnerID: im.OwnerID,
			Front:   front,
			Back:    back,
		}
		if localID, ok := deckIDs[c.DeckID]; ok {
			card.DeckID = &localID
		}
		if err := im.Store.CreateCard(ctx, card); err != nil {
			return fmt.Errorf("failed to import card %d: %w", c.ID, err)
		}
		res.Cards++
	}
	return nil
}

// cardText cleans the first two note fields into front and back text. Extra
// fields belong to Anki note types with no equivalent here and are dropped.
func cardText(c Card) (front, back string) {
	if len(c.Fields) > 0 {
		front = CleanHTML(c.Fields[0])
	}
	if len(c.Fields) > 1 {
		back = CleanHTML(c.Fields[1])
	}
	return front, back
}

var mediaRefRe = regexp.MustCompile(`\(media:([^)]+)\)`)

// rewriteMediaRefs swaps the filename placeholders CleanHTML leaves behind
// for content addresses. References to files that were skipped keep the
// filename, so the text still shows what is missing.
func rewriteMediaRefs(text string, addrByName map[string]string) string {
	if len(addrByName) == 0 || !strings.Contains(text, "(media:") {
		return text
	}
	return mediaRefRe.ReplaceAllStringFunc(text, func(m string) string {
		name := m[len("(media:") : len(m)-1]
		if addr, ok := addrByName[name]; ok {
			return "(media:" + addr + ")"
		}
		return m
	})
}

// sortedIndexes returns manifest keys in numeric order so repeated imports
// walk media deterministically.
func sortedIndexes(manifest map[string]string) []string {
	keys := make([]string, 0, len(manifest))
	for k := range manifest {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, aerr := strconv.Atoi(keys[i])
		b, berr := strconv.Atoi(keys[j])
		if aerr == nil && berr == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}
