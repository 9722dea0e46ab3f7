package apkg

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// collection is the extracted SQLite database. The bytes are written to a
// throwaway file because the driver cannot open a database from memory.
type collection struct {
	db   *sql.DB
	path string
}

func openCollection(raw []byte) (*collection, error) {
	tmp, err := os.CreateTemp("", "apkg-*.db")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp database: %w", err)
	}
	path := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write temp database: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write temp database: %w", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to open collection: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("not a SQLite collection: %w", err)
	}
	return &collection{db: db, path: path}, nil
}

func (c *collection) Close() error {
	err := c.db.Close()
	_ = os.Remove(c.path)
	return err
}

// decks reads deck rows, preferring the modern decks table and falling back
// to the legacy JSON blob in col. Results come back parents before children
// (sorted by path depth, then name) so hierarchy rebuilds run in one pass.
func (c *collection) decks() ([]Deck, error) {
	decks, err := c.modernDecks()
	if err != nil || len(decks) == 0 {
		decks, err = c.legacyDecks()
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(decks, func(i, j int) bool {
		di := strings.Count(decks[i].Name, "::")
		dj := strings.Count(decks[j].Name, "::")
		if di != dj {
			return di < dj
		}
		return decks[i].Name < decks[j].Name
	})
	return decks, nil
}

// modernDecks reads the dedicated decks table that Anki 2.1.50+ writes. Both
// columns drift across exporter versions: id is usually an integer but shows
// up as a little-endian blob in some packages, and name may be plain text or
// a serialized protobuf message.
func (c *collection) modernDecks() ([]Deck, error) {
	var exists bool
	err := c.db.QueryRow(
		"SELECT COUNT(*) > 0 FROM sqlite_master WHERE type='table' AND name='decks'",
	).Scan(&exists)
	if err != nil || !exists {
		return nil, nil
	}

	rows, err := c.db.Query("SELECT id, name FROM decks")
	if err != nil {
		return nil, fmt.Errorf("failed to read decks: %w", err)
	}
	defer rows.Close()

	var decks []Deck
	for rows.Next() {
		var rawID, rawName any
		if err := rows.Scan(&rawID, &rawName); err != nil {
			return nil, fmt.Errorf("failed to scan deck: %w", err)
		}

		id := deckID(rawID)
		if id == 0 {
			continue
		}
		name := deckName(rawName)
		if name == "" {
			continue
		}
		decks = append(decks, Deck{ID: id, Name: name})
	}
	return decks, rows.Err()
}

// legacyDecks reads the pre-2.1.50 layout: one JSON object in the col table,
// keyed by deck id, one {"name": ...} entry per deck.
func (c *collection) legacyDecks() ([]Deck, error) {
	var blob sql.NullString
	if err := c.db.QueryRow("SELECT decks FROM col").Scan(&blob); err != nil {
		// No col table (or no row) means the package simply has no decks.
		return nil, nil
	}
	raw := strings.TrimSpace(blob.String)
	if raw == "" {
		return nil, nil
	}

	var entries map[string]struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("failed to parse legacy deck JSON: %w", err)
	}

	var decks []Deck
	for idStr, entry := range entries {
		if entry.Name == "" {
			continue
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			id = 0
		}
		decks = append(decks, Deck{ID: id, Name: entry.Name})
	}
	return decks, nil
}

// cards joins every card with its note and splits the field blob on the unit
// separator Anki uses.
func (c *collection) cards() ([]Card, error) {
	rows, err := c.db.Query(
		`SELECT c.id, c.nid, c.did, n.flds
		 FROM cards c
		 JOIN notes n ON c.nid = n.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read cards: %w", err)
	}
	defer rows.Close()

	var cards []Card
	for rows.Next() {
		var card Card
		var flds []byte
		if err := rows.Scan(&card.ID, &card.NoteID, &card.DeckID, &flds); err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		card.Fields = strings.Split(string(flds), "\x1f")
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

func deckID(v any) int64 {
	switch id := v.(type) {
	case int64:
		return id
	case []byte:
		if len(id) >= 8 {
			return int64(binary.LittleEndian.Uint64(id[:8]))
		}
	}
	return 0
}

func deckName(v any) string {
	var raw []byte
	switch name := v.(type) {
	case string:
		raw = []byte(name)
	case []byte:
		raw = name
	default:
		return ""
	}
	if utf8.Valid(raw) {
		return string(raw)
	}
	return nameFromProtobuf(raw)
}

// nameFromProtobuf pulls the name out of a serialized Deck message without a
// schema: field 2, wire type LEN, tag byte (2<<3)|2 = 0x12. Other fields are
// skipped by wire type. Only single-byte lengths are handled, which covers
// deck names up to 127 bytes; anything longer loses its name and the deck is
// dropped by the caller.
func nameFromProtobuf(data []byte) string {
	const nameTag = 0x12

	i := 0
	for i < len(data) {
		tag := data[i]
		i++
		if i >= len(data) {
			break
		}

		if tag == nameTag {
			n := int(data[i])
			i++
			if i+n <= len(data) && utf8.Valid(data[i:i+n]) {
				return string(data[i : i+n])
			}
			continue
		}

		switch tag & 0x07 {
		case 0: // varint
			for i < len(data) && data[i]&0x80 != 0 {
				i++
			}
			i++
		case 1: // 64-bit
			i += 8
		case 2: // length-delimited
			if i < len(data) {
				i += 1 + int(data[i])
			}
		case 5: // 32-bit
			i += 4
		default:
			i++
		}
	}
	return ""
}
