package remote

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/leitnerhq/leitner/internal/schema"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// setupTestClient points the client at an embedded database with the same
// schema the hosted backend carries.
func setupTestClient(t *testing.T) *Client {
	t.Helper()
	db, err := sql.Open("sqlite3", "file:"+filepath.Join(t.TempDir(), "remote.db"))
	if err != nil {
		t.Fatalf("open embedded database: %v", err)
	}
	c := NewClient(db, "owner-1")
	if err := c.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func deckRow(id, owner, name string) schema.Row {
	return schema.Row{
		"id":          id,
		"owner_id":    owner,
		"parent_id":   nil,
		"name":        name,
		"description": "",
		"created_at":  int64(1000),
		"modified_at": int64(1000),
	}
}

func TestUpsertBatch_ServerStampsModifiedAt(t *testing.T) {
	c := setupTestClient(t)
	ctx := context.Background()
	before := time.Now().Add(-time.Minute).UnixMilli()

	err := c.UpsertBatch(ctx, schema.TableDecks, []schema.Row{deckRow("d1", "owner-1", "Algebra")})
	if err != nil {
		t.Fatalf("UpsertBatch failed: %v", err)
	}

	got, err := c.Select(ctx, schema.TableDecks, []string{"d1"})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	row, ok := got["d1"]
	if !ok {
		t.Fatal("upserted row not found")
	}
	if row.String("name") != "Algebra" {
		t.Errorf("name round trip: got %q", row.String("name"))
	}
	// The client sent modified_at 1000; the server must have stamped its own.
	if row.Int("modified_at") < before {
		t.Errorf("modified_at %d not server-stamped (client sent 1000)", row.Int("modified_at"))
	}
}

func TestUpsertBatch_ConflictAdvancesStamp(t *testing.T) {
	c := setupTestClient(t)
	ctx := context.Background()

	if err := c.UpsertBatch(ctx, schema.TableDecks, []schema.Row{deckRow("d1", "owner-1", "Old")}); err != nil {
		t.Fatalf("UpsertBatch failed: %v", err)
	}
	first, err := c.Select(ctx, schema.TableDecks, []string{"d1"})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	time.Sleep(25 * time.Millisecond)
	if err := c.UpsertBatch(ctx, schema.TableDecks, []schema.Row{deckRow("d1", "owner-1", "New")}); err != nil {
		t.Fatalf("second UpsertBatch failed: %v", err)
	}
	second, err := c.Select(ctx, schema.TableDecks, []string{"d1"})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	if second["d1"].String("name") != "New" {
		t.Errorf("conflict update did not apply: %q", second["d1"].String("name"))
	}
	if second["d1"].Int("modified_at") <= first["d1"].Int("modified_at") {
		t.Errorf("modified_at did not advance: %d then %d",
			first["d1"].Int("modified_at"), second["d1"].Int("modified_at"))
	}
}

func TestUpsertBatch_FailsAsUnit(t *testing.T) {
	c := setupTestClient(t)
	ctx := context.Background()

	good := deckRow("ok", "owner-1", "Fine")
	bad := deckRow("broken", "owner-1", "x")
	bad["name"] = nil // violates NOT NULL

	err := c.UpsertBatch(ctx, schema.TableDecks, []schema.Row{good, bad})
	if err == nil {
		t.Fatal("expected batch to fail")
	}

	// A failed batch writes nothing: the statement is atomic.
	got, err := c.Select(ctx, schema.TableDecks, []string{"ok", "broken"})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("failed batch left %d rows behind", len(got))
	}
}

func TestSelect_ReturnsOnlyRequested(t *testing.T) {
	c := setupTestClient(t)
	ctx := context.Background()

	rows := []schema.Row{
		deckRow("d1", "owner-1", "One"),
		deckRow("d2", "owner-1", "Two"),
		deckRow("d3", "owner-1", "Three"),
	}
	if err := c.UpsertBatch(ctx, schema.TableDecks, rows); err != nil {
		t.Fatalf("UpsertBatch failed: %v", err)
	}

	got, err := c.Select(ctx, schema.TableDecks, []string{"d1", "d3", "missing"})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if _, ok := got["d2"]; ok {
		t.Error("Select returned a row that was not requested")
	}
	if _, ok := got["missing"]; ok {
		t.Error("Select invented a row for a missing id")
	}

	empty, err := c.Select(ctx, schema.TableDecks, nil)
	if err != nil {
		t.Fatalf("Select with no ids failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty result for no ids, got %d", len(empty))
	}
}

func TestChangedSince_StrictlyAfterOwnersOnly(t *testing.T) {
	c := setupTestClient(t)
	ctx := context.Background()

	rows := []schema.Row{
		deckRow("d1", "owner-1", "One"),
		deckRow("d2", "owner-1", "Two"),
		deckRow("d3", "owner-1", "Three"),
		deckRow("other", "owner-2", "NotMine"),
	}
	if err := c.UpsertBatch(ctx, schema.TableDecks, rows); err != nil {
		t.Fatalf("UpsertBatch failed: %v", err)
	}
	// Pin known stamps so the watermark comparison is exact.
	for id, stamp := range map[string]int64{"d1": 1000, "d2": 2000, "d3": 3000, "other": 3000} {
		if _, err := c.db.ExecContext(ctx, "UPDATE decks SET modified_at = ? WHERE id = ?", stamp, id); err != nil {
			t.Fatalf("failed to pin stamp: %v", err)
		}
	}

	changed, err := c.ChangedSince(ctx, schema.TableDecks, time.UnixMilli(2000))
	if err != nil {
		t.Fatalf("ChangedSince failed: %v", err)
	}
	// Strictly after: d2 at exactly 2000 is excluded, and owner-2 rows never
	// appear regardless of stamp.
	if len(changed) != 1 || changed[0].String("id") != "d3" {
		t.Fatalf("expected only d3, got %+v", changed)
	}

	all, err := c.ChangedSince(ctx, schema.TableDecks, time.UnixMilli(0))
	if err != nil {
		t.Fatalf("ChangedSince failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 rows for owner-1, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Int("modified_at") < all[i-1].Int("modified_at") {
			t.Errorf("rows not ordered by modified_at: %v", all)
		}
	}
}

func TestUpdate_PatchesAndStamps(t *testing.T) {
	c := setupTestClient(t)
	ctx := context.Background()

	if err := c.UpsertBatch(ctx, schema.TableDecks, []schema.Row{deckRow("d1", "owner-1", "Before")}); err != nil {
		t.Fatalf("UpsertBatch failed: %v", err)
	}
	if _, err := c.db.ExecContext(ctx, "UPDATE decks SET modified_at = 1000 WHERE id = 'd1'"); err != nil {
		t.Fatalf("failed to pin stamp: %v", err)
	}

	err := c.Update(ctx, schema.TableDecks, "d1", schema.Row{"name": "After", "modified_at": int64(1)})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := c.Select(ctx, schema.TableDecks, []string{"d1"})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if got["d1"].String("name") != "After" {
		t.Errorf("patch did not apply: %q", got["d1"].String("name"))
	}
	if got["d1"].Int("modified_at") <= 1000 {
		t.Errorf("server stamp not applied: %d", got["d1"].Int("modified_at"))
	}

	if err := c.Update(ctx, schema.TableDecks, "d1", schema.Row{"bogus": 1}); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload for unknown column, got %v", err)
	}
	if err := c.Update(ctx, schema.TableDecks, "d1", schema.Row{"modified_at": int64(5)}); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload for empty patch, got %v", err)
	}
}

func TestDelete_Idempotent(t *testing.T) {
	c := setupTestClient(t)
	ctx := context.Background()

	if err := c.UpsertBatch(ctx, schema.TableDecks, []schema.Row{deckRow("d1", "owner-1", "Gone")}); err != nil {
		t.Fatalf("UpsertBatch failed: %v", err)
	}
	if err := c.Delete(ctx, schema.TableDecks, "d1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := c.Delete(ctx, schema.TableDecks, "d1"); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}

	got, err := c.Select(ctx, schema.TableDecks, []string{"d1"})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(got) != 0 {
		t.Error("deleted row still present")
	}
}

func TestFileSource_Lifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	if _, err := (FileSource{Path: path}).Load(); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for missing session, got %v", err)
	}

	creds := Credentials{URL: "libsql://leitner-test.turso.io", AuthToken: "tok", OwnerID: "owner-1"}
	if err := Save(path, creds); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := FileSource{Path: path}.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != creds {
		t.Errorf("credentials round trip: got %+v", got)
	}

	if err := Clear(path); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := Clear(path); err != nil {
		t.Fatalf("second Clear failed: %v", err)
	}
	if _, err := (FileSource{Path: path}).Load(); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized after Clear, got %v", err)
	}
}

func TestConnect_RejectsIncompleteCredentials(t *testing.T) {
	_, err := Connect(context.Background(), Credentials{URL: "libsql://x.turso.io"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}
