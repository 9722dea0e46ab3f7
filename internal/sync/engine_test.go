package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sort"
	stdsync "sync"
	"testing"
	"time"

	"github.com/leitnerhq/leitner/internal/remote"
	"github.com/leitnerhq/leitner/internal/schema"
	"github.com/leitnerhq/leitner/internal/store"
)

// fakeBackend is an in-memory remote that mimics the server's timestamp
// authority: every accepted write gets the next server stamp, regardless of
// what the client sent.
type fakeBackend struct {
	mu     stdsync.Mutex
	tables map[string]map[string]schema.Row
	stamp  int64

	failSelect map[string]error
	failUpsert map[string]error
	failUpdate error
	failDelete error

	selectCalls map[string]int
	upsertSizes map[string][]int
	sinceOrder  []string
	lastSince   map[string]int64
	calls       []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		tables:      make(map[string]map[string]schema.Row),
		stamp:       1_000_000,
		failSelect:  make(map[string]error),
		failUpsert:  make(map[string]error),
		selectCalls: make(map[string]int),
		upsertSizes: make(map[string][]int),
		lastSince:   make(map[string]int64),
	}
}

func (f *fakeBackend) table(name string) map[string]schema.Row {
	if f.tables[name] == nil {
		f.tables[name] = make(map[string]schema.Row)
	}
	return f.tables[name]
}

// seed places a row with an explicit server stamp, as if another device had
// uploaded it.
func (f *fakeBackend) seed(table string, row schema.Row, modifiedAt int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := row.Clone()
	r["modified_at"] = modifiedAt
	f.table(table)[r.String("id")] = r
}

func (f *fakeBackend) get(table, id string) (schema.Row, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.table(table)[id]
	if !ok {
		return nil, false
	}
	return row.Clone(), true
}

func (f *fakeBackend) setFailUpsert(table string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failUpsert, table)
		return
	}
	f.failUpsert[table] = err
}

func (f *fakeBackend) Select(_ context.Context, table string, ids []string) (map[string]schema.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selectCalls[table]++
	if err := f.failSelect[table]; err != nil {
		return nil, err
	}
	out := make(map[string]schema.Row, len(ids))
	for _, id := range ids {
		if row, ok := f.table(table)[id]; ok {
			out[id] = row.Clone()
		}
	}
	return out, nil
}

func (f *fakeBackend) UpsertBatch(_ context.Context, table string, rows []schema.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertSizes[table] = append(f.upsertSizes[table], len(rows))
	if err := f.failUpsert[table]; err != nil {
		return err
	}
	for _, row := range rows {
		r := row.Clone()
		f.stamp++
		r["modified_at"] = f.stamp
		f.table(table)[r.String("id")] = r
	}
	return nil
}

func (f *fakeBackend) Update(_ context.Context, table, id string, fields schema.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "update "+table+"/"+id)
	if f.failUpdate != nil {
		return f.failUpdate
	}
	row, ok := f.table(table)[id]
	if !ok {
		return nil
	}
	for k, v := range fields {
		if k == "modified_at" {
			continue
		}
		row[k] = v
	}
	f.stamp++
	row["modified_at"] = f.stamp
	return nil
}

func (f *fakeBackend) Delete(_ context.Context, table, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "delete "+table+"/"+id)
	if f.failDelete != nil {
		return f.failDelete
	}
	delete(f.table(table), id)
	return nil
}

func (f *fakeBackend) ChangedSince(_ context.Context, table string, since time.Time) ([]schema.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinceOrder = append(f.sinceOrder, table)
	f.lastSince[table] = since.UnixMilli()
	var out []schema.Row
	for _, row := range f.table(table) {
		if row.Int("modified_at") > since.UnixMilli() {
			out = append(out, row.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Int("modified_at") != out[j].Int("modified_at") {
			return out[i].Int("modified_at") < out[j].Int("modified_at")
		}
		return out[i].String("id") < out[j].String("id")
	})
	return out, nil
}

func (f *fakeBackend) Close() error { return nil }

type testEnv struct {
	store   *store.Store
	backend *fakeBackend
	engine  *Engine

	mu         stdsync.Mutex
	connects   int
	connectErr error
}

func (env *testEnv) setConnectErr(err error) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.connectErr = err
}

func (env *testEnv) connectCount() int {
	env.mu.Lock()
	defer env.mu.Unlock()
	return env.connects
}

func setupTestEngine(t *testing.T) *testEnv {
	t.Helper()
	return setupTestEngineCfg(t, Config{MaxErrors: 10, MaxRetries: 3, RetryBase: time.Hour})
}

func setupTestEngineCfg(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "leitner.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}

	env := &testEnv{store: s, backend: newFakeBackend()}
	connect := func(ctx context.Context) (Backend, error) {
		env.mu.Lock()
		defer env.mu.Unlock()
		if env.connectErr != nil {
			return nil, env.connectErr
		}
		env.connects++
		return env.backend, nil
	}
	env.engine = New(s, connect, cfg, log.New(io.Discard, "", 0))
	t.Cleanup(func() {
		env.engine.Close()
		s.Close()
	})
	return env
}

func tptr(ms int64) *time.Time {
	t := time.UnixMilli(ms).UTC()
	return &t
}

func TestDrain_UploadsPendingOperations(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	deck := &schema.Deck{OwnerID: "owner-1", Name: "Spanish"}
	if err := env.store.CreateDeck(ctx, deck); err != nil {
		t.Fatalf("CreateDeck failed: %v", err)
	}
	card := &schema.Card{OwnerID: "owner-1", DeckID: &deck.ID, Front: "hola", Back: "hello"}
	if err := env.store.CreateCard(ctx, card); err != nil {
		t.Fatalf("CreateCard failed: %v", err)
	}

	res, err := env.engine.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if res.Total != 2 || res.Uploaded != 2 || res.Failed != 0 {
		t.Fatalf("expected 2/2 uploaded, got %+v", res)
	}

	if _, ok := env.backend.get(schema.TableDecks, deck.ID); !ok {
		t.Error("deck never reached the remote")
	}
	row, ok := env.backend.get(schema.TableCards, card.ID)
	if !ok {
		t.Fatal("card never reached the remote")
	}
	if row.Int("modified_at") <= 1_000_000 {
		t.Errorf("remote must stamp modified_at server-side, got %d", row.Int("modified_at"))
	}

	pending, err := env.store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if pending != 0 {
		t.Errorf("expected settled log, got %d pending", pending)
	}
	if got := env.engine.Status().Phase; got != PhaseCompleted {
		t.Errorf("expected completed, got %s", got)
	}

	history, err := env.store.ListHistory(ctx, 0)
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	for _, h := range history {
		if h.Outcome != store.HistoryOK {
			t.Errorf("expected ok outcome for %s/%s, got %s", h.Table, h.RecordID, h.Outcome)
		}
	}
}

func TestDrain_EmptyLogLeavesPhaseAlone(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	if err := env.store.CreateDeck(ctx, &schema.Deck{OwnerID: "owner-1", Name: "A"}); err != nil {
		t.Fatalf("CreateDeck failed: %v", err)
	}
	if _, err := env.engine.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if got := env.engine.Status().Phase; got != PhaseCompleted {
		t.Fatalf("expected completed, got %s", got)
	}
	connects := env.connectCount()

	res, err := env.engine.Drain(ctx)
	if err != nil {
		t.Fatalf("empty Drain failed: %v", err)
	}
	if res.Total != 0 {
		t.Fatalf("expected empty batch, got %+v", res)
	}
	if got := env.engine.Status().Phase; got != PhaseCompleted {
		t.Errorf("empty drain must not move the phase, got %s", got)
	}
	if env.connectCount() != connects {
		t.Error("empty drain must not touch the remote")
	}

	// Same from a failed terminal state.
	env.backend.setFailUpsert(schema.TableDecks, errors.New("http 500"))
	if err := env.store.CreateDeck(ctx, &schema.Deck{OwnerID: "owner-1", Name: "B"}); err != nil {
		t.Fatalf("CreateDeck failed: %v", err)
	}
	if _, err := env.engine.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if got := env.engine.Status().Phase; got != PhaseFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	if _, err := env.engine.Drain(ctx); err != nil {
		t.Fatalf("empty Drain failed: %v", err)
	}
	if got := env.engine.Status().Phase; got != PhaseFailed {
		t.Errorf("empty drain must not clear a failed state, got %s", got)
	}
}

func TestDrain_GroupsPutsByTable(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	for _, name := range []string{"A", "B", "C"} {
		if err := env.store.CreateDeck(ctx, &schema.Deck{OwnerID: "owner-1", Name: name}); err != nil {
			t.Fatalf("CreateDeck failed: %v", err)
		}
	}
	for _, front := range []string{"q1", "q2"} {
		if err := env.store.CreateCard(ctx, &schema.Card{OwnerID: "owner-1", Front: front, Back: "a"}); err != nil {
			t.Fatalf("CreateCard failed: %v", err)
		}
	}

	if _, err := env.engine.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	env.backend.mu.Lock()
	defer env.backend.mu.Unlock()
	if got := env.backend.selectCalls[schema.TableDecks]; got != 1 {
		t.Errorf("expected one remote fetch for decks, got %d", got)
	}
	if got := env.backend.selectCalls[schema.TableCards]; got != 1 {
		t.Errorf("expected one remote fetch for cards, got %d", got)
	}
	if got := env.backend.upsertSizes[schema.TableDecks]; len(got) != 1 || got[0] != 3 {
		t.Errorf("expected one deck batch of 3, got %v", got)
	}
	if got := env.backend.upsertSizes[schema.TableCards]; len(got) != 1 || got[0] != 2 {
		t.Errorf("expected one card batch of 2, got %v", got)
	}
}

func TestDrain_TableBatchFailsAsUnit(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	if err := env.store.CreateDeck(ctx, &schema.Deck{OwnerID: "owner-1", Name: "Kept"}); err != nil {
		t.Fatalf("CreateDeck failed: %v", err)
	}
	for _, front := range []string{"q1", "q2"} {
		card := &schema.Card{OwnerID: "owner-1", Front: front, Back: "a"}
		if err := env.store.CreateCard(ctx, card); err != nil {
			t.Fatalf("CreateCard failed: %v", err)
		}
	}
	env.backend.setFailUpsert(schema.TableCards, errors.New("http 500: shard down"))

	res, err := env.engine.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if res.Uploaded != 1 {
		t.Errorf("deck batch must succeed independently, got %d uploaded", res.Uploaded)
	}
	if res.Failed != 2 {
		t.Errorf("expected both card operations failed, got %d", res.Failed)
	}

	// One error stands for the whole card batch.
	errs := env.engine.Queue().Errors()
	if len(errs) != 1 {
		t.Fatalf("expected a single batch error, got %d", len(errs))
	}
	if errs[0].Table != schema.TableCards || len(errs[0].Records) != 2 {
		t.Errorf("batch error should carry both records, got %+v", errs[0])
	}

	// Failed operations settle too: nothing is retried from the log.
	pending, err := env.store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if pending != 0 {
		t.Errorf("failed operations must settle, got %d pending", pending)
	}
	if got := env.engine.Status().Phase; got != PhaseFailed {
		t.Errorf("expected failed, got %s", got)
	}

	history, err := env.store.ListHistory(ctx, 0)
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	var failed int
	for _, h := range history {
		if h.Outcome == store.HistoryFailed {
			failed++
		}
	}
	if failed != 2 {
		t.Errorf("expected 2 failed history entries, got %d", failed)
	}
}

func TestDrain_NewerRemoteDeckWins(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	deck := &schema.Deck{OwnerID: "owner-1", Name: "Local Name"}
	if err := env.store.CreateDeck(ctx, deck); err != nil {
		t.Fatalf("CreateDeck failed: %v", err)
	}
	remoteRow := deck.Row()
	remoteRow["name"] = "Remote Name"
	env.backend.seed(schema.TableDecks, remoteRow, time.Now().Add(time.Hour).UnixMilli())

	res, err := env.engine.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if res.Conflicts != 1 {
		t.Fatalf("expected one conflict, got %+v", res)
	}
	if got := env.engine.Status().Phase; got != PhaseCompleted {
		t.Errorf("a resolved conflict is not a failure, got %s", got)
	}

	got, err := env.store.GetDeck(ctx, deck.ID)
	if err != nil {
		t.Fatalf("GetDeck failed: %v", err)
	}
	if got.Name != "Remote Name" {
		t.Errorf("local store must converge on the winning row, got %q", got.Name)
	}

	conflicts, err := env.store.ListConflicts(ctx, 0)
	if err != nil {
		t.Fatalf("ListConflicts failed: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].Resolution != "server_wins" {
		t.Errorf("expected one server_wins conflict record, got %+v", conflicts)
	}
}

func TestDrain_StaleRemoteUploadsLocalUnchanged(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	deck := &schema.Deck{OwnerID: "owner-1", Name: "Local Name"}
	if err := env.store.CreateDeck(ctx, deck); err != nil {
		t.Fatalf("CreateDeck failed: %v", err)
	}
	remoteRow := deck.Row()
	remoteRow["name"] = "Older Remote Name"
	env.backend.seed(schema.TableDecks, remoteRow, time.Now().Add(-time.Hour).UnixMilli())

	res, err := env.engine.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if res.Conflicts != 0 {
		t.Fatalf("a stale remote copy is not a conflict, got %+v", res)
	}

	row, ok := env.backend.get(schema.TableDecks, deck.ID)
	if !ok {
		t.Fatal("deck never reached the remote")
	}
	if row.String("name") != "Local Name" {
		t.Errorf("local row must upload unchanged, remote has %q", row.String("name"))
	}
	conflicts, err := env.store.ListConflicts(ctx, 0)
	if err != nil {
		t.Fatalf("ListConflicts failed: %v", err)
	}
	if len(conflicts) != 0 {
		t.Errorf("expected no conflict records, got %+v", conflicts)
	}
}

func TestDrain_CardConflictMergesFieldGroups(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	card := &schema.Card{
		OwnerID: "owner-1",
		Front:   "a", Back: "b",
		Memory: schema.MemoryState{
			Stability:     5.5,
			Difficulty:    4.0,
			LearningState: schema.StateReview,
			LastReviewAt:  tptr(day(5)),
			NextReviewAt:  tptr(day(12)),
		},
		TotalReviews: 3, CorrectReviews: 3,
	}
	if err := env.store.CreateCard(ctx, card); err != nil {
		t.Fatalf("CreateCard failed: %v", err)
	}

	remoteRow := card.Row()
	remoteRow["front"] = "a2"
	remoteRow["back"] = "b2"
	remoteRow["stability"] = 2.0
	remoteRow["last_review_at"] = day(3)
	remoteRow["next_review_at"] = day(6)
	remoteRow["total_reviews"] = int64(2)
	remoteRow["correct_reviews"] = int64(2)
	env.backend.seed(schema.TableCards, remoteRow, time.Now().Add(time.Hour).UnixMilli())

	if _, err := env.engine.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	got, err := env.store.GetCard(ctx, card.ID)
	if err != nil {
		t.Fatalf("GetCard failed: %v", err)
	}
	if got.Front != "a2" || got.Back != "b2" {
		t.Errorf("content comes from the remote edit, got %q/%q", got.Front, got.Back)
	}
	if got.TotalReviews != 3 {
		t.Errorf("counters take the maximum, got %d", got.TotalReviews)
	}
	if got.Memory.Stability != 5.5 {
		t.Errorf("memory state follows the later review, got stability %v", got.Memory.Stability)
	}
	if got.Memory.LastReviewAt == nil || got.Memory.LastReviewAt.UnixMilli() != day(5) {
		t.Errorf("expected the local review date, got %v", got.Memory.LastReviewAt)
	}

	conflicts, err := env.store.ListConflicts(ctx, 0)
	if err != nil {
		t.Fatalf("ListConflicts failed: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("expected one conflict record, got %d", len(conflicts))
	}
	tag := conflicts[0].Resolution
	if !hasTag(tag, "FSRS:local") || !hasTag(tag, "content:server") {
		t.Errorf("expected FSRS:local and content:server in %q", tag)
	}
}

func TestDrain_PatchesAndDeletesApplyInLogOrder(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	deck := &schema.Deck{OwnerID: "owner-1", Name: "Doomed"}
	if err := env.store.CreateDeck(ctx, deck); err != nil {
		t.Fatalf("CreateDeck failed: %v", err)
	}
	card := &schema.Card{OwnerID: "owner-1", Front: "q", Back: "a"}
	if err := env.store.CreateCard(ctx, card); err != nil {
		t.Fatalf("CreateCard failed: %v", err)
	}
	if _, err := env.engine.Drain(ctx); err != nil {
		t.Fatalf("initial Drain failed: %v", err)
	}

	if err := env.store.PatchCard(ctx, card.ID, schema.Row{"front": "q revised"}); err != nil {
		t.Fatalf("PatchCard failed: %v", err)
	}
	if err := env.store.DeleteDeck(ctx, deck.ID); err != nil {
		t.Fatalf("DeleteDeck failed: %v", err)
	}
	if err := env.store.PatchCard(ctx, card.ID, schema.Row{"back": "a revised"}); err != nil {
		t.Fatalf("PatchCard failed: %v", err)
	}

	res, err := env.engine.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if res.Uploaded != 3 {
		t.Fatalf("expected 3 operations uploaded, got %+v", res)
	}

	want := []string{
		"update cards/" + card.ID,
		"delete decks/" + deck.ID,
		"update cards/" + card.ID,
	}
	env.backend.mu.Lock()
	calls := append([]string(nil), env.backend.calls...)
	env.backend.mu.Unlock()
	if len(calls) != len(want) {
		t.Fatalf("expected %d remote calls, got %v", len(want), calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d: expected %q, got %q", i, want[i], calls[i])
		}
	}

	row, ok := env.backend.get(schema.TableCards, card.ID)
	if !ok {
		t.Fatal("card missing remotely")
	}
	if row.String("front") != "q revised" || row.String("back") != "a revised" {
		t.Errorf("patches not applied remotely: %q/%q", row.String("front"), row.String("back"))
	}
	if _, ok := env.backend.get(schema.TableDecks, deck.ID); ok {
		t.Error("deck delete not applied remotely")
	}
}

func TestDrain_AuthFailureQueuedWithoutRetry(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	if err := env.store.CreateCard(ctx, &schema.Card{OwnerID: "owner-1", Front: "q", Back: "a"}); err != nil {
		t.Fatalf("CreateCard failed: %v", err)
	}
	env.backend.setFailUpsert(schema.TableCards, fmt.Errorf("server: %w", remote.ErrUnauthorized))

	if _, err := env.engine.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	errs := env.engine.Queue().Errors()
	if len(errs) != 1 {
		t.Fatalf("expected one queued error, got %d", len(errs))
	}
	if errs[0].Class != string(ClassAuth) {
		t.Errorf("expected auth class, got %s", errs[0].Class)
	}
	if errs[0].Retryable {
		t.Error("auth failures must not retry automatically")
	}
}

func TestDrain_ValidationFailureDroppedToHistory(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	card := &schema.Card{OwnerID: "owner-1", Front: "q", Back: "a"}
	if err := env.store.CreateCard(ctx, card); err != nil {
		t.Fatalf("CreateCard failed: %v", err)
	}
	if _, err := env.engine.Drain(ctx); err != nil {
		t.Fatalf("initial Drain failed: %v", err)
	}

	if err := env.store.PatchCard(ctx, card.ID, schema.Row{"front": "q2"}); err != nil {
		t.Fatalf("PatchCard failed: %v", err)
	}
	env.backend.mu.Lock()
	env.backend.failUpdate = fmt.Errorf("reject: %w", remote.ErrInvalidPayload)
	env.backend.mu.Unlock()

	res, err := env.engine.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("expected one failed operation, got %+v", res)
	}
	if got := env.engine.Queue().Len(); got != 0 {
		t.Errorf("validation failures must not be queued, got %d", got)
	}

	history, err := env.store.ListHistory(ctx, 1)
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(history) != 1 || history[0].Outcome != store.HistoryDropped {
		t.Errorf("expected a dropped history entry, got %+v", history)
	}
}

func TestDrain_ConnectFailureKeepsOperationsQueued(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	if err := env.store.CreateDeck(ctx, &schema.Deck{OwnerID: "owner-1", Name: "A"}); err != nil {
		t.Fatalf("CreateDeck failed: %v", err)
	}
	env.setConnectErr(errors.New("dial tcp: host unreachable"))

	_, err := env.engine.Drain(ctx)
	if err == nil {
		t.Fatal("expected a connection error")
	}
	if got := env.engine.Status().Phase; got != PhaseFailed {
		t.Errorf("expected failed, got %s", got)
	}

	// The operations never settled: they drain once the link is back.
	pending, err := env.store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount failed: %v", err)
	}
	if pending != 1 {
		t.Fatalf("expected the operation still queued, got %d", pending)
	}

	env.setConnectErr(nil)
	res, err := env.engine.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain after reconnect failed: %v", err)
	}
	if res.Uploaded != 1 {
		t.Errorf("expected the queued operation uploaded, got %+v", res)
	}
}

func TestRetry_ReuploadsRecordCurrentState(t *testing.T) {
	env := setupTestEngineCfg(t, Config{MaxErrors: 10, MaxRetries: 5, RetryBase: 5 * time.Millisecond})
	ctx := context.Background()

	card := &schema.Card{OwnerID: "owner-1", Front: "q", Back: "a"}
	if err := env.store.CreateCard(ctx, card); err != nil {
		t.Fatalf("CreateCard failed: %v", err)
	}
	env.backend.setFailUpsert(schema.TableCards, errors.New("http 503"))

	if _, err := env.engine.Drain(ctx); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if got := env.engine.Queue().Len(); got != 1 {
		t.Fatalf("expected one queued error, got %d", got)
	}

	// The record changes while the upload is broken; the retry must carry
	// the current state, not the failed payload.
	if err := env.store.PatchCard(ctx, card.ID, schema.Row{"front": "q revised"}); err != nil {
		t.Fatalf("PatchCard failed: %v", err)
	}
	env.backend.setFailUpsert(schema.TableCards, nil)
	env.backend.mu.Lock()
	env.backend.failUpdate = nil
	env.backend.mu.Unlock()

	waitFor(t, 5*time.Second, func() bool { return env.engine.Queue().Len() == 0 },
		"automatic retry never recovered")
	waitFor(t, 5*time.Second, func() bool {
		row, ok := env.backend.get(schema.TableCards, card.ID)
		return ok && row.String("front") == "q revised"
	}, "retry did not upload the record's current state")
	waitFor(t, 5*time.Second, func() bool {
		return env.engine.Status().Phase == PhaseCompleted
	}, "recovery never reached completed")
}

func TestSync_FullCycle(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	deck := &schema.Deck{OwnerID: "owner-1", Name: "Mine"}
	if err := env.store.CreateDeck(ctx, deck); err != nil {
		t.Fatalf("CreateDeck failed: %v", err)
	}
	theirs := &schema.Card{OwnerID: "owner-1", Front: "their card", Back: "x"}
	theirs.SetDefaults()
	env.backend.seed(schema.TableCards, theirs.Row(), 5_000)

	drained, pulled, err := env.engine.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if drained.Uploaded != 1 {
		t.Errorf("expected the deck uploaded, got %+v", drained)
	}
	if pulled.Applied != 1 {
		t.Errorf("expected the remote card applied, got %+v", pulled)
	}
	if env.connectCount() != 1 {
		t.Errorf("a full cycle connects once, got %d", env.connectCount())
	}

	got, err := env.store.GetCard(ctx, theirs.ID)
	if err != nil {
		t.Fatalf("pulled card not in local store: %v", err)
	}
	if got.Front != "their card" {
		t.Errorf("unexpected pulled card: %+v", got)
	}
	if phase := env.engine.Status().Phase; phase != PhaseCompleted {
		t.Errorf("expected completed, got %s", phase)
	}
}

func TestPull_SkipsRecordsWithPendingOperations(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	card := &schema.Card{OwnerID: "owner-1", Front: "local text", Back: "a"}
	if err := env.store.CreateCard(ctx, card); err != nil {
		t.Fatalf("CreateCard failed: %v", err)
	}
	remoteRow := card.Row()
	remoteRow["front"] = "remote text"
	env.backend.seed(schema.TableCards, remoteRow, time.Now().Add(time.Hour).UnixMilli())

	res, err := env.engine.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if res.Skipped != 1 || res.Applied != 0 {
		t.Fatalf("expected the row skipped, got %+v", res)
	}

	got, err := env.store.GetCard(ctx, card.ID)
	if err != nil {
		t.Fatalf("GetCard failed: %v", err)
	}
	if got.Front != "local text" {
		t.Errorf("a pull must not clobber records with pending operations, got %q", got.Front)
	}
}

func TestPull_AdvancesWatermark(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	first := &schema.Card{OwnerID: "owner-1", Front: "one", Back: "x"}
	first.SetDefaults()
	second := &schema.Card{OwnerID: "owner-1", Front: "two", Back: "x"}
	second.SetDefaults()
	env.backend.seed(schema.TableCards, first.Row(), 5_000)
	env.backend.seed(schema.TableCards, second.Row(), 7_000)

	res, err := env.engine.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if res.Applied != 2 {
		t.Fatalf("expected 2 rows applied, got %+v", res)
	}

	mark, err := env.store.LastPull(ctx)
	if err != nil {
		t.Fatalf("LastPull failed: %v", err)
	}
	if mark.UnixMilli() != 7_000 {
		t.Fatalf("watermark must advance to the newest stamp, got %d", mark.UnixMilli())
	}

	res, err = env.engine.Pull(ctx)
	if err != nil {
		t.Fatalf("second Pull failed: %v", err)
	}
	if res.Applied != 0 {
		t.Errorf("nothing changed, expected no rows, got %+v", res)
	}
	env.backend.mu.Lock()
	since := env.backend.lastSince[schema.TableCards]
	env.backend.mu.Unlock()
	if since != 7_000 {
		t.Errorf("second pull must start from the watermark, got %d", since)
	}

	third := &schema.Card{OwnerID: "owner-1", Front: "three", Back: "x"}
	third.SetDefaults()
	env.backend.seed(schema.TableCards, third.Row(), 9_000)
	res, err = env.engine.Pull(ctx)
	if err != nil {
		t.Fatalf("third Pull failed: %v", err)
	}
	if res.Applied != 1 {
		t.Errorf("expected only the new row, got %+v", res)
	}
}

func TestPull_ParentsBeforeChildren(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	deck := &schema.Deck{OwnerID: "owner-1", Name: "Theirs"}
	deck.SetDefaults()
	card := &schema.Card{OwnerID: "owner-1", DeckID: &deck.ID, Front: "q", Back: "a"}
	card.SetDefaults()
	env.backend.seed(schema.TableDecks, deck.Row(), 5_000)
	env.backend.seed(schema.TableCards, card.Row(), 5_001)

	if _, err := env.engine.Pull(ctx); err != nil {
		t.Fatalf("Pull failed: %v", err)
	}

	env.backend.mu.Lock()
	order := append([]string(nil), env.backend.sinceOrder...)
	env.backend.mu.Unlock()
	deckIdx, cardIdx := -1, -1
	for i, table := range order {
		switch table {
		case schema.TableDecks:
			if deckIdx == -1 {
				deckIdx = i
			}
		case schema.TableCards:
			if cardIdx == -1 {
				cardIdx = i
			}
		}
	}
	if deckIdx == -1 || cardIdx == -1 || deckIdx > cardIdx {
		t.Errorf("decks must pull before cards, got order %v", order)
	}
}
