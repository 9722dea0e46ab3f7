package bench

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	stdsync "sync"
	"time"

	"github.com/leitnerhq/leitner/internal/schema"
	"github.com/leitnerhq/leitner/internal/store"
	"github.com/leitnerhq/leitner/internal/sync"
)

const benchOwner = "bench"

// memBackend is an in-memory remote with server-stamp semantics: enough
// backend for a drain, with zero transport cost.
type memBackend struct {
	mu     stdsync.Mutex
	tables map[string]map[string]schema.Row
	stamp  int64
}

func newMemBackend() *memBackend {
	return &memBackend{
		tables: make(map[string]map[string]schema.Row),
		stamp:  1,
	}
}

func (m *memBackend) table(name string) map[string]schema.Row {
	if m.tables[name] == nil {
		m.tables[name] = make(map[string]schema.Row)
	}
	return m.tables[name]
}

func (m *memBackend) Select(ctx context.Context, table string, ids []string) (map[string]schema.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]schema.Row)
	rows := m.table(table)
	for _, id := range ids {
		if row, ok := rows[id]; ok {
			out[id] = row.Clone()
		}
	}
	return out, nil
}

func (m *memBackend) ChangedSince(ctx context.Context, table string, since time.Time) ([]schema.Row, error) {
	return nil, nil
}

func (m *memBackend) UpsertBatch(ctx context.Context, table string, rows []schema.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.table(table)
	for _, row := range rows {
		r := row.Clone()
		m.stamp++
		r["modified_at"] = m.stamp
		t[r.String("id")] = r
	}
	return nil
}

func (m *memBackend) Update(ctx context.Context, table, id string, fields schema.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.table(table)
	row := t[id]
	if row == nil {
		row = schema.Row{"id": id}
	}
	for k, v := range fields {
		row[k] = v
	}
	m.stamp++
	row["modified_at"] = m.stamp
	t[id] = row
	return nil
}

func (m *memBackend) Delete(ctx context.Context, table, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.table(table), id)
	return nil
}

func (m *memBackend) Close() error { return nil }

// Run executes the workload in a throwaway data directory and returns its
// metrics. The directory is removed afterwards.
func Run(ctx context.Context, config Config, logger *log.Logger) (*Result, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[bench] ", log.LstdFlags)
	}
	if config.Decks <= 0 || config.Cards <= 0 {
		return nil, fmt.Errorf("workload needs at least one deck and one card")
	}
	if config.Readers <= 0 {
		config.Readers = 1
	}
	if config.QueriesPerReader <= 0 {
		config.QueriesPerReader = 1
	}

	dir, err := os.MkdirTemp("", "leitner-bench-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	dbPath := filepath.Join(dir, "bench.db")
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	if err := st.InitSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	backend := newMemBackend()
	engine := sync.New(st, func(ctx context.Context) (sync.Backend, error) {
		return backend, nil
	}, sync.DefaultConfig(), log.New(io.Discard, "", 0))
	defer engine.Close()

	res := &Result{Config: config}
	totalStart := time.Now()

	// Seed stage: every create also lands in the mutation log, which is
	// what the drain stage measures later.
	logger.Printf("Seeding %d decks and %d cards", config.Decks, config.Cards)
	seedStart := time.Now()
	deckIDs := make([]string, 0, config.Decks)
	for i := 0; i < config.Decks; i++ {
		deck := &schema.Deck{OwnerID: benchOwner, Name: fmt.Sprintf("Bench Deck %03d", i)}
		if err := st.CreateDeck(ctx, deck); err != nil {
			return nil, fmt.Errorf("seed deck: %w", err)
		}
		deckIDs = append(deckIDs, deck.ID)
	}
	for i := 0; i < config.Cards; i++ {
		deckID := deckIDs[i%len(deckIDs)]
		card := &schema.Card{
			OwnerID: benchOwner,
			DeckID:  &deckID,
			Front:   fmt.Sprintf("term %06d", i),
			Back:    fmt.Sprintf("definition %06d", i),
		}
		if err := st.CreateCard(ctx, card); err != nil {
			return nil, fmt.Errorf("seed card: %w", err)
		}
	}
	seedDur := time.Since(seedStart)
	seedOps := config.Decks + config.Cards
	res.Seed = StageStats{
		Operations:   seedOps,
		Duration:     seedDur,
		OpsPerSecond: perSecond(seedOps, seedDur),
	}
	res.DBSizeBytes = fileSize(dbPath) + fileSize(dbPath+"-wal")

	// Query stage.
	logger.Printf("Running %d readers, %d queries each", config.Readers, config.QueriesPerReader)
	queryStart := time.Now()

	var mu stdsync.Mutex
	var durations []time.Duration
	var errorCount int

	var wg stdsync.WaitGroup
	for r := 0; r < config.Readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]time.Duration, 0, config.QueriesPerReader)
			fails := 0
			for q := 0; q < config.QueriesPerReader; q++ {
				start := time.Now()
				var err error
				switch q % 3 {
				case 0:
					_, err = st.ListCards(ctx, store.CardFilter{DeckID: deckIDs[q%len(deckIDs)], Limit: 50})
				case 1:
					_, err = st.CountDue(ctx, time.Now())
				default:
					_, err = st.ListDecks(ctx)
				}
				local = append(local, time.Since(start))
				if err != nil {
					fails++
				}
			}
			mu.Lock()
			durations = append(durations, local...)
			errorCount += fails
			mu.Unlock()
		}()
	}
	wg.Wait()
	queryDur := time.Since(queryStart)
	res.Query = QueryStats{
		TotalQueries:     len(durations),
		Duration:         queryDur,
		QueriesPerSecond: perSecond(len(durations), queryDur),
		Latency:          ComputeStats(durations),
	}
	res.ErrorCount = errorCount

	// Drain stage: upload everything the seed stage logged.
	logger.Printf("Draining %d pending operations", seedOps)
	drainStart := time.Now()
	drainRes, err := engine.Drain(ctx)
	if err != nil {
		return nil, fmt.Errorf("drain failed: %w", err)
	}
	drainDur := time.Since(drainStart)
	res.Drain = DrainStats{
		Operations:   drainRes.Total,
		Uploaded:     drainRes.Uploaded,
		Failed:       drainRes.Failed,
		Duration:     drainDur,
		OpsPerSecond: perSecond(drainRes.Total, drainDur),
	}

	res.TotalDuration = time.Since(totalStart)
	return res, nil
}

func perSecond(n int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
