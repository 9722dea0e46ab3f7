package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/leitnerhq/leitner/internal/schema"
	"github.com/leitnerhq/leitner/internal/sync"
)

// MessageType labels a WebSocket frame.
type MessageType string

const (
	// MessageTypeSyncStatus carries a sync state snapshot. Sent on connect
	// and after every phase transition.
	MessageTypeSyncStatus MessageType = "sync_status"

	// MessageTypeStats carries collection counts. Sent after each sync
	// cycle reaches a terminal phase.
	MessageTypeStats MessageType = "stats"
)

// Message is the frame format sent to WebSocket clients.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StatsData counts the local collection.
type StatsData struct {
	Decks   int `json:"decks"`
	Cards   int `json:"cards"`
	Due     int `json:"due"`
	Pending int `json:"pending"`
}

// StatusReport is the /api/status response body.
type StatusReport struct {
	Sync   sync.Status        `json:"sync"`
	Errors []schema.SyncError `json:"errors"`
	Stats  StatsData          `json:"stats"`
}

func (s *Server) collectStats(ctx context.Context) (StatsData, error) {
	decks, err := s.store.CountDecks(ctx)
	if err != nil {
		return StatsData{}, err
	}
	cards, err := s.store.CountCards(ctx)
	if err != nil {
		return StatsData{}, err
	}
	due, err := s.store.CountDue(ctx, time.Now())
	if err != nil {
		return StatsData{}, err
	}
	pending, err := s.store.PendingCount(ctx)
	if err != nil {
		return StatsData{}, err
	}
	return StatsData{Decks: decks, Cards: cards, Due: due, Pending: pending}, nil
}

func (s *Server) report(ctx context.Context) (StatusReport, error) {
	stats, err := s.collectStats(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{
		Sync:   s.engine.Status(),
		Errors: s.engine.Queue().Errors(),
		Stats:  stats,
	}, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.report(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Leitner Dashboard</title>
  <style>
    body { font-family: system-ui, sans-serif; margin: 2rem auto; max-width: 40rem; padding: 0 1rem; }
    pre { background: #f4f4f4; padding: 1rem; overflow-x: auto; }
  </style>
</head>
<body>
  <h1>Leitner Dashboard</h1>
  <p>Live sync status for this data directory.
     Raw feeds: <a href="/api/status">/api/status</a>,
     <a href="/health">/health</a>, WebSocket on <code>/ws</code>.</p>
  <pre id="status">waiting for status...</pre>
  <script>
    var out = document.getElementById("status");
    function show(data) { out.textContent = JSON.stringify(data, null, 2); }
    fetch("/api/status").then(function (r) { return r.json(); }).then(show);
    var ws = new WebSocket("ws://" + location.host + "/ws");
    ws.onmessage = function (ev) { show(JSON.parse(ev.data)); };
  </script>
</body>
</html>
`
