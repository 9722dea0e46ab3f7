// Package bench measures the local pipeline: store writes, concurrent
// reads, and a drain of the mutation log against an in-memory remote.
//
// The benchmark runs in a throwaway data directory and never touches the
// network, so the drain numbers isolate the upload pipeline itself from
// backend latency.
package bench

import (
	"fmt"
	"io"
	"sort"
	"time"
)

// Config defines the workload.
type Config struct {
	// Decks is the number of synthetic decks to seed.
	Decks int

	// Cards is the number of synthetic cards, spread across the decks.
	Cards int

	// Readers is the number of concurrent query workers.
	Readers int

	// QueriesPerReader is how many queries each worker runs.
	QueriesPerReader int
}

// DefaultConfig returns a workload that finishes in a few seconds on a
// laptop.
func DefaultConfig() Config {
	return Config{
		Decks:            10,
		Cards:            2000,
		Readers:          8,
		QueriesPerReader: 50,
	}
}

// Result captures the metrics of one run.
type Result struct {
	Config Config

	Seed  StageStats
	Query QueryStats
	Drain DrainStats

	// DBSizeBytes is the SQLite file size after seeding.
	DBSizeBytes int64

	TotalDuration time.Duration
	ErrorCount    int
}

// StageStats covers a timed batch of operations.
type StageStats struct {
	Operations   int
	Duration     time.Duration
	OpsPerSecond float64
}

// QueryStats covers the concurrent read stage.
type QueryStats struct {
	TotalQueries     int
	Duration         time.Duration
	QueriesPerSecond float64
	Latency          LatencyMetrics
}

// DrainStats covers the mutation log drain.
type DrainStats struct {
	Operations   int
	Uploaded     int
	Failed       int
	Duration     time.Duration
	OpsPerSecond float64
}

// LatencyMetrics captures per-query latency statistics.
type LatencyMetrics struct {
	Min  time.Duration
	P50  time.Duration
	Mean time.Duration
	P95  time.Duration
	P99  time.Duration
	Max  time.Duration
}

// ComputeStats calculates latency statistics from raw durations.
func ComputeStats(durations []time.Duration) LatencyMetrics {
	if len(durations) == 0 {
		return LatencyMetrics{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return LatencyMetrics{
		Min:  sorted[0],
		P50:  sorted[len(sorted)*50/100],
		Mean: sum / time.Duration(len(sorted)),
		P95:  sorted[len(sorted)*95/100],
		P99:  sorted[len(sorted)*99/100],
		Max:  sorted[len(sorted)-1],
	}
}

// FormatDuration renders a duration at a precision fit for its magnitude.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Microsecond:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	case d < time.Millisecond:
		return fmt.Sprintf("%.2fµs", float64(d.Nanoseconds())/1000.0)
	case d < time.Second:
		return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000.0)
	default:
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
}

// FormatBytes renders a byte count in binary units.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// WriteReport renders a result as a sectioned text report.
func WriteReport(w io.Writer, res *Result) {
	fmt.Fprintf(w, "\n=== Benchmark Results ===\n\n")

	fmt.Fprintf(w, "Workload:\n")
	fmt.Fprintf(w, "  Decks:              %d\n", res.Config.Decks)
	fmt.Fprintf(w, "  Cards:              %d\n", res.Config.Cards)
	fmt.Fprintf(w, "  Readers:            %d\n", res.Config.Readers)
	fmt.Fprintf(w, "  Queries per reader: %d\n", res.Config.QueriesPerReader)
	fmt.Fprintf(w, "\n")

	fmt.Fprintf(w, "Seed (local writes):\n")
	fmt.Fprintf(w, "  Records:            %d\n", res.Seed.Operations)
	fmt.Fprintf(w, "  Duration:           %s\n", FormatDuration(res.Seed.Duration))
	fmt.Fprintf(w, "  Writes/sec:         %.0f\n", res.Seed.OpsPerSecond)
	fmt.Fprintf(w, "\n")

	fmt.Fprintf(w, "Query (concurrent reads):\n")
	fmt.Fprintf(w, "  Total queries:      %d\n", res.Query.TotalQueries)
	fmt.Fprintf(w, "  Queries/sec:        %.0f\n", res.Query.QueriesPerSecond)
	fmt.Fprintf(w, "  Latency min:        %s\n", FormatDuration(res.Query.Latency.Min))
	fmt.Fprintf(w, "  Latency p50:        %s\n", FormatDuration(res.Query.Latency.P50))
	fmt.Fprintf(w, "  Latency mean:       %s\n", FormatDuration(res.Query.Latency.Mean))
	fmt.Fprintf(w, "  Latency p95:        %s\n", FormatDuration(res.Query.Latency.P95))
	fmt.Fprintf(w, "  Latency p99:        %s\n", FormatDuration(res.Query.Latency.P99))
	fmt.Fprintf(w, "  Latency max:        %s\n", FormatDuration(res.Query.Latency.Max))
	fmt.Fprintf(w, "\n")

	fmt.Fprintf(w, "Drain (upload pipeline):\n")
	fmt.Fprintf(w, "  Operations:         %d\n", res.Drain.Operations)
	fmt.Fprintf(w, "  Uploaded:           %d\n", res.Drain.Uploaded)
	fmt.Fprintf(w, "  Failed:             %d\n", res.Drain.Failed)
	fmt.Fprintf(w, "  Duration:           %s\n", FormatDuration(res.Drain.Duration))
	fmt.Fprintf(w, "  Ops/sec:            %.0f\n", res.Drain.OpsPerSecond)
	fmt.Fprintf(w, "\n")

	fmt.Fprintf(w, "Overall:\n")
	fmt.Fprintf(w, "  Database size:      %s\n", FormatBytes(res.DBSizeBytes))
	fmt.Fprintf(w, "  Total duration:     %s\n", FormatDuration(res.TotalDuration))
	fmt.Fprintf(w, "  Errors:             %d\n", res.ErrorCount)
	fmt.Fprintf(w, "\n")
}
