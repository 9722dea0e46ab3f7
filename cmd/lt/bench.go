package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/leitnerhq/leitner/internal/bench"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "data",
	Short:   "Benchmark the local store and upload pipeline",
	Long: `Run a synthetic workload against a throwaway data directory.

Three stages are timed: seeding decks and cards through the normal write
path, concurrent read queries, and a drain of the accumulated upload queue
against an in-memory remote. Your real data is never touched.

Examples:
  lt bench
  lt bench --cards 10000 --readers 16
  lt bench --json`,
	Run: func(cmd *cobra.Command, args []string) {
		decks, _ := cmd.Flags().GetInt("decks")
		cards, _ := cmd.Flags().GetInt("cards")
		readers, _ := cmd.Flags().GetInt("readers")
		queries, _ := cmd.Flags().GetInt("queries")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		if decks <= 0 {
			fatalf("--decks must be positive")
		}
		if cards <= 0 {
			fatalf("--cards must be positive")
		}
		if readers <= 0 {
			fatalf("--readers must be positive")
		}
		if queries <= 0 {
			fatalf("--queries must be positive")
		}

		config := bench.Config{
			Decks:            decks,
			Cards:            cards,
			Readers:          readers,
			QueriesPerReader: queries,
		}

		logger := log.New(os.Stderr, "[bench] ", log.LstdFlags)
		if jsonOutput {
			logger = log.New(io.Discard, "", 0)
		}

		res, err := bench.Run(cmd.Context(), config, logger)
		if err != nil {
			fatal(err)
		}

		if jsonOutput {
			outputBenchJSON(res)
		} else {
			bench.WriteReport(os.Stdout, res)
		}

		if res.ErrorCount > 0 {
			os.Exit(1)
		}
	},
}

func outputBenchJSON(res *bench.Result) {
	output := map[string]any{
		"config": map[string]any{
			"decks":   res.Config.Decks,
			"cards":   res.Config.Cards,
			"readers": res.Config.Readers,
			"queries": res.Config.QueriesPerReader,
		},
		"seed": map[string]any{
			"operations":  res.Seed.Operations,
			"ops_per_sec": res.Seed.OpsPerSecond,
			"duration_ms": res.Seed.Duration.Milliseconds(),
		},
		"query": map[string]any{
			"total":       res.Query.TotalQueries,
			"qps":         res.Query.QueriesPerSecond,
			"duration_ms": res.Query.Duration.Milliseconds(),
			"latency_us": map[string]any{
				"min":  res.Query.Latency.Min.Microseconds(),
				"p50":  res.Query.Latency.P50.Microseconds(),
				"mean": res.Query.Latency.Mean.Microseconds(),
				"p95":  res.Query.Latency.P95.Microseconds(),
				"p99":  res.Query.Latency.P99.Microseconds(),
				"max":  res.Query.Latency.Max.Microseconds(),
			},
		},
		"drain": map[string]any{
			"operations":  res.Drain.Operations,
			"uploaded":    res.Drain.Uploaded,
			"failed":      res.Drain.Failed,
			"ops_per_sec": res.Drain.OpsPerSecond,
			"duration_ms": res.Drain.Duration.Milliseconds(),
		},
		"db_size_bytes": res.DBSizeBytes,
		"duration_ms":   res.TotalDuration.Milliseconds(),
		"errors":        res.ErrorCount,
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(output); err != nil {
		fatalf("failed to encode JSON: %v", err)
	}
}

func init() {
	benchCmd.Flags().Int("decks", 10, "Decks to seed")
	benchCmd.Flags().Int("cards", 2000, "Cards to seed")
	benchCmd.Flags().Int("readers", 8, "Concurrent readers")
	benchCmd.Flags().Int("queries", 50, "Queries per reader")
	benchCmd.Flags().Bool("json", false, "Output results as JSON")

	rootCmd.AddCommand(benchCmd)
}
