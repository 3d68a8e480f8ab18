// README: Benchmark runner for order lifecycle checks; executes HTTP/DB/Redis checks and prints a JSON report.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	BaseURL        string
	DSN            string
	RedisAddr      string
	MigrationPath  string
	ApplyMigration bool
	Strict         bool
	Timeout        time.Duration
	Concurrency    int
	Duration       time.Duration
	Output         string
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	started := time.Now()
	rep := newReport(cfg, NewRunner(cfg).RunAll(ctx), time.Since(started))

	if err := rep.write(os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode report: %v\n", err)
		os.Exit(1)
	}
	if cfg.Output != "" {
		f, err := os.Create(cfg.Output)
		if err == nil {
			err = errors.Join(rep.write(f), f.Close())
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if !rep.OK {
		os.Exit(1)
	}
}

// report is the machine-readable outcome of one run.
type report struct {
	Timestamp       string         `json:"timestamp"`
	BaseURL         string         `json:"base_url"`
	Strict          bool           `json:"strict"`
	DurationSeconds float64        `json:"duration_seconds"`
	Counts          map[string]int `json:"counts"`
	Failed          []string       `json:"failed,omitempty"`
	Pending         []string       `json:"pending,omitempty"`
	OK              bool           `json:"ok"`
}

func newReport(cfg Config, results []Result, took time.Duration) report {
	rep := report{
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		BaseURL:         cfg.BaseURL,
		Strict:          cfg.Strict,
		DurationSeconds: took.Seconds(),
		Counts:          map[string]int{StatusPass: 0, StatusFail: 0, StatusPending: 0, StatusSkip: 0},
	}
	for _, r := range results {
		rep.Counts[r.Status]++
		switch r.Status {
		case StatusFail:
			rep.Failed = append(rep.Failed, r.Name)
		case StatusPending:
			rep.Pending = append(rep.Pending, r.Name)
		}
	}
	sort.Strings(rep.Failed)
	sort.Strings(rep.Pending)
	// Pending checks only count against the run in strict mode.
	rep.OK = len(rep.Failed) == 0 && (!cfg.Strict || len(rep.Pending) == 0)
	return rep
}

func (r report) write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// parseConfig reads flags from args; every flag falls back to a QC_ variable from getenv.
func parseConfig(args []string, getenv func(string) string) (Config, error) {
	env := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}

	var cfg Config
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	fs.StringVar(&cfg.BaseURL, "base-url", env("QC_BENCH_BASE_URL", "http://localhost:8080"), "API base URL")
	fs.StringVar(&cfg.DSN, "dsn", env("QC_DB_DSN", ""), "Postgres DSN (empty skips DB checks)")
	fs.StringVar(&cfg.RedisAddr, "redis", env("QC_REDIS_ADDR", ""), "Redis address (empty skips cache checks)")
	fs.StringVar(&cfg.MigrationPath, "migration", env("QC_BENCH_MIGRATION", "migrations/0001_init.sql"), "Migration SQL path")
	fs.StringVar(&cfg.Output, "output", env("QC_BENCH_OUTPUT", ""), "optional path for a copy of the JSON report")
	fs.BoolVar(&cfg.ApplyMigration, "apply-migration", false, "Apply migration SQL before tests")
	fs.BoolVar(&cfg.Strict, "strict", false, "Fail on pending tests")
	fs.DurationVar(&cfg.Timeout, "timeout", 60*time.Second, "Total timeout")
	fs.IntVar(&cfg.Concurrency, "concurrency", 20, "Concurrency for race and perf tests")
	fs.DurationVar(&cfg.Duration, "duration", 10*time.Second, "Duration for perf tests")

	// Typed defaults come from the environment before the command line overrides them.
	for name, key := range map[string]string{
		"apply-migration": "QC_BENCH_APPLY_MIGRATION",
		"strict":          "QC_BENCH_STRICT",
		"timeout":         "QC_BENCH_TIMEOUT",
		"concurrency":     "QC_BENCH_CONCURRENCY",
		"duration":        "QC_BENCH_DURATION",
	} {
		if v := getenv(key); v != "" {
			if err := fs.Set(name, normalizeBool(v)); err != nil {
				return Config{}, fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	switch {
	case cfg.Concurrency <= 0:
		return Config{}, errors.New("concurrency must be > 0")
	case cfg.Timeout <= 0:
		return Config{}, errors.New("timeout must be > 0")
	case cfg.Duration <= 0:
		return Config{}, errors.New("duration must be > 0")
	}
	return cfg, nil
}

// normalizeBool maps yes/no to values strconv.ParseBool accepts; other values pass through.
func normalizeBool(v string) string {
	switch strings.ToLower(v) {
	case "yes", "y", "on":
		return strconv.FormatBool(true)
	case "no", "n", "off":
		return strconv.FormatBool(false)
	}
	return v
}
