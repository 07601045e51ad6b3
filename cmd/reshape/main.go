package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"cohortetl/internal/config"
	"cohortetl/internal/dataset"
	"cohortetl/internal/metrics"
	"cohortetl/internal/reshape"
)

// main is the entry point for the reshape binary. It loads the stage config,
// reads the source workbook, reshapes every selected sheet into long format,
// and writes the combined long table as CSV.
func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		validate          bool
	)

	flag.StringVar(&cfgPath, "config", "configs/reshape.json", "stage config JSON path")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "none", "metrics backend to use (datadog, none)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	f, err := os.Open(cfgPath)
	if err != nil {
		fatalf("open config: %v", err)
	}
	defer f.Close()

	var cfg config.Reshape
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		fatalf("decode config: %v", err)
	}

	issues := cfg.Validate()
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasError(issues) {
		log.Printf("Configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if validate {
		log.Printf("Configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	closeMetrics := metrics.Setup(metricsBackendFlg, cfg.Job, *verbose)
	defer closeMetrics()

	start := time.Now()

	sheets, err := dataset.ReadWorkbook(cfg.Workbook, cfg.Sheets)
	if err != nil {
		log.Fatalf("read workbook: %v", err)
	}

	var logf reshape.Logger
	if *verbose {
		logf = log.Printf
	}
	res := reshape.Reshape(sheets, cfg.KeyColumn, logf)

	// The header is written canonicalized so downstream stages can locate the
	// key column regardless of which spelling the config used.
	if err := dataset.WriteLongTable(cfg.Output, reshape.CanonicalLabel(cfg.KeyColumn), res.Rows); err != nil {
		log.Fatalf("write long table: %v", err)
	}

	metrics.IncCounter("cohortetl.reshape.rows", float64(len(res.Rows)))
	metrics.IncCounter("cohortetl.reshape.sheets_processed", float64(res.SheetsProcessed))
	metrics.IncCounter("cohortetl.reshape.sheets_skipped", float64(res.SheetsSkipped))
	metrics.IncCounter("cohortetl.reshape.duplicates_removed", float64(res.DuplicatesRemoved))
	metrics.ObserveDuration("cohortetl.reshape", time.Since(start).Seconds())

	log.Printf("stage=reshape sheets=%d skipped=%d duplicates=%d rows=%d duration=%s",
		res.SheetsProcessed, res.SheetsSkipped, res.DuplicatesRemoved, len(res.Rows),
		time.Since(start).Truncate(time.Millisecond))
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
