package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"cohortetl/internal/config"
	"cohortetl/internal/dataset"
	"cohortetl/internal/infer"
	"cohortetl/internal/ingest"
	"cohortetl/internal/metrics"
	"cohortetl/internal/storage"
	"cohortetl/pkg/records"

	// register all backends with the storage factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "cohortetl/internal/storage/all"
)

// main is the entry point for the ingest binary. It loads the compiled
// artifacts, opens the configured storage backend, and ingests patients,
// field definitions and field values inside one transaction.
func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		validate          bool
	)

	flag.StringVar(&cfgPath, "config", "configs/ingest.json", "stage config JSON path")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "none", "metrics backend to use (datadog, none)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	f, err := os.Open(cfgPath)
	if err != nil {
		fatalf("open config: %v", err)
	}
	defer f.Close()

	var cfg config.Ingest
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

	// Ctrl-C cancels the context; the adapter checks it once per batch and
	// rolls back the open transaction.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()

	values, err := dataset.ReadFieldValues(cfg.ValuesInput, cfg.Encoding)
	if err != nil {
		log.Fatalf("read field values: %v", err)
	}

	var defs []records.FieldDefinition
	if cfg.DefinitionsInput != "" {
		defs, err = dataset.ReadFieldDefinitions(cfg.DefinitionsInput, cfg.Encoding)
		if err != nil {
			log.Fatalf("read field definitions: %v", err)
		}
	} else {
		defs = ingest.DefinitionsFromValues(values, infer.PolicyIngest)
		if *verbose {
			log.Printf("inferred %d field definitions from values", len(defs))
		}
	}

	patients := ingest.UniquePatients(values)

	repo, err := storage.New(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.ExpandDSN()})
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer repo.Close()

	if err := repo.EnsureTables(ctx); err != nil {
		log.Fatalf("ensure tables: %v", err)
	}

	var logf ingest.Logger
	if *verbose {
		logf = log.Printf
	}
	adapter := &ingest.Adapter{Repo: repo, BatchSize: cfg.BatchSize, Logf: logf}

	if err := adapter.Run(ctx, patients, defs, values); err != nil {
		log.Fatalf("ingest: %v", err)
	}

	metrics.IncCounter("cohortetl.ingest.patients", float64(len(patients)))
	metrics.IncCounter("cohortetl.ingest.definitions", float64(len(defs)))
	metrics.IncCounter("cohortetl.ingest.values", float64(len(values)))
	metrics.ObserveDuration("cohortetl.ingest", time.Since(start).Seconds())

	log.Printf("stage=ingest backend=%s patients=%d definitions=%d values=%d duration=%s",
		cfg.Storage.Kind, len(patients), len(defs), len(values),
		time.Since(start).Truncate(time.Millisecond))
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
