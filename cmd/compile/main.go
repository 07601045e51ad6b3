package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"cohortetl/internal/compile"
	"cohortetl/internal/config"
	"cohortetl/internal/dataset"
	"cohortetl/internal/infer"
	"cohortetl/internal/metrics"
)

// keyColumn is the patient identifier column in the long-format table.
const keyColumn = "DEIDENTIFIED_MASTER_PATIENT_ID"

// main is the entry point for the compile binary. It reads the long-format
// table, extracts the patient list, infers field definitions, applies the
// storage-compliance mapping to the value rows, and writes the three
// ingestion artifacts as CSV.
func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		validate          bool
	)

	flag.StringVar(&cfgPath, "config", "configs/compile.json", "stage config JSON path")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "none", "metrics backend to use (datadog, none)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	f, err := os.Open(cfgPath)
	if err != nil {
		fatalf("open config: %v", err)
	}
	defer f.Close()

	var cfg config.Compile
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

	nulls := compile.NullKeepBlanks
	if cfg.NullPolicy != "" {
		nulls, err = compile.NullPolicyFromString(cfg.NullPolicy)
		if err != nil {
			fatalf("%v", err)
		}
	}
	collisions, err := compile.CollisionModeFromString(cfg.CollisionMode)
	if err != nil {
		fatalf("%v", err)
	}

	closeMetrics := metrics.Setup(metricsBackendFlg, cfg.Job, *verbose)
	defer closeMetrics()

	start := time.Now()

	rows, err := dataset.ReadLongTable(cfg.Input, cfg.Encoding, keyColumn)
	if err != nil {
		log.Fatalf("read long table: %v", err)
	}
	if *verbose {
		log.Printf("loaded %d long-format rows from %s", len(rows), cfg.Input)
	}

	patients := compile.Patients(rows)
	defs := compile.FieldDefinitions(rows, infer.PolicyCompile)

	res, err := compile.Compliant(rows, defs, compile.ComplianceOptions{
		Nulls:      nulls,
		Collisions: collisions,
		Source:     cfg.Source,
	})
	if err != nil {
		log.Fatalf("compliance mapping: %v", err)
	}

	if err := dataset.WritePatients(cfg.PatientsOutput, patients); err != nil {
		log.Fatalf("write patients: %v", err)
	}
	if err := dataset.WriteFieldDefinitions(cfg.DefinitionsOutput, res.Definitions); err != nil {
		log.Fatalf("write field definitions: %v", err)
	}
	if err := dataset.WriteFieldValues(cfg.ValuesOutput, res.Values, cfg.Source != ""); err != nil {
		log.Fatalf("write field values: %v", err)
	}

	metrics.IncCounter("cohortetl.compile.rows", float64(len(rows)))
	metrics.IncCounter("cohortetl.compile.patients", float64(len(patients)))
	metrics.IncCounter("cohortetl.compile.definitions", float64(len(res.Definitions)))
	metrics.IncCounter("cohortetl.compile.nulls_dropped", float64(res.NullsDropped))
	metrics.ObserveDuration("cohortetl.compile", time.Since(start).Seconds())

	log.Printf("stage=compile rows=%d patients=%d definitions=%d values=%d nulls_dropped=%d duration=%s",
		len(rows), len(patients), len(res.Definitions), len(res.Values), res.NullsDropped,
		time.Since(start).Truncate(time.Millisecond))
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
