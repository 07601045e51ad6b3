package metrics

import (
	"context"
	"log"
	"os"
	"time"

	"cohortetl/internal/metrics/datadog"
)

// Setup selects and installs the process metrics backend from a CLI flag
// value, falling back to the METRICS_BACKEND environment variable when the
// flag is empty. The returned func is the shutdown path and must run before
// process exit; for Datadog it stops the flush loop and submits one final
// time.
//
// Backend init failures log and leave the nop backend installed. Metrics are
// never worth failing a pipeline run over.
func Setup(backendName, jobName string, verbose bool) func() {
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}

	switch backendName {
	case "datadog":
		if jobName == "" {
			jobName = "cohortetl"
		}
		extraTags := datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))

		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName:    jobName,
			Tags:       extraTags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return func() {}
		}

		log.Printf("metrics: backend=%v job_name=%v tags=%v", backendName, jobName, extraTags)
		SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				log.Printf("metrics: datadog close/flush error: %v", err)
			}
		}

	case "", "none":
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}

	return func() {}
}
