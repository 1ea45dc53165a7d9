package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/madhavanrx18/soc-challenge/internal/batch"
	"github.com/madhavanrx18/soc-challenge/internal/config"
	"github.com/madhavanrx18/soc-challenge/internal/engine"
	"github.com/madhavanrx18/soc-challenge/internal/logger"
	"github.com/madhavanrx18/soc-challenge/internal/observability"
)

func main() {
	var (
		configPath = flag.String("config", "configs/default.yaml", "Configuration file path")
		inputFile  = flag.String("input", "", "Input dataset file (CSV, JSONL, or Parquet)")
		outputFile = flag.String("output", "", "Output file (defaults to <input>_redacted.<ext>)")
		tenant     = flag.String("tenant", "default", "Policy tenant applied to all records")
		batchSize  = flag.Int("batch-size", 500, "Batch size for processing")
		workers    = flag.Int("workers", 4, "Number of worker goroutines")
		dryRun     = flag.Bool("dry-run", false, "Dry run - don't write output")
		showAudit  = flag.Bool("audit", false, "Print audit summary after the run")
	)
	flag.Parse()

	if *inputFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input records.csv --batch-size 500\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input records.parquet --workers 8 --tenant acme\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input records.jsonl --output clean.jsonl --audit\n", os.Args[0])
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting redactd batch pipeline",
		zap.String("version", "0.1.0"),
		zap.String("config", *configPath))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	metrics := observability.NewMetrics("redactd_batch")

	eng, err := engine.New(cfg, metrics, log, "batch")
	if err != nil {
		log.Fatal("Failed to create redaction engine", zap.Error(err))
	}
	eng.Start(ctx)

	output := *outputFile
	if output == "" {
		output = defaultOutputPath(*inputFile)
	}

	batchConfig := &batch.Config{
		Tenant:         *tenant,
		BatchSize:      *batchSize,
		WorkerCount:    *workers,
		ValidateData:   true,
		ProgressReport: 1000,
		DryRun:         *dryRun,
	}

	pipeline := batch.NewPipeline(eng, batchConfig, log.WithComponent("batch").Logger)

	result, err := pipeline.ProcessFile(ctx, *inputFile, output)
	if err != nil {
		eng.Close()
		log.Fatal("Batch processing failed", zap.Error(err))
	}

	fmt.Printf("\n=== Redaction Summary ===\n")
	fmt.Printf("Total Records:      %d\n", result.TotalRecords)
	fmt.Printf("Processed OK:       %d\n", result.ProcessedOK)
	fmt.Printf("Processed Failed:   %d\n", result.ProcessedFailed)
	if result.TotalRecords > 0 {
		fmt.Printf("PII Records:        %d (%.1f%%)\n", result.PIIRecords,
			float64(result.PIIRecords)/float64(result.TotalRecords)*100)
	}
	fmt.Printf("Timed Out:          %d\n", result.TimedOut)
	fmt.Printf("Malformed:          %d\n", result.Malformed)
	fmt.Printf("Duration:           %v\n", result.Duration)
	if result.Duration.Seconds() > 0 {
		fmt.Printf("Records/sec:        %.1f\n", float64(result.TotalRecords)/result.Duration.Seconds())
	}
	if len(result.Categories) > 0 {
		fmt.Printf("\n=== Detections by Category ===\n")
		for category, count := range result.Categories {
			fmt.Printf("%-18s %d\n", string(category)+":", count)
		}
	}

	// Stop background work; Close waits for the audit queue to drain
	cancel()
	eng.Close()

	if *showAudit {
		stats := eng.Sink().Export()
		fmt.Printf("\n=== Audit Summary ===\n")
		fmt.Printf("Records:            %d\n", stats.Records)
		fmt.Printf("Dropped:            %d\n", stats.Dropped)
		fmt.Printf("p50 Latency:        %.2f ms\n", float64(stats.LatencyP50Micros)/1000)
		fmt.Printf("p99 Latency:        %.2f ms\n", float64(stats.LatencyP99Micros)/1000)
	}

	log.Info("Batch pipeline completed successfully",
		zap.String("output", output))
}

// defaultOutputPath derives <name>_redacted.<ext> next to the input
// file.
func defaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	base := strings.TrimSuffix(input, ext)
	if ext == "" {
		ext = ".csv"
	}
	return base + "_redacted" + ext
}
