package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/cod3vil/data-veil/internal/audit"
	"github.com/cod3vil/data-veil/internal/config"
	"github.com/cod3vil/data-veil/internal/logger"
)

// auditRow is the flattened Parquet layout of one audit record.
type auditRow struct {
	ID            string `parquet:"id" json:"id"`
	TaskID        string `parquet:"task_id" json:"task_id"`
	OperationType string `parquet:"operation_type" json:"operation_type"`
	Details       string `parquet:"details" json:"details"`
	CreatedAt     int64  `parquet:"created_at_unix_ms" json:"created_at_unix_ms"`
}

func main() {
	var (
		configPath = flag.String("config", "configs/default.yaml", "Configuration file path")
		outputFile = flag.String("output", "", "Output Parquet file path")
		since      = flag.Duration("since", 30*24*time.Hour, "Export records newer than this age")
		limit      = flag.Int("limit", 0, "Maximum number of records to export (0 = all)")
		showStats  = flag.Bool("stats", false, "Show audit store statistics and exit")
	)
	flag.Parse()

	if *outputFile == "" && !*showStats {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --output audit.parquet --since 168h\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --stats\n", os.Args[0])
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if !cfg.Audit.Enabled {
		fmt.Fprintln(os.Stderr, "Audit store is disabled in the configuration")
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

	store, err := audit.NewStore(cfg.Audit, log.WithComponent("audit").Logger)
	if err != nil {
		log.Fatal("Failed to connect to audit store", zap.Error(err))
	}
	defer store.Close()

	if *showStats {
		count, err := store.Count(ctx)
		if err != nil {
			log.Fatal("Failed to count audit records", zap.Error(err))
		}
		fmt.Printf("Audit records: %d\n", count)
		return
	}

	if err := dumpRecords(ctx, store, *outputFile, time.Now().Add(-*since), *limit, log); err != nil {
		log.Fatal("Audit dump failed", zap.Error(err))
	}

	log.Info("Audit dump completed successfully")
}

// dumpRecords writes the selected audit records to a Parquet file.
func dumpRecords(ctx context.Context, store *audit.Store, path string, since time.Time, limit int, log *logger.Logger) error {
	records, err := store.List(ctx, since, limit)
	if err != nil {
		return fmt.Errorf("failed to list audit records: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("no audit records newer than %s", since.Format(time.RFC3339))
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	writer := parquet.NewWriter(file, parquet.SchemaOf(auditRow{}))
	for _, record := range records {
		row := auditRow{
			ID:            record.ID,
			TaskID:        record.TaskID,
			OperationType: record.OperationType,
			Details:       record.Details,
			CreatedAt:     record.CreatedAt.UnixMilli(),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write audit row: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize Parquet file: %w", err)
	}

	log.Info("Wrote audit records",
		zap.String("output", path),
		zap.Int("records", len(records)),
	)
	return nil
}
