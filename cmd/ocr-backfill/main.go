package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/Attilam21/Attila-Flagello-sub001/internal/gcp"
	"github.com/Attilam21/Attila-Flagello-sub001/internal/models"
	"github.com/Attilam21/Attila-Flagello-sub001/internal/services"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		bucket      = flag.String("bucket", "", "upload bucket to scan (required)")
		prefix      = flag.String("prefix", "", "only process objects under this prefix")
		concurrency = flag.Int("concurrency", 8, "maximum uploads processed in parallel")
		dryRun      = flag.Bool("dry-run", false, "list actionable uploads without processing them")
	)
	flag.Parse()

	if *bucket == "" {
		printError("Error: --bucket is required\n")
		os.Exit(1)
	}
	if *concurrency < 1 {
		printError("Error: --concurrency must be at least 1\n")
		os.Exit(1)
	}

	_ = godotenv.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx := context.Background()

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		logger.Error("failed to create storage client", "error", err)
		os.Exit(1)
	}
	defer storageClient.Close()

	var events []models.UploadEvent
	err = gcp.WalkObjects(ctx, storageClient, *bucket, *prefix, func(attrs *storage.ObjectAttrs) error {
		events = append(events, eventFromAttrs(attrs))
		return nil
	})
	if err != nil {
		logger.Error("failed to list uploads", "error", err)
		os.Exit(1)
	}
	logger.Info("uploads listed", "bucket", *bucket, "prefix", *prefix, "count", len(events))

	if *dryRun {
		for _, ev := range events {
			logger.Info("upload", "storagePath", ev.StoragePath, "uid", ev.UID, "type", ev.Type, "contentType", ev.ContentType)
		}
		return
	}

	ingest, err := services.NewIngest(ctx)
	if err != nil {
		logger.Error("failed to initialize ingest", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := ingest.Close(ctx); err != nil {
			logger.Warn("failed to close ingest clients", "error", err)
		}
	}()

	var (
		mu       sync.Mutex
		outcomes = map[services.Outcome]int{}
		failed   int
	)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(*concurrency)
	for _, ev := range events {
		eg.Go(func() error {
			outcome, err := ingest.Process(gctx, ev)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// One bad upload must not stop the rest of the backfill.
				failed++
				logger.Error("upload failed", "storagePath", ev.StoragePath, "error", err)
				return nil
			}
			outcomes[outcome]++
			return nil
		})
	}
	_ = eg.Wait()

	logger.Info("backfill complete",
		"created", outcomes[services.OutcomeCreated],
		"replayed", outcomes[services.OutcomeReplayed],
		"duplicates", outcomes[services.OutcomeDuplicate],
		"skipped", outcomes[services.OutcomeSkipped],
		"failed", failed,
	)
	if failed > 0 {
		os.Exit(1)
	}
}

// eventFromAttrs builds the same payload a finalize event would carry.
func eventFromAttrs(attrs *storage.ObjectAttrs) models.UploadEvent {
	return models.StorageObjectData{
		Bucket:      attrs.Bucket,
		Name:        attrs.Name,
		ContentType: attrs.ContentType,
		Size:        json.Number(strconv.FormatInt(attrs.Size, 10)),
		Metadata:    attrs.Metadata,
	}.ToUploadEvent()
}
