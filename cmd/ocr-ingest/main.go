package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/joho/godotenv"

	"github.com/Attilam21/Attila-Flagello-sub001/internal/models"
	"github.com/Attilam21/Attila-Flagello-sub001/internal/services"
)

var (
	ingestInstance *services.IngestFunction
	once           sync.Once
	initErr        error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// A .env file is only present for local runs.
	_ = godotenv.Load()

	// Register the CloudEvent function for storage object finalize events.
	functions.CloudEvent("OnImageUpload", onImageUpload)
}

// main is required by the Go Functions Framework.
func main() {}

// onImageUpload is the Cloud Function entry point.
func onImageUpload(ctx context.Context, e cloudevents.Event) error {
	// Use sync.Once for robust, one-time initialization of clients.
	once.Do(func() {
		ingestInstance, initErr = services.NewIngest(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var data models.StorageObjectData
	if err := json.Unmarshal(e.Data(), &data); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "eventId", e.ID(), "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Returning an error marks the invocation as failed so the platform retries it.
	if _, err := ingestInstance.Process(ctx, data.ToUploadEvent()); err != nil {
		return err
	}
	return nil
}
