package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/Attilam21/Attila-Flagello-sub001/internal/gcp"
	"github.com/Attilam21/Attila-Flagello-sub001/internal/models"
	"github.com/Attilam21/Attila-Flagello-sub001/internal/observability/metrics"
	"github.com/Attilam21/Attila-Flagello-sub001/internal/parser"
	"github.com/Attilam21/Attila-Flagello-sub001/internal/store"
)

// MaxEnrichmentBytes is the largest image sent to the enrichment engine.
const MaxEnrichmentBytes int64 = 4 * 1024 * 1024

// enrichableTypes are the screens whose heuristics benefit from a model pass.
var enrichableTypes = map[models.DocumentType]bool{
	models.TypeMatchStats: true,
	models.TypeVotes:      true,
}

// IngestConfig holds all configuration for the ingestion service.
type IngestConfig struct {
	ProjectID         string
	FirestoreDatabase string
	VertexAIRegion    string
	EnrichmentEnabled bool
	EnrichmentModel   string
	Ledger            LedgerConfig
	ArchiveBucket     string
	Metrics           metrics.Config
}

// TextExtractor is the OCR engine. *gcp.VisionClient satisfies it.
type TextExtractor interface {
	ExtractText(ctx context.Context, gcsURI string) (*gcp.TextResult, error)
}

// Archiver keeps a copy of the raw OCR payload. *gcp.BucketArchiver satisfies it.
type Archiver interface {
	Archive(ctx context.Context, objectName, content string) error
}

// IngestDeps are the collaborators of the pipeline. Generator and Archiver are
// optional; Now defaults to time.Now.
type IngestDeps struct {
	Extractor TextExtractor
	Generator Generator
	Store     store.Store
	Archiver  Archiver
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Outcome tells what Process did with an event.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeReplayed  Outcome = "replayed"
	OutcomeCreated   Outcome = "created"
)

// IngestFunction turns uploaded screenshots into OCR records and projections.
type IngestFunction struct {
	config     IngestConfig
	extractor  TextExtractor
	store      store.Store
	archiver   Archiver
	metrics    *metrics.Metrics
	now        func() time.Time
	ledger     *UsageLedger
	enricher   *Enricher
	projection *ProjectionWriter
	closers    []io.Closer
	shutdown   metrics.ShutdownFunc
}

// loadConfig loads and validates all necessary environment variables for this service.
func loadConfig() (*IngestConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}

	return &IngestConfig{
		ProjectID:         projectID,
		FirestoreDatabase: gcp.GetEnv("FIRESTORE_DATABASE", ""),
		VertexAIRegion:    gcp.GetEnv("VERTEX_AI_REGION", "europe-west1"),
		EnrichmentEnabled: gcp.GetEnvBool("VERTEX_GEMINI_ENABLED", false),
		EnrichmentModel:   gcp.GetEnv("VERTEX_GEMINI_MODEL", "gemini-1.5-flash"),
		Ledger: LedgerConfig{
			DailyLimit:           gcp.GetEnvInt("VERTEX_GEMINI_DAILY_LIMIT", 200),
			MaxConsecutiveErrors: gcp.GetEnvInt("VERTEX_GEMINI_MAX_CONSEC_ERRORS", 5),
			Cooldown:             time.Duration(gcp.GetEnvInt("VERTEX_GEMINI_CIRCUIT_COOLDOWN_MIN", 15)) * time.Minute,
		},
		ArchiveBucket: gcp.GetEnv("OCR_ARCHIVE_BUCKET", ""),
		Metrics: metrics.Config{
			ExporterEndpoint: gcp.GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ExporterProtocol: gcp.GetEnv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"),
			ServiceName:      gcp.GetEnv("OTEL_SERVICE_NAME", "efb-ocr"),
		},
	}, nil
}

// NewIngest creates an IngestFunction backed by the Google Cloud clients named
// in the environment.
func NewIngest(ctx context.Context) (*IngestFunction, error) {
	config, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	var closers []io.Closer
	fail := func(err error) (*IngestFunction, error) {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, err
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID, config.FirestoreDatabase)
	if err != nil {
		return fail(fmt.Errorf("failed to create firestore client: %w", err))
	}
	closers = append(closers, firestoreClient)

	visionClient, err := gcp.NewVisionClient(ctx)
	if err != nil {
		return fail(fmt.Errorf("failed to create vision client: %w", err))
	}
	closers = append(closers, visionClient)

	deps := IngestDeps{
		Extractor: visionClient,
		Store:     store.NewFirestore(firestoreClient),
	}

	if config.EnrichmentEnabled {
		vertexClient, err := gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion, config.EnrichmentModel)
		if err != nil {
			return fail(fmt.Errorf("failed to create vertex client: %w", err))
		}
		closers = append(closers, vertexClient)
		deps.Generator = vertexClient
	}

	if config.ArchiveBucket != "" {
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			return fail(fmt.Errorf("failed to create storage client: %w", err))
		}
		closers = append(closers, storageClient)
		deps.Archiver = gcp.NewBucketArchiver(storageClient, config.ArchiveBucket)
	}

	provider, shutdown, err := metrics.NewProvider(config.Metrics)
	if err != nil {
		return fail(fmt.Errorf("failed to create meter provider: %w", err))
	}
	deps.Metrics, err = metrics.New(config.Metrics, provider)
	if err != nil {
		_ = shutdown(ctx)
		return fail(fmt.Errorf("failed to create metrics: %w", err))
	}

	f, err := NewIngestPipeline(*config, deps)
	if err != nil {
		_ = shutdown(ctx)
		return fail(err)
	}
	f.closers = closers
	f.shutdown = shutdown

	slog.Info("Ingest logic initialized.",
		"enrichmentEnabled", config.EnrichmentEnabled,
		"model", config.EnrichmentModel,
		"dailyLimit", config.Ledger.DailyLimit,
		"archiveBucket", config.ArchiveBucket,
	)
	return f, nil
}

// NewIngestPipeline wires an IngestFunction from explicit dependencies.
func NewIngestPipeline(config IngestConfig, deps IngestDeps) (*IngestFunction, error) {
	if deps.Extractor == nil || deps.Store == nil {
		return nil, errors.New("NewIngestPipeline: extractor and store are required")
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	f := &IngestFunction{
		config:     config,
		extractor:  deps.Extractor,
		store:      deps.Store,
		archiver:   deps.Archiver,
		metrics:    deps.Metrics,
		now:        now,
		ledger:     NewUsageLedger(deps.Store, config.Ledger, now),
		projection: NewProjectionWriter(deps.Store, now),
	}
	if config.EnrichmentEnabled && deps.Generator != nil {
		enricher, err := NewEnricher(deps.Generator)
		if err != nil {
			return nil, fmt.Errorf("failed to create enricher: %w", err)
		}
		f.enricher = enricher
	}
	return f, nil
}

// Close releases the underlying clients and flushes metrics.
func (f *IngestFunction) Close(ctx context.Context) error {
	var errs []error
	if f.shutdown != nil {
		errs = append(errs, f.shutdown(ctx))
	}
	for _, c := range f.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Process handles one finalized upload. It returns an error only when the
// event should be retried: OCR failed, or the record or its projection could
// not be written.
func (f *IngestFunction) Process(ctx context.Context, ev models.UploadEvent) (Outcome, error) {
	logCtx := slog.With("uid", ev.UID, "storagePath", ev.StoragePath, "docType", ev.Type, "matchId", ev.MatchID)

	if !strings.HasPrefix(ev.ContentType, "image/") {
		logCtx.Info("Ignoring non-image upload.", "contentType", ev.ContentType)
		f.metrics.RecordSkipped(ctx, "not_image")
		return OutcomeSkipped, nil
	}
	if ev.UID == "" || ev.Type == "" {
		logCtx.Info("Ignoring upload without uid or type metadata.")
		f.metrics.RecordSkipped(ctx, "missing_metadata")
		return OutcomeSkipped, nil
	}
	if !ev.Type.Known() {
		logCtx.Warn("Unrecognised document type, record will be flagged for review.")
	}

	existing, err := f.store.FindRecordBySource(ctx, ev.UID, ev.StoragePath)
	if err != nil {
		logCtx.Warn("Duplicate check failed, processing anyway.", "error", err)
	}
	if existing != nil {
		return f.handleDuplicate(ctx, logCtx, existing)
	}

	logCtx.Info("Starting OCR.")
	text, err := f.extractor.ExtractText(ctx, ev.GCSUri())
	if err != nil {
		logCtx.Error("OCR failed.", "error", err)
		return "", fmt.Errorf("failed to extract text from %s: %w", ev.GCSUri(), err)
	}

	result := parser.Parse(ev.Type, text.FullText)
	fields, err := result.FieldMap()
	if err != nil {
		fields = map[string]any{}
		result.NeedsReview = true
		result.Errors = append(result.Errors, err.Error())
	}
	if ev.Type == models.TypeOpponentFormation {
		if image, _ := fields["image"].(string); image == "" {
			fields["image"] = gcp.DownloadURL(ev.Bucket, ev.StoragePath)
		}
	}
	logCtx.Info("Heuristic parse complete.", "needsReview", result.NeedsReview, "parseErrors", len(result.Errors))

	meta := DefaultMeta(ev.MatchID, result.NeedsReview)
	fields, meta = f.maybeEnrich(ctx, logCtx, ev, text.FullText, fields, meta)

	now := f.now()
	rec := &models.OcrRecord{
		UID:  ev.UID,
		Type: ev.Type,
		Source: models.Source{
			StoragePath: ev.StoragePath,
			DownloadURL: gcp.DownloadURL(ev.Bucket, ev.StoragePath),
		},
		Vision: models.VisionPayload{
			Engine:    text.Engine,
			RawText:   text.FullText,
			Blocks:    text.Words,
			LangHints: text.LangHints,
		},
		Fields: fields,
		Meta:   meta,
		Status: models.RecordStatus{
			Parsed:      true,
			NeedsReview: FinalNeedsReview(result.NeedsReview, meta.Confidence),
			Errors:      result.Errors,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if rec.Status.Errors == nil {
		rec.Status.Errors = []string{}
	}

	recordID, err := f.store.CreateRecord(ctx, rec)
	if err != nil {
		logCtx.Error("Failed to write OCR record.", "error", err)
		return "", fmt.Errorf("failed to write ocr record: %w", err)
	}
	logCtx = logCtx.With("recordId", recordID)
	logCtx.Info("OCR record written.", "needsReview", rec.Status.NeedsReview, "confidence", meta.Confidence)

	f.archive(ctx, logCtx, recordID, rec)

	if err := f.projection.Project(ctx, logCtx, recordID, rec); err != nil {
		return "", err
	}

	f.metrics.RecordProcessed(ctx, string(ev.Type), rec.Status.NeedsReview)
	logCtx.Info("Upload processed.")
	return OutcomeCreated, nil
}

// handleDuplicate finishes the work of an earlier delivery that wrote the
// record but crashed before its projection landed.
func (f *IngestFunction) handleDuplicate(ctx context.Context, logCtx *slog.Logger, existing *models.StoredRecord) (Outcome, error) {
	logCtx = logCtx.With("recordId", existing.ID)
	if existing.Record.Status.Projected {
		logCtx.Info("Upload already processed, skipping.")
		f.metrics.RecordSkipped(ctx, "duplicate")
		return OutcomeDuplicate, nil
	}

	logCtx.Warn("Found record without projection, replaying write-through.")
	if err := f.projection.Project(ctx, logCtx, existing.ID, &existing.Record); err != nil {
		return "", err
	}
	return OutcomeReplayed, nil
}

func (f *IngestFunction) shouldEnrich(ev models.UploadEvent) bool {
	return f.enricher != nil && enrichableTypes[ev.Type] && ev.SizeBytes <= MaxEnrichmentBytes
}

// maybeEnrich runs the gated enrichment pass. Every failure path falls back to
// the heuristic fields and default metadata it was given.
func (f *IngestFunction) maybeEnrich(ctx context.Context, logCtx *slog.Logger, ev models.UploadEvent, rawText string, fields map[string]any, meta models.RecordMeta) (map[string]any, models.RecordMeta) {
	if !f.shouldEnrich(ev) {
		return fields, meta
	}

	decision, err := f.ledger.Admit(ctx, ev.UID)
	if err != nil {
		logCtx.Error("Enrichment gate unavailable, using heuristics.", "error", err)
		return fields, meta
	}
	if !decision.Allowed {
		logCtx.Info("Enrichment skipped.", "reason", decision.Reason)
		f.metrics.RecordEnrichmentDenied(ctx, string(ev.Type), string(decision.Reason))
		return fields, meta
	}
	f.metrics.RecordEnrichmentAllowed(ctx, string(ev.Type))

	env, err := f.enricher.Enrich(ctx, EnrichmentRequest{
		Type:        ev.Type,
		RawText:     rawText,
		BaseFields:  fields,
		ImageURI:    ev.GCSUri(),
		ContentType: ev.ContentType,
	})
	if err != nil {
		opened, recErr := f.ledger.RecordError(ctx, ev.UID)
		if recErr != nil {
			logCtx.Error("Failed to record enrichment error.", "error", recErr)
		}
		f.metrics.RecordEnrichmentError(ctx, string(ev.Type), opened)
		logCtx.Warn("Enrichment failed, using heuristics.", "error", err, "circuitOpened", opened)
		return fields, meta
	}

	if err := f.ledger.RecordSuccess(ctx, ev.UID); err != nil {
		logCtx.Warn("Failed to reset enrichment error counter.", "error", err)
	}
	return env.ApplyTo(fields, meta)
}

type archivedOCR struct {
	UID         string                  `json:"uid"`
	RecordID    string                  `json:"recordId"`
	StoragePath string                  `json:"storagePath"`
	Engine      string                  `json:"engine"`
	LangHints   []string                `json:"langHints"`
	RawText     string                  `json:"rawText"`
	Words       []models.WordAnnotation `json:"words"`
}

// archive stores the raw OCR payload as {uid}/{recordId}.json. It never fails
// the invocation.
func (f *IngestFunction) archive(ctx context.Context, logCtx *slog.Logger, recordID string, rec *models.OcrRecord) {
	if f.archiver == nil {
		return
	}
	payload, err := json.Marshal(archivedOCR{
		UID:         rec.UID,
		RecordID:    recordID,
		StoragePath: rec.Source.StoragePath,
		Engine:      rec.Vision.Engine,
		LangHints:   rec.Vision.LangHints,
		RawText:     rec.Vision.RawText,
		Words:       rec.Vision.Blocks,
	})
	if err != nil {
		logCtx.Warn("Failed to encode OCR archive.", "error", err)
		return
	}
	objectName := rec.UID + "/" + recordID + ".json"
	if err := f.archiver.Archive(ctx, objectName, string(payload)); err != nil {
		logCtx.Warn("Failed to archive raw OCR.", "object", objectName, "error", err)
	}
}
