package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Attilam21/Attila-Flagello-sub001/internal/gcp"
	"github.com/Attilam21/Attila-Flagello-sub001/internal/models"
	"github.com/Attilam21/Attila-Flagello-sub001/internal/store"
)

type fakeExtractor struct {
	text  string
	err   error
	calls int
}

func (e *fakeExtractor) ExtractText(_ context.Context, gcsURI string) (*gcp.TextResult, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return &gcp.TextResult{
		FullText:  e.text,
		Words:     []models.WordAnnotation{{Text: "Team", BoundingPolygon: []models.Vertex{{X: 1, Y: 2}}}},
		Engine:    gcp.VisionEngineName,
		LangHints: gcp.DefaultLangHints,
	}, nil
}

type fakeArchiver struct {
	objects map[string]string
	err     error
}

func (a *fakeArchiver) Archive(_ context.Context, objectName, content string) error {
	if a.err != nil {
		return a.err
	}
	if a.objects == nil {
		a.objects = map[string]string{}
	}
	a.objects[objectName] = content
	return nil
}

const statsText = "Team A – Team B 3\nPossesso di palla 54% 46%\nTiri 12 8"

type pipelineFixture struct {
	fn        *IngestFunction
	store     *store.Memory
	extractor *fakeExtractor
	generator *fakeGenerator
	archiver  *fakeArchiver
	clock     *fakeClock
}

func newPipelineFixture(t *testing.T, enabled bool, text string) *pipelineFixture {
	t.Helper()
	fx := &pipelineFixture{
		store:     store.NewMemory(),
		extractor: &fakeExtractor{text: text},
		generator: &fakeGenerator{},
		archiver:  &fakeArchiver{},
		clock:     newFakeClock(time.Date(2024, 5, 1, 18, 30, 0, 0, time.UTC)),
	}
	fn, err := NewIngestPipeline(IngestConfig{
		EnrichmentEnabled: enabled,
		Ledger:            LedgerConfig{DailyLimit: 2, MaxConsecutiveErrors: 2, Cooldown: 15 * time.Minute},
	}, IngestDeps{
		Extractor: fx.extractor,
		Generator: fx.generator,
		Store:     fx.store,
		Archiver:  fx.archiver,
		Now:       fx.clock.Now,
	})
	require.NoError(t, err)
	fn.projection.firstBackoff = time.Millisecond
	fx.fn = fn
	return fx
}

func uploadEvent(docType models.DocumentType, path string) models.UploadEvent {
	return models.StorageObjectData{
		Bucket:      "efb-uploads",
		Name:        path,
		ContentType: "image/png",
		Size:        "204800",
		Metadata:    map[string]string{"uid": "u1", "type": string(docType), "matchId": "m1"},
	}.ToUploadEvent()
}

func TestProcessIgnoresNonImage(t *testing.T) {
	fx := newPipelineFixture(t, true, statsText)
	ev := uploadEvent(models.TypeMatchStats, "u1/notes.txt")
	ev.ContentType = "text/plain"

	outcome, err := fx.fn.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Equal(t, 0, fx.store.Mutations())
	assert.Equal(t, 0, fx.extractor.calls)
	assert.Empty(t, fx.store.Records("u1"))
}

func TestProcessIgnoresMissingMetadata(t *testing.T) {
	fx := newPipelineFixture(t, false, statsText)
	for _, drop := range []string{"uid", "type"} {
		data := models.StorageObjectData{
			Bucket: "efb-uploads", Name: "u1/a.png", ContentType: "image/png",
			Metadata: map[string]string{"uid": "u1", "type": "VOTES"},
		}
		delete(data.Metadata, drop)

		outcome, err := fx.fn.Process(context.Background(), data.ToUploadEvent())
		require.NoError(t, err)
		assert.Equal(t, OutcomeSkipped, outcome, drop)
	}
	assert.Equal(t, 0, fx.store.Mutations())
}

func TestProcessHeuristicOnly(t *testing.T) {
	fx := newPipelineFixture(t, false, statsText)
	ctx := context.Background()

	outcome, err := fx.fn.Process(ctx, uploadEvent(models.TypeMatchStats, "u1/stats.png"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.Equal(t, 0, fx.generator.calls)

	recs := fx.store.Records("u1")
	require.Len(t, recs, 1)
	rec := recs[0].Record
	assert.Equal(t, models.TypeMatchStats, rec.Type)
	assert.Equal(t, "u1/stats.png", rec.Source.StoragePath)
	assert.Equal(t, "https://storage.googleapis.com/efb-uploads/u1%2Fstats.png", rec.Source.DownloadURL)
	assert.Equal(t, gcp.VisionEngineName, rec.Vision.Engine)
	assert.Equal(t, statsText, rec.Vision.RawText)
	assert.Len(t, rec.Vision.Blocks, 1)
	assert.Equal(t, map[string]any{"us": 54.0, "oppo": 46.0}, rec.Fields["poss"])
	assert.Equal(t, "Team A", rec.Fields["teamUser"])
	assert.Equal(t, models.RecordMeta{MatchID: "m1", DetectedLanguage: "generic", Confidence: 0.8}, rec.Meta)
	assert.True(t, rec.Status.Parsed)
	assert.False(t, rec.Status.NeedsReview)
	assert.True(t, rec.Status.Projected)
	assert.Equal(t, []string{}, rec.Status.Errors)
	assert.Equal(t, fx.clock.Now(), rec.CreatedAt)

	proj, ok := fx.store.Document("users/u1/matches/m1/stats/main")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"us": 12.0, "oppo": 8.0}, proj["tiri"])
	assert.Equal(t, fx.clock.Now(), proj["_updatedAt"])

	require.Contains(t, fx.archiver.objects, "u1/"+recs[0].ID+".json")
	assert.Contains(t, fx.archiver.objects["u1/"+recs[0].ID+".json"], "Possesso di palla")
}

func TestProcessDuplicatePathIsNoop(t *testing.T) {
	fx := newPipelineFixture(t, false, statsText)
	ctx := context.Background()
	ev := uploadEvent(models.TypeMatchStats, "u1/stats.png")

	_, err := fx.fn.Process(ctx, ev)
	require.NoError(t, err)
	mutations := fx.store.Mutations()

	outcome, err := fx.fn.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Len(t, fx.store.Records("u1"), 1)
	assert.Equal(t, 1, fx.extractor.calls, "no OCR for duplicates")
	assert.Equal(t, mutations, fx.store.Mutations())
}

func TestProcessContinuesWhenDuplicateCheckFails(t *testing.T) {
	fx := newPipelineFixture(t, false, statsText)
	fx.store.FindErr = errors.New("index missing")

	outcome, err := fx.fn.Process(context.Background(), uploadEvent(models.TypeMatchStats, "u1/stats.png"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.Len(t, fx.store.Records("u1"), 1)
}

func TestProcessOCRFailureWritesNothing(t *testing.T) {
	fx := newPipelineFixture(t, false, "")
	fx.extractor.err = errors.New("vision unavailable")

	_, err := fx.fn.Process(context.Background(), uploadEvent(models.TypeRoster, "u1/roster.png"))
	require.Error(t, err)
	assert.ErrorIs(t, err, fx.extractor.err)
	assert.Equal(t, 0, fx.store.Mutations())
}

func TestProcessEnrichmentMergesOverHeuristics(t *testing.T) {
	fx := newPipelineFixture(t, true, statsText)
	fx.generator.response = `{"fields":{"result":{"us":3,"oppo":1},"teamOppo":"Team B FC"},"meta":{"detectedLanguage":"it","confidence":0.92}}`

	_, err := fx.fn.Process(context.Background(), uploadEvent(models.TypeMatchStats, "u1/stats.png"))
	require.NoError(t, err)
	require.Equal(t, 1, fx.generator.calls)
	assert.Equal(t, "gs://efb-uploads/u1/stats.png", fx.generator.last.ImageURI)

	rec := fx.store.Records("u1")[0].Record
	assert.Equal(t, map[string]any{"us": 3.0, "oppo": 1.0}, rec.Fields["result"])
	assert.Equal(t, "Team B FC", rec.Fields["teamOppo"])
	assert.Equal(t, "Team A", rec.Fields["teamUser"])
	assert.Equal(t, "it", rec.Meta.DetectedLanguage)
	assert.InDelta(t, 0.92, rec.Meta.Confidence, 1e-9)
	assert.False(t, rec.Status.NeedsReview)

	usage, ok := fx.store.Usage("u1", "2024-05-01")
	require.True(t, ok)
	assert.Equal(t, 1, usage.Calls)
}

func TestProcessLowConfidenceNeedsReview(t *testing.T) {
	fx := newPipelineFixture(t, true, statsText)
	fx.generator.response = `{"fields":{},"meta":{"confidence":0.5}}`

	_, err := fx.fn.Process(context.Background(), uploadEvent(models.TypeMatchStats, "u1/stats.png"))
	require.NoError(t, err)
	rec := fx.store.Records("u1")[0].Record
	assert.True(t, rec.Status.NeedsReview)
	assert.Equal(t, 0.5, rec.Meta.Confidence)
}

func TestProcessEnrichmentFailureKeepsHeuristics(t *testing.T) {
	fx := newPipelineFixture(t, true, "Rossi 6.5\nVerdi 7.0")
	fx.generator.err = errors.New("503 from model")

	outcome, err := fx.fn.Process(context.Background(), uploadEvent(models.TypeVotes, "u1/votes.png"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)

	rec := fx.store.Records("u1")[0].Record
	assert.Equal(t, []any{
		map[string]any{"name": "Rossi", "vote": 6.5},
		map[string]any{"name": "Verdi", "vote": 7.0},
	}, rec.Fields["votes"])
	assert.Equal(t, models.RecordMeta{MatchID: "m1", DetectedLanguage: "generic", Confidence: 0.8}, rec.Meta)
	assert.True(t, rec.Status.Projected)

	usage, ok := fx.store.Usage("u1", "2024-05-01")
	require.True(t, ok)
	assert.Equal(t, 1, usage.Errors)

	_, ok = fx.store.Document("users/u1/matches/m1/votes/main")
	assert.True(t, ok)
}

func TestProcessOpensCircuitAfterRepeatedFailures(t *testing.T) {
	fx := newPipelineFixture(t, true, "Rossi 6.5")
	fx.generator.err = errors.New("503 from model")
	fx.fn.config.Ledger.DailyLimit = 10
	fx.fn.ledger.config.DailyLimit = 10
	ctx := context.Background()

	for i, path := range []string{"u1/a.png", "u1/b.png", "u1/c.png"} {
		_, err := fx.fn.Process(ctx, uploadEvent(models.TypeVotes, path))
		require.NoError(t, err, i)
	}
	assert.Equal(t, 2, fx.generator.calls, "third upload is refused by the open circuit")
	assert.Len(t, fx.store.Records("u1"), 3)
}

func TestProcessSkipsEnrichmentWhenNotEligible(t *testing.T) {
	cases := map[string]func(ev *models.UploadEvent){
		"roster type":   func(ev *models.UploadEvent) { ev.Type = models.TypeRoster },
		"heatmap type":  func(ev *models.UploadEvent) { ev.Type = models.TypeHeatmap },
		"oversized":     func(ev *models.UploadEvent) { ev.SizeBytes = MaxEnrichmentBytes + 1 },
		"opponent type": func(ev *models.UploadEvent) { ev.Type = models.TypeOpponentFormation },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			fx := newPipelineFixture(t, true, statsText)
			ev := uploadEvent(models.TypeMatchStats, "u1/x.png")
			mutate(&ev)

			_, err := fx.fn.Process(context.Background(), ev)
			require.NoError(t, err)
			assert.Equal(t, 0, fx.generator.calls)
			_, ok := fx.store.Usage("u1", "2024-05-01")
			assert.False(t, ok)
		})
	}
}

func TestProcessEnrichmentAtSizeCeiling(t *testing.T) {
	fx := newPipelineFixture(t, true, statsText)
	fx.generator.response = `{"fields":{}}`
	ev := uploadEvent(models.TypeMatchStats, "u1/x.png")
	ev.SizeBytes = MaxEnrichmentBytes

	_, err := fx.fn.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.generator.calls)
}

func TestProcessDailyLimitFallsBackToHeuristics(t *testing.T) {
	fx := newPipelineFixture(t, true, "Rossi 6.5")
	fx.generator.response = `{"fields":{}}`
	ctx := context.Background()

	for _, path := range []string{"u1/a.png", "u1/b.png", "u1/c.png"} {
		_, err := fx.fn.Process(ctx, uploadEvent(models.TypeVotes, path))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, fx.generator.calls)
	assert.Len(t, fx.store.Records("u1"), 3)
}

func TestProcessProjectionTargets(t *testing.T) {
	cases := []struct {
		docType models.DocumentType
		text    string
		path    string
	}{
		{models.TypeRoster, "Buffon 88 GK", "users/u1/roster/current"},
		{models.TypeMatchStats, statsText, "users/u1/matches/m1/stats/main"},
		{models.TypeVotes, "Rossi 6.5", "users/u1/matches/m1/votes/main"},
		{models.TypeHeatmap, "46% 45% 9%", "users/u1/matches/m1/heatmap/main"},
		{models.TypeOpponentFormation, "", "users/u1/opponent/m1"},
	}
	for _, tc := range cases {
		t.Run(string(tc.docType), func(t *testing.T) {
			fx := newPipelineFixture(t, false, tc.text)
			_, err := fx.fn.Process(context.Background(), uploadEvent(tc.docType, "u1/shot.png"))
			require.NoError(t, err)

			doc, ok := fx.store.Document(tc.path)
			require.True(t, ok)
			assert.Contains(t, doc, "_updatedAt")
		})
	}
}

func TestProcessProjectionKeepsUnrelatedFields(t *testing.T) {
	fx := newPipelineFixture(t, false, "Buffon 88 GK")
	ctx := context.Background()
	require.NoError(t, fx.store.MergeDocument(ctx, "users/u1/roster/current", map[string]any{"favourite": true}))

	_, err := fx.fn.Process(ctx, uploadEvent(models.TypeRoster, "u1/roster.png"))
	require.NoError(t, err)

	doc, _ := fx.store.Document("users/u1/roster/current")
	assert.Equal(t, true, doc["favourite"])
	assert.NotEmpty(t, doc["players"])
}

func TestProcessOpponentImageDefaultsToDownloadURL(t *testing.T) {
	fx := newPipelineFixture(t, false, "")
	_, err := fx.fn.Process(context.Background(), uploadEvent(models.TypeOpponentFormation, "u1/opp.png"))
	require.NoError(t, err)

	rec := fx.store.Records("u1")[0].Record
	assert.Equal(t, "https://storage.googleapis.com/efb-uploads/u1%2Fopp.png", rec.Fields["image"])
	assert.False(t, rec.Status.NeedsReview)
}

func TestProcessUnknownTypeStillPersisted(t *testing.T) {
	fx := newPipelineFixture(t, false, "whatever")
	outcome, err := fx.fn.Process(context.Background(), uploadEvent(models.DocumentType("LINEUP"), "u1/l.png"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)

	rec := fx.store.Records("u1")[0].Record
	assert.True(t, rec.Status.NeedsReview)
	assert.Equal(t, []string{"Unknown type"}, rec.Status.Errors)
	assert.Empty(t, rec.Fields)
	assert.True(t, rec.Status.Projected)
}

func TestProcessProjectionRetriesTransientFailures(t *testing.T) {
	fx := newPipelineFixture(t, false, "Buffon 88 GK")
	failures := 2
	fx.store.MergeErr = func(string) error {
		if failures > 0 {
			failures--
			return errors.New("unavailable")
		}
		return nil
	}

	_, err := fx.fn.Process(context.Background(), uploadEvent(models.TypeRoster, "u1/roster.png"))
	require.NoError(t, err)
	assert.True(t, fx.store.Records("u1")[0].Record.Status.Projected)
}

func TestProcessReplaysMissingProjection(t *testing.T) {
	fx := newPipelineFixture(t, false, "Buffon 88 GK")
	ctx := context.Background()
	ev := uploadEvent(models.TypeRoster, "u1/roster.png")

	fx.store.MergeErr = func(string) error { return errors.New("unavailable") }
	_, err := fx.fn.Process(ctx, ev)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "after all retries"))

	recs := fx.store.Records("u1")
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Record.Status.Projected)

	fx.store.MergeErr = nil
	outcome, err := fx.fn.Process(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplayed, outcome)
	assert.Equal(t, 1, fx.extractor.calls, "replay does not run OCR again")

	recs = fx.store.Records("u1")
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Record.Status.Projected)
	doc, ok := fx.store.Document("users/u1/roster/current")
	require.True(t, ok)
	assert.NotEmpty(t, doc["players"])
}

func TestProcessArchiveFailureIsNotFatal(t *testing.T) {
	fx := newPipelineFixture(t, false, "Buffon 88 GK")
	fx.archiver.err = errors.New("bucket missing")

	outcome, err := fx.fn.Process(context.Background(), uploadEvent(models.TypeRoster, "u1/roster.png"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
}

func TestNewIngestPipelineRequiresCoreDeps(t *testing.T) {
	_, err := NewIngestPipeline(IngestConfig{}, IngestDeps{Store: store.NewMemory()})
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("PROJECT_ID", "efb-prod")
	t.Setenv("VERTEX_GEMINI_ENABLED", "TRUE")
	t.Setenv("VERTEX_GEMINI_DAILY_LIMIT", "50")
	t.Setenv("VERTEX_GEMINI_CIRCUIT_COOLDOWN_MIN", "30")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "efb-prod", cfg.ProjectID)
	assert.Equal(t, "europe-west1", cfg.VertexAIRegion)
	assert.True(t, cfg.EnrichmentEnabled)
	assert.Equal(t, "gemini-1.5-flash", cfg.EnrichmentModel)
	assert.Equal(t, 50, cfg.Ledger.DailyLimit)
	assert.Equal(t, 5, cfg.Ledger.MaxConsecutiveErrors)
	assert.Equal(t, 30*time.Minute, cfg.Ledger.Cooldown)
}

func TestLoadConfigRequiresProject(t *testing.T) {
	t.Setenv("PROJECT_ID", "")
	_, err := loadConfig()
	assert.Error(t, err)
}
