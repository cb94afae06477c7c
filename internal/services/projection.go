package services

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/Attilam21/Attila-Flagello-sub001/internal/models"
	"github.com/Attilam21/Attila-Flagello-sub001/internal/store"
)

// ProjectionWriter keeps the per-type read models in sync with OCR records.
type ProjectionWriter struct {
	store        store.Store
	now          func() time.Time
	maxAttempts  int
	firstBackoff time.Duration
}

func NewProjectionWriter(s store.Store, now func() time.Time) *ProjectionWriter {
	if now == nil {
		now = time.Now
	}
	return &ProjectionWriter{
		store:        s,
		now:          now,
		maxAttempts:  4,
		firstBackoff: 1 * time.Second,
	}
}

// ProjectionPath returns the document the fields of a docType record are
// merged into. Unknown types have no projection.
func ProjectionPath(docType models.DocumentType, uid, matchID string) (string, bool) {
	switch docType {
	case models.TypeRoster:
		return store.RosterPath(uid), true
	case models.TypeMatchStats:
		return store.MatchSlotPath(uid, matchID, "stats"), true
	case models.TypeVotes:
		return store.MatchSlotPath(uid, matchID, "votes"), true
	case models.TypeHeatmap:
		return store.MatchSlotPath(uid, matchID, "heatmap"), true
	case models.TypeOpponentFormation:
		return store.OpponentPath(uid, matchID), true
	}
	return "", false
}

// Project merge-writes the record fields into the projection for its type and
// then marks the record projected. Records of an unknown type are only marked.
func (w *ProjectionWriter) Project(ctx context.Context, logCtx *slog.Logger, recordID string, rec *models.OcrRecord) error {
	if path, ok := ProjectionPath(rec.Type, rec.UID, rec.Meta.MatchID); ok {
		data := maps.Clone(rec.Fields)
		if data == nil {
			data = map[string]any{}
		}
		data["_updatedAt"] = w.now()

		if err := w.mergeWithRetry(ctx, logCtx, path, data); err != nil {
			return err
		}
		logCtx.Info("Projection updated.", "projectionPath", path)
	}

	if err := w.store.MarkProjected(ctx, rec.UID, recordID, w.now()); err != nil {
		return fmt.Errorf("failed to mark record projected: %w", err)
	}
	return nil
}

func (w *ProjectionWriter) mergeWithRetry(ctx context.Context, logCtx *slog.Logger, path string, data map[string]any) error {
	backoff := w.firstBackoff
	var lastErr error

	for i := 0; i < w.maxAttempts; i++ {
		err := w.store.MergeDocument(ctx, path, data)
		if err == nil {
			return nil
		}

		lastErr = err
		if i == w.maxAttempts-1 {
			break
		}
		logCtx.Warn(
			"Projection write failed, will retry.",
			"projectionPath", path,
			"attempt", i+1,
			"maxRetries", w.maxAttempts,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			logCtx.Error("Context cancelled during backoff. Aborting retries.", "projectionPath", path, "error", ctx.Err())
			return ctx.Err()
		}
	}
	logCtx.Error("Projection write failed after all retries.", "projectionPath", path, "error", lastErr)
	return fmt.Errorf("projection write for %s failed after all retries: %w", path, lastErr)
}
