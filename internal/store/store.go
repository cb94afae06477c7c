// Package store is the persistence contract of the ingestion pipeline. Paths
// follow the Firestore layout consumed by the dashboard:
//
//	users/{uid}/ocr/{id}                           canonical OCR records
//	users/{uid}/roster/current                     roster projection
//	users/{uid}/matches/{matchId}/{slot}/main      stats, votes and heatmap projections
//	users/{uid}/opponent/{matchId}                 opponent scouting projection
//	users/{uid}/usage/gemini_{YYYY-MM-DD}          enrichment usage ledger
package store

import (
	"context"
	"time"

	"github.com/Attilam21/Attila-Flagello-sub001/internal/models"
)

// UsageTxFunc inspects the current ledger record inside a transaction. When it
// returns write=true the (possibly modified) record is stored; otherwise the
// transaction commits without mutation.
type UsageTxFunc func(rec *models.UsageRecord, exists bool) (write bool, err error)

// Store is implemented by Firestore and by the in-memory store used in tests.
type Store interface {
	// FindRecordBySource returns the first record of uid whose source.storagePath
	// equals storagePath, or nil when none exists.
	FindRecordBySource(ctx context.Context, uid, storagePath string) (*models.StoredRecord, error)
	// CreateRecord adds rec as a new document and returns its generated ID.
	CreateRecord(ctx context.Context, rec *models.OcrRecord) (string, error)
	// MarkProjected flags a record whose write-through has completed.
	MarkProjected(ctx context.Context, uid, recordID string, at time.Time) error
	// MergeDocument merge-sets data into the document at path, creating it if needed.
	MergeDocument(ctx context.Context, path string, data map[string]any) error
	// UpdateUsage runs fn against the ledger record of (uid, dateKey) in a
	// single-document transaction.
	UpdateUsage(ctx context.Context, uid, dateKey string, fn UsageTxFunc) error
}

func RecordsCollection(uid string) string {
	return "users/" + uid + "/ocr"
}

func RecordPath(uid, recordID string) string {
	return RecordsCollection(uid) + "/" + recordID
}

func UsagePath(uid, dateKey string) string {
	return "users/" + uid + "/usage/gemini_" + dateKey
}

func RosterPath(uid string) string {
	return "users/" + uid + "/roster/current"
}

// MatchSlotPath addresses a per-match sub-document such as stats/main.
func MatchSlotPath(uid, matchID, slot string) string {
	return "users/" + uid + "/matches/" + matchID + "/" + slot + "/main"
}

func OpponentPath(uid, matchID string) string {
	return "users/" + uid + "/opponent/" + matchID
}
