package models

import (
	"encoding/json"
	"strings"
	"time"
)

// These structs define the payloads crossing the function boundary: the
// storage finalize event on the way in and the usage ledger document.

// StorageObjectData is the data section of a google.cloud.storage.object.v1.finalized
// CloudEvent. Size arrives as a JSON string.
type StorageObjectData struct {
	Bucket      string            `json:"bucket"`
	Name        string            `json:"name"`
	ContentType string            `json:"contentType"`
	Size        json.Number       `json:"size"`
	Metadata    map[string]string `json:"metadata"`
}

// UploadEvent is the validated view of a finalized object the pipeline works on.
type UploadEvent struct {
	StoragePath string
	Bucket      string
	ContentType string
	SizeBytes   int64
	UID         string
	Type        DocumentType
	MatchID     string
}

// DefaultMatchID is used when an upload carries no matchId metadata.
const DefaultMatchID = "current"

// ToUploadEvent converts the raw event payload. Missing metadata is left empty;
// the pipeline decides whether the event is actionable.
func (d StorageObjectData) ToUploadEvent() UploadEvent {
	size, _ := d.Size.Int64()
	ev := UploadEvent{
		StoragePath: d.Name,
		Bucket:      d.Bucket,
		ContentType: d.ContentType,
		SizeBytes:   size,
		UID:         strings.TrimSpace(d.Metadata["uid"]),
		Type:        DocumentType(strings.TrimSpace(d.Metadata["type"])),
		MatchID:     strings.TrimSpace(d.Metadata["matchId"]),
	}
	if ev.MatchID == "" {
		ev.MatchID = DefaultMatchID
	}
	return ev
}

// GCSUri is the gs:// reference handed to the OCR and enrichment engines.
func (e UploadEvent) GCSUri() string {
	return "gs://" + e.Bucket + "/" + e.StoragePath
}

// UsageRecord is the per-user, per-day enrichment ledger stored at
// users/{uid}/usage/gemini_{dateKey}.
type UsageRecord struct {
	DateKey          string     `firestore:"dateKey"`
	Calls            int        `firestore:"calls"`
	LastCallAt       time.Time  `firestore:"lastCallAt,omitempty"`
	Errors           int        `firestore:"errors"`
	LastErrorAt      time.Time  `firestore:"lastErrorAt,omitempty"`
	CircuitOpenUntil *time.Time `firestore:"circuitOpenUntil,omitempty"`
}

// CircuitOpenAt reports whether the breaker is open at instant now.
func (u UsageRecord) CircuitOpenAt(now time.Time) bool {
	return u.CircuitOpenUntil != nil && u.CircuitOpenUntil.After(now)
}
