package models

import "time"

// DocumentType identifies which game screen an upload captures. It selects
// both the parser variant and the write-through projection target.
type DocumentType string

const (
	TypeRoster            DocumentType = "ROSTER"
	TypeMatchStats        DocumentType = "MATCH_STATS"
	TypeVotes             DocumentType = "VOTES"
	TypeHeatmap           DocumentType = "HEATMAP"
	TypeOpponentFormation DocumentType = "OPPONENT_FORMATION"
)

// Known reports whether t is one of the five supported document types.
func (t DocumentType) Known() bool {
	switch t {
	case TypeRoster, TypeMatchStats, TypeVotes, TypeHeatmap, TypeOpponentFormation:
		return true
	}
	return false
}

// OcrRecord is the canonical Firestore document written once per processed upload
// under users/{uid}/ocr/{id}.
type OcrRecord struct {
	UID       string         `firestore:"uid"`
	Type      DocumentType   `firestore:"type"`
	Source    Source         `firestore:"source"`
	Vision    VisionPayload  `firestore:"vision"`
	Fields    map[string]any `firestore:"fields"`
	Meta      RecordMeta     `firestore:"meta"`
	Status    RecordStatus   `firestore:"status"`
	CreatedAt time.Time      `firestore:"createdAt"`
	UpdatedAt time.Time      `firestore:"updatedAt"`
}

// Source points back at the uploaded object.
type Source struct {
	StoragePath string `firestore:"storagePath"`
	DownloadURL string `firestore:"downloadURL,omitempty"`
}

// VisionPayload is the raw OCR output kept alongside the parsed fields.
type VisionPayload struct {
	Engine    string           `firestore:"engine"`
	RawText   string           `firestore:"rawText"`
	Blocks    []WordAnnotation `firestore:"blocks"`
	LangHints []string         `firestore:"langHints"`
}

// WordAnnotation is a single recognised word and its bounding polygon in pixels.
type WordAnnotation struct {
	Text            string   `firestore:"text" json:"text"`
	BoundingPolygon []Vertex `firestore:"boundingPoly" json:"boundingPoly"`
}

type Vertex struct {
	X int32 `firestore:"x" json:"x"`
	Y int32 `firestore:"y" json:"y"`
}

type RecordMeta struct {
	MatchID          string  `firestore:"matchId"`
	DetectedLanguage string  `firestore:"detectedLanguage"`
	Confidence       float64 `firestore:"confidence"`
}

// RecordStatus carries the review state. Projected is flipped to true only once
// the type-specific write-through has landed.
type RecordStatus struct {
	Parsed      bool     `firestore:"parsed"`
	NeedsReview bool     `firestore:"needsReview"`
	Errors      []string `firestore:"errors"`
	Projected   bool     `firestore:"projected"`
}

// StoredRecord pairs a persisted record with its document ID.
type StoredRecord struct {
	ID     string
	Record OcrRecord
}
