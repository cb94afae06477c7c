// Package parser turns the raw OCR text of an eFootball screenshot into
// structured fields with deterministic pattern matching. Every function here is
// pure: the same (type, text) input always yields the same Result.
package parser

import (
	"fmt"

	"github.com/Attilam21/Attila-Flagello-sub001/internal/models"
)

// Result is the heuristic outcome for one screenshot.
type Result struct {
	Fields      models.Fields
	NeedsReview bool
	Errors      []string
}

// FieldMap returns the fields in the generic map form stored on OcrRecord.
func (r Result) FieldMap() (map[string]any, error) {
	return models.FieldsToMap(r.Fields)
}

type parseFunc func(rawText string) (models.Fields, bool)

var parsers = map[models.DocumentType]parseFunc{
	models.TypeRoster:            parseRoster,
	models.TypeMatchStats:        parseMatchStats,
	models.TypeVotes:             parseVotes,
	models.TypeHeatmap:           parseHeatmap,
	models.TypeOpponentFormation: parseOpponent,
}

// Parse dispatches rawText to the parser of docType. It never panics: a failure
// inside a parser comes back as an empty result flagged for review.
func Parse(docType models.DocumentType, rawText string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{NeedsReview: true, Errors: []string{fmt.Sprint(r)}}
		}
	}()

	parse, ok := parsers[docType]
	if !ok {
		return Result{NeedsReview: true, Errors: []string{"Unknown type"}}
	}
	fields, needsReview := parse(rawText)
	return Result{Fields: fields, NeedsReview: needsReview, Errors: []string{}}
}
