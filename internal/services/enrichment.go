package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Attilam21/Attila-Flagello-sub001/internal/gcp"
	"github.com/Attilam21/Attila-Flagello-sub001/internal/models"
)

const (
	DefaultDetectedLanguage = "generic"
	plausibleConfidence     = 0.8
	fallbackConfidence      = 0.6
	// ReviewConfidenceThreshold is the confidence below which a record is
	// always flagged for review.
	ReviewConfidenceThreshold = 0.75
)

// ErrEnrichmentFailed wraps every enrichment failure: transport, empty answer,
// non-JSON body or an envelope that does not match the schema.
var ErrEnrichmentFailed = errors.New("enrichment failed")

// Generator is the enrichment engine. *gcp.VertexClient satisfies it.
type Generator interface {
	GenerateEnrichment(ctx context.Context, in gcp.EnrichmentInput) (string, error)
}

// EnrichmentRequest is what is known about a screenshot before enrichment.
type EnrichmentRequest struct {
	Type        models.DocumentType
	RawText     string
	BaseFields  map[string]any
	ImageURI    string
	ContentType string
}

// EnrichmentEnvelope is the JSON document the engine must answer with.
type EnrichmentEnvelope struct {
	Fields map[string]any `json:"fields"`
	Meta   struct {
		DetectedLanguage string   `json:"detectedLanguage"`
		Confidence       *float64 `json:"confidence"`
	} `json:"meta"`
}

var envelopeSchema = map[string]any{
	"type":     "object",
	"required": []string{"fields"},
	"properties": map[string]any{
		"fields": map[string]any{"type": "object"},
		"meta": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"detectedLanguage": map[string]any{"type": "string"},
				"confidence":       map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			},
		},
	},
}

// Enricher asks the generative model to correct heuristic fields.
type Enricher struct {
	generator Generator
	schema    *jsonschema.Schema
}

func NewEnricher(generator Generator) (*Enricher, error) {
	b, err := json.Marshal(envelopeSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("enrichment.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("enrichment.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Enricher{generator: generator, schema: schema}, nil
}

// Enrich makes exactly one call to the engine and returns its validated answer.
// Every error it returns wraps ErrEnrichmentFailed.
func (e *Enricher) Enrich(ctx context.Context, req EnrichmentRequest) (*EnrichmentEnvelope, error) {
	requestID := uuid.NewString()
	logCtx := slog.With("requestId", requestID, "docType", req.Type)

	baseJSON, err := json.Marshal(req.BaseFields)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode base fields: %v", ErrEnrichmentFailed, err)
	}

	logCtx.Info("Requesting enrichment.")
	raw, err := e.generator.GenerateEnrichment(ctx, gcp.EnrichmentInput{
		Prompt:         BuildEnrichmentPrompt(req.Type),
		ImageURI:       req.ImageURI,
		ImageMIMEType:  req.ContentType,
		RawText:        req.RawText,
		BaseFieldsJSON: string(baseJSON),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnrichmentFailed, err)
	}

	env, err := e.decode(gcp.StripCodeFence(raw))
	if err != nil {
		logCtx.Warn("Enrichment response rejected.", "error", err)
		return nil, err
	}
	logCtx.Info("Enrichment response accepted.", "returnedFields", len(env.Fields))
	return env, nil
}

func (e *Enricher) decode(raw string) (*EnrichmentEnvelope, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty response", ErrEnrichmentFailed)
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("%w: response is not JSON: %v", ErrEnrichmentFailed, err)
	}
	if err := e.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: json does not match schema: %v", ErrEnrichmentFailed, err)
	}
	var env EnrichmentEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("%w: failed to decode envelope: %v", ErrEnrichmentFailed, err)
	}
	return &env, nil
}

// BuildEnrichmentPrompt returns the instruction prompt for docType.
func BuildEnrichmentPrompt(docType models.DocumentType) string {
	return fmt.Sprintf(gcp.EnrichmentUserPromptTemplate, docType, docType)
}

// DefaultMeta is the record metadata used when enrichment did not run or
// failed. Confidence reflects whether the heuristics found a plausible structure.
func DefaultMeta(matchID string, heuristicNeedsReview bool) models.RecordMeta {
	confidence := plausibleConfidence
	if heuristicNeedsReview {
		confidence = fallbackConfidence
	}
	return models.RecordMeta{
		MatchID:          matchID,
		DetectedLanguage: DefaultDetectedLanguage,
		Confidence:       confidence,
	}
}

// ApplyTo merges the envelope over the heuristic output. Fields are merged one
// level deep: an engine key replaces the heuristic value wholesale. Meta values
// returned by the engine replace the defaults.
func (env *EnrichmentEnvelope) ApplyTo(base map[string]any, meta models.RecordMeta) (map[string]any, models.RecordMeta) {
	merged := maps.Clone(base)
	if merged == nil {
		merged = map[string]any{}
	}
	maps.Copy(merged, env.Fields)

	if env.Meta.DetectedLanguage != "" {
		meta.DetectedLanguage = env.Meta.DetectedLanguage
	}
	if env.Meta.Confidence != nil {
		meta.Confidence = *env.Meta.Confidence
	}
	return merged, meta
}

// FinalNeedsReview combines the heuristic verdict with the confidence threshold.
func FinalNeedsReview(heuristicNeedsReview bool, confidence float64) bool {
	return heuristicNeedsReview || confidence < ReviewConfidenceThreshold
}
