package gcp

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// --- Enrichment Model Prompts ---
const EnrichmentSystemPrompt = "You are an eFootball analyst. You correct and complete OCR output taken from official game screenshots. You must output your response as a single valid JSON object."

// EnrichmentUserPromptTemplate is formatted with the document type.
const EnrichmentUserPromptTemplate = `Correct and complete the OCR of an official eFootball screen of type %s.

Follow these rules precisely:
1.  Use the official game terminology (roles, builds, boosters, skills, AI playing styles, team chemistry).
2.  Keep the JSON keys of the BASE_FIELDS object for type %s. Do not invent new top-level keys.
3.  If a value is not certain, set it to null and lower your confidence so the record is flagged for review.
4.  Return ONLY a JSON object of the form:
    {"fields": {...}, "meta": {"detectedLanguage": "<iso code>", "confidence": <number between 0 and 1>}}`

// EnrichmentInput carries everything sent to the model for one screenshot.
type EnrichmentInput struct {
	Prompt         string
	ImageURI       string
	ImageMIMEType  string
	RawText        string
	BaseFieldsJSON string
}

// VertexClient holds the pre-configured generative model used for enrichment.
type VertexClient struct {
	EnrichmentModel *genai.GenerativeModel
	baseClient      *genai.Client
}

// NewVertexClient creates a new client holding the enrichment model.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	enrichmentModel := baseClient.GenerativeModel(modelName)
	enrichmentModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(EnrichmentSystemPrompt)},
	}
	enrichmentModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.2),
		MaxOutputTokens:  genai.Ptr[int32](1200),
	}

	return &VertexClient{
		EnrichmentModel: enrichmentModel,
		baseClient:      baseClient,
	}, nil
}

// GenerateEnrichment sends the screenshot reference, raw text and heuristic
// fields to the model and returns the raw JSON text of its answer.
func (c *VertexClient) GenerateEnrichment(ctx context.Context, in EnrichmentInput) (string, error) {
	parts := []genai.Part{
		genai.Text(in.Prompt),
		genai.FileData{MIMEType: in.ImageMIMEType, FileURI: in.ImageURI},
		genai.Text("RAW_TEXT:\n" + in.RawText),
		genai.Text("BASE_FIELDS:\n" + in.BaseFieldsJSON),
	}

	resp, err := c.EnrichmentModel.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("failed to generate enrichment from gemini: %w", err)
	}
	return extractJSONContent(resp), nil
}

// extractJSONContent robustly gets the raw text content from the model response.
func extractJSONContent(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	// The model is configured to return JSON, so we expect a single text part.
	if txt, ok := resp.Candidates[0].Content.Parts[0].(genai.Text); ok {
		return StripCodeFence(string(txt))
	}
	return ""
}

// StripCodeFence removes a surrounding ```json fence some models still emit.
func StripCodeFence(s string) string {
	clean := strings.TrimSpace(s)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	return strings.TrimSpace(clean)
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
