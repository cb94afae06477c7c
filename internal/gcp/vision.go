package gcp

import (
	"context"
	"fmt"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"

	"github.com/Attilam21/Attila-Flagello-sub001/internal/models"
)

// VisionEngineName is recorded on every OCR record produced through this client.
const VisionEngineName = "cloud-vision.documentTextDetection"

// DefaultLangHints biases recognition towards the Italian game UI.
var DefaultLangHints = []string{"it"}

// TextResult is the subset of a Vision response the pipeline keeps.
type TextResult struct {
	FullText  string
	Words     []models.WordAnnotation
	Engine    string
	LangHints []string
}

// VisionClient runs document text detection on objects already in Cloud Storage.
type VisionClient struct {
	client    *vision.ImageAnnotatorClient
	langHints []string
}

func NewVisionClient(ctx context.Context) (*VisionClient, error) {
	client, err := vision.NewImageAnnotatorClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("vision.NewImageAnnotatorClient: %w", err)
	}
	return &VisionClient{client: client, langHints: DefaultLangHints}, nil
}

// ExtractText annotates the image at gcsURI. Errors reported inside the
// per-image response are returned as errors too.
func (c *VisionClient) ExtractText(ctx context.Context, gcsURI string) (*TextResult, error) {
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image: &visionpb.Image{
				Source: &visionpb.ImageSource{GcsImageUri: gcsURI},
			},
			Features:     []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
			ImageContext: &visionpb.ImageContext{LanguageHints: c.langHints},
		}},
	}

	resp, err := c.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to annotate %s: %w", gcsURI, err)
	}
	if len(resp.GetResponses()) == 0 {
		return nil, fmt.Errorf("vision returned no response for %s", gcsURI)
	}
	res := resp.GetResponses()[0]
	if res.GetError() != nil && res.GetError().GetCode() != 0 {
		return nil, fmt.Errorf("vision error for %s: %s", gcsURI, res.GetError().GetMessage())
	}

	out := &TextResult{
		FullText:  res.GetFullTextAnnotation().GetText(),
		Engine:    VisionEngineName,
		LangHints: c.langHints,
	}
	// The first text annotation is the whole block; the rest are single words.
	annotations := res.GetTextAnnotations()
	if len(annotations) > 1 {
		out.Words = make([]models.WordAnnotation, 0, len(annotations)-1)
		for _, a := range annotations[1:] {
			word := models.WordAnnotation{Text: a.GetDescription()}
			for _, v := range a.GetBoundingPoly().GetVertices() {
				word.BoundingPolygon = append(word.BoundingPolygon, models.Vertex{X: v.GetX(), Y: v.GetY()})
			}
			out.Words = append(out.Words, word)
		}
	}
	return out, nil
}

func (c *VisionClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
