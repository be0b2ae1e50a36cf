// Package vision is the remote OCR backend: images are sent to a hosted
// vision-language model which returns markdown text and a confidence score
// per image.
package vision

import (
	"context"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/medrec/medrec/internal/ocr"
	"github.com/medrec/medrec/internal/platform/llm"
)

const systemPrompt = `You are an OCR engine for scanned medical documents.
Extract all text from each image and format it as markdown that renders with react-markdown.
Preserve the original reading order, headings, tables and lists. Do not summarize, translate or correct the text.
Report a confidence between 0 and 1 for each image: 0.9 or higher for clear printed text, 0.7 or higher for mixed print and handwriting, 0.5 or higher for difficult handwriting.`

const userPrompt = `You are given %d image(s). Return a JSON object of the form
{"results": [{"content": "<markdown>", "confidence": <number>}]}
with exactly %d entries, one per image, in the order the images were provided.`

const resultSchema = `{
  "type": "object",
  "required": ["results"],
  "properties": {
    "results": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["content", "confidence"],
        "properties": {
          "content": {"type": "string"},
          "confidence": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    }
  }
}`

type response struct {
	Results []struct {
		Content    string  `json:"content"`
		Confidence float64 `json:"confidence"`
	} `json:"results"`
}

// Model implements ocr.Backend and ocr.BatchBackend on top of an llm.Client.
type Model struct {
	client llm.Client
	schema *jsonschema.Schema
}

func New(client llm.Client) (*Model, error) {
	schema, err := llm.CompileSchema("vision-result.json", resultSchema)
	if err != nil {
		return nil, err
	}
	return &Model{client: client, schema: schema}, nil
}

func (m *Model) Name() string { return "vision:" + m.client.Name() }

func (m *Model) Extract(ctx context.Context, img *ocr.Image) (ocr.Extraction, error) {
	out, err := m.ExtractBatch(ctx, []*ocr.Image{img})
	if err != nil {
		return ocr.Extraction{}, err
	}
	return out[0], nil
}

// ExtractBatch sends all images in one request. A response whose length
// differs from len(imgs) fails with ocr.ErrCountMismatch.
func (m *Model) ExtractBatch(ctx context.Context, imgs []*ocr.Image) ([]ocr.Extraction, error) {
	if len(imgs) == 0 {
		return nil, nil
	}
	req := llm.Request{
		System: systemPrompt,
		Prompt: fmt.Sprintf(userPrompt, len(imgs), len(imgs)),
		Images: make([]llm.Image, len(imgs)),
		JSON:   true,
	}
	for i, img := range imgs {
		req.Images[i] = llm.Image{MIMEType: img.MIMEType, Data: img.Source}
	}

	raw, err := m.client.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp response
	if err := llm.DecodeJSON(m.schema, raw, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) != len(imgs) {
		return nil, fmt.Errorf("%w: sent %d images, received %d results", ocr.ErrCountMismatch, len(imgs), len(resp.Results))
	}

	out := make([]ocr.Extraction, len(imgs))
	for i, r := range resp.Results {
		out[i] = ocr.Extraction{Text: r.Content, Confidence: ocr.Float(r.Confidence)}
	}
	return out, nil
}
