// Package reformat turns raw OCR text into markdown with a hosted model.
// It is a best-effort stage: any failure leaves the raw text in place.
package reformat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/medrec/medrec/internal/ocr"
	"github.com/medrec/medrec/internal/ocr/textmerge"
	"github.com/medrec/medrec/internal/platform/llm"
	"github.com/medrec/medrec/internal/platform/markup"
)

type Mode string

const (
	// ModeMerged sends one blob with all texts joined by the separator.
	ModeMerged Mode = "merged"
	// ModeJoint sends the texts as a list together with the source images
	// so the model can correct recognition mistakes while formatting.
	ModeJoint Mode = "joint"
)

type Options struct {
	Mode      Mode
	Separator string
	// MinPreservation is the minimum share of source words that must remain
	// in a reformatted text. Zero disables the check.
	MinPreservation float64
}

const systemPrompt = `You format OCR output from medical documents as markdown compatible with react-markdown.
Only change formatting: headings, lists, tables, emphasis and line breaks.
Never add, remove, reword, translate or correct any content.
Return a JSON object {"results": [{"markup": "<markdown>"}]} with exactly one entry per input, in input order.`

const mergedPrompt = `The following %d document(s) are separated by the line %q.
Format each document separately.

%s`

const jointPrompt = `The following JSON array holds the raw OCR text of %d document(s). The images are attached in the same order.
Use the images only to resolve layout; keep the text content as given.

%s`

const resultSchema = `{
  "type": "object",
  "required": ["results"],
  "properties": {
    "results": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["markup"],
        "properties": {"markup": {"type": "string"}}
      }
    }
  }
}`

type Reformatter struct {
	client llm.Client
	opts   Options
	schema *jsonschema.Schema
	logger zerolog.Logger
}

func New(client llm.Client, opts Options, logger zerolog.Logger) (*Reformatter, error) {
	switch opts.Mode {
	case "":
		opts.Mode = ModeMerged
	case ModeMerged, ModeJoint:
	default:
		return nil, fmt.Errorf("unknown reformat mode %q", opts.Mode)
	}
	if opts.Separator == "" {
		opts.Separator = textmerge.DefaultSeparator
	}
	schema, err := llm.CompileSchema("reformat-result.json", resultSchema)
	if err != nil {
		return nil, err
	}
	return &Reformatter{client: client, opts: opts, schema: schema, logger: logger}, nil
}

// Reformat performs one model call and returns whatever results it produced.
// The number of results is not checked against len(texts).
func (r *Reformatter) Reformat(ctx context.Context, texts []string, images []*ocr.Image) ([]ocr.MarkupResult, error) {
	req := llm.Request{System: systemPrompt, JSON: true}

	switch r.opts.Mode {
	case ModeJoint:
		list, err := json.Marshal(texts)
		if err != nil {
			return nil, err
		}
		req.Prompt = fmt.Sprintf(jointPrompt, len(texts), list)
		for _, img := range images {
			if img != nil {
				req.Images = append(req.Images, llm.Image{MIMEType: img.MIMEType, Data: img.Source})
			}
		}
	default:
		if err := textmerge.CheckSeparator(texts, r.opts.Separator); err != nil {
			return nil, err
		}
		blob := textmerge.Merge(texts, r.opts.Separator)
		req.Prompt = fmt.Sprintf(mergedPrompt, len(texts), r.opts.Separator, blob)
	}

	raw, err := r.client.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Results []ocr.MarkupResult `json:"results"`
	}
	if err := llm.DecodeJSON(r.schema, raw, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Result is the outcome of Apply. Contents always has one entry per input.
type Result struct {
	Contents  []string
	Fallbacks []int
	// Err is set when the model call itself failed.
	Err error
}

// Apply reformats texts and never fails: positions without a usable result
// keep their raw text.
func (r *Reformatter) Apply(ctx context.Context, texts []string, images []*ocr.Image) Result {
	if len(texts) == 0 {
		return Result{}
	}

	results, err := r.Reformat(ctx, texts, images)
	if err != nil {
		r.logger.Warn().Err(err).Str("model", r.client.Name()).Int("items", len(texts)).
			Msg("reformat failed, keeping raw text")
		contents := make([]string, len(texts))
		copy(contents, texts)
		fallbacks := make([]int, len(texts))
		for i := range fallbacks {
			fallbacks[i] = i
		}
		return Result{Contents: contents, Fallbacks: fallbacks, Err: err}
	}
	if len(results) != len(texts) {
		r.logger.Warn().Int("expected", len(texts)).Int("received", len(results)).
			Msg("reformat result count mismatch")
	}

	contents, fallbacks := textmerge.Align(texts, results)
	if r.opts.MinPreservation > 0 {
		kept := make(map[int]bool, len(fallbacks))
		for _, i := range fallbacks {
			kept[i] = true
		}
		for i := range contents {
			if kept[i] {
				continue
			}
			if cov := markup.Coverage(texts[i], contents[i]); cov < r.opts.MinPreservation {
				r.logger.Warn().Int("index", i).Float64("coverage", cov).
					Msg("reformatted text dropped content, keeping raw text")
				contents[i] = texts[i]
				fallbacks = append(fallbacks, i)
			}
		}
		sort.Ints(fallbacks)
	}
	return Result{Contents: contents, Fallbacks: fallbacks}
}
