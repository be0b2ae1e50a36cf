// Package llm wraps the hosted model providers used for remote OCR and markup
// reformatting behind a single request/response shape.
package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("model returned no content")

// Image is an encoded image attached to a request.
type Image struct {
	MIMEType string
	Data     []byte
}

type Request struct {
	System string
	Prompt string
	Images []Image
	// JSON asks the provider to constrain its output to a JSON object.
	JSON bool
}

// Client sends one request to a hosted model and returns its text output.
type Client interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

// StripFences removes a surrounding ```json ... ``` block if present.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
