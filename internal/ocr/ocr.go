// Package ocr holds the types shared by the stages of the ingestion
// pipeline: uploads, decoded images, per-item outcomes and the backend
// capability that turns an image into text.
package ocr

import (
	"context"
	"image"
)

// UploadItem is one file from a multipart upload. It lives only for the
// duration of the request that carried it.
type UploadItem struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Size returns the payload length in bytes.
func (u UploadItem) Size() int64 { return int64(len(u.Data)) }

// Image is a decoded upload. Raster is normalized to NRGBA; Source keeps the
// original bytes for backends that forward the encoded file.
type Image struct {
	Filename string
	Format   string
	MIMEType string
	Raster   *image.NRGBA
	Source   []byte
}

// Extraction is what a backend returns for a single image. Confidence is nil
// when the backend does not score its output.
type Extraction struct {
	Text       string
	Confidence *float64
}

// Outcome records the result of extracting one upload. Index is the item's
// position in the submitted batch.
type Outcome struct {
	Index      int
	Filename   string
	FileSize   int64
	FileType   string
	Success    bool
	Text       string
	Confidence *float64
	Err        error
}

// MarkupResult is the reformatted text for one input unit.
type MarkupResult struct {
	Markup string `json:"markup"`
}

// Backend extracts text from one decoded image.
type Backend interface {
	Name() string
	Extract(ctx context.Context, img *Image) (Extraction, error)
}

// BatchBackend is implemented by backends that can process several images in
// a single request. Results are aligned with imgs; an error fails every image
// in the request.
type BatchBackend interface {
	Backend
	ExtractBatch(ctx context.Context, imgs []*Image) ([]Extraction, error)
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
