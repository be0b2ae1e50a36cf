// Package imagedecode validates uploaded files and decodes them into a
// normalized raster.
package imagedecode

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/medrec/medrec/internal/ocr"
)

const octetStream = "application/octet-stream"

type Decoder struct {
	allowOctetStream bool
}

// New returns a Decoder. When allowOctetStream is set, uploads declared as
// application/octet-stream are sniffed instead of rejected.
func New(allowOctetStream bool) *Decoder {
	return &Decoder{allowOctetStream: allowOctetStream}
}

// Decode checks the declared content type, then the payload length, then
// parses the bytes. Failures are *ocr.Error values of KindValidation.
func (d *Decoder) Decode(item ocr.UploadItem) (*ocr.Image, error) {
	if !d.acceptsType(item.ContentType) {
		return nil, ocr.NewError(ocr.KindValidation, ocr.StageDecode, item.Filename, ocr.ErrInvalidContentType)
	}
	if len(item.Data) == 0 {
		return nil, ocr.NewError(ocr.KindValidation, ocr.StageDecode, item.Filename, ocr.ErrEmptyPayload)
	}

	img, format, err := image.Decode(bytes.NewReader(item.Data))
	if err != nil {
		return nil, ocr.NewError(ocr.KindValidation, ocr.StageDecode, item.Filename, ocr.ErrUndecodableImage)
	}

	return &ocr.Image{
		Filename: item.Filename,
		Format:   format,
		MIMEType: "image/" + format,
		Raster:   imaging.Clone(img),
		Source:   item.Data,
	}, nil
}

func (d *Decoder) acceptsType(declared string) bool {
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return false
	}
	if strings.HasPrefix(mt, "image/") {
		return true
	}
	return d.allowOctetStream && mt == octetStream
}
