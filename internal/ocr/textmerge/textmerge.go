// Package textmerge joins per-image texts into one delimited blob and maps
// reformatted results back onto their source positions.
package textmerge

import (
	"errors"
	"strings"

	"github.com/medrec/medrec/internal/ocr"
)

// DefaultSeparator delimits texts in a merged blob.
const DefaultSeparator = "\n\n<<<record-break>>>\n\n"

// ErrSeparatorCollision is returned when a text already contains the
// separator and could not be split back out unambiguously.
var ErrSeparatorCollision = errors.New("text contains the merge separator")

// Merge joins texts with sep. An empty list yields "".
func Merge(texts []string, sep string) string {
	return strings.Join(texts, sep)
}

// Split is the inverse of Merge for texts that do not contain sep.
func Split(blob, sep string) []string {
	return strings.Split(blob, sep)
}

// CheckSeparator reports ErrSeparatorCollision if any text contains sep.
func CheckSeparator(texts []string, sep string) error {
	for _, t := range texts {
		if strings.Contains(t, sep) {
			return ErrSeparatorCollision
		}
	}
	return nil
}

// Align returns one string per raw text. Position i takes results[i].Markup
// when such a result exists and is non-blank; otherwise it keeps raw[i].
// Excess results are ignored. The second return value lists the positions
// that fell back to raw text.
func Align(raw []string, results []ocr.MarkupResult) ([]string, []int) {
	out := make([]string, len(raw))
	var fallbacks []int
	for i, r := range raw {
		if i < len(results) && (strings.TrimSpace(results[i].Markup) != "" || strings.TrimSpace(r) == "") {
			out[i] = results[i].Markup
			continue
		}
		out[i] = r
		fallbacks = append(fallbacks, i)
	}
	return out, fallbacks
}
