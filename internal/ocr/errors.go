package ocr

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidContentType = errors.New("content type is not an image")
	ErrEmptyPayload       = errors.New("file is empty")
	ErrUndecodableImage   = errors.New("image could not be decoded")
	ErrCountMismatch      = errors.New("result count does not match input count")
	ErrNoFiles            = errors.New("no files uploaded")
	ErrTooManyFiles       = errors.New("too many files in one upload")
	ErrFilenameTooLong    = errors.New("filename is too long")
	ErrCollectionNotFound = errors.New("collection not found")
)

// Column widths of the records table.
const (
	MaxFilenameLength = 512
	MaxFileTypeLength = 128
)

// Kind classifies a pipeline failure.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindBackend
	KindPersistence
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindBackend:
		return "backend"
	case KindPersistence:
		return "persistence"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Stage names the pipeline step an error originated in.
type Stage string

const (
	StageUpload   Stage = "upload"
	StageDecode   Stage = "decode"
	StageExtract  Stage = "extract"
	StageReformat Stage = "reformat"
	StagePersist  Stage = "persist"
)

// Error is the typed failure produced by every pipeline stage.
type Error struct {
	Kind     Kind
	Stage    Stage
	Filename string
	Err      error
}

func (e *Error) Error() string {
	if e.Filename != "" {
		return fmt.Sprintf("%s %s failed for %q: %v", e.Stage, e.Kind, e.Filename, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether resubmitting the same input may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindBackend || e.Kind == KindPersistence
}

// NewError builds an *Error, classifying context cancellation as
// KindCanceled regardless of the requested kind.
func NewError(kind Kind, stage Stage, filename string, err error) *Error {
	if errors.Is(err, context.Canceled) {
		kind = KindCanceled
	}
	return &Error{Kind: kind, Stage: stage, Filename: filename, Err: err}
}

// KindOf returns the Kind of err, or zero when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
