package pipeline

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medrec/medrec/internal/ocr"
	"github.com/medrec/medrec/internal/platform/auth"
)

// Route is the ingest path relative to the API group.
const Route = "/ocr/get-text"

// StatusClientClosedRequest is reported when the caller went away mid-batch.
const StatusClientClosedRequest = 499

type Handler struct {
	p *Pipeline
}

func NewHandler(p *Pipeline) *Handler {
	return &Handler{p: p}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST(Route, h.GetText, auth.RequireUser())
}

// GetText accepts multipart field "files" (repeated) and an optional
// collection_id as query parameter or form field.
func (h *Handler) GetText(c echo.Context) error {
	ctx := c.Request().Context()
	uid := auth.UserIDFromContext(ctx)

	form, err := c.MultipartForm()
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return errorBody(http.StatusBadRequest, "invalid multipart form", ocr.StageUpload, "")
	}

	var collectionID *uuid.UUID
	raw := c.QueryParam("collection_id")
	if raw == "" && len(form.Value["collection_id"]) > 0 {
		raw = form.Value["collection_id"][0]
	}
	if raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return errorBody(http.StatusBadRequest, "invalid collection_id", ocr.StageUpload, "")
		}
		collectionID = &id
	}

	files := form.File["files"]
	items := make([]ocr.UploadItem, 0, len(files))
	for _, fh := range files {
		item, err := readUpload(fh)
		if err != nil {
			return errorBody(http.StatusBadRequest, "could not read upload", ocr.StageUpload, fh.Filename)
		}
		items = append(items, item)
	}

	res, err := h.p.Process(ctx, Request{
		Items:        items,
		OwnerID:      uid,
		CreatorID:    uid,
		CollectionID: collectionID,
	})
	if err != nil {
		return toHTTPError(ctx, err)
	}

	if h.p.Policy() == Partial {
		failed := res.Failed
		if failed == nil {
			failed = []Failure{}
		}
		return c.JSON(http.StatusOK, map[string]any{"records": res.Records, "failed": failed})
	}
	return c.JSON(http.StatusOK, res.Records)
}

func readUpload(fh *multipart.FileHeader) (ocr.UploadItem, error) {
	f, err := fh.Open()
	if err != nil {
		return ocr.UploadItem{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return ocr.UploadItem{}, err
	}
	return ocr.UploadItem{
		Filename:    filepath.Base(fh.Filename),
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Data:        data,
	}, nil
}

func errorBody(code int, msg string, stage ocr.Stage, filename string) *echo.HTTPError {
	body := map[string]string{"error": msg, "stage": string(stage)}
	if filename != "" {
		body["filename"] = filename
	}
	return echo.NewHTTPError(code, body)
}

// toHTTPError maps pipeline failures onto status codes. Persistence details
// are not exposed to the caller.
func toHTTPError(ctx context.Context, err error) error {
	var oe *ocr.Error
	if !errors.As(err, &oe) {
		return echo.NewHTTPError(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	switch oe.Kind {
	case ocr.KindValidation:
		code := http.StatusBadRequest
		if errors.Is(oe, ocr.ErrInvalidContentType) {
			code = http.StatusUnsupportedMediaType
		}
		return errorBody(code, oe.Err.Error(), oe.Stage, oe.Filename)
	case ocr.KindBackend:
		return errorBody(http.StatusBadGateway, oe.Err.Error(), oe.Stage, oe.Filename)
	case ocr.KindCanceled:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errorBody(http.StatusServiceUnavailable, "processing timed out", oe.Stage, oe.Filename)
		}
		return errorBody(StatusClientClosedRequest, "request canceled", oe.Stage, oe.Filename)
	default:
		return errorBody(http.StatusInternalServerError, "failed to save records", oe.Stage, "")
	}
}
