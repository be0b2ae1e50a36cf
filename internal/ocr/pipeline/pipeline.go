// Package pipeline drives one upload through decoding, text extraction,
// optional reformatting and persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medrec/medrec/internal/domain/collection"
	"github.com/medrec/medrec/internal/domain/record"
	"github.com/medrec/medrec/internal/ocr"
	"github.com/medrec/medrec/internal/ocr/reformat"
	"github.com/medrec/medrec/internal/ocr/scheduler"
	"github.com/medrec/medrec/internal/platform/telemetry"
)

type Policy string

const (
	// FailFast rejects the whole batch when any item fails.
	FailFast Policy = "fail-fast"
	// Partial persists the items that succeeded and reports the rest.
	Partial Policy = "partial"
)

// Decoder turns an upload into a raster image.
type Decoder interface {
	Decode(item ocr.UploadItem) (*ocr.Image, error)
}

// RecordStore persists a batch of records atomically.
type RecordStore interface {
	CreateBatch(ctx context.Context, records []*record.Record) error
}

// CollectionChecker verifies that a collection belongs to a user.
type CollectionChecker interface {
	EnsureOwned(ctx context.Context, id uuid.UUID, ownerID string) error
}

// Reformatter is the best-effort markup stage.
type Reformatter interface {
	Apply(ctx context.Context, texts []string, images []*ocr.Image) reformat.Result
}

type Config struct {
	Policy      Policy
	FastMode    bool
	RemoteBatch bool
	CPUs        int
	MaxFiles    int
}

type Pipeline struct {
	decoder     Decoder
	backend     ocr.Backend
	pool        *scheduler.Pool
	records     RecordStore
	collections CollectionChecker
	reformatter Reformatter
	metrics     *telemetry.Provider
	logger      zerolog.Logger
	cfg         Config
}

func New(decoder Decoder, backend ocr.Backend, pool *scheduler.Pool, records RecordStore, cfg Config, logger zerolog.Logger) *Pipeline {
	if cfg.Policy == "" {
		cfg.Policy = FailFast
	}
	if cfg.CPUs < 1 {
		cfg.CPUs = 1
	}
	return &Pipeline{
		decoder: decoder,
		backend: backend,
		pool:    pool,
		records: records,
		cfg:     cfg,
		logger:  logger.With().Str("component", "ocr-pipeline").Str("backend", backend.Name()).Logger(),
	}
}

// WithCollections enables the collection ownership check.
func (p *Pipeline) WithCollections(c CollectionChecker) *Pipeline {
	p.collections = c
	return p
}

// WithReformatter enables the markup stage.
func (p *Pipeline) WithReformatter(r Reformatter) *Pipeline {
	p.reformatter = r
	return p
}

func (p *Pipeline) WithMetrics(m *telemetry.Provider) *Pipeline {
	p.metrics = m
	return p
}

func (p *Pipeline) Policy() Policy { return p.cfg.Policy }

// Request is one upload batch. Items are processed and persisted in order.
type Request struct {
	Items        []ocr.UploadItem
	OwnerID      string
	CreatorID    string
	CollectionID *uuid.UUID
}

// Failure describes an item excluded from a partial batch.
type Failure struct {
	Filename string    `json:"filename"`
	Stage    ocr.Stage `json:"stage"`
	Error    string    `json:"error"`
}

type Result struct {
	Records   []*record.Record
	Failed    []Failure
	Strategy  scheduler.Strategy
	Fallbacks int
}

// Process runs the batch. Under FailFast any item failure aborts the batch
// with an *ocr.Error naming the file and nothing is persisted. Under Partial
// failed items are reported in Result.Failed and the batch only fails when
// no item succeeded.
func (p *Pipeline) Process(ctx context.Context, req Request) (res *Result, err error) {
	start := time.Now()
	defer func() {
		outcome := "succeeded"
		if err != nil {
			outcome = "failed"
		} else if len(res.Failed) > 0 {
			outcome = "partial"
		}
		p.metrics.ObserveBatch(outcome)
		ev := p.logger.Info()
		var oe *ocr.Error
		if errors.As(err, &oe) {
			ev = p.logger.Warn().Str("stage", string(oe.Stage)).Bool("retryable", oe.Retryable())
		}
		ev.Str("outcome", outcome).Int("items", len(req.Items)).
			Dur("elapsed", time.Since(start)).Msg("ocr batch finished")
	}()

	if err := p.validate(ctx, req); err != nil {
		return nil, err
	}

	outcomes, images, strategy, cause, err := p.extract(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	var ok []int
	var failed []Failure
	for i, o := range outcomes {
		if o.Success {
			ok = append(ok, i)
			continue
		}
		p.logger.Warn().Err(o.Err).Str("filename", o.Filename).Str("kind", ocr.KindOf(o.Err).String()).
			Msg("ocr item failed")
		failed = append(failed, failureOf(o))
	}
	p.metrics.ObserveItems("succeeded", len(ok))
	p.metrics.ObserveItems("failed", len(failed))

	if len(failed) > 0 && (p.cfg.Policy == FailFast || len(ok) == 0) {
		return nil, firstFailure(ctx, outcomes, cause)
	}

	texts := make([]string, len(ok))
	imgs := make([]*ocr.Image, len(ok))
	for j, i := range ok {
		texts[j] = outcomes[i].Text
		imgs[j] = images[i]
	}
	contents, fallbacks := p.reformat(ctx, texts, imgs)

	recs := make([]*record.Record, len(ok))
	for j, i := range ok {
		o := outcomes[i]
		recs[j] = &record.Record{
			Filename:     o.Filename,
			Content:      contents[j],
			FileSize:     o.FileSize,
			FileType:     o.FileType,
			OwnerID:      req.OwnerID,
			CreatorID:    req.CreatorID,
			CollectionID: req.CollectionID,
		}
	}

	persistStart := time.Now()
	if err := p.records.CreateBatch(ctx, recs); err != nil {
		return nil, ocr.NewError(ocr.KindPersistence, ocr.StagePersist, "", err)
	}
	p.metrics.ObserveStage(string(ocr.StagePersist), time.Since(persistStart))
	p.logger.Debug().Int("records", len(recs)).Dur("elapsed", time.Since(persistStart)).Msg("records persisted")

	return &Result{Records: recs, Failed: failed, Strategy: strategy, Fallbacks: fallbacks}, nil
}

func (p *Pipeline) validate(ctx context.Context, req Request) error {
	if len(req.Items) == 0 {
		return ocr.NewError(ocr.KindValidation, ocr.StageUpload, "", ocr.ErrNoFiles)
	}
	if p.cfg.MaxFiles > 0 && len(req.Items) > p.cfg.MaxFiles {
		return ocr.NewError(ocr.KindValidation, ocr.StageUpload, "",
			fmt.Errorf("%w: %d files, limit is %d", ocr.ErrTooManyFiles, len(req.Items), p.cfg.MaxFiles))
	}
	for _, it := range req.Items {
		if utf8.RuneCountInString(it.Filename) > ocr.MaxFilenameLength {
			return ocr.NewError(ocr.KindValidation, ocr.StageUpload, truncate(it.Filename, 64),
				fmt.Errorf("%w: limit is %d characters", ocr.ErrFilenameTooLong, ocr.MaxFilenameLength))
		}
	}
	if req.CollectionID == nil || p.collections == nil {
		return nil
	}
	err := p.collections.EnsureOwned(ctx, *req.CollectionID, req.OwnerID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, collection.ErrNotFound):
		return ocr.NewError(ocr.KindValidation, ocr.StageUpload, "", ocr.ErrCollectionNotFound)
	default:
		return ocr.NewError(ocr.KindPersistence, ocr.StageUpload, "", fmt.Errorf("look up collection: %w", err))
	}
}

// extract decodes every item and runs the backend on it. Outcomes and images
// are indexed by input position. The returned cause is the index of the item
// that aborted a fail-fast batch, or -1.
func (p *Pipeline) extract(ctx context.Context, items []ocr.UploadItem) ([]ocr.Outcome, []*ocr.Image, scheduler.Strategy, int, error) {
	start := time.Now()
	n := len(items)
	outcomes := make([]ocr.Outcome, n)
	images := make([]*ocr.Image, n)
	for i, it := range items {
		outcomes[i] = ocr.Outcome{Index: i, Filename: it.Filename, FileSize: it.Size(), FileType: mediaType(it.ContentType)}
	}

	strategy := scheduler.Plan(n, p.cfg.CPUs, p.cfg.FastMode)
	p.metrics.ObserveStrategy(strategy.Mode.String())
	failFast := p.cfg.Policy == FailFast

	batch, useBatch := p.backend.(ocr.BatchBackend)
	useBatch = useBatch && p.cfg.RemoteBatch && n > 1

	run, err := p.pool.Run(ctx, n, strategy, failFast, func(ctx context.Context, i int) error {
		p.metrics.SetPoolInUse(p.pool.InUse())
		img, err := p.decoder.Decode(items[i])
		if err != nil {
			return asItemError(ocr.KindValidation, ocr.StageDecode, items[i].Filename, err)
		}
		images[i] = img
		if img.MIMEType != "" {
			outcomes[i].FileType = img.MIMEType
		}
		if useBatch {
			return nil
		}
		ext, err := p.backend.Extract(ctx, img)
		if err != nil {
			return asItemError(ocr.KindBackend, ocr.StageExtract, items[i].Filename, err)
		}
		outcomes[i].Text = ext.Text
		outcomes[i].Confidence = ext.Confidence
		return nil
	})
	p.metrics.SetPoolInUse(p.pool.InUse())
	if err != nil {
		return nil, nil, strategy, -1, ocr.NewError(canceledOr(ctx, ocr.KindBackend), ocr.StageExtract, "", err)
	}

	for i, e := range run.Errs {
		if e == nil {
			outcomes[i].Success = !useBatch
			continue
		}
		if errors.Is(e, scheduler.ErrSkipped) {
			e = ocr.NewError(ocr.KindCanceled, ocr.StageExtract, items[i].Filename, e)
		}
		outcomes[i].Err = e
	}

	if useBatch {
		p.extractBatch(ctx, batch, outcomes, images, failFast)
	}

	p.metrics.ObserveStage(string(ocr.StageExtract), time.Since(start))
	p.logger.Debug().Int("items", n).Str("strategy", strategy.Mode.String()).Int("workers", strategy.Workers).
		Bool("remote_batch", useBatch).Dur("elapsed", time.Since(start)).Msg("extraction finished")
	return outcomes, images, strategy, run.Cause, nil
}

// extractBatch sends every decoded image in one request. A failed request,
// including a result count mismatch, fails every image it carried.
func (p *Pipeline) extractBatch(ctx context.Context, backend ocr.BatchBackend, outcomes []ocr.Outcome, images []*ocr.Image, failFast bool) {
	var idx []int
	var imgs []*ocr.Image
	for i, o := range outcomes {
		if o.Err == nil && images[i] != nil {
			idx = append(idx, i)
			imgs = append(imgs, images[i])
		}
	}
	if len(idx) == 0 {
		return
	}
	if failFast && len(idx) < len(outcomes) {
		for _, i := range idx {
			outcomes[i].Err = ocr.NewError(ocr.KindCanceled, ocr.StageExtract, outcomes[i].Filename, scheduler.ErrSkipped)
		}
		return
	}

	exts, err := backend.ExtractBatch(ctx, imgs)
	if err == nil && len(exts) != len(imgs) {
		err = fmt.Errorf("%w: sent %d images, received %d results", ocr.ErrCountMismatch, len(imgs), len(exts))
	}
	for j, i := range idx {
		if err != nil {
			outcomes[i].Err = ocr.NewError(ocr.KindBackend, ocr.StageExtract, outcomes[i].Filename, err)
			continue
		}
		outcomes[i].Success = true
		outcomes[i].Text = exts[j].Text
		outcomes[i].Confidence = exts[j].Confidence
	}
}

func (p *Pipeline) reformat(ctx context.Context, texts []string, imgs []*ocr.Image) ([]string, int) {
	if p.reformatter == nil || len(texts) == 0 {
		return texts, 0
	}
	start := time.Now()
	res := p.reformatter.Apply(ctx, texts, imgs)
	p.metrics.ObserveStage(string(ocr.StageReformat), time.Since(start))
	p.metrics.ObserveReformatFallbacks(len(res.Fallbacks))
	if len(res.Contents) != len(texts) {
		return texts, len(texts)
	}
	return res.Contents, len(res.Fallbacks)
}

// asItemError keeps an existing *ocr.Error and wraps anything else.
func asItemError(kind ocr.Kind, stage ocr.Stage, filename string, err error) error {
	var oe *ocr.Error
	if errors.As(err, &oe) {
		return oe
	}
	return ocr.NewError(kind, stage, filename, err)
}

func canceledOr(ctx context.Context, kind ocr.Kind) ocr.Kind {
	if ctx.Err() != nil {
		return ocr.KindCanceled
	}
	return kind
}

// firstFailure picks the error reported for a rejected batch. A done request
// context wins. Otherwise the item that aborted the batch is reported; without
// one (partial policy, remote batch) it is the first item in input order that
// failed on its own.
func firstFailure(ctx context.Context, outcomes []ocr.Outcome, cause int) error {
	if err := ctx.Err(); err != nil {
		filename := ""
		if cause >= 0 {
			filename = outcomes[cause].Filename
		}
		return ocr.NewError(ocr.KindCanceled, ocr.StageExtract, filename, context.Cause(ctx))
	}
	if cause >= 0 && outcomes[cause].Err != nil {
		return outcomes[cause].Err
	}
	var skipped error
	for _, o := range outcomes {
		if o.Err == nil {
			continue
		}
		if ocr.KindOf(o.Err) == ocr.KindCanceled {
			if skipped == nil {
				skipped = o.Err
			}
			continue
		}
		return o.Err
	}
	if skipped != nil {
		return skipped
	}
	return ocr.NewError(ocr.KindCanceled, ocr.StageExtract, "", context.Cause(ctx))
}

// mediaType drops parameters from a declared Content-Type.
func mediaType(declared string) string {
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return ""
	}
	return truncate(mt, ocr.MaxFileTypeLength)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func failureOf(o ocr.Outcome) Failure {
	f := Failure{Filename: o.Filename, Stage: ocr.StageExtract, Error: o.Err.Error()}
	var oe *ocr.Error
	if errors.As(o.Err, &oe) {
		f.Stage = oe.Stage
		f.Error = oe.Err.Error()
	}
	return f
}
