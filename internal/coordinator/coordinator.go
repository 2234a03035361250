// Package coordinator implements spec.md §4.9: the single public
// pipeline operation that ties ingest, modality resolution,
// preprocessing, inference, postprocessing, overlay rendering and
// result caching together for one study.
package coordinator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/brainvol/segforge/internal/apierr"
	"github.com/brainvol/segforge/internal/cache"
	"github.com/brainvol/segforge/internal/modality"
	"github.com/brainvol/segforge/internal/modelmanager"
	"github.com/brainvol/segforge/internal/overlay"
	"github.com/brainvol/segforge/internal/postprocess"
	"github.com/brainvol/segforge/internal/preprocess"
	"github.com/brainvol/segforge/internal/volio"
	"github.com/brainvol/segforge/internal/volio/nifti"
	"github.com/sirupsen/logrus"
)

// Options are the per-call flags spec.md §4.9 names.
type Options struct {
	Save           bool
	ForceReprocess bool
	CreateOverlay  bool
}

// Timings records per-stage wall-clock duration in seconds.
type Timings struct {
	Preprocess float64 `json:"preprocess"`
	Inference  float64 `json:"inference"`
	Postprocess float64 `json:"postprocess"`
	Overlay    float64 `json:"overlay"`
	Total      float64 `json:"total"`
}

// Paths names the cached artifact paths a run produced or reused.
type Paths struct {
	Segmentation string `json:"seg,omitempty"`
	Overlay      string `json:"overlay,omitempty"`
}

// Result is spec.md §4.9's `PipelineResult`.
type Result struct {
	OK             bool                     `json:"ok"`
	Cached         bool                     `json:"cached"`
	StudyID        string                   `json:"study_id"`
	Timings        Timings                  `json:"timings"`
	SegStats       postprocess.Stats        `json:"seg_stats"`
	Paths          Paths                    `json:"paths"`
	ConfigSnapshot preprocess.ConfigSnapshot `json:"config_snapshot"`

	Error   string  `json:"error,omitempty"`
	Elapsed float64 `json:"elapsed,omitempty"`
}

// Coordinator wires the pipeline stages against one shared upload
// root, cache and model manager.
type Coordinator struct {
	uploadDir string
	store     *volio.Store
	cache     *cache.Cache
	manager   *modelmanager.Manager
	patterns  *modality.PatternTable
	log       *logrus.Entry

	overlayAlpha, overlayBackground float64
	inferTimeout                    time.Duration
}

// New builds a Coordinator. inferTimeout bounds every call to Run and
// RunFromPreprocessed per spec.md §4.9/§7; zero disables the bound.
func New(uploadDir string, store *volio.Store, c *cache.Cache, manager *modelmanager.Manager, patterns *modality.PatternTable, overlayAlpha, overlayBackground float64, inferTimeout time.Duration, log *logrus.Entry) *Coordinator {
	return &Coordinator{
		uploadDir:         uploadDir,
		store:             store,
		cache:             c,
		manager:           manager,
		patterns:          patterns,
		overlayAlpha:      overlayAlpha,
		overlayBackground: overlayBackground,
		inferTimeout:      inferTimeout,
		log:               log,
	}
}

// withTimeout bounds ctx by the configured whole-pipeline timeout, if
// any. Callers must invoke the returned cancel func.
func (co *Coordinator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if co.inferTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, co.inferTimeout)
}

// Run executes spec.md §4.9's flow for one study, bounded by the
// configured whole-pipeline timeout.
func (co *Coordinator) Run(ctx context.Context, studyID string, opts Options) Result {
	ctx, cancel := co.withTimeout(ctx)
	defer cancel()

	start := time.Now()

	if !opts.ForceReprocess {
		if result, ok := co.tryCached(studyID, opts); ok {
			return result
		}
	}

	folder := filepath.Join(co.uploadDir, studyID)
	info, err := os.Stat(folder)
	if err != nil || !info.IsDir() {
		return failure(studyID, apierr.New(apierr.StudyNotFound, "study folder %q not found", studyID).WithStudy(studyID), start)
	}

	if err := ctx.Err(); err != nil {
		return co.interrupted(studyID, err, "before resolve", start)
	}

	report, err := co.resolve(folder)
	if err != nil {
		return failure(studyID, err, start)
	}
	if !report.InferenceEligible {
		return failure(studyID, apierr.New(apierr.NotEligible, "study is not inference-eligible: missing=%v duplicates=%v", report.Missing, report.DuplicateModality).WithStudy(studyID), start)
	}

	if err := ctx.Err(); err != nil {
		return co.interrupted(studyID, err, "before preprocess", start)
	}

	preStart := time.Now()
	tensor, snapshot, err := preprocess.Run(studyID, folder, report.Found, co.store)
	preDur := time.Since(preStart)
	if err != nil {
		return failure(studyID, err, start)
	}

	return co.runFromTensor(ctx, studyID, tensor, snapshot, opts, start, preDur)
}

// RunFromPreprocessed runs the pipeline starting from an already-saved
// tensor blob, skipping resolve and preprocess, per spec.md's
// `POST /inference/preprocessed/{blob}` operation.
func (co *Coordinator) RunFromPreprocessed(ctx context.Context, tensor *preprocess.Tensor, snapshot preprocess.ConfigSnapshot, studyID string, opts Options) Result {
	ctx, cancel := co.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	if !opts.ForceReprocess {
		if result, ok := co.tryCached(studyID, opts); ok {
			return result
		}
	}
	return co.runFromTensor(ctx, studyID, tensor, snapshot, opts, start, 0)
}

// runFromTensor implements spec.md §4.9 steps 4-7: predict through
// optional overlay and cache insertion, shared by both pipeline entry
// points.
func (co *Coordinator) runFromTensor(ctx context.Context, studyID string, tensor *preprocess.Tensor, snapshot preprocess.ConfigSnapshot, opts Options, start time.Time, preDur time.Duration) Result {
	if err := ctx.Err(); err != nil {
		return co.interrupted(studyID, err, "before predict", start)
	}

	if err := co.manager.EnsureLoaded(); err != nil {
		return failure(studyID, err, start)
	}

	infStart := time.Now()
	logits, classes, err := co.manager.Predict(ctx, tensor.Data, tensor.Channels)
	infDur := time.Since(infStart)
	if err != nil {
		return failure(studyID, err, start)
	}

	// A cancellation or deadline observed after predict returns discards
	// the otherwise-complete output rather than resuming the pipeline.
	if err := ctx.Err(); err != nil {
		return co.interrupted(studyID, err, "after predict", start)
	}

	postStart := time.Now()
	shape := [3]int{tensor.Size, tensor.Size, tensor.Size}
	seg, stats, err := postprocess.Run(studyID, logits, classes, shape)
	postDur := time.Since(postStart)
	if err != nil {
		return failure(studyID, err, start)
	}

	var overlayDur time.Duration
	var overlayBytes []byte
	if opts.CreateOverlay {
		overlayStart := time.Now()
		base := channelZeroVolume(tensor, snapshot)
		ov := overlay.Render(base, seg, co.overlayAlpha, co.overlayBackground)
		overlayBytes, err = encodeOverlayNIfTI(ov, base.Meta)
		overlayDur = time.Since(overlayStart)
		if err != nil {
			return failure(studyID, apierr.Wrap(apierr.CacheFailure, err, "encode overlay"), start)
		}
	}

	var paths Paths
	if opts.Save {
		segVol := segmentationVolume(seg, preprocessBaseMeta(tensor, snapshot))
		segBytes, err := nifti.EncodeGzip(segVol)
		if err != nil {
			return failure(studyID, apierr.Wrap(apierr.CacheFailure, err, "encode segmentation"), start)
		}
		entry, err := co.cache.Insert(studyID, segBytes, ".nii.gz", overlayBytesOrNil(opts.CreateOverlay, overlayBytes), ".nii.gz")
		if err != nil {
			return failure(studyID, err, start)
		}
		paths = Paths{Segmentation: entry.SegmentationPath, Overlay: entry.OverlayPath}
	}

	total := time.Since(start)
	return Result{
		OK:      true,
		Cached:  false,
		StudyID: studyID,
		Timings: Timings{
			Preprocess:  preDur.Seconds(),
			Inference:   infDur.Seconds(),
			Postprocess: postDur.Seconds(),
			Overlay:     overlayDur.Seconds(),
			Total:       total.Seconds(),
		},
		SegStats:       stats,
		Paths:          paths,
		ConfigSnapshot: snapshot,
	}
}

func overlayBytesOrNil(create bool, b []byte) []byte {
	if !create {
		return nil
	}
	return b
}

// tryCached implements step 1: a probe short-circuit when a
// segmentation (and, if requested, an overlay) already exist.
func (co *Coordinator) tryCached(studyID string, opts Options) (Result, bool) {
	entry := co.cache.Probe(studyID)
	if !entry.HasSegmentation() {
		return Result{}, false
	}
	if opts.CreateOverlay && !entry.HasOverlay() {
		return Result{}, false
	}
	return Result{
		OK:      true,
		Cached:  true,
		StudyID: studyID,
		Paths:   Paths{Segmentation: entry.SegmentationPath, Overlay: entry.OverlayPath},
	}, true
}

func (co *Coordinator) resolve(folder string) (modality.ValidationReport, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return modality.ValidationReport{}, apierr.Wrap(apierr.IOFailure, err, "read study folder")
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if volio.IsNIfTIName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return modality.Resolve(names, co.patterns), nil
}

// interrupted classifies a ctx.Err() observed between pipeline stages:
// a deadline is a Timeout (spec.md §4.9's whole-pipeline timeout), any
// other cancellation is Cancelled. A timeout additionally forces the
// model manager to release its loaded state preventively, since the
// run that was about to use it is being abandoned.
func (co *Coordinator) interrupted(studyID string, err error, where string, start time.Time) Result {
	kind := apierr.Cancelled
	if errors.Is(err, context.DeadlineExceeded) {
		kind = apierr.Timeout
		co.manager.ForceCleanup()
	}
	return failure(studyID, apierr.Wrap(kind, err, "interrupted %s", where), start)
}

func failure(studyID string, err error, start time.Time) Result {
	apiErr := apierr.As(err)
	return Result{
		OK:      false,
		StudyID: studyID,
		Error:   string(apiErr.Kind),
		Elapsed: time.Since(start).Seconds(),
	}
}
