package scan

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mediadupfinder/internal/audio"
	"mediadupfinder/internal/config"
	"mediadupfinder/internal/ffmpeg"
	"mediadupfinder/internal/hash"
	"mediadupfinder/internal/match"
	"mediadupfinder/internal/metrics"
	"mediadupfinder/internal/models"
	"mediadupfinder/internal/video"
)

// State is the lifecycle stage of the engine
type State int32

const (
	StateIdle State = iota
	StateFingerprinting
	StateGrouping
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateFingerprinting:
		return "fingerprinting"
	case StateGrouping:
		return "grouping"
	case StateResolved:
		return "resolved"
	default:
		return "idle"
	}
}

// Fingerprinter produces the fingerprint of one file or an error
type Fingerprinter interface {
	Fingerprint(ctx context.Context, file models.MediaFile) (*models.Fingerprint, error)
}

// Cache stores fingerprints across scans
type Cache interface {
	Get(ctx context.Context, file models.MediaFile) (*models.Fingerprint, bool, error)
	Put(ctx context.Context, fp *models.Fingerprint) error
}

// ProgressFunc is called after each file finishes
type ProgressFunc func(done, total int, current string)

// Engine fingerprints files in parallel, groups them and resolves which
// member of each group to keep. One engine runs one scan at a time.
type Engine struct {
	cfg            config.Config
	fingerprinters map[models.Kind]Fingerprinter
	cache          Cache
	logger         zerolog.Logger
	metrics        *metrics.Metrics
	progressFn     ProgressFunc

	state   atomic.Int32
	running atomic.Bool
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithMetrics records per-file and per-scan metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithProgress sets a progress callback
func WithProgress(fn ProgressFunc) Option {
	return func(e *Engine) {
		e.progressFn = fn
	}
}

// WithCache reuses fingerprints of unchanged files
func WithCache(c Cache) Option {
	return func(e *Engine) {
		e.cache = c
	}
}

// WithFingerprinter replaces the strategy used for one kind of media
func WithFingerprinter(kind models.Kind, f Fingerprinter) Option {
	return func(e *Engine) {
		e.fingerprinters[kind] = f
	}
}

// NewEngine creates an Engine. Strategies not supplied through options are
// built from cfg on top of the ffmpeg binaries it names.
func NewEngine(cfg config.Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:            cfg,
		fingerprinters: make(map[models.Kind]Fingerprinter),
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	runner := ffmpeg.NewRunner(cfg.FFmpegPath, cfg.FFprobePath)
	if _, ok := e.fingerprinters[models.KindImage]; !ok {
		e.fingerprinters[models.KindImage] = hash.NewImageFingerprinter(cfg.HashSize, runner)
	}
	if _, ok := e.fingerprinters[models.KindVideo]; !ok {
		e.fingerprinters[models.KindVideo] = video.NewFingerprinter(
			runner,
			audio.NewFingerprinter(runner, cfg.AudioSampleRate, cfg.MaxAudioSeconds),
			cfg.FrameCount,
			cfg.HashSize,
			video.WithLogger(e.logger),
			video.WithVarianceFloor(cfg.SolidVarianceFloor),
		)
	}
	return e
}

// State returns the current lifecycle stage
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State, scanID string) {
	e.state.Store(int32(s))
	e.logger.Info().Str("scan_id", scanID).Str("state", s.String()).Msg("scan state changed")
}

// Run scans files and returns the duplicate groups found among them along
// with every per-file error. Cancelling ctx stops the scan between files
// and discards everything computed so far.
func (e *Engine) Run(ctx context.Context, files []models.MediaFile) (*models.ScanResult, error) {
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	if !e.running.CompareAndSwap(false, true) {
		return nil, models.ErrScanInProgress
	}
	defer e.running.Store(false)

	result := &models.ScanResult{
		ID:         uuid.NewString(),
		StartedAt:  time.Now(),
		TotalFiles: len(files),
	}
	defer e.state.Store(int32(StateIdle))

	e.logger.Info().Str("scan_id", result.ID).Int("files", len(files)).Int("workers", e.cfg.Workers).Msg("scan started")
	e.setState(StateFingerprinting, result.ID)

	fps, errs := e.fingerprintAll(ctx, files)
	if ctx.Err() != nil {
		e.logger.Info().Str("scan_id", result.ID).Msg("scan cancelled")
		e.metrics.ObserveScan("cancelled", 0)
		return nil, models.ErrCancelledScan
	}

	e.setState(StateGrouping, result.ID)
	groups := match.NewGrouper(e.cfg).Group(fps)

	e.setState(StateResolved, result.ID)
	models.SortFileErrors(errs)

	if groups == nil {
		groups = []*models.DuplicateGroup{}
	}
	if errs == nil {
		errs = []models.FileError{}
	}
	result.Fingerprinted = len(fps)
	result.Groups = groups
	result.Errors = errs
	result.Thumbnails = groupThumbnails(groups, fps)
	result.Duration = time.Since(result.StartedAt)

	e.metrics.ObserveScan("completed", len(groups))
	e.logger.Info().
		Str("scan_id", result.ID).
		Int("fingerprinted", result.Fingerprinted).
		Int("groups", len(groups)).
		Int("errors", len(errs)).
		Dur("duration", result.Duration).
		Msg("scan finished")

	return result, nil
}

// outcome is owned by the worker that fills it until the pool is joined
type outcome struct {
	fp   *models.Fingerprint
	errs []models.FileError
}

func (e *Engine) fingerprintAll(ctx context.Context, files []models.MediaFile) ([]*models.Fingerprint, []models.FileError) {
	outcomes := make([]outcome, len(files))
	var done atomic.Int64

	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)

	for i := range files {
		// units already started run to completion
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			outcomes[i] = e.fingerprintOne(ctx, files[i])
			n := done.Add(1)
			if e.progressFn != nil {
				e.progressFn(int(n), len(files), files[i].Path)
			}
			return nil
		})
	}
	g.Wait()

	var fps []*models.Fingerprint
	var errs []models.FileError
	for _, o := range outcomes {
		if o.fp != nil {
			fps = append(fps, o.fp)
		}
		errs = append(errs, o.errs...)
	}
	return fps, errs
}

func (e *Engine) fingerprintOne(ctx context.Context, file models.MediaFile) outcome {
	kind, ok := hash.Classify(file.Path)
	if !ok {
		return outcome{errs: []models.FileError{
			models.NewFileError(file.Path, fmt.Errorf("%w: %s", models.ErrUnsupported, file.Path)),
		}}
	}
	file.Kind = kind

	log := e.logger.With().Str("path", file.Path).Str("kind", kind.String()).Logger()

	if e.cache != nil {
		fp, hit, err := e.cache.Get(ctx, file)
		if err != nil {
			log.Warn().Err(err).Msg("fingerprint cache lookup failed")
		}
		if hit {
			e.metrics.ObserveFile(kind, "cached", 0)
			return withAudioNote(fp)
		}
	}

	f, ok := e.fingerprinters[kind]
	if !ok {
		return outcome{errs: []models.FileError{
			models.NewFileError(file.Path, fmt.Errorf("%w: no fingerprinter for %s", models.ErrUnsupported, kind)),
		}}
	}

	// a running decode is bounded by the per-file timeout, not by scan cancellation
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.FileTimeout)
	defer cancel()

	start := time.Now()
	fp, err := f.Fingerprint(fctx, file)
	elapsed := time.Since(start)
	if err != nil {
		fe := models.NewFileError(file.Path, err)
		e.metrics.ObserveFile(kind, string(fe.Kind), elapsed)
		log.Warn().Err(err).Str("error_kind", string(fe.Kind)).Msg("fingerprinting failed")
		return outcome{errs: []models.FileError{fe}}
	}

	e.metrics.ObserveFile(kind, "ok", elapsed)
	log.Debug().Dur("elapsed", elapsed).Msg("fingerprinted")

	if e.cache != nil {
		if err := e.cache.Put(ctx, fp); err != nil {
			log.Warn().Err(err).Msg("failed to cache fingerprint")
		}
	}
	return withAudioNote(fp)
}

// withAudioNote surfaces a missing audio fingerprint as a non-fatal error
func withAudioNote(fp *models.Fingerprint) outcome {
	o := outcome{fp: fp}
	v := fp.Video
	if v != nil && v.Audio == nil && v.AudioNote != "" && v.AudioNote != video.AudioDisabledNote {
		o.errs = append(o.errs, models.FileError{
			Path:   fp.File.Path,
			Kind:   models.ErrorNoAudio,
			Reason: v.AudioNote,
		})
	}
	return o
}

// groupThumbnails keeps the fingerprint thumbnail of every grouped video
func groupThumbnails(groups []*models.DuplicateGroup, fps []*models.Fingerprint) map[string][]byte {
	grouped := make(map[string]bool)
	for _, g := range groups {
		if g.Kind != models.KindVideo {
			continue
		}
		for _, m := range g.Members {
			grouped[m.Path] = true
		}
	}

	thumbs := make(map[string][]byte, len(grouped))
	for _, fp := range fps {
		if fp.Video != nil && len(fp.Video.Thumbnail) > 0 && grouped[fp.File.Path] {
			thumbs[fp.File.Path] = fp.Video.Thumbnail
		}
	}
	return thumbs
}
