// Package pipeline wires dispatch, classification, interpolation, and
// playback indexing into one job-scoped processing run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/motionforge/posepipe/adapter"
	"github.com/motionforge/posepipe/classify"
	"github.com/motionforge/posepipe/dispatch"
	"github.com/motionforge/posepipe/export"
	"github.com/motionforge/posepipe/interp"
	"github.com/motionforge/posepipe/log"
	"github.com/motionforge/posepipe/metrics"
	"github.com/motionforge/posepipe/playback"
	"github.com/motionforge/posepipe/types"
)

// Options configures a Pipeline.
type Options struct {
	// Scheduler holds dispatch limits. Zero value uses DefaultConfig.
	Scheduler dispatch.Config
	// Thresholds holds quality classifier settings. Zero value uses
	// DefaultThresholds.
	Thresholds classify.Thresholds
	// MaxGap bounds interpolation run length (default 5).
	MaxGap int
	// CacheCapacity sizes the playback frame cache (default 256).
	CacheCapacity int
	// RetryRejected retries queue-full rejections sequentially through the
	// invoker after the batched pass, instead of surfacing them as failures.
	RetryRejected bool
	// Adapter, when set, receives a completion event after each job.
	// Publish failures are logged, never fatal.
	Adapter adapter.Adapter
	// Exporter, when set, uploads the finished sequence document.
	Exporter *export.S3Sink
	// Logger defaults to a no-op logger.
	Logger *log.Logger
}

// Result is the outcome of one processing job.
type Result struct {
	Sequence types.RawSequence
	Verdicts []types.QualityVerdict
	Entries  []types.LogicalFrameEntry
	Index    *playback.Index

	// FrameErrors maps frame numbers to their dispatch failures.
	FrameErrors map[int]error
	// ExportKey is the object key written by the exporter, if any.
	ExportKey string
	// Metrics is the collector snapshot taken after the job settled.
	Metrics metrics.Snapshot
	Elapsed time.Duration
}

// Outcome summarizes the job for downstream consumers.
func (r *Result) Outcome() string {
	accepted := 0
	for _, v := range r.Verdicts {
		if v.Accepted() {
			accepted++
		}
	}
	switch {
	case accepted == len(r.Verdicts):
		return "success"
	case accepted > 0:
		return "partial"
	default:
		return "failed"
	}
}

// Pipeline runs pose estimation jobs end to end.
type Pipeline struct {
	opts    Options
	invoker dispatch.Invoker
	logger  *log.Logger
}

// New creates a pipeline around an invoker.
func New(invoker dispatch.Invoker, opts Options) (*Pipeline, error) {
	if invoker == nil {
		return nil, errors.New("pipeline requires an invoker")
	}
	if opts.Scheduler == (dispatch.Config{}) {
		opts.Scheduler = dispatch.DefaultConfig()
	}
	if opts.Thresholds == (classify.Thresholds{}) {
		opts.Thresholds = classify.DefaultThresholds()
	}
	if opts.MaxGap == 0 {
		opts.MaxGap = 5
	}
	if opts.MaxGap < 0 {
		return nil, fmt.Errorf("max gap must be >= 0, got %d", opts.MaxGap)
	}
	if opts.CacheCapacity == 0 {
		opts.CacheCapacity = 256
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if err := opts.Scheduler.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	if err := opts.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("thresholds: %w", err)
	}
	return &Pipeline{opts: opts, invoker: invoker, logger: opts.Logger}, nil
}

// Process estimates poses for every payload, classifies and bridges the
// resulting sequence, and returns a ready playback index. payloads[i] is the
// raw image for frame i.
//
// Frames whose dispatch fails become absences in the sequence rather than
// failing the job; FrameErrors records why. Process fails outright only on
// context cancellation or an unusable configuration.
func (p *Pipeline) Process(ctx context.Context, meta *types.JobMeta, payloads [][]byte) (*Result, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if len(payloads) == 0 {
		return nil, errors.New("pipeline: no frames to process")
	}

	start := time.Now()
	collector := metrics.NewCollector("subprocess", meta.JobID, meta.VideoID)

	seq, frameErrs, err := p.estimate(ctx, meta, payloads, collector)
	if err != nil {
		return nil, err
	}

	verdicts := classify.Classify(seq, p.opts.Thresholds)
	entries, err := interp.Build(seq, verdicts, p.opts.MaxGap)
	if err != nil {
		return nil, fmt.Errorf("pipeline: build logical index: %w", err)
	}

	index, err := playback.NewIndex(p.opts.CacheCapacity)
	if err != nil {
		return nil, err
	}
	if err := index.Init(seq, entries); err != nil {
		return nil, fmt.Errorf("pipeline: init playback index: %w", err)
	}

	p.recordVerdicts(collector, verdicts, entries)

	res := &Result{
		Sequence:    seq,
		Verdicts:    verdicts,
		Entries:     entries,
		Index:       index,
		FrameErrors: frameErrs,
		Elapsed:     time.Since(start),
	}

	if p.opts.Exporter != nil {
		key, err := p.opts.Exporter.Put(ctx, &export.SequenceDocument{
			FormatVersion: types.Version,
			JobID:         meta.JobID,
			VideoID:       meta.VideoID,
			ExportedAt:    time.Now().UTC(),
			Observations:  seq,
			Verdicts:      verdicts,
			Entries:       entries,
		})
		if err != nil {
			return nil, fmt.Errorf("pipeline: export: %w", err)
		}
		res.ExportKey = key
	}

	if p.opts.Adapter != nil {
		if err := p.opts.Adapter.Publish(ctx, p.completionEvent(meta, res)); err != nil {
			p.logger.Warn("completion event publish failed", map[string]any{
				"error": err.Error(),
			})
		}
	}

	res.Metrics = collector.Snapshot()
	return res, nil
}

// estimate dispatches every payload and assembles the raw sequence.
// Failed frames leave nil slots; their errors land in the returned map.
func (p *Pipeline) estimate(ctx context.Context, meta *types.JobMeta, payloads [][]byte, collector *metrics.Collector) (types.RawSequence, map[int]error, error) {
	scheduler, err := dispatch.NewScheduler(p.opts.Scheduler, p.invoker, p.logger, collector)
	if err != nil {
		return nil, nil, err
	}
	defer scheduler.Close()

	batch := make([]*dispatch.Request, len(payloads))
	for i, payload := range payloads {
		batch[i] = dispatch.NewRequest(i, payload)
	}
	channels := scheduler.Submit(batch)

	seq := make(types.RawSequence, len(payloads))
	frameErrs := make(map[int]error)
	var rejected []int

	for i, ch := range channels {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case result := <-ch:
			if result.Err != nil {
				if errors.Is(result.Err, dispatch.ErrQueueFull) && p.opts.RetryRejected {
					rejected = append(rejected, i)
				} else {
					frameErrs[result.FrameNumber] = result.Err
				}
				continue
			}
			seq[result.FrameNumber] = result.Observation
		}
	}

	// Overflow frames retry one at a time. The batch has drained by now so
	// admission cannot overflow again; going through the invoker directly
	// keeps this pass strictly sequential.
	for _, frame := range rejected {
		obs, err := p.invokeDirect(ctx, frame, payloads[frame])
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			frameErrs[frame] = err
			continue
		}
		seq[frame] = obs
	}

	for frame, err := range frameErrs {
		p.logger.Warn("frame estimation failed", map[string]any{
			"frame_number": frame,
			"job_id":       meta.JobID,
			"error":        err.Error(),
		})
	}

	if err := seq.Validate(); err != nil {
		return nil, nil, fmt.Errorf("pipeline: assembled sequence invalid: %w", err)
	}
	return seq, frameErrs, nil
}

// invokeDirect runs one frame through the invoker under the per-request
// timeout, bypassing the scheduler queue.
func (p *Pipeline) invokeDirect(ctx context.Context, frame int, payload []byte) (*types.PoseObservation, error) {
	if p.opts.Scheduler.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Scheduler.RequestTimeout)
		defer cancel()
	}
	obs, err := p.invoker.Invoke(ctx, dispatch.NewRequest(frame, payload))
	if err != nil {
		var de *dispatch.DispatchError
		if errors.As(err, &de) {
			return nil, err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, dispatch.NewDispatchError(dispatch.ErrTimeout, frame, err)
		}
		return nil, dispatch.NewDispatchError(dispatch.ErrWorker, frame, err)
	}
	return obs, nil
}

func (p *Pipeline) recordVerdicts(collector *metrics.Collector, verdicts []types.QualityVerdict, entries []types.LogicalFrameEntry) {
	var accepted, rejected, absent, interpolated, unavailable int64
	for _, v := range verdicts {
		switch v {
		case types.VerdictAccepted:
			accepted++
		case types.VerdictAbsent:
			absent++
		default:
			rejected++
		}
	}
	for _, e := range entries {
		switch e.Kind {
		case types.EntryInterpolated:
			interpolated++
		case types.EntryUnavailable:
			unavailable++
		}
	}
	collector.SetVerdictCounts(accepted, rejected, absent, interpolated, unavailable)
}

func (p *Pipeline) completionEvent(meta *types.JobMeta, res *Result) *adapter.JobCompletedEvent {
	var accepted, rejected, absent int
	for _, v := range res.Verdicts {
		switch v {
		case types.VerdictAccepted:
			accepted++
		case types.VerdictAbsent:
			absent++
		default:
			rejected++
		}
	}
	return &adapter.JobCompletedEvent{
		EventType:      "job_completed",
		JobID:          meta.JobID,
		VideoID:        meta.VideoID,
		Attempt:        meta.Attempt,
		Outcome:        res.Outcome(),
		TotalFrames:    len(res.Verdicts),
		AcceptedFrames: accepted,
		RejectedFrames: rejected,
		AbsentFrames:   absent,
		FailedFrames:   len(res.FrameErrors),
		DurationMs:     res.Elapsed.Milliseconds(),
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
}
