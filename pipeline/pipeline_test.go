package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/motionforge/posepipe/adapter"
	"github.com/motionforge/posepipe/dispatch"
	"github.com/motionforge/posepipe/export"
	"github.com/motionforge/posepipe/types"
)

func testMeta() *types.JobMeta {
	return &types.JobMeta{JobID: "job-001", VideoID: "video-42", Attempt: 1}
}

// steadyInvoker synthesizes an observation whose centroid moves smoothly,
// so every produced frame classifies as accepted.
func steadyInvoker(delay time.Duration) dispatch.Invoker {
	return dispatch.InvokerFunc(func(ctx context.Context, req *dispatch.Request) (*types.PoseObservation, error) {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		x := 100 + 10*float64(req.FrameNumber)
		return &types.PoseObservation{
			FrameNumber: req.FrameNumber,
			Keypoints: []types.Keypoint{
				{X: x, Y: 200, Confidence: 0.9},
				{X: x + 10, Y: 220, Confidence: 0.9},
			},
			Confidence: 0.9,
		}, nil
	})
}

// failFrames wraps an invoker, failing the listed frame numbers.
func failFrames(inner dispatch.Invoker, frames ...int) dispatch.Invoker {
	failed := make(map[int]bool, len(frames))
	for _, f := range frames {
		failed[f] = true
	}
	return dispatch.InvokerFunc(func(ctx context.Context, req *dispatch.Request) (*types.PoseObservation, error) {
		if failed[req.FrameNumber] {
			return nil, dispatch.NewDispatchError(dispatch.ErrWorker, req.FrameNumber, errors.New("estimator crashed"))
		}
		return inner.Invoke(ctx, req)
	})
}

func payloads(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = fmt.Appendf(nil, "frame-%d", i)
	}
	return out
}

func TestProcess_AllFramesSucceed(t *testing.T) {
	p, err := New(steadyInvoker(0), Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	res, err := p.Process(context.Background(), testMeta(), payloads(10))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if res.Outcome() != "success" {
		t.Errorf("expected success, got %s", res.Outcome())
	}
	if len(res.FrameErrors) != 0 {
		t.Errorf("expected no frame errors, got %v", res.FrameErrors)
	}
	for i, e := range res.Entries {
		if e.Kind != types.EntryDirect {
			t.Errorf("entry %d: expected direct, got %s", i, e.Kind)
		}
	}

	frame, err := res.Index.GetFrame(7)
	if err != nil {
		t.Fatalf("get frame: %v", err)
	}
	if !frame.Available() {
		t.Fatal("expected available frame")
	}
	if got := frame.Observation.Keypoints[0].X; got != 170 {
		t.Errorf("expected X=170 for frame 7, got %v", got)
	}

	if res.Metrics.RequestsSubmitted != 10 {
		t.Errorf("expected 10 submissions, got %d", res.Metrics.RequestsSubmitted)
	}
	if res.Metrics.FramesAccepted != 10 {
		t.Errorf("expected 10 accepted frames, got %d", res.Metrics.FramesAccepted)
	}
}

func TestProcess_FailedFramesBecomeInterpolated(t *testing.T) {
	p, err := New(failFrames(steadyInvoker(0), 3, 4), Options{MaxGap: 5})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	res, err := p.Process(context.Background(), testMeta(), payloads(10))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if res.Outcome() != "partial" {
		t.Errorf("expected partial, got %s", res.Outcome())
	}
	if len(res.FrameErrors) != 2 {
		t.Fatalf("expected 2 frame errors, got %v", res.FrameErrors)
	}
	if !errors.Is(res.FrameErrors[3], dispatch.ErrWorker) {
		t.Errorf("expected worker error for frame 3, got %v", res.FrameErrors[3])
	}

	for _, idx := range []int{3, 4} {
		if res.Verdicts[idx] != types.VerdictAbsent {
			t.Errorf("frame %d: expected absent verdict, got %s", idx, res.Verdicts[idx])
		}
		if res.Entries[idx].Kind != types.EntryInterpolated {
			t.Errorf("entry %d: expected interpolated, got %s", idx, res.Entries[idx].Kind)
		}
	}

	// Centroid X moves 10 per frame, so the bridge is linear between
	// frames 2 and 5.
	frame, err := res.Index.GetFrame(3)
	if err != nil {
		t.Fatalf("get frame: %v", err)
	}
	want := 100 + 10*float64(2) + 10.0 // one third of the 2..5 span
	if got := frame.Observation.Keypoints[0].X; got != want {
		t.Errorf("expected X=%v for interpolated frame 3, got %v", want, got)
	}
}

func TestProcess_TightGapLeavesUnavailable(t *testing.T) {
	p, err := New(failFrames(steadyInvoker(0), 3, 4), Options{MaxGap: 1})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	res, err := p.Process(context.Background(), testMeta(), payloads(10))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	for _, idx := range []int{3, 4} {
		if res.Entries[idx].Kind != types.EntryUnavailable {
			t.Errorf("entry %d: expected unavailable, got %s", idx, res.Entries[idx].Kind)
		}
	}

	frame, err := res.Index.GetFrame(3)
	if err != nil {
		t.Fatalf("get frame: %v", err)
	}
	if frame.Available() {
		t.Error("expected unavailable frame")
	}
}

func TestProcess_QueueOverflowRetried(t *testing.T) {
	opts := Options{
		Scheduler: dispatch.Config{
			MaxWorkers:     1,
			QueueMax:       1,
			RequestTimeout: 10 * time.Second,
		},
		RetryRejected: true,
	}
	p, err := New(steadyInvoker(30*time.Millisecond), opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	res, err := p.Process(context.Background(), testMeta(), payloads(4))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(res.FrameErrors) != 0 {
		t.Fatalf("expected all rejections retried, got errors %v", res.FrameErrors)
	}
	if res.Outcome() != "success" {
		t.Errorf("expected success, got %s", res.Outcome())
	}
	for i := 0; i < 4; i++ {
		if res.Sequence[i] == nil {
			t.Errorf("frame %d missing after retry", i)
		}
	}
}

func TestProcess_QueueOverflowSurfaced(t *testing.T) {
	opts := Options{
		Scheduler: dispatch.Config{
			MaxWorkers:     1,
			QueueMax:       1,
			RequestTimeout: 10 * time.Second,
		},
	}
	p, err := New(steadyInvoker(30*time.Millisecond), opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	res, err := p.Process(context.Background(), testMeta(), payloads(4))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	overflowed := 0
	for _, ferr := range res.FrameErrors {
		if errors.Is(ferr, dispatch.ErrQueueFull) {
			overflowed++
		}
	}
	if overflowed != 2 {
		t.Errorf("expected 2 queue-full rejections, got %d (%v)", overflowed, res.FrameErrors)
	}
	if res.Metrics.QueueFullRejections != 2 {
		t.Errorf("expected 2 recorded rejections, got %d", res.Metrics.QueueFullRejections)
	}
}

type recordingAdapter struct {
	mu    sync.Mutex
	event *adapter.JobCompletedEvent
	err   error
}

func (a *recordingAdapter) Publish(_ context.Context, event *adapter.JobCompletedEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.event = event
	return nil
}

func (a *recordingAdapter) Close() error { return nil }

func TestProcess_PublishesCompletionEvent(t *testing.T) {
	rec := &recordingAdapter{}
	p, err := New(failFrames(steadyInvoker(0), 3, 4), Options{Adapter: rec})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if _, err := p.Process(context.Background(), testMeta(), payloads(10)); err != nil {
		t.Fatalf("process: %v", err)
	}

	if rec.event == nil {
		t.Fatal("expected completion event")
	}
	if rec.event.JobID != "job-001" {
		t.Errorf("expected job-001, got %s", rec.event.JobID)
	}
	if rec.event.TotalFrames != 10 {
		t.Errorf("expected 10 total frames, got %d", rec.event.TotalFrames)
	}
	if rec.event.AcceptedFrames != 8 {
		t.Errorf("expected 8 accepted frames, got %d", rec.event.AcceptedFrames)
	}
	if rec.event.AbsentFrames != 2 {
		t.Errorf("expected 2 absent frames, got %d", rec.event.AbsentFrames)
	}
	if rec.event.FailedFrames != 2 {
		t.Errorf("expected 2 failed frames, got %d", rec.event.FailedFrames)
	}
	if rec.event.Outcome != "partial" {
		t.Errorf("expected partial, got %s", rec.event.Outcome)
	}
}

func TestProcess_PublishFailureNotFatal(t *testing.T) {
	rec := &recordingAdapter{err: errors.New("broker unreachable")}
	p, err := New(steadyInvoker(0), Options{Adapter: rec})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if _, err := p.Process(context.Background(), testMeta(), payloads(5)); err != nil {
		t.Fatalf("publish failure should not fail the job: %v", err)
	}
}

type capturePutClient struct {
	key string
}

func (c *capturePutClient) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	c.key = *params.Key
	_, _ = io.Copy(io.Discard, params.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestProcess_ExportsSequence(t *testing.T) {
	client := &capturePutClient{}
	sink, err := export.NewWithClient(export.Config{Bucket: "poses", Prefix: "sequences"}, client)
	if err != nil {
		t.Fatalf("sink: %v", err)
	}

	p, err := New(steadyInvoker(0), Options{Exporter: sink})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	res, err := p.Process(context.Background(), testMeta(), payloads(5))
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if res.ExportKey != "sequences/job-001.msgpack" {
		t.Errorf("unexpected export key %q", res.ExportKey)
	}
	if client.key != res.ExportKey {
		t.Errorf("uploaded key %q does not match result %q", client.key, res.ExportKey)
	}
}

func TestProcess_ContextCanceled(t *testing.T) {
	// Worker deadlines are independent of the job context; a short request
	// timeout keeps the drain in Close from outliving the test.
	opts := Options{
		Scheduler: dispatch.Config{
			MaxWorkers:     4,
			QueueMax:       16,
			RequestTimeout: 200 * time.Millisecond,
		},
	}
	p, err := New(steadyInvoker(10*time.Second), opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = p.Process(ctx, testMeta(), payloads(3))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestProcess_RejectsEmptyInput(t *testing.T) {
	p, err := New(steadyInvoker(0), Options{})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if _, err := p.Process(context.Background(), testMeta(), nil); err == nil {
		t.Fatal("expected error for empty payloads")
	}
	if _, err := p.Process(context.Background(), &types.JobMeta{}, payloads(1)); err == nil {
		t.Fatal("expected error for invalid job meta")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, Options{}); err == nil {
		t.Error("expected error for nil invoker")
	}
	if _, err := New(steadyInvoker(0), Options{MaxGap: -1}); err == nil {
		t.Error("expected error for negative max gap")
	}
	if _, err := New(steadyInvoker(0), Options{Scheduler: dispatch.Config{MaxWorkers: -1}}); err == nil {
		t.Error("expected error for invalid scheduler config")
	}
}
