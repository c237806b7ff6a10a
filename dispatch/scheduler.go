package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/motionforge/posepipe/log"
	"github.com/motionforge/posepipe/metrics"
	"github.com/motionforge/posepipe/types"
)

// Request is one unit of dispatch work: one frame handed to the external
// estimator. Created via NewRequest; its result channel settles exactly once.
type Request struct {
	// FrameNumber is the raw capture index for this frame.
	FrameNumber int
	// Payload is the opaque frame image handed to the worker.
	Payload []byte

	result chan Result
}

// NewRequest creates a dispatch request for one frame.
func NewRequest(frameNumber int, payload []byte) *Request {
	return &Request{
		FrameNumber: frameNumber,
		Payload:     payload,
		result:      make(chan Result, 1),
	}
}

// Result is the settled outcome of a single request.
// Exactly one of Observation or Err is set.
type Result struct {
	// FrameNumber correlates the result with its originating request.
	// Completion order is not submission order; consumers must correlate
	// by frame number.
	FrameNumber int
	// Observation is the worker's output on success.
	Observation *types.PoseObservation
	// Err is the classified failure, a *DispatchError.
	Err error
}

// Config configures the dispatch scheduler.
type Config struct {
	// MaxWorkers is the maximum number of concurrently running workers.
	MaxWorkers int
	// QueueMax bounds the admission FIFO. Submissions beyond it fail
	// immediately with ErrQueueFull.
	QueueMax int
	// MinSpawnInterval is the minimum pacing interval between consecutive
	// worker spawns. Zero disables pacing.
	MinSpawnInterval time.Duration
	// RequestTimeout is the per-request deadline. The worker is force
	// terminated on expiry. Zero disables the deadline.
	RequestTimeout time.Duration
}

// DefaultConfig returns scheduler defaults sized for a typical upload burst.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:       4,
		QueueMax:         256,
		MinSpawnInterval: 100 * time.Millisecond,
		RequestTimeout:   120 * time.Second,
	}
}

// Validate checks configuration invariants.
func (c Config) Validate() error {
	if c.MaxWorkers < 1 {
		return fmt.Errorf("max workers must be >= 1, got %d", c.MaxWorkers)
	}
	if c.QueueMax < 1 {
		return fmt.Errorf("queue max must be >= 1, got %d", c.QueueMax)
	}
	if c.MinSpawnInterval < 0 {
		return fmt.Errorf("min spawn interval must be >= 0, got %s", c.MinSpawnInterval)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must be >= 0, got %s", c.RequestTimeout)
	}
	return nil
}

// completion is a worker's terminal event, funneled back to the loop.
type completion struct {
	req *Request
	res Result
}

// Scheduler admits frame requests into a bounded FIFO and dispatches them
// to an Invoker under a concurrency ceiling and a spawn pacing interval.
//
// Queue, active count, and pacing clock are owned by a single event-loop
// goroutine; parallelism exists only in the worker invocations themselves,
// whose completions come back through a channel processed one at a time.
// No lock guards the queue state.
type Scheduler struct {
	config    Config
	invoker   Invoker
	logger    *log.Logger
	collector *metrics.Collector

	submits chan *Request
	events  chan completion
	closing chan struct{}
	drained chan struct{}

	closeOnce sync.Once
}

// NewScheduler creates and starts a scheduler.
// The caller must Close it to drain in-flight workers and release the loop.
func NewScheduler(config Config, invoker Invoker, logger *log.Logger, collector *metrics.Collector) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if invoker == nil {
		return nil, errors.New("invoker is required")
	}
	if logger == nil {
		logger = log.Nop()
	}

	s := &Scheduler{
		config:    config,
		invoker:   invoker,
		logger:    logger,
		collector: collector,
		submits:   make(chan *Request),
		events:    make(chan completion),
		closing:   make(chan struct{}),
		drained:   make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

// Submit admits a batch of requests in order and returns one result channel
// per request. Each channel settles independently as soon as that request's
// worker completes; callers do not block on sibling requests.
//
// Requests rejected at admission (queue full, scheduler closed) settle
// immediately with a classified error. One request's failure never affects
// the resolution of siblings.
func (s *Scheduler) Submit(batch []*Request) []<-chan Result {
	results := make([]<-chan Result, len(batch))
	for i, req := range batch {
		results[i] = req.result
		select {
		case s.submits <- req:
		case <-s.closing:
			req.result <- Result{
				FrameNumber: req.FrameNumber,
				Err:         NewDispatchError(ErrSchedulerClosed, req.FrameNumber, nil),
			}
		}
	}
	return results
}

// Close stops admission and drains: it waits for queued and in-flight
// workers to settle before returning. Workers whose completion has not yet
// fired are never abandoned.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
	<-s.drained
}

// loop is the single logical owner of queue, active count, and pacing clock.
func (s *Scheduler) loop() {
	var (
		queue     []*Request
		active    int
		lastSpawn time.Time
		pacingC   <-chan time.Time
		closing   bool
	)
	closingCh := s.closing

	spawn := func(req *Request) {
		active++
		lastSpawn = time.Now()
		s.collector.IncWorkerSpawned()
		go s.runWorker(req)
	}

	// maybeSpawn starts queued work while capacity remains, arming the
	// pacing timer when the spawn interval has not yet elapsed.
	maybeSpawn := func() {
		for active < s.config.MaxWorkers && len(queue) > 0 && pacingC == nil {
			if !lastSpawn.IsZero() && s.config.MinSpawnInterval > 0 {
				if wait := s.config.MinSpawnInterval - time.Since(lastSpawn); wait > 0 {
					pacingC = time.NewTimer(wait).C
					return
				}
			}
			req := queue[0]
			queue[0] = nil
			queue = queue[1:]
			spawn(req)
		}
	}

	for {
		select {
		case req := <-s.submits:
			if closing {
				req.result <- Result{
					FrameNumber: req.FrameNumber,
					Err:         NewDispatchError(ErrSchedulerClosed, req.FrameNumber, nil),
				}
				continue
			}
			if len(queue) >= s.config.QueueMax {
				s.collector.IncQueueFullRejection()
				s.logger.Warn("admission rejected", map[string]any{
					"frame":     req.FrameNumber,
					"queue_max": s.config.QueueMax,
				})
				req.result <- Result{
					FrameNumber: req.FrameNumber,
					Err:         NewDispatchError(ErrQueueFull, req.FrameNumber, nil),
				}
				continue
			}
			s.collector.IncRequestSubmitted()
			queue = append(queue, req)
			maybeSpawn()

		case <-pacingC:
			pacingC = nil
			maybeSpawn()

		case ev := <-s.events:
			active--
			ev.req.result <- ev.res
			maybeSpawn()
			if closing && active == 0 && len(queue) == 0 {
				close(s.drained)
				return
			}

		case <-closingCh:
			closing = true
			closingCh = nil
			if active == 0 && len(queue) == 0 {
				close(s.drained)
				return
			}
		}
	}
}

// runWorker executes one invocation and funnels the completion back to the
// loop. Runs outside the loop goroutine; touches no queue state.
func (s *Scheduler) runWorker(req *Request) {
	ctx := context.Background()
	if s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}

	obs, err := s.invoker.Invoke(ctx, req)
	if err != nil {
		var derr *DispatchError
		if !errors.As(err, &derr) {
			kind := ErrWorker
			if errors.Is(err, context.DeadlineExceeded) {
				kind = ErrTimeout
			}
			err = NewDispatchError(kind, req.FrameNumber, err)
		}
		switch {
		case errors.Is(err, ErrTimeout):
			s.collector.IncWorkerTimedOut()
		case errors.Is(err, ErrTransmission):
			s.collector.IncTransmissionError()
		default:
			s.collector.IncWorkerFailed()
		}
		s.logger.Warn("worker failed", map[string]any{
			"frame": req.FrameNumber,
			"error": err.Error(),
		})
	} else {
		s.collector.IncWorkerCompleted()
	}

	s.events <- completion{
		req: req,
		res: Result{FrameNumber: req.FrameNumber, Observation: obs, Err: err},
	}
}
