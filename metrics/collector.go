// Package metrics provides per-job metrics collection.
//
// The Collector accumulates counters during a single analysis job. It is a
// leaf package with no internal dependencies. Playback cache statistics are
// absorbed from the cache's own snapshot at job completion rather than
// recorded live, avoiding double-counting.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all job metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Dispatch
	RequestsSubmitted   int64
	QueueFullRejections int64
	WorkersSpawned      int64
	WorkersCompleted    int64
	WorkersFailed       int64
	WorkersTimedOut     int64
	TransmissionErrors  int64

	// Sequence refinement
	FramesAccepted     int64
	FramesRejected     int64
	FramesAbsent       int64
	FramesInterpolated int64
	FramesUnavailable  int64

	// Playback cache (absorbed at job completion)
	CacheHits      int64
	CacheMisses    int64
	CacheEvictions int64

	// Dimensions (informational, set at construction)
	Estimator string
	JobID     string
	VideoID   string
}

// Collector accumulates metrics during a single job.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	requestsSubmitted   int64
	queueFullRejections int64
	workersSpawned      int64
	workersCompleted    int64
	workersFailed       int64
	workersTimedOut     int64
	transmissionErrors  int64

	framesAccepted     int64
	framesRejected     int64
	framesAbsent       int64
	framesInterpolated int64
	framesUnavailable  int64

	cacheHits      int64
	cacheMisses    int64
	cacheEvictions int64

	estimator string
	jobID     string
	videoID   string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(estimator, jobID, videoID string) *Collector {
	return &Collector{
		estimator: estimator,
		jobID:     jobID,
		videoID:   videoID,
	}
}

// --- Dispatch ---

// IncRequestSubmitted records an admitted request.
func (c *Collector) IncRequestSubmitted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.requestsSubmitted++
	c.mu.Unlock()
}

// IncQueueFullRejection records an admission rejection.
func (c *Collector) IncQueueFullRejection() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.queueFullRejections++
	c.mu.Unlock()
}

// IncWorkerSpawned records a worker spawn.
func (c *Collector) IncWorkerSpawned() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.workersSpawned++
	c.mu.Unlock()
}

// IncWorkerCompleted records a successful worker completion.
func (c *Collector) IncWorkerCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.workersCompleted++
	c.mu.Unlock()
}

// IncWorkerFailed records a worker failure (nonzero exit or protocol error).
func (c *Collector) IncWorkerFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.workersFailed++
	c.mu.Unlock()
}

// IncWorkerTimedOut records a force-terminated worker.
func (c *Collector) IncWorkerTimedOut() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.workersTimedOut++
	c.mu.Unlock()
}

// IncTransmissionError records a mid-flight payload handoff failure.
func (c *Collector) IncTransmissionError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.transmissionErrors++
	c.mu.Unlock()
}

// --- Refinement ---

// SetVerdictCounts records the classifier/interpolator output shape.
func (c *Collector) SetVerdictCounts(accepted, rejected, absent, interpolated, unavailable int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.framesAccepted = accepted
	c.framesRejected = rejected
	c.framesAbsent = absent
	c.framesInterpolated = interpolated
	c.framesUnavailable = unavailable
	c.mu.Unlock()
}

// --- Playback cache ---

// AbsorbCacheStats sets cache counters from a playback cache snapshot.
func (c *Collector) AbsorbCacheStats(hits, misses, evictions int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.cacheHits = hits
	c.cacheMisses = misses
	c.cacheEvictions = evictions
	c.mu.Unlock()
}

// Snapshot returns an immutable copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		RequestsSubmitted:   c.requestsSubmitted,
		QueueFullRejections: c.queueFullRejections,
		WorkersSpawned:      c.workersSpawned,
		WorkersCompleted:    c.workersCompleted,
		WorkersFailed:       c.workersFailed,
		WorkersTimedOut:     c.workersTimedOut,
		TransmissionErrors:  c.transmissionErrors,
		FramesAccepted:      c.framesAccepted,
		FramesRejected:      c.framesRejected,
		FramesAbsent:        c.framesAbsent,
		FramesInterpolated:  c.framesInterpolated,
		FramesUnavailable:   c.framesUnavailable,
		CacheHits:           c.cacheHits,
		CacheMisses:         c.cacheMisses,
		CacheEvictions:      c.cacheEvictions,
		Estimator:           c.estimator,
		JobID:               c.jobID,
		VideoID:             c.videoID,
	}
}
