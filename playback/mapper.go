// Package playback exposes the cleaned frame sequence to consumers: a
// gap-free logical index over sparse raw data, backed by a bounded LRU
// cache with per-index in-flight de-duplication.
package playback

import (
	"errors"
	"fmt"
	"sync"

	"github.com/motionforge/posepipe/interp"
	"github.com/motionforge/posepipe/types"
)

// ErrNotInitialized is returned by GetFrame before Init. Calling order is
// a programming error in the consumer, not a runtime condition.
var ErrNotInitialized = errors.New("playback index not initialized")

// MaterializedFrame is the consumer-visible output for one logical index.
type MaterializedFrame struct {
	// LogicalIndex is the addressed frame position.
	LogicalIndex int
	// Kind records how the frame was produced.
	Kind types.EntryKind
	// Observation is the frame data; nil when Kind is EntryUnavailable.
	Observation *types.PoseObservation
}

// Available reports whether the frame carries data.
func (f *MaterializedFrame) Available() bool {
	return f.Kind != types.EntryUnavailable
}

// Stats is a point-in-time snapshot of cache behavior for ops tooling.
// Not part of the correctness contract.
type Stats struct {
	Hits         int64
	Misses       int64
	Evictions    int64
	Computations int64
	Size         int
	Capacity     int
}

// HitRate returns the fraction of lookups served from cache.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// inflightCall tracks one in-progress materialization. Losers of the
// insert race wait on done instead of recomputing.
type inflightCall struct {
	done  chan struct{}
	frame *MaterializedFrame
	err   error
}

// Index maps logical frame indices to materialized frames.
//
// The RawSequence handed to Init is read-only for the Index's lifetime;
// only cache state mutates, serialized per key through the in-flight
// guard. Lookups for different indices proceed in parallel.
type Index struct {
	mu          sync.Mutex
	initialized bool
	seq         types.RawSequence
	entries     []types.LogicalFrameEntry
	cache       *lruCache
	inflight    map[int]*inflightCall

	hits         int64
	misses       int64
	evictions    int64
	computations int64
}

// NewIndex creates an uninitialized index with the given cache capacity.
func NewIndex(cacheCapacity int) (*Index, error) {
	if cacheCapacity < 1 {
		return nil, fmt.Errorf("cache capacity must be >= 1, got %d", cacheCapacity)
	}
	return &Index{
		cache:    newLRUCache(cacheCapacity),
		inflight: make(map[int]*inflightCall),
	}, nil
}

// Init binds the index to a raw sequence and its logical mapping.
// Must run exactly once before any GetFrame call.
func (x *Index) Init(seq types.RawSequence, entries []types.LogicalFrameEntry) error {
	if len(entries) != seq.Len() {
		return fmt.Errorf("mapping has %d entries for %d frames", len(entries), seq.Len())
	}
	if err := seq.Validate(); err != nil {
		return err
	}
	for i, e := range entries {
		if e.Kind == types.EntryDirect && !seq.Present(e.SourceIndex) {
			return fmt.Errorf("direct entry %d references absent source %d", i, e.SourceIndex)
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.initialized {
		return errors.New("playback index already initialized")
	}
	x.seq = seq
	x.entries = entries
	x.initialized = true
	return nil
}

// GetFrame returns the materialized frame for a logical index.
//
// Cache hits return the stored frame without re-running interpolation
// math. Concurrent misses for the same index collapse into a single
// materialization. Unavailable entries return an explicit no-data frame,
// never a stale or zeroed one.
func (x *Index) GetFrame(logicalIndex int) (*MaterializedFrame, error) {
	x.mu.Lock()
	if !x.initialized {
		x.mu.Unlock()
		return nil, ErrNotInitialized
	}
	if logicalIndex < 0 || logicalIndex >= len(x.entries) {
		x.mu.Unlock()
		return nil, fmt.Errorf("logical index %d outside [0, %d)", logicalIndex, len(x.entries))
	}

	if frame, ok := x.cache.get(logicalIndex); ok {
		x.hits++
		x.mu.Unlock()
		return frame, nil
	}
	x.misses++

	if call, ok := x.inflight[logicalIndex]; ok {
		x.mu.Unlock()
		<-call.done
		return call.frame, call.err
	}

	call := &inflightCall{done: make(chan struct{})}
	x.inflight[logicalIndex] = call
	entry := x.entries[logicalIndex]
	x.mu.Unlock()

	// Materialization runs unlocked; lookups for other indices are not
	// blocked behind it.
	frame, err := x.materialize(logicalIndex, entry)

	x.mu.Lock()
	call.frame, call.err = frame, err
	delete(x.inflight, logicalIndex)
	if err == nil {
		if x.cache.add(logicalIndex, frame) {
			x.evictions++
		}
	}
	x.mu.Unlock()
	close(call.done)

	return frame, err
}

// materialize produces the frame for one logical entry.
func (x *Index) materialize(logicalIndex int, entry types.LogicalFrameEntry) (*MaterializedFrame, error) {
	switch entry.Kind {
	case types.EntryDirect:
		x.countComputation()
		return &MaterializedFrame{
			LogicalIndex: logicalIndex,
			Kind:         types.EntryDirect,
			Observation:  x.seq.At(entry.SourceIndex),
		}, nil

	case types.EntryInterpolated:
		x.countComputation()
		obs, err := interp.Materialize(x.seq, logicalIndex, entry.Recipe)
		if err != nil {
			return nil, err
		}
		return &MaterializedFrame{
			LogicalIndex: logicalIndex,
			Kind:         types.EntryInterpolated,
			Observation:  obs,
		}, nil

	case types.EntryUnavailable:
		return &MaterializedFrame{
			LogicalIndex: logicalIndex,
			Kind:         types.EntryUnavailable,
		}, nil

	default:
		return nil, fmt.Errorf("unknown entry kind %q at index %d", entry.Kind, logicalIndex)
	}
}

func (x *Index) countComputation() {
	x.mu.Lock()
	x.computations++
	x.mu.Unlock()
}

// ClearCache drops all cached frames without touching the underlying
// sequence or mapping.
func (x *Index) ClearCache() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.cache.purge()
}

// Len returns the logical index domain size (0 before Init).
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.entries)
}

// Stats returns a snapshot of cache behavior.
func (x *Index) Stats() Stats {
	x.mu.Lock()
	defer x.mu.Unlock()
	return Stats{
		Hits:         x.hits,
		Misses:       x.misses,
		Evictions:    x.evictions,
		Computations: x.computations,
		Size:         x.cache.len(),
		Capacity:     x.cache.capacity,
	}
}
