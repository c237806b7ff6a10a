package types

import "fmt"

// QualityVerdict classifies one raw sequence slot after estimation.
type QualityVerdict string

const (
	// VerdictAccepted marks a frame usable as-is and as an interpolation source.
	VerdictAccepted QualityVerdict = "accepted"
	// VerdictLowConfidence marks a frame below the aggregate confidence floor.
	VerdictLowConfidence QualityVerdict = "rejected_low_confidence"
	// VerdictOffScreen marks a frame whose subject is mostly outside image bounds.
	VerdictOffScreen QualityVerdict = "rejected_off_screen"
	// VerdictOutlier marks a frame deviating from the local motion trend.
	VerdictOutlier QualityVerdict = "rejected_outlier"
	// VerdictAbsent marks a slot with no observation (dispatch failure/timeout).
	VerdictAbsent QualityVerdict = "absent"
)

// Accepted reports whether the verdict admits the frame as a direct source.
func (v QualityVerdict) Accepted() bool { return v == VerdictAccepted }

// EntryKind discriminates LogicalFrameEntry variants.
type EntryKind string

const (
	// EntryDirect maps the logical index to an accepted raw observation.
	EntryDirect EntryKind = "direct"
	// EntryInterpolated synthesizes the frame from two accepted neighbors.
	EntryInterpolated EntryKind = "interpolated"
	// EntryUnavailable means no data can be produced or reconstructed.
	EntryUnavailable EntryKind = "unavailable"
)

// InterpolationRecipe describes how to synthesize a logical frame from its
// nearest accepted neighbors. Weight is the fraction of the way from the
// left source to the right source.
type InterpolationRecipe struct {
	LeftSource  int     `msgpack:"left_source" json:"left_source"`
	RightSource int     `msgpack:"right_source" json:"right_source"`
	Weight      float64 `msgpack:"weight" json:"weight"`
}

// Validate checks recipe invariants.
func (r *InterpolationRecipe) Validate() error {
	if r.LeftSource < 0 || r.RightSource <= r.LeftSource {
		return fmt.Errorf("invalid recipe sources [%d, %d]", r.LeftSource, r.RightSource)
	}
	if r.Weight < 0 || r.Weight > 1 {
		return fmt.Errorf("recipe weight %g outside [0,1]", r.Weight)
	}
	return nil
}

// LogicalFrameEntry is the per-index unit exposed to consumers.
// Built once per RawSequence, read many times.
type LogicalFrameEntry struct {
	// Kind selects the variant.
	Kind EntryKind `msgpack:"kind" json:"kind"`
	// SourceIndex is the accepted raw index backing a Direct entry.
	SourceIndex int `msgpack:"source_index,omitempty" json:"source_index,omitempty"`
	// Recipe is set for Interpolated entries.
	Recipe *InterpolationRecipe `msgpack:"recipe,omitempty" json:"recipe,omitempty"`
}
