// Package types defines core domain types for the posepipe runtime.
//
//nolint:revive // types is a common Go package naming convention
package types

import "fmt"

// Vec3 is a 3-component vector (x, y, z).
type Vec3 [3]float64

// Keypoint is a single 2D body landmark with detector confidence.
type Keypoint struct {
	X          float64 `msgpack:"x" json:"x"`
	Y          float64 `msgpack:"y" json:"y"`
	Confidence float64 `msgpack:"confidence" json:"confidence"`
}

// PoseObservation is the estimator's output for one frame.
// Immutable once produced; the pipeline never mutates an observation in place.
type PoseObservation struct {
	// FrameNumber is the raw capture index this observation belongs to.
	FrameNumber int `msgpack:"frame_number" json:"frame_number"`
	// Keypoints is the ordered landmark sequence (model-defined order).
	Keypoints []Keypoint `msgpack:"keypoints" json:"keypoints"`
	// Has3D indicates whether mesh/world-space fields are populated.
	Has3D bool `msgpack:"has_3d" json:"has_3d"`
	// MeshVertices is the optional body mesh, flattened per vertex.
	MeshVertices []Vec3 `msgpack:"mesh_vertices,omitempty" json:"mesh_vertices,omitempty"`
	// MeshFaces is the optional triangle index list for MeshVertices.
	MeshFaces [][3]int `msgpack:"mesh_faces,omitempty" json:"mesh_faces,omitempty"`
	// CameraTranslation is the optional estimated camera-space root translation.
	CameraTranslation *Vec3 `msgpack:"camera_translation,omitempty" json:"camera_translation,omitempty"`
	// BodyOrient is the optional global body orientation as axis-angle radians.
	BodyOrient *Vec3 `msgpack:"body_orient,omitempty" json:"body_orient,omitempty"`
	// Confidence is the estimator's aggregate confidence for the frame.
	Confidence float64 `msgpack:"confidence" json:"confidence"`
	// ProcessingTimeMs is the estimator-reported wall time for this frame.
	ProcessingTimeMs float64 `msgpack:"processing_time_ms" json:"processing_time_ms"`
	// Error is an optional estimator-reported diagnostic for degraded output.
	Error string `msgpack:"error,omitempty" json:"error,omitempty"`
}

// RawSequence is an ordered collection of per-frame slots indexed 0..N-1.
// A nil slot marks a frame whose dispatch failed or timed out.
//
// Once handed to the downstream stages the sequence is read-only; the
// classifier, interpolator, and playback index derive from it and never
// mutate it.
type RawSequence []*PoseObservation

// Len returns the logical index domain size.
func (s RawSequence) Len() int { return len(s) }

// Present reports whether index i holds an observation.
func (s RawSequence) Present(i int) bool {
	return i >= 0 && i < len(s) && s[i] != nil
}

// At returns the observation at index i, or nil for absent slots.
func (s RawSequence) At(i int) *PoseObservation {
	if i < 0 || i >= len(s) {
		return nil
	}
	return s[i]
}

// Validate checks structural invariants: every present observation's
// FrameNumber must match its slot index. Violations are precondition
// errors in the caller, not recoverable conditions.
func (s RawSequence) Validate() error {
	for i, obs := range s {
		if obs == nil {
			continue
		}
		if obs.FrameNumber != i {
			return fmt.Errorf("raw sequence slot %d holds frame %d", i, obs.FrameNumber)
		}
	}
	return nil
}
