// Package interp builds the logical frame mapping over a classified raw
// sequence, filling short rejected/absent runs by interpolating between
// the bounding accepted frames. Like the classifier it is pure: same
// inputs, same mapping.
package interp

import (
	"fmt"
	"math"

	"github.com/motionforge/posepipe/types"
)

// Build maps every logical index to a LogicalFrameEntry.
//
// Accepted indices map to Direct entries. A maximal run of non-accepted
// indices bounded by accepted frames at L and R with R-L-1 <= maxGap maps
// each interior index i to an Interpolated entry with weight (i-L)/(R-L).
// Runs exceeding maxGap, or touching either end of the sequence, map to
// Unavailable; long gaps are never silently approximated.
//
// Malformed input (verdict mapping shorter or longer than the sequence,
// negative maxGap) is a precondition violation and fails fast.
func Build(seq types.RawSequence, verdicts []types.QualityVerdict, maxGap int) ([]types.LogicalFrameEntry, error) {
	if len(verdicts) != seq.Len() {
		return nil, fmt.Errorf("verdict mapping has %d entries for %d frames", len(verdicts), seq.Len())
	}
	if maxGap < 0 {
		return nil, fmt.Errorf("max gap must be >= 0, got %d", maxGap)
	}

	entries := make([]types.LogicalFrameEntry, len(verdicts))
	i := 0
	for i < len(verdicts) {
		if verdicts[i].Accepted() {
			entries[i] = types.LogicalFrameEntry{Kind: types.EntryDirect, SourceIndex: i}
			i++
			continue
		}

		// Maximal non-accepted run [i, j).
		j := i
		for j < len(verdicts) && !verdicts[j].Accepted() {
			j++
		}

		left := i - 1  // accepted by construction unless the run starts at 0
		right := j     // accepted by construction unless the run ends the sequence
		bounded := left >= 0 && right < len(verdicts)
		if bounded && j-i <= maxGap {
			for k := i; k < j; k++ {
				entries[k] = types.LogicalFrameEntry{
					Kind: types.EntryInterpolated,
					Recipe: &types.InterpolationRecipe{
						LeftSource:  left,
						RightSource: right,
						Weight:      float64(k-left) / float64(right-left),
					},
				}
			}
		} else {
			for k := i; k < j; k++ {
				entries[k] = types.LogicalFrameEntry{Kind: types.EntryUnavailable}
			}
		}
		i = j
	}

	return entries, nil
}

// Materialize synthesizes the observation for a logical index from its
// recipe. Numeric fields interpolate linearly by weight; the body
// orientation interpolates each axis-angle component along the shortest
// angular path. The mesh carries over only when both endpoints hold
// meshes of identical topology.
func Materialize(seq types.RawSequence, logicalIndex int, recipe *types.InterpolationRecipe) (*types.PoseObservation, error) {
	if err := recipe.Validate(); err != nil {
		return nil, err
	}
	left := seq.At(recipe.LeftSource)
	right := seq.At(recipe.RightSource)
	if left == nil || right == nil {
		return nil, fmt.Errorf("recipe sources [%d, %d] not present in sequence",
			recipe.LeftSource, recipe.RightSource)
	}

	w := recipe.Weight
	out := &types.PoseObservation{
		FrameNumber: logicalIndex,
		Confidence:  lerp(left.Confidence, right.Confidence, w),
		Has3D:       left.Has3D && right.Has3D,
	}

	n := min(len(left.Keypoints), len(right.Keypoints))
	out.Keypoints = make([]types.Keypoint, n)
	for i := 0; i < n; i++ {
		out.Keypoints[i] = types.Keypoint{
			X:          lerp(left.Keypoints[i].X, right.Keypoints[i].X, w),
			Y:          lerp(left.Keypoints[i].Y, right.Keypoints[i].Y, w),
			Confidence: lerp(left.Keypoints[i].Confidence, right.Keypoints[i].Confidence, w),
		}
	}

	if left.CameraTranslation != nil && right.CameraTranslation != nil {
		trans := lerpVec3(*left.CameraTranslation, *right.CameraTranslation, w)
		out.CameraTranslation = &trans
	}
	if left.BodyOrient != nil && right.BodyOrient != nil {
		orient := types.Vec3{
			lerpAngle((*left.BodyOrient)[0], (*right.BodyOrient)[0], w),
			lerpAngle((*left.BodyOrient)[1], (*right.BodyOrient)[1], w),
			lerpAngle((*left.BodyOrient)[2], (*right.BodyOrient)[2], w),
		}
		out.BodyOrient = &orient
	}

	if meshCompatible(left, right) {
		out.MeshVertices = make([]types.Vec3, len(left.MeshVertices))
		for i := range left.MeshVertices {
			out.MeshVertices[i] = lerpVec3(left.MeshVertices[i], right.MeshVertices[i], w)
		}
		// Topology is shared between the endpoints; reuse left's faces.
		out.MeshFaces = left.MeshFaces
	}

	return out, nil
}

// meshCompatible reports whether both observations carry meshes with the
// same vertex and face counts.
func meshCompatible(a, b *types.PoseObservation) bool {
	return len(a.MeshVertices) > 0 &&
		len(a.MeshVertices) == len(b.MeshVertices) &&
		len(a.MeshFaces) == len(b.MeshFaces)
}

func lerp(a, b, w float64) float64 {
	return a + (b-a)*w
}

func lerpVec3(a, b types.Vec3, w float64) types.Vec3 {
	return types.Vec3{
		lerp(a[0], b[0], w),
		lerp(a[1], b[1], w),
		lerp(a[2], b[2], w),
	}
}

// lerpAngle interpolates along the shortest rotational path, wrapping the
// delta into (-pi, pi].
func lerpAngle(a, b, w float64) float64 {
	delta := math.Mod(b-a, 2*math.Pi)
	if delta > math.Pi {
		delta -= 2 * math.Pi
	} else if delta <= -math.Pi {
		delta += 2 * math.Pi
	}
	return a + delta*w
}
