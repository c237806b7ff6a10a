// Package classify implements post-hoc quality classification of a raw
// pose sequence. Classification is a pure function of the sequence and
// the configured thresholds: no external calls, deterministic output.
package classify

import (
	"fmt"
	"math"

	"github.com/motionforge/posepipe/types"
)

// Thresholds configures the classifier. All values are explicit; nothing
// is read from ambient state.
type Thresholds struct {
	// MinConfidence is the aggregate confidence floor per frame.
	MinConfidence float64
	// OffScreenConfidence is the per-keypoint confidence below which an
	// out-of-bounds keypoint counts toward the off-screen share.
	OffScreenConfidence float64
	// OffScreenShare is the fraction of off-screen keypoints above which
	// the frame is rejected.
	OffScreenShare float64
	// OutlierDeviation is the allowed centroid deviation from the local
	// motion trend, as a fraction of the trend's own magnitude.
	OutlierDeviation float64
	// ImageWidth and ImageHeight define the keypoint coordinate bounds.
	ImageWidth  float64
	ImageHeight float64
}

// DefaultThresholds returns classifier defaults tuned for single-person
// full-body estimation on typical upload footage.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinConfidence:       0.5,
		OffScreenConfidence: 0.3,
		OffScreenShare:      0.5,
		OutlierDeviation:    1.5,
		ImageWidth:          1920,
		ImageHeight:         1080,
	}
}

// Validate checks threshold invariants.
func (t Thresholds) Validate() error {
	if t.MinConfidence < 0 || t.MinConfidence > 1 {
		return fmt.Errorf("min confidence %g outside [0,1]", t.MinConfidence)
	}
	if t.OffScreenShare < 0 || t.OffScreenShare > 1 {
		return fmt.Errorf("off-screen share %g outside [0,1]", t.OffScreenShare)
	}
	if t.OutlierDeviation <= 0 {
		return fmt.Errorf("outlier deviation must be > 0, got %g", t.OutlierDeviation)
	}
	if t.ImageWidth <= 0 || t.ImageHeight <= 0 {
		return fmt.Errorf("image bounds %gx%g must be positive", t.ImageWidth, t.ImageHeight)
	}
	return nil
}

// Classify maps every raw sequence index to a quality verdict.
//
// Rules are evaluated in order per present observation; a frame failing an
// earlier rule is not evaluated against later ones, so diagnostics never
// contradict:
//  1. rejected_low_confidence when aggregate confidence is under the floor
//  2. rejected_off_screen when too many keypoints sit out of bounds with
//     low per-keypoint confidence
//  3. rejected_outlier when the frame's keypoint centroid departs from the
//     motion trend implied by its accepted neighbors
//
// Absent slots classify as absent without rule evaluation.
func Classify(seq types.RawSequence, th Thresholds) []types.QualityVerdict {
	verdicts := make([]types.QualityVerdict, seq.Len())

	// Rules 1 and 2 are frame-local and settle which frames may serve as
	// trend anchors for rule 3.
	for i := range verdicts {
		obs := seq.At(i)
		switch {
		case obs == nil:
			verdicts[i] = types.VerdictAbsent
		case obs.Confidence < th.MinConfidence:
			verdicts[i] = types.VerdictLowConfidence
		case offScreenShare(obs, th) > th.OffScreenShare:
			verdicts[i] = types.VerdictOffScreen
		default:
			verdicts[i] = types.VerdictAccepted
		}
	}

	// Rule 3 runs against the rule-1/2 survivors as a fixed reference set.
	// Re-anchoring on already-demoted outliers would make the result
	// depend on scan order.
	outliers := make([]bool, len(verdicts))
	for i := range verdicts {
		if verdicts[i] != types.VerdictAccepted {
			continue
		}
		if isOutlier(seq, verdicts, i, th) {
			outliers[i] = true
		}
	}
	for i, out := range outliers {
		if out {
			verdicts[i] = types.VerdictOutlier
		}
	}

	return verdicts
}

// offScreenShare computes the fraction of keypoints that are both outside
// image bounds and below the off-screen confidence threshold.
func offScreenShare(obs *types.PoseObservation, th Thresholds) float64 {
	if len(obs.Keypoints) == 0 {
		return 0
	}
	off := 0
	for _, kp := range obs.Keypoints {
		outOfBounds := kp.X < 0 || kp.X > th.ImageWidth || kp.Y < 0 || kp.Y > th.ImageHeight
		if outOfBounds && kp.Confidence < th.OffScreenConfidence {
			off++
		}
	}
	return float64(off) / float64(len(obs.Keypoints))
}

// isOutlier tests the frame centroid against the linear motion trend
// implied by its nearest accepted neighbors.
//
// Trend model: with anchors on both sides, the predicted centroid is the
// linear interpolation between the two anchor centroids at the candidate's
// fractional position; the trend magnitude is the displacement between
// those anchors. With anchors on one side only (sequence boundary) the
// prediction degrades to the nearest anchor's centroid and the magnitude
// to the displacement between the two nearest same-side anchors. The
// magnitude is floored relative to the image diagonal so static scenes
// keep a meaningful denominator.
//
// Higher-order fits were rejected on purpose: velocity extrapolated
// through a not-yet-demoted outlier flags its healthy neighbors too.
func isOutlier(seq types.RawSequence, verdicts []types.QualityVerdict, i int, th Thresholds) bool {
	left := nearestAnchors(verdicts, i, -1)
	right := nearestAnchors(verdicts, i, +1)
	if len(left) == 0 && len(right) == 0 {
		return false
	}

	var predicted point
	var magnitude float64
	switch {
	case len(left) > 0 && len(right) > 0:
		l, r := left[0], right[0]
		cl, cr := centroid(seq.At(l)), centroid(seq.At(r))
		frac := float64(i-l) / float64(r-l)
		predicted = point{x: cl.x + (cr.x-cl.x)*frac, y: cl.y + (cr.y-cl.y)*frac}
		magnitude = dist(cl, cr)
	case len(left) > 0:
		predicted = centroid(seq.At(left[0]))
		if len(left) > 1 {
			magnitude = dist(centroid(seq.At(left[0])), centroid(seq.At(left[1])))
		}
	default:
		predicted = centroid(seq.At(right[0]))
		if len(right) > 1 {
			magnitude = dist(centroid(seq.At(right[0])), centroid(seq.At(right[1])))
		}
	}

	floor := 0.01 * math.Hypot(th.ImageWidth, th.ImageHeight)
	if magnitude < floor {
		magnitude = floor
	}

	deviation := dist(centroid(seq.At(i)), predicted)
	return deviation/magnitude > th.OutlierDeviation
}

// point is a 2D centroid.
type point struct{ x, y float64 }

// nearestAnchors returns up to the two nearest accepted indices from i in
// the given direction, nearest first.
func nearestAnchors(verdicts []types.QualityVerdict, i, dir int) []int {
	var anchors []int
	for j := i + dir; j >= 0 && j < len(verdicts) && len(anchors) < 2; j += dir {
		if verdicts[j] == types.VerdictAccepted {
			anchors = append(anchors, j)
		}
	}
	return anchors
}

// centroid is the confidence-weighted mean keypoint position.
func centroid(obs *types.PoseObservation) point {
	var sumX, sumY, sumW float64
	for _, kp := range obs.Keypoints {
		w := kp.Confidence
		if w <= 0 {
			continue
		}
		sumX += kp.X * w
		sumY += kp.Y * w
		sumW += w
	}
	if sumW == 0 {
		// Uniform fallback when the estimator reports no confidences.
		for _, kp := range obs.Keypoints {
			sumX += kp.X
			sumY += kp.Y
		}
		n := float64(len(obs.Keypoints))
		if n == 0 {
			return point{}
		}
		return point{x: sumX / n, y: sumY / n}
	}
	return point{x: sumX / sumW, y: sumY / sumW}
}

func dist(a, b point) float64 {
	return math.Hypot(a.x-b.x, a.y-b.y)
}
