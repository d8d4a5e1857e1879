// Package trajectory provides the planar trajectory point model and the point
// sequence operations (resampling, nearest search, cropping) shared by the
// planning stages.
package trajectory

import (
	"math"

	"github.com/golang/geo/r2"
)

// Point is one sample of a trajectory: a planar pose plus a target speed.
type Point struct {
	Pos   r2.Point
	Yaw   float64
	Speed float64
}

// Pose is a planar position with heading.
type Pose struct {
	Pos r2.Point
	Yaw float64
}

// NormalizeRadian wraps an angle to (-pi, pi].
func NormalizeRadian(rad float64) float64 {
	v := math.Mod(rad, 2*math.Pi)
	if v > math.Pi {
		v -= 2 * math.Pi
	} else if v <= -math.Pi {
		v += 2 * math.Pi
	}
	return v
}

// YawDeviation returns the heading difference from a reference yaw, normalized.
func YawDeviation(refYaw, yaw float64) float64 {
	return NormalizeRadian(yaw - refYaw)
}

// ArcLength returns the summed segment lengths of the sequence.
func ArcLength(points []Point) float64 {
	var sum float64
	for i := 1; i < len(points); i++ {
		sum += points[i].Pos.Sub(points[i-1].Pos).Norm()
	}
	return sum
}

// Resample redistributes the sequence to a uniform arc-length interval,
// linearly interpolating position, speed, and yaw between bracketing samples.
// The last input point is always kept.
func Resample(points []Point, interval float64) []Point {
	if len(points) < 2 || interval <= 0 {
		return append([]Point{}, points...)
	}

	// accumulated arc length per input point
	s := make([]float64, len(points))
	for i := 1; i < len(points); i++ {
		s[i] = s[i-1] + points[i].Pos.Sub(points[i-1].Pos).Norm()
	}
	total := s[len(s)-1]

	resampled := make([]Point, 0, int(total/interval)+2)
	seg := 0
	for target := 0.0; target < total; target += interval {
		for seg+1 < len(s)-1 && s[seg+1] <= target {
			seg++
		}
		den := s[seg+1] - s[seg]
		ratio := 0.0
		if den > 0 {
			ratio = (target - s[seg]) / den
		}
		resampled = append(resampled, lerpPoint(points[seg], points[seg+1], ratio))
	}
	resampled = append(resampled, points[len(points)-1])
	return resampled
}

func lerpPoint(a, b Point, ratio float64) Point {
	return Point{
		Pos: r2.Point{
			X: a.Pos.X + (b.Pos.X-a.Pos.X)*ratio,
			Y: a.Pos.Y + (b.Pos.Y-a.Pos.Y)*ratio,
		},
		Yaw:   a.Yaw + NormalizeRadian(b.Yaw-a.Yaw)*ratio,
		Speed: a.Speed + (b.Speed-a.Speed)*ratio,
	}
}

// NearestIndex returns the index of the point closest to pos.
func NearestIndex(points []Point, pos r2.Point) int {
	minDist := math.MaxFloat64
	minIdx := 0
	for i, p := range points {
		if d := p.Pos.Sub(pos).Norm(); d < minDist {
			minDist = d
			minIdx = i
		}
	}
	return minIdx
}

// NearestIndexSoft returns the index of the point nearest to the pose among
// those within the distance and yaw thresholds, falling back to the plain
// nearest point when none qualifies.
func NearestIndexSoft(points []Point, pose Pose, distThreshold, yawThreshold float64) int {
	minDist := math.MaxFloat64
	minIdx := -1
	for i, p := range points {
		d := p.Pos.Sub(pose.Pos).Norm()
		if d > distThreshold || math.Abs(YawDeviation(p.Yaw, pose.Yaw)) > yawThreshold {
			continue
		}
		if d < minDist {
			minDist = d
			minIdx = i
		}
	}
	if minIdx < 0 {
		return NearestIndex(points, pose.Pos)
	}
	return minIdx
}

// NearestSegmentIndexSoft returns the segment index (index of the segment's
// first point) bracketing the pose, using the soft nearest point search.
func NearestSegmentIndexSoft(points []Point, pose Pose, distThreshold, yawThreshold float64) int {
	idx := NearestIndexSoft(points, pose, distThreshold, yawThreshold)
	if idx == 0 {
		return 0
	}
	if idx == len(points)-1 {
		return len(points) - 2
	}
	// pick the adjacent segment the pose projects onto
	toPose := pose.Pos.Sub(points[idx].Pos)
	toNext := points[idx+1].Pos.Sub(points[idx].Pos)
	if toPose.Dot(toNext) >= 0 {
		return idx
	}
	return idx - 1
}

// longitudinalOffsetToSegment returns the signed longitudinal distance of pos
// from the start of segment segIdx, projected on the segment direction.
func longitudinalOffsetToSegment(points []Point, segIdx int, pos r2.Point) float64 {
	dir := points[segIdx+1].Pos.Sub(points[segIdx].Pos)
	norm := dir.Norm()
	if norm == 0 {
		return 0
	}
	return pos.Sub(points[segIdx].Pos).Dot(dir) / norm
}

// CropForward keeps points from the beginning until forwardLength past pos,
// measured along the sequence from segment segIdx.
func CropForward(points []Point, pos r2.Point, segIdx int, forwardLength float64) []Point {
	if len(points) == 0 {
		return nil
	}
	sum := -longitudinalOffsetToSegment(points, segIdx, pos)
	for i := segIdx + 1; i < len(points); i++ {
		sum += points[i].Pos.Sub(points[i-1].Pos).Norm()
		if forwardLength < sum {
			return append([]Point{}, points[:i]...)
		}
	}
	return append([]Point{}, points...)
}

// CropBackward drops points more than backwardLength behind pos, measured
// along the sequence from segment segIdx.
func CropBackward(points []Point, pos r2.Point, segIdx int, backwardLength float64) []Point {
	if len(points) == 0 {
		return nil
	}
	sum := -longitudinalOffsetToSegment(points, segIdx, pos)
	for i := segIdx; i > 0; i-- {
		sum -= points[i].Pos.Sub(points[i-1].Pos).Norm()
		if sum < -backwardLength {
			return append([]Point{}, points[i-1:]...)
		}
	}
	return append([]Point{}, points...)
}

// Crop keeps the window [pos - backwardLength, pos + forwardLength] around pos.
func Crop(points []Point, pos r2.Point, segIdx int, forwardLength, backwardLength float64) []Point {
	if len(points) == 0 {
		return nil
	}
	// forward first so segIdx stays valid
	forward := CropForward(points, pos, segIdx, forwardLength)
	if len(forward) < 2 {
		return forward
	}
	modifiedSegIdx := segIdx
	if modifiedSegIdx > len(forward)-2 {
		modifiedSegIdx = len(forward) - 2
	}
	return CropBackward(forward, pos, modifiedSegIdx, backwardLength)
}

// ClipForward keeps points from beginIdx until forwardLength along the sequence.
func ClipForward(points []Point, beginIdx int, forwardLength float64) []Point {
	if len(points) == 0 {
		return nil
	}
	sum := 0.0
	endIdx := len(points) - 1
	for i := beginIdx; i < len(points)-1; i++ {
		sum += points[i+1].Pos.Sub(points[i].Pos).Norm()
		if sum > forwardLength {
			endIdx = i
			break
		}
	}
	return append([]Point{}, points[beginIdx:endIdx+1]...)
}
