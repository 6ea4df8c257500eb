package eye

import "math"

// PointsPerEye is the number of landmarks in one eye contour.
const PointsPerEye = 6

// Point is a 2D landmark in normalized image coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Geometry is the ordered eye contour: outer corner (p1), two upper-lid
// points (p2, p3), inner corner (p4), two lower-lid points (p5, p6).
type Geometry []Point

// ComputeEAR returns (|p2-p6| + |p3-p5|) / (2|p1-p4|).
// It returns 0 when g does not hold exactly six points or the horizontal
// distance is zero.
func ComputeEAR(g Geometry) float64 {
	if len(g) != PointsPerEye {
		return 0
	}
	p1, p2, p3, p4, p5, p6 := g[0], g[1], g[2], g[3], g[4], g[5]

	horizontal := dist(p1, p4)
	if horizontal == 0 {
		return 0
	}
	return (dist(p2, p6) + dist(p3, p5)) / (2 * horizontal)
}

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
