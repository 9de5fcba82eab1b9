package dtm

import (
	"math/rand/v2"

	"github.com/golang/geo/r2"
)

// GeneratePoints returns n points drawn independently and uniformly from
// bounds using r.
func GeneratePoints(r *rand.Rand, bounds r2.Rect, n int) []Point {
	points := make([]Point, n)
	for i := range points {
		points[i] = Point{
			X: min(bounds.X.Lo+r.Float64()*bounds.X.Length(), bounds.X.Hi),
			Y: min(bounds.Y.Lo+r.Float64()*bounds.Y.Length(), bounds.Y.Hi),
		}
	}
	return points
}
