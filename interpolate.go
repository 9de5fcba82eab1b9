package dtm

import (
	"context"
	"math"
)

// InterpolateBilinear returns the values at points interpolated between the
// four nearest pixel centers of raster. Neighbors are clamped to raster's
// extent. Where any neighbor is no-data the value of the pixel containing the
// point is returned instead. Points outside raster's extent have the no-data
// sentinel.
func InterpolateBilinear(ctx context.Context, raster Raster, points []Point) ([]float64, error) {
	bounds := raster.Bounds()
	pixelWidth, pixelHeight := raster.Resolution()
	noData := raster.NoData()

	// The first and last pixel centers in each direction.
	minX, maxX := bounds.X.Lo+pixelWidth/2, bounds.X.Hi-pixelWidth/2
	minY, maxY := bounds.Y.Lo+pixelHeight/2, bounds.Y.Hi-pixelHeight/2

	type weights struct {
		dx, dy float64
	}
	rasterPoints := make([]Point, 5*len(points))
	pointWeights := make([]weights, len(points))
	for i, point := range points {
		x0 := bounds.X.Lo + (math.Floor((point.X-bounds.X.Lo)/pixelWidth-0.5)+0.5)*pixelWidth
		y0 := bounds.Y.Lo + (math.Floor((point.Y-bounds.Y.Lo)/pixelHeight-0.5)+0.5)*pixelHeight
		x0 = min(max(x0, minX), maxX)
		y0 = min(max(y0, minY), maxY)
		x1 := min(x0+pixelWidth, maxX)
		y1 := min(y0+pixelHeight, maxY)
		pointWeights[i] = weights{
			dx: min(max((point.X-x0)/pixelWidth, 0), 1),
			dy: min(max((point.Y-y0)/pixelHeight, 0), 1),
		}
		rasterPoints[5*i+0] = Point{X: x0, Y: y0}
		rasterPoints[5*i+1] = Point{X: x1, Y: y0}
		rasterPoints[5*i+2] = Point{X: x0, Y: y1}
		rasterPoints[5*i+3] = Point{X: x1, Y: y1}
		rasterPoints[5*i+4] = point
	}
	samples, err := raster.Samples(ctx, rasterPoints)
	if err != nil {
		return nil, err
	}

	isNoData := func(sample float64) bool {
		if math.IsNaN(noData) {
			return math.IsNaN(sample)
		}
		return sample == noData
	}

	result := make([]float64, len(points))
	for i, point := range points {
		nearest := samples[5*i+4]
		switch {
		case !bounds.ContainsPoint(point.r2()):
			result[i] = noData
			continue
		case isNoData(samples[5*i+0]) || isNoData(samples[5*i+1]) || isNoData(samples[5*i+2]) || isNoData(samples[5*i+3]):
			result[i] = nearest
			continue
		}
		dx, dy := pointWeights[i].dx, pointWeights[i].dy
		result[i] = 0 +
			samples[5*i+0]*(1-dx)*(1-dy) +
			samples[5*i+1]*dx*(1-dy) +
			samples[5*i+2]*(1-dx)*dy +
			samples[5*i+3]*dx*dy
	}
	return result, nil
}
