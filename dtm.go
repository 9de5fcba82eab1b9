// Package dtm samples digital terrain models stored as GeoTIFFs.
package dtm

import (
	"context"

	"github.com/golang/geo/r2"
)

// A Point is a coordinate in a raster's coordinate reference system.
type Point struct {
	X float64
	Y float64
}

// A BlockCoord is the coordinate of a strip or tile within an image.
type BlockCoord struct {
	C int // Column.
	R int // Row.
}

// A Raster is a single band of gridded values.
type Raster interface {
	Samples(ctx context.Context, points []Point) ([]float64, error)
	Bounds() r2.Rect
	Resolution() (float64, float64)
	NoData() float64
}

func (p Point) r2() r2.Point {
	return r2.Point{X: p.X, Y: p.Y}
}
