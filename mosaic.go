package dtm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sync"

	"github.com/golang/geo/r2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// A Mosaic is a set of GeoTIFFs sampled as a single raster. Each point is
// sampled from the first GeoTIFF whose extent contains it.
type Mosaic struct {
	mutex          sync.Mutex
	fsys           fs.FS
	names          []string
	extents        []r2.Rect
	bounds         r2.Rect
	pixelWidth     float64
	pixelHeight    float64
	noData         float64
	epsg           int
	geoTIFFOptions []GeoTIFFOption
	cacheSize      int
	geoTIFFCache   *lru.Cache[int, *GeoTIFF]
}

// A MosaicOption sets an option on a Mosaic.
type MosaicOption func(*Mosaic)

// NewMosaic returns a new Mosaic of the GeoTIFFs names in fsys. Each file is
// opened once to read its extent. The resolution, no-data sentinel, and CRS
// are those of the first file. No-data cells of every file are reported with
// the first file's sentinel.
func NewMosaic(fsys fs.FS, names []string, options ...MosaicOption) (*Mosaic, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("mosaic: no files: %w", fs.ErrNotExist)
	}

	m := &Mosaic{
		fsys:      fsys,
		names:     names,
		extents:   make([]r2.Rect, len(names)),
		bounds:    r2.EmptyRect(),
		cacheSize: 8,
	}
	for _, option := range options {
		option(m)
	}

	for i, name := range names {
		geoTIFF, err := NewGeoTIFF(fsys, name, m.geoTIFFOptions...)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			m.pixelWidth, m.pixelHeight = geoTIFF.Resolution()
			m.noData = geoTIFF.NoData()
			m.epsg = geoTIFF.CRS()
		}
		m.extents[i] = geoTIFF.Bounds()
		m.bounds = m.bounds.Union(m.extents[i])
		if err := geoTIFF.Close(); err != nil {
			return nil, err
		}
	}

	var err error
	m.geoTIFFCache, err = lru.NewWithEvict(m.cacheSize, func(key int, value *GeoTIFF) {
		_ = value.Close()
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// WithOpenFileCacheSize sets the maximum number of GeoTIFFs kept open.
func WithOpenFileCacheSize(cacheSize int) MosaicOption {
	return func(m *Mosaic) {
		m.cacheSize = cacheSize
	}
}

// WithGeoTIFFOptions sets the options used to open each GeoTIFF.
func WithGeoTIFFOptions(geoTIFFOptions ...GeoTIFFOption) MosaicOption {
	return func(m *Mosaic) {
		m.geoTIFFOptions = geoTIFFOptions
	}
}

// Close closes all open GeoTIFFs.
func (m *Mosaic) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.geoTIFFCache.Purge()
	return nil
}

// Names returns the names of m's GeoTIFFs.
func (m *Mosaic) Names() []string {
	return m.names
}

// Bounds returns the union of the extents of m's GeoTIFFs.
func (m *Mosaic) Bounds() r2.Rect {
	return m.bounds
}

// Resolution returns m's pixel width and height.
func (m *Mosaic) Resolution() (float64, float64) {
	return m.pixelWidth, m.pixelHeight
}

// Width returns the width of m's extent in pixels.
func (m *Mosaic) Width() int {
	return int(math.Round(m.bounds.X.Length() / m.pixelWidth))
}

// Height returns the height of m's extent in pixels.
func (m *Mosaic) Height() int {
	return int(math.Round(m.bounds.Y.Length() / m.pixelHeight))
}

// NoData returns m's no-data sentinel.
func (m *Mosaic) NoData() float64 {
	return m.noData
}

// CRS returns the EPSG code of m's CRS, or zero if it is unknown.
func (m *Mosaic) CRS() int {
	return m.epsg
}

// Samples returns the samples at points. Points outside every GeoTIFF and
// no-data cells have m's no-data sentinel.
func (m *Mosaic) Samples(ctx context.Context, points []Point) ([]float64, error) {
	samples := make([]float64, len(points))

	// Group indexes by GeoTIFF.
	type groupStruct struct {
		points  []Point
		indexes []int
	}
	groupsByFile := make(map[int]groupStruct)
	for index, point := range points {
		file, ok := m.fileIndex(point)
		if !ok {
			samplesTotal.Inc()
			samplesOutOfBounds.Inc()
			samples[index] = m.noData
			continue
		}
		group := groupsByFile[file]
		group.points = append(group.points, point)
		group.indexes = append(group.indexes, index)
		groupsByFile[file] = group
	}

	// Populate samples one GeoTIFF at a time.
	for file, group := range groupsByFile {
		geoTIFF, err := m.getGeoTIFFCached(file)
		if err != nil {
			return nil, err
		}
		localSamples, err := geoTIFF.Samples(ctx, group.points)
		if err != nil {
			return nil, err
		}
		for localIndex, index := range group.indexes {
			sample := localSamples[localIndex]
			if geoTIFF.hasNoData && geoTIFF.isNoData(sample) {
				sample = m.noData
			}
			samples[index] = sample
		}
	}

	return samples, nil
}

// fileIndex returns the index of the first GeoTIFF containing point.
func (m *Mosaic) fileIndex(point Point) (int, bool) {
	for i, extent := range m.extents {
		if extent.ContainsPoint(point.r2()) {
			return i, true
		}
	}
	return 0, false
}

// getGeoTIFFCached returns the open GeoTIFF with the given index, opening it
// if needed.
func (m *Mosaic) getGeoTIFFCached(file int) (*GeoTIFF, error) {
	if geoTIFF, ok := m.geoTIFFCache.Get(file); ok {
		openFileCacheHits.Inc()
		return geoTIFF, nil
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if geoTIFF, ok := m.geoTIFFCache.Get(file); ok {
		openFileCacheHits.Inc()
		return geoTIFF, nil
	}

	openFileCacheMisses.Inc()

	geoTIFF, err := NewGeoTIFF(m.fsys, m.names[file], m.geoTIFFOptions...)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("mosaic: %s removed: %w", m.names[file], err)
	case err != nil:
		return nil, err
	}

	if eviction := m.geoTIFFCache.Add(file, geoTIFF); eviction {
		openFileCacheEvictions.Inc()
	}

	return geoTIFF, nil
}
