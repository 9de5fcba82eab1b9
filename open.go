package dtm

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// A RasterFile is a Raster backed by one or more open files.
type RasterFile interface {
	Raster
	io.Closer
	Width() int
	Height() int
	CRS() int
}

// Open opens the raster at path. If no file exists at path and the last
// element of path is a glob pattern matching more than one file then the
// matching files are opened as a Mosaic.
func Open(path string, options ...GeoTIFFOption) (RasterFile, error) {
	if fileInfo, err := os.Stat(path); err == nil && !fileInfo.IsDir() {
		return OpenGeoTIFF(path, options...)
	}

	dir, pattern := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	fsys := os.DirFS(dir)

	names, err := fs.Glob(fsys, pattern)
	if err != nil {
		return nil, err
	}
	switch len(names) {
	case 0:
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	case 1:
		return NewGeoTIFF(fsys, names[0], options...)
	default:
		return NewMosaic(fsys, names, WithGeoTIFFOptions(options...))
	}
}
