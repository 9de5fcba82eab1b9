package dtm

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/r2"
	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	"github.com/maypok86/otter/v2"
)

var errShortRead = errors.New("short read")

// A GeoTIFF is an open GeoTIFF file. Only the first band of the first image
// is read.
type GeoTIFF struct {
	file                   readAtSeekCloser
	name                   string
	byteOrder              binary.ByteOrder
	width                  int
	height                 int
	bands                  int
	blockWidth             int
	blockLength            int
	blocksAcross           int
	blocksDown             int
	blockOffsets           []uint64
	blockByteCounts        []uint64
	smallestBlockByteCount uint64
	compression            uint16
	predictor              uint16
	sampleFormat           uint16
	bytesPerSample         int
	samplesPerBlockPixel   int
	blockRowBytes          int
	pixelWidth             float64
	pixelHeight            float64
	bounds                 r2.Rect
	noData                 float64
	hasNoData              bool
	epsg                   int
	blockCacheSizeBytes    int
	blockSamplesCache      *otter.Cache[BlockCoord, []float64]
	emptyBlockBytes        []byte
}

// A GeoTIFFOption sets an option on a GeoTIFF.
type GeoTIFFOption func(*GeoTIFF)

type readAtSeekCloser interface {
	io.ReaderAt
	io.ReadSeeker
	io.Closer
}

// A geoTIFFIFD is a struct into which github.com/google/tiff can unmarshal an
// IFD.
type geoTIFFIFD struct {
	ImageWidth                uint32    `tiff:"field,tag=256"`
	ImageLength               uint32    `tiff:"field,tag=257"`
	BitsPerSample             []uint16  `tiff:"field,tag=258"`
	Compression               uint16    `tiff:"field,tag=259"`
	PhotometricInterpretation uint16    `tiff:"field,tag=262"`
	StripOffsets              []uint64  `tiff:"field,tag=273"`
	SamplesPerPixel           uint16    `tiff:"field,tag=277"`
	RowsPerStrip              uint32    `tiff:"field,tag=278"`
	StripByteCounts           []uint64  `tiff:"field,tag=279"`
	PlanarConfiguration       uint16    `tiff:"field,tag=284"`
	Predictor                 uint16    `tiff:"field,tag=317"`
	TileWidth                 uint32    `tiff:"field,tag=322"`
	TileLength                uint32    `tiff:"field,tag=323"`
	TileOffsets               []uint64  `tiff:"field,tag=324"`
	TileByteCounts            []uint64  `tiff:"field,tag=325"`
	SampleFormat              []uint16  `tiff:"field,tag=339"`
	ModelPixelScaleTag        []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag          []float64 `tiff:"field,tag=33922"`
	ModelTransformationTag    []float64 `tiff:"field,tag=34264"`
	GeoKeyDirectoryTag        []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag        []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag         string    `tiff:"field,tag=34737"`
	GDALNoData                string    `tiff:"field,tag=42113"`
}

// TIFF compression schemes.
const (
	compressionNone         = 1
	compressionLZW          = 5
	compressionAdobeDeflate = 8
	compressionDeflate      = 32946
)

// TIFF predictors.
const (
	predictorNone          = 1
	predictorHorizontal    = 2
	predictorFloatingPoint = 3
)

// TIFF sample formats.
const (
	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

// OpenGeoTIFF opens the GeoTIFF at path.
func OpenGeoTIFF(path string, options ...GeoTIFFOption) (*GeoTIFF, error) {
	return NewGeoTIFF(os.DirFS(filepath.Dir(path)), filepath.Base(path), options...)
}

// NewGeoTIFF returns a new GeoTIFF read from filename in fsys. The file must
// support random access.
func NewGeoTIFF(fsys fs.FS, filename string, options ...GeoTIFFOption) (*GeoTIFF, error) {
	var err error
	ok := false

	f := &GeoTIFF{
		name:                filename,
		blockCacheSizeBytes: 128 << 20, // 128MB.
	}
	for _, option := range options {
		option(f)
	}

	file, err := fsys.Open(filename)
	if err != nil {
		return nil, err
	}
	if _, ok := file.(readAtSeekCloser); !ok {
		_ = file.Close()
		return nil, fmt.Errorf("%s: random access: %w", filename, errors.ErrUnsupported)
	}
	f.file = file.(readAtSeekCloser)
	defer func() {
		if !ok {
			_ = f.file.Close()
		}
	}()

	header := make([]byte, 2)
	if _, err := f.file.ReadAt(header, 0); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	switch string(header) {
	case "II":
		f.byteOrder = binary.LittleEndian
	case "MM":
		f.byteOrder = binary.BigEndian
	default:
		return nil, fmt.Errorf("%s: not a TIFF file", filename)
	}

	tiffTIFF, err := tiff.Parse(f.file, tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	// Subsequent IFDs are overviews or masks.
	if len(tiffTIFF.IFDs()) == 0 {
		return nil, fmt.Errorf("%s: no IFDs", filename)
	}

	var ifd geoTIFFIFD
	if err := tiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	if err := f.setLayout(&ifd); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	if err := f.setGeoreferencing(&ifd); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	if err := f.setNoData(ifd.GDALNoData); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	blockByteCountDecoded := 8 * f.blockWidth * f.blockLength
	blockCacheCount := max(f.blockCacheSizeBytes/blockByteCountDecoded, 1)
	f.blockSamplesCache, err = otter.New(&otter.Options[BlockCoord, []float64]{
		MaximumSize: blockCacheCount,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return f, nil
}

// WithBlockCacheSize sets the maximum size in bytes of decoded strips or
// tiles kept in memory.
func WithBlockCacheSize(blockCacheSize int) GeoTIFFOption {
	return func(f *GeoTIFF) {
		f.blockCacheSizeBytes = blockCacheSize
	}
}

// setLayout sets f's image dimensions, block layout, and sample encoding from
// ifd.
func (f *GeoTIFF) setLayout(ifd *geoTIFFIFD) error {
	f.width = int(ifd.ImageWidth)
	f.height = int(ifd.ImageLength)
	if f.width == 0 || f.height == 0 {
		return errors.New("empty image")
	}

	f.bands = max(int(ifd.SamplesPerPixel), 1)
	if len(ifd.BitsPerSample) == 0 {
		return errors.New("missing BitsPerSample")
	}
	bitsPerSample := ifd.BitsPerSample[0]
	for _, bits := range ifd.BitsPerSample[1:] {
		if bits != bitsPerSample {
			return fmt.Errorf("mixed BitsPerSample %v: %w", ifd.BitsPerSample, errors.ErrUnsupported)
		}
	}
	f.bytesPerSample = int(bitsPerSample) / 8

	f.sampleFormat = sampleFormatUint
	if len(ifd.SampleFormat) > 0 {
		f.sampleFormat = ifd.SampleFormat[0]
	}
	switch {
	case f.sampleFormat == sampleFormatUint && slices.Contains([]uint16{8, 16, 32, 64}, bitsPerSample):
	case f.sampleFormat == sampleFormatInt && slices.Contains([]uint16{8, 16, 32, 64}, bitsPerSample):
	case f.sampleFormat == sampleFormatFloat && slices.Contains([]uint16{32, 64}, bitsPerSample):
	default:
		return fmt.Errorf("SampleFormat %d with BitsPerSample %d: %w", f.sampleFormat, bitsPerSample, errors.ErrUnsupported)
	}

	switch f.compression = max(ifd.Compression, compressionNone); f.compression {
	case compressionNone, compressionLZW, compressionAdobeDeflate, compressionDeflate:
	default:
		return fmt.Errorf("Compression %d: %w", f.compression, errors.ErrUnsupported)
	}

	switch f.predictor = max(ifd.Predictor, predictorNone); f.predictor {
	case predictorNone, predictorHorizontal:
	case predictorFloatingPoint:
		if f.sampleFormat != sampleFormatFloat {
			return fmt.Errorf("Predictor %d with SampleFormat %d: %w", f.predictor, f.sampleFormat, errors.ErrUnsupported)
		}
	default:
		return fmt.Errorf("Predictor %d: %w", f.predictor, errors.ErrUnsupported)
	}

	var offsets, byteCounts []uint64
	if ifd.TileWidth != 0 {
		f.blockWidth = int(ifd.TileWidth)
		f.blockLength = int(ifd.TileLength)
		offsets, byteCounts = ifd.TileOffsets, ifd.TileByteCounts
	} else {
		f.blockWidth = f.width
		f.blockLength = int(ifd.RowsPerStrip)
		if f.blockLength == 0 || f.blockLength > f.height {
			f.blockLength = f.height
		}
		offsets, byteCounts = ifd.StripOffsets, ifd.StripByteCounts
	}
	if f.blockWidth == 0 || f.blockLength == 0 {
		return errors.New("empty blocks")
	}
	f.blocksAcross = (f.width + f.blockWidth - 1) / f.blockWidth
	f.blocksDown = (f.height + f.blockLength - 1) / f.blockLength

	// Band one's blocks come first for both chunky and planar images.
	blocksPerBand := f.blocksAcross * f.blocksDown
	switch planarConfiguration := max(ifd.PlanarConfiguration, 1); planarConfiguration {
	case 1:
		f.samplesPerBlockPixel = f.bands
	case 2:
		f.samplesPerBlockPixel = 1
		blocksPerBand *= f.bands
	default:
		return fmt.Errorf("PlanarConfiguration %d: %w", planarConfiguration, errors.ErrUnsupported)
	}
	if len(offsets) != blocksPerBand || len(byteCounts) != blocksPerBand {
		return errors.New("incorrect number of block byte counts or offsets")
	}
	f.blockOffsets = offsets
	f.blockByteCounts = byteCounts
	f.smallestBlockByteCount = byteCounts[0]
	for _, blockByteCount := range byteCounts[1:] {
		if blockByteCount < f.smallestBlockByteCount {
			f.smallestBlockByteCount = blockByteCount
		}
	}
	f.blockRowBytes = f.blockWidth * f.samplesPerBlockPixel * f.bytesPerSample

	return nil
}

// setGeoreferencing sets f's pixel size, extent, and CRS from ifd.
func (f *GeoTIFF) setGeoreferencing(ifd *geoTIFFIFD) error {
	var originX, originY float64
	switch {
	case len(ifd.ModelTransformationTag) == 16:
		m := ifd.ModelTransformationTag
		if m[1] != 0 || m[4] != 0 {
			return fmt.Errorf("rotated ModelTransformationTag: %w", errors.ErrUnsupported)
		}
		f.pixelWidth, f.pixelHeight = m[0], -m[5]
		originX, originY = m[3], m[7]
	case len(ifd.ModelPixelScaleTag) >= 2 && len(ifd.ModelTiepointTag) >= 6:
		f.pixelWidth, f.pixelHeight = ifd.ModelPixelScaleTag[0], ifd.ModelPixelScaleTag[1]
		i, j := ifd.ModelTiepointTag[0], ifd.ModelTiepointTag[1]
		x, y := ifd.ModelTiepointTag[3], ifd.ModelTiepointTag[4]
		originX = x - i*f.pixelWidth
		originY = y + j*f.pixelHeight
	default:
		return fmt.Errorf("missing georeferencing: %w", errors.ErrUnsupported)
	}
	if f.pixelWidth <= 0 || f.pixelHeight <= 0 {
		return fmt.Errorf("pixel size %gx%g: %w", f.pixelWidth, f.pixelHeight, errors.ErrUnsupported)
	}

	if len(ifd.GeoKeyDirectoryTag) != 0 {
		geoKeys, err := ParseGeoKeys(ifd.GeoKeyDirectoryTag, ifd.GeoDoubleParamsTag, []byte(ifd.GeoASCIIParamsTag))
		if err != nil {
			return err
		}
		if geoKeys.PixelIsPoint() {
			originX -= f.pixelWidth / 2
			originY += f.pixelHeight / 2
		}
		f.epsg = geoKeys.EPSG()
	}

	f.bounds = r2.Rect{
		X: r1.Interval{Lo: originX, Hi: originX + float64(f.width)*f.pixelWidth},
		Y: r1.Interval{Lo: originY - float64(f.height)*f.pixelHeight, Hi: originY},
	}
	return nil
}

// setNoData parses the GDAL_NODATA tag. Without it, the fill value is zero.
// The sentinel is rounded to the precision of f's samples so that no-data
// cells and out of bounds points report the same value.
func (f *GeoTIFF) setNoData(gdalNoData string) error {
	gdalNoData = strings.TrimSpace(strings.TrimRight(gdalNoData, "\x00"))
	if gdalNoData == "" {
		return nil
	}
	noData, err := strconv.ParseFloat(gdalNoData, 64)
	if err != nil {
		return fmt.Errorf("GDAL_NODATA %q: %w", gdalNoData, err)
	}
	if f.sampleFormat == sampleFormatFloat && f.bytesPerSample == 4 {
		noData = float64(float32(noData))
	}
	f.noData = noData
	f.hasNoData = true
	return nil
}

func (f *GeoTIFF) Close() error {
	return f.file.Close()
}

// Name returns the filename f was opened from.
func (f *GeoTIFF) Name() string {
	return f.name
}

// Width returns f's width in pixels.
func (f *GeoTIFF) Width() int {
	return f.width
}

// Height returns f's height in pixels.
func (f *GeoTIFF) Height() int {
	return f.height
}

// Bands returns the number of bands in f.
func (f *GeoTIFF) Bands() int {
	return f.bands
}

// Bounds returns f's extent.
func (f *GeoTIFF) Bounds() r2.Rect {
	return f.bounds
}

// Resolution returns f's pixel width and height.
func (f *GeoTIFF) Resolution() (float64, float64) {
	return f.pixelWidth, f.pixelHeight
}

// NoData returns f's no-data sentinel.
func (f *GeoTIFF) NoData() float64 {
	return f.noData
}

// CRS returns the EPSG code of f's CRS, or zero if it is unknown.
func (f *GeoTIFF) CRS() int {
	return f.epsg
}

// Sample returns a single sample from f.
func (f *GeoTIFF) Sample(ctx context.Context, point Point) (float64, error) {
	samplesTotal.Inc()
	col, row, ok := f.pixel(point)
	if !ok {
		samplesOutOfBounds.Inc()
		return f.noData, nil
	}
	blockCoord := f.blockCoord(col, row)
	switch blockSamples, err := f.getBlockSamplesCached(ctx, blockCoord); {
	case errors.Is(err, otter.ErrNotFound):
		return f.noData, nil
	case err != nil:
		return 0, err
	default:
		return f.blockSample(blockSamples, col, row), nil
	}
}

// Samples returns multiple samples from f, in the same order as points. It is
// significantly faster than calling [Sample] for each point. Points outside
// f's extent have the no-data sentinel.
func (f *GeoTIFF) Samples(ctx context.Context, points []Point) ([]float64, error) {
	samplesTotal.Add(float64(len(points)))

	samples := make([]float64, len(points))
	cols := make([]int, len(points))
	rows := make([]int, len(points))

	// Group indexes by block coord.
	indexesByBlockCoord := make(map[BlockCoord][]int)
	for index, point := range points {
		col, row, ok := f.pixel(point)
		if !ok {
			samplesOutOfBounds.Inc()
			samples[index] = f.noData
			continue
		}
		cols[index], rows[index] = col, row
		blockCoord := f.blockCoord(col, row)
		indexesByBlockCoord[blockCoord] = append(indexesByBlockCoord[blockCoord], index)
	}

	// Populate samples one block at a time.
	for blockCoord, indexes := range indexesByBlockCoord {
		switch blockSamples, err := f.getBlockSamplesCached(ctx, blockCoord); {
		case errors.Is(err, otter.ErrNotFound):
			for _, index := range indexes {
				samples[index] = f.noData
			}
		case err != nil:
			return nil, err
		default:
			for _, index := range indexes {
				samples[index] = f.blockSample(blockSamples, cols[index], rows[index])
			}
		}
	}

	return samples, nil
}

// pixel returns the column and row of the pixel containing point. The extent
// is closed, so points on the right and bottom edges belong to the last
// column and row.
func (f *GeoTIFF) pixel(point Point) (int, int, bool) {
	if !f.bounds.ContainsPoint(point.r2()) {
		return 0, 0, false
	}
	col := int(math.Floor((point.X - f.bounds.X.Lo) / f.pixelWidth))
	row := int(math.Floor((f.bounds.Y.Hi - point.Y) / f.pixelHeight))
	return min(max(col, 0), f.width-1), min(max(row, 0), f.height-1), true
}

// blockCoord returns the coord of the block containing the pixel at col, row.
func (f *GeoTIFF) blockCoord(col, row int) BlockCoord {
	return BlockCoord{
		C: col / f.blockWidth,
		R: row / f.blockLength,
	}
}

// blockSample returns the sample from blockSamples at col, row.
func (f *GeoTIFF) blockSample(blockSamples []float64, col, row int) float64 {
	return blockSamples[col%f.blockWidth+(row%f.blockLength)*f.blockWidth]
}

// blockRows returns the number of rows stored in the block at blockCoord.
// Tiles are always full, the last strip may be short.
func (f *GeoTIFF) blockRows(blockCoord BlockCoord) int {
	if f.blockWidth != f.width {
		return f.blockLength
	}
	return min(f.blockLength, f.height-blockCoord.R*f.blockLength)
}

// getCompressedBlockData returns the compressed data for the block at
// blockCoord. If the block is known to be empty, it returns the error
// otter.ErrNotFound.
func (f *GeoTIFF) getCompressedBlockData(blockCoord BlockCoord) ([]byte, error) {
	blockIndex := blockCoord.C + f.blocksAcross*blockCoord.R
	blockByteCount := f.blockByteCounts[blockIndex]
	blockOffset := f.blockOffsets[blockIndex]
	if blockByteCount == 0 {
		return nil, otter.ErrNotFound
	}
	compressedData := make([]byte, blockByteCount)
	switch n, err := f.file.ReadAt(compressedData, int64(blockOffset)); {
	case n == int(blockByteCount):
	case err != nil:
		return nil, err
	default:
		return nil, errShortRead
	}
	if f.emptyBlockBytes != nil && bytes.Equal(compressedData, f.emptyBlockBytes) {
		return nil, otter.ErrNotFound
	}
	return compressedData, nil
}

// getBlockSamples returns the band one samples of the block at blockCoord.
func (f *GeoTIFF) getBlockSamples(ctx context.Context, blockCoord BlockCoord) ([]float64, error) {
	blockLoads.Inc()

	compressedBlockData, err := f.getCompressedBlockData(blockCoord)
	if errors.Is(err, otter.ErrNotFound) {
		emptyBlocks.Inc()
		return nil, err
	} else if err != nil {
		return nil, err
	}

	rows := f.blockRows(blockCoord)
	blockData, err := f.decompressBlockData(compressedBlockData, rows*f.blockRowBytes)
	if err != nil {
		return nil, fmt.Errorf("%s: block %d,%d: %w", f.name, blockCoord.C, blockCoord.R, err)
	}
	f.undoPredictor(blockData, rows)
	blockSamples := f.decodeBlockData(blockData, rows)

	// If we do not know what an empty block looks like compressed, check to
	// see if this is an empty block, and, if so, use its bytes to detect empty
	// blocks before they are decompressed. We assume that the empty block is
	// the smallest block.
	if f.hasNoData && f.emptyBlockBytes == nil && len(compressedBlockData) == int(f.smallestBlockByteCount) {
		isEmptyBlock := true
		for _, sample := range blockSamples[:rows*f.blockWidth] {
			if !f.isNoData(sample) {
				isEmptyBlock = false
				break
			}
		}
		if isEmptyBlock {
			f.emptyBlockBytes = compressedBlockData
			emptyBlocks.Inc()
			return nil, otter.ErrNotFound
		}
	}

	return blockSamples, nil
}

// getBlockSamplesCached returns the block samples at blockCoord using f's
// cache.
func (f *GeoTIFF) getBlockSamplesCached(ctx context.Context, blockCoord BlockCoord) ([]float64, error) {
	return f.blockSamplesCache.Get(ctx, blockCoord, otter.LoaderFunc[BlockCoord, []float64](f.getBlockSamples))
}

func (f *GeoTIFF) isNoData(sample float64) bool {
	if math.IsNaN(f.noData) {
		return math.IsNaN(sample)
	}
	return sample == f.noData
}
