// Package geotifftest writes small GeoTIFFs for tests.
package geotifftest

import (
	"bytes"
	"compress/lzw"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"slices"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/klauspost/compress/zlib"
)

// TIFF field types.
const (
	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
)

// Options describe a GeoTIFF. Samples holds the band one values in row-major
// order. Other bands hold 1000 times their band index.
type Options struct {
	Width               int
	Height              int
	Samples             []float64
	Bands               int
	BitsPerSample       uint16
	SampleFormat        uint16
	Compression         uint16
	Predictor           uint16
	PlanarConfiguration uint16
	RowsPerStrip        int
	TileWidth           int
	TileLength          int
	BigEndian           bool
	OriginX             float64
	OriginY             float64
	PixelWidth          float64
	PixelHeight         float64
	TiepointPixel       [2]float64
	Transformation      bool
	PixelIsPoint        bool
	EPSG                int
	NoData              string
	NoGeoKeys           bool
}

type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// WriteFile writes a GeoTIFF described by options to path.
func WriteFile(tb testing.TB, path string, options *Options) {
	tb.Helper()
	data, err := Encode(options)
	assert.NoError(tb, err)
	assert.NoError(tb, os.WriteFile(path, data, 0o644))
}

// Encode returns a GeoTIFF described by options.
func Encode(options *Options) ([]byte, error) {
	o := *options
	o.Bands = max(o.Bands, 1)
	if o.BitsPerSample == 0 {
		o.BitsPerSample = 32
	}
	if o.SampleFormat == 0 {
		o.SampleFormat = 3
	}
	o.Compression = max(o.Compression, 1)
	o.Predictor = max(o.Predictor, 1)
	o.PlanarConfiguration = max(o.PlanarConfiguration, 1)
	if o.PixelWidth == 0 {
		o.PixelWidth = 1
	}
	if o.PixelHeight == 0 {
		o.PixelHeight = 1
	}
	if len(o.Samples) != o.Width*o.Height {
		return nil, fmt.Errorf("got %d samples, want %d", len(o.Samples), o.Width*o.Height)
	}

	blocks, blockWidth, blockLength, err := encodeBlocks(&o)
	if err != nil {
		return nil, err
	}

	e := &encoder{order: o.byteOrder()}
	bitsPerSample := make([]uint16, o.Bands)
	sampleFormat := make([]uint16, o.Bands)
	for i := range o.Bands {
		bitsPerSample[i] = o.BitsPerSample
		sampleFormat[i] = o.SampleFormat
	}
	blockOffsets := make([]uint32, len(blocks))
	blockByteCounts := make([]uint32, len(blocks))
	for i, block := range blocks {
		blockByteCounts[i] = uint32(len(block))
	}

	entries := []entry{
		e.longs(256, uint32(o.Width)),
		e.longs(257, uint32(o.Height)),
		e.shorts(258, bitsPerSample...),
		e.shorts(259, o.Compression),
		e.shorts(262, 1),
		e.shorts(277, uint16(o.Bands)),
		e.shorts(284, o.PlanarConfiguration),
		e.shorts(317, o.Predictor),
		e.shorts(339, sampleFormat...),
	}
	offsetsTag, byteCountsTag := uint16(273), uint16(279)
	if o.TileWidth != 0 {
		offsetsTag, byteCountsTag = 324, 325
		entries = append(entries,
			e.longs(322, uint32(blockWidth)),
			e.longs(323, uint32(blockLength)),
		)
	} else {
		entries = append(entries, e.longs(278, uint32(blockLength)))
	}
	entries = append(entries,
		e.longs(offsetsTag, blockOffsets...),
		e.longs(byteCountsTag, blockByteCounts...),
	)
	if o.Transformation {
		entries = append(entries, e.doubles(34264,
			o.PixelWidth, 0, 0, o.OriginX,
			0, -o.PixelHeight, 0, o.OriginY,
			0, 0, 0, 0,
			0, 0, 0, 1,
		))
	} else {
		i, j := o.TiepointPixel[0], o.TiepointPixel[1]
		entries = append(entries,
			e.doubles(33550, o.PixelWidth, o.PixelHeight, 0),
			e.doubles(33922, i, j, 0, o.OriginX+i*o.PixelWidth, o.OriginY-j*o.PixelHeight, 0),
		)
	}
	if !o.NoGeoKeys {
		rasterType := uint16(1)
		if o.PixelIsPoint {
			rasterType = 2
		}
		entries = append(entries, e.shorts(34735,
			1, 1, 0, 3,
			1024, 0, 1, 1,
			1025, 0, 1, rasterType,
			3072, 0, 1, uint16(o.EPSG),
		))
	}
	if o.NoData != "" {
		entries = append(entries, entry{
			tag:   42113,
			typ:   typeASCII,
			count: uint32(len(o.NoData) + 1),
			data:  append([]byte(o.NoData), 0),
		})
	}
	slices.SortFunc(entries, func(a, b entry) int {
		return int(a.tag) - int(b.tag)
	})

	// Layout: header, IFD, out of line values, blocks.
	ifdSize := 2 + 12*len(entries) + 4
	valueOffset := 8 + ifdSize
	valueOffsets := make([]int, len(entries))
	for i, entry := range entries {
		if len(entry.data) > 4 {
			valueOffsets[i] = valueOffset
			valueOffset += len(entry.data) + len(entry.data)%2
		}
	}
	blockOffset := valueOffset
	for i, block := range blocks {
		blockOffsets[i] = uint32(blockOffset)
		blockOffset += len(block)
	}
	for i := range entries {
		if entries[i].tag == offsetsTag {
			entries[i] = e.longs(offsetsTag, blockOffsets...)
		}
	}

	buf := &bytes.Buffer{}
	if o.BigEndian {
		buf.WriteString("MM")
	} else {
		buf.WriteString("II")
	}
	e.writeUint16(buf, 42)
	e.writeUint32(buf, 8)
	e.writeUint16(buf, uint16(len(entries)))
	for i, entry := range entries {
		e.writeUint16(buf, entry.tag)
		e.writeUint16(buf, entry.typ)
		e.writeUint32(buf, entry.count)
		if len(entry.data) > 4 {
			e.writeUint32(buf, uint32(valueOffsets[i]))
		} else {
			inline := make([]byte, 4)
			copy(inline, entry.data)
			buf.Write(inline)
		}
	}
	e.writeUint32(buf, 0)
	for _, entry := range entries {
		if len(entry.data) > 4 {
			buf.Write(entry.data)
			if len(entry.data)%2 != 0 {
				buf.WriteByte(0)
			}
		}
	}
	for _, block := range blocks {
		buf.Write(block)
	}
	return buf.Bytes(), nil
}

// encodeBlocks returns the encoded strips or tiles of o.
func encodeBlocks(o *Options) ([][]byte, int, int, error) {
	blockWidth, blockLength := o.Width, o.Height
	if o.TileWidth != 0 {
		blockWidth, blockLength = o.TileWidth, o.TileLength
	} else if o.RowsPerStrip != 0 {
		blockLength = o.RowsPerStrip
	}
	blocksAcross := (o.Width + blockWidth - 1) / blockWidth
	blocksDown := (o.Height + blockLength - 1) / blockLength

	planes, samplesPerPixel := 1, o.Bands
	if o.PlanarConfiguration == 2 {
		planes, samplesPerPixel = o.Bands, 1
	}
	bytesPerSample := int(o.BitsPerSample) / 8
	rowBytes := blockWidth * samplesPerPixel * bytesPerSample

	var blocks [][]byte
	for plane := range planes {
		for r := range blocksDown {
			for c := range blocksAcross {
				rows := blockLength
				if o.TileWidth == 0 {
					rows = min(blockLength, o.Height-r*blockLength)
				}
				data := make([]byte, 0, rows*rowBytes)
				for row := range rows {
					rowData := make([]byte, 0, rowBytes)
					for col := range blockWidth {
						x, y := c*blockWidth+col, r*blockLength+row
						for s := range samplesPerPixel {
							band := plane + s
							value := float64(1000 * band)
							if band == 0 {
								value = 0
								if x < o.Width && y < o.Height {
									value = o.Samples[y*o.Width+x]
								}
							}
							rowData = appendSample(rowData, o, value)
						}
					}
					switch o.Predictor {
					case 2:
						applyHorizontalDifferencing(rowData, o.byteOrder(), samplesPerPixel, bytesPerSample)
					case 3:
						rowData = applyFloatingPointPredictor(rowData, o.BigEndian, samplesPerPixel, bytesPerSample)
					}
					data = append(data, rowData...)
				}
				block, err := compress(data, o.Compression)
				if err != nil {
					return nil, 0, 0, err
				}
				blocks = append(blocks, block)
			}
		}
	}
	return blocks, blockWidth, blockLength, nil
}

func (o *Options) byteOrder() byteOrder {
	if o.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func appendSample(b []byte, o *Options, value float64) []byte {
	order := o.byteOrder()
	switch {
	case o.SampleFormat == 3 && o.BitsPerSample == 32:
		return order.AppendUint32(b, math.Float32bits(float32(value)))
	case o.SampleFormat == 3:
		return order.AppendUint64(b, math.Float64bits(value))
	case o.SampleFormat == 2 && o.BitsPerSample == 8:
		return append(b, byte(int8(value)))
	case o.SampleFormat == 2 && o.BitsPerSample == 16:
		return order.AppendUint16(b, uint16(int16(value)))
	case o.SampleFormat == 2 && o.BitsPerSample == 32:
		return order.AppendUint32(b, uint32(int32(value)))
	case o.SampleFormat == 2:
		return order.AppendUint64(b, uint64(int64(value)))
	case o.BitsPerSample == 8:
		return append(b, byte(value))
	case o.BitsPerSample == 16:
		return order.AppendUint16(b, uint16(value))
	case o.BitsPerSample == 32:
		return order.AppendUint32(b, uint32(value))
	default:
		return order.AppendUint64(b, uint64(value))
	}
}

func applyHorizontalDifferencing(rowData []byte, order binary.ByteOrder, stride, bytesPerSample int) {
	for i := len(rowData)/bytesPerSample - 1; i >= stride; i-- {
		switch bytesPerSample {
		case 1:
			rowData[i] -= rowData[i-stride]
		case 2:
			order.PutUint16(rowData[2*i:], order.Uint16(rowData[2*i:])-order.Uint16(rowData[2*(i-stride):]))
		case 4:
			order.PutUint32(rowData[4*i:], order.Uint32(rowData[4*i:])-order.Uint32(rowData[4*(i-stride):]))
		case 8:
			order.PutUint64(rowData[8*i:], order.Uint64(rowData[8*i:])-order.Uint64(rowData[8*(i-stride):]))
		}
	}
}

// applyFloatingPointPredictor splits each value of rowData into byte planes,
// most significant first, and differences the result.
func applyFloatingPointPredictor(rowData []byte, bigEndian bool, stride, bytesPerSample int) []byte {
	count := len(rowData) / bytesPerSample
	result := make([]byte, len(rowData))
	for i := range count {
		for b := range bytesPerSample {
			// Byte b of the big endian representation.
			var bigEndianByte byte
			if bigEndian {
				bigEndianByte = rowData[i*bytesPerSample+b]
			} else {
				bigEndianByte = rowData[i*bytesPerSample+bytesPerSample-1-b]
			}
			result[b*count+i] = bigEndianByte
		}
	}
	for i := len(result) - 1; i >= stride; i-- {
		result[i] -= result[i-stride]
	}
	return result
}

func compress(data []byte, compression uint16) ([]byte, error) {
	buf := &bytes.Buffer{}
	switch compression {
	case 1:
		return data, nil
	case 5:
		// Matches TIFF's LZW while fewer than 510 codes are emitted.
		w := lzw.NewWriter(buf, lzw.MSB, 8)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case 8, 32946:
		w := zlib.NewWriter(buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("compression %d", compression)
	}
	return buf.Bytes(), nil
}

type encoder struct {
	order byteOrder
}

func (e *encoder) shorts(tag uint16, values ...uint16) entry {
	data := make([]byte, 0, 2*len(values))
	for _, value := range values {
		data = e.order.AppendUint16(data, value)
	}
	return entry{tag: tag, typ: typeShort, count: uint32(len(values)), data: data}
}

func (e *encoder) longs(tag uint16, values ...uint32) entry {
	data := make([]byte, 0, 4*len(values))
	for _, value := range values {
		data = e.order.AppendUint32(data, value)
	}
	return entry{tag: tag, typ: typeLong, count: uint32(len(values)), data: data}
}

func (e *encoder) doubles(tag uint16, values ...float64) entry {
	data := make([]byte, 0, 8*len(values))
	for _, value := range values {
		data = e.order.AppendUint64(data, math.Float64bits(value))
	}
	return entry{tag: tag, typ: typeDouble, count: uint32(len(values)), data: data}
}

func (e *encoder) writeUint16(buf *bytes.Buffer, value uint16) {
	buf.Write(e.order.AppendUint16(nil, value))
}

func (e *encoder) writeUint32(buf *bytes.Buffer, value uint32) {
	buf.Write(e.order.AppendUint32(nil, value))
}
