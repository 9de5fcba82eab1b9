package dtm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/tiff/lzw"
)

// decompressBlockData decompresses compressedData into size bytes.
func (f *GeoTIFF) decompressBlockData(compressedData []byte, size int) ([]byte, error) {
	var r io.Reader
	switch f.compression {
	case compressionNone:
		if len(compressedData) < size {
			return nil, errShortRead
		}
		return compressedData[:size], nil
	case compressionLZW:
		r = lzw.NewReader(bytes.NewReader(compressedData), lzw.MSB, 8)
	case compressionAdobeDeflate, compressionDeflate:
		zr, err := zlib.NewReader(bytes.NewReader(compressedData))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	default:
		return nil, fmt.Errorf("compression %d", f.compression)
	}
	blockData := make([]byte, size)
	if _, err := io.ReadFull(r, blockData); err != nil {
		return nil, err
	}
	return blockData, nil
}

// undoPredictor reverses the predictor applied to each of the rows of
// blockData in place.
func (f *GeoTIFF) undoPredictor(blockData []byte, rows int) {
	switch f.predictor {
	case predictorHorizontal:
		for row := range rows {
			f.undoHorizontalDifferencing(blockData[row*f.blockRowBytes : (row+1)*f.blockRowBytes])
		}
	case predictorFloatingPoint:
		tmp := make([]byte, f.blockRowBytes)
		for row := range rows {
			undoFloatingPointPredictor(blockData[row*f.blockRowBytes:(row+1)*f.blockRowBytes], tmp, f.samplesPerBlockPixel, f.bytesPerSample)
		}
	}
}

// undoHorizontalDifferencing accumulates each sample in rowData onto the same
// band of the previous pixel, wrapping at the sample width.
func (f *GeoTIFF) undoHorizontalDifferencing(rowData []byte) {
	stride := f.samplesPerBlockPixel
	order := f.byteOrder
	switch f.bytesPerSample {
	case 1:
		for i := stride; i < len(rowData); i++ {
			rowData[i] += rowData[i-stride]
		}
	case 2:
		for i := stride; i < len(rowData)/2; i++ {
			prev := order.Uint16(rowData[2*(i-stride):])
			order.PutUint16(rowData[2*i:], order.Uint16(rowData[2*i:])+prev)
		}
	case 4:
		for i := stride; i < len(rowData)/4; i++ {
			prev := order.Uint32(rowData[4*(i-stride):])
			order.PutUint32(rowData[4*i:], order.Uint32(rowData[4*i:])+prev)
		}
	case 8:
		for i := stride; i < len(rowData)/8; i++ {
			prev := order.Uint64(rowData[8*(i-stride):])
			order.PutUint64(rowData[8*i:], order.Uint64(rowData[8*i:])+prev)
		}
	}
}

// undoFloatingPointPredictor reverses the floating point predictor on a
// single row. The encoded row holds the byte-wise differences of each
// value's bytes, most significant byte plane first. The decoded row is
// little endian, whatever the file's byte order.
func undoFloatingPointPredictor(rowData, tmp []byte, stride, bytesPerSample int) {
	for i := stride; i < len(rowData); i++ {
		rowData[i] += rowData[i-stride]
	}
	copy(tmp, rowData)
	count := len(rowData) / bytesPerSample
	for i := range count {
		for b := range bytesPerSample {
			rowData[i*bytesPerSample+b] = tmp[(bytesPerSample-1-b)*count+i]
		}
	}
}

// decodeBlockData decodes the band one samples of blockData, which holds
// rows rows. Missing rows of short strips are filled with f's no-data
// sentinel.
func (f *GeoTIFF) decodeBlockData(blockData []byte, rows int) []float64 {
	order := f.byteOrder
	if f.predictor == predictorFloatingPoint {
		order = binary.LittleEndian
	}
	pixelBytes := f.samplesPerBlockPixel * f.bytesPerSample
	blockSamples := make([]float64, f.blockWidth*f.blockLength)
	for row := range rows {
		rowData := blockData[row*f.blockRowBytes : (row+1)*f.blockRowBytes]
		for col := range f.blockWidth {
			blockSamples[col+row*f.blockWidth] = f.decodeSample(order, rowData[col*pixelBytes:])
		}
	}
	for i := rows * f.blockWidth; i < len(blockSamples); i++ {
		blockSamples[i] = f.noData
	}
	return blockSamples
}

// decodeSample decodes the sample at the start of data.
func (f *GeoTIFF) decodeSample(order binary.ByteOrder, data []byte) float64 {
	switch f.sampleFormat {
	case sampleFormatInt:
		switch f.bytesPerSample {
		case 1:
			return float64(int8(data[0]))
		case 2:
			return float64(int16(order.Uint16(data)))
		case 4:
			return float64(int32(order.Uint32(data)))
		default:
			return float64(int64(order.Uint64(data)))
		}
	case sampleFormatFloat:
		if f.bytesPerSample == 4 {
			return float64(math.Float32frombits(order.Uint32(data)))
		}
		return math.Float64frombits(order.Uint64(data))
	default:
		switch f.bytesPerSample {
		case 1:
			return float64(data[0])
		case 2:
			return float64(order.Uint16(data))
		case 4:
			return float64(order.Uint32(data))
		default:
			return float64(order.Uint64(data))
		}
	}
}
