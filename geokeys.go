package dtm

import (
	"errors"
	"fmt"
)

var errParse = errors.New("parse error")

type GeoKey uint16

const (
	GeoKeyGTModelType  GeoKey = 1024
	GeoKeyGTRasterType GeoKey = 1025
	GeoKeyGeodeticCRS  GeoKey = 2048
	GeoKeyProjectedCRS GeoKey = 3072
)

// Values of GeoKeyGTModelType.
const (
	ModelTypeProjected  = 1
	ModelTypeGeographic = 2
)

// Values of GeoKeyGTRasterType.
const (
	RasterPixelIsArea  = 1
	RasterPixelIsPoint = 2
)

// userDefined marks a GeoKey value that is not an EPSG code.
const userDefined = 32767

type ParsedGeoKeys struct {
	Params       map[GeoKey]int
	DoubleParams map[GeoKey]float64
	ASCIIParams  map[GeoKey]string
}

// ParseGeoKeys parses a GeoKeyDirectoryTag and its associated
// GeoDoubleParamsTag and GeoASCIIParamsTag.
func ParseGeoKeys(directory []uint16, doubleParams []float64, asciiParams []byte) (*ParsedGeoKeys, error) {
	if len(directory) < 4 {
		return nil, fmt.Errorf("geokeys: directory too short: %w", errParse)
	}

	if keyDirectoryVersion := int(directory[0]); keyDirectoryVersion != 1 {
		return nil, fmt.Errorf("geokeys: directory version %d: %w", keyDirectoryVersion, errParse)
	}
	if keyRevision := int(directory[1]); keyRevision != 1 {
		return nil, fmt.Errorf("geokeys: key revision %d: %w", keyRevision, errParse)
	}
	if minorRevision := int(directory[2]); minorRevision != 0 && minorRevision != 1 {
		return nil, fmt.Errorf("geokeys: minor revision %d: %w", minorRevision, errParse)
	}
	numberOfKeys := int(directory[3])
	if len(directory) != 4+4*numberOfKeys {
		return nil, fmt.Errorf("geokeys: expected %d keys: %w", numberOfKeys, errParse)
	}

	parsedGeoKeys := &ParsedGeoKeys{
		Params:       make(map[GeoKey]int),
		DoubleParams: make(map[GeoKey]float64),
		ASCIIParams:  make(map[GeoKey]string),
	}
	for i := range numberOfKeys {
		keyValues := directory[4+4*i : 4+4*(i+1)]
		key := GeoKey(keyValues[0])
		tiffTagLocation := int(keyValues[1])
		numberOfValues := int(keyValues[2])
		switch tiffTagLocation {
		case 0:
			if numberOfValues != 1 {
				return nil, fmt.Errorf("geokeys: key %d: %w", key, errParse)
			}
			parsedGeoKeys.Params[key] = int(keyValues[3])
		case 34736: // GeoDoubleParamsTag
			index := int(keyValues[3])
			if numberOfValues != 1 {
				return nil, fmt.Errorf("geokeys: key %d: %d double values: %w", key, numberOfValues, errors.ErrUnsupported)
			}
			if index >= len(doubleParams) {
				return nil, fmt.Errorf("geokeys: key %d: double index %d out of range: %w", key, index, errParse)
			}
			parsedGeoKeys.DoubleParams[key] = doubleParams[index]
		case 34737: // GeoASCIIParamsTag
			index := int(keyValues[3])
			if index+numberOfValues > len(asciiParams) {
				return nil, fmt.Errorf("geokeys: key %d: ASCII range out of range: %w", key, errParse)
			}
			parsedGeoKeys.ASCIIParams[key] = string(asciiParams[index : index+numberOfValues])
		default:
			return nil, fmt.Errorf("geokeys: key %d: tag location %d: %w", key, tiffTagLocation, errors.ErrUnsupported)
		}
	}
	return parsedGeoKeys, nil
}

// PixelIsPoint returns whether the raster type is RasterPixelIsPoint.
func (k *ParsedGeoKeys) PixelIsPoint() bool {
	return k.Params[GeoKeyGTRasterType] == RasterPixelIsPoint
}

// EPSG returns the EPSG code of the CRS, or zero if it is unknown or user
// defined. Geographic models use the geodetic CRS, others the projected CRS
// with the geodetic CRS as a fallback.
func (k *ParsedGeoKeys) EPSG() int {
	keys := []GeoKey{GeoKeyProjectedCRS, GeoKeyGeodeticCRS}
	if k.Params[GeoKeyGTModelType] == ModelTypeGeographic {
		keys = []GeoKey{GeoKeyGeodeticCRS}
	}
	for _, key := range keys {
		if code, ok := k.Params[key]; ok && code != 0 && code != userDefined {
			return code
		}
	}
	return 0
}
