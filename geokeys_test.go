package dtm

import (
	"errors"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestParseGeoKeys(t *testing.T) {
	directory := []uint16{
		1, 1, 0, 7,
		1024, 0, 1, 1,
		1025, 0, 1, 1,
		1026, 34737, 22, 0,
		2048, 0, 1, 4258,
		2057, 34736, 1, 1,
		3072, 0, 1, 32767,
		3082, 34736, 1, 0,
	}
	doubleParams := []float64{
		4321000,
		6378137,
	}
	asciiParams := []byte("ETRS89 / LAEA Europe||")

	actual, err := ParseGeoKeys(directory, doubleParams, asciiParams)
	assert.NoError(t, err)
	assert.Equal(t, &ParsedGeoKeys{
		Params: map[GeoKey]int{
			GeoKeyGTModelType:  ModelTypeProjected,
			GeoKeyGTRasterType: RasterPixelIsArea,
			GeoKeyGeodeticCRS:  4258,
			GeoKeyProjectedCRS: 32767,
		},
		DoubleParams: map[GeoKey]float64{
			2057: 6378137,
			3082: 4321000,
		},
		ASCIIParams: map[GeoKey]string{
			1026: "ETRS89 / LAEA Europe||",
		},
	}, actual)
	assert.False(t, actual.PixelIsPoint())
	assert.Equal(t, 4258, actual.EPSG())
}

func TestParsedGeoKeys(t *testing.T) {
	for _, tc := range []struct {
		name                 string
		directory            []uint16
		expectedPixelIsPoint bool
		expectedEPSG         int
	}{
		{
			name: "lv95",
			directory: []uint16{
				1, 1, 0, 3,
				1024, 0, 1, 1,
				1025, 0, 1, 1,
				3072, 0, 1, 2056,
			},
			expectedEPSG: 2056,
		},
		{
			name: "pixel_is_point",
			directory: []uint16{
				1, 1, 1, 2,
				1025, 0, 1, 2,
				3072, 0, 1, 25832,
			},
			expectedPixelIsPoint: true,
			expectedEPSG:         25832,
		},
		{
			name: "geographic",
			directory: []uint16{
				1, 1, 0, 2,
				1024, 0, 1, 2,
				2048, 0, 1, 4326,
			},
			expectedEPSG: 4326,
		},
		{
			name: "geographic_ignores_projected",
			directory: []uint16{
				1, 1, 0, 3,
				1024, 0, 1, 2,
				2048, 0, 1, 4326,
				3072, 0, 1, 2056,
			},
			expectedEPSG: 4326,
		},
		{
			name: "user_defined",
			directory: []uint16{
				1, 1, 0, 2,
				2048, 0, 1, 32767,
				3072, 0, 1, 32767,
			},
		},
		{
			name: "empty",
			directory: []uint16{
				1, 1, 0, 0,
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := ParseGeoKeys(tc.directory, nil, nil)
			assert.NoError(t, err)
			assert.Equal(t, tc.expectedPixelIsPoint, actual.PixelIsPoint())
			assert.Equal(t, tc.expectedEPSG, actual.EPSG())
		})
	}
}

func TestParseGeoKeysErrors(t *testing.T) {
	for _, tc := range []struct {
		name            string
		directory       []uint16
		doubleParams    []float64
		asciiParams     []byte
		expectedErrorIs error
	}{
		{
			name:            "too_short",
			directory:       []uint16{1, 1, 0},
			expectedErrorIs: errParse,
		},
		{
			name:            "version",
			directory:       []uint16{2, 1, 0, 0},
			expectedErrorIs: errParse,
		},
		{
			name:            "key_count",
			directory:       []uint16{1, 1, 0, 2, 1024, 0, 1, 1},
			expectedErrorIs: errParse,
		},
		{
			name:            "double_index",
			directory:       []uint16{1, 1, 0, 1, 2057, 34736, 1, 3},
			doubleParams:    []float64{1},
			expectedErrorIs: errParse,
		},
		{
			name:            "ascii_range",
			directory:       []uint16{1, 1, 0, 1, 1026, 34737, 10, 0},
			asciiParams:     []byte("short|"),
			expectedErrorIs: errParse,
		},
		{
			name:            "tag_location",
			directory:       []uint16{1, 1, 0, 1, 1024, 33550, 1, 0},
			expectedErrorIs: errors.ErrUnsupported,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseGeoKeys(tc.directory, tc.doubleParams, tc.asciiParams)
			assert.IsError(t, err, tc.expectedErrorIs)
		})
	}
}
