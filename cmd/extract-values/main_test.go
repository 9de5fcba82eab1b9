package main

import (
	"bytes"
	"errors"
	"flag"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-dtm/internal/cmdutil"
	"github.com/twpayne/go-dtm/internal/geotifftest"
)

// writeTestGeoTIFF writes a 10x10 GeoTIFF covering x in [2600000, 2600010]
// and y in [1200000, 1200010] whose cell containing (2600005, 1200005) has
// the value 42.
func writeTestGeoTIFF(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "dtm.tif")
	samples := make([]float64, 100)
	for i := range samples {
		samples[i] = float64(400 + i)
	}
	samples[5*10+5] = 42
	geotifftest.WriteFile(t, path, &geotifftest.Options{
		Width:       10,
		Height:      10,
		Samples:     samples,
		Compression: 8,
		Predictor:   3,
		OriginX:     2600000,
		OriginY:     1200010,
		EPSG:        2056,
		NoData:      "-32768",
	})
	return path
}

func writeFile(t *testing.T, path, data string) string {
	t.Helper()
	assert.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig(nil, io.Discard)
	assert.NoError(t, err)
	assert.Equal(t, cmdutil.DefaultGeoTIFFPath, cfg.GeoTIFF)
	assert.Equal(t, "points.csv", cfg.Coords)
	assert.Equal(t, "output_with_altitudes.csv", cfg.Output)
	assert.Equal(t, "altitude", cfg.Column)
	assert.Equal(t, "nearest", cfg.Interpolation)

	for _, args := range [][]string{
		{"--output", ""},
		{"--coords", ""},
		{"--column", ""},
		{"--interpolation", "cubic"},
		{"--log-format", "yaml"},
		{"extra"},
	} {
		_, err := parseConfig(args, io.Discard)
		assert.Error(t, err)
	}

	_, err = parseConfig([]string{"--unknown"}, io.Discard)
	assert.IsError(t, err, cmdutil.ErrUsage)

	_, err = parseConfig([]string{"-h"}, io.Discard)
	assert.IsError(t, err, flag.ErrHelp)
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	geoTIFFPath := writeTestGeoTIFF(t, dir)
	coordsPath := writeFile(t, filepath.Join(dir, "points.csv"), ""+
		"x,y,id\n"+
		"2600005,1200005,a\n"+
		"1e6,1e6,b\n"+
		"2600000,1200010,c\n"+
		"2600010,1200000,d\n",
	)
	outputPath := filepath.Join(dir, "output.csv")
	args := []string{
		"--geotiff", geoTIFFPath,
		"--coords", coordsPath,
		"--output", outputPath,
	}
	expected := "" +
		"x,y,id,altitude\n" +
		"2600005,1200005,a,42.0\n" +
		"1e6,1e6,b,-32768.0\n" +
		"2600000,1200010,c,400.0\n" +
		"2600010,1200000,d,499.0\n"

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	assert.NoError(t, run(args, stdout, stderr))
	assert.Equal(t, "Success! Results saved to "+outputPath+"\n", stdout.String())
	assert.Contains(t, stderr.String(), "msg=\"querying points\" count=4")
	actual, err := os.ReadFile(outputPath)
	assert.NoError(t, err)
	assert.Equal(t, expected, string(actual))

	// Running again overwrites the output with the same contents.
	assert.NoError(t, run(args, io.Discard, io.Discard))
	actual, err = os.ReadFile(outputPath)
	assert.NoError(t, err)
	assert.Equal(t, expected, string(actual))

	// The output can be used as input, replacing the sampled column.
	assert.NoError(t, run([]string{
		"--geotiff", geoTIFFPath,
		"--coords", outputPath,
		"--output", outputPath,
	}, io.Discard, io.Discard))
	actual, err = os.ReadFile(outputPath)
	assert.NoError(t, err)
	assert.Equal(t, expected, string(actual))
}

func TestRun_Bilinear(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "output.csv")
	assert.NoError(t, run([]string{
		"--geotiff", writeTestGeoTIFF(t, dir),
		"--coords", writeFile(t, filepath.Join(dir, "points.csv"), "x,y\n2600005.5,1200004.5\n2600000.5,1200009\n"),
		"--output", outputPath,
		"--interpolation", "bilinear",
		"--column", "z",
	}, io.Discard, io.Discard))
	actual, err := os.ReadFile(outputPath)
	assert.NoError(t, err)
	assert.Equal(t, "x,y,z\n2600005.5,1200004.5,42.0\n2600000.5,1200009,405.0\n", string(actual))
}

func TestRun_NotFound(t *testing.T) {
	dir := t.TempDir()
	geoTIFFPath := writeTestGeoTIFF(t, dir)
	coordsPath := writeFile(t, filepath.Join(dir, "points.csv"), "x,y\n2600005,1200005\n")
	outputPath := filepath.Join(dir, "output.csv")

	for _, tc := range []struct {
		name         string
		geoTIFFPath  string
		coordsPath   string
		expectedPath string
	}{
		{
			name:         "geotiff",
			geoTIFFPath:  "/nonexistent.tif",
			coordsPath:   coordsPath,
			expectedPath: "/nonexistent.tif",
		},
		{
			name:         "coords",
			geoTIFFPath:  geoTIFFPath,
			coordsPath:   filepath.Join(dir, "missing.csv"),
			expectedPath: filepath.Join(dir, "missing.csv"),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := run([]string{
				"--geotiff", tc.geoTIFFPath,
				"--coords", tc.coordsPath,
				"--output", outputPath,
			}, io.Discard, io.Discard)
			assert.IsError(t, err, fs.ErrNotExist)
			assert.Equal(t, "Error: the file was not found at "+tc.expectedPath+", please check the path and try again.", cmdutil.ErrorMessage(err))

			_, err = os.Stat(outputPath)
			assert.True(t, errors.Is(err, fs.ErrNotExist))
		})
	}
}

func TestRun_MissingOutputDirectory(t *testing.T) {
	dir := t.TempDir()
	outputPath := filepath.Join(dir, "nodir", "output.csv")
	err := run([]string{
		"--geotiff", writeTestGeoTIFF(t, dir),
		"--coords", writeFile(t, filepath.Join(dir, "points.csv"), "x,y\n2600005,1200005\n"),
		"--output", outputPath,
	}, io.Discard, io.Discard)
	assert.Error(t, err)
	message := cmdutil.ErrorMessage(err)
	assert.True(t, strings.HasPrefix(message, "An error occurred: "+outputPath+": "), message)
}

func TestRun_InvalidCoords(t *testing.T) {
	dir := t.TempDir()
	geoTIFFPath := writeTestGeoTIFF(t, dir)
	outputPath := filepath.Join(dir, "output.csv")
	for _, tc := range []struct {
		name            string
		data            string
		expectedMessage string
	}{
		{
			name:            "missing_column",
			data:            "lon,lat\n1,2\n",
			expectedMessage: "line 1: column x: missing column",
		},
		{
			name:            "malformed_number",
			data:            "x,y\n1,2\n1,two\n",
			expectedMessage: "line 3: column y: strconv.ParseFloat: parsing \"two\": invalid syntax",
		},
		{
			name:            "empty",
			data:            "",
			expectedMessage: "line 1: empty table",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			coordsPath := writeFile(t, filepath.Join(dir, tc.name+".csv"), tc.data)
			err := run([]string{
				"--geotiff", geoTIFFPath,
				"--coords", coordsPath,
				"--output", outputPath,
			}, io.Discard, io.Discard)
			assert.Error(t, err)
			message := cmdutil.ErrorMessage(err)
			assert.True(t, strings.HasPrefix(message, "An error occurred: "), message)
			assert.True(t, strings.HasSuffix(message, tc.expectedMessage), message)

			_, err = os.Stat(outputPath)
			assert.True(t, errors.Is(err, fs.ErrNotExist))
		})
	}
}
