package cmdutil

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/golang/geo/r1"
	"github.com/golang/geo/r2"
)

func TestAddCommonFlags(t *testing.T) {
	var config CommonConfig
	flagSet := flag.NewFlagSet("test", flag.ContinueOnError)
	AddCommonFlags(flagSet, &config)
	assert.NoError(t, flagSet.Parse(nil))
	assert.Equal(t, CommonConfig{
		GeoTIFF:   DefaultGeoTIFFPath,
		LogLevel:  "info",
		LogFormat: "text",
	}, config)
	assert.NoError(t, config.Validate())

	assert.NoError(t, flagSet.Parse([]string{"--geotiff", "dtm.tif", "--log-level", "debug", "--log-format", "json"}))
	assert.Equal(t, CommonConfig{
		GeoTIFF:   "dtm.tif",
		LogLevel:  "debug",
		LogFormat: "json",
	}, config)
	assert.NoError(t, config.Validate())
}

func TestCommonConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		config CommonConfig
	}{
		{name: "empty_geotiff", config: CommonConfig{LogLevel: "info", LogFormat: "text"}},
		{name: "log_level", config: CommonConfig{GeoTIFF: "dtm.tif", LogLevel: "trace", LogFormat: "text"}},
		{name: "log_format", config: CommonConfig{GeoTIFF: "dtm.tif", LogLevel: "info", LogFormat: "xml"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.config.Validate())
		})
	}
}

func TestNewLogger(t *testing.T) {
	sb := &strings.Builder{}
	logger := NewLogger("warn", "json", sb)
	logger.Info("hidden")
	logger.Warn("shown", BoundsAttrs(r2.Rect{
		X: r1.Interval{Lo: 1, Hi: 2},
		Y: r1.Interval{Lo: 3, Hi: 4},
	}))
	assert.NotContains(t, sb.String(), "hidden")
	assert.Contains(t, sb.String(), `"msg":"shown"`)
	assert.Contains(t, sb.String(), `"bounds":{"left":1,"bottom":3,"right":2,"top":4}`)

	sb.Reset()
	NewLogger("debug", "text", sb).Debug("detail")
	assert.Contains(t, sb.String(), "level=DEBUG msg=detail")
}

func TestErrorMessage(t *testing.T) {
	_, err := os.Open(filepath.Join(t.TempDir(), "missing.tif"))
	assert.Error(t, err)
	err = NotFound(err, "/nonexistent.tif")
	assert.Equal(t, "Error: the file was not found at /nonexistent.tif, please check the path and try again.", ErrorMessage(err))
	assert.Equal(t, "Error: the file was not found at /nonexistent.tif, please check the path and try again.", ErrorMessage(fmt.Errorf("wrapped: %w", err)))

	var missingFileError *MissingFileError
	assert.True(t, errors.As(err, &missingFileError))
	assert.IsError(t, err, fs.ErrNotExist)

	// Only errors marked by NotFound name a missing file.
	_, err = os.Open(filepath.Join(t.TempDir(), "missing.tif"))
	assert.True(t, strings.HasPrefix(ErrorMessage(err), "An error occurred: open "))

	otherErr := errors.New("unexpected EOF")
	assert.Equal(t, otherErr, NotFound(otherErr, "/nonexistent.tif"))
	assert.Equal(t, "An error occurred: unexpected EOF", ErrorMessage(otherErr))
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "points.csv")

	assert.NoError(t, WriteFile(path, func(w io.Writer) error {
		_, err := io.WriteString(w, "x,y\n")
		return err
	}))
	data, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, "x,y\n", string(data))

	errWrite := errors.New("write")
	assert.IsError(t, WriteFile(path, func(w io.Writer) error {
		_, _ = io.WriteString(w, "partial")
		return errWrite
	}), errWrite)
	data, err = os.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, "x,y\n", string(data))

	entries, err := os.ReadDir(dir)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(entries))

	missingDirPath := filepath.Join(dir, "missing", "points.csv")
	err = WriteFile(missingDirPath, func(w io.Writer) error {
		return nil
	})
	assert.IsError(t, err, fs.ErrNotExist)
	assert.True(t, strings.HasPrefix(ErrorMessage(err), "An error occurred: "+missingDirPath+": "), ErrorMessage(err))
	assert.NotContains(t, ErrorMessage(err), ".points.csv.")
}

func TestWriteMetrics(t *testing.T) {
	assert.NoError(t, WriteMetrics(""))

	path := filepath.Join(t.TempDir(), "metrics.prom")
	assert.NoError(t, WriteMetrics(path))
	data, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Contains(t, string(data), "go_goroutines")
}

func TestExitCode(t *testing.T) {
	flagSet := flag.NewFlagSet("test", flag.ContinueOnError)
	flagOutput := &strings.Builder{}
	flagSet.SetOutput(flagOutput)
	var config CommonConfig
	AddCommonFlags(flagSet, &config)

	for _, tc := range []struct {
		name           string
		err            error
		expectedCode   int
		expectedStderr string
	}{
		{
			name: "success",
		},
		{
			name: "help",
			err:  ParseFlags(flagSet, []string{"-h"}),
		},
		{
			name:         "usage",
			err:          ParseFlags(flagSet, []string{"--unknown"}),
			expectedCode: 2,
		},
		{
			name:           "missing_file",
			err:            NotFound(fs.ErrNotExist, "/nonexistent.tif"),
			expectedCode:   1,
			expectedStderr: "Error: the file was not found at /nonexistent.tif, please check the path and try again.\n",
		},
		{
			name:           "other",
			err:            errors.New("--num_points: -1: must not be negative"),
			expectedCode:   1,
			expectedStderr: "An error occurred: --num_points: -1: must not be negative\n",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			stderr := &strings.Builder{}
			assert.Equal(t, tc.expectedCode, ExitCode(tc.err, stderr))
			assert.Equal(t, tc.expectedStderr, stderr.String())
		})
	}
	assert.Contains(t, flagOutput.String(), "flag provided but not defined: -unknown")
}
