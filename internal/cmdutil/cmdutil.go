// Package cmdutil holds the flags, logging, and output plumbing shared by the
// commands.
package cmdutil

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultGeoTIFFPath is the raster sampled when no --geotiff flag is given.
const DefaultGeoTIFFPath = "/geodata/altimetrie/mnt/DTM_50cm_FULL_clipped.tif"

// DefaultCoordsPath is the default point table.
const DefaultCoordsPath = "points.csv"

// CommonConfig holds the configuration shared by all commands.
type CommonConfig struct {
	GeoTIFF         string
	LogLevel        string
	LogFormat       string
	MetricsTextfile string
}

// ErrUsage marks flag parse errors, which the flag set has already reported
// together with its usage.
var ErrUsage = errors.New("usage")

// AddCommonFlags registers the shared flags on flagSet.
func AddCommonFlags(flagSet *flag.FlagSet, config *CommonConfig) {
	flagSet.StringVar(&config.GeoTIFF, "geotiff", DefaultGeoTIFFPath, "path to the input GeoTIFF file, or a glob pattern of GeoTIFF files")
	flagSet.StringVar(&config.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flagSet.StringVar(&config.LogFormat, "log-format", "text", "log format (text, json)")
	flagSet.StringVar(&config.MetricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file on exit")
}

// ParseFlags parses args with flagSet. Parse errors other than flag.ErrHelp
// wrap ErrUsage.
func ParseFlags(flagSet *flag.FlagSet, args []string) error {
	switch err := flagSet.Parse(args); {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}
}

// Validate checks config.
func (config *CommonConfig) Validate() error {
	if config.GeoTIFF == "" {
		return errors.New("--geotiff must not be empty")
	}
	switch config.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("--log-level: unknown level %q", config.LogLevel)
	}
	switch config.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("--log-format: unknown format %q", config.LogFormat)
	}
	return nil
}

// NewLogger returns a new slog.Logger writing to w. It does not set the
// global logger.
func NewLogger(levelStr, formatStr string, w io.Writer) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if formatStr == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// WriteMetrics writes the default Prometheus registry to path, if set.
func WriteMetrics(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// BoundsAttrs returns bounds as log attributes.
func BoundsAttrs(bounds r2.Rect) slog.Attr {
	return slog.Group("bounds",
		slog.Float64("left", bounds.X.Lo),
		slog.Float64("bottom", bounds.Y.Lo),
		slog.Float64("right", bounds.X.Hi),
		slog.Float64("top", bounds.Y.Hi),
	)
}

// A MissingFileError is an input file that does not exist.
type MissingFileError struct {
	Path string
	Err  error
}

func (e *MissingFileError) Error() string {
	return e.Path + ": " + e.Err.Error()
}

func (e *MissingFileError) Unwrap() error {
	return e.Err
}

// NotFound returns err as a *MissingFileError naming path, the path the
// operator gave, if err is a missing file error. Other errors are returned
// unchanged.
func NotFound(err error, path string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return &MissingFileError{Path: path, Err: err}
	}
	return err
}

// ErrorMessage returns the message reported to the operator for err.
func ErrorMessage(err error) string {
	var missingFileError *MissingFileError
	if errors.As(err, &missingFileError) {
		return fmt.Sprintf("Error: the file was not found at %s, please check the path and try again.", missingFileError.Path)
	}
	return "An error occurred: " + strings.TrimSpace(err.Error())
}

// ExitCode writes the message for err to stderr, unless the flag set has
// already reported it, and returns the process exit status for err.
func ExitCode(err error, stderr io.Writer) int {
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, ErrUsage):
		return 2
	default:
		fmt.Fprintln(stderr, ErrorMessage(err))
		return 1
	}
}
