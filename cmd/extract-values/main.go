// extract-values samples a GeoTIFF at the points of a table and writes the
// table with the sampled values appended.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/twpayne/go-dtm"
	"github.com/twpayne/go-dtm/internal/cmdutil"
)

type config struct {
	cmdutil.CommonConfig
	Coords        string
	Output        string
	Column        string
	Interpolation string
}

func parseConfig(args []string, output io.Writer) (*config, error) {
	cfg := &config{}
	flagSet := flag.NewFlagSet("extract-values", flag.ContinueOnError)
	flagSet.SetOutput(output)
	cmdutil.AddCommonFlags(flagSet, &cfg.CommonConfig)
	flagSet.StringVar(&cfg.Coords, "coords", cmdutil.DefaultCoordsPath, "path to the input CSV file with x, y coordinates")
	flagSet.StringVar(&cfg.Output, "output", "output_with_altitudes.csv", "path for the output CSV file with altitudes")
	flagSet.StringVar(&cfg.Column, "column", "altitude", "name of the sampled value column")
	flagSet.StringVar(&cfg.Interpolation, "interpolation", "nearest", "interpolation (nearest, bilinear)")
	if err := cmdutil.ParseFlags(flagSet, args); err != nil {
		return nil, err
	}

	if flagSet.NArg() != 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(flagSet.Args(), " "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Interpolation {
	case "nearest", "bilinear":
	default:
		return nil, fmt.Errorf("--interpolation: unknown interpolation %q", cfg.Interpolation)
	}
	switch {
	case cfg.Coords == "":
		return nil, errors.New("--coords must not be empty")
	case cfg.Output == "":
		return nil, errors.New("--output must not be empty")
	case cfg.Column == "":
		return nil, errors.New("--column must not be empty")
	}
	return cfg, nil
}

func readTable(path string) (*dtm.Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, cmdutil.NotFound(err, path)
	}
	defer file.Close()
	table, err := dtm.ReadTable(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

func extractValues(ctx context.Context, cfg *config, logger *slog.Logger, stdout io.Writer) error {
	logger.InfoContext(ctx, "loading coordinates", slog.String("coords", cfg.Coords))
	table, err := readTable(cfg.Coords)
	if err != nil {
		return err
	}
	points, err := table.Points()
	if err != nil {
		return fmt.Errorf("%s: %w", cfg.Coords, err)
	}
	logger.InfoContext(ctx, "loaded coordinates",
		slog.String("coords", cfg.Coords),
		slog.Int("count", table.Len()),
	)

	logger.InfoContext(ctx, "loading geotiff", slog.String("geotiff", cfg.GeoTIFF))
	raster, err := dtm.Open(cfg.GeoTIFF)
	if err != nil {
		return cmdutil.NotFound(err, cfg.GeoTIFF)
	}
	defer raster.Close()

	logger.InfoContext(ctx, "opened geotiff",
		slog.Int("width", raster.Width()),
		slog.Int("height", raster.Height()),
		cmdutil.BoundsAttrs(raster.Bounds()),
		slog.Float64("nodata", raster.NoData()),
	)
	logger.InfoContext(ctx, "querying points",
		slog.Int("count", len(points)),
		slog.String("geotiff", cfg.GeoTIFF),
		slog.String("interpolation", cfg.Interpolation),
	)

	var values []float64
	switch cfg.Interpolation {
	case "bilinear":
		values, err = dtm.InterpolateBilinear(ctx, raster, points)
	default:
		values, err = raster.Samples(ctx, points)
	}
	if err != nil {
		return err
	}

	if err := table.SetColumn(cfg.Column, values); err != nil {
		return err
	}
	if err := cmdutil.WriteFile(cfg.Output, table.Write); err != nil {
		return err
	}

	_, err = fmt.Fprintf(stdout, "Success! Results saved to %s\n", cfg.Output)
	return err
}

func run(args []string, stdout, stderr io.Writer) (err error) {
	cfg, err := parseConfig(args, stderr)
	if err != nil {
		return err
	}
	defer func() {
		if metricsErr := cmdutil.WriteMetrics(cfg.MetricsTextfile); err == nil {
			err = metricsErr
		}
	}()

	logger := cmdutil.NewLogger(cfg.LogLevel, cfg.LogFormat, stderr)
	return extractValues(context.Background(), cfg, logger, stdout)
}

func main() {
	os.Exit(cmdutil.ExitCode(run(os.Args[1:], os.Stdout, os.Stderr), os.Stderr))
}
