// generate-points writes random points within the extent of a GeoTIFF.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/twpayne/go-dtm"
	"github.com/twpayne/go-dtm/internal/cmdutil"
)

type config struct {
	cmdutil.CommonConfig
	Coords    string
	NumPoints int
	Seed      uint64
}

func parseConfig(args []string, output io.Writer) (*config, error) {
	cfg := &config{}
	flagSet := flag.NewFlagSet("generate-points", flag.ContinueOnError)
	flagSet.SetOutput(output)
	cmdutil.AddCommonFlags(flagSet, &cfg.CommonConfig)
	flagSet.IntVar(&cfg.NumPoints, "num_points", 100000, "number of points")
	flagSet.StringVar(&cfg.Coords, "coords", cmdutil.DefaultCoordsPath, "path to the output CSV file with x, y coordinates")
	flagSet.Uint64Var(&cfg.Seed, "seed", 0, "random seed, 0 for a random seed")
	if err := cmdutil.ParseFlags(flagSet, args); err != nil {
		return nil, err
	}

	if flagSet.NArg() != 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(flagSet.Args(), " "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.NumPoints < 0 {
		return nil, fmt.Errorf("--num_points: %d: must not be negative", cfg.NumPoints)
	}
	if cfg.Coords == "" {
		return nil, errors.New("--coords must not be empty")
	}
	return cfg, nil
}

func generatePoints(ctx context.Context, cfg *config, logger *slog.Logger, stdout io.Writer) error {
	logger.InfoContext(ctx, "generating random points",
		slog.Int("count", cfg.NumPoints),
		slog.String("geotiff", cfg.GeoTIFF),
	)

	raster, err := dtm.Open(cfg.GeoTIFF)
	if err != nil {
		return cmdutil.NotFound(err, cfg.GeoTIFF)
	}
	defer raster.Close()

	logger.InfoContext(ctx, "opened geotiff",
		slog.Int("width", raster.Width()),
		slog.Int("height", raster.Height()),
		cmdutil.BoundsAttrs(raster.Bounds()),
		slog.Int("crs", raster.CRS()),
	)

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	logger.DebugContext(ctx, "seeded random source", slog.Uint64("seed", seed))
	r := rand.New(rand.NewPCG(seed, seed))

	points := dtm.GeneratePoints(r, raster.Bounds(), cfg.NumPoints)
	if err := cmdutil.WriteFile(cfg.Coords, func(w io.Writer) error {
		return dtm.WritePoints(w, points)
	}); err != nil {
		return err
	}

	logger.InfoContext(ctx, "generated points",
		slog.Int("count", len(points)),
		slog.String("coords", cfg.Coords),
	)

	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, point := range points {
		xs[i], ys[i] = point.X, point.Y
	}
	return dtm.WriteDescription(stdout, []string{dtm.ColumnX, dtm.ColumnY}, [][]float64{xs, ys})
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
	return generatePoints(context.Background(), cfg, logger, stdout)
}

func main() {
	os.Exit(cmdutil.ExitCode(run(os.Args[1:], os.Stdout, os.Stderr), os.Stderr))
}
