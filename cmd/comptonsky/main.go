package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"comptonsky/pkg/config"
	"comptonsky/pkg/dataspace"
	"comptonsky/pkg/events"
	"comptonsky/pkg/reconstruction"
	"comptonsky/pkg/response"
	"comptonsky/pkg/rotation"
	"comptonsky/pkg/visualization"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "comptonsky: %v\n", err)
		os.Exit(1)
	}
}

// run parses args, loads the configuration and executes the full imaging
// pipeline. Progress is logged to stdout.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("comptonsky", flag.ContinueOnError)
	configPath := fs.String("config", "comptonsky.yaml", "YAML configuration file")
	initConfig := fs.Bool("init", false, "Write a default configuration file to -config and exit")
	algorithm := fs.String("algorithm", "", "Reconstruction algorithm (maxent or mlem), overrides the configuration")
	iterations := fs.Int("iterations", -1, "Number of iterations, overrides the configuration")
	snapshots := fs.String("snapshots", "", "Directory for per-iteration PNG snapshots, overrides the configuration")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Default configuration written to %s\n", *configPath)
		return nil
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *algorithm != "" {
		cfg.Reconstruction.Algorithm = *algorithm
	}
	if *iterations >= 0 {
		cfg.Reconstruction.Iterations = *iterations
	}
	if *snapshots != "" {
		cfg.Output.SnapshotDir = *snapshots
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(stdout, &slog.HandlerOptions{Level: level}))

	fmt.Fprintln(stdout, "================================")
	fmt.Fprintln(stdout, "COMPTON TELESCOPE ALL-SKY IMAGE RECONSTRUCTION")
	fmt.Fprintln(stdout, "================================")

	startTime := time.Now()

	logger.Info("loading response", "file", cfg.Input.Response)
	resp, err := response.ReadFile(cfg.Input.Response)
	if err != nil {
		return err
	}

	layout, err := newLayout(cfg, resp)
	if err != nil {
		return err
	}

	logger.Info("building data space", "file", cfg.Input.Events)
	built, err := buildDataSpace(ctx, cfg, layout, logger)
	if errors.Is(err, context.Canceled) {
		logger.Warn("stop requested while building the data space")
		fmt.Fprintln(stdout, "\nReconstruction stopped before the data space was built")
		return nil
	}
	if err != nil {
		return err
	}

	alg, err := reconstruction.ParseAlgorithm(cfg.Reconstruction.Algorithm)
	if err != nil {
		return err
	}
	var sink response.SliceSink
	if cfg.Output.SnapshotDir != "" {
		sink = visualization.NewRenderer(cfg.Output.SnapshotDir, cfg.Output.SkyWidth, logger)
	}

	reconstructor := reconstruction.NewReconstructor(reconstruction.Params{
		Algorithm:  alg,
		Iterations: cfg.Reconstruction.Iterations,
		Workers:    cfg.Reconstruction.Workers,
		Sink:       sink,
		Logger:     logger,
	})
	res, runErr := reconstructor.Run(ctx, reconstruction.Input{
		Response:        resp,
		Data:            built.Data,
		Pointing:        built.Pointing,
		ObservationTime: built.ObservationTime,
	})

	if res != nil && res.Image != nil {
		if err := response.WriteFile(res.Image, cfg.Output.Image); err != nil {
			return errors.Join(runErr, err)
		}
		logger.Info("image written", "file", cfg.Output.Image)
	}
	if runErr != nil {
		return runErr
	}

	fmt.Fprintf(stdout, "\nReconstruction %s after %d iterations in %.2f seconds\n",
		res.State, len(res.Iterations), time.Since(startTime).Seconds())
	fmt.Fprintf(stdout, "Events used: %d of %d, observation time %.1f s\n",
		built.Stats.Used, built.Stats.Read, built.ObservationTime)
	for _, st := range res.Iterations {
		fmt.Fprintf(stdout, "  iteration %3d  flux %.6g  image sum %.6g", st.Iteration, st.Flux, st.ImageSum)
		if alg == reconstruction.MaxEnt {
			fmt.Fprintf(stdout, "  entropy %.6g", st.Entropy)
		}
		fmt.Fprintln(stdout)
	}
	if res.MaxEntropyIteration > 0 {
		fmt.Fprintf(stdout, "Maximum entropy at iteration %d\n", res.MaxEntropyIteration)
	}
	return nil
}

// newLayout builds the data-space binning. Unconfigured axes are taken from
// the measured axes of the response so that both always agree.
func newLayout(cfg *config.Config, resp *response.Matrix) (dataspace.Layout, error) {
	var layout dataspace.Layout
	if resp.NumAxes() != 5 {
		return layout, fmt.Errorf("response %q has %d axes, want 5", resp.Name, resp.NumAxes())
	}

	var err error
	layout.Energy = resp.Axis(rotation.AxisEnergyOut)
	if edges := cfg.DataSpace.EnergyEdges; len(edges) > 0 {
		if layout.Energy, err = response.NewLinearAxis("Energy", edges); err != nil {
			return layout, err
		}
	}
	layout.Phi = resp.Axis(rotation.AxisPhi)
	if edges := cfg.DataSpace.PhiEdges; len(edges) > 0 {
		if layout.Phi, err = response.NewLinearAxis("Phi", edges); err != nil {
			return layout, err
		}
	}

	if n := cfg.DataSpace.DirectionBins; n > 0 {
		if layout.Direction, err = response.NewSphericalAxis("Direction", n); err != nil {
			return layout, err
		}
	} else {
		sky, ok := resp.Axis(rotation.AxisDirectionOut).(*response.SphericalAxis)
		if !ok {
			return layout, fmt.Errorf("response scattered-direction axis is not spherical")
		}
		layout.Direction = sky
	}

	layout.Pointing, err = response.NewSphericalAxis("Pointing", cfg.DataSpace.PointingBins)
	return layout, err
}

func buildDataSpace(ctx context.Context, cfg *config.Config, layout dataspace.Layout, logger *slog.Logger) (*dataspace.Result, error) {
	f, err := os.Open(cfg.Input.Events)
	if err != nil {
		return nil, fmt.Errorf("open events: %w", err)
	}
	defer f.Close()

	selector := events.WindowSelector{
		MinEnergy: cfg.Selection.MinEnergy,
		MaxEnergy: cfg.Selection.MaxEnergy,
	}
	if len(cfg.Selection.ExcludedEvents) > 0 {
		selector.Excluded = make(map[uint64]struct{}, len(cfg.Selection.ExcludedEvents))
		for _, id := range cfg.Selection.ExcludedEvents {
			selector.Excluded[id] = struct{}{}
		}
	}

	b := dataspace.NewBuilder(layout, selector, logger)
	b.SetScatterWindow(cfg.Selection.MinPhi, cfg.Selection.MaxPhi)
	return b.Build(ctx, events.NewReader(bufio.NewReader(f)))
}
