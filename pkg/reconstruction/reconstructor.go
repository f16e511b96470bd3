// Package reconstruction turns a measured data space and a detector response
// into a sky image.
//
// A run goes through four steps:
//  1. Normalizing the pointing histogram
//  2. Rotating the detector response into galactic coordinates
//  3. Backprojecting the response into a seed image
//  4. Iterating MLEM or MaxEnt on the seed image
//
// The galactic response is treated as an nData × nImage matrix R: the image
// index (incoming energy, incoming direction) is the fastest-varying part of
// its linear index, so the response buffer is used in place as a row-major
// gonum matrix.
package reconstruction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"comptonsky/pkg/dataspace"
	"comptonsky/pkg/response"
	"comptonsky/pkg/rotation"
)

const tracerName = "comptonsky/pkg/reconstruction"

// Algorithm selects the iterative image reconstruction method.
type Algorithm string

const (
	// MaxEnt is the Maximum-Entropy method, the default.
	MaxEnt Algorithm = "maxent"

	// MLEM is Maximum-Likelihood Expectation-Maximization.
	MLEM Algorithm = "mlem"
)

// ParseAlgorithm maps a name to an Algorithm. The empty string selects MaxEnt.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(name) {
	case "", MaxEnt:
		return MaxEnt, nil
	case MLEM:
		return MLEM, nil
	}
	return "", fmt.Errorf("%q: %w", name, ErrUnknownAlgorithm)
}

// State is the lifecycle state of a reconstruction.
type State int

const (
	StateUninitialized State = iota
	StateNormalized
	StateRotated
	StateBackProjected
	StateIterating
	StateConverged
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateNormalized:
		return "normalized"
	case StateRotated:
		return "rotated"
	case StateBackProjected:
		return "backprojected"
	case StateIterating:
		return "iterating"
	case StateConverged:
		return "converged"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Params holds the reconstruction parameters.
type Params struct {
	// Algorithm selects MLEM or MaxEnt. Empty means MaxEnt.
	Algorithm Algorithm

	// Iterations is the number of iterations to run after backprojection.
	Iterations int

	// Workers is the number of goroutines used to rotate the response.
	// Zero or negative uses GOMAXPROCS.
	Workers int

	// Sink receives an image snapshot after backprojection and after every
	// iteration. Nil disables snapshots.
	Sink response.SliceSink

	// Logger receives progress messages. Nil uses slog.Default().
	Logger *slog.Logger
}

// Input holds the matrices a reconstruction consumes. None of them is
// modified by Run.
type Input struct {
	// Response is the detector-frame response with axes
	// (energy in, direction in, energy out, phi, direction out).
	Response *response.Matrix

	// Data is the measured (energy, phi, direction) histogram.
	Data *response.Matrix

	// Pointing is the (x axis, z axis) occupancy histogram. It need not be
	// normalized.
	Pointing *response.Matrix

	// ObservationTime in seconds, used for the flux estimate.
	ObservationTime float64
}

// IterationStats describes one completed iteration.
type IterationStats struct {
	Iteration int
	// Flux is the image content per unit time, area and bin solid angle.
	Flux     float64
	ImageSum float64
	// Entropy is Σ x·ln(x) of the restored image; MaxEnt only.
	Entropy float64
}

// Result is the outcome of a run. Image holds the last valid image, which
// is the backprojection when no iteration completed.
type Result struct {
	RunID               string
	State               State
	Galactic            *response.Matrix
	Image               *response.Matrix
	Iterations          []IterationStats
	MaxEntropyIteration int
	Err                 error
}

// Reconstructor runs the reconstruction state machine. A Reconstructor runs
// one reconstruction at a time; State may be polled concurrently.
type Reconstructor struct {
	params Params
	logger *slog.Logger
	tracer trace.Tracer

	mu      sync.Mutex
	state   State
	history []State
}

// NewReconstructor creates a reconstructor with the provided parameters.
func NewReconstructor(params Params) *Reconstructor {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if params.Algorithm == "" {
		params.Algorithm = MaxEnt
	}
	return &Reconstructor{
		params: params,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		state:  StateUninitialized,
	}
}

// State returns the current state.
func (r *Reconstructor) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// History returns every state entered during the last run, in order.
func (r *Reconstructor) History() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.history...)
}

func (r *Reconstructor) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.history = append(r.history, s)
	r.mu.Unlock()
}

// Run executes the full pipeline. Cancellation of ctx is honored between
// steps, between pointings during rotation and between iterations; it ends
// the run in StateStopped with a nil error. Any other failure ends it in
// StateFailed and is returned as well as recorded in Result.Err.
func (r *Reconstructor) Run(ctx context.Context, in Input) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), MaxEntropyIteration: -1}
	log := r.logger.With("run_id", res.RunID, "algorithm", string(r.params.Algorithm))

	r.mu.Lock()
	r.state = StateUninitialized
	r.history = []State{StateUninitialized}
	r.mu.Unlock()

	ctx, span := r.tracer.Start(ctx, "reconstruction.Run", trace.WithAttributes(
		attribute.String("run_id", res.RunID),
		attribute.String("algorithm", string(r.params.Algorithm)),
		attribute.Int("iterations", r.params.Iterations),
	))
	defer span.End()

	finish := func(s State, err error) (*Result, error) {
		r.setState(s)
		res.State = s
		res.Err = err
		span.SetAttributes(attribute.String("state", s.String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error("reconstruction failed", "error", err, "iterations", len(res.Iterations))
			return res, err
		}
		log.Info("reconstruction finished", "state", s.String(), "iterations", len(res.Iterations))
		return res, nil
	}
	interrupted := func(err error) bool {
		return ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
	}

	if err := r.validate(in); err != nil {
		return finish(StateFailed, err)
	}
	if interrupted(nil) {
		return finish(StateStopped, nil)
	}

	// Step 1: Normalize pointing
	log.Info("Step 1: Normalizing pointing histogram...")
	pointing := in.Pointing.Clone()
	if err := r.phase(ctx, "normalize", func(context.Context) error {
		return dataspace.NormalizePointing(pointing)
	}); err != nil {
		return finish(StateFailed, err)
	}
	r.setState(StateNormalized)
	if interrupted(nil) {
		return finish(StateStopped, nil)
	}

	// Step 2: Rotate the response into galactic coordinates
	log.Info("Step 2: Rotating response...")
	err := r.phase(ctx, "rotate", func(ctx context.Context) error {
		var err error
		res.Galactic, err = rotation.NewRotator(r.params.Workers, log).Rotate(ctx, in.Response, pointing)
		return err
	})
	if interrupted(err) {
		return finish(StateStopped, nil)
	}
	if err != nil {
		return finish(StateFailed, err)
	}
	r.setState(StateRotated)

	// Step 3: Backproject
	log.Info("Step 3: Backprojecting...")
	galactic := res.Galactic
	nImage := galactic.Shape()[rotation.AxisEnergyIn] * galactic.Shape()[rotation.AxisDirectionIn]
	nData := galactic.Len() / nImage
	resp := mat.NewDense(nData, nImage, galactic.Values())
	data := mat.NewVecDense(nData, in.Data.Clone().Values())
	dataSum := mat.Sum(data)

	var sensitivity *mat.VecDense
	err = r.phase(ctx, "backproject", func(context.Context) error {
		var err error
		sensitivity, res.Image, err = backProject(resp, galactic, dataSum)
		return err
	})
	if err != nil {
		return finish(StateFailed, err)
	}
	r.setState(StateBackProjected)
	res.Image.RequestSlice(r.params.Sink, []int{1}, nil, "Backprojection")
	if interrupted(nil) {
		return finish(StateStopped, nil)
	}

	// Step 4: Iterate
	log.Info("Step 4: Iterating...", "iterations", r.params.Iterations, "data_sum", dataSum)
	r.setState(StateIterating)

	dirBins := galactic.Axis(rotation.AxisDirectionIn).BinCount()
	fluxScale := in.ObservationTime * in.Response.StartArea * 4 * math.Pi / float64(dirBins)
	image := res.Image.Values()

	var (
		em         *mlem
		me         *maxEnt
		maxEntropy float64
	)
	switch r.params.Algorithm {
	case MLEM:
		em = newMLEM(resp, data, sensitivity)
	case MaxEnt:
		me = newMaxEnt(resp, data, dataSum)
	}

	for it := 1; it <= r.params.Iterations; it++ {
		if interrupted(nil) {
			return finish(StateStopped, nil)
		}

		start := time.Now()
		_, itSpan := r.tracer.Start(ctx, "reconstruction.iteration", trace.WithAttributes(attribute.Int("iteration", it)))
		st := IterationStats{Iteration: it}

		var content float64
		if em != nil {
			content = em.iterate(image)
		} else {
			entropy, stop, err := me.iterate(image)
			if err != nil {
				itSpan.End()
				return finish(StateFailed, fmt.Errorf("iteration %d: %w", it, err))
			}
			if stop {
				itSpan.End()
				log.Warn("expectation scale vanished, stopping", "iteration", it)
				return finish(StateStopped, nil)
			}
			st.Entropy = entropy
			content = floats.Sum(image)
		}

		st.ImageSum = floats.Sum(image)
		if math.IsNaN(st.ImageSum) || math.IsInf(st.ImageSum, 0) {
			itSpan.End()
			return finish(StateFailed, fmt.Errorf("iteration %d image sum %g: %w", it, st.ImageSum, ErrNonFiniteImage))
		}
		if fluxScale > 0 {
			st.Flux = content / fluxScale
		}

		if me != nil && (res.MaxEntropyIteration < 0 || st.Entropy > maxEntropy) {
			res.MaxEntropyIteration = it
			maxEntropy = st.Entropy
		}
		res.Iterations = append(res.Iterations, st)
		itSpan.SetAttributes(attribute.Float64("flux", st.Flux), attribute.Float64("entropy", st.Entropy))
		itSpan.End()

		log.Info("iteration done",
			"iteration", it,
			"flux", st.Flux,
			"image_sum", st.ImageSum,
			"entropy", st.Entropy,
			"elapsed", time.Since(start))
		res.Image.RequestSlice(r.params.Sink, []int{1}, nil, fmt.Sprintf("Iteration %d", it))
	}

	if me != nil && res.MaxEntropyIteration > 0 {
		log.Info("maximum entropy", "iteration", res.MaxEntropyIteration, "entropy", maxEntropy)
	}
	return finish(StateConverged, nil)
}

// phase runs fn inside its own span.
func (r *Reconstructor) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := r.tracer.Start(ctx, "reconstruction."+name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// validate checks the preconditions of a run.
func (r *Reconstructor) validate(in Input) error {
	switch r.params.Algorithm {
	case MLEM, MaxEnt:
	default:
		return fmt.Errorf("%q: %w", r.params.Algorithm, ErrUnknownAlgorithm)
	}
	if in.Response == nil || in.Data == nil || in.Pointing == nil {
		return fmt.Errorf("missing input matrix: %w", ErrShapeMismatch)
	}
	if !(in.Response.StartArea > 0) {
		return fmt.Errorf("%q: %w", in.Response.Name, ErrZeroStartArea)
	}

	rs, ds := in.Response.Shape(), in.Data.Shape()
	if len(rs) != 5 {
		return fmt.Errorf("response has %d axes, want 5: %w", len(rs), ErrShapeMismatch)
	}
	if len(ds) != 3 {
		return fmt.Errorf("data space has %d axes, want 3: %w", len(ds), ErrShapeMismatch)
	}
	for i, n := range ds {
		if want := rs[rotation.AxisEnergyOut+i]; n != want {
			return fmt.Errorf("data axis %q has %d bins, response has %d: %w",
				in.Data.Axis(i).Name(), n, want, ErrShapeMismatch)
		}
	}
	return nil
}

// backProject returns the column sums of resp and the seed image they form,
// normalized to a total of 1.
func backProject(resp *mat.Dense, galactic *response.Matrix, dataSum float64) (*mat.VecDense, *response.Matrix, error) {
	if dataSum == 0 {
		return nil, nil, fmt.Errorf("data space is empty: %w", ErrZeroImageSum)
	}

	nData, nImage := resp.Dims()
	ones := mat.NewVecDense(nData, nil)
	for j := 0; j < nData; j++ {
		ones.SetVec(j, 1)
	}
	sensitivity := mat.NewVecDense(nImage, nil)
	sensitivity.MulVec(resp.T(), ones)

	sum := mat.Sum(sensitivity)
	if sum == 0 {
		return nil, nil, ErrZeroImageSum
	}
	if math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, nil, fmt.Errorf("backprojection sum %g: %w", sum, ErrNonFiniteImage)
	}

	image, err := response.NewWithAxes("Image",
		galactic.Axis(rotation.AxisEnergyIn), galactic.Axis(rotation.AxisDirectionIn))
	if err != nil {
		return nil, nil, err
	}
	vals := image.Values()
	for i := range vals {
		vals[i] = sensitivity.AtVec(i) / sum
	}
	return sensitivity, image, nil
}
