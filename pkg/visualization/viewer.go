// Package visualization renders slice requests of response matrices as
// false-color PNG images.
package visualization

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lucasb-eyer/go-colorful"

	"comptonsky/pkg/response"
)

// ErrInvalidSlice is returned for slice requests that cannot be projected.
var ErrInvalidSlice = errors.New("visualization: invalid slice request")

// DefaultSkyWidth is the raster width of sky maps: one pixel per degree.
const DefaultSkyWidth = 360

// Colormap endpoints, blended in CIE L*a*b*.
var (
	colorLow  = colorful.Color{R: 0.02, G: 0.02, B: 0.12}
	colorMid  = colorful.Color{R: 0.70, G: 0.10, B: 0.35}
	colorHigh = colorful.Color{R: 1.00, G: 0.95, B: 0.55}
)

// Projection is a matrix reduced to two picture dimensions. Values are
// stored row by row, top row first.
type Projection struct {
	Title  string
	Width  int
	Height int
	Values []float64
}

// At returns the value of pixel (x, y).
func (p *Projection) At(x, y int) float64 {
	return p.Values[y*p.Width+x]
}

// Max returns the largest pixel value.
func (p *Projection) Max() float64 {
	m := math.Inf(-1)
	for _, v := range p.Values {
		m = math.Max(m, v)
	}
	return m
}

// Project reduces the matrix of req to a picture. A single spherical shown
// axis becomes an equirectangular sky map skyWidth pixels wide, with
// longitude increasing to the left around 0 at the center. Two linear shown
// axes become a grid of their bins with the second axis increasing upwards.
// Fixed axes are pinned to the bin containing their coordinates, every other
// axis is summed over.
func Project(req response.SliceRequest, skyWidth int) (*Projection, error) {
	m := req.Matrix
	if m == nil || m.NumAxes() == 0 {
		return nil, fmt.Errorf("empty matrix: %w", ErrInvalidSlice)
	}
	if skyWidth < 2 {
		skyWidth = DefaultSkyWidth
	}

	n := m.NumAxes()
	for _, a := range req.Shown {
		if a < 0 || a >= n {
			return nil, fmt.Errorf("shown axis %d of %d: %w", a, n, ErrInvalidSlice)
		}
	}

	pinned := make(map[int]int, len(req.Fixed))
	for a, coords := range req.Fixed {
		if a < 0 || a >= n {
			return nil, fmt.Errorf("fixed axis %d of %d: %w", a, n, ErrInvalidSlice)
		}
		for _, s := range req.Shown {
			if s == a {
				return nil, fmt.Errorf("axis %d both shown and fixed: %w", a, ErrInvalidSlice)
			}
		}
		b, err := m.Axis(a).CoordinateToBin(coords...)
		if err != nil {
			return nil, fmt.Errorf("fixed axis %d: %w", a, err)
		}
		pinned[a] = b
	}

	switch len(req.Shown) {
	case 1:
		sky, ok := m.Axis(req.Shown[0]).(*response.SphericalAxis)
		if !ok {
			return nil, fmt.Errorf("single shown axis %q is not spherical: %w", m.Axis(req.Shown[0]).Name(), ErrInvalidSlice)
		}
		bins, err := reduce(m, req.Shown, pinned)
		if err != nil {
			return nil, err
		}
		return skyMap(req.Title, sky, bins, skyWidth), nil

	case 2:
		ax, okX := m.Axis(req.Shown[0]).(*response.LinearAxis)
		ay, okY := m.Axis(req.Shown[1]).(*response.LinearAxis)
		if !okX || !okY || req.Shown[0] == req.Shown[1] {
			return nil, fmt.Errorf("two shown axes must be distinct linear axes: %w", ErrInvalidSlice)
		}
		bins, err := reduce(m, req.Shown, pinned)
		if err != nil {
			return nil, err
		}
		w, h := ax.BinCount(), ay.BinCount()
		p := &Projection{Title: req.Title, Width: w, Height: h, Values: make([]float64, w*h)}
		for y := 0; y < h; y++ {
			copy(p.Values[(h-1-y)*w:(h-y)*w], bins[y*w:(y+1)*w])
		}
		return p, nil
	}
	return nil, fmt.Errorf("%d shown axes: %w", len(req.Shown), ErrInvalidSlice)
}

// reduce sums the matrix onto the shown axes, honoring pinned bins. The
// result is a matrix over the shown axes, in the order given.
func reduce(m *response.Matrix, shown []int, pinned map[int]int) ([]float64, error) {
	axes := make([]response.Axis, len(shown))
	for i, a := range shown {
		axes[i] = m.Axis(a)
	}
	out, err := response.NewWithAxes(m.Name, axes...)
	if err != nil {
		return nil, err
	}

	idx := make([]int, m.NumAxes())
	sub := make([]int, len(shown))
	m.NonZero(func(linear int, v float64) {
		if err != nil {
			return
		}
		if err = m.DecodeInto(linear, idx); err != nil {
			return
		}
		for a, b := range pinned {
			if idx[a] != b {
				return
			}
		}
		for i, a := range shown {
			sub[i] = idx[a]
		}
		err = out.Add(v, sub...)
	})
	if err != nil {
		return nil, err
	}
	return out.Values(), nil
}

func skyMap(title string, sky *response.SphericalAxis, bins []float64, width int) *Projection {
	height := width / 2
	p := &Projection{Title: title, Width: width, Height: height, Values: make([]float64, width*height)}
	for y := 0; y < height; y++ {
		lat := 90 - (float64(y)+0.5)*180/float64(height)
		for x := 0; x < width; x++ {
			lon := 180 - (float64(x)+0.5)*360/float64(width)
			b, err := sky.CoordinateToBin(lat, lon)
			if err != nil {
				continue
			}
			p.Values[y*width+x] = bins[b]
		}
	}
	return p
}

// Image colors the projection, scaled to its maximum. Non-positive values
// take the lowest color.
func (p *Projection) Image() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
	peak := p.Max()
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			t := 0.0
			if peak > 0 {
				t = p.At(x, y) / peak
			}
			img.Set(x, y, heat(t))
		}
	}
	return img
}

// heat maps t in [0, 1] onto the colormap.
func heat(t float64) color.RGBA {
	if math.IsNaN(t) {
		t = 0
	}
	t = math.Max(0, math.Min(1, t))
	var c colorful.Color
	if t < 0.5 {
		c = colorLow.BlendLab(colorMid, 2*t)
	} else {
		c = colorMid.BlendLab(colorHigh, 2*t-1)
	}
	r, g, b := c.Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// SavePNG writes img to filename, creating parent directories.
func SavePNG(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Renderer is a response.SliceSink that writes every request as a numbered
// PNG file into a directory. Failures are logged, never returned: slice
// requests are fire and forget.
type Renderer struct {
	dir      string
	skyWidth int
	logger   *slog.Logger

	mu  sync.Mutex
	seq int
}

// NewRenderer creates a renderer writing into dir. skyWidth below 2 uses
// DefaultSkyWidth, a nil logger uses slog.Default().
func NewRenderer(dir string, skyWidth int, logger *slog.Logger) *Renderer {
	if skyWidth < 2 {
		skyWidth = DefaultSkyWidth
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{dir: dir, skyWidth: skyWidth, logger: logger}
}

// RequestSlice renders req and saves it as slice_NNN_<title>.png.
func (r *Renderer) RequestSlice(req response.SliceRequest) {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	filename := filepath.Join(r.dir, fmt.Sprintf("slice_%03d_%s.png", seq, slug(req.Title)))
	p, err := Project(req, r.skyWidth)
	if err != nil {
		r.logger.Warn("cannot project slice", "title", req.Title, "error", err)
		return
	}
	if err := SavePNG(p.Image(), filename); err != nil {
		r.logger.Warn("cannot save slice", "file", filename, "error", err)
		return
	}
	r.logger.Debug("slice saved", "file", filename, "title", req.Title)
}

// Count returns the number of requests received.
func (r *Renderer) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

func slug(title string) string {
	s := strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			return c
		case c >= 'A' && c <= 'Z':
			return c + 'a' - 'A'
		}
		return '_'
	}, strings.TrimSpace(title))
	if s == "" {
		return "untitled"
	}
	return s
}

// Recorder is a response.SliceSink keeping every request in memory.
type Recorder struct {
	mu       sync.Mutex
	requests []response.SliceRequest
}

func (r *Recorder) RequestSlice(req response.SliceRequest) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
}

// Requests returns the recorded requests in arrival order.
func (r *Recorder) Requests() []response.SliceRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]response.SliceRequest(nil), r.requests...)
}

// Last returns the most recent request.
func (r *Recorder) Last() (response.SliceRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.requests) == 0 {
		return response.SliceRequest{}, false
	}
	return r.requests[len(r.requests)-1], true
}

// Fanout forwards every request to each non-nil sink in order.
type Fanout []response.SliceSink

func (f Fanout) RequestSlice(req response.SliceRequest) {
	for _, s := range f {
		if s != nil {
			s.RequestSlice(req)
		}
	}
}
