// Package preview renders frames as grayscale heatmap PNGs for quick visual
// inspection of raw and calibrated images.
package preview

import (
	"fmt"
	"image/color"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/lmarthur/ASTEP/internal/frame"
	"github.com/lmarthur/ASTEP/internal/fsutil"
)

// Display stretch percentiles. Stars cover a tiny fraction of the field, so
// a straight min/max stretch would render the sky black; clipping the scale
// at these percentiles keeps the background visible.
const (
	stretchLow  = 0.01
	stretchHigh = 0.99
)

// frameGrid adapts a Frame to the plotter heatmap interface, clamping pixel
// values to the display stretch.
type frameGrid struct {
	f      *frame.Frame
	lo, hi float64
}

func (g frameGrid) Dims() (c, r int) { return g.f.Width, g.f.Height }
func (g frameGrid) X(c int) float64  { return float64(c) }
func (g frameGrid) Y(r int) float64  { return float64(r) }

func (g frameGrid) Z(c, r int) float64 {
	v := g.f.At(c, r)
	if v < g.lo {
		return g.lo
	}
	if v > g.hi {
		return g.hi
	}
	return v
}

// grayPalette is a linear grayscale palette.
type grayPalette struct {
	colors []color.Color
}

func (p grayPalette) Colors() []color.Color { return p.colors }

func newGrayPalette(n int) palette.Palette {
	colors := make([]color.Color, n)
	for i := range colors {
		v := uint8(i * 255 / (n - 1))
		colors[i] = color.Gray{Y: v}
	}
	return grayPalette{colors: colors}
}

// Render builds a heatmap plot of the frame.
func Render(f *frame.Frame, title string) (*plot.Plot, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("preview: %w", err)
	}

	sorted := make([]float64, len(f.Data))
	copy(sorted, f.Data)
	sort.Float64s(sorted)
	lo := stat.Quantile(stretchLow, stat.LinInterp, sorted, nil)
	hi := stat.Quantile(stretchHigh, stat.LinInterp, sorted, nil)
	if hi <= lo {
		hi = lo + 1
	}

	hm := plotter.NewHeatMap(frameGrid{f: f, lo: lo, hi: hi}, newGrayPalette(256))
	hm.Min = lo
	hm.Max = hi

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x (pixel)"
	p.Y.Label.Text = "y (pixel)"
	p.Add(hm)
	return p, nil
}

// WritePNG renders the frame and writes the PNG through the filesystem
// abstraction.
func WritePNG(fsys fsutil.FileSystem, path string, f *frame.Frame, title string) error {
	p, err := Render(f, title)
	if err != nil {
		return err
	}

	// Keep pixels square regardless of detector aspect ratio.
	width := 8 * vg.Inch
	height := vg.Length(float64(width) * float64(f.Height) / float64(f.Width))

	w, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("preview: render %s: %w", path, err)
	}

	out, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("preview: create %s: %w", path, err)
	}
	if _, err := w.WriteTo(out); err != nil {
		out.Close()
		return fmt.Errorf("preview: write %s: %w", path, err)
	}
	return out.Close()
}
