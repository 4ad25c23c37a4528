// Package flatfield builds the normalized master flat from raw sky flats and
// derives the detector defect mask from it.
package flatfield

import (
	"errors"
	"fmt"

	"github.com/lmarthur/ASTEP/internal/combine"
	"github.com/lmarthur/ASTEP/internal/fits"
	"github.com/lmarthur/ASTEP/internal/frame"
	"github.com/lmarthur/ASTEP/internal/fsutil"
	"github.com/lmarthur/ASTEP/internal/monitoring"
)

// ErrMissingArtifact reports that a master frame the pipeline expected on
// disk is absent. This is a pipeline invariant violation, not a data-quality
// issue, and aborts the whole run.
var ErrMissingArtifact = errors.New("flatfield: expected master frame artifact not found")

// GenerateFlat builds the master flat from raw sky flats. Each flat is
// dark-subtracted (master dark scaled by the flat/dark exposure-time ratio),
// then scaled by the inverse of its own median so flats taken at different
// sky brightness combine at comparable amplitude. The combination is a
// median with sigma clipping around a median center and MAD-stddev spread.
// masterDark may be nil when the night resolved to no usable flat darks.
func GenerateFlat(flats []*frame.Frame, masterDark *frame.Frame, sigma float64, memLimit int64) (*frame.Frame, error) {
	if len(flats) == 0 {
		return nil, fmt.Errorf("master flat: %w", combine.ErrEmptyInput)
	}

	monitoring.Logf("combining %d flat frames", len(flats))

	calibrated := make([]*frame.Frame, len(flats))
	scale := make([]float64, len(flats))
	for i, flat := range flats {
		cal := flat
		if masterDark != nil {
			cal = subtractScaledDark(flat, masterDark)
		}
		calibrated[i] = cal

		med := cal.Median()
		if med == 0 {
			return nil, fmt.Errorf("master flat: flat %d has zero median, cannot normalize", i)
		}
		scale[i] = 1.0 / med
	}

	master, err := combine.Combine(calibrated, combine.Options{
		Method:    combine.MethodMedian,
		SigmaClip: true,
		Sigma:     sigma,
		Robust:    true,
		Scale:     scale,
		MemLimit:  memLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("master flat: %w", err)
	}
	master.SetAcqType(frame.AcqMasterFlat)
	return master, nil
}

// GenerateFlatFiles builds the master flat directly from raw sky-flat files,
// with the same semantics as GenerateFlat but without ever holding the full
// stack: a first pass loads one flat at a time to measure its dark-subtracted
// median, then the combination streams row chunks from the files.
func GenerateFlatFiles(fsys fsutil.FileSystem, paths []string, masterDark *frame.Frame, sigma float64, memLimit int64) (*frame.Frame, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("master flat: %w", combine.ErrEmptyInput)
	}

	monitoring.Logf("combining %d flat frames", len(paths))

	scale := make([]float64, len(paths))
	ratio := make([]float64, len(paths))
	var width, height int
	var unit string
	var expTime float64
	var hdr *fits.Header
	for i, path := range paths {
		flat, err := frame.Load(fsys, path, frame.UnitADU)
		if err != nil {
			return nil, fmt.Errorf("master flat: %w", err)
		}
		if i == 0 {
			width, height, unit, expTime = flat.Width, flat.Height, flat.Unit, flat.ExpTime
			if flat.Header != nil {
				hdr = flat.Header.Clone()
			}
		} else {
			if flat.Width != width || flat.Height != height {
				return nil, fmt.Errorf("master flat: %w: %s is %dx%d, want %dx%d",
					combine.ErrShapeMismatch, path, flat.Width, flat.Height, width, height)
			}
			if flat.Unit != unit {
				return nil, fmt.Errorf("master flat: %w: %s is %q, want %q",
					combine.ErrUnitMismatch, path, flat.Unit, unit)
			}
		}

		if masterDark != nil {
			ratio[i] = 1.0
			if masterDark.ExpTime > 0 {
				ratio[i] = flat.ExpTime / masterDark.ExpTime
			}
			for j := range flat.Data {
				flat.Data[j] -= masterDark.Data[j] * ratio[i]
			}
		}
		med := flat.Median()
		if med == 0 {
			return nil, fmt.Errorf("master flat: flat %d has zero median, cannot normalize", i)
		}
		scale[i] = 1.0 / med
	}

	readers := make([]*fits.RowReader, len(paths))
	defer func() {
		for _, r := range readers {
			if r != nil {
				r.Close()
			}
		}
	}()
	sources := make([]combine.RowSource, len(paths))
	for i, path := range paths {
		r, err := fits.OpenRows(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("master flat: %w", err)
		}
		readers[i] = r
		if masterDark != nil {
			sources[i] = &darkRows{rows: r, dark: masterDark, ratio: ratio[i], width: width}
		} else {
			sources[i] = r
		}
	}

	data, err := combine.CombineSources(sources, width, height, combine.Options{
		Method:    combine.MethodMedian,
		SigmaClip: true,
		Sigma:     sigma,
		Robust:    true,
		Scale:     scale,
		MemLimit:  memLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("master flat: %w", err)
	}

	master := &frame.Frame{
		Width:    width,
		Height:   height,
		Data:     data,
		Unit:     unit,
		ExpTime:  expTime,
		Category: frame.CategorySkyFlat,
		Header:   hdr,
	}
	master.SetAcqType(frame.AcqMasterFlat)
	return master, nil
}

// darkRows streams a flat's rows with the scaled master dark removed.
type darkRows struct {
	rows  *fits.RowReader
	dark  *frame.Frame
	ratio float64
	width int
}

func (d *darkRows) ReadRows(y0, y1 int, dst []float64) error {
	if err := d.rows.ReadRows(y0, y1, dst); err != nil {
		return err
	}
	base := y0 * d.width
	for i := range dst {
		dst[i] -= d.dark.Data[base+i] * d.ratio
	}
	return nil
}

// subtractScaledDark returns flat minus dark scaled by the exposure ratio.
func subtractScaledDark(flat, dark *frame.Frame) *frame.Frame {
	ratio := 1.0
	if dark.ExpTime > 0 {
		ratio = flat.ExpTime / dark.ExpTime
	}
	out := flat.Clone()
	for i := range out.Data {
		out.Data[i] -= dark.Data[i] * ratio
	}
	return out
}

// LoadMasterFlat reads a previously built master flat. A missing file is an
// ErrMissingArtifact and fatal to the run: mask generation without its
// master flat means an earlier pipeline stage was skipped or lost.
func LoadMasterFlat(fsys fsutil.FileSystem, path string) (*frame.Frame, error) {
	if !fsys.Exists(path) {
		return nil, fmt.Errorf("%w: %s", ErrMissingArtifact, path)
	}
	f, err := frame.Load(fsys, path, frame.UnitADU)
	if err != nil {
		return nil, fmt.Errorf("load master flat: %w", err)
	}
	return f, nil
}
