package combine

import (
	"fmt"

	"github.com/lmarthur/ASTEP/internal/fits"
	"github.com/lmarthur/ASTEP/internal/frame"
	"github.com/lmarthur/ASTEP/internal/fsutil"
	"github.com/lmarthur/ASTEP/internal/monitoring"
)

// RowSource yields the pixel rows of one stack member in ascending order.
// fits.RowReader satisfies it for file-backed stacks; callers can wrap a
// source to apply per-row corrections before combination.
type RowSource interface {
	ReadRows(y0, y1 int, dst []float64) error
}

// frameRows adapts an in-memory pixel plane to RowSource.
type frameRows struct {
	data  []float64
	width int
}

func (s frameRows) ReadRows(y0, y1 int, dst []float64) error {
	copy(dst, s.data[y0*s.width:y1*s.width])
	return nil
}

// CombineSources reduces a stack presented as row sources of identical
// dimensions, holding at most one chunk of rows per source in memory. The
// caller owns source lifetimes and the result's metadata.
func CombineSources(sources []RowSource, width, height int, opts Options) ([]float64, error) {
	if len(sources) == 0 {
		return nil, ErrEmptyInput
	}
	if opts.Scale != nil && len(opts.Scale) != len(sources) {
		return nil, fmt.Errorf("combine: %d scale factors for %d sources", len(opts.Scale), len(sources))
	}
	return combineRows(sources, width, height, opts)
}

// combineRows is the chunked per-pixel reduction behind every combination
// entry point. The working set is bounded by rowsPerChunk rows per source,
// sized from the memory ceiling.
func combineRows(sources []RowSource, width, height int, opts Options) ([]float64, error) {
	memLimit := opts.MemLimit
	if memLimit <= 0 {
		memLimit = DefaultMemLimit
	}
	maxIter := opts.MaxIter
	if maxIter <= 0 {
		maxIter = defaultMaxIter
	}

	rowsPerChunk := int(memLimit / int64(len(sources)*width*8))
	if rowsPerChunk < 1 {
		rowsPerChunk = 1
	}
	if rowsPerChunk > height {
		rowsPerChunk = height
	}
	if rowsPerChunk < height {
		monitoring.Logf("combining %d frames in chunks of %d rows (mem limit %d bytes)",
			len(sources), rowsPerChunk, memLimit)
	}

	out := make([]float64, width*height)
	bufs := make([][]float64, len(sources))
	for i := range bufs {
		bufs[i] = make([]float64, rowsPerChunk*width)
	}
	column := make([]float64, len(sources))
	scratch := make([]float64, len(sources))

	for row0 := 0; row0 < height; row0 += rowsPerChunk {
		row1 := row0 + rowsPerChunk
		if row1 > height {
			row1 = height
		}
		n := (row1 - row0) * width
		for j, src := range sources {
			if err := src.ReadRows(row0, row1, bufs[j][:n]); err != nil {
				return nil, fmt.Errorf("combine: source %d: %w", j, err)
			}
		}
		for k := 0; k < n; k++ {
			for j := range sources {
				v := bufs[j][k]
				if opts.Scale != nil {
					v *= opts.Scale[j]
				}
				column[j] = v
			}
			out[row0*width+k] = reducePixel(column, scratch, opts, maxIter)
		}
	}
	return out, nil
}

// CombineFiles reduces a stack of FITS files to one master frame without
// ever materializing a full input frame: rows are streamed from each file a
// chunk at a time. The result inherits the first file's header, unit and
// exposure time. Files without a BUNIT card are assumed to be in defaultUnit.
func CombineFiles(fsys fsutil.FileSystem, paths []string, defaultUnit string, opts Options) (*frame.Frame, error) {
	if len(paths) == 0 {
		return nil, ErrEmptyInput
	}
	if opts.Scale != nil && len(opts.Scale) != len(paths) {
		return nil, fmt.Errorf("combine: %d scale factors for %d files", len(opts.Scale), len(paths))
	}

	readers := make([]*fits.RowReader, len(paths))
	defer func() {
		for _, r := range readers {
			if r != nil {
				r.Close()
			}
		}
	}()

	var width, height int
	var unit string
	sources := make([]RowSource, len(paths))
	for i, path := range paths {
		r, err := fits.OpenRows(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("combine: %w", err)
		}
		readers[i] = r

		u := defaultUnit
		if v, ok := r.Header().Get(frame.KeyUnit); ok && v != "" {
			u = v
		}
		if i == 0 {
			width, height, unit = r.Width(), r.Height(), u
		} else {
			if r.Width() != width || r.Height() != height {
				return nil, fmt.Errorf("%w: %s is %dx%d, want %dx%d",
					ErrShapeMismatch, path, r.Width(), r.Height(), width, height)
			}
			if u != unit {
				return nil, fmt.Errorf("%w: %s is %q, want %q", ErrUnitMismatch, path, u, unit)
			}
		}
		sources[i] = r
	}

	data, err := combineRows(sources, width, height, opts)
	if err != nil {
		return nil, err
	}

	out := &frame.Frame{
		Width:    width,
		Height:   height,
		Data:     data,
		Unit:     unit,
		Category: frame.CategoryFromFilename(paths[0]),
		Header:   readers[0].Header().Clone(),
	}
	if expt, ok := readers[0].Header().Float(frame.KeyExpTime); ok {
		out.ExpTime = expt
	}
	return out, nil
}

// CombineBiasFiles streams a master bias from raw bias files.
func CombineBiasFiles(fsys fsutil.FileSystem, paths []string, memLimit int64) (*frame.Frame, error) {
	master, err := CombineFiles(fsys, paths, frame.UnitADU, stackOptions(memLimit))
	if err != nil {
		return nil, fmt.Errorf("master bias: %w", err)
	}
	master.SetAcqType(frame.AcqMasterBias)
	return master, nil
}

// CombineDarksFiles streams a master dark from raw dark files. Exposure
// consistency is checked up front from the headers alone.
func CombineDarksFiles(fsys fsutil.FileSystem, paths []string, memLimit int64) (*frame.Frame, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("master dark: %w", ErrEmptyInput)
	}

	seen := make(map[float64]bool)
	for _, path := range paths {
		hdr, err := fits.ReadHeaderFile(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("master dark: %w", err)
		}
		expt, _ := hdr.Float(frame.KeyExpTime)
		seen[expt] = true
	}
	if len(seen) > 1 {
		times := make([]float64, 0, len(seen))
		for t := range seen {
			times = append(times, t)
		}
		return nil, fmt.Errorf("%w: %v", ErrInconsistentExposure, times)
	}

	monitoring.Logf("combining %d dark frames", len(paths))

	master, err := CombineFiles(fsys, paths, frame.UnitADU, stackOptions(memLimit))
	if err != nil {
		return nil, fmt.Errorf("master dark: %w", err)
	}
	master.SetAcqType(frame.AcqMasterDark)
	return master, nil
}
