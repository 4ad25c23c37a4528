// Package combine builds master calibration frames by pixel-wise statistical
// reduction of raw frame stacks. Combination streams rows from its sources a
// chunk at a time, so arbitrarily deep file-backed stacks fit a
// caller-supplied memory ceiling; chunking never changes the numeric result
// because every statistic is per-pixel. Combine reduces stacks already in
// memory; CombineFiles and CombineSources keep at most one chunk of rows per
// stack member resident.
package combine

import (
	"errors"
	"fmt"
	"math"

	"github.com/lmarthur/ASTEP/internal/frame"
	"github.com/lmarthur/ASTEP/internal/monitoring"
	"github.com/lmarthur/ASTEP/internal/stats"
)

// Typed combination failures. Inconsistency conditions abort the owning
// night's plan rather than being silently averaged over.
var (
	ErrEmptyInput           = errors.New("combine: empty frame list")
	ErrUnitMismatch         = errors.New("combine: frames have mismatched units")
	ErrShapeMismatch        = errors.New("combine: frames have mismatched shapes")
	ErrInconsistentExposure = errors.New("combine: dark frames have mismatched exposure times")
)

// Method selects the pixel-wise reduction statistic.
type Method int

const (
	MethodMean Method = iota
	MethodMedian
)

// DefaultMemLimit bounds the combiner's working set when the caller does not
// supply a ceiling.
const DefaultMemLimit = 2 << 30 // 2 GiB

const defaultMaxIter = 5

// Options controls a stack combination.
type Options struct {
	Method Method

	// SigmaClip enables iterative per-pixel outlier rejection before the
	// final reduction.
	SigmaClip bool

	// Sigma is the clip threshold in spread units. Ignored unless SigmaClip.
	Sigma float64

	// Robust switches the clip center/spread from mean/stddev to
	// median/MAD-stddev. The flat-field path needs this because sky flats
	// carry real brightness structure that inflates plain moments.
	Robust bool

	// Scale holds optional per-frame multipliers applied before clipping,
	// e.g. inverse medians for sky-flat normalization. Empty means no
	// scaling; otherwise its length must match the frame list.
	Scale []float64

	// MemLimit bounds the working set in bytes. Zero selects DefaultMemLimit.
	MemLimit int64

	// MaxIter caps the clip iterations. Zero selects the default.
	MaxIter int
}

// Combine reduces a stack of same-shape, same-unit frames to one master
// frame. The result inherits the first frame's header, unit and exposure
// time.
func Combine(frames []*frame.Frame, opts Options) (*frame.Frame, error) {
	if len(frames) == 0 {
		return nil, ErrEmptyInput
	}
	if opts.Scale != nil && len(opts.Scale) != len(frames) {
		return nil, fmt.Errorf("combine: %d scale factors for %d frames", len(opts.Scale), len(frames))
	}

	first := frames[0]
	for i, f := range frames {
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("combine: frame %d: %w", i, err)
		}
		if !f.SameShape(first) {
			return nil, fmt.Errorf("%w: frame %d is %dx%d, want %dx%d",
				ErrShapeMismatch, i, f.Width, f.Height, first.Width, first.Height)
		}
		if f.Unit != first.Unit {
			return nil, fmt.Errorf("%w: frame %d is %q, want %q", ErrUnitMismatch, i, f.Unit, first.Unit)
		}
	}

	width, height := first.Width, first.Height
	sources := make([]RowSource, len(frames))
	for i, f := range frames {
		sources[i] = frameRows{data: f.Data, width: width}
	}
	data, err := combineRows(sources, width, height, opts)
	if err != nil {
		return nil, err
	}

	out := &frame.Frame{
		Width:    width,
		Height:   height,
		Data:     data,
		Unit:     first.Unit,
		ExpTime:  first.ExpTime,
		Category: first.Category,
	}
	if first.Header != nil {
		out.Header = first.Header.Clone()
	}
	return out, nil
}

// reducePixel clips and reduces one pixel's stack. vals is scratch owned by
// the caller; survivors are compacted into keep between iterations.
func reducePixel(vals, keep []float64, opts Options, maxIter int) float64 {
	good := vals
	if opts.SigmaClip {
		for iter := 0; iter < maxIter && len(good) > 1; iter++ {
			center, spread := clipStats(good, opts.Robust)
			if spread == 0 || math.IsNaN(spread) {
				break
			}
			n := 0
			for _, v := range good {
				if math.Abs(v-center) <= opts.Sigma*spread {
					keep[n] = v
					n++
				}
			}
			if n == len(good) {
				break
			}
			if n == 0 {
				// Everything rejected: the center of the last iteration is
				// the best remaining estimate.
				return center
			}
			good, keep = keep[:n], good[:len(good)]
		}
	}

	if opts.Method == MethodMedian {
		return stats.MedianInPlace(good)
	}
	return stats.Mean(good)
}

// clipStats returns the clip center and spread for one iteration.
func clipStats(xs []float64, robust bool) (center, spread float64) {
	if robust {
		return stats.Median(xs), stats.MadStd(xs)
	}
	return stats.Mean(xs), stats.StdDev(xs)
}

// stackOptions is the standard bias/dark treatment: mean combination with
// 3-sigma clipping.
func stackOptions(memLimit int64) Options {
	return Options{
		Method:    MethodMean,
		SigmaClip: true,
		Sigma:     3.0,
		MemLimit:  memLimit,
	}
}

// CombineBias builds a master bias from frames already in memory: mean
// combination with 3-sigma clipping, the standard treatment for
// zero-exposure frames.
func CombineBias(frames []*frame.Frame, memLimit int64) (*frame.Frame, error) {
	master, err := Combine(frames, stackOptions(memLimit))
	if err != nil {
		return nil, fmt.Errorf("master bias: %w", err)
	}
	master.SetAcqType(frame.AcqMasterBias)
	return master, nil
}

// CombineDarks builds a master dark. All input darks must share one exposure
// time; darks are never rescaled across exposures, so a mixed stack is a
// data error, not something to average through.
func CombineDarks(frames []*frame.Frame, memLimit int64) (*frame.Frame, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("master dark: %w", ErrEmptyInput)
	}

	seen := make(map[float64]bool)
	for _, f := range frames {
		seen[f.ExpTime] = true
	}
	if len(seen) > 1 {
		times := make([]float64, 0, len(seen))
		for t := range seen {
			times = append(times, t)
		}
		return nil, fmt.Errorf("%w: %v", ErrInconsistentExposure, times)
	}

	monitoring.Logf("combining %d dark frames with exposure time %gs", len(frames), frames[0].ExpTime)

	master, err := Combine(frames, stackOptions(memLimit))
	if err != nil {
		return nil, fmt.Errorf("master dark: %w", err)
	}
	master.SetAcqType(frame.AcqMasterDark)
	return master, nil
}
