package flatfield

import (
	"fmt"

	"github.com/lmarthur/ASTEP/internal/frame"
	"github.com/lmarthur/ASTEP/internal/imageops"
	"github.com/lmarthur/ASTEP/internal/monitoring"
	"github.com/lmarthur/ASTEP/internal/stats"
)

// GenerateMask derives the binary defect mask (1 = defective) from a master
// flat. A pixel is flagged when its value deviates from the box-median
// smoothed neighborhood estimate by more than threshold MAD-stddevs of the
// global residual distribution. Detector defects are sharp against the
// smooth sensitivity surface of a flat, so the residual test isolates them.
func GenerateMask(masterFlat *frame.Frame, box int, threshold float64) (*frame.Frame, error) {
	if err := masterFlat.Validate(); err != nil {
		return nil, fmt.Errorf("mask: %w", err)
	}
	if box < 3 || box%2 == 0 {
		return nil, fmt.Errorf("mask: smoothing box must be odd and >= 3, got %d", box)
	}
	if threshold <= 0 {
		return nil, fmt.Errorf("mask: threshold must be positive, got %g", threshold)
	}

	smoothed := imageops.MedianFilter(masterFlat.Data, masterFlat.Width, masterFlat.Height, box)

	residual := make([]float64, len(masterFlat.Data))
	for i := range residual {
		residual[i] = masterFlat.Data[i] - smoothed[i]
	}
	spread := stats.MadStd(residual)

	mask := frame.New(masterFlat.Width, masterFlat.Height, "")
	flagged := 0
	if spread > 0 {
		limit := threshold * spread
		for i, r := range residual {
			if r > limit || r < -limit {
				mask.Data[i] = 1
				flagged++
			}
		}
	}
	mask.SetAcqType(frame.AcqMask)

	monitoring.Logf("defect mask: flagged %d of %d pixels", flagged, len(mask.Data))
	return mask, nil
}

// MaskBytes converts a mask frame's pixel plane to the per-pixel flag slice
// attached to calibrated frames.
func MaskBytes(mask *frame.Frame) []uint8 {
	out := make([]uint8, len(mask.Data))
	for i, v := range mask.Data {
		if v != 0 {
			out[i] = 1
		}
	}
	return out
}
