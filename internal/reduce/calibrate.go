// Package reduce applies a resolved correction plan to science frames:
// bias and dark subtraction, flat-field division, defect-mask attachment,
// gain conversion and cosmic-ray rejection.
package reduce

import (
	"errors"
	"fmt"

	"github.com/lmarthur/ASTEP/internal/frame"
)

// ErrMissingUnit reports a science frame with no recognized unit tag.
// Correction arithmetic is meaningless without knowing the pixel unit.
var ErrMissingUnit = errors.New("reduce: frame has no recognized unit")

// Corrections holds the master frames selected by the resolution engine.
// Any of them may be nil, meaning that correction is skipped.
type Corrections struct {
	Bias *frame.Frame
	Dark *frame.Frame
	Flat *frame.Frame
	Mask *frame.Frame
}

// Calibrate applies the corrections to a science frame in strict order:
// bias subtraction, exposure-scaled dark subtraction, flat division, then
// mask attachment. The mask goes on last because its flags are metadata
// describing the corrected frame, not values to fold into the arithmetic.
// The input frame is never modified.
func Calibrate(sci *frame.Frame, c Corrections) (*frame.Frame, error) {
	if sci.Unit == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingUnit, sci.OrigFile())
	}
	if err := sci.Validate(); err != nil {
		return nil, fmt.Errorf("calibrate: %w", err)
	}
	for name, m := range map[string]*frame.Frame{"bias": c.Bias, "dark": c.Dark, "flat": c.Flat, "mask": c.Mask} {
		if m != nil && !m.SameShape(sci) {
			return nil, fmt.Errorf("calibrate: %s frame is %dx%d, science is %dx%d",
				name, m.Width, m.Height, sci.Width, sci.Height)
		}
	}

	out := sci.Clone()

	if c.Bias != nil {
		for i := range out.Data {
			out.Data[i] -= c.Bias.Data[i]
		}
	}

	if c.Dark != nil {
		ratio := 1.0
		if c.Dark.ExpTime > 0 {
			ratio = sci.ExpTime / c.Dark.ExpTime
		}
		for i := range out.Data {
			out.Data[i] -= c.Dark.Data[i] * ratio
		}
	}

	if c.Flat != nil {
		for i := range out.Data {
			// Zero flat pixels are dead detector regions; the mask flags
			// them, the division just avoids producing infinities.
			if f := c.Flat.Data[i]; f != 0 {
				out.Data[i] /= f
			} else {
				out.Data[i] = 0
			}
		}
	}

	if c.Mask != nil {
		out.Mask = make([]uint8, len(c.Mask.Data))
		for i, v := range c.Mask.Data {
			if v != 0 {
				out.Mask[i] = 1
			}
		}
	}

	return out, nil
}

// GainCorrect converts a frame from ADU to electrons in place using the
// given gain in electrons per ADU.
func GainCorrect(f *frame.Frame, gain float64) {
	for i := range f.Data {
		f.Data[i] *= gain
	}
	f.Unit = frame.UnitElectron
}
