package reduce

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmarthur/ASTEP/internal/frame"
	"github.com/lmarthur/ASTEP/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func constFrame(w, h int, value, exptime float64) *frame.Frame {
	f := frame.New(w, h, frame.UnitADU)
	for i := range f.Data {
		f.Data[i] = value
	}
	f.ExpTime = exptime
	return f
}

func TestCalibrateArithmetic(t *testing.T) {
	t.Parallel()

	// science=1000, bias=100, dark=150 at matching exposure: 750 after
	// subtraction; dividing by a flat of 0.8 gives 937.5.
	sci := constFrame(4, 4, 1000, 90)
	bias := constFrame(4, 4, 100, 0)
	dark := constFrame(4, 4, 150, 90)

	cal, err := Calibrate(sci, Corrections{Bias: bias, Dark: dark})
	require.NoError(t, err)
	for _, v := range cal.Data {
		assert.Equal(t, 750.0, v)
	}

	flat := constFrame(4, 4, 0.8, 5)
	cal, err = Calibrate(sci, Corrections{Bias: bias, Dark: dark, Flat: flat})
	require.NoError(t, err)
	for _, v := range cal.Data {
		assert.Equal(t, 937.5, v)
	}
}

func TestCalibrateDarkExposureScaling(t *testing.T) {
	t.Parallel()

	// 90s science against a 30s dark: dark counts scale by 3.
	sci := constFrame(4, 4, 1000, 90)
	dark := constFrame(4, 4, 50, 30)

	cal, err := Calibrate(sci, Corrections{Dark: dark})
	require.NoError(t, err)
	assert.Equal(t, 850.0, cal.Data[0])
}

func TestCalibrateMaskAttachment(t *testing.T) {
	t.Parallel()

	sci := constFrame(4, 4, 500, 10)
	mask := frame.New(4, 4, "")
	mask.SetAt(1, 1, 1)

	cal, err := Calibrate(sci, Corrections{Mask: mask})
	require.NoError(t, err)

	// Mask attachment never alters pixel values.
	assert.Equal(t, sci.Data, cal.Data)
	require.NotNil(t, cal.Mask)
	assert.Equal(t, uint8(1), cal.Mask[1*4+1])
	for i, v := range cal.Mask {
		if i != 1*4+1 {
			assert.Equal(t, uint8(0), v)
		}
	}
}

func TestCalibrateMissingUnit(t *testing.T) {
	t.Parallel()

	sci := constFrame(4, 4, 1000, 90)
	sci.Unit = ""
	_, err := Calibrate(sci, Corrections{})
	assert.ErrorIs(t, err, ErrMissingUnit)
}

func TestCalibrateShapeMismatch(t *testing.T) {
	t.Parallel()

	sci := constFrame(4, 4, 1000, 90)
	_, err := Calibrate(sci, Corrections{Bias: constFrame(8, 8, 100, 0)})
	assert.Error(t, err)
}

func TestCalibrateZeroFlatPixel(t *testing.T) {
	t.Parallel()

	sci := constFrame(2, 2, 1000, 10)
	flat := constFrame(2, 2, 1, 5)
	flat.Data[3] = 0

	cal, err := Calibrate(sci, Corrections{Flat: flat})
	require.NoError(t, err)
	assert.Equal(t, 1000.0, cal.Data[0])
	assert.Equal(t, 0.0, cal.Data[3], "dead flat pixels zero out rather than produce infinities")
}

func TestCalibrateDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	sci := constFrame(2, 2, 1000, 10)
	bias := constFrame(2, 2, 100, 0)
	_, err := Calibrate(sci, Corrections{Bias: bias})
	require.NoError(t, err)
	assert.Equal(t, 1000.0, sci.Data[0])
}

func TestGainCorrect(t *testing.T) {
	t.Parallel()

	f := constFrame(2, 2, 750, 10)
	GainCorrect(f, 2.0)
	assert.Equal(t, 1500.0, f.Data[0])
	assert.Equal(t, frame.UnitElectron, f.Unit)
}
