package combine

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

func constFrame(w, h int, value float64) *frame.Frame {
	f := frame.New(w, h, frame.UnitADU)
	for i := range f.Data {
		f.Data[i] = value
	}
	return f
}

func TestCombineIdentity(t *testing.T) {
	t.Parallel()

	// Mean combination of identical frames returns the constant exactly.
	for _, n := range []int{1, 3, 7} {
		frames := make([]*frame.Frame, n)
		for i := range frames {
			frames[i] = constFrame(8, 6, 500)
		}
		master, err := Combine(frames, Options{Method: MethodMean, SigmaClip: true, Sigma: 3})
		require.NoError(t, err)
		for _, v := range master.Data {
			assert.Equal(t, 500.0, v)
		}
	}
}

func TestCombineSingleFrameUnchanged(t *testing.T) {
	t.Parallel()

	f := constFrame(4, 4, 0)
	for i := range f.Data {
		f.Data[i] = float64(i)
	}
	master, err := Combine([]*frame.Frame{f}, Options{Method: MethodMean, SigmaClip: true, Sigma: 3})
	require.NoError(t, err)
	assert.Equal(t, f.Data, master.Data)
}

func TestCombineEmpty(t *testing.T) {
	t.Parallel()

	_, err := Combine(nil, Options{})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestCombineSigmaClipRejectsOutlier(t *testing.T) {
	t.Parallel()

	// Eleven frames agree at 100 with slight scatter; one carries a
	// cosmic-ray level outlier at a single pixel. The clipped mean must
	// converge to the agreeing value.
	scatter := []float64{99, 101, 100, 100, 99, 101, 100, 100, 100, 101, 99}
	frames := make([]*frame.Frame, 0, 12)
	for _, v := range scatter {
		frames = append(frames, constFrame(5, 5, v))
	}
	outlier := constFrame(5, 5, 100)
	outlier.SetAt(2, 2, 5000)
	frames = append(frames, outlier)

	master, err := Combine(frames, Options{Method: MethodMean, SigmaClip: true, Sigma: 3})
	require.NoError(t, err)
	assert.InDelta(t, 100.0, master.At(2, 2), 0.5)

	// Without clipping the outlier pulls the mean far off.
	raw, err := Combine(frames, Options{Method: MethodMean})
	require.NoError(t, err)
	assert.Greater(t, raw.At(2, 2), 400.0)
}

func TestCombineMedian(t *testing.T) {
	t.Parallel()

	frames := []*frame.Frame{
		constFrame(2, 2, 10),
		constFrame(2, 2, 20),
		constFrame(2, 2, 1000),
	}
	master, err := Combine(frames, Options{Method: MethodMedian})
	require.NoError(t, err)
	assert.Equal(t, 20.0, master.Data[0])
}

func TestCombineScale(t *testing.T) {
	t.Parallel()

	frames := []*frame.Frame{
		constFrame(2, 2, 100),
		constFrame(2, 2, 200),
		constFrame(2, 2, 400),
	}
	// Inverse-median scaling flattens all frames to 1.0 before reduction.
	master, err := Combine(frames, Options{
		Method: MethodMedian,
		Scale:  []float64{1.0 / 100, 1.0 / 200, 1.0 / 400},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, master.Data[0])
}

func TestCombineScaleLengthMismatch(t *testing.T) {
	t.Parallel()

	_, err := Combine([]*frame.Frame{constFrame(2, 2, 1)}, Options{Scale: []float64{1, 2}})
	assert.Error(t, err)
}

func TestCombineUnitMismatch(t *testing.T) {
	t.Parallel()

	a := constFrame(2, 2, 1)
	b := constFrame(2, 2, 1)
	b.Unit = frame.UnitElectron
	_, err := Combine([]*frame.Frame{a, b}, Options{})
	assert.ErrorIs(t, err, ErrUnitMismatch)
}

func TestCombineShapeMismatch(t *testing.T) {
	t.Parallel()

	_, err := Combine([]*frame.Frame{constFrame(2, 2, 1), constFrame(3, 2, 1)}, Options{})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestCombineChunkedMatchesUnchunked(t *testing.T) {
	t.Parallel()

	// A tight memory ceiling forces row-at-a-time chunking; pixel results
	// must be bit-identical to the unchunked run.
	frames := make([]*frame.Frame, 6)
	for i := range frames {
		f := frame.New(16, 12, frame.UnitADU)
		for j := range f.Data {
			f.Data[j] = float64((i*31+j*17)%97) + 0.5
		}
		frames[i] = f
	}
	frames[3].SetAt(7, 5, 90000) // one outlier to engage clipping

	opts := Options{Method: MethodMean, SigmaClip: true, Sigma: 3}
	full, err := Combine(frames, opts)
	require.NoError(t, err)

	opts.MemLimit = int64(len(frames) * 16 * 8) // one row per chunk
	chunked, err := Combine(frames, opts)
	require.NoError(t, err)

	assert.Equal(t, full.Data, chunked.Data)
}

func TestCombineInheritsMetadata(t *testing.T) {
	t.Parallel()

	a := constFrame(2, 2, 5)
	a.ExpTime = 90
	a.Header.Set(frame.KeyOrigFile, "first.fits", "")
	master, err := Combine([]*frame.Frame{a, constFrame(2, 2, 5)}, Options{Method: MethodMean})
	require.NoError(t, err)
	assert.Equal(t, 90.0, master.ExpTime)
	assert.Equal(t, frame.UnitADU, master.Unit)
	assert.Equal(t, "first.fits", master.OrigFile())
}

func TestCombineBias(t *testing.T) {
	t.Parallel()

	frames := []*frame.Frame{
		constFrame(4, 4, 100),
		constFrame(4, 4, 102),
		constFrame(4, 4, 98),
	}
	master, err := CombineBias(frames, 0)
	require.NoError(t, err)
	assert.Equal(t, frame.AcqMasterBias, master.AcqType())
	assert.Equal(t, 100.0, master.Data[0])
}

func TestCombineDarksExposureConsistency(t *testing.T) {
	t.Parallel()

	mk := func(exptime float64) *frame.Frame {
		f := constFrame(4, 4, 150)
		f.ExpTime = exptime
		return f
	}

	t.Run("mixed exposures rejected", func(t *testing.T) {
		t.Parallel()
		_, err := CombineDarks([]*frame.Frame{mk(10), mk(90), mk(10)}, 0)
		assert.ErrorIs(t, err, ErrInconsistentExposure)
	})

	t.Run("uniform exposures combine", func(t *testing.T) {
		t.Parallel()
		master, err := CombineDarks([]*frame.Frame{mk(90), mk(90), mk(90)}, 0)
		require.NoError(t, err)
		assert.Equal(t, frame.AcqMasterDark, master.AcqType())
		assert.Equal(t, 90.0, master.ExpTime)
		assert.Equal(t, 150.0, master.Data[0])
	})

	t.Run("empty stack rejected", func(t *testing.T) {
		t.Parallel()
		_, err := CombineDarks(nil, 0)
		assert.ErrorIs(t, err, ErrEmptyInput)
	})
}
