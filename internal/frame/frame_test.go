package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmarthur/ASTEP/internal/fsutil"
)

func TestCategoryFromFilename(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		want Category
	}{
		{"2024-01-15_BIAS_0001.fits", CategoryBias},
		{"2024-01-15_DARK_0002.fits", CategoryDark},
		{"2024-01-15_SKYFLAT_0003.fits", CategorySkyFlat},
		{"2024-01-15_FLAT_0003.fits", CategorySkyFlat},
		{"2024-01-15_SCIENCE_0004.fits", CategoryScience},
		{"2024-01-15_MASTERDARK.fits", CategoryUnknown},
		{"readme.txt", CategoryUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CategoryFromFilename(tc.name), tc.name)
	}
}

func TestCategoryString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "BIAS", CategoryBias.String())
	assert.Equal(t, "DARK", CategoryDark.String())
	assert.Equal(t, "SKYFLAT", CategorySkyFlat.String())
	assert.Equal(t, "SCIENCE", CategoryScience.String())
	assert.Equal(t, "UNKNOWN", CategoryUnknown.String())
}

func TestLoadWriteRoundTrip(t *testing.T) {
	t.Parallel()

	m := fsutil.NewMemoryFileSystem()

	f := New(3, 2, UnitADU)
	for i := range f.Data {
		f.Data[i] = float64(100 + i)
	}
	f.ExpTime = 90
	f.Header.Set(KeyOrigFile, "orig_SCIENCE_0001.fits", "")
	require.NoError(t, f.Write(m, "/night/2024-01-15_SCIENCE_0001.fits"))

	got, err := Load(m, "/night/2024-01-15_SCIENCE_0001.fits", UnitADU)
	require.NoError(t, err)
	assert.Equal(t, f.Data, got.Data)
	assert.Equal(t, UnitADU, got.Unit)
	assert.Equal(t, 90.0, got.ExpTime)
	assert.Equal(t, CategoryScience, got.Category, "category is decided at load time from the filename")
	assert.Equal(t, "orig_SCIENCE_0001.fits", got.OrigFile())
}

func TestLoadDefaultUnit(t *testing.T) {
	t.Parallel()

	m := fsutil.NewMemoryFileSystem()
	f := New(2, 2, "") // no unit recorded
	require.NoError(t, f.Write(m, "/n/x_DARK.fits"))

	got, err := Load(m, "/n/x_DARK.fits", UnitADU)
	require.NoError(t, err)
	assert.Equal(t, UnitADU, got.Unit)
}

func TestGainReadNoiseDefaults(t *testing.T) {
	t.Parallel()

	f := New(2, 2, UnitADU)

	g, fromHeader := f.Gain(2.0)
	assert.Equal(t, 2.0, g)
	assert.False(t, fromHeader)

	f.Header.SetFloat(KeyGain, 1.6)
	g, fromHeader = f.Gain(2.0)
	assert.Equal(t, 1.6, g)
	assert.True(t, fromHeader)

	rn, fromHeader := f.ReadNoise(9.0)
	assert.Equal(t, 9.0, rn)
	assert.False(t, fromHeader)

	f.Header.SetFloat(KeyReadNoise, 7.5)
	rn, fromHeader = f.ReadNoise(9.0)
	assert.Equal(t, 7.5, rn)
	assert.True(t, fromHeader)
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	f := New(2, 2, UnitADU)
	f.Data[0] = 7
	f.Mask = []uint8{1, 0, 0, 0}
	f.Header.Set(KeyOrigFile, "a.fits", "")

	c := f.Clone()
	c.Data[0] = 99
	c.Mask[0] = 0
	c.Header.Set(KeyOrigFile, "b.fits", "")

	assert.Equal(t, 7.0, f.Data[0])
	assert.Equal(t, uint8(1), f.Mask[0])
	assert.Equal(t, "a.fits", f.OrigFile())
}

func TestAcqTypeTag(t *testing.T) {
	t.Parallel()

	f := New(2, 2, UnitADU)
	assert.Equal(t, AcqType(""), f.AcqType())
	f.SetAcqType(AcqMasterBias)
	assert.Equal(t, AcqMasterBias, f.AcqType())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	f := New(4, 4, UnitADU)
	assert.NoError(t, f.Validate())

	f.Data = f.Data[:3]
	assert.Error(t, f.Validate())

	bad := &Frame{Width: 0, Height: 4}
	assert.Error(t, bad.Validate())
}

func TestAtSetAt(t *testing.T) {
	t.Parallel()

	f := New(3, 2, UnitADU)
	f.SetAt(2, 1, 42)
	assert.Equal(t, 42.0, f.At(2, 1))
	assert.Equal(t, 42.0, f.Data[1*3+2])
}
