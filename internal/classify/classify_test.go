package classify

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmarthur/ASTEP/internal/fits"
	"github.com/lmarthur/ASTEP/internal/frame"
	"github.com/lmarthur/ASTEP/internal/fsutil"
	"github.com/lmarthur/ASTEP/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

func writeRaw(t *testing.T, fsys fsutil.FileSystem, path string, exptime float64) {
	t.Helper()
	f := frame.New(2, 2, frame.UnitADU)
	f.ExpTime = exptime
	require.NoError(t, f.Write(fsys, path))
}

func writeNoExptime(t *testing.T, fsys fsutil.FileSystem, path string) {
	t.Helper()
	require.NoError(t, fits.WriteFile(fsys, path, &fits.Image{
		Width: 2, Height: 2, Data: make([]float64, 4), Header: fits.NewHeader(),
	}))
}

func TestScanDirGroupsByCategory(t *testing.T) {
	t.Parallel()

	m := fsutil.NewMemoryFileSystem()
	writeRaw(t, m, "/night/a_BIAS_001.fits", 0)
	writeRaw(t, m, "/night/a_BIAS_002.fits", 0)
	writeRaw(t, m, "/night/a_DARK_001.fits", 90)
	writeRaw(t, m, "/night/a_DARK_002.fits", 10)
	writeRaw(t, m, "/night/a_SCIENCE_001.fits", 90)
	writeRaw(t, m, "/night/notes.txt", 5)

	inv, err := ScanDir(m, "/night")
	require.NoError(t, err)

	assert.Len(t, inv.Files[frame.CategoryBias], 2)
	assert.Len(t, inv.Files[frame.CategoryDark], 2)
	assert.Len(t, inv.Files[frame.CategoryScience], 1)
	assert.False(t, inv.Has(frame.CategorySkyFlat))

	assert.Equal(t, []float64{10, 90}, inv.ExpTimes[frame.CategoryDark].Sorted())
	assert.Equal(t, []float64{90}, inv.ExpTimes[frame.CategoryScience].Sorted())
}

func TestScanDirSamplesFlatHeaders(t *testing.T) {
	t.Parallel()

	m := fsutil.NewMemoryFileSystem()
	for i := 0; i < 5; i++ {
		writeRaw(t, m, fmt.Sprintf("/flat/a_SKYFLAT_%03d.fits", i), 5)
	}
	// Beyond the sample limit: listed, but the header never opened.
	writeRaw(t, m, "/flat/a_SKYFLAT_005.fits", 99)
	writeRaw(t, m, "/flat/a_SKYFLAT_006.fits", 99)

	inv, err := ScanDir(m, "/flat")
	require.NoError(t, err)

	assert.Len(t, inv.Files[frame.CategorySkyFlat], 7)
	assert.Equal(t, []float64{5}, inv.ExpTimes[frame.CategorySkyFlat].Sorted())
}

func TestScanDirSkipsUnreadableHeaders(t *testing.T) {
	t.Parallel()

	m := fsutil.NewMemoryFileSystem()
	writeRaw(t, m, "/night/a_DARK_001.fits", 90)
	writeNoExptime(t, m, "/night/a_DARK_002.fits")
	require.NoError(t, m.WriteFile("/night/a_DARK_003.fits", []byte("not fits"), 0644))

	inv, err := ScanDir(m, "/night")
	require.NoError(t, err)

	assert.Len(t, inv.Files[frame.CategoryDark], 1, "unreadable files are dropped, not fatal")
}

func TestScanDirMissingDirectory(t *testing.T) {
	t.Parallel()

	m := fsutil.NewMemoryFileSystem()
	_, err := ScanDir(m, "/nope")
	assert.Error(t, err)
}

func TestExpSetIntersects(t *testing.T) {
	t.Parallel()

	a := ExpSet{10: {}, 90: {}}
	b := ExpSet{90: {}, 300: {}}
	c := ExpSet{5: {}}

	assert.True(t, a.Intersects(b), "partial overlap suffices")
	assert.False(t, a.Intersects(c))
	assert.False(t, ExpSet{}.Intersects(a))
}
