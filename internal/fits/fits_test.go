package fits

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmarthur/ASTEP/internal/fsutil"
)

func buildImage(w, h int, fill float64) *Image {
	img := &Image{Width: w, Height: h, Data: make([]float64, w*h), Header: NewHeader()}
	for i := range img.Data {
		img.Data[i] = fill
	}
	return img
}

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	img := buildImage(4, 3, 0)
	for i := range img.Data {
		img.Data[i] = float64(i) * 1.25
	}
	img.Header.Set("BUNIT", "adu", "")
	img.Header.SetFloat("EXPTIME", 90)
	img.Header.SetFloat("GAIN", 2.3)
	img.Header.Set("ORIGFILE", "2024-01-15_SCIENCE_0001.fits", "original filename")

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, img))
	assert.Zero(t, buf.Len()%2880, "output must be block aligned")

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, img.Width, got.Width)
	assert.Equal(t, img.Height, got.Height)
	assert.Equal(t, img.Data, got.Data, "float64 pixels must round-trip exactly")

	unit, ok := got.Header.Get("BUNIT")
	require.True(t, ok)
	assert.Equal(t, "adu", unit)

	exptime, ok := got.Header.Float("EXPTIME")
	require.True(t, ok)
	assert.Equal(t, 90.0, exptime)

	orig, ok := got.Header.Get("ORIGFILE")
	require.True(t, ok)
	assert.Equal(t, "2024-01-15_SCIENCE_0001.fits", orig)
}

func TestReadHeaderOnly(t *testing.T) {
	t.Parallel()

	img := buildImage(16, 16, 42)
	img.Header.SetFloat("EXPTIME", 10)

	m := fsutil.NewMemoryFileSystem()
	require.NoError(t, WriteFile(m, "/night/a_DARK.fits", img))

	hdr, err := ReadHeaderFile(m, "/night/a_DARK.fits")
	require.NoError(t, err)
	exptime, ok := hdr.Float("EXPTIME")
	require.True(t, ok)
	assert.Equal(t, 10.0, exptime)
}

func TestReadInt16WithScaling(t *testing.T) {
	t.Parallel()

	// Hand-roll a BITPIX=16 file with BZERO/BSCALE, the native camera format.
	var header strings.Builder
	for _, c := range []string{
		formatCard("SIMPLE", "T", ""),
		formatCard("BITPIX", "16", ""),
		formatCard("NAXIS", "2", ""),
		formatCard("NAXIS1", "2", ""),
		formatCard("NAXIS2", "1", ""),
		formatCard("BZERO", "32768", ""),
		formatCard("BSCALE", "1", ""),
		formatCard("BUNIT", "'adu'", ""),
		padRecord("END"),
	} {
		header.WriteString(c)
	}
	for header.Len()%2880 != 0 {
		header.WriteString(strings.Repeat(" ", 80))
	}

	pix := make([]byte, 4)
	raw0, raw1 := int16(-32768), int16(-31768)
	binary.BigEndian.PutUint16(pix[0:], uint16(raw0)) // physical 0
	binary.BigEndian.PutUint16(pix[2:], uint16(raw1)) // physical 1000
	data := append([]byte(header.String()), pix...)
	data = append(data, make([]byte, 2880-len(pix))...)

	img, err := Read(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1000}, img.Data)

	unit, ok := img.Header.Get("BUNIT")
	require.True(t, ok)
	assert.Equal(t, "adu", unit)
}

func TestReadRejectsBadGeometry(t *testing.T) {
	t.Parallel()

	var header strings.Builder
	for _, c := range []string{
		formatCard("SIMPLE", "T", ""),
		formatCard("BITPIX", "16", ""),
		formatCard("NAXIS", "1", ""),
		formatCard("NAXIS1", "4", ""),
		padRecord("END"),
	} {
		header.WriteString(c)
	}
	for header.Len()%2880 != 0 {
		header.WriteString(strings.Repeat(" ", 80))
	}

	_, err := Read(strings.NewReader(header.String()))
	assert.Error(t, err)
}

func TestHeaderSetGetDelete(t *testing.T) {
	t.Parallel()

	h := NewHeader()
	h.Set("ACQTYPE", "MASTERBIAS", "")
	h.Set("acqtype", "MASTERDARK", "") // case-insensitive replace
	assert.Equal(t, 1, h.Len())

	v, ok := h.Get("ACQTYPE")
	require.True(t, ok)
	assert.Equal(t, "MASTERDARK", v)

	h.Set("RDNOISE", "9.0", "")
	h.Delete("ACQTYPE")
	assert.Equal(t, 1, h.Len())
	_, ok = h.Get("ACQTYPE")
	assert.False(t, ok)

	rn, ok := h.Float("RDNOISE")
	require.True(t, ok)
	assert.Equal(t, 9.0, rn)
}

func TestHeaderClone(t *testing.T) {
	t.Parallel()

	h := NewHeader()
	h.Set("ORIGFILE", "a.fits", "")
	c := h.Clone()
	c.Set("ORIGFILE", "b.fits", "")

	v, _ := h.Get("ORIGFILE")
	assert.Equal(t, "a.fits", v)
}

func TestSplitValueComment(t *testing.T) {
	t.Parallel()

	v, c := splitValueComment("    90.0 / exposure seconds")
	assert.Equal(t, "90.0", v)
	assert.Equal(t, "exposure seconds", c)

	v, c = splitValueComment("'a/b.fits'          / path with slash")
	assert.Equal(t, "'a/b.fits'", v)
	assert.Equal(t, "path with slash", c)
}

func TestRowReaderStreams(t *testing.T) {
	t.Parallel()

	img := buildImage(4, 6, 0)
	for i := range img.Data {
		img.Data[i] = float64(i) * 1.5
	}
	img.Header.SetFloat("EXPTIME", 5)

	m := fsutil.NewMemoryFileSystem()
	require.NoError(t, WriteFile(m, "/img.fits", img))

	r, err := OpenRows(m, "/img.fits")
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 4, r.Width())
	assert.Equal(t, 6, r.Height())
	exptime, ok := r.Header().Float("EXPTIME")
	require.True(t, ok)
	assert.Equal(t, 5.0, exptime)

	rows := make([]float64, 2*4)
	require.NoError(t, r.ReadRows(0, 2, rows))
	assert.Equal(t, img.Data[:8], rows)

	// A gap is skipped without decoding the rows in between.
	require.NoError(t, r.ReadRows(4, 6, rows))
	assert.Equal(t, img.Data[16:24], rows)

	assert.Error(t, r.ReadRows(0, 1, make([]float64, 4)), "rows cannot be revisited")
}

func TestRowReaderRejectsBadRanges(t *testing.T) {
	t.Parallel()

	img := buildImage(3, 3, 7)
	m := fsutil.NewMemoryFileSystem()
	require.NoError(t, WriteFile(m, "/img.fits", img))

	r, err := OpenRows(m, "/img.fits")
	require.NoError(t, err)
	defer r.Close()

	assert.Error(t, r.ReadRows(0, 4, make([]float64, 12)), "past the last row")
	assert.Error(t, r.ReadRows(0, 2, make([]float64, 3)), "destination too small")
}
