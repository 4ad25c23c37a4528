// Package testutil provides shared test fixtures for the reduction
// packages.
//
// This package centralises synthetic frame and night-directory construction
// to reduce duplication across test files.
package testutil

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/lmarthur/ASTEP/internal/frame"
	"github.com/lmarthur/ASTEP/internal/fsutil"
)

// ConstFrame builds a frame with every pixel at value.
func ConstFrame(w, h int, value, exptime float64) *frame.Frame {
	f := frame.New(w, h, frame.UnitADU)
	for i := range f.Data {
		f.Data[i] = value
	}
	f.ExpTime = exptime
	return f
}

// WriteRaw writes a constant-valued raw FITS file tagged with an original
// filename, as the acquisition system would produce it.
func WriteRaw(t *testing.T, fsys fsutil.FileSystem, path string, value, exptime float64, w, h int) {
	t.Helper()
	f := ConstFrame(w, h, value, exptime)
	f.Header.Set(frame.KeyOrigFile, filepath.Base(path), "")
	if err := f.Write(fsys, path); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// NightSpec describes the raw content of one synthetic observing night.
// Zero counts omit the category entirely.
type NightSpec struct {
	Night string

	Science  int
	SciExp   float64
	SciValue float64

	Darks    int
	DarkExp  float64
	DarkVal  float64
	FlatOnly bool // put the darks in the flat directory instead

	Bias    int
	BiasVal float64

	Flats   int
	FlatExp float64
	FlatVal float64

	Width, Height int
}

// BuildNight lays out a synthetic night under root using the standard
// directory suffixes and returns the science directory path.
func BuildNight(t *testing.T, fsys fsutil.FileSystem, root string, spec NightSpec) string {
	t.Helper()

	w, h := spec.Width, spec.Height
	if w == 0 {
		w, h = 8, 8
	}

	sciDir := fmt.Sprintf("%s/%s-CAMS", root, spec.Night)
	flatDir := fmt.Sprintf("%s/%s-CAMS_SKYFLAT", root, spec.Night)

	for i := 0; i < spec.Science; i++ {
		WriteRaw(t, fsys,
			fmt.Sprintf("%s/%s_SCIENCE_%03d.fits", sciDir, spec.Night, i),
			spec.SciValue, spec.SciExp, w, h)
	}
	for i := 0; i < spec.Darks; i++ {
		dir := sciDir
		if spec.FlatOnly {
			dir = flatDir
		}
		WriteRaw(t, fsys,
			fmt.Sprintf("%s/%s_DARK_%03d.fits", dir, spec.Night, i),
			spec.DarkVal, spec.DarkExp, w, h)
	}
	for i := 0; i < spec.Bias; i++ {
		WriteRaw(t, fsys,
			fmt.Sprintf("%s/%s_BIAS_%03d.fits", sciDir, spec.Night, i),
			spec.BiasVal, 0, w, h)
	}
	for i := 0; i < spec.Flats; i++ {
		WriteRaw(t, fsys,
			fmt.Sprintf("%s/%s_SKYFLAT_%03d.fits", flatDir, spec.Night, i),
			spec.FlatVal, spec.FlatExp, w, h)
	}

	return sciDir
}
