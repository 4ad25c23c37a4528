// Package frame defines the raw and calibrated CCD frame model shared by the
// reduction pipeline: pixel data, acquisition metadata, category tagging and
// FITS-backed load/store.
package frame

import (
	"fmt"
	"strings"

	"github.com/lmarthur/ASTEP/internal/fits"
	"github.com/lmarthur/ASTEP/internal/fsutil"
	"github.com/lmarthur/ASTEP/internal/stats"
)

// Category identifies what a raw file is, decided once at ingestion from the
// filename and never re-derived afterwards.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryBias
	CategoryDark
	CategorySkyFlat
	CategoryScience
)

// String returns the category name used in log output.
func (c Category) String() string {
	switch c {
	case CategoryBias:
		return "BIAS"
	case CategoryDark:
		return "DARK"
	case CategorySkyFlat:
		return "SKYFLAT"
	case CategoryScience:
		return "SCIENCE"
	default:
		return "UNKNOWN"
	}
}

// CategoryFromFilename classifies a raw file by its name. The acquisition
// system tags files with a category substring; SKYFLAT is checked before the
// generic FLAT spelling some older nights use.
func CategoryFromFilename(name string) Category {
	switch {
	case strings.Contains(name, "_BIAS"):
		return CategoryBias
	case strings.Contains(name, "_DARK"):
		return CategoryDark
	case strings.Contains(name, "_SKYFLAT"), strings.Contains(name, "_FLAT"):
		return CategorySkyFlat
	case strings.Contains(name, "_SCIENCE"):
		return CategoryScience
	default:
		return CategoryUnknown
	}
}

// AcqType tags a derived artifact in its header.
type AcqType string

const (
	AcqMasterBias AcqType = "MASTERBIAS"
	AcqMasterDark AcqType = "MASTERDARK"
	AcqMasterFlat AcqType = "MASTERFLAT"
	AcqMask       AcqType = "MASK"
	AcqCalibrated AcqType = "SCIENCE_CAL"
)

// Pixel units. Raw frames arrive in ADU; gain conversion produces electrons.
const (
	UnitADU      = "adu"
	UnitElectron = "electron"
)

// Header keywords read or written by the pipeline.
const (
	KeyUnit      = "BUNIT"
	KeyExpTime   = "EXPTIME"
	KeyGain      = "GAIN"
	KeyReadNoise = "RDNOISE"
	KeyOrigFile  = "ORIGFILE"
	KeyAcqType   = "ACQTYPE"
)

// Frame is a 2-D CCD exposure plus its acquisition metadata. Raw frames are
// treated as immutable once loaded; calibration always works on copies.
type Frame struct {
	Width    int
	Height   int
	Data     []float64
	Unit     string
	ExpTime  float64
	Category Category
	Header   *fits.Header

	// Mask flags defective pixels (1 = defective). Attached by calibration,
	// never consulted by the numeric corrections themselves.
	Mask []uint8
}

// New creates a zero-filled frame with a fresh header.
func New(width, height int, unit string) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		Data:   make([]float64, width*height),
		Unit:   unit,
		Header: fits.NewHeader(),
	}
}

// Load reads a FITS file into a Frame. The unit comes from the BUNIT card
// when present, else defaultUnit is assumed (raw camera files omit BUNIT).
// The category is decided here, from the filename, once.
func Load(fsys fsutil.FileSystem, path, defaultUnit string) (*Frame, error) {
	img, err := fits.ReadFile(fsys, path)
	if err != nil {
		return nil, err
	}

	f := &Frame{
		Width:    img.Width,
		Height:   img.Height,
		Data:     img.Data,
		Header:   img.Header,
		Category: CategoryFromFilename(path),
	}
	if unit, ok := img.Header.Get(KeyUnit); ok && unit != "" {
		f.Unit = unit
	} else {
		f.Unit = defaultUnit
	}
	if exptime, ok := img.Header.Float(KeyExpTime); ok {
		f.ExpTime = exptime
	}
	return f, nil
}

// Write stores the frame as FITS, with unit and exposure time mirrored into
// the header so downstream tools see them.
func (f *Frame) Write(fsys fsutil.FileSystem, path string) error {
	hdr := f.Header
	if hdr == nil {
		hdr = fits.NewHeader()
	} else {
		hdr = hdr.Clone()
	}
	if f.Unit != "" {
		hdr.Set(KeyUnit, f.Unit, "")
	}
	hdr.SetFloat(KeyExpTime, f.ExpTime)

	return fits.WriteFile(fsys, path, &fits.Image{
		Width:  f.Width,
		Height: f.Height,
		Data:   f.Data,
		Header: hdr,
	})
}

// Clone deep-copies the frame, including header and mask.
func (f *Frame) Clone() *Frame {
	c := &Frame{
		Width:    f.Width,
		Height:   f.Height,
		Data:     make([]float64, len(f.Data)),
		Unit:     f.Unit,
		ExpTime:  f.ExpTime,
		Category: f.Category,
	}
	copy(c.Data, f.Data)
	if f.Header != nil {
		c.Header = f.Header.Clone()
	}
	if f.Mask != nil {
		c.Mask = make([]uint8, len(f.Mask))
		copy(c.Mask, f.Mask)
	}
	return c
}

// SameShape reports whether two frames have identical dimensions.
func (f *Frame) SameShape(other *Frame) bool {
	return f.Width == other.Width && f.Height == other.Height
}

// Median returns the median pixel value.
func (f *Frame) Median() float64 {
	return stats.Median(f.Data)
}

// Gain returns the per-frame gain in electrons per ADU. The second return
// reports whether the value came from the header or the supplied default.
func (f *Frame) Gain(def float64) (float64, bool) {
	if f.Header != nil {
		if g, ok := f.Header.Float(KeyGain); ok {
			return g, true
		}
	}
	return def, false
}

// ReadNoise returns the per-frame read noise in electrons, falling back to
// the supplied default when the header carries none.
func (f *Frame) ReadNoise(def float64) (float64, bool) {
	if f.Header != nil {
		if rn, ok := f.Header.Float(KeyReadNoise); ok {
			return rn, true
		}
	}
	return def, false
}

// OrigFile returns the acquisition-time filename recorded in the header,
// or the empty string when absent.
func (f *Frame) OrigFile() string {
	if f.Header == nil {
		return ""
	}
	v, _ := f.Header.Get(KeyOrigFile)
	return v
}

// SetAcqType tags the frame header with its artifact type.
func (f *Frame) SetAcqType(t AcqType) {
	if f.Header == nil {
		f.Header = fits.NewHeader()
	}
	f.Header.Set(KeyAcqType, string(t), "")
}

// AcqType returns the artifact tag, or empty when the frame is raw.
func (f *Frame) AcqType() AcqType {
	if f.Header == nil {
		return ""
	}
	v, _ := f.Header.Get(KeyAcqType)
	return AcqType(v)
}

// At returns the pixel at column x, row y.
func (f *Frame) At(x, y int) float64 {
	return f.Data[y*f.Width+x]
}

// SetAt stores the pixel at column x, row y.
func (f *Frame) SetAt(x, y int, v float64) {
	f.Data[y*f.Width+x] = v
}

// Validate checks internal consistency, used before combination.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame dimensions %dx%d", f.Width, f.Height)
	}
	if len(f.Data) != f.Width*f.Height {
		return fmt.Errorf("frame data length %d does not match %dx%d", len(f.Data), f.Width, f.Height)
	}
	return nil
}
