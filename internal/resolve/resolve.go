// Package resolve builds the per-night correction plan. It consumes the
// classifier's inventories and decides which of bias, dark, flat and mask
// correction apply, and from which directory each calibration stack comes,
// under partial availability. The rules are evaluated as an ordered decision
// table producing one Plan value, so each rule is testable on its own.
package resolve

import (
	"errors"
	"fmt"

	"github.com/lmarthur/ASTEP/internal/classify"
	"github.com/lmarthur/ASTEP/internal/frame"
	"github.com/lmarthur/ASTEP/internal/monitoring"
)

// ErrNoScienceFrames reports a night with nothing to reduce. The night is
// skipped; the run continues.
var ErrNoScienceFrames = errors.New("resolve: no science frames in night")

// DarkSource says where a dark stack comes from.
type DarkSource int

const (
	DarkNone DarkSource = iota

	// DarkLocal is the consumer's own directory.
	DarkLocal

	// DarkBorrowed is the sibling directory, substituted on an
	// exposure-time intersection.
	DarkBorrowed
)

func (s DarkSource) String() string {
	switch s {
	case DarkLocal:
		return "local"
	case DarkBorrowed:
		return "borrowed"
	default:
		return "none"
	}
}

// BiasSource says where the fallback bias stack comes from.
type BiasSource int

const (
	BiasNone BiasSource = iota
	BiasScienceDir
	BiasFlatDir
)

func (s BiasSource) String() string {
	switch s {
	case BiasScienceDir:
		return "science dir"
	case BiasFlatDir:
		return "flat dir"
	default:
		return "none"
	}
}

// Plan is one night's resolved correction plan. File lists are raw paths to
// be combined into masters; empty lists mean that correction is skipped.
type Plan struct {
	Science []string

	// ScienceDark is the stack behind the science master dark.
	ScienceDark       []string
	ScienceDarkSource DarkSource

	// FlatDark is the stack behind the flat master dark.
	FlatDark       []string
	FlatDarkSource DarkSource

	// SharedDark is set when the two dark stacks are the same file list,
	// so one master dark serves both consumers.
	SharedDark bool

	// Bias is the fallback stack used only when science dark correction
	// is skipped.
	Bias       []string
	BiasSource BiasSource

	// Flats is the sky-flat stack; empty disables flat and mask.
	Flats []string

	// Decisions records which rule produced each choice, in order.
	Decisions []string
}

// FlatCorrection reports whether flat-field division (and hence masking)
// applies this night.
func (p *Plan) FlatCorrection() bool { return len(p.Flats) > 0 }

func (p *Plan) decide(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	p.Decisions = append(p.Decisions, msg)
	monitoring.Logf("resolve: %s", msg)
}

// Resolve evaluates the decision rules against the science-directory
// inventory and the flat-directory inventory. flat is nil when the night has
// no flat directory.
func Resolve(sci *classify.Inventory, flat *classify.Inventory) (*Plan, error) {
	if sci == nil || !sci.Has(frame.CategoryScience) {
		return nil, ErrNoScienceFrames
	}

	p := &Plan{Science: sci.Files[frame.CategoryScience]}

	if flat == nil {
		p.decide("no flat directory: flat and mask skipped")
	} else if !flat.Has(frame.CategorySkyFlat) {
		p.decide("flat directory has no sky flats: flat and mask skipped")
	} else {
		p.Flats = flat.Files[frame.CategorySkyFlat]
		p.decide("flat correction from %d sky flats", len(p.Flats))
	}

	resolveScienceDark(p, sci, flat)
	resolveFlatDark(p, sci, flat)

	// One shared master dark when both consumers draw on the exact same
	// file list. Equality is at the file-list level, never pixel data.
	if len(p.ScienceDark) > 0 && len(p.FlatDark) > 0 && sameFiles(p.ScienceDark, p.FlatDark) {
		p.SharedDark = true
		p.decide("science and flat darks are the same files: one shared master dark")
	}

	if p.ScienceDarkSource == DarkNone {
		resolveBias(p, sci, flat)
	}

	return p, nil
}

// resolveScienceDark applies the science-dark rule: local darks always serve
// their own directory, with the exposure-ratio scaling in calibration
// absorbing any mismatch; only borrowing from the flat directory is gated on
// an exposure-time intersection.
func resolveScienceDark(p *Plan, sci, flat *classify.Inventory) {
	if sci.Has(frame.CategoryDark) {
		p.ScienceDark = sci.Files[frame.CategoryDark]
		p.ScienceDarkSource = DarkLocal
		p.decide("science dark correction from local darks")
		return
	}

	sciExp := sci.ExpTimes[frame.CategoryScience]
	if flat != nil && flat.Has(frame.CategoryDark) &&
		sciExp.Intersects(flat.ExpTimes[frame.CategoryDark]) {
		p.ScienceDark = flat.Files[frame.CategoryDark]
		p.ScienceDarkSource = DarkBorrowed
		p.decide("science dark correction borrowed from the flat directory")
		return
	}

	p.decide("no compatible darks for science frames: dark correction skipped")
}

// resolveFlatDark applies the symmetric rule for flat-field dark correction.
func resolveFlatDark(p *Plan, sci, flat *classify.Inventory) {
	if !p.FlatCorrection() {
		return
	}

	if flat.Has(frame.CategoryDark) {
		p.FlatDark = flat.Files[frame.CategoryDark]
		p.FlatDarkSource = DarkLocal
		p.decide("flat dark correction from the flat directory's darks")
		return
	}

	flatExp := flat.ExpTimes[frame.CategorySkyFlat]
	if sci.Has(frame.CategoryDark) && flatExp.Intersects(sci.ExpTimes[frame.CategoryDark]) {
		p.FlatDark = sci.Files[frame.CategoryDark]
		p.FlatDarkSource = DarkBorrowed
		p.decide("flat dark correction borrowed from the science directory")
		return
	}

	p.decide("no compatible darks for flats: flat dark correction skipped")
}

// resolveBias applies the bias fallback, tried only when science dark
// correction was skipped. Science-directory bias frames take priority.
func resolveBias(p *Plan, sci, flat *classify.Inventory) {
	if sci.Has(frame.CategoryBias) {
		p.Bias = sci.Files[frame.CategoryBias]
		p.BiasSource = BiasScienceDir
		p.decide("bias fallback from the science directory")
		return
	}
	if flat != nil && flat.Has(frame.CategoryBias) {
		p.Bias = flat.Files[frame.CategoryBias]
		p.BiasSource = BiasFlatDir
		p.decide("bias fallback from the flat directory")
		return
	}
	p.decide("no bias frames anywhere: reduction proceeds without bias or dark")
}

func sameFiles(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
