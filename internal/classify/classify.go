// Package classify scans raw night directories and groups FITS files by
// acquisition category and exposure time. Only headers are read here; pixel
// data stays on disk until the combination step asks for it.
package classify

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/lmarthur/ASTEP/internal/fits"
	"github.com/lmarthur/ASTEP/internal/frame"
	"github.com/lmarthur/ASTEP/internal/fsutil"
	"github.com/lmarthur/ASTEP/internal/monitoring"
)

// flatSampleLimit bounds how many flat headers are opened when collecting
// flat exposure times. Sky flats within a night share one exposure setting,
// so sampling the first few is enough.
const flatSampleLimit = 5

// ExpSet is a set of distinct exposure times. Membership is exact float64
// equality; near-equal times from different acquisition runs do not match.
type ExpSet map[float64]struct{}

// Add inserts an exposure time.
func (s ExpSet) Add(t float64) { s[t] = struct{}{} }

// Intersects reports whether the two sets share at least one exposure time.
// A partial overlap is enough; subset containment is not required.
func (s ExpSet) Intersects(other ExpSet) bool {
	for t := range s {
		if _, ok := other[t]; ok {
			return true
		}
	}
	return false
}

// Sorted returns the exposure times in ascending order, for logging.
func (s ExpSet) Sorted() []float64 {
	out := make([]float64, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Float64s(out)
	return out
}

// Inventory is the classified content of one raw directory.
type Inventory struct {
	Dir string

	// Files maps each category to its raw file paths, sorted by name.
	Files map[frame.Category][]string

	// ExpTimes maps each category to the distinct exposure times seen in
	// its headers. Flats are sampled, not exhaustively read.
	ExpTimes map[frame.Category]ExpSet
}

// Has reports whether the inventory holds any file of the category.
func (inv *Inventory) Has(c frame.Category) bool {
	return len(inv.Files[c]) > 0
}

// ScanDir classifies every FITS file directly inside dir. A file whose
// exposure time cannot be read is dropped with a warning; the scan itself
// fails only when the directory cannot be listed.
func ScanDir(fsys fsutil.FileSystem, dir string) (*Inventory, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	inv := &Inventory{
		Dir:      dir,
		Files:    make(map[frame.Category][]string),
		ExpTimes: make(map[frame.Category]ExpSet),
	}

	flatsSampled := 0
	for _, e := range entries {
		if e.IsDir() || !isFITS(e.Name()) {
			continue
		}
		cat := frame.CategoryFromFilename(e.Name())
		if cat == frame.CategoryUnknown {
			continue
		}
		path := filepath.Join(dir, e.Name())

		sample := cat != frame.CategorySkyFlat || flatsSampled < flatSampleLimit
		if sample {
			hdr, err := fits.ReadHeaderFile(fsys, path)
			if err != nil {
				monitoring.Warnf("classify: skipping %s: %v", path, err)
				continue
			}
			exptime, ok := hdr.Float(frame.KeyExpTime)
			if !ok {
				monitoring.Warnf("classify: skipping %s: no %s card", path, frame.KeyExpTime)
				continue
			}
			if inv.ExpTimes[cat] == nil {
				inv.ExpTimes[cat] = make(ExpSet)
			}
			inv.ExpTimes[cat].Add(exptime)
			if cat == frame.CategorySkyFlat {
				flatsSampled++
			}
		}
		inv.Files[cat] = append(inv.Files[cat], path)
	}

	for cat, files := range inv.Files {
		monitoring.Logf("classify: %s: %d %s files, exposures %v",
			dir, len(files), cat, inv.ExpTimes[cat].Sorted())
	}
	return inv, nil
}

func isFITS(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".fits" || ext == ".fit" || ext == ".fts"
}
