// Package pipeline drives the per-night reduction: discover night
// directories, classify and resolve each night, build or reuse master
// frames, then reduce every science frame through a bounded worker pool.
//
// Night-level failures are contained: a bad night is logged and recorded,
// and the run moves on. The one exception is a missing master-flat artifact,
// which signals a pipeline invariant violation and aborts the run.
package pipeline

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/lmarthur/ASTEP/internal/catalog"
	"github.com/lmarthur/ASTEP/internal/classify"
	"github.com/lmarthur/ASTEP/internal/combine"
	"github.com/lmarthur/ASTEP/internal/config"
	"github.com/lmarthur/ASTEP/internal/flatfield"
	"github.com/lmarthur/ASTEP/internal/frame"
	"github.com/lmarthur/ASTEP/internal/fsutil"
	"github.com/lmarthur/ASTEP/internal/monitoring"
	"github.com/lmarthur/ASTEP/internal/reduce"
	"github.com/lmarthur/ASTEP/internal/resolve"
)

// nightRe matches observing-night date prefixes.
var nightRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// calSuffix marks calibrated science outputs; its presence in an output
// directory is the whole-night resumability marker.
const calSuffix = "_CAL.fits"

// Night status values, shared with the catalog.
const (
	StatusReduced = catalog.NightReduced
	StatusSkipped = catalog.NightSkipped
	StatusFailed  = catalog.NightFailed
)

// Options configures a Pipeline beyond its tuning config.
type Options struct {
	// Force bypasses both resumability checks: completed nights are
	// reduced again and cached master frames are rebuilt.
	Force bool

	// Catalog records run provenance when non-nil.
	Catalog *catalog.Catalog
}

// Pipeline reduces observing nights under a data root.
type Pipeline struct {
	fsys  fsutil.FileSystem
	cfg   *config.ReductionConfig
	force bool
	cat   *catalog.Catalog

	runID string
}

// New creates a pipeline over the given filesystem and tuning config.
func New(fsys fsutil.FileSystem, cfg *config.ReductionConfig, opts Options) *Pipeline {
	if cfg == nil {
		cfg = config.EmptyConfig()
	}
	return &Pipeline{
		fsys:  fsys,
		cfg:   cfg,
		force: opts.Force,
		cat:   opts.Catalog,
	}
}

// NightResult is one night's outcome.
type NightResult struct {
	Night  string
	Status string
	Detail string

	FramesReduced  int
	CosmicRejected int
	MaskedPixels   int

	// MastersBuilt and MastersReused count master-frame artifacts
	// combined this run versus loaded from disk.
	MastersBuilt  int
	MastersReused int
}

// Summary aggregates a full run.
type Summary struct {
	Nights        []*NightResult
	FramesReduced int
}

// DiscoverNights lists the night names under root that carry a science
// directory, sorted ascending.
func (p *Pipeline) DiscoverNights(root string) ([]string, error) {
	entries, err := p.fsys.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("discover nights: %w", err)
	}

	suffix := p.cfg.GetScienceDirSuffix()
	var nights []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		night := strings.TrimSuffix(e.Name(), suffix)
		if nightRe.MatchString(night) {
			nights = append(nights, night)
		}
	}
	sort.Strings(nights)
	return nights, nil
}

// Run reduces every night under root. Per-night errors are recorded and the
// run continues; a missing master-flat artifact aborts the whole run.
func (p *Pipeline) Run(root string) (*Summary, error) {
	nights, err := p.DiscoverNights(root)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("pipeline: %d nights under %s", len(nights), root)

	var run *catalog.Run
	if p.cat != nil {
		run, err = p.cat.BeginRun()
		if err != nil {
			return nil, err
		}
		p.runID = run.RunID
	}

	sum := &Summary{}
	for _, night := range nights {
		res, err := p.ReduceNight(root, night)
		if err != nil {
			res = &NightResult{Night: night, Status: StatusFailed, Detail: err.Error()}
			if errors.Is(err, flatfield.ErrMissingArtifact) {
				p.recordNight(res)
				sum.Nights = append(sum.Nights, res)
				return sum, err
			}
			monitoring.Warnf("pipeline: night %s failed: %v", night, err)
		}
		p.recordNight(res)
		sum.Nights = append(sum.Nights, res)
		sum.FramesReduced += res.FramesReduced
	}

	if p.cat != nil {
		run.NightsTotal = len(sum.Nights)
		run.FramesReduced = sum.FramesReduced
		if err := p.cat.FinishRun(run); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

// ReduceNight reduces one night. The returned error is the night's failure;
// callers decide whether it is fatal to the run.
func (p *Pipeline) ReduceNight(root, night string) (*NightResult, error) {
	sciDir := filepath.Join(root, night+p.cfg.GetScienceDirSuffix())
	flatDir := filepath.Join(root, night+p.cfg.GetFlatDirSuffix())
	calDir := filepath.Join(root, night+p.cfg.GetOutputDirSuffix())

	res := &NightResult{Night: night, Status: StatusReduced}

	if !p.force && p.hasCalibratedOutput(calDir) {
		res.Status = StatusSkipped
		res.Detail = "already calibrated"
		monitoring.Logf("pipeline: %s already calibrated, skipping", night)
		return res, nil
	}

	sciInv, err := classify.ScanDir(p.fsys, sciDir)
	if err != nil {
		return nil, fmt.Errorf("night %s: %w", night, err)
	}

	var flatInv *classify.Inventory
	if p.fsys.Exists(flatDir) {
		flatInv, err = classify.ScanDir(p.fsys, flatDir)
		if err != nil {
			return nil, fmt.Errorf("night %s: %w", night, err)
		}
	}

	plan, err := resolve.Resolve(sciInv, flatInv)
	if errors.Is(err, resolve.ErrNoScienceFrames) {
		res.Status = StatusSkipped
		res.Detail = "no science frames"
		monitoring.Warnf("pipeline: %s has no science frames, skipping", night)
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("night %s: %w", night, err)
	}

	corr, err := p.buildMasters(plan, night, calDir, res)
	if err != nil {
		return nil, fmt.Errorf("night %s: %w", night, err)
	}

	if err := p.reduceScience(plan, corr, calDir, res); err != nil {
		return nil, fmt.Errorf("night %s: %w", night, err)
	}

	monitoring.Logf("pipeline: %s done: %d frames, %d cosmic rays rejected",
		night, res.FramesReduced, res.CosmicRejected)
	return res, nil
}

// hasCalibratedOutput reports whether the output directory already holds
// calibrated science frames.
func (p *Pipeline) hasCalibratedOutput(calDir string) bool {
	entries, err := p.fsys.ReadDir(calDir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), calSuffix) {
			return true
		}
	}
	return false
}

// buildMasters turns the plan's raw stacks into master frames, reusing
// on-disk artifacts unless force is set. Masters are built sequentially so
// each combination gets the full memory ceiling.
func (p *Pipeline) buildMasters(plan *resolve.Plan, night, calDir string, res *NightResult) (reduce.Corrections, error) {
	var corr reduce.Corrections
	memLimit := p.cfg.GetMemLimitBytes()

	if len(plan.Bias) > 0 {
		bias, err := p.masterFrame(night, calDir, night+"_MASTERBIAS.fits", catalog.ArtifactMasterBias, res,
			func() (*frame.Frame, error) {
				return combine.CombineBiasFiles(p.fsys, plan.Bias, memLimit)
			})
		if err != nil {
			return corr, err
		}
		corr.Bias = bias
	}

	if len(plan.ScienceDark) > 0 {
		dark, err := p.masterFrame(night, calDir, night+"_MASTERDARK.fits", catalog.ArtifactMasterDark, res,
			func() (*frame.Frame, error) {
				return combine.CombineDarksFiles(p.fsys, plan.ScienceDark, memLimit)
			})
		if err != nil {
			return corr, err
		}
		corr.Dark = dark
	}

	var flatDark *frame.Frame
	switch {
	case plan.SharedDark:
		// One shared stack, two artifact names: the flat consumer's copy
		// is persisted under its own path so either master can be reused
		// on its own in a later run.
		fd, err := p.masterFrame(night, calDir, night+"_MASTERDARK_FLAT.fits", catalog.ArtifactMasterDarkFlat, res,
			func() (*frame.Frame, error) {
				return corr.Dark.Clone(), nil
			})
		if err != nil {
			return corr, err
		}
		flatDark = fd
	case len(plan.FlatDark) > 0:
		fd, err := p.masterFrame(night, calDir, night+"_MASTERDARK_FLAT.fits", catalog.ArtifactMasterDarkFlat, res,
			func() (*frame.Frame, error) {
				return combine.CombineDarksFiles(p.fsys, plan.FlatDark, memLimit)
			})
		if err != nil {
			return corr, err
		}
		flatDark = fd
	}

	if plan.FlatCorrection() {
		flatPath := filepath.Join(calDir, night+"_MASTERFLAT.fits")
		flat, err := p.masterFrame(night, calDir, night+"_MASTERFLAT.fits", catalog.ArtifactMasterFlat, res,
			func() (*frame.Frame, error) {
				return flatfield.GenerateFlatFiles(p.fsys, plan.Flats, flatDark, p.cfg.GetClipSigma(), memLimit)
			})
		if err != nil {
			return corr, err
		}
		corr.Flat = flat

		// The mask derives from the persisted master flat, not the
		// in-memory copy: a master flat that should be on disk but is
		// not means an earlier stage was lost, fatal to the run.
		mask, err := p.masterFrame(night, calDir, night+"_MASK.fits", catalog.ArtifactMask, res,
			func() (*frame.Frame, error) {
				onDisk, err := flatfield.LoadMasterFlat(p.fsys, flatPath)
				if err != nil {
					return nil, err
				}
				return flatfield.GenerateMask(onDisk, p.cfg.GetMaskBox(), p.cfg.GetMaskThreshold())
			})
		if err != nil {
			return corr, err
		}
		corr.Mask = mask

		for _, v := range mask.Data {
			if v != 0 {
				res.MaskedPixels++
			}
		}
	}

	return corr, nil
}

// masterFrame loads a cached master artifact or builds and persists a new
// one. Reuse is a path/existence check only; the pipeline does not verify
// the underlying raw frames are unchanged.
func (p *Pipeline) masterFrame(night, calDir, name, kind string, res *NightResult, build func() (*frame.Frame, error)) (*frame.Frame, error) {
	path := filepath.Join(calDir, name)

	if !p.force && p.fsys.Exists(path) {
		m, err := frame.Load(p.fsys, path, frame.UnitADU)
		if err != nil {
			return nil, fmt.Errorf("load cached %s: %w", path, err)
		}
		res.MastersReused++
		p.recordArtifact(night, kind, path, true)
		monitoring.Logf("pipeline: reusing %s", path)
		return m, nil
	}

	m, err := build()
	if err != nil {
		return nil, err
	}
	if err := m.Write(p.fsys, path); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	res.MastersBuilt++
	p.recordArtifact(night, kind, path, false)
	return m, nil
}

// reduceScience runs the per-frame reduction across a worker pool. Frames
// are independent once the masters exist, so the order of completion does
// not matter; any frame failure fails the night.
func (p *Pipeline) reduceScience(plan *resolve.Plan, corr reduce.Corrections, calDir string, res *NightResult) error {
	workers := p.cfg.GetWorkers()
	if workers > len(plan.Science) {
		workers = len(plan.Science)
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				rejected, err := p.reduceOne(path, corr, calDir)
				mu.Lock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
				} else {
					res.FramesReduced++
					res.CosmicRejected += rejected
				}
				mu.Unlock()
			}
		}()
	}

	for _, path := range plan.Science {
		jobs <- path
	}
	close(jobs)
	wg.Wait()

	return firstErr
}

// reduceOne calibrates one science frame: corrections, gain conversion,
// cosmic-ray rejection, then the _CAL output with the original header
// preserved.
func (p *Pipeline) reduceOne(path string, corr reduce.Corrections, calDir string) (int, error) {
	sci, err := frame.Load(p.fsys, path, frame.UnitADU)
	if err != nil {
		return 0, fmt.Errorf("load %s: %w", path, err)
	}

	cal, err := reduce.Calibrate(sci, corr)
	if err != nil {
		return 0, err
	}

	gain, fromHeader := cal.Gain(p.cfg.GetDefaultGain())
	if !fromHeader {
		monitoring.Warnf("no GAIN in %s, assuming %g e-/ADU", filepath.Base(path), gain)
	}
	reduce.GainCorrect(cal, gain)

	rn, fromHeader := cal.ReadNoise(p.cfg.GetDefaultReadNoise())
	if !fromHeader {
		monitoring.Warnf("no RDNOISE in %s, assuming %g e-", filepath.Base(path), rn)
	}

	cleaned, rejected, err := reduce.RemoveCosmicRays(cal, reduce.DefaultCosmicParams(rn, p.cfg.GetCosmicSigClip()))
	if err != nil {
		return 0, err
	}
	cleaned.SetAcqType(frame.AcqCalibrated)

	// The output name follows the acquisition-time filename when the
	// header records one; the on-disk name is the fallback.
	stem := cleaned.OrigFile()
	if stem == "" {
		stem = filepath.Base(path)
	}
	stem = strings.TrimSuffix(stem, filepath.Ext(stem))
	outPath := filepath.Join(calDir, stem+calSuffix)
	if err := cleaned.Write(p.fsys, outPath); err != nil {
		return 0, fmt.Errorf("write %s: %w", outPath, err)
	}
	return rejected, nil
}

func (p *Pipeline) recordNight(res *NightResult) {
	if p.cat == nil || p.runID == "" {
		return
	}
	err := p.cat.RecordNight(&catalog.NightRecord{
		RunID:          p.runID,
		Night:          res.Night,
		Status:         res.Status,
		FramesReduced:  res.FramesReduced,
		CosmicRejected: res.CosmicRejected,
		MaskedPixels:   res.MaskedPixels,
		Detail:         res.Detail,
	})
	if err != nil {
		monitoring.Warnf("catalog: %v", err)
	}
}

func (p *Pipeline) recordArtifact(night, kind, path string, reused bool) {
	if p.cat == nil || p.runID == "" {
		return
	}
	err := p.cat.RecordArtifact(&catalog.ArtifactRecord{
		RunID:  p.runID,
		Night:  night,
		Kind:   kind,
		Path:   path,
		Reused: reused,
	})
	if err != nil {
		monitoring.Warnf("catalog: %v", err)
	}
}
