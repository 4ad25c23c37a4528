// Package report renders an HTML summary of a reduction run from the
// catalog: frames reduced per night, cosmic-ray rejection counts, masked
// pixels, and master-frame provenance.
package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/lmarthur/ASTEP/internal/catalog"
	"github.com/lmarthur/ASTEP/internal/fsutil"
)

// Render writes an HTML report for the run to w.
func Render(w io.Writer, run *catalog.Run, nights []*catalog.NightRecord, artifacts []*catalog.ArtifactRecord) error {
	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("Reduction run %s", run.RunID)

	page.AddCharts(
		framesChart(nights),
		cosmicChart(nights),
		artifactChart(artifacts),
	)

	if err := page.Render(w); err != nil {
		return fmt.Errorf("report: render run %s: %w", run.RunID, err)
	}
	return nil
}

// WriteFile renders the report through the filesystem abstraction.
func WriteFile(fsys fsutil.FileSystem, path string, run *catalog.Run, nights []*catalog.NightRecord, artifacts []*catalog.ArtifactRecord) error {
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", path, err)
	}
	if err := Render(f, run, nights, artifacts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// framesChart plots frames reduced per night, with skipped and failed nights
// visible as zero bars annotated by status.
func framesChart(nights []*catalog.NightRecord) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Frames reduced per night"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "night"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "frames"}),
	)

	labels := make([]string, 0, len(nights))
	reduced := make([]opts.BarData, 0, len(nights))
	for _, n := range nights {
		label := n.Night
		if n.Status != catalog.NightReduced {
			label = fmt.Sprintf("%s (%s)", n.Night, n.Status)
		}
		labels = append(labels, label)
		reduced = append(reduced, opts.BarData{Value: n.FramesReduced})
	}

	bar.SetXAxis(labels)
	bar.AddSeries("reduced", reduced)
	return bar
}

// cosmicChart plots cosmic-ray rejections and masked pixels per night.
func cosmicChart(nights []*catalog.NightRecord) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Pixel rejection per night"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "night"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "pixels"}),
	)

	labels := make([]string, 0, len(nights))
	cosmic := make([]opts.BarData, 0, len(nights))
	masked := make([]opts.BarData, 0, len(nights))
	for _, n := range nights {
		labels = append(labels, n.Night)
		cosmic = append(cosmic, opts.BarData{Value: n.CosmicRejected})
		masked = append(masked, opts.BarData{Value: n.MaskedPixels})
	}

	bar.SetXAxis(labels)
	bar.AddSeries("cosmic rays", cosmic)
	bar.AddSeries("masked pixels", masked)
	return bar
}

// artifactChart plots rebuilt vs reused master frames per night.
func artifactChart(artifacts []*catalog.ArtifactRecord) *charts.Bar {
	type counts struct{ built, reused int }
	byNight := make(map[string]*counts)
	var order []string
	for _, a := range artifacts {
		c, ok := byNight[a.Night]
		if !ok {
			c = &counts{}
			byNight[a.Night] = c
			order = append(order, a.Night)
		}
		if a.Reused {
			c.reused++
		} else {
			c.built++
		}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Master frames: rebuilt vs reused"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "night"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "masters"}),
	)

	built := make([]opts.BarData, 0, len(order))
	reused := make([]opts.BarData, 0, len(order))
	for _, night := range order {
		built = append(built, opts.BarData{Value: byNight[night].built})
		reused = append(reused, opts.BarData{Value: byNight[night].reused})
	}

	bar.SetXAxis(order)
	bar.AddSeries("rebuilt", built)
	bar.AddSeries("reused", reused)
	return bar
}
