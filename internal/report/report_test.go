package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmarthur/ASTEP/internal/catalog"
	"github.com/lmarthur/ASTEP/internal/fsutil"
)

func sampleRun() (*catalog.Run, []*catalog.NightRecord, []*catalog.ArtifactRecord) {
	run := &catalog.Run{RunID: "run-1", NightsTotal: 2, FramesReduced: 15}
	nights := []*catalog.NightRecord{
		{Night: "2024-01-15", Status: catalog.NightReduced, FramesReduced: 15, CosmicRejected: 120, MaskedPixels: 340},
		{Night: "2024-01-16", Status: catalog.NightSkipped, Detail: "already calibrated"},
	}
	artifacts := []*catalog.ArtifactRecord{
		{Night: "2024-01-15", Kind: catalog.ArtifactMasterDark, Path: "/cal/d.fits"},
		{Night: "2024-01-15", Kind: catalog.ArtifactMasterFlat, Path: "/cal/f.fits", Reused: true},
	}
	return run, nights, artifacts
}

func TestRenderProducesHTML(t *testing.T) {
	t.Parallel()

	run, nights, artifacts := sampleRun()

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, run, nights, artifacts))

	html := buf.String()
	assert.Contains(t, html, "<html")
	assert.Contains(t, html, "Frames reduced per night")
	assert.Contains(t, html, "2024-01-15")
	assert.Contains(t, html, "skipped", "non-reduced nights stay visible with their status")
}

func TestRenderEmptyRun(t *testing.T) {
	t.Parallel()

	run := &catalog.Run{RunID: "empty"}
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, run, nil, nil))
	assert.True(t, strings.Contains(buf.String(), "<html"))
}

func TestWriteFile(t *testing.T) {
	t.Parallel()

	run, nights, artifacts := sampleRun()
	m := fsutil.NewMemoryFileSystem()
	require.NoError(t, WriteFile(m, "/reports/run-1.html", run, nights, artifacts))

	data, err := m.ReadFile("/reports/run-1.html")
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
