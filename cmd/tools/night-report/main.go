// Command night-report renders an HTML summary of a reduction run from the
// run catalog.
package main

import (
	"flag"
	"log"

	"github.com/lmarthur/ASTEP/internal/catalog"
	"github.com/lmarthur/ASTEP/internal/fsutil"
	"github.com/lmarthur/ASTEP/internal/report"
)

var (
	dbPath = flag.String("catalog", "", "Run-catalog database path")
	runID  = flag.String("run", "", "Run ID to report on (default: most recent run)")
	out    = flag.String("out", "report.html", "Output HTML path")
)

func main() {
	flag.Parse()

	if *dbPath == "" {
		log.Fatal("night-report: -catalog is required")
	}

	cat, err := catalog.Open(*dbPath)
	if err != nil {
		log.Fatalf("night-report: %v", err)
	}
	defer cat.Close()

	run, err := cat.LatestRun()
	if err != nil {
		log.Fatalf("night-report: %v", err)
	}
	if run == nil {
		log.Fatal("night-report: catalog holds no runs")
	}
	if *runID != "" {
		run = &catalog.Run{RunID: *runID}
	}

	nights, err := cat.NightsForRun(run.RunID)
	if err != nil {
		log.Fatalf("night-report: %v", err)
	}
	artifacts, err := cat.ArtifactsForRun(run.RunID)
	if err != nil {
		log.Fatalf("night-report: %v", err)
	}

	if err := report.WriteFile(fsutil.OSFileSystem{}, *out, run, nights, artifacts); err != nil {
		log.Fatalf("night-report: %v", err)
	}
	log.Printf("wrote %s (%d nights)", *out, len(nights))
}
