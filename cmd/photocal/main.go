// Command photocal reduces raw CCD exposures into calibrated science
// frames, one observing night at a time.
//
// Usage:
//
//	photocal -data /srv/astep/2024 [-night 2024-01-15] [-config tuning.json] [-force]
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/lmarthur/ASTEP/internal/catalog"
	"github.com/lmarthur/ASTEP/internal/config"
	"github.com/lmarthur/ASTEP/internal/fsutil"
	"github.com/lmarthur/ASTEP/internal/monitoring"
	"github.com/lmarthur/ASTEP/internal/pipeline"
)

var (
	dataRoot    = flag.String("data", "", "Data root holding per-night directories")
	night       = flag.String("night", "", "Reduce a single night (YYYY-MM-DD) instead of the whole root")
	configPath  = flag.String("config", "", "Optional JSON tuning config")
	catalogPath = flag.String("catalog", "", "Optional run-catalog database path (overrides config)")
	force       = flag.Bool("force", false, "Rebuild master frames and recalibrate completed nights")
	quiet       = flag.Bool("quiet", false, "Suppress progress logging")
)

func main() {
	flag.Parse()

	if *dataRoot == "" {
		fmt.Fprintln(os.Stderr, "photocal: -data is required")
		flag.Usage()
		os.Exit(2)
	}
	if *quiet {
		monitoring.SetLogger(nil)
	}

	cfg := config.EmptyConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("photocal: %v", err)
		}
	}

	opts := pipeline.Options{Force: *force}

	dbPath := cfg.GetCatalogPath()
	if *catalogPath != "" {
		dbPath = *catalogPath
	}
	if dbPath != "" {
		cat, err := catalog.Open(dbPath)
		if err != nil {
			log.Fatalf("photocal: %v", err)
		}
		defer cat.Close()
		opts.Catalog = cat
	}

	p := pipeline.New(fsutil.OSFileSystem{}, cfg, opts)

	if *night != "" {
		res, err := p.ReduceNight(*dataRoot, *night)
		if err != nil {
			log.Fatalf("photocal: %v", err)
		}
		report(res)
		return
	}

	sum, err := p.Run(*dataRoot)
	if err != nil {
		log.Fatalf("photocal: %v", err)
	}
	for _, res := range sum.Nights {
		report(res)
	}
	fmt.Printf("total: %d frames reduced across %d nights\n", sum.FramesReduced, len(sum.Nights))
}

func report(res *pipeline.NightResult) {
	switch res.Status {
	case pipeline.StatusReduced:
		fmt.Printf("%s: %d frames, %d cosmic rays rejected, %d masters built, %d reused\n",
			res.Night, res.FramesReduced, res.CosmicRejected, res.MastersBuilt, res.MastersReused)
	default:
		fmt.Printf("%s: %s (%s)\n", res.Night, res.Status, res.Detail)
	}
}
