// Package catalog persists run provenance: which nights a reduction run
// touched, what came out of each, and whether each master-frame artifact was
// rebuilt or reused. The pipeline works fine without it; the catalog exists
// so a run's decisions can be audited and reported afterwards.
package catalog

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// NightStatus values recorded per night.
const (
	NightReduced = "reduced"
	NightSkipped = "skipped"
	NightFailed  = "failed"
)

// Artifact kinds recorded for master frames.
const (
	ArtifactMasterBias     = "MASTERBIAS"
	ArtifactMasterDark     = "MASTERDARK"
	ArtifactMasterDarkFlat = "MASTERDARK_FLAT"
	ArtifactMasterFlat     = "MASTERFLAT"
	ArtifactMask           = "MASK"
)

// Catalog wraps the run-provenance database.
type Catalog struct {
	db *sql.DB
}

// Open opens (creating if needed) the catalog database at path and applies
// any pending schema migrations.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Catalog{db: db}, nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// migrateUp applies all pending migrations from the embedded source.
func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	// Not closed here: closing would close the shared DB connection.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Run is one pipeline invocation.
type Run struct {
	RunID         string `json:"run_id"`
	StartedAt     int64  `json:"started_at"`
	FinishedAt    int64  `json:"finished_at,omitempty"`
	NightsTotal   int    `json:"nights_total"`
	FramesReduced int    `json:"frames_reduced"`
}

// BeginRun inserts a new run row and returns it with a fresh UUID.
func (c *Catalog) BeginRun() (*Run, error) {
	run := &Run{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UnixNano(),
	}
	_, err := c.db.Exec(
		`INSERT INTO runs (run_id, started_at) VALUES (?, ?)`,
		run.RunID, run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	return run, nil
}

// FinishRun stamps the run's end time and totals.
func (c *Catalog) FinishRun(run *Run) error {
	run.FinishedAt = time.Now().UnixNano()
	_, err := c.db.Exec(
		`UPDATE runs SET finished_at = ?, nights_total = ?, frames_reduced = ? WHERE run_id = ?`,
		run.FinishedAt, run.NightsTotal, run.FramesReduced, run.RunID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// LatestRun returns the most recently started run, or nil if the catalog is
// empty.
func (c *Catalog) LatestRun() (*Run, error) {
	row := c.db.QueryRow(`
		SELECT run_id, started_at, COALESCE(finished_at, 0), nights_total, frames_reduced
		FROM runs ORDER BY started_at DESC LIMIT 1`)

	var r Run
	err := row.Scan(&r.RunID, &r.StartedAt, &r.FinishedAt, &r.NightsTotal, &r.FramesReduced)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return &r, nil
}

// NightRecord is one night's outcome within a run.
type NightRecord struct {
	NightID        string `json:"night_id"`
	RunID          string `json:"run_id"`
	Night          string `json:"night"`
	Status         string `json:"status"`
	FramesReduced  int    `json:"frames_reduced"`
	CosmicRejected int    `json:"cosmic_rejected"`
	MaskedPixels   int    `json:"masked_pixels"`
	Detail         string `json:"detail,omitempty"`
	CreatedAt      int64  `json:"created_at"`
}

// RecordNight persists a night outcome. If NightID is empty, a UUID is
// generated.
func (c *Catalog) RecordNight(rec *NightRecord) error {
	if rec.NightID == "" {
		rec.NightID = uuid.New().String()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().UnixNano()
	}

	_, err := c.db.Exec(`
		INSERT INTO nights (
			night_id, run_id, night, status,
			frames_reduced, cosmic_rejected, masked_pixels, detail, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.NightID, rec.RunID, rec.Night, rec.Status,
		rec.FramesReduced, rec.CosmicRejected, rec.MaskedPixels, rec.Detail, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record night %s: %w", rec.Night, err)
	}
	return nil
}

// NightsForRun returns all night records of a run, ordered by night.
func (c *Catalog) NightsForRun(runID string) ([]*NightRecord, error) {
	rows, err := c.db.Query(`
		SELECT night_id, run_id, night, status,
		       frames_reduced, cosmic_rejected, masked_pixels, COALESCE(detail, ''), created_at
		FROM nights WHERE run_id = ? ORDER BY night`, runID)
	if err != nil {
		return nil, fmt.Errorf("query nights: %w", err)
	}
	defer rows.Close()

	var recs []*NightRecord
	for rows.Next() {
		var r NightRecord
		if err := rows.Scan(
			&r.NightID, &r.RunID, &r.Night, &r.Status,
			&r.FramesReduced, &r.CosmicRejected, &r.MaskedPixels, &r.Detail, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan night: %w", err)
		}
		recs = append(recs, &r)
	}
	return recs, rows.Err()
}

// ArtifactRecord is one master-frame artifact produced or reused by a run.
type ArtifactRecord struct {
	ArtifactID string `json:"artifact_id"`
	RunID      string `json:"run_id"`
	Night      string `json:"night"`
	Kind       string `json:"kind"`
	Path       string `json:"path"`
	Reused     bool   `json:"reused"`
	CreatedAt  int64  `json:"created_at"`
}

// RecordArtifact persists a master-frame provenance row. If ArtifactID is
// empty, a UUID is generated.
func (c *Catalog) RecordArtifact(rec *ArtifactRecord) error {
	if rec.ArtifactID == "" {
		rec.ArtifactID = uuid.New().String()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().UnixNano()
	}

	reused := 0
	if rec.Reused {
		reused = 1
	}
	_, err := c.db.Exec(`
		INSERT INTO artifacts (artifact_id, run_id, night, kind, path, reused, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ArtifactID, rec.RunID, rec.Night, rec.Kind, rec.Path, reused, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record artifact %s/%s: %w", rec.Night, rec.Kind, err)
	}
	return nil
}

// ArtifactsForRun returns a run's artifact provenance, ordered by night then
// kind.
func (c *Catalog) ArtifactsForRun(runID string) ([]*ArtifactRecord, error) {
	rows, err := c.db.Query(`
		SELECT artifact_id, run_id, night, kind, path, reused, created_at
		FROM artifacts WHERE run_id = ? ORDER BY night, kind`, runID)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var recs []*ArtifactRecord
	for rows.Next() {
		var r ArtifactRecord
		var reused int
		if err := rows.Scan(
			&r.ArtifactID, &r.RunID, &r.Night, &r.Kind, &r.Path, &reused, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		r.Reused = reused != 0
		recs = append(recs, &r)
	}
	return recs, rows.Err()
}
