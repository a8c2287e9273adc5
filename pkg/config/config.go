package config

import (
	"errors"
	"time"

	"github.com/seafleet/pivotx/pkg/router"
	"github.com/seafleet/pivotx/pkg/utils"
)

// Config is the static process configuration. Entities are fixed here, not
// discovered; channel membership comes from one file per table group.
type Config struct {
	EntityIDs  []string
	GroupFiles map[router.Group]string

	Schema      string
	NarrowTable string

	PageSize     int
	ChunkWidth   time.Duration
	ChunkFloor   time.Duration
	ChunkCeiling time.Duration
	RowBudget    int
	Lookback     time.Duration

	MaxWorkers int

	SeedMargin time.Duration
	CronSpec   string

	LegacyCutoffFile string
	FailureFile      string
}

// Load reads configuration from the environment. A zero-entity fleet is a
// fatal configuration error; missing channel-group files fail at router load.
func Load() (*Config, error) {
	cfg := &Config{
		EntityIDs: utils.EnvList("ENTITY_IDS", nil),
		GroupFiles: map[router.Group]string{
			router.GroupAuxiliary:  utils.Env("CHANNELS_AUXILIARY_FILE", "column_list_auxiliary_systems.txt"),
			router.GroupEngine:     utils.Env("CHANNELS_ENGINE_FILE", "column_list_engine_generator.txt"),
			router.GroupNavigation: utils.Env("CHANNELS_NAVIGATION_FILE", "column_list_navigation_ship.txt"),
		},

		Schema:      utils.Env("DB_SCHEMA", "tenant"),
		NarrowTable: utils.Env("NARROW_TABLE", "tbl_data_timeseries"),

		PageSize:     utils.EnvInt("UPSERT_PAGE_SIZE", 5000),
		ChunkWidth:   utils.EnvDuration("CHUNK_WIDTH", 2*time.Hour),
		ChunkFloor:   utils.EnvDuration("CHUNK_FLOOR", 15*time.Minute),
		ChunkCeiling: utils.EnvDuration("CHUNK_CEILING", 12*time.Hour),
		RowBudget:    utils.EnvInt("CHUNK_ROW_BUDGET", 1_000_000),
		Lookback:     utils.EnvDuration("BACKFILL_LOOKBACK", 365*24*time.Hour),

		MaxWorkers: utils.EnvInt("MAX_WORKERS", 16),

		SeedMargin: utils.EnvDuration("STREAM_SEED_MARGIN", 2*time.Minute),
		CronSpec:   utils.Env("STREAM_CRON", "*/10 * * * * *"),

		LegacyCutoffFile: utils.Env("LEGACY_CUTOFF_FILE", "migration_cutoff_time.txt"),
		FailureFile:      utils.Env("FAILED_CHUNKS_FILE", "failed_chunks.csv"),
	}

	if utils.Env("ADAPTIVE_CHUNKING", "true") != "true" {
		cfg.RowBudget = 0
	}

	if len(cfg.EntityIDs) == 0 {
		return nil, errors.New("no entities configured: set ENTITY_IDS")
	}

	return cfg, nil
}
