package reliability

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/fulcrumtrading/fulcrum/internal/database"
)

// diskUsageWarnPercent is the disk utilization above which maintenance
// starts logging warnings.
const diskUsageWarnPercent = 90.0

// MaintenanceJob performs periodic database upkeep: WAL checkpoints,
// integrity quick checks, and a disk pressure check on the data directory.
type MaintenanceJob struct {
	databases []*database.DB
	dataDir   string
	log       zerolog.Logger
}

// NewMaintenanceJob creates the scheduled maintenance job.
func NewMaintenanceJob(databases []*database.DB, dataDir string, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		databases: databases,
		dataDir:   dataDir,
		log:       log.With().Str("job", "maintenance").Logger(),
	}
}

func (j *MaintenanceJob) Name() string { return "database_maintenance" }

// Run checkpoints and quick-checks every database, then checks disk usage.
// All databases are visited even when one fails; the first error is returned.
func (j *MaintenanceJob) Run(ctx context.Context) error {
	var firstErr error

	for _, db := range j.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("checkpoint %s: %w", db.Name(), err)
			}
			continue
		}

		if err := db.QuickCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Integrity quick check failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("quick check %s: %w", db.Name(), err)
			}
			continue
		}

		j.log.Debug().Str("database", db.Name()).Msg("Database maintenance passed")
	}

	usage, err := disk.UsageWithContext(ctx, j.dataDir)
	if err != nil {
		j.log.Warn().Err(err).Str("path", j.dataDir).Msg("Disk usage check failed")
	} else if usage.UsedPercent >= diskUsageWarnPercent {
		j.log.Warn().
			Float64("used_percent", usage.UsedPercent).
			Uint64("free_bytes", usage.Free).
			Str("path", j.dataDir).
			Msg("Data directory is low on disk space")
	}

	return firstErr
}
