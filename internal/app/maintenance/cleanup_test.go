package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	dbtestutil "github.com/charlesng35/inviteqr/internal/database/testutil"
	"github.com/charlesng35/inviteqr/internal/models"
	"github.com/charlesng35/inviteqr/internal/monitoring"
	"github.com/charlesng35/inviteqr/internal/qrcodec"
	"github.com/charlesng35/inviteqr/internal/services"
	"github.com/charlesng35/inviteqr/pkg/metrics"
)

func newServices(t *testing.T) (*gorm.DB, *services.InviteService, *services.ScanLogService) {
	t.Helper()

	db := dbtestutil.MustOpenTestDB(t, dbtestutil.WithAutoMigrate())

	scans, err := services.NewScanLogService(db)
	require.NoError(t, err)

	invites, err := services.NewInviteService(db, qrcodec.New(), services.WithScanLog(scans))
	require.NoError(t, err)

	return db, invites, scans
}

func TestCleanerRunOnce(t *testing.T) {
	monitoring.ResetMaintenanceJobs()
	t.Cleanup(monitoring.ResetMaintenanceJobs)

	db, invites, scans := newServices(t)
	ctx := context.Background()

	_, err := invites.Create(ctx, "waiting")
	require.NoError(t, err)
	created, err := invites.Create(ctx, "VIP Entry")
	require.NoError(t, err)
	result, err := invites.Validate(ctx, created.Image, services.ScanContext{})
	require.NoError(t, err)
	require.Equal(t, models.ScanOutcomeValidated, result.Outcome)

	old := models.ScanLog{
		InviteCode: "stale",
		Outcome:    models.ScanOutcomeNotFound,
		CreatedAt:  time.Now().AddDate(0, 0, -30),
	}
	require.NoError(t, db.Create(&old).Error)

	cleaner := NewCleaner(invites, scans,
		WithScanRetentionDays(7),
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)
	require.NoError(t, cleaner.RunOnce(ctx))

	var remaining []models.ScanLog
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, models.ScanOutcomeValidated, remaining[0].Outcome)

	require.Equal(t, float64(1), testutil.ToFloat64(metrics.Invites.WithLabelValues(models.InviteStateCreated)))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.Invites.WithLabelValues(models.InviteStateValidated)))

	jobs := monitoring.MaintenanceJobs()
	require.Len(t, jobs, 2)
	for _, job := range jobs {
		require.Equal(t, uint64(1), job.TotalRuns)
		require.Zero(t, job.Failures)
	}
}

func TestCleanerRunOnceAggregatesErrors(t *testing.T) {
	monitoring.ResetMaintenanceJobs()
	t.Cleanup(monitoring.ResetMaintenanceJobs)

	db, invites, scans := newServices(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	cleaner := NewCleaner(invites, scans)
	err = cleaner.RunOnce(context.Background())
	require.Error(t, err)

	jobs := monitoring.MaintenanceJobs()
	require.Len(t, jobs, 2)
	for _, job := range jobs {
		require.Equal(t, uint64(1), job.ConsecutiveFailures)
	}
}

func TestCleanerWithoutDependenciesIsNoop(t *testing.T) {
	cleaner := NewCleaner(nil, nil)
	require.NoError(t, cleaner.Start())
	require.NoError(t, cleaner.RunOnce(context.Background()))
	<-cleaner.Stop().Done()
}

func TestCleanerStartRejectsInvalidSchedule(t *testing.T) {
	_, invites, scans := newServices(t)

	cleaner := NewCleaner(invites, scans, WithScanSchedule("not a schedule"))
	require.Error(t, cleaner.Start())
}

func TestCleanerStartAndStop(t *testing.T) {
	_, invites, scans := newServices(t)

	cleaner := NewCleaner(invites, scans, WithStatsSchedule("@every 1h"))
	require.NoError(t, cleaner.Start())
	<-cleaner.Stop().Done()
}
