package monitoring_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/inviteqr/internal/database/testutil"
	"github.com/charlesng35/inviteqr/internal/monitoring"
	"github.com/charlesng35/inviteqr/internal/monitoring/checks"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthManagerEvaluate(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager()
	manager.RegisterReadiness(monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	manager.RegisterReadiness(monitoring.NewCheck("redis", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "connection refused"}
	}))

	report := manager.EvaluateReadiness(context.Background())
	require.False(t, report.Success)
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "redis", report.Checks[1].Component)
}

func TestHealthManagerDegradedDoesNotMaskDown(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager()
	manager.RegisterLiveness(monitoring.NewCheck("first", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown}
	}))
	manager.RegisterLiveness(monitoring.NewCheck("second", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDegraded}
	}))

	report := manager.EvaluateLiveness(context.Background())
	require.Equal(t, monitoring.StatusDown, report.Status)
}

func TestHealthManagerEmptyIsUp(t *testing.T) {
	t.Parallel()

	report := monitoring.NewHealthManager().EvaluateLiveness(context.Background())
	require.True(t, report.Success)
	require.Equal(t, monitoring.StatusUp, report.Status)
	require.Empty(t, report.Checks)
}

func TestHealthManagerRecoversPanics(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager()
	manager.RegisterReadiness(monitoring.NewCheck("explosive", func(context.Context) monitoring.ProbeResult {
		panic("kaboom")
	}))

	report := manager.EvaluateReadiness(context.Background())
	require.False(t, report.Success)
	require.Len(t, report.Checks, 1)
	require.Equal(t, "explosive", report.Checks[0].Component)
	require.Equal(t, "kaboom", report.Checks[0].Details)
}

func TestResultFromError(t *testing.T) {
	t.Parallel()

	up := monitoring.ResultFromError("db", nil, -time.Second)
	require.Equal(t, monitoring.StatusUp, up.Status)
	require.Zero(t, up.Duration)

	down := monitoring.ResultFromError("db", errors.New("refused"), time.Millisecond)
	require.Equal(t, monitoring.StatusDown, down.Status)
	require.Equal(t, "refused", down.Details)

	slow := monitoring.ResultFromError("db", context.DeadlineExceeded, time.Millisecond)
	require.Equal(t, monitoring.StatusDegraded, slow.Status)
}

func TestRedisCheck(t *testing.T) {
	t.Parallel()

	disabled := checks.Redis(nil, false, 0).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, disabled.Status)
	require.Equal(t, "redis disabled", disabled.Details)

	missing := checks.Redis(nil, true, 0).Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, missing.Status)

	healthy := checks.Redis(stubPinger{}, true, time.Second).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, healthy.Status)

	failing := checks.Redis(stubPinger{err: errors.New("dial tcp: refused")}, true, time.Second).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, failing.Status)
}

func TestDatabaseCheckWithoutHandle(t *testing.T) {
	t.Parallel()

	result := checks.Database(nil, 0).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, result.Status)
	require.Equal(t, "database not configured", result.Details)
}

func TestDatabaseCheckRequiresInviteSchema(t *testing.T) {
	t.Parallel()

	bare := testutil.MustOpenTestDB(t)
	result := checks.Database(bare, time.Second).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, result.Status)
	require.Equal(t, "invites table missing", result.Details)

	migrated := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	result = checks.Database(migrated, time.Second).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)
}

// Maintenance tests share the package-level job registry, so they run serially.
func TestMaintenanceCheck(t *testing.T) {
	monitoring.ResetMaintenanceJobs()
	t.Cleanup(monitoring.ResetMaintenanceJobs)

	result := checks.Maintenance(0).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)
	require.Equal(t, "no maintenance jobs registered", result.Details)

	monitoring.RecordMaintenanceRun("scan_log_retention", nil, time.Second)
	monitoring.RecordMaintenanceRun("invite_gauges", errors.New("timeout"), time.Second)

	result = checks.Maintenance(0).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, result.Status)
	require.Contains(t, result.Details, "invite_gauges")

	monitoring.RecordMaintenanceRun("invite_gauges", nil, time.Second)
	result = checks.Maintenance(0).Run(context.Background())
	require.Equal(t, monitoring.StatusUp, result.Status)
}

func TestMaintenanceJobsSnapshot(t *testing.T) {
	monitoring.ResetMaintenanceJobs()
	t.Cleanup(monitoring.ResetMaintenanceJobs)

	monitoring.RecordMaintenanceRun("b_job", errors.New("first"), time.Millisecond)
	monitoring.RecordMaintenanceRun("b_job", errors.New("second"), time.Millisecond)
	monitoring.RecordMaintenanceRun("a_job", nil, time.Millisecond)
	monitoring.RecordMaintenanceRun("", nil, time.Millisecond)

	jobs := monitoring.MaintenanceJobs()
	require.Len(t, jobs, 2)
	require.Equal(t, "a_job", jobs[0].Job)
	require.Equal(t, "b_job", jobs[1].Job)
	require.Equal(t, uint64(2), jobs[1].TotalRuns)
	require.Equal(t, uint64(2), jobs[1].ConsecutiveFailures)
	require.Equal(t, "second", jobs[1].LastError)
}
