package monitoring

import (
	"sort"
	"sync"
	"time"

	"github.com/charlesng35/inviteqr/pkg/metrics"
)

// MaintenanceJobSummary describes the run history of a background job.
type MaintenanceJobSummary struct {
	Job                 string        `json:"job"`
	TotalRuns           uint64        `json:"total_runs"`
	Failures            uint64        `json:"failures"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
}

var jobs = struct {
	sync.RWMutex
	byName map[string]*MaintenanceJobSummary
}{byName: map[string]*MaintenanceJobSummary{}}

// RecordMaintenanceRun records the completion of a maintenance job.
func RecordMaintenanceRun(job string, err error, duration time.Duration) {
	if job == "" {
		return
	}

	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.MaintenanceRuns.WithLabelValues(job, result).Inc()

	jobs.Lock()
	defer jobs.Unlock()

	summary, ok := jobs.byName[job]
	if !ok {
		summary = &MaintenanceJobSummary{Job: job}
		jobs.byName[job] = summary
	}
	summary.TotalRuns++
	summary.LastRunAt = time.Now()
	summary.LastDuration = duration
	if err != nil {
		summary.Failures++
		summary.ConsecutiveFailures++
		summary.LastError = err.Error()
		return
	}
	summary.ConsecutiveFailures = 0
	summary.LastError = ""
}

// MaintenanceJobs returns a snapshot of every recorded job ordered by name.
func MaintenanceJobs() []MaintenanceJobSummary {
	jobs.RLock()
	defer jobs.RUnlock()

	out := make([]MaintenanceJobSummary, 0, len(jobs.byName))
	for _, summary := range jobs.byName {
		out = append(out, *summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

// ResetMaintenanceJobs clears recorded job state.
func ResetMaintenanceJobs() {
	jobs.Lock()
	defer jobs.Unlock()
	jobs.byName = map[string]*MaintenanceJobSummary{}
}
