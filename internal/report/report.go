// Package report logs pipeline statistics on a cron schedule.
package report

import (
	"context"
	"fmt"
	"log/slog"

	"blurcam/processing/pipeline"
	"blurcam/processing/record"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule is used when no schedule is configured.
const DefaultSchedule = "@every 10s"

type Reporter struct {
	cron   *cron.Cron
	stats  func() pipeline.Stats
	state  func() record.State
	logger *slog.Logger

	lastProcessed uint64
	lastSkipped   uint64
}

// New schedules a stats line per tick of schedule, which accepts standard
// five-field cron expressions and descriptors such as "@every 30s".
func New(schedule string, stats func() pipeline.Stats, state func() record.State, logger *slog.Logger) (*Reporter, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Reporter{
		cron:   cron.New(),
		stats:  stats,
		state:  state,
		logger: logger,
	}
	if _, err := r.cron.AddFunc(schedule, r.Report); err != nil {
		return nil, fmt.Errorf("stats schedule %q: %w", schedule, err)
	}
	return r, nil
}

func (r *Reporter) Start() { r.cron.Start() }

// Stop halts the schedule and returns a context done once a running report
// has finished.
func (r *Reporter) Stop() context.Context { return r.cron.Stop() }

// Report logs one stats line. Counts are per interval since the previous
// report. Jobs never overlap under cron, so no locking is needed.
func (r *Reporter) Report() {
	st := r.stats()

	processed := st.Processed - r.lastProcessed
	skipped := st.Skipped - r.lastSkipped
	r.lastProcessed, r.lastSkipped = st.Processed, st.Skipped

	attrs := []any{
		"fps", fmt.Sprintf("%.1f", st.FPS),
		"latency_ms", st.Latency.Milliseconds(),
		"processed", processed,
		"skipped", skipped,
		"blur", st.Mode.String(),
	}
	if r.state != nil {
		attrs = append(attrs, "recording", r.state().String())
	}
	if st.LastErr != nil && skipped > 0 {
		attrs = append(attrs, "last_err", st.LastErr.Error())
	}
	r.logger.Info("pipeline stats", attrs...)
}
