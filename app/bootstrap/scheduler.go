package bootstrap

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
)

func (e *Engine) NewScheduler() (gocron.Scheduler, error) {
	return gocron.NewScheduler(gocron.WithClock(e.Clock))
}

// ScheduleEvery registers fn as a recurring job. A run that outlasts the
// interval delays the next one rather than overlapping it.
func (e *Engine) ScheduleEvery(ctx context.Context, s gocron.Scheduler, name string, interval time.Duration, fn func(context.Context)) error {
	j, err := s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(fn, ctx),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}
	e.Logger.Info("scheduled job", "job", name, "id", j.ID().String(), "interval", interval)
	return nil
}

// ScheduleMatching runs the matching scan every SCAN_INTERVAL.
func (e *Engine) ScheduleMatching(ctx context.Context, s gocron.Scheduler) error {
	return e.ScheduleEvery(ctx, s, "match-players", e.Config.ScanInterval, e.MatchPlayers().Tick)
}

// ScheduleReaper settles abandoned confirmations every REAPER_INTERVAL.
func (e *Engine) ScheduleReaper(ctx context.Context, s gocron.Scheduler) error {
	return e.ScheduleEvery(ctx, s, "reap-pending", e.Config.ReaperInterval, e.ReapPending().Tick)
}
