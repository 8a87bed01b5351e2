package workers

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"pong-tournament/models"
)

// MatchReaper closes matches that stopped advancing.
type MatchReaper interface {
	ReapStaleMatches(ctx context.Context, cutoff time.Time) ([]models.Match, error)
}

// MatchExpirer forgets in-memory state of matches the reaper closed.
type MatchExpirer interface {
	ExpireMatch(matchName string)
}

// StartMatchReaper closes every in-progress match idle for longer than staleAfter, checking each interval.
// Closed matches are handed to expirer. The scheduler stops when ctx is done.
func StartMatchReaper(ctx context.Context, reaper MatchReaper, expirer MatchExpirer, interval, staleAfter time.Duration, logger *zap.SugaredLogger) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			reapOnce(ctx, reaper, expirer, staleAfter, logger)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}

	sched.Start()
	logger.Infof("🧹 [Reaper] Closing matches idle for %s, checking every %s", staleAfter, interval)

	go func() {
		<-ctx.Done()
		if err := sched.Shutdown(); err != nil {
			logger.Warnf("[Reaper] shutdown: %v", err)
		}
	}()
	return sched, nil
}

func reapOnce(ctx context.Context, reaper MatchReaper, expirer MatchExpirer, staleAfter time.Duration, logger *zap.SugaredLogger) int {
	closed, err := reaper.ReapStaleMatches(ctx, time.Now().Add(-staleAfter))
	if err != nil {
		logger.Errorf("[Reaper] DB error: %v", err)
		return 0
	}
	for _, m := range closed {
		logger.Infof("✅ [Reaper] Closed stale match %d (%s)", m.ID, m.Name)
		if expirer != nil {
			expirer.ExpireMatch(m.Name)
		}
	}
	return len(closed)
}
