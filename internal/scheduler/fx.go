package scheduler

import (
	"context"

	"github.com/smallbiznis/lanes/internal/config"
	"github.com/smallbiznis/lanes/internal/ratelimit"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(provideLocker),
	fx.Provide(New),
	fx.Invoke(Register),
)

// provideLocker keeps the interface nil when redis is absent so the job runs
// unguarded on a single replica.
func provideLocker(l *ratelimit.Locker) Locker {
	if l == nil {
		return nil
	}
	return l
}

func Register(lc fx.Lifecycle, cfg config.Config, sched *Scheduler) {
	if !cfg.Scheduler.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return sched.Start()
		},
		OnStop: func(context.Context) error {
			return sched.Stop()
		},
	})
}
