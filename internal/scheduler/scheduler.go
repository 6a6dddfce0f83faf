package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	auditdomain "github.com/smallbiznis/lanes/internal/audit/domain"
	"github.com/smallbiznis/lanes/internal/clock"
	"github.com/smallbiznis/lanes/internal/config"
	obscontext "github.com/smallbiznis/lanes/internal/observability/context"
	"github.com/smallbiznis/lanes/internal/observability/errtrack"
	paymentdomain "github.com/smallbiznis/lanes/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	jobWebhookReplay = "webhook_replay"
	lockWebhookKey   = "scheduler:webhook_replay"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// Locker is the distributed lock the replay job takes so only one replica
// drains the journal at a time.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Cfg        config.Config
	Clock      clock.Clock
	Webhooks   paymentdomain.WebhookService
	Locker     Locker            `optional:"true"`
	ErrTracker errtrack.Reporter `optional:"true"`
}

type Scheduler struct {
	log      *zap.Logger
	cfg      config.SchedulerConfig
	clock    clock.Clock
	webhooks paymentdomain.WebhookService
	locker   Locker
	tracker  errtrack.Reporter

	cron gocron.Scheduler
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.Webhooks == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Cfg.Scheduler
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.RetryAfter < 0 {
		cfg.RetryAfter = 0
	}
	tracker := p.ErrTracker
	if tracker == nil {
		tracker = errtrack.Nop{}
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      cfg,
		clock:    p.Clock,
		webhooks: p.Webhooks,
		locker:   p.Locker,
		tracker:  tracker,
	}, nil
}

// Start registers the replay job and starts the cron loop.
func (s *Scheduler) Start() error {
	cron, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return err
	}
	_, err = cron.NewJob(
		gocron.DurationJob(s.cfg.Interval),
		gocron.NewTask(func() {
			if _, err := s.RunOnce(context.Background()); err != nil {
				s.log.Warn("webhook replay failed", zap.Error(err))
			}
		}),
		gocron.WithName(jobWebhookReplay),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = cron.Shutdown()
		return err
	}
	cron.Start()
	s.cron = cron
	s.log.Info("scheduler started", zap.Duration("interval", s.cfg.Interval))
	return nil
}

func (s *Scheduler) Stop() error {
	if s.cron == nil {
		return nil
	}
	err := s.cron.Shutdown()
	s.cron = nil
	return err
}

// RunOnce replays webhook events that were journaled but never processed.
// It returns the number of events that settled on this pass.
func (s *Scheduler) RunOnce(parent context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(parent, s.jobTimeout())
	defer cancel()
	ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")

	log := s.log.With(zap.String("job", jobWebhookReplay))

	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, lockWebhookKey, s.jobTimeout())
		if err != nil {
			s.tracker.Report(ctx, "scheduler", err, zap.String("job", jobWebhookReplay))
			return 0, err
		}
		if !ok {
			log.Debug("replay lock held elsewhere, skipping")
			return 0, nil
		}
		defer func() {
			if err := s.locker.Release(context.Background(), lockWebhookKey, token); err != nil {
				log.Warn("release replay lock failed", zap.Error(err))
			}
		}()
	}

	start := s.clock.Now()
	cutoff := start.Add(-s.cfg.RetryAfter)
	processed, err := s.webhooks.ReplayPending(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		s.tracker.Report(ctx, "scheduler", err, zap.String("job", jobWebhookReplay))
		return processed, err
	}
	if processed > 0 {
		log.Info("replayed webhook events",
			zap.Int("processed", processed),
			zap.Duration("took", s.clock.Now().Sub(start)),
		)
	}
	return processed, nil
}

func (s *Scheduler) jobTimeout() time.Duration {
	if s.cfg.Interval < 30*time.Second {
		return 30 * time.Second
	}
	return s.cfg.Interval
}
