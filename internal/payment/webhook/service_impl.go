package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lanes/internal/clock"
	"github.com/smallbiznis/lanes/internal/config"
	obsmetrics "github.com/smallbiznis/lanes/internal/observability/metrics"
	"github.com/smallbiznis/lanes/internal/observability/tracing"
	"github.com/smallbiznis/lanes/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/lanes/internal/payment/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Repo       paymentdomain.Repository
	PaymentSvc paymentdomain.Service
	Adapters   *adapters.Registry
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       paymentdomain.Repository
	paymentSvc paymentdomain.Service
	adapters   *adapters.Registry
	configs    map[string]map[string]any
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.WebhookService {
	log := p.Log.Named("payment.webhook")
	log.Info("webhook providers registered", zap.Strings("providers", p.Adapters.Providers()))
	return &Service{
		db:         p.DB,
		log:        log,
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		paymentSvc: p.PaymentSvc,
		adapters:   p.Adapters,
		configs: map[string]map[string]any{
			"stripe": {"webhook_secret": p.Cfg.Stripe.WebhookSecret},
		},
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (err error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	ctx, span := tracing.StartSpan(ctx, "payment.webhook.ingest", attribute.String("payment.provider", provider))
	defer func() {
		if err != nil {
			span.RecordError(tracing.SafeError(err))
			span.SetStatus(codes.Error, "webhook_failed")
		}
		span.End()
	}()

	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}
	adapter, err := s.adapter(provider)
	if err != nil {
		return err
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		return err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			return nil
		}
		return err
	}
	event.Provider = provider
	span.SetAttributes(attribute.String("payment.event_type", event.Type))

	stored, fresh, err := s.journal(ctx, event, payload)
	switch {
	case err != nil:
		return err
	case fresh:
		s.obsMetrics.RecordPaymentEvent(ctx, provider, event.Type)
	case stored.ProcessedAt != nil:
		s.log.Debug("duplicate webhook delivery",
			zap.String("provider", provider),
			zap.String("event_id", event.ProviderEventID),
		)
		return nil
	}
	return s.process(ctx, stored, event)
}

// journal stores the delivery keyed by provider event id. When the provider
// redelivers, the existing record is returned with fresh set to false.
func (s *Service) journal(ctx context.Context, event *paymentdomain.PaymentEvent, payload []byte) (*paymentdomain.EventRecord, bool, error) {
	record := &paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      s.clock.Now(),
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, record)
	if err != nil || inserted {
		return record, inserted, err
	}

	existing, err := s.repo.FindEvent(ctx, s.db, event.Provider, event.ProviderEventID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, paymentdomain.ErrInvalidEvent
	}
	return existing, false, nil
}

// ReplayPending re-dispatches journaled events that never finished processing.
// Payloads were verified when first received, so only parsing is repeated.
func (s *Service) ReplayPending(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}
	pending, err := s.repo.ListPending(ctx, s.db, olderThan, paymentdomain.MaxReplayAttempts, limit)
	if err != nil {
		return 0, err
	}

	replayed := 0
	for i := range pending {
		record := &pending[i]
		err := s.replay(ctx, record)
		if errors.Is(err, paymentdomain.ErrProviderNotFound) {
			s.log.Warn("no adapter for journaled event", zap.String("provider", record.Provider))
			continue
		}

		outcome := "succeeded"
		if err != nil {
			outcome = "failed"
			fields := []zap.Field{
				zap.String("provider", record.Provider),
				zap.String("event_id", record.ProviderEventID),
				zap.Int("attempts", record.Attempts+1),
				zap.Error(err),
			}
			if record.Attempts+1 >= paymentdomain.MaxReplayAttempts {
				s.log.Error("webhook replay abandoned", fields...)
			} else {
				s.log.Warn("webhook replay failed", fields...)
			}
		} else {
			replayed++
		}
		s.obsMetrics.RecordWebhookRetry(ctx, record.Provider, outcome)
	}
	return replayed, nil
}

// replay counts every failure as an attempt, so events that can never
// succeed eventually drop out of the pending set.
func (s *Service) replay(ctx context.Context, record *paymentdomain.EventRecord) error {
	adapter, err := s.adapter(record.Provider)
	if err != nil {
		return s.fail(ctx, record, err)
	}
	event, err := adapter.Parse(ctx, record.Payload)
	switch {
	case errors.Is(err, paymentdomain.ErrEventIgnored):
		return s.repo.MarkProcessed(ctx, s.db, record.ID, s.clock.Now())
	case err != nil:
		return s.fail(ctx, record, err)
	}
	event.Provider = record.Provider
	return s.process(ctx, record, event)
}

func (s *Service) process(ctx context.Context, stored *paymentdomain.EventRecord, event *paymentdomain.PaymentEvent) error {
	if err := s.paymentSvc.Dispatch(ctx, event); err != nil && !errors.Is(err, paymentdomain.ErrEventIgnored) {
		return s.fail(ctx, stored, err)
	}
	return s.repo.MarkProcessed(ctx, s.db, stored.ID, s.clock.Now())
}

func (s *Service) fail(ctx context.Context, stored *paymentdomain.EventRecord, err error) error {
	if markErr := s.repo.MarkFailed(ctx, s.db, stored.ID, err.Error()); markErr != nil {
		s.log.Warn("failed to record webhook failure", zap.Error(markErr))
	}
	return err
}

func (s *Service) adapter(provider string) (paymentdomain.PaymentAdapter, error) {
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return nil, paymentdomain.ErrProviderNotFound
	}
	return s.adapters.NewAdapter(provider, paymentdomain.AdapterConfig{
		Provider: provider,
		Config:   s.configs[provider],
	})
}
