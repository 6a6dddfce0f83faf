package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/lanes/internal/audit/domain"
	"github.com/smallbiznis/lanes/internal/clock"
	"github.com/smallbiznis/lanes/internal/config"
	"github.com/smallbiznis/lanes/internal/tournament/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	RegConfig *config.RegistrationConfigHolder `optional:"true"`
	AuditSvc  auditdomain.Service              `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	regConfig *config.RegistrationConfigHolder
	auditSvc  auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("tournament.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		regConfig: p.RegConfig,
		auditSvc:  p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateTournamentRequest) (*domain.Tournament, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	defaults := s.regConfig.Get()
	zone := strings.TrimSpace(req.Timezone)
	if zone == "" {
		zone = defaults.DefaultTimezone
	}
	if _, err := time.LoadLocation(zone); err != nil {
		return nil, domain.ErrInvalidTimezone
	}
	teamSize := req.TeamSize
	if teamSize <= 0 {
		teamSize = defaults.DefaultTeamSize
	}

	now := s.clock.Now()
	identifier := ulid.Make().String()
	tournament := &domain.Tournament{
		ID:         s.genID.Generate(),
		Identifier: identifier,
		Name:       name,
		State:      domain.StateSetup,
		Timezone:   zone,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tournamentSlug, err := s.uniqueSlug(ctx, tx, name, identifier)
		if err != nil {
			return err
		}
		tournament.Slug = tournamentSlug

		if err := s.repo.Insert(ctx, tx, tournament); err != nil {
			return err
		}
		item := domain.ConfigItem{
			ID:           s.genID.Generate(),
			TournamentID: tournament.ID,
			Key:          domain.KeyTeamSize,
			ValueType:    domain.ValueInteger,
			Value:        strconv.Itoa(teamSize),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.repo.UpsertConfig(ctx, tx, &item); err != nil {
			return err
		}
		tournament.ConfigItems = append(tournament.ConfigItems, item)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, tournament, "tournament.created", map[string]any{"name": name})
	return tournament, nil
}

func (s *Service) uniqueSlug(ctx context.Context, tx *gorm.DB, name, identifier string) (string, error) {
	base := slug.Make(name)
	if base == "" {
		base = strings.ToLower(identifier)
	}
	exists, err := s.repo.SlugExists(ctx, tx, base)
	if err != nil {
		return "", err
	}
	if !exists {
		return base, nil
	}
	suffix := strings.ToLower(identifier[len(identifier)-6:])
	return base + "-" + suffix, nil
}

func (s *Service) Get(ctx context.Context, identifier string) (*domain.Tournament, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, domain.ErrNotFound
	}
	tournament, err := s.repo.FindByIdentifier(ctx, s.db, identifier)
	if err != nil {
		return nil, err
	}
	if tournament == nil {
		return nil, domain.ErrNotFound
	}
	return tournament, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Tournament, error) {
	tournament, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if tournament == nil {
		return nil, domain.ErrNotFound
	}
	return tournament, nil
}

func (s *Service) Transition(ctx context.Context, identifier string, event domain.Event) (*domain.Tournament, error) {
	tournament, err := s.Get(ctx, identifier)
	if err != nil {
		return nil, err
	}

	from := tournament.State
	to, err := domain.Transition(from, event)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateState(ctx, s.db, tournament.ID, from, to)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrStaleState
	}
	tournament.State = to

	s.log.Info("tournament transitioned",
		zap.String("tournament", tournament.Identifier),
		zap.String("event", string(event)),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	s.audit(ctx, tournament, "tournament.transitioned", map[string]any{
		"event": string(event),
		"from":  string(from),
		"to":    string(to),
	})
	return tournament, nil
}

func (s *Service) SetConfig(ctx context.Context, identifier string, key string, value string) (*domain.Tournament, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	valueType, ok := domain.KnownKeys[key]
	if !ok {
		return nil, domain.ErrUnknownConfigKey
	}
	normalized, err := normalizeValue(valueType, value)
	if err != nil {
		return nil, err
	}
	if key == domain.KeyRegistrationPeriod {
		switch normalized {
		case domain.PeriodEarly, domain.PeriodRegular, domain.PeriodLate:
		default:
			return nil, domain.ErrInvalidConfigVal
		}
	}

	tournament, err := s.Get(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if tournament.State.Locked() && !domain.MutableWhenLocked[key] {
		return nil, domain.ErrLocked
	}

	now := s.clock.Now()
	item := domain.ConfigItem{
		ID:           s.genID.Generate(),
		TournamentID: tournament.ID,
		Key:          key,
		ValueType:    valueType,
		Value:        normalized,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.UpsertConfig(ctx, s.db, &item); err != nil {
		return nil, err
	}

	s.audit(ctx, tournament, "tournament.config_updated", map[string]any{"key": key, "value": normalized})
	return s.Get(ctx, identifier)
}

func normalizeValue(valueType domain.ValueType, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	switch valueType {
	case domain.ValueString:
		return raw, nil
	case domain.ValueBoolean:
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return "", domain.ErrInvalidConfigVal
		}
		return strconv.FormatBool(parsed), nil
	case domain.ValueInteger:
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return "", domain.ErrInvalidConfigVal
		}
		return strconv.Itoa(parsed), nil
	case domain.ValueTime:
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return "", domain.ErrInvalidConfigVal
		}
		return parsed.UTC().Format(time.RFC3339), nil
	default:
		return "", domain.ErrInvalidConfigVal
	}
}

func (s *Service) audit(ctx context.Context, tournament *domain.Tournament, action string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetID := tournament.Identifier
	if err := s.auditSvc.AuditLog(ctx, &tournament.ID, action, "tournament", &targetID, metadata); err != nil {
		s.log.Warn("failed to write tournament audit log", zap.String("action", action), zap.Error(err))
	}
}
