package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/lanes/internal/audit/domain"
	"github.com/smallbiznis/lanes/internal/catalog/domain"
	"github.com/smallbiznis/lanes/internal/clock"
	tournamentdomain "github.com/smallbiznis/lanes/internal/tournament/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          domain.Repository
	TournamentSvc tournamentdomain.Service
	AuditSvc      auditdomain.Service `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          domain.Repository
	tournamentSvc tournamentdomain.Service
	auditSvc      auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("catalog.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		tournamentSvc: p.TournamentSvc,
		auditSvc:      p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, tournamentIdentifier string, req domain.CreateRequest) (*domain.Item, error) {
	tournament, err := s.tournamentSvc.Get(ctx, tournamentIdentifier)
	if err != nil {
		return nil, err
	}
	if tournament.State.Locked() {
		return nil, domain.ErrTournamentLocked
	}

	refinement := req.Refinement
	if refinement == "" {
		refinement = domain.RefinementNone
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := s.clock.Now()
	item := &domain.Item{
		ID:             s.genID.Generate(),
		TournamentID:   tournament.ID,
		Identifier:     ulid.Make().String(),
		Name:           strings.TrimSpace(req.Name),
		Category:       req.Category,
		Determination:  req.Determination,
		Refinement:     refinement,
		Value:          req.Value,
		Configuration:  datatypes.JSONMap(req.Configuration),
		UserSelectable: req.UserSelectable,
		Enabled:        enabled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.ListByTournament(ctx, tx, tournament.ID)
		if err != nil {
			return err
		}
		if err := domain.Validate(*item, existing); err != nil {
			return err
		}
		return s.repo.Insert(ctx, tx, item)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("purchasable item created",
		zap.String("tournament", tournament.Identifier),
		zap.String("item", item.Identifier),
		zap.String("determination", string(item.Determination)),
		zap.Int64("value", item.Value),
	)
	s.audit(ctx, tournament.ID, item, "catalog.item_created", map[string]any{
		"determination": string(item.Determination),
		"value":         item.Value,
	})
	return item, nil
}

func (s *Service) UpdateValue(ctx context.Context, itemIdentifier string, value int64) (*domain.Item, error) {
	item, err := s.repo.FindByIdentifier(ctx, s.db, strings.TrimSpace(itemIdentifier))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	tournament, err := s.tournamentSvc.GetByID(ctx, item.TournamentID)
	if err != nil {
		return nil, err
	}
	if tournament.State.Locked() {
		return nil, domain.ErrTournamentLocked
	}

	previous := item.Value
	if err := s.repo.UpdateValue(ctx, s.db, item.ID, value); err != nil {
		return nil, err
	}
	item.Value = value

	s.audit(ctx, tournament.ID, item, "catalog.item_value_changed", map[string]any{
		"previous": previous,
		"value":    value,
	})
	return item, nil
}

func (s *Service) List(ctx context.Context, tournamentIdentifier string) ([]domain.Item, error) {
	tournament, err := s.tournamentSvc.Get(ctx, tournamentIdentifier)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByTournament(ctx, s.db, tournament.ID)
}

func (s *Service) ListByTournamentID(ctx context.Context, tournamentID snowflake.ID) ([]domain.Item, error) {
	return s.repo.ListByTournament(ctx, s.db, tournamentID)
}

func (s *Service) FindByIdentifiers(ctx context.Context, tournamentID snowflake.ID, identifiers []string) ([]domain.Item, error) {
	return s.repo.FindByIdentifiers(ctx, s.db, tournamentID, identifiers)
}

func (s *Service) audit(ctx context.Context, tournamentID snowflake.ID, item *domain.Item, action string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetID := item.Identifier
	if err := s.auditSvc.AuditLog(ctx, &tournamentID, action, "purchasable_item", &targetID, metadata); err != nil {
		s.log.Warn("failed to write catalog audit log", zap.String("action", action), zap.Error(err))
	}
}
