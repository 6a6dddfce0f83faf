package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/lanes/internal/audit/domain"
	"github.com/smallbiznis/lanes/internal/audit/masking"
	"github.com/smallbiznis/lanes/internal/clock"
	obscontext "github.com/smallbiznis/lanes/internal/observability/context"
	"github.com/smallbiznis/lanes/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 250
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock `optional:"true"`
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	svc := &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
	if svc.clock == nil {
		svc.clock = clock.NewSystemClock()
	}
	return svc
}

// AuditLog records an action taken by the actor carried on ctx. Requests
// without an actor are attributed to the system. Sensitive metadata values
// are masked before they are stored.
func (s *Service) AuditLog(ctx context.Context, tournamentID *snowflake.ID, action string, targetType string, targetID *string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	entry := s.newEntry(ctx, action, targetType, metadata)
	entry.TargetID = trimmed(targetID)
	if tournamentID != nil && *tournamentID != 0 {
		entry.TournamentID = tournamentID
	}

	if err := s.repo.Insert(ctx, s.db, entry); err != nil {
		s.log.Warn("audit insert failed", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) newEntry(ctx context.Context, action, targetType string, metadata map[string]any) *auditdomain.AuditLog {
	kind, actorID := obscontext.ActorFromContext(ctx)
	if kind == "" {
		kind = string(auditdomain.ActorTypeSystem)
	}
	targetType = strings.TrimSpace(targetType)
	if targetType == "" {
		targetType = "unknown"
	}

	payload := masking.MaskMetadata(metadata)
	if id := obscontext.RequestIDFromContext(ctx); id != "" {
		payload["request_id"] = id
	}

	return &auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  kind,
		ActorID:    trimmed(&actorID),
		Action:     action,
		TargetType: targetType,
		Metadata:   datatypes.JSONMap(payload),
		CreatedAt:  s.clock.Now(),
	}
}

// List pages a tournament's audit trail newest first.
func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	if req.TournamentID == 0 {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidTournament
	}
	after, err := parsePageToken(req.PageToken)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	limit := pagination.ClampPageSize(req.PageSize, defaultPageSize, maxPageSize)
	rows, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		TournamentID: req.TournamentID,
		Action:       req.Action,
		TargetType:   req.TargetType,
		TargetID:     req.TargetID,
		Cursor:       after,
		Limit:        limit,
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	rows, info := pagination.Trim(rows, limit, func(row *auditdomain.AuditLog) pagination.Cursor {
		return pagination.NewCursor(row.ID.String(), row.CreatedAt)
	})
	resp := auditdomain.ListAuditLogResponse{PageInfo: info, AuditLogs: make([]auditdomain.AuditLog, 0, len(rows))}
	for _, row := range rows {
		if row != nil {
			resp.AuditLogs = append(resp.AuditLogs, *row)
		}
	}
	return resp, nil
}

func parsePageToken(token string) (*auditdomain.AuditCursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	c, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	at, err := c.Time()
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	id, err := snowflake.ParseString(strings.TrimSpace(c.ID))
	if err != nil || id == 0 {
		return nil, auditdomain.ErrInvalidPageToken
	}
	return &auditdomain.AuditCursor{ID: id, CreatedAt: at}, nil
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	if v := strings.TrimSpace(*value); v != "" {
		return &v
	}
	return nil
}
