package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lanes/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ActorType string

const (
	ActorTypeSystem   ActorType = "system"
	ActorTypeDirector ActorType = "director"
	ActorTypeBowler   ActorType = "bowler"
	ActorTypeProvider ActorType = "provider"
)

type AuditLog struct {
	ID           snowflake.ID      `json:"id" gorm:"primaryKey"`
	TournamentID *snowflake.ID     `json:"tournament_id,omitempty" gorm:"index"`
	ActorType    string            `json:"actor_type" gorm:"type:text;not null"`
	ActorID      *string           `json:"actor_id,omitempty" gorm:"type:text"`
	Action       string            `json:"action" gorm:"type:text;not null;index"`
	TargetType   string            `json:"target_type" gorm:"type:text;not null"`
	TargetID     *string           `json:"target_id,omitempty" gorm:"type:text"`
	Metadata     datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at" gorm:"not null;index"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	TournamentID snowflake.ID
	Action       string
	TargetType   string
	TargetID     string
	Cursor       *AuditCursor
	Limit        int
}

type ListAuditLogRequest struct {
	pagination.Pagination
	TournamentID snowflake.ID
	Action       string
	TargetType   string
	TargetID     string
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Service interface {
	AuditLog(ctx context.Context, tournamentID *snowflake.ID, action string, targetType string, targetID *string, metadata map[string]any) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

var (
	ErrInvalidTournament = errors.New("invalid_tournament")
	ErrInvalidPageToken  = errors.New("invalid_page_token")
	ErrInvalidAction     = errors.New("invalid_action")
)
