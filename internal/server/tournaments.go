package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	catalogdomain "github.com/smallbiznis/lanes/internal/catalog/domain"
	tournamentdomain "github.com/smallbiznis/lanes/internal/tournament/domain"
)

type createTournamentRequest struct {
	Name     string `json:"name"`
	Timezone string `json:"timezone"`
	TeamSize int    `json:"team_size"`
}

type transitionRequest struct {
	Event string `json:"event"`
}

type setConfigRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type createItemRequest struct {
	Name           string         `json:"name"`
	Category       string         `json:"category"`
	Determination  string         `json:"determination"`
	Refinement     string         `json:"refinement"`
	Value          int64          `json:"value"`
	Configuration  map[string]any `json:"configuration"`
	UserSelectable bool           `json:"user_selectable"`
	Enabled        *bool          `json:"enabled"`
}

type updateItemValueRequest struct {
	Value *int64 `json:"value"`
}

func (s *Server) CreateTournament(c *gin.Context) {
	var req createTournamentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tournament, err := s.tournamentSvc.Create(c.Request.Context(), tournamentdomain.CreateTournamentRequest{
		Name:     strings.TrimSpace(req.Name),
		Timezone: strings.TrimSpace(req.Timezone),
		TeamSize: req.TeamSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": tournament})
}

func (s *Server) GetTournament(c *gin.Context) {
	tournament, err := s.tournamentSvc.Get(c.Request.Context(), c.Param("tournament"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tournament})
}

func (s *Server) TransitionTournament(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Event) == "" {
		AbortWithError(c, newValidationError("event", "required", "event is required"))
		return
	}

	tournament, err := s.tournamentSvc.Transition(c.Request.Context(), c.Param("tournament"), tournamentdomain.Event(strings.TrimSpace(req.Event)))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tournament})
}

func (s *Server) SetTournamentConfig(c *gin.Context) {
	var req setConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Key) == "" {
		AbortWithError(c, newValidationError("key", "required", "key is required"))
		return
	}

	tournament, err := s.tournamentSvc.SetConfig(c.Request.Context(), c.Param("tournament"), strings.TrimSpace(req.Key), req.Value)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tournament})
}

func (s *Server) CreateItem(c *gin.Context) {
	var req createItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	refinement := catalogdomain.Refinement(strings.TrimSpace(req.Refinement))
	if refinement == "" {
		refinement = catalogdomain.RefinementNone
	}
	item, err := s.catalogSvc.Create(c.Request.Context(), c.Param("tournament"), catalogdomain.CreateRequest{
		Name:           strings.TrimSpace(req.Name),
		Category:       catalogdomain.Category(strings.TrimSpace(req.Category)),
		Determination:  catalogdomain.Determination(strings.TrimSpace(req.Determination)),
		Refinement:     refinement,
		Value:          req.Value,
		Configuration:  req.Configuration,
		UserSelectable: req.UserSelectable,
		Enabled:        req.Enabled,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": item})
}

func (s *Server) ListItems(c *gin.Context) {
	items, err := s.catalogSvc.List(c.Request.Context(), c.Param("tournament"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) UpdateItemValue(c *gin.Context) {
	var req updateItemValueRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Value == nil {
		AbortWithError(c, newValidationError("value", "required", "value is required"))
		return
	}

	item, err := s.catalogSvc.UpdateValue(c.Request.Context(), c.Param("item"), *req.Value)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}
