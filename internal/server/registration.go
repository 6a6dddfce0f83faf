package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/lanes/internal/ledger/domain"
	registrationdomain "github.com/smallbiznis/lanes/internal/registration/domain"
)

type registerBowlerRequest struct {
	Person         registrationdomain.PersonInput `json:"person"`
	Team           string                         `json:"team"`
	Position       int                            `json:"position"`
	DoublesPartner string                         `json:"doubles_partner"`
}

type teamMemberRequest struct {
	Person            registrationdomain.PersonInput `json:"person"`
	Position          int                            `json:"position"`
	DoublesPartnerNum int                            `json:"doubles_partner_num"`
}

type registerTeamRequest struct {
	Name    string              `json:"name"`
	Members []teamMemberRequest `json:"members"`
}

type registerPairRequest struct {
	Bowlers []registrationdomain.PersonInput `json:"bowlers"`
}

type reassignRequest struct {
	Team string `json:"team"`
}

type freeEntryRequest struct {
	Code string `json:"code"`
}

type linkFreeEntryRequest struct {
	Bowler string `json:"bowler"`
}

type bowlerView struct {
	*registrationdomain.Bowler
	AmountBilled int64                     `json:"amount_billed"`
	AmountDue    int64                     `json:"amount_due"`
	Purchases    []ledgerdomain.Purchase    `json:"purchases"`
	Entries      []ledgerdomain.LedgerEntry `json:"ledger_entries"`
}

func (s *Server) RegisterBowler(c *gin.Context) {
	var req registerBowlerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	bowler, err := s.registrationSvc.RegisterBowler(c.Request.Context(), c.Param("tournament"), registrationdomain.RegisterBowlerRequest{
		Person:                   req.Person,
		TeamIdentifier:           strings.TrimSpace(req.Team),
		Position:                 req.Position,
		DoublesPartnerIdentifier: strings.TrimSpace(req.DoublesPartner),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": bowler})
}

func (s *Server) RegisterTeam(c *gin.Context) {
	var req registerTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	members := make([]registrationdomain.TeamMemberInput, 0, len(req.Members))
	for _, m := range req.Members {
		members = append(members, registrationdomain.TeamMemberInput{
			Person:            m.Person,
			Position:          m.Position,
			DoublesPartnerNum: m.DoublesPartnerNum,
		})
	}

	reg, err := s.registrationSvc.RegisterTeam(c.Request.Context(), c.Param("tournament"), registrationdomain.RegisterTeamRequest{
		Name:    strings.TrimSpace(req.Name),
		Members: members,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": gin.H{"team": reg.Team, "bowlers": reg.Bowlers}})
}

func (s *Server) RegisterPair(c *gin.Context) {
	var req registerPairRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Bowlers) != 2 {
		AbortWithError(c, newValidationError("bowlers", "invalid_pair", "exactly two bowlers are required"))
		return
	}

	pair, err := s.registrationSvc.RegisterPair(c.Request.Context(), c.Param("tournament"), [2]registrationdomain.PersonInput{req.Bowlers[0], req.Bowlers[1]})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": pair})
}

func (s *Server) GetBowler(c *gin.Context) {
	ctx := c.Request.Context()
	bowler, err := s.registrationSvc.GetBowler(ctx, c.Param("bowler"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	view := bowlerView{Bowler: bowler}
	if view.AmountBilled, err = s.ledgerSvc.AmountBilled(ctx, bowler.ID); err != nil {
		AbortWithError(c, err)
		return
	}
	if view.AmountDue, err = s.ledgerSvc.AmountDue(ctx, bowler.ID); err != nil {
		AbortWithError(c, err)
		return
	}
	if view.Purchases, err = s.ledgerSvc.ListPurchases(ctx, ledgerdomain.PurchaseFilter{BowlerID: bowler.ID}); err != nil {
		AbortWithError(c, err)
		return
	}
	if view.Entries, err = s.ledgerSvc.ListEntries(ctx, bowler.ID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": view})
}

func (s *Server) GetTeam(c *gin.Context) {
	team, bowlers, err := s.registrationSvc.GetTeam(c.Request.Context(), c.Param("team"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"team": team, "bowlers": bowlers}})
}

func (s *Server) ReassignBowler(c *gin.Context) {
	var req reassignRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Team) == "" {
		AbortWithError(c, newValidationError("team", "required", "team is required"))
		return
	}

	moved, err := s.registrationSvc.ReassignBowler(c.Request.Context(), c.Param("bowler"), strings.TrimSpace(req.Team))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"moved": moved}})
}

func (s *Server) DestroyBowler(c *gin.Context) {
	if err := s.registrationSvc.DestroyBowler(c.Request.Context(), c.Param("bowler")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) CreateFreeEntry(c *gin.Context) {
	var req freeEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	entry, err := s.registrationSvc.CreateFreeEntry(c.Request.Context(), c.Param("tournament"), req.Code)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": entry})
}

func (s *Server) LinkFreeEntry(c *gin.Context) {
	var req linkFreeEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Bowler) == "" {
		AbortWithError(c, newValidationError("bowler", "required", "bowler is required"))
		return
	}

	entry, err := s.registrationSvc.LinkFreeEntry(c.Request.Context(), c.Param("code"), strings.TrimSpace(req.Bowler))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entry})
}

func (s *Server) ConfirmFreeEntry(c *gin.Context) {
	entry, err := s.registrationSvc.ConfirmFreeEntry(c.Request.Context(), c.Param("code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entry})
}
