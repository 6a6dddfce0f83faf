package service

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/lanes/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/lanes/internal/catalog/domain"
	"github.com/smallbiznis/lanes/internal/clock"
	"github.com/smallbiznis/lanes/internal/config"
	ledgerdomain "github.com/smallbiznis/lanes/internal/ledger/domain"
	"github.com/smallbiznis/lanes/internal/notification"
	obsmetrics "github.com/smallbiznis/lanes/internal/observability/metrics"
	"github.com/smallbiznis/lanes/internal/pricing"
	"github.com/smallbiznis/lanes/internal/registration/domain"
	tournamentdomain "github.com/smallbiznis/lanes/internal/tournament/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
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
	CatalogSvc    catalogdomain.Service
	LedgerSvc     ledgerdomain.Service
	Notifier      notification.Notifier
	RegConfig     *config.RegistrationConfigHolder `optional:"true"`
	AuditSvc      auditdomain.Service              `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics              `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          domain.Repository
	tournamentSvc tournamentdomain.Service
	catalogSvc    catalogdomain.Service
	ledgerSvc     ledgerdomain.Service
	notifier      notification.Notifier
	regConfig     *config.RegistrationConfigHolder
	auditSvc      auditdomain.Service
	obsMetrics    *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("registration.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		tournamentSvc: p.TournamentSvc,
		catalogSvc:    p.CatalogSvc,
		ledgerSvc:     p.LedgerSvc,
		notifier:      p.Notifier,
		regConfig:     p.RegConfig,
		auditSvc:      p.AuditSvc,
		obsMetrics:    p.ObsMetrics,
	}
}

// registered pairs a new bowler with its person for post-commit notifications.
type registered struct {
	bowler *domain.Bowler
	person *domain.Person
}

func (s *Service) openTournament(ctx context.Context, identifier string) (*tournamentdomain.Tournament, error) {
	tournament, err := s.tournamentSvc.Get(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !tournament.State.AcceptsRegistrations() {
		return nil, domain.ErrRegistrationClosed
	}
	return tournament, nil
}

func (s *Service) requiredItems(ctx context.Context, tournament *tournamentdomain.Tournament) ([]catalogdomain.Item, error) {
	items, err := s.catalogSvc.ListByTournamentID(ctx, tournament.ID)
	if err != nil {
		return nil, err
	}
	window := pricing.WindowFor(tournament, s.clock.Now(), s.regConfig.Get().EarlyDiscountGrace)
	return pricing.RequiredItemsAtRegistration(window, items), nil
}

func (s *Service) newPerson(input domain.PersonInput, now time.Time) (*domain.Person, error) {
	first := strings.TrimSpace(input.FirstName)
	last := strings.TrimSpace(input.LastName)
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if first == "" || last == "" || email == "" {
		return nil, domain.ErrInvalidPerson
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, domain.ErrInvalidPerson
	}
	return &domain.Person{
		ID:         s.genID.Generate(),
		FirstName:  first,
		LastName:   last,
		Nickname:   strings.TrimSpace(input.Nickname),
		Email:      email,
		Phone:      strings.TrimSpace(input.Phone),
		Address1:   strings.TrimSpace(input.Address1),
		Address2:   strings.TrimSpace(input.Address2),
		City:       strings.TrimSpace(input.City),
		State:      strings.TrimSpace(input.State),
		Country:    strings.TrimSpace(input.Country),
		PostalCode: strings.TrimSpace(input.PostalCode),
		BirthDate:  input.BirthDate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *Service) newBowler(tournamentID snowflake.ID, person *domain.Person, now time.Time) *domain.Bowler {
	return &domain.Bowler{
		ID:           s.genID.Generate(),
		TournamentID: tournamentID,
		PersonID:     person.ID,
		Identifier:   ulid.Make().String(),
		CreatedAt:    now,
		UpdatedAt:    now,
		Person:       person,
	}
}

// insertRegistration persists person and bowler and charges the required items.
func (s *Service) insertRegistration(ctx context.Context, tx *gorm.DB, reg registered, required []catalogdomain.Item) error {
	if err := s.repo.InsertPerson(ctx, tx, reg.person); err != nil {
		return err
	}
	if err := s.repo.InsertBowler(ctx, tx, reg.bowler); err != nil {
		return err
	}
	ledger := s.ledgerSvc.WithTx(tx)
	for _, item := range required {
		if _, err := ledger.RecordPurchase(ctx, ledgerdomain.RecordPurchaseRequest{
			BowlerID: reg.bowler.ID,
			Item:     item,
			Source:   ledgerdomain.SourceRegistration,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) RegisterBowler(ctx context.Context, tournamentIdentifier string, req domain.RegisterBowlerRequest) (*domain.Bowler, error) {
	tournament, err := s.openTournament(ctx, tournamentIdentifier)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	person, err := s.newPerson(req.Person, now)
	if err != nil {
		return nil, err
	}
	required, err := s.requiredItems(ctx, tournament)
	if err != nil {
		return nil, err
	}

	bowler := s.newBowler(tournament.ID, person, now)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if identifier := strings.TrimSpace(req.TeamIdentifier); identifier != "" {
			team, err := s.repo.FindTeam(ctx, tx, identifier, true)
			if err != nil {
				return err
			}
			if team == nil || team.TournamentID != tournament.ID {
				return domain.ErrTeamNotFound
			}
			members, err := s.repo.ListTeamBowlers(ctx, tx, team.ID)
			if err != nil {
				return err
			}
			if len(members) >= tournament.TeamSize() {
				return domain.ErrTeamFull
			}
			teamID := team.ID
			bowler.TeamID = &teamID
			bowler.Position = req.Position
			if bowler.Position <= 0 {
				bowler.Position = nextPosition(members)
			}
			for _, member := range members {
				if member.Position == bowler.Position {
					return domain.ErrPositionTaken
				}
			}
		}

		if err := s.insertRegistration(ctx, tx, registered{bowler: bowler, person: person}, required); err != nil {
			return err
		}

		if identifier := strings.TrimSpace(req.DoublesPartnerIdentifier); identifier != "" {
			return s.completePartnerLink(ctx, tx, tournament.ID, bowler, identifier)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordRegistration(ctx, "solo", 1)
	s.afterRegistration(ctx, tournament, []registered{{bowler: bowler, person: person}})
	return bowler, nil
}

// completePartnerLink links the new bowler to a requested partner. The first
// link wins: a partner who is already paired is left alone and the new
// bowler stays unpaired.
func (s *Service) completePartnerLink(ctx context.Context, tx *gorm.DB, tournamentID snowflake.ID, bowler *domain.Bowler, partnerIdentifier string) error {
	partner, err := s.repo.FindBowler(ctx, tx, partnerIdentifier, true)
	if err != nil {
		return err
	}
	if partner == nil || partner.TournamentID != tournamentID {
		return domain.ErrBowlerNotFound
	}
	if partner.DoublesPartnerID != nil {
		s.log.Info("requested doubles partner already linked",
			zap.String("bowler", bowler.Identifier),
			zap.String("partner", partner.Identifier),
		)
		return nil
	}
	return s.link(ctx, tx, bowler, partner)
}

func (s *Service) link(ctx context.Context, tx *gorm.DB, a, b *domain.Bowler) error {
	aID, bID := a.ID, b.ID
	if err := s.repo.SetPartner(ctx, tx, a.ID, &bID); err != nil {
		return err
	}
	if err := s.repo.SetPartner(ctx, tx, b.ID, &aID); err != nil {
		return err
	}
	a.DoublesPartnerID = &bID
	b.DoublesPartnerID = &aID
	return nil
}

func (s *Service) RegisterTeam(ctx context.Context, tournamentIdentifier string, req domain.RegisterTeamRequest) (*domain.TeamRegistration, error) {
	tournament, err := s.openTournament(ctx, tournamentIdentifier)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || len(req.Members) == 0 {
		return nil, domain.ErrInvalidTeam
	}
	if len(req.Members) > tournament.TeamSize() {
		return nil, domain.ErrTeamFull
	}

	now := s.clock.Now()
	team := &domain.Team{
		ID:           s.genID.Generate(),
		TournamentID: tournament.ID,
		Identifier:   ulid.Make().String(),
		Name:         name,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	taken := make(map[int]bool, len(req.Members))
	for _, member := range req.Members {
		if member.Position <= 0 {
			continue
		}
		if taken[member.Position] {
			return nil, domain.ErrPositionTaken
		}
		taken[member.Position] = true
	}
	free := 1

	regs := make([]registered, 0, len(req.Members))
	bowlers := make([]*domain.Bowler, 0, len(req.Members))
	for _, member := range req.Members {
		person, err := s.newPerson(member.Person, now)
		if err != nil {
			return nil, err
		}
		bowler := s.newBowler(tournament.ID, person, now)
		teamID := team.ID
		bowler.TeamID = &teamID
		bowler.Position = member.Position
		if bowler.Position <= 0 {
			for taken[free] {
				free++
			}
			bowler.Position = free
			taken[free] = true
		}
		bowler.DoublesPartnerNum = member.DoublesPartnerNum
		regs = append(regs, registered{bowler: bowler, person: person})
		bowlers = append(bowlers, bowler)
	}
	domain.LinkDoublesPartners(bowlers)

	required, err := s.requiredItems(ctx, tournament)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertTeam(ctx, tx, team); err != nil {
			return err
		}
		for _, reg := range regs {
			if err := s.insertRegistration(ctx, tx, reg, required); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordRegistration(ctx, "team", len(bowlers))
	s.afterRegistration(ctx, tournament, regs)
	return &domain.TeamRegistration{Team: team, Bowlers: bowlers}, nil
}

func (s *Service) RegisterPair(ctx context.Context, tournamentIdentifier string, pair [2]domain.PersonInput) ([2]*domain.Bowler, error) {
	var out [2]*domain.Bowler
	tournament, err := s.openTournament(ctx, tournamentIdentifier)
	if err != nil {
		return out, err
	}

	now := s.clock.Now()
	var regs []registered
	for i, input := range pair {
		person, err := s.newPerson(input, now)
		if err != nil {
			return out, err
		}
		out[i] = s.newBowler(tournament.ID, person, now)
		regs = append(regs, registered{bowler: out[i], person: person})
	}
	aID, bID := out[0].ID, out[1].ID
	out[0].DoublesPartnerID = &bID
	out[1].DoublesPartnerID = &aID

	required, err := s.requiredItems(ctx, tournament)
	if err != nil {
		return out, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, reg := range regs {
			if err := s.insertRegistration(ctx, tx, reg, required); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return [2]*domain.Bowler{}, err
	}

	s.obsMetrics.RecordRegistration(ctx, "doubles", 2)
	s.afterRegistration(ctx, tournament, regs)
	return out, nil
}

func (s *Service) ReassignBowler(ctx context.Context, bowlerIdentifier string, teamIdentifier string) (bool, error) {
	moved := false
	var tournamentID snowflake.ID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bowler, err := s.repo.FindBowler(ctx, tx, strings.TrimSpace(bowlerIdentifier), true)
		if err != nil {
			return err
		}
		if bowler == nil {
			return domain.ErrBowlerNotFound
		}
		team, err := s.repo.FindTeam(ctx, tx, strings.TrimSpace(teamIdentifier), true)
		if err != nil {
			return err
		}
		if team == nil || team.TournamentID != bowler.TournamentID {
			return domain.ErrTeamNotFound
		}
		tournamentID = bowler.TournamentID
		if bowler.TeamID != nil && *bowler.TeamID == team.ID {
			moved = true
			return nil
		}

		tournament, err := s.tournamentSvc.GetByID(ctx, bowler.TournamentID)
		if err != nil {
			return err
		}
		members, err := s.repo.ListTeamBowlers(ctx, tx, team.ID)
		if err != nil {
			return err
		}
		if len(members) >= tournament.TeamSize() {
			return nil
		}

		if bowler.DoublesPartnerID != nil {
			if err := s.repo.ClearPartnerReferences(ctx, tx, bowler.ID); err != nil {
				return err
			}
			bowler.DoublesPartnerID = nil
		}
		for i := range members {
			if members[i].DoublesPartnerID == nil {
				if err := s.link(ctx, tx, bowler, &members[i]); err != nil {
					return err
				}
				break
			}
		}

		if err := s.repo.MoveBowler(ctx, tx, bowler.ID, team.ID, nextPosition(members)); err != nil {
			return err
		}
		moved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !moved {
		s.log.Info("team at capacity, bowler not moved",
			zap.String("bowler", bowlerIdentifier),
			zap.String("team", teamIdentifier),
		)
		return false, nil
	}

	s.audit(ctx, tournamentID, "registration.bowler_reassigned", "bowler", bowlerIdentifier, map[string]any{
		"team": teamIdentifier,
	})
	return true, nil
}

func nextPosition(members []domain.Bowler) int {
	highest := 0
	for _, member := range members {
		if member.Position > highest {
			highest = member.Position
		}
	}
	return highest + 1
}

func (s *Service) DestroyBowler(ctx context.Context, bowlerIdentifier string) error {
	var tournamentID snowflake.ID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		bowler, err := s.repo.FindBowler(ctx, tx, strings.TrimSpace(bowlerIdentifier), true)
		if err != nil {
			return err
		}
		if bowler == nil {
			return domain.ErrBowlerNotFound
		}
		tournamentID = bowler.TournamentID
		if err := s.repo.ClearPartnerReferences(ctx, tx, bowler.ID); err != nil {
			return err
		}
		if err := s.repo.UnlinkFreeEntries(ctx, tx, bowler.ID); err != nil {
			return err
		}
		if err := s.ledgerSvc.WithTx(tx).DeleteForBowler(ctx, bowler.ID); err != nil {
			return err
		}
		return s.repo.DeleteBowler(ctx, tx, bowler)
	})
	if err != nil {
		return err
	}
	s.audit(ctx, tournamentID, "registration.bowler_destroyed", "bowler", bowlerIdentifier, nil)
	return nil
}

func (s *Service) GetBowler(ctx context.Context, identifier string) (*domain.Bowler, error) {
	bowler, err := s.repo.FindBowler(ctx, s.db, strings.TrimSpace(identifier), false)
	if err != nil {
		return nil, err
	}
	if bowler == nil {
		return nil, domain.ErrBowlerNotFound
	}
	person, err := s.repo.FindPerson(ctx, s.db, bowler.PersonID)
	if err != nil {
		return nil, err
	}
	bowler.Person = person
	return bowler, nil
}

func (s *Service) GetTeam(ctx context.Context, identifier string) (*domain.Team, []domain.Bowler, error) {
	team, err := s.repo.FindTeam(ctx, s.db, strings.TrimSpace(identifier), false)
	if err != nil {
		return nil, nil, err
	}
	if team == nil {
		return nil, nil, domain.ErrTeamNotFound
	}
	members, err := s.repo.ListTeamBowlers(ctx, s.db, team.ID)
	if err != nil {
		return nil, nil, err
	}
	return team, members, nil
}

// afterRegistration runs once per committed registration.
func (s *Service) afterRegistration(ctx context.Context, tournament *tournamentdomain.Tournament, regs []registered) {
	for _, reg := range regs {
		to := notification.Recipient{
			BowlerIdentifier: reg.bowler.Identifier,
			Name:             reg.person.DisplayName(),
			Email:            reg.person.Email,
			TournamentName:   tournament.Name,
		}
		if err := s.notifier.SendConfirmation(ctx, to); err != nil {
			s.log.Warn("failed to send confirmation", zap.String("bowler", reg.bowler.Identifier), zap.Error(err))
		}
		if err := s.notifier.SendRegistrationNotice(ctx, to); err != nil {
			s.log.Warn("failed to send registration notice", zap.String("bowler", reg.bowler.Identifier), zap.Error(err))
		}
		s.audit(ctx, tournament.ID, "registration.bowler_registered", "bowler", reg.bowler.Identifier, map[string]any{
			"email": reg.person.Email,
		})
	}
}

func (s *Service) audit(ctx context.Context, tournamentID snowflake.ID, action, targetType, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.AuditLog(ctx, &tournamentID, action, targetType, &targetID, metadata); err != nil {
		s.log.Warn("failed to write registration audit log", zap.String("action", action), zap.Error(err))
	}
}
