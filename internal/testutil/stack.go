package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/lanes/internal/catalog/domain"
	catalogrepo "github.com/smallbiznis/lanes/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/lanes/internal/catalog/service"
	"github.com/smallbiznis/lanes/internal/clock"
	"github.com/smallbiznis/lanes/internal/config"
	ledgerdomain "github.com/smallbiznis/lanes/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/lanes/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/lanes/internal/ledger/service"
	"github.com/smallbiznis/lanes/internal/notification"
	registrationdomain "github.com/smallbiznis/lanes/internal/registration/domain"
	registrationrepo "github.com/smallbiznis/lanes/internal/registration/repository"
	registrationservice "github.com/smallbiznis/lanes/internal/registration/service"
	tournamentdomain "github.com/smallbiznis/lanes/internal/tournament/domain"
	tournamentrepo "github.com/smallbiznis/lanes/internal/tournament/repository"
	tournamentservice "github.com/smallbiznis/lanes/internal/tournament/service"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NotifierMock records notifier calls.
type NotifierMock struct {
	mock.Mock
}

func NewNotifierMock() *NotifierMock {
	m := &NotifierMock{}
	m.On("SendConfirmation", mock.Anything, mock.Anything).Return(nil)
	m.On("SendRegistrationNotice", mock.Anything, mock.Anything).Return(nil)
	m.On("SendReceipt", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	return m
}

func (m *NotifierMock) SendConfirmation(ctx context.Context, to notification.Recipient) error {
	return m.Called(ctx, to).Error(0)
}

func (m *NotifierMock) SendRegistrationNotice(ctx context.Context, to notification.Recipient) error {
	return m.Called(ctx, to).Error(0)
}

func (m *NotifierMock) SendReceipt(ctx context.Context, to notification.Recipient, paymentIdentifier string, amount int64) error {
	return m.Called(ctx, to, paymentIdentifier, amount).Error(0)
}

// Stack wires the registration services over one sqlite database.
type Stack struct {
	DB           *gorm.DB
	Node         *snowflake.Node
	Clock        *clock.FakeClock
	Notifier     *NotifierMock
	Tournaments  tournamentdomain.Service
	Catalog      catalogdomain.Service
	Ledger       ledgerdomain.Service
	Registration registrationdomain.Service
}

func NewStack(t *testing.T, now string) *Stack {
	t.Helper()
	db := OpenDB(t)
	node := Node(t)
	clk := Clock(t, now)
	log := zap.NewNop()
	notifier := NewNotifierMock()
	regConfig := config.NewStaticRegistrationConfigHolder(config.DefaultRegistrationConfig())

	tournaments := tournamentservice.NewService(tournamentservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: tournamentrepo.Provide(), RegConfig: regConfig,
	})
	catalog := catalogservice.NewService(catalogservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: catalogrepo.Provide(), TournamentSvc: tournaments,
	})
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: ledgerrepo.Provide(),
	})
	registration := registrationservice.NewService(registrationservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: registrationrepo.Provide(),
		TournamentSvc: tournaments, CatalogSvc: catalog, LedgerSvc: ledger,
		Notifier: notifier, RegConfig: regConfig,
	})

	return &Stack{
		DB:           db,
		Node:         node,
		Clock:        clk,
		Notifier:     notifier,
		Tournaments:  tournaments,
		Catalog:      catalog,
		Ledger:       ledger,
		Registration: registration,
	}
}

// Tournament creates a tournament in setup.
func (s *Stack) Tournament(t *testing.T, teamSize int) *tournamentdomain.Tournament {
	t.Helper()
	tournament, err := s.Tournaments.Create(context.Background(), tournamentdomain.CreateTournamentRequest{
		Name:     "Spring Classic",
		Timezone: "America/New_York",
		TeamSize: teamSize,
	})
	require.NoError(t, err)
	return tournament
}

// Advance walks a tournament along the forward path until it reaches state.
func (s *Stack) Advance(t *testing.T, tournament *tournamentdomain.Tournament, state tournamentdomain.State) *tournamentdomain.Tournament {
	t.Helper()
	events := map[tournamentdomain.State]tournamentdomain.Event{
		tournamentdomain.StateSetup:   tournamentdomain.EventTest,
		tournamentdomain.StateTesting: tournamentdomain.EventOpen,
		tournamentdomain.StateActive:  tournamentdomain.EventClose,
	}
	current := tournament
	for current.State != state {
		event, ok := events[current.State]
		require.True(t, ok, "cannot advance from %s", current.State)
		next, err := s.Tournaments.Transition(context.Background(), current.Identifier, event)
		require.NoError(t, err)
		current = next
	}
	return current
}

// Item creates a catalog item. The tournament must not be locked yet.
func (s *Stack) Item(t *testing.T, tournamentIdentifier string, req catalogdomain.CreateRequest) *catalogdomain.Item {
	t.Helper()
	item, err := s.Catalog.Create(context.Background(), tournamentIdentifier, req)
	require.NoError(t, err)
	return item
}

func EntryFee(value int64) catalogdomain.CreateRequest {
	return catalogdomain.CreateRequest{
		Name:          "Entry Fee",
		Category:      catalogdomain.CategoryLedger,
		Determination: catalogdomain.DeterminationEntryFee,
		Value:         value,
	}
}

func LateFee(value int64, appliesAt time.Time) catalogdomain.CreateRequest {
	return catalogdomain.CreateRequest{
		Name:          "Late Fee",
		Category:      catalogdomain.CategoryLedger,
		Determination: catalogdomain.DeterminationLateFee,
		Value:         value,
		Configuration: map[string]any{catalogdomain.ConfAppliesAt: appliesAt.UTC().Format(time.RFC3339)},
	}
}

func EarlyDiscount(value int64, validUntil time.Time) catalogdomain.CreateRequest {
	return catalogdomain.CreateRequest{
		Name:          "Early Registration Discount",
		Category:      catalogdomain.CategoryLedger,
		Determination: catalogdomain.DeterminationEarlyDiscount,
		Value:         value,
		Configuration: map[string]any{catalogdomain.ConfValidUntil: validUntil.UTC().Format(time.RFC3339)},
	}
}

func Event(name string, value int64) catalogdomain.CreateRequest {
	return catalogdomain.CreateRequest{
		Name:           name,
		Category:       catalogdomain.CategoryBowling,
		Determination:  catalogdomain.DeterminationEvent,
		Refinement:     catalogdomain.RefinementNone,
		Value:          value,
		UserSelectable: true,
	}
}

func Person(first string) registrationdomain.PersonInput {
	return registrationdomain.PersonInput{
		FirstName: first,
		LastName:  "Bowler",
		Email:     first + "@example.com",
	}
}
