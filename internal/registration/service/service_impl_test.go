package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/lanes/internal/catalog/domain"
	ledgerdomain "github.com/smallbiznis/lanes/internal/ledger/domain"
	"github.com/smallbiznis/lanes/internal/registration/domain"
	"github.com/smallbiznis/lanes/internal/testutil"
	tournamentdomain "github.com/smallbiznis/lanes/internal/tournament/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const now = "2026-05-01T12:00:00Z"

func activeTournament(t *testing.T, stack *testutil.Stack, teamSize int, items ...catalogdomain.CreateRequest) *tournamentdomain.Tournament {
	t.Helper()
	tournament := stack.Tournament(t, teamSize)
	for _, item := range items {
		stack.Item(t, tournament.Identifier, item)
	}
	return stack.Advance(t, tournament, tournamentdomain.StateActive)
}

func loadBowler(t *testing.T, db *gorm.DB, identifier string) domain.Bowler {
	t.Helper()
	var bowler domain.Bowler
	require.NoError(t, db.Where("identifier = ?", identifier).First(&bowler).Error)
	return bowler
}

// assertReciprocal checks every doubles link in the database points both ways.
func assertReciprocal(t *testing.T, db *gorm.DB) {
	t.Helper()
	var bowlers []domain.Bowler
	require.NoError(t, db.Find(&bowlers).Error)
	byID := make(map[snowflake.ID]domain.Bowler, len(bowlers))
	for _, b := range bowlers {
		byID[b.ID] = b
	}
	for _, b := range bowlers {
		if b.DoublesPartnerID == nil {
			continue
		}
		partner, ok := byID[*b.DoublesPartnerID]
		require.True(t, ok, "bowler %s points at a missing partner", b.Identifier)
		require.NotNil(t, partner.DoublesPartnerID, "partner of %s has no back reference", b.Identifier)
		assert.Equal(t, b.ID, *partner.DoublesPartnerID)
	}
}

func purchasedDeterminations(t *testing.T, stack *testutil.Stack, bowlerID snowflake.ID) []catalogdomain.Determination {
	t.Helper()
	purchases, err := stack.Ledger.ListPurchases(context.Background(), ledgerdomain.PurchaseFilter{BowlerID: bowlerID})
	require.NoError(t, err)
	var out []catalogdomain.Determination
	for _, p := range purchases {
		var item catalogdomain.Item
		require.NoError(t, stack.DB.Where("id = ?", p.PurchasableItemID).First(&item).Error)
		out = append(out, item.Determination)
	}
	return out
}

func TestRegisterBowlerAfterLateFeeApplies(t *testing.T) {
	ctx := context.Background()
	stack := testutil.NewStack(t, now)
	appliesAt := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	tournament := activeTournament(t, stack, 4, testutil.EntryFee(100), testutil.LateFee(20, appliesAt))

	bowler, err := stack.Registration.RegisterBowler(ctx, tournament.Identifier, domain.RegisterBowlerRequest{
		Person: testutil.Person("ann"),
	})
	require.NoError(t, err)

	due, err := stack.Ledger.AmountDue(ctx, bowler.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(120), due)
	assert.ElementsMatch(t,
		[]catalogdomain.Determination{catalogdomain.DeterminationEntryFee, catalogdomain.DeterminationLateFee},
		purchasedDeterminations(t, stack, bowler.ID),
	)

	stack.Notifier.AssertNumberOfCalls(t, "SendConfirmation", 1)
	stack.Notifier.AssertNumberOfCalls(t, "SendRegistrationNotice", 1)
}

func TestRegisterBowlerEarlyDiscount(t *testing.T) {
	ctx := context.Background()
	stack := testutil.NewStack(t, now)
	tournament := activeTournament(t, stack, 4,
		testutil.EntryFee(100),
		testutil.EarlyDiscount(-10, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)),
	)

	bowler, err := stack.Registration.RegisterBowler(ctx, tournament.Identifier, domain.RegisterBowlerRequest{Person: testutil.Person("bea")})
	require.NoError(t, err)

	due, err := stack.Ledger.AmountDue(ctx, bowler.ID)
	require.NoError(t, err)
	billed, err := stack.Ledger.AmountBilled(ctx, bowler.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(90), due)
	assert.Equal(t, int64(100), billed)
}

func TestRegisterBowlerRejectedOutsideRegistration(t *testing.T) {
	ctx := context.Background()
	stack := testutil.NewStack(t, now)
	tournament := stack.Tournament(t, 4)

	_, err := stack.Registration.RegisterBowler(ctx, tournament.Identifier, domain.RegisterBowlerRequest{Person: testutil.Person("cal")})
	assert.ErrorIs(t, err, domain.ErrRegistrationClosed)

	_, err = stack.Registration.RegisterBowler(ctx, tournament.Identifier, domain.RegisterBowlerRequest{})
	assert.ErrorIs(t, err, domain.ErrRegistrationClosed)

	testing := stack.Advance(t, tournament, tournamentdomain.StateTesting)
	_, err = stack.Registration.RegisterBowler(ctx, testing.Identifier, domain.RegisterBowlerRequest{
		Person: domain.PersonInput{FirstName: "No", LastName: "Mail", Email: "not-an-email"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPerson)
	stack.Notifier.AssertNotCalled(t, "SendConfirmation", mock.Anything, mock.Anything)
}

func TestRegisterTeamLinksDoublesPartners(t *testing.T) {
	ctx := context.Background()
	stack := testutil.NewStack(t, now)
	tournament := activeTournament(t, stack, 4, testutil.EntryFee(100))

	reg, err := stack.Registration.RegisterTeam(ctx, tournament.Identifier, domain.RegisterTeamRequest{
		Name: "Split Happens",
		Members: []domain.TeamMemberInput{
			{Person: testutil.Person("amy"), Position: 1, DoublesPartnerNum: 4},
			{Person: testutil.Person("bob"), Position: 2, DoublesPartnerNum: 3},
			{Person: testutil.Person("cat"), Position: 3, DoublesPartnerNum: 2},
			{Person: testutil.Person("dan"), Position: 4, DoublesPartnerNum: 1},
		},
	})
	require.NoError(t, err)
	require.Len(t, reg.Bowlers, 4)

	byPosition := map[int]domain.Bowler{}
	for _, b := range reg.Bowlers {
		stored := loadBowler(t, stack.DB, b.Identifier)
		byPosition[stored.Position] = stored
	}
	require.NotNil(t, byPosition[1].DoublesPartnerID)
	assert.Equal(t, byPosition[4].ID, *byPosition[1].DoublesPartnerID)
	assert.Equal(t, byPosition[1].ID, *byPosition[4].DoublesPartnerID)
	assert.Equal(t, byPosition[3].ID, *byPosition[2].DoublesPartnerID)
	assert.Equal(t, byPosition[2].ID, *byPosition[3].DoublesPartnerID)
	assertReciprocal(t, stack.DB)

	testutil.AssertCount(t, stack.DB, "purchases", "", 4)
	stack.Notifier.AssertNumberOfCalls(t, "SendConfirmation", 4)

	_, err = stack.Registration.RegisterTeam(ctx, tournament.Identifier, domain.RegisterTeamRequest{
		Name: "Too Many",
		Members: []domain.TeamMemberInput{
			{Person: testutil.Person("a1")}, {Person: testutil.Person("a2")}, {Person: testutil.Person("a3")},
			{Person: testutil.Person("a4")}, {Person: testutil.Person("a5")},
		},
	})
	assert.ErrorIs(t, err, domain.ErrTeamFull)
}

func TestRegisterTeamIsAtomic(t *testing.T) {
	ctx := context.Background()
	stack := testutil.NewStack(t, now)
	tournament := activeTournament(t, stack, 4, testutil.EntryFee(100))

	_, err := stack.Registration.RegisterTeam(ctx, tournament.Identifier, domain.RegisterTeamRequest{
		Name: "Half Valid",
		Members: []domain.TeamMemberInput{
			{Person: testutil.Person("ok")},
			{Person: domain.PersonInput{FirstName: "Missing"}},
		},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidPerson)
	testutil.AssertCount(t, stack.DB, "teams", "", 0)
	testutil.AssertCount(t, stack.DB, "bowlers", "", 0)
	testutil.AssertCount(t, stack.DB, "ledger_entries", "", 0)
}

func TestRegisterBowlerCompletesPartnerLinkFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	stack := testutil.NewStack(t, now)
	tournament := activeTournament(t, stack, 4, testutil.EntryFee(100))

	first, err := stack.Registration.RegisterBowler(ctx, tournament.Identifier, domain.RegisterBowlerRequest{Person: testutil.Person("eve")})
	require.NoError(t, err)
	second, err := stack.Registration.RegisterBowler(ctx, tournament.Identifier, domain.RegisterBowlerRequest{
		Person:                   testutil.Person("fay"),
		DoublesPartnerIdentifier: first.Identifier,
	})
	require.NoError(t, err)
	third, err := stack.Registration.RegisterBowler(ctx, tournament.Identifier, domain.RegisterBowlerRequest{
		Person:                   testutil.Person("gus"),
		DoublesPartnerIdentifier: first.Identifier,
	})
	require.NoError(t, err)

	stored := loadBowler(t, stack.DB, first.Identifier)
	require.NotNil(t, stored.DoublesPartnerID)
	assert.Equal(t, second.ID, *stored.DoublesPartnerID)
	assert.Nil(t, loadBowler(t, stack.DB, third.Identifier).DoublesPartnerID)
	assertReciprocal(t, stack.DB)
}

func TestRegisterPair(t *testing.T) {
	ctx := context.Background()
	stack := testutil.NewStack(t, now)
	tournament := activeTournament(t, stack, 4, testutil.EntryFee(100))

	pair, err := stack.Registration.RegisterPair(ctx, tournament.Identifier, [2]domain.PersonInput{testutil.Person("hal"), testutil.Person("ivy")})
	require.NoError(t, err)
	assert.Equal(t, pair[1].ID, *loadBowler(t, stack.DB, pair[0].Identifier).DoublesPartnerID)
	assertReciprocal(t, stack.DB)
	stack.Notifier.AssertNumberOfCalls(t, "SendRegistrationNotice", 2)
}

func registerTeam(t *testing.T, stack *testutil.Stack, tournament *tournamentdomain.Tournament, name string, members ...domain.TeamMemberInput) *domain.TeamRegistration {
	t.Helper()
	reg, err := stack.Registration.RegisterTeam(context.Background(), tournament.Identifier, domain.RegisterTeamRequest{Name: name, Members: members})
	require.NoError(t, err)
	return reg
}

func TestReassignBowlerLinksPartnerlessBowler(t *testing.T) {
	ctx := context.Background()
	stack := testutil.NewStack(t, now)
	tournament := activeTournament(t, stack, 4, testutil.EntryFee(100))

	from := registerTeam(t, stack, tournament, "From",
		domain.TeamMemberInput{Person: testutil.Person("jo"), Position: 1, DoublesPartnerNum: 2},
		domain.TeamMemberInput{Person: testutil.Person("kim"), Position: 2, DoublesPartnerNum: 1},
	)
	to := registerTeam(t, stack, tournament, "To",
		domain.TeamMemberInput{Person: testutil.Person("lee"), Position: 1, DoublesPartnerNum: 2},
		domain.TeamMemberInput{Person: testutil.Person("max"), Position: 2, DoublesPartnerNum: 1},
		domain.TeamMemberInput{Person: testutil.Person("ned"), Position: 3},
	)

	moving := from.Bowlers[0]
	oldPartner := from.Bowlers[1]
	partnerless := to.Bowlers[2]

	moved, err := stack.Registration.ReassignBowler(ctx, moving.Identifier, to.Team.Identifier)
	require.NoError(t, err)
	assert.True(t, moved)

	stored := loadBowler(t, stack.DB, moving.Identifier)
	require.NotNil(t, stored.TeamID)
	assert.Equal(t, to.Team.ID, *stored.TeamID)
	assert.Equal(t, 4, stored.Position)
	require.NotNil(t, stored.DoublesPartnerID)
	assert.Equal(t, partnerless.ID, *stored.DoublesPartnerID)
	assert.Nil(t, loadBowler(t, stack.DB, oldPartner.Identifier).DoublesPartnerID)
	assertReciprocal(t, stack.DB)
}

func TestReassignBowlerToFullTeamDoesNothing(t *testing.T) {
	ctx := context.Background()
	stack := testutil.NewStack(t, now)
	tournament := activeTournament(t, stack, 2, testutil.EntryFee(100))

	from := registerTeam(t, stack, tournament, "From",
		domain.TeamMemberInput{Person: testutil.Person("oz"), Position: 1, DoublesPartnerNum: 2},
		domain.TeamMemberInput{Person: testutil.Person("pat"), Position: 2, DoublesPartnerNum: 1},
	)
	full := registerTeam(t, stack, tournament, "Full",
		domain.TeamMemberInput{Person: testutil.Person("quin"), Position: 1},
		domain.TeamMemberInput{Person: testutil.Person("rae"), Position: 2},
	)

	var before []domain.Bowler
	require.NoError(t, stack.DB.Order("id").Find(&before).Error)

	moved, err := stack.Registration.ReassignBowler(ctx, from.Bowlers[0].Identifier, full.Team.Identifier)
	require.NoError(t, err)
	assert.False(t, moved)

	var after []domain.Bowler
	require.NoError(t, stack.DB.Order("id").Find(&after).Error)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].TeamID, after[i].TeamID)
		assert.Equal(t, before[i].Position, after[i].Position)
		assert.Equal(t, before[i].DoublesPartnerID, after[i].DoublesPartnerID)
	}

	_, err = stack.Registration.ReassignBowler(ctx, "missing", full.Team.Identifier)
	assert.ErrorIs(t, err, domain.ErrBowlerNotFound)
}

func TestDestroyBowlerCascades(t *testing.T) {
	ctx := context.Background()
	stack := testutil.NewStack(t, now)
	tournament := activeTournament(t, stack, 4, testutil.EntryFee(100))

	pair, err := stack.Registration.RegisterPair(ctx, tournament.Identifier, [2]domain.PersonInput{testutil.Person("sam"), testutil.Person("tia")})
	require.NoError(t, err)
	_, err = stack.Registration.CreateFreeEntry(ctx, tournament.Identifier, "free-1")
	require.NoError(t, err)
	_, err = stack.Registration.LinkFreeEntry(ctx, "FREE-1", pair[0].Identifier)
	require.NoError(t, err)

	require.NoError(t, stack.Registration.DestroyBowler(ctx, pair[0].Identifier))

	testutil.AssertCount(t, stack.DB, "bowlers", "", 1)
	testutil.AssertCount(t, stack.DB, "people", "", 1)
	testutil.AssertCount(t, stack.DB, "purchases", "bowler_id = ?", 0, pair[0].ID)
	testutil.AssertCount(t, stack.DB, "ledger_entries", "bowler_id = ?", 0, pair[0].ID)
	testutil.AssertCount(t, stack.DB, "free_entries", "bowler_id IS NULL", 1)
	assert.Nil(t, loadBowler(t, stack.DB, pair[1].Identifier).DoublesPartnerID)

	assert.ErrorIs(t, stack.Registration.DestroyBowler(ctx, pair[0].Identifier), domain.ErrBowlerNotFound)
}

func TestConfirmFreeEntrySettlesEntryFee(t *testing.T) {
	ctx := context.Background()
	stack := testutil.NewStack(t, now)
	tournament := activeTournament(t, stack, 4,
		testutil.EntryFee(100),
		testutil.EarlyDiscount(-10, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)),
	)

	bowler, err := stack.Registration.RegisterBowler(ctx, tournament.Identifier, domain.RegisterBowlerRequest{Person: testutil.Person("uma")})
	require.NoError(t, err)
	_, err = stack.Registration.CreateFreeEntry(ctx, tournament.Identifier, "comp-7")
	require.NoError(t, err)

	_, err = stack.Registration.ConfirmFreeEntry(ctx, "COMP-7")
	assert.ErrorIs(t, err, domain.ErrFreeEntryUnlinked)

	_, err = stack.Registration.LinkFreeEntry(ctx, "comp-7", bowler.Identifier)
	require.NoError(t, err)
	entry, err := stack.Registration.ConfirmFreeEntry(ctx, "comp-7")
	require.NoError(t, err)
	assert.NotNil(t, entry.ConfirmedAt)

	due, err := stack.Ledger.AmountDue(ctx, bowler.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), due)

	testutil.AssertCount(t, stack.DB, "purchases", "status = ?", 1, ledgerdomain.PurchaseStatusPaid)
	testutil.AssertCount(t, stack.DB, "purchases", "status = ?", 1, ledgerdomain.PurchaseStatusVoided)
	testutil.AssertCount(t, stack.DB, "external_payments", "payment_type = ?", 1, ledgerdomain.PaymentTypeFreeEntry)

	_, err = stack.Registration.ConfirmFreeEntry(ctx, "comp-7")
	assert.ErrorIs(t, err, domain.ErrAlreadyConfirmed)
	_, err = stack.Registration.ConfirmFreeEntry(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrFreeEntryNotFound)
}

func TestTeamPositionsStayUnique(t *testing.T) {
	ctx := context.Background()
	stack := testutil.NewStack(t, now)
	tournament := activeTournament(t, stack, 4, testutil.EntryFee(100))

	team := registerTeam(t, stack, tournament, "Pins",
		domain.TeamMemberInput{Person: testutil.Person("uma")},
		domain.TeamMemberInput{Person: testutil.Person("vic"), Position: 1},
	)
	assert.Equal(t, 2, team.Bowlers[0].Position)
	assert.Equal(t, 1, team.Bowlers[1].Position)

	_, err := stack.Registration.RegisterBowler(ctx, tournament.Identifier, domain.RegisterBowlerRequest{
		Person:         testutil.Person("wes"),
		TeamIdentifier: team.Team.Identifier,
		Position:       2,
	})
	assert.ErrorIs(t, err, domain.ErrPositionTaken)
	testutil.AssertCount(t, stack.DB, "bowlers", "", 2)
	testutil.AssertCount(t, stack.DB, "people", "", 2)

	joined, err := stack.Registration.RegisterBowler(ctx, tournament.Identifier, domain.RegisterBowlerRequest{
		Person:         testutil.Person("xan"),
		TeamIdentifier: team.Team.Identifier,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, joined.Position)

	_, err = stack.Registration.RegisterTeam(ctx, tournament.Identifier, domain.RegisterTeamRequest{
		Name: "Twins",
		Members: []domain.TeamMemberInput{
			{Person: testutil.Person("yo"), Position: 1},
			{Person: testutil.Person("zed"), Position: 1},
		},
	})
	assert.ErrorIs(t, err, domain.ErrPositionTaken)
	testutil.AssertCount(t, stack.DB, "teams", "", 1)
}
