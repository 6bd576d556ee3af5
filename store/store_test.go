package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// base is millisecond-aligned so every backend round-trips it exactly.
var base = time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)

// testStore runs the behaviour every Store implementation must share.
func testStore(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("Lots", func(t *testing.T) { testLots(t, newStore(t)) })
	t.Run("Subscriptions", func(t *testing.T) { testSubscriptions(t, newStore(t)) })
	t.Run("Reports", func(t *testing.T) { testReports(t, newStore(t)) })
	t.Run("Conversation", func(t *testing.T) { testConversation(t, newStore(t)) })
	t.Run("Inbound", func(t *testing.T) { testInbound(t, newStore(t)) })
	t.Run("Embeddings", func(t *testing.T) { testEmbeddings(t, newStore(t)) })
}

func testUsers(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.GetUser(ctx, "573001112233")
	assert.ErrorIs(t, err, ErrNotFound)

	u := &User{
		ID:           "573001112233",
		Role:         RoleDriver,
		Registration: RegistrationAwaitingName,
		Chat:         ChatState{LastInteraction: base, Step: StepInitial},
		CreatedAt:    base,
	}
	require.NoError(t, s.CreateUser(ctx, u))
	assert.ErrorIs(t, s.CreateUser(ctx, u), ErrDuplicate)

	expires := base.Add(7 * 24 * time.Hour)
	u.Name = "Ana"
	u.Registration = RegistrationComplete
	u.ReferralCode = "ABC123"
	u.Premium = true
	u.PremiumExpiresAt = &expires
	u.Chat.Context = map[string]string{"ultimo_parqueadero": "p1"}
	require.NoError(t, s.UpdateUser(ctx, u))

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.Name)
	assert.True(t, got.Registered())
	assert.True(t, got.Premium)
	require.NotNil(t, got.PremiumExpiresAt)
	assert.True(t, expires.Equal(*got.PremiumExpiresAt))
	assert.Equal(t, "p1", got.Chat.Context["ultimo_parqueadero"])
	assert.True(t, base.Equal(got.CreatedAt))

	byCode, err := s.FindUserByReferralCode(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byCode.ID)

	_, err = s.FindUserByReferralCode(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)

	// Users without a code must not collide on the unique index.
	require.NoError(t, s.CreateUser(ctx, &User{ID: "u2", Role: RoleDriver, CreatedAt: base}))
	require.NoError(t, s.CreateUser(ctx, &User{ID: "u3", Role: RoleDriver, CreatedAt: base}))

	expired, err := s.ListExpiredPremium(ctx, expires.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, u.ID, expired[0].ID)

	expired, err = s.ListExpiredPremium(ctx, base)
	require.NoError(t, err)
	assert.Empty(t, expired)

	assert.ErrorIs(t, s.UpdateUser(ctx, &User{ID: "missing", Role: RoleDriver}), ErrNotFound)
}

func testLots(t *testing.T, s Store) {
	ctx := context.Background()

	lots := []*Lot{
		{ID: "p1", Name: "Tequendama", Location: "Calle 26 #10-20", Capacity: 80, HasSpots: true, FreeSpots: "5", UpdatedAt: base},
		{ID: "p2", Name: "Andino", Location: "Carrera 11 #82-71", Capacity: 300, HasSpots: true, FreeSpots: "12", UpdatedAt: base.Add(time.Hour)},
		{ID: "p3", Name: "Unicentro", Location: "Avenida 15 #124-30", Capacity: 500, FreeSpots: "0", UpdatedAt: base},
	}
	for _, l := range lots {
		require.NoError(t, s.CreateLot(ctx, l))
	}
	err := s.CreateLot(ctx, &Lot{ID: "p4", Name: "Andino", UpdatedAt: base})
	assert.ErrorIs(t, err, ErrDuplicate)

	all, err := s.ListLots(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Andino", all[0].Name)

	available, err := s.ListAvailableLots(ctx)
	require.NoError(t, err)
	require.Len(t, available, 2)
	assert.Equal(t, "p2", available[0].ID, "most recently updated first")

	byName, err := s.FindLotByName(ctx, "Tequendama")
	require.NoError(t, err)
	assert.Equal(t, "p1", byName.ID)

	_, err = s.FindLotByName(ctx, "tequendama")
	assert.ErrorIs(t, err, ErrNotFound)

	l, err := s.GetLot(ctx, "p3")
	require.NoError(t, err)
	l.HasSpots = true
	l.FreeSpots = "10-15"
	l.SpotRange = "10-15"
	l.OccupancyStatus = "Disponibilidad moderada"
	require.NoError(t, s.UpdateLot(ctx, l))

	l, err = s.GetLot(ctx, "p3")
	require.NoError(t, err)
	assert.Equal(t, "10-15", l.Spots())
	assert.True(t, l.HasSpots)

	assert.ErrorIs(t, s.UpdateLot(ctx, &Lot{ID: "nope", Name: "x"}), ErrNotFound)
}

func testSubscriptions(t *testing.T, s Store) {
	ctx := context.Background()

	subs := []*Subscription{
		{ID: "s1", DriverID: "d1", LotID: "p1", CreatedAt: base, Active: true},
		{ID: "s2", DriverID: "d2", CreatedAt: base.Add(time.Second), Active: true},
		{ID: "s3", DriverID: "d1", LotID: "p2", CreatedAt: base.Add(2 * time.Second), Active: true},
	}
	for _, sub := range subs {
		require.NoError(t, s.CreateSubscription(ctx, sub))
	}

	found, err := s.FindActiveSubscription(ctx, "d1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "s1", found.ID)

	global, err := s.FindActiveSubscription(ctx, "d2", "")
	require.NoError(t, err)
	assert.True(t, global.Global())

	forLot, err := s.ListLotSubscribers(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, forLot, 2)
	assert.Equal(t, "d1", forLot[0].DriverID)
	assert.Equal(t, "d2", forLot[1].DriverID)

	ok, err := s.DeactivateSubscription(ctx, "d1", "p1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.DeactivateSubscription(ctx, "d1", "p1")
	require.NoError(t, err)
	assert.False(t, ok)

	active, err := s.ListActiveSubscriptions(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "p2", active[0].LotID)

	n, err := s.DeactivateAllSubscriptions(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.FindActiveSubscription(ctx, "d1", "p2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func testReports(t *testing.T, s Store) {
	ctx := context.Background()

	for i, driver := range []string{"d1", "d2", "d3"} {
		require.NoError(t, s.CreateReport(ctx, &Report{
			ID: fmt.Sprintf("r%d", i), LotID: "p1", DriverID: driver,
			CreatedAt: base.Add(time.Duration(i) * time.Minute), Kind: ReportKindSpots,
		}))
	}
	require.NoError(t, s.CreateReport(ctx, &Report{ID: "r9", LotID: "p2", DriverID: "d1", CreatedAt: base, Kind: ReportKindSpots}))

	has, err := s.HasPendingReport(ctx, "p1", "d2")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = s.HasPendingReport(ctx, "p2", "d2")
	require.NoError(t, err)
	assert.False(t, has)

	n, err := s.CountPendingReports(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	mine, err := s.ListPendingReportsByDriver(ctx, "d1")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	marked, err := s.MarkReportsProcessed(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, marked)

	n, err = s.CountPendingReports(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, n)

	deleted, err := s.DeleteReports(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	mine, err = s.ListPendingReportsByDriver(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "p2", mine[0].LotID)
}

func testConversation(t *testing.T, s Store) {
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		role := MessageUser
		if i%2 == 1 {
			role = MessageAssistant
		}
		require.NoError(t, s.AppendMessage(ctx, &ConversationMessage{
			ID:        fmt.Sprintf("m%d", i),
			UserID:    "u1",
			Role:      role,
			Content:   fmt.Sprintf("mensaje %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			Active:    true,
		}))
	}
	require.NoError(t, s.AppendMessage(ctx, &ConversationMessage{ID: "x0", UserID: "u2", Role: MessageUser, Content: "hola", CreatedAt: base, Active: true}))

	recent, err := s.RecentMessages(ctx, "u1", 4)
	require.NoError(t, err)
	require.Len(t, recent, 4)
	assert.Equal(t, "mensaje 2", recent[0].Content)
	assert.Equal(t, "mensaje 5", recent[3].Content)

	users, err := s.ListConversationUsers(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, users)

	n, err := s.DeactivateOlderMessages(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	active, err := s.CountMessages(ctx, "u1", true)
	require.NoError(t, err)
	assert.Equal(t, 2, active)

	total, err := s.CountMessages(ctx, "u1", false)
	require.NoError(t, err)
	assert.Equal(t, 6, total)

	n, err = s.ReactivateMessages(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recent, err = s.RecentMessages(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 4)
	assert.Equal(t, "mensaje 2", recent[0].Content)

	n, err = s.ClearConversation(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	recent, err = s.RecentMessages(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, recent)

	history, err := s.ConversationHistory(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, history, 6)
	assert.Equal(t, "mensaje 0", history[0].Content)
	assert.False(t, history[0].Active)
}

func testInbound(t *testing.T, s Store) {
	ctx := context.Background()

	m := InboundMessage{ID: "wamid.1", UserID: "u1", Channel: "whatsapp", Text: "hola", ReceivedAt: base}
	require.NoError(t, s.RecordInbound(ctx, m))
	assert.ErrorIs(t, s.RecordInbound(ctx, m), ErrDuplicate)
}

func testEmbeddings(t *testing.T, s Store) {
	ctx := context.Background()

	require.NoError(t, s.UpsertEmbedding(ctx, &LotEmbedding{LotID: "p1", Model: "m", Document: "a", Vector: []float32{0.5, -0.25}, UpdatedAt: base}))
	require.NoError(t, s.UpsertEmbedding(ctx, &LotEmbedding{LotID: "p2", Model: "m", Document: "b", Vector: []float32{1, 0}, UpdatedAt: base}))
	require.NoError(t, s.UpsertEmbedding(ctx, &LotEmbedding{LotID: "p1", Model: "m", Document: "c", Vector: []float32{0, 1}, UpdatedAt: base}))

	all, err := s.ListEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "c", all[0].Document)
	assert.Equal(t, []float32{0, 1}, all[0].Vector)

	require.NoError(t, s.DeleteEmbedding(ctx, "p1"))
	all, err = s.ListEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "p2", all[0].LotID)
}
