package matchmaking

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/kratos2377/rally-matchmaker/domain/coordination"
	"github.com/kratos2377/rally-matchmaker/domain/entities"
	"github.com/kratos2377/rally-matchmaker/domain/notify"
	"github.com/kratos2377/rally-matchmaker/domain/searches"
	"github.com/kratos2377/rally-matchmaker/domain/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	mr       *miniredis.Miniredis
	client   *redis.Client
	clock    clockwork.FakeClock
	mem      *store.Memory
	coord    *coordination.Store
	rec      *notify.Recorder
	start    *searches.StartSearchUseCase
	matcher  *MatchPlayersUseCase
	promoter *Promoter
}

var venues = []string{"Gosman", "Shapiro"}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := clockwork.NewFakeClockAt(at(12, 0))
	mem := store.NewMemory(clock)
	coord := coordination.NewStore(client, coordination.Keys{}, coordination.DefaultTTLs())
	rec := &notify.Recorder{}
	enq := searches.NewEnqueuer(coord, mem.Profiles(), clock)

	return &fixture{
		mr:     mr,
		client: client,
		clock:  clock,
		mem:    mem,
		coord:  coord,
		rec:    rec,
		start: searches.NewStartSearchUseCase(mem.Requests(), mem.Profiles(), enq, searches.StartSearchUseCaseConfig{
			Venues:    venues,
			SearchTTL: 30 * time.Second,
		}),
		matcher:  NewMatchPlayersUseCase(mem.Requests(), coord, rec, MatchPlayerUseCaseConfig{Venues: venues}),
		promoter: NewPromoter(mem.Requests(), coord, rec, nil),
	}
}

// search starts a search for a fresh user with the given rating.
func (f *fixture) search(t *testing.T, user, venue string, rating int, start, end time.Time) string {
	t.Helper()
	f.mem.PutProfile(entities.Profile{UserID: user, DisplayName: user, Rating: rating, CreditScore: 100})
	out, err := f.start.StartSearch(context.Background(), searches.StartSearchInput{
		UserID: user, Venue: venue, StartTime: start, EndTime: end,
	})
	require.NoError(t, err)
	f.clock.Advance(time.Millisecond)
	return out.MatchRequestID
}

func (f *fixture) status(t *testing.T, id string) *entities.SearchRequest {
	t.Helper()
	req, err := f.mem.Requests().FindByID(context.Background(), id)
	require.NoError(t, err)
	return req
}

func TestMatchPlayersPromotesCompatiblePair(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := f.search(t, "alice", "Gosman", 1500, at(18, 0), at(19, 30))
	c := f.search(t, "carol", "Gosman", 1900, at(18, 0), at(19, 30))
	b := f.search(t, "bob", "Gosman", 1550, at(18, 30), at(19, 0))

	out, err := f.matcher.MatchPlayers(ctx)
	require.NoError(t, err)
	require.Len(t, out.Promoted, 1)
	assert.Equal(t, PromotedPair{Venue: "Gosman", RequestID: a, OpponentID: b}, out.Promoted[0])

	reqA, reqB := f.status(t, a), f.status(t, b)
	assert.Equal(t, entities.SearchStatus_PendingConfirmation, reqA.Status)
	assert.Equal(t, entities.SearchStatus_PendingConfirmation, reqB.Status)
	assert.Equal(t, b, reqA.OpponentRequestID)
	assert.Equal(t, a, reqB.OpponentRequestID)
	assert.Equal(t, entities.SearchStatus_Searching, f.status(t, c).Status)

	ids, err := f.coord.Queue(ctx, "Gosman")
	require.NoError(t, err)
	assert.Equal(t, []string{c}, ids)

	for _, id := range []string{a, b} {
		assert.False(t, f.mr.Exists("searching:"+id), "liveness removed")
		assert.False(t, f.mr.Exists("matchreq:"+id), "snapshot removed")
		assert.False(t, f.mr.Exists("lock:"+id), "lock released")
		state, err := f.coord.Confirmation(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, coordination.ConfirmWaiting, state)
		assert.Equal(t, 15*time.Second, f.mr.TTL("confirm:"+id))
	}

	foundA := f.rec.For("alice", notify.EventMatchFound)
	require.Len(t, foundA, 1)
	opp := foundA[0].Payload.(notify.MatchFoundPayload).Opponent
	assert.Equal(t, "bob", opp.Username)
	assert.Equal(t, 1550, opp.Elo)
	assert.Equal(t, b, opp.MatchRequestID)
	assert.Len(t, f.rec.For("bob", notify.EventMatchFound), 1)
	assert.Empty(t, f.rec.For("carol", notify.EventMatchFound))

	t.Run("incompatible requests are never promoted", func(t *testing.T) {
		out, err := f.matcher.MatchPlayers(ctx)
		require.NoError(t, err)
		assert.Empty(t, out.Promoted)
		assert.Equal(t, entities.SearchStatus_Searching, f.status(t, c).Status)
	})
}

func TestMatchPlayersKeepsVenuesApart(t *testing.T) {
	f := newFixture(t)
	f.search(t, "alice", "Gosman", 1500, at(18, 0), at(19, 0))
	f.search(t, "bob", "Shapiro", 1500, at(18, 0), at(19, 0))

	out, err := f.matcher.MatchPlayers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out.Promoted)
}

func TestMatchPlayersExpiresStaleSearch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.search(t, "alice", "Gosman", 1500, at(18, 0), at(19, 0))

	out, err := f.matcher.MatchPlayers(ctx)
	require.NoError(t, err)
	assert.Empty(t, out.Expired)

	f.mr.FastForward(31 * time.Second)
	out, err = f.matcher.MatchPlayers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{a}, out.Expired)
	assert.Equal(t, entities.SearchStatus_Expired, f.status(t, a).Status)

	ids, err := f.coord.Queue(ctx, "Gosman")
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.False(t, f.mr.Exists("matchreq:"+a))
	assert.Len(t, f.rec.For("alice", notify.EventMatchExpired), 1)
}

func TestMatchPlayersNeverExpiresPendingRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.search(t, "alice", "Gosman", 1500, at(18, 0), at(19, 0))

	// Simulate a promotion that crashed after the durable write.
	require.NoError(t, f.mem.Requests().UpdateStatus(ctx, a, store.StatusUpdate{
		Status:            entities.SearchStatus_PendingConfirmation,
		OpponentRequestID: store.Ref("someone"),
	}))
	f.mr.FastForward(31 * time.Second)

	out, err := f.matcher.MatchPlayers(ctx)
	require.NoError(t, err)
	assert.Empty(t, out.Expired)
	assert.Equal(t, entities.SearchStatus_PendingConfirmation, f.status(t, a).Status)
}

func TestMatchPlayersSkipsLockedRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.search(t, "alice", "Gosman", 1500, at(18, 0), at(19, 0))
	f.search(t, "bob", "Gosman", 1500, at(18, 0), at(19, 0))

	_, ok, err := f.coord.TryLock(ctx, a)
	require.NoError(t, err)
	require.True(t, ok)

	out, err := f.matcher.MatchPlayers(ctx)
	require.NoError(t, err)
	assert.Empty(t, out.Promoted)

	t.Run("locked entries are not expired either", func(t *testing.T) {
		f.mr.FastForward(31 * time.Second)
		require.NoError(t, f.mr.Set("lock:"+a, "held-elsewhere"))
		out, err := f.matcher.MatchPlayers(ctx)
		require.NoError(t, err)
		assert.NotContains(t, out.Expired, a)
		assert.Equal(t, entities.SearchStatus_Searching, f.status(t, a).Status)
	})
}

func TestMatchPlayersHonoursCooldown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.search(t, "alice", "Gosman", 1500, at(18, 0), at(19, 0))
	b := f.search(t, "bob", "Gosman", 1500, at(18, 0), at(19, 0))
	require.NoError(t, f.coord.SetCooldown(ctx, b, a))

	out, err := f.matcher.MatchPlayers(ctx)
	require.NoError(t, err)
	assert.Empty(t, out.Promoted)

	f.mr.FastForward(6 * time.Second)
	out, err = f.matcher.MatchPlayers(ctx)
	require.NoError(t, err)
	assert.Len(t, out.Promoted, 1)
}

func TestMatchPlayersPurgesOrphanedEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.coord.Enqueue(ctx, "Gosman", "ghost", f.clock.Now()))
	require.NoError(t, f.coord.MarkLive(ctx, "ghost"))

	_, err := f.matcher.MatchPlayers(ctx)
	require.NoError(t, err)

	ids, err := f.coord.Queue(ctx, "Gosman")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMatchPlayersSkipsOverlappingTick(t *testing.T) {
	f := newFixture(t)
	f.search(t, "alice", "Gosman", 1500, at(18, 0), at(19, 0))
	f.search(t, "bob", "Gosman", 1500, at(18, 0), at(19, 0))

	f.matcher.running.Store(true)
	out, err := f.matcher.MatchPlayers(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Empty(t, out.Promoted)

	f.matcher.running.Store(false)
	out, err = f.matcher.MatchPlayers(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Skipped)
	assert.Len(t, out.Promoted, 1)
}

// Two engine processes share one Redis and one durable store; every request
// must end up paired at most once with a symmetric opponent reference.
func TestMatchPlayersConcurrentEnginesPromoteOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var ids []string
	for i := 0; i < 12; i++ {
		ids = append(ids, f.search(t, fmt.Sprintf("user-%02d", i), venues[i%2], 1500+i*10, at(18, 0), at(20, 0)))
	}

	other := NewMatchPlayersUseCase(f.mem.Requests(), coordination.NewStore(f.client, coordination.Keys{}, coordination.DefaultTTLs()),
		f.rec, MatchPlayerUseCaseConfig{Venues: venues, Concurrency: 1})

	var wg sync.WaitGroup
	for round := 0; round < 3; round++ {
		for _, engine := range []*MatchPlayersUseCase{f.matcher, other} {
			wg.Add(1)
			go func(m *MatchPlayersUseCase) {
				defer wg.Done()
				_, _ = m.MatchPlayers(ctx)
			}(engine)
		}
		wg.Wait()
	}
	// Lock contention may leave a pair for a later tick.
	_, err := f.matcher.MatchPlayers(ctx)
	require.NoError(t, err)

	for _, id := range ids {
		req := f.status(t, id)
		require.Equal(t, entities.SearchStatus_PendingConfirmation, req.Status, id)
		opp := f.status(t, req.OpponentRequestID)
		assert.Equal(t, id, opp.OpponentRequestID, "opponent reference must be symmetric")
		assert.Equal(t, req.Venue, opp.Venue)
		assert.Len(t, f.rec.For(req.UserID, notify.EventMatchFound), 1, "exactly one promotion per request")
	}
}

func TestPromoteRevertsWhenOpponentLeftSearch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.search(t, "alice", "Gosman", 1500, at(18, 0), at(19, 0))
	b := f.search(t, "bob", "Gosman", 1500, at(18, 0), at(19, 0))

	snapA, _, err := f.coord.Snapshot(ctx, a)
	require.NoError(t, err)
	snapB, _, err := f.coord.Snapshot(ctx, b)
	require.NoError(t, err)

	require.NoError(t, f.mem.Requests().UpdateStatus(ctx, b, store.StatusUpdate{Status: entities.SearchStatus_Cancelled}))

	err = f.promoter.Promote(ctx, snapA, snapB)
	assert.ErrorIs(t, err, store.ErrStatusConflict)

	reqA := f.status(t, a)
	assert.Equal(t, entities.SearchStatus_Searching, reqA.Status)
	assert.Empty(t, reqA.OpponentRequestID)
	assert.Equal(t, entities.SearchStatus_Cancelled, f.status(t, b).Status)
	assert.Empty(t, f.rec.Sent())
}
