package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/kratos2377/rally-matchmaker/domain/confirmation"
	"github.com/kratos2377/rally-matchmaker/domain/coordination"
	"github.com/kratos2377/rally-matchmaker/domain/entities"
	"github.com/kratos2377/rally-matchmaker/domain/matchmaking"
	"github.com/kratos2377/rally-matchmaker/domain/notify"
	"github.com/kratos2377/rally-matchmaker/domain/searches"
	"github.com/kratos2377/rally-matchmaker/domain/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	server  *httptest.Server
	mem     *store.Memory
	matcher *matchmaking.MatchPlayersUseCase
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := clockwork.NewRealClock()
	mem := store.NewMemory(clock)
	coord := coordination.NewStore(client, coordination.Keys{}, coordination.DefaultTTLs())
	rec := &notify.Recorder{}
	enq := searches.NewEnqueuer(coord, mem.Profiles(), clock)
	venues := []string{"Gosman"}

	for _, user := range []string{"alice", "bob"} {
		mem.PutProfile(entities.Profile{UserID: user, DisplayName: user, Rating: 1500, CreditScore: 100})
	}

	useCases := UseCases{
		SearchesAPIUseCases: &struct {
			*searches.StartSearchUseCase
			*searches.CancelSearchUseCase
			*searches.HeartbeatUseCase
			*searches.GetSearchUseCase
			*searches.WaitlistUseCase
		}{
			StartSearchUseCase:  searches.NewStartSearchUseCase(mem.Requests(), mem.Profiles(), enq, searches.StartSearchUseCaseConfig{Venues: venues, SearchTTL: 30 * time.Second}),
			CancelSearchUseCase: searches.NewCancelSearchUseCase(mem.Requests(), coord, enq, nil),
			HeartbeatUseCase:    searches.NewHeartbeatUseCase(mem.Requests(), coord, enq),
			GetSearchUseCase:    searches.NewGetSearchUseCase(mem.Requests()),
			WaitlistUseCase:     searches.NewWaitlistUseCase(mem.Requests(), enq, nil),
		},
		ConfirmationAPIUseCases: &struct {
			*confirmation.AcceptMatchUseCase
			*confirmation.DeclineMatchUseCase
		}{
			AcceptMatchUseCase:  confirmation.NewAcceptMatchUseCase(mem.Requests(), coord, confirmation.NewFinalizer(mem.Requests(), mem.Matches(), coord, rec, nil)),
			DeclineMatchUseCase: confirmation.NewDeclineMatchUseCase(mem.Requests(), coord, enq, rec, nil),
		},
	}

	server := httptest.NewServer(NewServer(useCases))
	t.Cleanup(server.Close)

	return &apiFixture{
		server:  server,
		mem:     mem,
		matcher: matchmaking.NewMatchPlayersUseCase(mem.Requests(), coord, rec, matchmaking.MatchPlayerUseCaseConfig{Venues: venues}),
	}
}

func (f *apiFixture) do(t *testing.T, method, path, user string, body interface{}, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func startBody(start, end time.Time) map[string]interface{} {
	return map[string]interface{}{"location": "Gosman", "startTime": start, "endTime": end}
}

func (f *apiFixture) start(t *testing.T, user string) string {
	t.Helper()
	start := time.Now().Add(time.Hour).Truncate(time.Minute)
	var out searches.StartSearchOutput
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/match/start", user, startBody(start, start.Add(time.Hour)), &out))
	assert.Equal(t, entities.SearchStatus_Searching, out.Status)
	assert.Equal(t, 30, out.SearchExpiresInSeconds)
	return out.MatchRequestID
}

func TestMatchFlowOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	a := f.start(t, "alice")
	b := f.start(t, "bob")

	var hb searches.HeartbeatOutput
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/match/heartbeat", "alice", matchRequestBody{a}, &hb))
	assert.Equal(t, 30, hb.SearchExpiresInSeconds)

	tick, err := f.matcher.MatchPlayers(context.Background())
	require.NoError(t, err)
	require.Len(t, tick.Promoted, 1)

	var first map[string]interface{}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/match/accept", "alice", matchRequestBody{a}, &first))
	assert.Equal(t, true, first["ok"])
	assert.Equal(t, false, first["finalized"])

	var second map[string]interface{}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/match/accept", "bob", matchRequestBody{b}, &second))
	assert.Equal(t, true, second["finalized"])
	assert.NotEmpty(t, second["matchId"])

	var req entities.SearchRequest
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/match/requests/"+b, "bob", nil, &req))
	assert.Equal(t, entities.SearchStatus_Matched, req.Status)
	assert.Equal(t, second["matchId"], req.MatchID)
}

func TestErrorMapping(t *testing.T) {
	f := newAPIFixture(t)
	a := f.start(t, "alice")

	var errBody errorBody
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/match/cancel", "", matchRequestBody{a}, &errBody))
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/match/cancel", "bob", matchRequestBody{a}, &errBody))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/match/cancel", "alice", matchRequestBody{"nope"}, &errBody))
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/match/cancel", "alice", map[string]string{}, &errBody))
	assert.Equal(t, "matchRequestId is required", errBody.Error)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/match/accept", "alice", matchRequestBody{a}, &errBody))
	assert.Contains(t, errBody.Error, "searching")
	assert.Contains(t, errBody.Error, "pending_confirmation")

	start := time.Now().Add(time.Hour)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/match/start", "alice", startBody(start, start.Add(-time.Minute)), &errBody))
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/match/start", "alice", map[string]string{"location": "Gosman"}, &errBody))
	assert.Equal(t, "Missing fields", errBody.Error)

	var ok map[string]bool
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/match/cancel", "alice", matchRequestBody{a}, &ok))
	assert.True(t, ok["ok"])
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/match/cancel", "alice", matchRequestBody{a}, &errBody))
}

func TestWaitlistRoutes(t *testing.T) {
	f := newAPIFixture(t)

	var list []entities.SearchRequest
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/match/waitlist", "", nil, &list))
	assert.Empty(t, list)

	a := f.start(t, "alice")
	var ok map[string]bool
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/match/waitlist/"+a, "alice", nil, &ok))

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/match/waitlist", "", nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, a, list[0].ID)
	assert.Equal(t, entities.SearchStatus_Waitlisted, list[0].Status)

	var errBody errorBody
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/match/decline", "alice", matchRequestBody{a}, &errBody))
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "", nil, &body))
	assert.Equal(t, "healthy", body["status"])
}
