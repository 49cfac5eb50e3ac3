package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tradeterm/src/events"
	"tradeterm/src/model"
	"tradeterm/src/session"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	factory := func(profile model.ExchangeProfile, creds model.Credentials) (session.Driver, error) {
		return nil, fmt.Errorf("no driver in tests")
	}
	m := session.NewManager(session.Config{
		AccountPollInterval: time.Second,
		TradePollInterval:   time.Second,
		OrderPollInterval:   time.Second,
		BackoffCeiling:      time.Minute,
		ReconnectDelay:      time.Second,
		CommandTimeout:      time.Second,
	}, events.NewBus(), factory, nil)

	srv := httptest.NewServer(NewRouter(m))
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthcheck(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthcheck")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUnknownProfileRejected(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/positions?profile=nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOrdersRequireSymbol(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/orders?profile=kucoin-spot")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPositionsEmptyForFreshSession(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/positions?profile=mexc-futures")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var positions []model.Position
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&positions))
	require.Empty(t, positions)
}

func TestSessionsListsCreatedContexts(t *testing.T) {
	srv := newTestServer(t)

	// Touch one profile so a context exists.
	resp, err := http.Get(srv.URL + "/v1/pnl?profile=hydra-perp")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/v1/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()

	var statuses []session.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&statuses))
	require.Len(t, statuses, 1)
	require.Equal(t, model.ProfileHydraPerp, statuses[0].Profile)
	require.Equal(t, model.StateDisconnected, statuses[0].State)
}
