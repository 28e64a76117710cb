package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelworks/partner-sync-api/pkg/config"
)

func newPRMTestClient(t *testing.T, handler http.HandlerFunc) (*PRMClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewPRMClient(config.PRMConfig{
		BaseURL:  server.URL,
		PageSize: 2,
		MaxPages: 10,
	}, NewHealthMonitor(3), nil, nil)
	return client, server
}

func prmPage(results ...PRMAccount) []byte {
	encoded := make([]json.RawMessage, 0, len(results))
	for _, account := range results {
		msg, _ := json.Marshal(account)
		encoded = append(encoded, msg)
	}
	body, _ := json.Marshal(map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"count":   5,
			"results": encoded,
		},
	})
	return body
}

func TestPRMClientPaginates(t *testing.T) {
	accounts := []PRMAccount{
		{ID: "a1", Name: "Acme"}, {ID: "a2", Name: "Birch"},
		{ID: "a3", Name: "Cedar"}, {ID: "a4", Name: "Dune"},
		{ID: "a5", Name: "Elm"},
	}
	client, _ := newPRMTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
		end := skip + 2
		if end > len(accounts) {
			end = len(accounts)
		}
		w.Write(prmPage(accounts[skip:end]...))
	})

	fetched, err := client.FetchAccounts(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, fetched, 5)
	assert.Equal(t, "a1", fetched[0].ID)
	assert.Equal(t, "a5", fetched[4].ID)
	assert.True(t, client.Health().Healthy())
}

func TestPRMClientFirstPageFailure(t *testing.T) {
	client, _ := newPRMTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	fetched, err := client.FetchAccounts(context.Background(), nil)
	require.Error(t, err)
	assert.Empty(t, fetched)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "authentication failed")
}

func TestPRMClientLaterPageFailureReturnsPartialResults(t *testing.T) {
	var calls int
	client, _ := newPRMTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls > 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(prmPage(PRMAccount{ID: "a1"}, PRMAccount{ID: "a2"}))
	})

	fetched, err := client.FetchAccounts(context.Background(), nil)
	require.Error(t, err)
	assert.Len(t, fetched, 2)
}

func TestPRMClientReportsCallOutcomes(t *testing.T) {
	var calls int
	outcomes := map[string]int{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls > 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write(prmPage(PRMAccount{ID: "a1"}, PRMAccount{ID: "a2"}))
	}))
	t.Cleanup(server.Close)

	record := func(system, outcome string) {
		assert.Equal(t, "prm", system)
		outcomes[outcome]++
	}
	client := NewPRMClient(config.PRMConfig{
		BaseURL:  server.URL,
		PageSize: 2,
		MaxPages: 10,
	}, NewHealthMonitor(3), record, nil)

	_, err := client.FetchAccounts(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, map[string]int{"success": 1, "error": 1}, outcomes)
}

func TestPRMClientIncrementalFilter(t *testing.T) {
	var gotFilter string
	client, _ := newPRMTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotFilter = r.URL.Query().Get("filter")
		w.Write(prmPage())
	})

	since := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	_, err := client.FetchAccounts(context.Background(), &since)
	require.NoError(t, err)
	assert.Equal(t, "Updated > '2024-03-01T10:30:00'", gotFilter)
}

func TestPRMClientParseError(t *testing.T) {
	client, _ := newPRMTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>gateway timeout</html>")
	})

	_, err := client.FetchAccounts(context.Background(), nil)
	require.Error(t, err)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.Raw, "gateway timeout")
}

func TestHealthMonitorThreshold(t *testing.T) {
	monitor := NewHealthMonitor(3)
	assert.True(t, monitor.Healthy())

	monitor.RecordFailure()
	monitor.RecordFailure()
	assert.True(t, monitor.Healthy())

	monitor.RecordFailure()
	assert.False(t, monitor.Healthy())

	snap := monitor.Snapshot()
	assert.Equal(t, 3, snap.ConsecutiveFailures)
	assert.False(t, snap.Healthy)

	monitor.RecordSuccess()
	assert.True(t, monitor.Healthy())
	require.NotNil(t, monitor.Snapshot().LastSuccessAt)
}
