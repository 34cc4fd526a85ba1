package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/mini-town/internal/persistence"
	"github.com/talgya/mini-town/internal/world"
)

func newTestServer(t *testing.T) (*httptest.Server, *persistence.DB, string) {
	t.Helper()
	db, err := persistence.Open(filepath.Join(t.TempDir(), "api.db"), persistence.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	worldID, err := db.CreateWorld(context.Background(), world.OpenMap(10, 10), 3, 1000)
	require.NoError(t, err)

	s := &Server{DB: db, AdminKey: "admin", InputRate: 100, InputBurst: 100}
	s.now = func() float64 { return 2000 }
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts, db, worldID
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestStatus(t *testing.T) {
	ts, _, worldID := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	body := decode[struct {
		Worlds []persistence.WorldStatus `json:"worlds"`
	}](t, resp)
	require.Len(t, body.Worlds, 1)
	assert.Equal(t, worldID, body.Worlds[0].WorldID)
	assert.True(t, body.Worlds[0].Running)
}

func TestSendInputAndPollResult(t *testing.T) {
	ts, db, worldID := newTestServer(t)
	base := ts.URL + "/api/v1/worlds/" + worldID

	resp, err := http.Post(base+"/inputs", "application/json",
		strings.NewReader(`{"name":"join","args":{"name":"Ada","character":"f1","token_identifier":"ada"}}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	queued := decode[map[string]int64](t, resp)
	assert.Equal(t, int64(1), queued["number"])

	inputs, err := db.LoadInputs(context.Background(), worldID, 0, 10)
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, 2000.0, inputs[0].Received)

	resp, err = http.Get(base + "/inputs/1")
	require.NoError(t, err)
	result := decode[struct {
		Done bool `json:"done"`
	}](t, resp)
	assert.False(t, result.Done)

	resp, err = http.Get(base + "/inputs/9")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestSendInputRejectsBadRequests(t *testing.T) {
	ts, _, worldID := newTestServer(t)

	for name, body := range map[string]string{
		"unknown":    `{"name":"teleport","args":{}}`,
		"completion": `{"name":"finishDoSomething","args":{}}`,
		"bad args":   `{"name":"moveTo","args":{"player_id":12}}`,
		"not json":   `{`,
	} {
		resp, err := http.Post(ts.URL+"/api/v1/worlds/"+worldID+"/inputs", "application/json", strings.NewReader(body))
		require.NoError(t, err, name)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
		resp.Body.Close()
	}

	resp, err := http.Post(ts.URL+"/api/v1/worlds/nope/inputs", "application/json",
		strings.NewReader(`{"name":"leave","args":{"player_id":"p:1"}}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestMessages(t *testing.T) {
	ts, db, worldID := newTestServer(t)
	require.NoError(t, db.AddMessage(context.Background(), persistence.Message{
		WorldID: worldID, MessageUUID: "m", ConversationID: 5, Author: 1, Text: "hello", Created: 1,
	}))

	resp, err := http.Get(ts.URL + "/api/v1/worlds/" + worldID + "/conversations/c:5/messages")
	require.NoError(t, err)
	msgs := decode[[]persistence.Message](t, resp)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Text)

	resp, err = http.Get(ts.URL + "/api/v1/worlds/" + worldID + "/conversations/5/messages")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestSetRunningRequiresAdmin(t *testing.T) {
	ts, db, worldID := newTestServer(t)
	url := ts.URL + "/api/v1/worlds/" + worldID + "/running"

	resp, err := http.Post(url, "application/json", strings.NewReader(`{"running":false}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(`{"running":false}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer admin")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	running, err := db.RunningWorlds(context.Background())
	require.NoError(t, err)
	assert.Empty(t, running)
}

func TestSetRunningRejectsOversizedBody(t *testing.T) {
	ts, db, worldID := newTestServer(t)

	body := `{"running":false,"note":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/worlds/"+worldID+"/running", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer admin")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	running, err := db.RunningWorlds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{worldID}, running, "the world keeps running")
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	defer rl.Stop()

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))
	assert.Equal(t, 1, rl.RetryAfter("1.2.3.4"))
	assert.True(t, rl.Allow("5.6.7.8"), "clients are limited independently")

	rl.cleanup(-time.Second)
	assert.True(t, rl.Allow("1.2.3.4"), "a forgotten client starts with a full bucket")

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", clientIP(r))
	r.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")
	assert.Equal(t, "9.9.9.9", clientIP(r))
}
