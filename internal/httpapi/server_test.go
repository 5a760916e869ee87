package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentpilot/internal/eventbus"
	"contentpilot/internal/generator"
	"contentpilot/internal/jobs"
	"contentpilot/internal/safeguard"
	"contentpilot/internal/storage"
	"contentpilot/internal/task/scheduler"
	logx "contentpilot/pkg/logx"
)

type stubGen struct{ err error }

func (g stubGen) Generate(context.Context, generator.Request) (generator.Response, error) {
	if g.err != nil {
		return generator.Response{}, g.err
	}
	return generator.Response{Success: true, GeneratedCount: 5}, nil
}

type fixture struct {
	ts  *httptest.Server
	bus *eventbus.MemBus
	reg *scheduler.Registry
}

func newFixture(t *testing.T, token string, gate safeguard.Gate) *fixture {
	t.Helper()
	store := storage.NewMemory()
	t.Cleanup(func() { _ = store.Close() })
	bus := eventbus.New()
	reg := scheduler.NewRegistry(nil, 0, logx.Nop(), bus)
	exec := jobs.NewExecutor(store, stubGen{}, gate, bus, logx.Nop())
	svc := jobs.NewService(store, reg, exec, jobs.Defaults{}, bus, logx.Nop())

	srv := New(Config{BasePath: "/api/admin/", AdminToken: token}, svc, bus, func() any { return map[string]int{"armed": reg.Len()} }, logx.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{ts: ts, bus: bus, reg: reg}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

var morning = map[string]any{
	"name":           "Morning Beauty",
	"scheduleTime":   "06:30",
	"timezone":       "America/New_York",
	"selectedNiches": []string{"beauty"},
	"isActive":       true,
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t, "", nil)

	resp, body := f.do(t, http.MethodPost, "/api/admin/jobs", "", morning)
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	id := int64(body["id"].(float64))
	assert.Equal(t, float64(0), body["totalRuns"])
	assert.NotEmpty(t, body["nextRunAt"])
	path := "/api/admin/jobs/" + jsonID(id)

	resp, body = f.do(t, http.MethodGet, "/api/admin/jobs", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	resp, body = f.do(t, http.MethodPut, path, "", map[string]any{"scheduleTime": "09:15"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "09:15", body["scheduleTime"])
	assert.Equal(t, 1, f.reg.Len())

	resp, body = f.do(t, http.MethodPost, path+"/trigger", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, float64(5), body["generatedCount"])

	resp, body = f.do(t, http.MethodGet, path+"/runs?limit=5", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["runs"], 1)

	resp, body = f.do(t, http.MethodGet, "/api/admin/jobs/status", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["totalActive"])
	entry := body["jobs"].([]any)[0].(map[string]any)
	assert.Equal(t, float64(id), entry["id"])
	assert.Equal(t, false, entry["destroyed"])

	resp, _ = f.do(t, http.MethodDelete, path, "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, f.reg.Len())

	resp, body = f.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "job not found", body["error"])
}

func TestValidationErrorsAreBadRequest(t *testing.T) {
	f := newFixture(t, "", nil)

	bad := map[string]any{"name": "x", "scheduleTime": "25:00", "selectedNiches": []string{"a"}}
	resp, body := f.do(t, http.MethodPost, "/api/admin/jobs", "", bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["hints"])

	resp, _ = f.do(t, http.MethodPut, "/api/admin/jobs/abc", "", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/admin/jobs/77/trigger", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, f.ts.URL+"/api/admin/jobs", strings.NewReader("{"))
	r, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)
}

func TestEmergencyStop(t *testing.T) {
	f := newFixture(t, "", nil)
	for i := 0; i < 2; i++ {
		resp, _ := f.do(t, http.MethodPost, "/api/admin/jobs", "", morning)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	resp, body := f.do(t, http.MethodPost, "/api/admin/jobs/emergency-stop", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["stoppedCount"])

	_, body = f.do(t, http.MethodGet, "/api/admin/jobs/status", "", nil)
	assert.Equal(t, float64(0), body["totalActive"])
	assert.Empty(t, body["jobs"])

	resp, body = f.do(t, http.MethodPost, "/api/admin/jobs/init", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["armedCount"])
}

func TestBlockedTriggerAndInit(t *testing.T) {
	gate := safeguard.GateFunc(func(context.Context, safeguard.Request) safeguard.Verdict {
		return safeguard.Deny("kill switch on")
	})
	f := newFixture(t, "", gate)
	resp, body := f.do(t, http.MethodPost, "/api/admin/jobs", "", morning)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := int64(body["id"].(float64))

	resp, body = f.do(t, http.MethodPost, "/api/admin/jobs/"+jsonID(id)+"/trigger", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "blocked", body["status"])
	assert.Equal(t, "kill switch on", body["reason"])

	resp, _ = f.do(t, http.MethodPost, "/api/admin/jobs/init", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAdminToken(t *testing.T) {
	f := newFixture(t, "s3cret", nil)

	resp, _ := f.do(t, http.MethodGet, "/api/admin/jobs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/admin/jobs", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/api/admin/jobs", "s3cret", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, "tok", nil)
	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/api/admin/jobs/events?types=job.&token=tok"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	// The subscription is registered after the upgrade; wait for it.
	require.Eventually(t, func() bool { return f.bus.Stats().Subscribers == 1 }, 2*time.Second, 5*time.Millisecond)

	f.bus.Publish(eventbus.Event{Type: "task.started"})
	eventbus.PublishJob(f.bus, eventbus.JobFailed, eventbus.JobEvent{JobID: 9, Error: "boom"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, eventbus.JobFailed, ev.Type)
	assert.Equal(t, float64(9), ev.Data["jobId"])
	assert.Equal(t, "boom", ev.Data["error"])
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
