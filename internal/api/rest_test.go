package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turntabl-delinuxist/Virtual-Machine/internal/auth"
	"github.com/turntabl-delinuxist/Virtual-Machine/internal/build"
	"github.com/turntabl-delinuxist/Virtual-Machine/internal/machine"
	"github.com/turntabl-delinuxist/Virtual-Machine/internal/requestengine"
	"github.com/turntabl-delinuxist/Virtual-Machine/internal/storage"
)

const windowsBody = `{"type":"desktop","host_name":"host2020","requestor":"Mike","cpus":1,"ram_gb":4,"hdd_gb":200,"os":"Windows 10","asset_tag":"hr498"}`

type testServer struct {
	engine *requestengine.Engine
	sim    *build.Simulator
	srv    *httptest.Server
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	store, err := storage.NewBadgerStore("")
	require.NoError(t, err)
	sim := build.NewSimulator(store, build.WithBootDelay(time.Hour), build.WithLimits(build.Limits{MaxCPUs: 8}))
	engine := requestengine.New(auth.NewAllowlist("Mike"), sim)

	srv := httptest.NewServer(NewHTTPHandler(engine, sim, opts...))
	t.Cleanup(func() {
		srv.Close()
		sim.Close()
		_ = store.Close()
	})
	return &testServer{engine: engine, sim: sim, srv: srv}
}

func (ts *testServer) post(t *testing.T, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(ts.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestPing(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.srv.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateRequest_Created(t *testing.T) {
	ts := newTestServer(t)

	resp, out := ts.post(t, "/requests", windowsBody)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "created", out["status"])
	builds := ts.engine.TotalBuildsByUserForDay()
	assert.Len(t, builds["Mike"], 1)
}

func TestCreateRequest_Forbidden(t *testing.T) {
	ts := newTestServer(t)

	resp, out := ts.post(t, "/requests", strings.Replace(windowsBody, `"Mike"`, `"Eve"`, 1))

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, out["error"], "not entitled")
	assert.Equal(t, 1, ts.engine.TotalFailedBuildsForDay())
}

func TestCreateRequest_BuildFailed(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.post(t, "/requests", strings.Replace(windowsBody, `"cpus":1`, `"cpus":64`, 1))

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, 1, ts.engine.TotalFailedBuildsForDay())
}

func TestCreateRequest_BadPayload(t *testing.T) {
	ts := newTestServer(t)

	for _, body := range []string{`not json`, `{"type":"mainframe"}`} {
		resp, _ := ts.post(t, "/requests", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
	assert.Equal(t, 0, ts.engine.TotalFailedBuildsForDay())
}

func TestCreateRequest_RateLimited(t *testing.T) {
	ts := newTestServer(t, WithLimiter(NewLimiter(0.001, 1)))

	resp, _ := ts.post(t, "/requests", windowsBody)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = ts.post(t, "/requests", windowsBody)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, 0, ts.engine.TotalFailedBuildsForDay(), "rate limited requests never reach the engine")
}

func TestStatsToday(t *testing.T) {
	ts := newTestServer(t)
	ts.post(t, "/requests", windowsBody)
	ts.post(t, "/requests", windowsBody)

	resp, err := http.Get(ts.srv.URL + "/stats/today")
	require.NoError(t, err)
	defer resp.Body.Close()

	var report requestengine.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, 0, report.FailedBuilds)
	assert.Equal(t, 2, report.BuildsByRequestor["Mike"][machine.NewDesktop("host2020", "Mike", 1, 4, 200, "Windows 10", "hr498").Key()])
}

func TestBuildsLifecycle(t *testing.T) {
	ts := newTestServer(t)
	id := ts.sim.CreateNewMachine(context.Background(), machine.NewServer("db1", "Mike", 2, 8, 100, "Ubuntu", 2, "s1", "ops"))
	require.NotEmpty(t, id)

	resp, err := http.Get(ts.srv.URL + "/builds?id=" + id)
	require.NoError(t, err)
	var b machine.Build
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&b))
	resp.Body.Close()
	assert.Equal(t, machine.StatusPending, b.Status)

	resp, out := ts.post(t, "/builds/stop", `{"id":"`+id+`"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", out["result"])

	resp, _ = ts.post(t, "/builds/start", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.post(t, "/builds/stop", `{"id":"missing"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetBuild_Errors(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/builds")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.srv.URL + "/builds?id=missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListBuildsByRequestor(t *testing.T) {
	ts := newTestServer(t)
	ts.post(t, "/requests", windowsBody)
	ts.post(t, "/requests", windowsBody)

	resp, err := http.Get(ts.srv.URL + "/builds?requestor=Mike")
	require.NoError(t, err)
	defer resp.Body.Close()

	var list []machine.Build
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list, 2)
	for _, b := range list {
		assert.Equal(t, "Mike", b.Requestor)
	}

	resp2, err := http.Get(ts.srv.URL + "/builds?requestor=Nobody")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var empty []machine.Build
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&empty))
	assert.Empty(t, empty)
}

func TestBuildAction_MalformedBody(t *testing.T) {
	ts := newTestServer(t)

	resp, out := ts.post(t, "/builds/stop", `{"id":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, out["error"], "invalid body")

	resp, out = ts.post(t, "/builds/start", ``)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "id required", out["error"])
}
