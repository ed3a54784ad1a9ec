package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gammadia/nimbus/audit"
	"github.com/gammadia/nimbus/fleet"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var silentLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type mockFleet struct {
	mutex    sync.Mutex
	nodes    map[string]*fleet.NodeInfo
	maxNodes int
	counter  int
}

func newMockFleet(maxNodes int) *mockFleet {
	return &mockFleet{nodes: map[string]*fleet.NodeInfo{}, maxNodes: maxNodes}
}

func (f *mockFleet) get(name string) (*fleet.NodeInfo, error) {
	node, found := f.nodes[name]
	if !found {
		return nil, fmt.Errorf("%w: '%s'", fleet.ErrUnknownNode, name)
	}
	return node, nil
}

func (f *mockFleet) Nodes() []fleet.NodeInfo {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	var nodes []fleet.NodeInfo
	for _, node := range f.nodes {
		nodes = append(nodes, *node)
	}
	return nodes
}

func (f *mockFleet) Provision() (string, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if len(f.nodes) >= f.maxNodes {
		return "", fleet.ErrFleetFull
	}
	f.counter += 1
	name := fmt.Sprintf("ci-%d", f.counter)
	f.nodes[name] = &fleet.NodeInfo{Name: name, Status: fleet.NodeStatusOnline}
	return name, nil
}

func (f *mockFleet) Terminate(name string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	node, err := f.get(name)
	if err != nil {
		return err
	}
	node.PendingDelete = true
	return nil
}

func (f *mockFleet) TaskStarted(name string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	node, err := f.get(name)
	if err != nil {
		return err
	}
	if node.PendingDelete || node.OfflineByUser {
		return fmt.Errorf("%w: '%s'", fleet.ErrNodeUnavailable, name)
	}
	node.Tasks += 1
	return nil
}

func (f *mockFleet) TaskCompleted(name string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	node, err := f.get(name)
	if err != nil {
		return err
	}
	if node.Tasks == 0 {
		return fmt.Errorf("%w on node '%s'", fleet.ErrNoTaskRunning, name)
	}
	node.Tasks -= 1
	node.TasksServed += 1
	return nil
}

func (f *mockFleet) SetOffline(name string, offline bool) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	node, err := f.get(name)
	if err != nil {
		return err
	}
	node.OfflineByUser = offline
	return nil
}

func (f *mockFleet) Check(name string) (fleet.CheckResult, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	node, err := f.get(name)
	if err != nil {
		return fleet.CheckResult{}, err
	}
	return fleet.CheckResult{Checked: true, PendingDelete: node.PendingDelete}, nil
}

type auditedNode struct {
	name string
}

func (n auditedNode) Name() string             { return n.name }
func (n auditedNode) IsPendingDelete() bool    { return false }
func (n auditedNode) MarkPendingDelete()       {}
func (n auditedNode) IsConnecting() bool       { return false }
func (n auditedNode) IsIdle() bool             { return true }
func (n auditedNode) IdleSince() time.Time     { return time.Time{} }
func (n auditedNode) Retention() time.Duration { return time.Minute }
func (n auditedNode) IsOfflineByUser() bool    { return false }

func newTestServer(t *testing.T, maxNodes int) (*httptest.Server, *mockFleet, *audit.Store) {
	store, err := audit.Open("", silentLogger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := newMockFleet(maxNodes)
	server := httptest.NewServer(NewServer(f, store, silentLogger))
	t.Cleanup(server.Close)
	return server, f, store
}

func call(t *testing.T, method, url string) *http.Response {
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func decode[T any](t *testing.T, res *http.Response) T {
	var body T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	return body
}

func TestPing(t *testing.T) {
	server, _, _ := newTestServer(t, 1)

	res := call(t, http.MethodGet, server.URL+"/ping")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, map[string]string{"status": "ok"}, decode[map[string]string](t, res))
}

func TestMetrics(t *testing.T) {
	server, _, _ := newTestServer(t, 1)

	res := call(t, http.MethodGet, server.URL+"/metrics")
	require.Equal(t, http.StatusOK, res.StatusCode)

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNodeLifecycle(t *testing.T) {
	server, _, _ := newTestServer(t, 1)

	res := call(t, http.MethodGet, server.URL+"/nodes")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, decode[[]fleet.NodeInfo](t, res))

	res = call(t, http.MethodPost, server.URL+"/nodes")
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	assert.Equal(t, "/nodes/ci-1", res.Header.Get("Location"))
	assert.Equal(t, "ci-1", decode[map[string]string](t, res)["name"])

	res = call(t, http.MethodPost, server.URL+"/nodes")
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	assert.Equal(t, http.StatusNoContent, call(t, http.MethodPost, server.URL+"/nodes/ci-1/tasks").StatusCode)
	assert.Equal(t, http.StatusNoContent, call(t, http.MethodDelete, server.URL+"/nodes/ci-1/tasks").StatusCode)
	assert.Equal(t, http.StatusConflict, call(t, http.MethodDelete, server.URL+"/nodes/ci-1/tasks").StatusCode)

	res = call(t, http.MethodGet, server.URL+"/nodes")
	nodes := decode[[]fleet.NodeInfo](t, res)
	require.Len(t, nodes, 1)
	assert.Equal(t, 1, nodes[0].TasksServed)

	res = call(t, http.MethodPost, server.URL+"/nodes/ci-1/check")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, map[string]bool{"checked": true, "pending-delete": false}, decode[map[string]bool](t, res))

	assert.Equal(t, http.StatusNoContent, call(t, http.MethodDelete, server.URL+"/nodes/ci-1").StatusCode)
	assert.Equal(t, http.StatusConflict, call(t, http.MethodPost, server.URL+"/nodes/ci-1/tasks").StatusCode)

	res = call(t, http.MethodPost, server.URL+"/nodes/ci-1/check")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, map[string]bool{"checked": true, "pending-delete": true}, decode[map[string]bool](t, res))
}

type stubNode struct {
	name string
}

func (n stubNode) Name() string     { return n.name }
func (n stubNode) Terminate() error { return nil }

type stubProvisioner struct {
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

func (p *stubProvisioner) Provision(_ context.Context, nodeName string) (fleet.Node, error) {
	return stubNode{name: nodeName}, nil
}

func (p *stubProvisioner) Sweep(context.Context, func(string) bool) error { return nil }

func (p *stubProvisioner) Shutdown() {
	p.shutdownOnce.Do(func() { close(p.shutdown) })
}

func (p *stubProvisioner) Wait() {
	<-p.shutdown
}

func TestCheckReportsNodeState(t *testing.T) {
	store, err := audit.Open("", silentLogger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	for _, tt := range []struct {
		name      string
		retention time.Duration
		expected  map[string]bool
	}{
		{"retained", time.Hour, map[string]bool{"checked": true, "pending-delete": false}},
		{"expired", time.Nanosecond, map[string]bool{"checked": true, "pending-delete": true}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := fleet.New(&stubProvisioner{shutdown: make(chan struct{})}, fleet.Config{
				Logger:        silentLogger,
				NamePrefix:    "ci",
				MaxNodes:      1,
				Retention:     tt.retention,
				CheckInterval: time.Hour,
				Auditor:       store,
			})
			go f.Run()
			t.Cleanup(func() {
				f.Shutdown()
				f.Wait()
			})

			server := httptest.NewServer(NewServer(f, store, silentLogger))
			t.Cleanup(server.Close)

			res := call(t, http.MethodPost, server.URL+"/nodes")
			require.Equal(t, http.StatusAccepted, res.StatusCode)
			name := decode[map[string]string](t, res)["name"]
			require.Eventually(t, func() bool {
				nodes := f.Nodes()
				return len(nodes) == 1 && nodes[0].Status == fleet.NodeStatusOnline
			}, 5*time.Second, 5*time.Millisecond)

			res = call(t, http.MethodPost, server.URL+"/nodes/"+name+"/check")
			require.Equal(t, http.StatusOK, res.StatusCode)
			assert.Equal(t, tt.expected, decode[map[string]bool](t, res))
		})
	}
}

func TestOfflineToggle(t *testing.T) {
	server, f, _ := newTestServer(t, 1)
	_, err := f.Provision()
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, call(t, http.MethodPut, server.URL+"/nodes/ci-1/offline").StatusCode)
	assert.True(t, f.nodes["ci-1"].OfflineByUser)
	assert.Equal(t, http.StatusConflict, call(t, http.MethodPost, server.URL+"/nodes/ci-1/tasks").StatusCode)

	assert.Equal(t, http.StatusNoContent, call(t, http.MethodDelete, server.URL+"/nodes/ci-1/offline").StatusCode)
	assert.False(t, f.nodes["ci-1"].OfflineByUser)
}

func TestUnknownNode(t *testing.T) {
	server, _, _ := newTestServer(t, 1)

	for _, route := range []struct{ method, path string }{
		{http.MethodDelete, "/nodes/ci-404"},
		{http.MethodPost, "/nodes/ci-404/tasks"},
		{http.MethodDelete, "/nodes/ci-404/tasks"},
		{http.MethodPut, "/nodes/ci-404/offline"},
		{http.MethodPost, "/nodes/ci-404/check"},
	} {
		res := call(t, route.method, server.URL+route.path)
		assert.Equal(t, http.StatusNotFound, res.StatusCode, route.path)
		assert.Contains(t, decode[map[string]string](t, res)["error"], "unknown node", route.path)
	}
}

func TestAudit(t *testing.T) {
	server, _, store := newTestServer(t, 1)
	require.NoError(t, store.Record(auditedNode{name: "ci-1"}))

	res := call(t, http.MethodGet, server.URL+"/audit/ci-1")
	require.Equal(t, http.StatusOK, res.StatusCode)
	records := decode[[]audit.Record](t, res)
	require.Len(t, records, 1)
	assert.Equal(t, time.Minute, records[0].Retention)

	res = call(t, http.MethodGet, server.URL+"/audit/ci-2")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, decode[[]audit.Record](t, res))

	res = call(t, http.MethodGet, server.URL+"/audit")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/zstd", res.Header.Get("Content-Type"))

	zr, err := zstd.NewReader(res.Body)
	require.NoError(t, err)
	defer zr.Close()
	exported, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(exported), "\n"))
	assert.Contains(t, string(exported), `"node":"ci-1"`)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(fleet.ErrShuttingDown))
	assert.Equal(t, http.StatusInternalServerError, statusOf(io.ErrUnexpectedEOF))
}
