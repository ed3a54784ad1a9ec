package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gammadia/nimbus/audit"
	"github.com/gammadia/nimbus/fleet"
	"github.com/gammadia/nimbus/server/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFleet struct {
	nodes   []fleet.NodeInfo
	calls   []string
	verdict fleet.CheckResult
}

func (f *stubFleet) Nodes() []fleet.NodeInfo { return f.nodes }

func (f *stubFleet) Provision() (string, error) {
	f.calls = append(f.calls, "provision")
	return "ci-3", nil
}

func (f *stubFleet) Terminate(name string) error {
	return f.record("terminate", name)
}

func (f *stubFleet) TaskStarted(name string) error {
	return f.record("task-started", name)
}

func (f *stubFleet) TaskCompleted(name string) error {
	return f.record("task-completed", name)
}

func (f *stubFleet) SetOffline(name string, offline bool) error {
	return f.record(fmt.Sprintf("offline=%t", offline), name)
}

func (f *stubFleet) Check(name string) (fleet.CheckResult, error) {
	return f.verdict, f.record("check", name)
}

func (f *stubFleet) record(call, name string) error {
	for _, node := range f.nodes {
		if node.Name == name {
			f.calls = append(f.calls, call+" "+name)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", fleet.ErrUnknownNode, name)
}

type stubAudit struct {
	records []audit.Record
}

func (a *stubAudit) List(node string) ([]audit.Record, error) {
	return a.records, nil
}

func (a *stubAudit) Export(w io.Writer) error {
	_, err := io.WriteString(w, "compressed")
	return err
}

func newStubDaemon(t *testing.T) (*stubFleet, string) {
	t.Helper()
	idle := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	f := &stubFleet{nodes: []fleet.NodeInfo{
		{Name: "ci-1", Status: fleet.NodeStatusOnline, Tasks: 2, TasksServed: 5},
		{Name: "ci-2", Status: fleet.NodeStatusOnline, PendingDelete: true, OfflineByUser: true, IdleSince: idle},
	}}
	a := &stubAudit{records: []audit.Record{
		{ID: "rec-1", Node: "ci-2", RecordedAt: idle, IdleSince: idle, Retention: 10 * time.Minute, Offline: true},
	}}

	server := httptest.NewServer(api.NewServer(f, a, nil))
	t.Cleanup(server.Close)
	return f, server.URL
}

func runNimbus(t *testing.T, remote string, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { output = "table" })

	var buf bytes.Buffer
	nimbusCmd.SetOut(&buf)
	nimbusCmd.SetErr(io.Discard)
	nimbusCmd.SetArgs(append(args, "--remote", remote))
	err := nimbusCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestFleetNodes(t *testing.T) {
	_, remote := newStubDaemon(t)

	out, err := runNimbus(t, remote, "fleet", "nodes", "-o", "name")
	require.NoError(t, err)
	assert.Equal(t, "ci-1\nci-2\n", out)

	out, err = runNimbus(t, remote, "fleet", "nodes", "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "pending-delete,offline")
}

func TestFleetProvision(t *testing.T) {
	f, remote := newStubDaemon(t)

	out, err := runNimbus(t, remote, "fleet", "provision")
	require.NoError(t, err)
	assert.Contains(t, out, "ci-3 is provisioning")
	assert.Equal(t, []string{"provision"}, f.calls)
}

func TestFleetNodeActions(t *testing.T) {
	f, remote := newStubDaemon(t)

	for _, args := range [][]string{
		{"fleet", "offline", "ci-1"},
		{"fleet", "online", "ci-1"},
		{"fleet", "terminate", "ci-2"},
	} {
		_, err := runNimbus(t, remote, args...)
		require.NoError(t, err, args)
	}
	assert.Equal(t, []string{"offline=true ci-1", "offline=false ci-1", "terminate ci-2"}, f.calls)
}

func TestFleetCheck(t *testing.T) {
	f, remote := newStubDaemon(t)

	for _, tt := range []struct {
		verdict  fleet.CheckResult
		expected string
	}{
		{fleet.CheckResult{Checked: true}, "ci-1 is retained"},
		{fleet.CheckResult{Checked: true, PendingDelete: true}, "ci-1 is pending delete"},
		{fleet.CheckResult{PendingDelete: true}, "ci-1 is pending delete"},
		{fleet.CheckResult{}, "ci-1 was not checked"},
	} {
		f.verdict = tt.verdict
		out, err := runNimbus(t, remote, "fleet", "check", "ci-1")
		require.NoError(t, err)
		assert.Contains(t, out, tt.expected)
	}
}

func TestFleet_UnknownNode(t *testing.T) {
	_, remote := newStubDaemon(t)

	_, err := runNimbus(t, remote, "fleet", "terminate", "ci-9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon answered 404")
	assert.Contains(t, err.Error(), "ci-9")
}

func TestFleetAudit(t *testing.T) {
	_, remote := newStubDaemon(t)

	out, err := runNimbus(t, remote, "fleet", "audit", "ci-2", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "rec-1"`)
	assert.Contains(t, out, `"offline": true`)
}

func TestFleetExport(t *testing.T) {
	_, remote := newStubDaemon(t)
	path := filepath.Join(t.TempDir(), "audit.jsonl.zst")

	_, err := runNimbus(t, remote, "fleet", "export", path)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "compressed", string(content))
}

func TestFleet_InvalidRemote(t *testing.T) {
	_, err := runNimbus(t, "not a url", "fleet", "nodes")
	assert.ErrorContains(t, err, "invalid remote")
}
