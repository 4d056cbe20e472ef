package server

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incbuild/fstrace/internal/export"
	"github.com/incbuild/fstrace/internal/report"
	"github.com/incbuild/fstrace/internal/session"
)

type traceReq struct {
	pid        int
	rootThread uint64
	cwd        string
}

// fakeEngine records trace registrations and hands the done callback
// back to the test, which decides when the session "finishes".
type fakeEngine struct {
	health *export.HealthMetrics

	mu       sync.Mutex
	requests []traceReq
	done     chan session.DoneFunc
}

func newFakeEngine() *fakeEngine {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return &fakeEngine{
		health: export.NewHealthMetrics(log, export.HealthConfig{}),
		done:   make(chan session.DoneFunc, 1),
	}
}

func (e *fakeEngine) Trace(pid int, rootThread uint64, cwd string, done session.DoneFunc) {
	e.mu.Lock()
	e.requests = append(e.requests, traceReq{pid, rootThread, cwd})
	e.mu.Unlock()

	e.done <- done
}

func (e *fakeEngine) Schema() report.Schema { return report.SchemaLists }

func (e *fakeEngine) Health() *export.HealthMetrics { return e.health }

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return log
}

func startTestServer(t *testing.T) (*Server, *fakeEngine, string) {
	t.Helper()

	socket := filepath.Join(t.TempDir(), "trace.sock")
	eng := newFakeEngine()
	srv := New(testLogger(), Config{SocketPath: socket}, eng, nil)

	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { srv.Stop() })

	return srv, eng, socket
}

func TestServerTraceRoundTrip(t *testing.T) {
	_, eng, socket := startTestServer(t)

	reportPath := filepath.Join(t.TempDir(), "report.json")
	reportFile, err := os.Create(reportPath)
	require.NoError(t, err)
	defer reportFile.Close()

	client, err := Dial(socket)
	require.NoError(t, err)
	defer client.Close()

	req := &Request{
		PID:        4242,
		RootThread: 77,
		Cwd:        "/work",
		ReportPath: reportPath,
		Command:    "make all",
	}
	require.NoError(t, client.Trace(req, reportFile))

	// Registration happened before the session finished.
	eng.mu.Lock()
	require.Len(t, eng.requests, 1)
	assert.Equal(t, traceReq{4242, 77, "/work"}, eng.requests[0])
	eng.mu.Unlock()

	// Let the session finish and check the report lands in the
	// client's file.
	done := <-eng.done
	go done(&report.TraceResult{
		Inputs:  []report.Input{{Path: "/src/main.c"}},
		Outputs: []report.Output{{Path: "/out/main.o"}},
	})

	require.NoError(t, client.WaitComplete())

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)

	var got struct {
		Inputs []report.Input `json:"inputs"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got.Inputs, 1)
	assert.Equal(t, "/src/main.c", got.Inputs[0].Path)
}

func TestServerRejectsSecondInstance(t *testing.T) {
	_, _, socket := startTestServer(t)

	other := New(testLogger(), Config{SocketPath: socket}, newFakeEngine(), nil)
	err := other.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestServerReplacesStaleSocket(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "trace.sock")

	// A leftover socket file with nothing listening behind it.
	require.NoError(t, os.WriteFile(socket, nil, 0o600))

	srv := New(testLogger(), Config{SocketPath: socket}, newFakeEngine(), nil)
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Stop()

	assert.True(t, Connected(socket))
}

func TestConnected(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "nope.sock")
	assert.False(t, Connected(socket))

	_, _, live := startTestServer(t)
	assert.True(t, Connected(live))
}

func TestServerStopRemovesSocket(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "trace.sock")
	srv := New(testLogger(), Config{SocketPath: socket}, newFakeEngine(), nil)

	require.NoError(t, srv.Start(context.Background()))
	require.NoError(t, srv.Stop())

	_, err := os.Stat(socket)
	assert.True(t, os.IsNotExist(err))
}

func TestRequestWireFormat(t *testing.T) {
	data, err := json.Marshal(&Request{
		PID:        7,
		RootThread: 9,
		Cwd:        "/w",
		ReportPath: "out.json",
	})
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"pid": 7,
		"root_thread": 9,
		"cwd": "/w",
		"report_path": "out.json"
	}`, string(data))
}

func TestServerIgnoresBadRequest(t *testing.T) {
	_, eng, socket := startTestServer(t)

	reportFile, err := os.CreateTemp(t.TempDir(), "report")
	require.NoError(t, err)
	defer reportFile.Close()

	client, err := Dial(socket)
	require.NoError(t, err)
	defer client.Close()

	// pid 0 is rejected before the engine sees the request.
	err = client.Trace(&Request{Cwd: "/w"}, reportFile)
	require.Error(t, err)

	time.Sleep(50 * time.Millisecond)
	eng.mu.Lock()
	assert.Empty(t, eng.requests)
	eng.mu.Unlock()
}
