package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/incbuild/fstrace/internal/export"
	"github.com/incbuild/fstrace/internal/report"
	"github.com/incbuild/fstrace/internal/session"
	"github.com/incbuild/fstrace/internal/tracelog"
)

// Config configures the trace server socket.
type Config struct {
	// SocketPath is the unix socket the server listens on.
	SocketPath string `yaml:"socket_path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SocketPath: "/tmp/fstrace.sock",
	}
}

// Engine is the part of the trace engine the server needs.
type Engine interface {
	Trace(pid int, rootThread uint64, cwd string, done session.DoneFunc)
	Schema() report.Schema
	Health() *export.HealthMetrics
}

// Request asks the server to trace a process tree. It travels as one
// JSON line over the socket, with the report file descriptor attached
// to the same message via SCM_RIGHTS.
type Request struct {
	// PID is the root process of the tree to trace.
	PID int `json:"pid"`

	// RootThread is the root process's kernel thread id, when the
	// client knows it. Zero makes the server wait for the pid's first
	// thread event instead.
	RootThread uint64 `json:"root_thread,omitempty"`

	// Cwd is the root process's working directory.
	Cwd string `json:"cwd"`

	// ReportPath is the client-side name of the passed report file.
	// The server only uses it to pick compression and for logging.
	ReportPath string `json:"report_path"`

	// Command is the traced command line, recorded in the trace
	// history.
	Command string `json:"command,omitempty"`
}

const (
	// AckRegistered is sent once the session is registered; the
	// client may release the traced process after reading it.
	AckRegistered byte = 0x01

	// AckComplete is sent after the report has been written to the
	// passed descriptor.
	AckComplete byte = 0x02

	// AckError is sent instead of AckComplete when writing the report
	// failed.
	AckError byte = 0x03
)

// Server accepts trace requests over a unix socket and serves them
// all from one shared engine. Each connection is one session; the
// connection stays open until the session's report has been written.
type Server struct {
	log  logrus.FieldLogger
	cfg  Config
	eng  Engine
	tlog *tracelog.Log

	ln     *net.UnixListener
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server. tlog may be nil.
func New(log logrus.FieldLogger, cfg Config, eng Engine, tlog *tracelog.Log) *Server {
	return &Server{
		log:  log.WithField("component", "server"),
		cfg:  cfg,
		eng:  eng,
		tlog: tlog,
	}
}

// Start binds the socket and begins accepting requests. A stale
// socket file from a dead server is removed; a live one is an error.
func (s *Server) Start(ctx context.Context) error {
	if Connected(s.cfg.SocketPath) {
		return fmt.Errorf(
			"trace server already running on %s", s.cfg.SocketPath,
		)
	}

	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket: %w", err)
	}

	addr := &net.UnixAddr{Name: s.cfg.SocketPath, Net: "unix"}

	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.SocketPath, err)
	}

	s.ln = ln

	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	s.log.WithField("socket", s.cfg.SocketPath).Info("Trace server listening")

	return nil
}

// Stop closes the listener and waits for in-flight sessions to write
// their reports.
func (s *Server) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}

	if s.ln != nil {
		s.ln.Close()
	}

	s.wg.Wait()

	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.ln.AcceptUnix()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}

			s.log.WithError(err).Warn("Accept error")

			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn *net.UnixConn) {
	defer conn.Close()

	req, reportFile, err := readRequest(conn)
	if err != nil {
		s.log.WithError(err).Warn("Bad trace request")

		return
	}

	log := s.log.WithFields(logrus.Fields{
		"pid":    req.PID,
		"report": req.ReportPath,
	})
	log.Info("Trace request accepted")

	started := time.Now()
	done := make(chan struct{})

	s.eng.Trace(req.PID, req.RootThread, req.Cwd, func(res *report.TraceResult) {
		defer close(done)

		ack := AckComplete

		if err := report.EncodeFile(reportFile, s.eng.Schema(), res); err != nil {
			log.WithError(err).Error("Writing report failed")
			s.eng.Health().ReportErrors.Inc()

			ack = AckError
		} else {
			s.eng.Health().ReportsWritten.
				WithLabelValues(string(s.eng.Schema())).Inc()
		}

		reportFile.Close()

		if err := s.tlog.Record(
			started, time.Now(), req.PID, req.Command, res,
		); err != nil {
			log.WithError(err).Warn("Recording trace history failed")
		}

		if _, err := conn.Write([]byte{ack}); err != nil {
			log.WithError(err).Warn("Sending completion failed")
		}

		log.WithFields(logrus.Fields{
			"inputs":   len(res.Inputs),
			"outputs":  len(res.Outputs),
			"errors":   len(res.Errors),
			"duration": time.Since(started),
		}).Info("Trace complete")
	})

	if _, err := conn.Write([]byte{AckRegistered}); err != nil {
		log.WithError(err).Warn("Sending registration ack failed")
	}

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// readRequest reads the JSON request line and the attached report
// file descriptor from the connection.
func readRequest(conn *net.UnixConn) (*Request, *os.File, error) {
	buf := make([]byte, 64*1024)
	oob := make([]byte, 128)

	n, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return nil, nil, fmt.Errorf("reading request: %w", err)
	}

	scms, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, nil, fmt.Errorf("parsing control message: %w", err)
	}

	if len(scms) != 1 {
		return nil, nil, fmt.Errorf(
			"expected one control message, got %d", len(scms),
		)
	}

	fds, err := unix.ParseUnixRights(&scms[0])
	if err != nil {
		return nil, nil, fmt.Errorf("parsing passed fds: %w", err)
	}

	if len(fds) != 1 {
		return nil, nil, fmt.Errorf("expected one passed fd, got %d", len(fds))
	}

	var req Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		unix.Close(fds[0])

		return nil, nil, fmt.Errorf("parsing request: %w", err)
	}

	if req.PID <= 0 {
		unix.Close(fds[0])

		return nil, nil, fmt.Errorf("invalid pid %d", req.PID)
	}

	return &req, os.NewFile(uintptr(fds[0]), req.ReportPath), nil
}
