package engine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/incbuild/fstrace/internal/export"
	"github.com/incbuild/fstrace/internal/kernel"
	"github.com/incbuild/fstrace/internal/report"
	"github.com/incbuild/fstrace/internal/session"
	"github.com/incbuild/fstrace/internal/tracer"
)

// Engine owns the kernel reader, the record state machine, and the
// session registry: everything needed to turn "trace this pid" into a
// finalized dependency report. It is shared by the one-shot command
// mode and the persistent server.
type Engine struct {
	log      logrus.FieldLogger
	cfg      *Config
	health   *export.HealthMetrics
	reader   kernel.Reader
	registry *session.Registry
}

// New wires an engine. With quitWhenIdle set, the kernel pump stops
// once the last session finalizes, which is what one-shot mode wants;
// the server leaves it unset and runs until cancelled.
func New(log logrus.FieldLogger, cfg *Config, quitWhenIdle bool) *Engine {
	e := &Engine{
		log:      log.WithField("component", "engine"),
		cfg:      cfg,
		health:   export.NewHealthMetrics(log, cfg.Health),
		registry: session.NewRegistry(log, quitWhenIdle),
	}

	tr := tracer.New(log, &meteredDelegate{
		next:   e.registry,
		health: e.health,
	})

	e.reader = kernel.NewReader(log, cfg.Kernel)
	e.reader.OnRecords(func(recs []kernel.Record) bool {
		e.health.RecordBatches.Inc()
		e.health.RecordsProcessed.Add(float64(len(recs)))

		return tr.HandleRecords(recs)
	})
	e.reader.OnOverflow(func() {
		e.health.BufferOverflows.Inc()
		e.registry.NoteOverflow()
	})

	return e
}

// Start claims the kernel trace facility and begins pumping records.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.health.Start(ctx); err != nil {
		return fmt.Errorf("starting health metrics: %w", err)
	}

	if err := e.reader.Start(ctx); err != nil {
		return fmt.Errorf("starting kernel reader: %w", err)
	}

	e.log.Info("Engine started")

	return nil
}

// Stop releases the kernel facility.
func (e *Engine) Stop() error {
	err := e.reader.Stop()

	if herr := e.health.Stop(); herr != nil && err == nil {
		err = herr
	}

	return err
}

// Schema returns the configured report schema.
func (e *Engine) Schema() report.Schema {
	return e.cfg.Schema()
}

// Health exposes the engine's metrics for components that report
// their own.
func (e *Engine) Health() *export.HealthMetrics {
	return e.health
}

// Trace starts a session for pid and calls done with its report. See
// session.Registry.TraceProcess for the rootThread contract.
func (e *Engine) Trace(pid int, rootThread uint64, cwd string, done session.DoneFunc) {
	e.health.SessionsLive.Inc()

	e.registry.TraceProcess(pid, rootThread, cwd, func(res *report.TraceResult) {
		e.health.SessionsLive.Dec()
		e.health.SessionsTraced.Inc()

		done(res)
	})
}

// meteredDelegate counts classified events on their way to the
// registry.
type meteredDelegate struct {
	next   tracer.Delegate
	health *export.HealthMetrics
}

func (d *meteredDelegate) NewThread(pid int, parentThread, childThread uint64) {
	d.next.NewThread(pid, parentThread, childThread)
}

func (d *meteredDelegate) TerminateThread(thread uint64) bool {
	return d.next.TerminateThread(thread)
}

func (d *meteredDelegate) FileEvent(thread uint64, kind tracer.EventKind, atFD int, path string) {
	d.health.EventsByKind.WithLabelValues(kind.String()).Inc()
	d.next.FileEvent(thread, kind, atFD, path)
}

func (d *meteredDelegate) Open(thread uint64, fd, atFD int, path string, cloexec bool) {
	d.next.Open(thread, fd, atFD, path, cloexec)
}

func (d *meteredDelegate) Dup(thread uint64, fromFD, toFD int, cloexec bool) {
	d.next.Dup(thread, fromFD, toFD, cloexec)
}

func (d *meteredDelegate) SetCloexec(thread uint64, fd int, cloexec bool) {
	d.next.SetCloexec(thread, fd, cloexec)
}

func (d *meteredDelegate) Close(thread uint64, fd int) {
	d.next.Close(thread, fd)
}

func (d *meteredDelegate) Chdir(thread uint64, path string, atFD int) {
	d.next.Chdir(thread, path, atFD)
}

func (d *meteredDelegate) ThreadChdir(thread uint64, path string, atFD int) {
	d.next.ThreadChdir(thread, path, atFD)
}

func (d *meteredDelegate) Exec(thread uint64) {
	d.next.Exec(thread)
}
