package session

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/incbuild/fstrace/internal/report"
	"github.com/incbuild/fstrace/internal/resolve"
	"github.com/incbuild/fstrace/internal/tracer"
)

// DoneFunc receives a session's finalized report.
type DoneFunc func(*report.TraceResult)

// Session is one traced command tree: a root process, every process
// and thread descended from it, and the consolidated file accesses of
// all of them.
type Session struct {
	id       uint64
	resolver *resolve.Resolver
	cons     *Consolidator
	done     DoneFunc

	threads    map[uint64]struct{}
	pidThreads map[int]int
}

type member struct {
	s   *Session
	pid int
}

// Registry routes the single machine-wide event stream to per-session
// state. It implements tracer.Delegate once, globally; everything it
// hears about a thread it does not know is unrelated system activity
// and is dropped.
//
// Events arrive from the reader pump goroutine while trace requests
// arrive from server connections, so all state is mutex guarded.
type Registry struct {
	log          logrus.FieldLogger
	quitWhenIdle bool

	mu       sync.Mutex
	nextID   uint64
	threads  map[uint64]*member
	pending  map[int]*Session
	sessions map[*Session]struct{}
	traced   uint64
}

// NewRegistry creates an empty registry. With quitWhenIdle set, the
// event pump is stopped once the last session finalizes; a persistent
// server leaves it unset.
func NewRegistry(log logrus.FieldLogger, quitWhenIdle bool) *Registry {
	return &Registry{
		log:          log.WithField("component", "registry"),
		quitWhenIdle: quitWhenIdle,
		threads:      make(map[uint64]*member),
		pending:      make(map[int]*Session),
		sessions:     make(map[*Session]struct{}),
	}
}

// TraceProcess starts a session for pid, whose threads resolve
// relative paths against cwd until they change directory. When
// rootThread is known it joins the session immediately; when zero,
// the session waits for the first thread-creation event that names
// pid. done is called with the finalized report once every member
// thread has exited.
func (r *Registry) TraceProcess(pid int, rootThread uint64, cwd string, done DoneFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	s := &Session{
		id:         r.nextID,
		cons:       NewConsolidator(),
		done:       done,
		threads:    make(map[uint64]struct{}),
		pidThreads: make(map[int]int),
	}
	s.resolver = resolve.NewResolver(s.cons, pid, cwd)
	r.sessions[s] = struct{}{}

	if rootThread != 0 {
		r.adopt(s, rootThread, pid)
	} else {
		r.pending[pid] = s
	}

	r.log.WithFields(logrus.Fields{
		"session": s.id,
		"pid":     pid,
		"cwd":     cwd,
	}).Debug("Session registered")
}

// Live returns the number of sessions that have not finalized yet.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

// Traced returns how many sessions have ever been registered.
func (r *Registry) Traced() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.traced + uint64(len(r.sessions))
}

func (r *Registry) adopt(s *Session, thread uint64, pid int) {
	r.threads[thread] = &member{s: s, pid: pid}
	s.threads[thread] = struct{}{}
	s.pidThreads[pid]++
}

// NewThread implements tracer.Delegate. A child of a member thread
// joins the member's session; a thread of a pid with a waiting
// session claims it; anything else is noise.
func (r *Registry) NewThread(pid int, parentThread, childThread uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.threads[childThread]; ok {
		r.log.WithField("thread", childThread).
			Warn("Thread created twice, ignoring")

		return
	}

	if m, ok := r.threads[parentThread]; ok {
		r.adopt(m.s, childThread, pid)
		m.s.resolver.NewThread(parentThread, childThread)

		if pid != m.pid {
			// A new process, not just a new thread: the child starts
			// with a copy of the parent's fd table and cwd.
			m.s.resolver.Fork(m.pid, pid)
		}

		return
	}

	if s, ok := r.pending[pid]; ok {
		delete(r.pending, pid)
		r.adopt(s, childThread, pid)
	}
}

// TerminateThread implements tracer.Delegate. It reports true once
// the registry is idle and configured to stop there.
func (r *Registry) TerminateThread(thread uint64) bool {
	r.mu.Lock()

	m, ok := r.threads[thread]
	if !ok {
		r.mu.Unlock()

		return false
	}

	delete(r.threads, thread)

	s := m.s
	s.resolver.ThreadExit(thread)
	delete(s.threads, thread)

	s.pidThreads[m.pid]--
	if s.pidThreads[m.pid] == 0 {
		delete(s.pidThreads, m.pid)
		s.resolver.ProcessExit(m.pid)
	}

	var (
		finished *Session
		result   *report.TraceResult
	)

	if len(s.threads) == 0 {
		delete(r.sessions, s)
		r.traced++
		finished = s
		result = s.cons.Finalize()
	}

	stop := r.quitWhenIdle && len(r.sessions) == 0 && len(r.pending) == 0

	r.mu.Unlock()

	if finished != nil {
		r.log.WithFields(logrus.Fields{
			"session":    finished.id,
			"inputs":     len(result.Inputs),
			"outputs":    len(result.Outputs),
			"errors":     len(result.Errors),
			"incomplete": result.Incomplete,
		}).Debug("Session finalized")

		finished.done(result)
	}

	return stop
}

// NoteOverflow marks every live session as best-effort incomplete.
// The kernel wrapped its trace buffer, so any of them may have lost
// events.
func (r *Registry) NoteOverflow() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for s := range r.sessions {
		s.cons.MarkIncomplete()
	}

	if len(r.sessions) > 0 {
		r.log.Warn("Kernel trace buffer wrapped, reports may be incomplete")
	}
}

// FileEvent implements tracer.Delegate.
func (r *Registry) FileEvent(thread uint64, kind tracer.EventKind, atFD int, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.threads[thread]; ok {
		m.s.resolver.FileEvent(m.pid, thread, kind, atFD, path)
	}
}

// Open implements tracer.Delegate.
func (r *Registry) Open(thread uint64, fd, atFD int, path string, cloexec bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.threads[thread]; ok {
		m.s.resolver.Open(m.pid, thread, fd, atFD, path, cloexec)
	}
}

// Dup implements tracer.Delegate.
func (r *Registry) Dup(thread uint64, fromFD, toFD int, cloexec bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.threads[thread]; ok {
		m.s.resolver.Dup(m.pid, fromFD, toFD, cloexec)
	}
}

// SetCloexec implements tracer.Delegate.
func (r *Registry) SetCloexec(thread uint64, fd int, cloexec bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.threads[thread]; ok {
		m.s.resolver.SetCloexec(m.pid, fd, cloexec)
	}
}

// Close implements tracer.Delegate.
func (r *Registry) Close(thread uint64, fd int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.threads[thread]; ok {
		m.s.resolver.Close(m.pid, fd)
	}
}

// Chdir implements tracer.Delegate.
func (r *Registry) Chdir(thread uint64, path string, atFD int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.threads[thread]; ok {
		m.s.resolver.Chdir(m.pid, thread, path, atFD)
	}
}

// ThreadChdir implements tracer.Delegate.
func (r *Registry) ThreadChdir(thread uint64, path string, atFD int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.threads[thread]; ok {
		m.s.resolver.ThreadChdir(m.pid, thread, path, atFD)
	}
}

// Exec implements tracer.Delegate.
func (r *Registry) Exec(thread uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.threads[thread]; ok {
		m.s.resolver.Exec(m.pid)
	}
}
