package resolve

import (
	"strings"

	"github.com/incbuild/fstrace/internal/tracer"
)

// Sink receives file events whose paths have been made absolute.
type Sink interface {
	FileEvent(kind tracer.EventKind, path string)
}

// Resolver turns the relative paths and descriptor references of a
// session's trace events into absolute paths, and forwards the result
// to a Sink. Paths are joined literally: no symlink following and no
// ".." collapsing, so the output names exactly what the process asked
// the kernel for.
//
// One Resolver serves one traced session; all calls arrive from the
// single event pump goroutine, so there is no locking.
type Resolver struct {
	sink Sink
	cwds *CwdMemo
	fds  *FDTable
}

func NewResolver(sink Sink, initialPID int, initialCwd string) *Resolver {
	return &Resolver{
		sink: sink,
		cwds: NewCwdMemo(initialPID, initialCwd),
		fds:  NewFDTable(),
	}
}

func (r *Resolver) NewThread(parentThread, childThread uint64) {
	r.cwds.NewThread(parentThread, childThread)
}

func (r *Resolver) ThreadExit(thread uint64) {
	r.cwds.ThreadExit(thread)
}

// Fork copies the parent process's descriptor table and working
// directory to the child.
func (r *Resolver) Fork(ppid, pid int) {
	r.fds.Fork(ppid, pid)
	r.cwds.Fork(ppid, pid)
}

// ProcessExit invalidates the process's state.
func (r *Resolver) ProcessExit(pid int) {
	r.fds.Terminated(pid)
	r.cwds.Exit(pid)
}

func (r *Resolver) FileEvent(pid int, thread uint64, kind tracer.EventKind, atFD int, path string) {
	if kind == tracer.KindFatalError {
		// The path carries a syscall name, not a file path.
		r.sink.FileEvent(kind, path)

		return
	}

	r.sink.FileEvent(kind, r.resolve(pid, thread, atFD, path))
}

func (r *Resolver) Open(pid int, thread uint64, fd, atFD int, path string, cloexec bool) {
	r.fds.Open(pid, fd, r.resolve(pid, thread, atFD, path), cloexec)
}

func (r *Resolver) Dup(pid, fromFD, toFD int, cloexec bool) {
	r.fds.Dup(pid, fromFD, toFD, cloexec)
}

func (r *Resolver) SetCloexec(pid, fd int, cloexec bool) {
	r.fds.SetCloexec(pid, fd, cloexec)
}

func (r *Resolver) Close(pid, fd int) {
	r.fds.Close(pid, fd)
}

func (r *Resolver) Chdir(pid int, thread uint64, path string, atFD int) {
	r.cwds.Chdir(pid, r.resolve(pid, thread, atFD, path))
}

func (r *Resolver) ThreadChdir(pid int, thread uint64, path string, atFD int) {
	r.cwds.ThreadChdir(thread, r.resolve(pid, thread, atFD, path))
}

func (r *Resolver) Exec(pid int) {
	r.fds.Exec(pid)
}

// resolve joins a possibly relative path with its base: the referenced
// descriptor's path when atFD names one, the acting thread's working
// directory otherwise. Absolute paths pass through verbatim.
func (r *Resolver) resolve(pid int, thread uint64, atFD int, path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}

	base := ""
	if atFD == tracer.AtFDCWD {
		base = r.cwds.Cwd(pid, thread)
	} else {
		base = r.fds.Path(pid, atFD)
	}

	if path == "" {
		return base
	}

	if strings.HasSuffix(base, "/") {
		return base + path
	}

	return base + "/" + path
}
