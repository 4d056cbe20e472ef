package resolve

// fdInfo is what the resolver needs to know about an open descriptor.
type fdInfo struct {
	path    string
	cloexec bool
}

// FDTable maps (pid, fd) to the path the descriptor was opened on, so
// *at syscalls and fd-relative mutations can be resolved. Descriptors
// the trace never saw opened (inherited sockets, pipes) simply have no
// entry.
type FDTable struct {
	processes map[int]map[int]fdInfo
}

func NewFDTable() *FDTable {
	return &FDTable{processes: make(map[int]map[int]fdInfo)}
}

func (t *FDTable) Open(pid, fd int, path string, cloexec bool) {
	fds := t.processes[pid]
	if fds == nil {
		fds = make(map[int]fdInfo)
		t.processes[pid] = fds
	}

	fds[fd] = fdInfo{path: path, cloexec: cloexec}
}

func (t *FDTable) Close(pid, fd int) {
	fds := t.processes[pid]
	delete(fds, fd)

	if len(fds) == 0 {
		delete(t.processes, pid)
	}
}

// Dup copies fromFD's entry to toFD with the given cloexec flag.
// Unknown source fds are ignored; there is nothing to copy.
func (t *FDTable) Dup(pid, fromFD, toFD int, cloexec bool) {
	info, ok := t.processes[pid][fromFD]
	if !ok {
		return
	}

	t.processes[pid][toFD] = fdInfo{path: info.path, cloexec: cloexec}
}

func (t *FDTable) SetCloexec(pid, fd int, cloexec bool) {
	if info, ok := t.processes[pid][fd]; ok {
		info.cloexec = cloexec
		t.processes[pid][fd] = info
	}
}

// Exec drops every close-on-exec descriptor of the process.
func (t *FDTable) Exec(pid int) {
	fds := t.processes[pid]

	for fd, info := range fds {
		if info.cloexec {
			delete(fds, fd)
		}
	}
}

// Fork copies the parent's descriptor table to the child.
func (t *FDTable) Fork(ppid, pid int) {
	parent, ok := t.processes[ppid]
	if !ok {
		return
	}

	child := make(map[int]fdInfo, len(parent))
	for fd, info := range parent {
		child[fd] = info
	}

	t.processes[pid] = child
}

func (t *FDTable) Terminated(pid int) {
	delete(t.processes, pid)
}

// Path returns the path fd was opened on, or "" when the descriptor is
// unknown.
func (t *FDTable) Path(pid, fd int) string {
	return t.processes[pid][fd].path
}
