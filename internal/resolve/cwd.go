package resolve

// CwdMemo remembers working directories as reported by the trace
// stream. Processes have a shared cwd; a thread that used the
// per-thread chdir extension gets its own entry, which shadows the
// process one until the thread exits.
type CwdMemo struct {
	processCwds map[int]string
	threadCwds  map[uint64]string
}

func NewCwdMemo(initialPID int, initialCwd string) *CwdMemo {
	return &CwdMemo{
		processCwds: map[int]string{initialPID: initialCwd},
		threadCwds:  make(map[uint64]string),
	}
}

// Fork copies the parent process's cwd to the child.
func (m *CwdMemo) Fork(ppid, pid int) {
	if cwd, ok := m.processCwds[ppid]; ok {
		m.processCwds[pid] = cwd
	}
}

func (m *CwdMemo) Chdir(pid int, path string) {
	m.processCwds[pid] = path
}

func (m *CwdMemo) Exit(pid int) {
	delete(m.processCwds, pid)
}

// NewThread copies the parent thread's override, if any, to the child
// thread.
func (m *CwdMemo) NewThread(parentThread, childThread uint64) {
	if cwd, ok := m.threadCwds[parentThread]; ok {
		m.threadCwds[childThread] = cwd
	}
}

func (m *CwdMemo) ThreadChdir(thread uint64, path string) {
	m.threadCwds[thread] = path
}

func (m *CwdMemo) ThreadExit(thread uint64) {
	delete(m.threadCwds, thread)
}

// Cwd returns the effective working directory for a thread: its own
// override if it has one, otherwise its process's cwd, otherwise "".
func (m *CwdMemo) Cwd(pid int, thread uint64) string {
	if cwd, ok := m.threadCwds[thread]; ok {
		return cwd
	}

	return m.processCwds[pid]
}
