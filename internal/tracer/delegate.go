package tracer

// Delegate receives the semantic events the Tracer extracts from the
// raw record stream. File events arrive with possibly relative paths
// and the directory-fd they are relative to; the path resolver layer
// turns them absolute.
type Delegate interface {
	// NewThread is called when a thread starts. pid is the process the
	// new thread belongs to; for fork and posix_spawn it differs from
	// the parent thread's process.
	NewThread(pid int, parentThread, childThread uint64)

	// TerminateThread is called when a thread exits. Returning true
	// stops the tracer.
	TerminateThread(thread uint64) bool

	// FileEvent reports one classified file access. For KindFatalError
	// the path holds the syscall name.
	FileEvent(thread uint64, kind EventKind, atFD int, path string)

	// Open registers fd as open on path in the calling thread's
	// process.
	Open(thread uint64, fd, atFD int, path string, cloexec bool)

	// Dup duplicates fromFD to toFD.
	Dup(thread uint64, fromFD, toFD int, cloexec bool)

	// SetCloexec flips the close-on-exec flag of an open fd.
	SetCloexec(thread uint64, fd int, cloexec bool)

	// Close removes fd from the process's fd table.
	Close(thread uint64, fd int)

	// Chdir changes the process-wide working directory.
	Chdir(thread uint64, path string, atFD int)

	// ThreadChdir changes only the calling thread's working directory.
	ThreadChdir(thread uint64, path string, atFD int)

	// Exec is called after a successful exec; close-on-exec fds are
	// dropped at this point.
	Exec(thread uint64)
}
