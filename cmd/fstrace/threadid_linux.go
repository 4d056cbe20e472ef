//go:build linux

package main

import "golang.org/x/sys/unix"

// currentThreadID returns the calling thread's kernel task id, the
// value the tracing programs stamp into records. The caller must be
// locked to its OS thread.
func currentThreadID() uint64 {
	return uint64(unix.Gettid())
}
