//go:build darwin

package main

import "syscall"

// currentThreadID returns the calling thread's kernel thread id, the
// value kdebug stamps into trace records. The caller must be locked
// to its OS thread.
func currentThreadID() uint64 {
	tid, _, _ := syscall.Syscall(syscall.SYS_THREAD_SELFID, 0, 0, 0)

	return uint64(tid)
}
