//go:build !darwin && !linux

package main

// currentThreadID is unknown on this platform; zero makes the session
// registry fall back to claiming the pid's first thread event.
func currentThreadID() uint64 {
	return 0
}
