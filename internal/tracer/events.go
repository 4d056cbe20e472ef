package tracer

import "fmt"

// EventKind classifies the file-access semantics of one syscall.
type EventKind uint8

const (
	// KindRead covers operations that acquire information about a
	// file, both metadata and contents. For a directory it means only
	// the directory's metadata was inspected.
	KindRead EventKind = iota + 1

	// KindReadDirectory covers operations that list the entries of a
	// directory.
	KindReadDirectory

	// KindWrite covers operations that modify a file but may leave
	// parts of the previous contents in place.
	KindWrite

	// KindCreate covers operations that create a file or entirely
	// overwrite its contents.
	KindCreate

	// KindDelete covers operations that remove a file. Deleting also
	// exposes whether the file existed, so Delete implies Read.
	KindDelete

	// KindFatalError marks a coverage gap: a syscall whose effects
	// cannot be determined from the arguments the kernel exposes. The
	// path carries the syscall name rather than a file path.
	KindFatalError
)

// String returns the wire name of the event kind.
func (k EventKind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindReadDirectory:
		return "read_directory"
	case KindWrite:
		return "write"
	case KindCreate:
		return "create"
	case KindDelete:
		return "delete"
	case KindFatalError:
		return "fatal_error"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Modifies reports whether the kind describes a change to the file
// system rather than an inspection of it.
func (k EventKind) Modifies() bool {
	switch k {
	case KindWrite, KindCreate, KindDelete, KindReadDirectory:
		return true
	default:
		return false
	}
}
