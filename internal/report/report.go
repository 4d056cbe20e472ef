package report

// Input is a path the traced command depended on.
type Input struct {
	Path string `json:"path"`

	// DirectoryListing is set when the command enumerated the
	// directory's entries, so the dependency covers the set of names
	// in it, not just its metadata.
	DirectoryListing bool `json:"directory_listing,omitempty"`
}

// Output is a path the traced command affected.
type Output struct {
	Path string `json:"path"`

	// Overwritten is set when the command modified the file without
	// wholly replacing its contents.
	Overwritten bool `json:"overwritten,omitempty"`

	// Deleted is set when the command removed a file it did not
	// create. Consumers must invalidate such paths rather than
	// refresh them.
	Deleted bool `json:"deleted,omitempty"`
}

// Event is one record of the ordered report schema.
type Event struct {
	Kind string `json:"kind"`

	// Path is a file path, or a syscall name for fatal_error events.
	Path string `json:"path"`
}

// TraceResult is the finalized dependency report of one traced
// session. Slices preserve the order in which paths were first
// observed, which keeps serialized reports stable across runs of the
// same command.
type TraceResult struct {
	Inputs  []Input
	Outputs []Output

	// Errors lists the syscalls whose effects could not be observed,
	// one entry per distinct syscall name.
	Errors []string

	// Events holds the same facts as the lists above as one ordered
	// sequence, for the record-oriented schema.
	Events []Event

	// Incomplete is set when the kernel dropped records during the
	// session; the lists are then a best-effort subset.
	Incomplete bool
}
