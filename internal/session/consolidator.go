package session

import (
	"github.com/incbuild/fstrace/internal/report"
	"github.com/incbuild/fstrace/internal/tracer"
)

// entry is one consolidated (path, kind) observation. Entries keep
// their position from first observation; later events may upgrade the
// kind in place or tombstone the entry, but never reorder.
type entry struct {
	kind tracer.EventKind
	path string
	dead bool
}

// Consolidator folds a session's resolved file events into the final
// input/output/error sets. A path a program itself produced is not an
// input; a path it produced and removed again is invisible; a path it
// removed without producing it must be reported so consumers can
// invalidate it.
type Consolidator struct {
	entries []entry

	inputs  map[string]int
	outputs map[string]int
	deleted map[string]int
	errSeen map[string]struct{}

	incomplete bool
}

func NewConsolidator() *Consolidator {
	return &Consolidator{
		inputs:  make(map[string]int),
		outputs: make(map[string]int),
		deleted: make(map[string]int),
		errSeen: make(map[string]struct{}),
	}
}

// FileEvent records one resolved event. It implements resolve.Sink.
func (c *Consolidator) FileEvent(kind tracer.EventKind, path string) {
	switch kind {
	case tracer.KindRead:
		// Reading back a file the program wrote itself only observes
		// the program's own work, never an external dependency.
		if _, ok := c.outputs[path]; ok {
			return
		}

		if _, ok := c.inputs[path]; ok {
			return
		}

		c.add(tracer.KindRead, path, c.inputs)

	case tracer.KindReadDirectory:
		if _, ok := c.outputs[path]; ok {
			return
		}

		if i, ok := c.inputs[path]; ok {
			c.entries[i].kind = tracer.KindReadDirectory

			return
		}

		c.add(tracer.KindReadDirectory, path, c.inputs)

	case tracer.KindWrite:
		// A prior read of the path stays recorded: the program saw
		// the old contents before replacing parts of them.
		if _, ok := c.outputs[path]; ok {
			return
		}

		c.add(tracer.KindWrite, path, c.outputs)

	case tracer.KindCreate:
		// Creation supersedes everything known about the path: any
		// earlier read saw contents that no longer exist, and an
		// earlier deletion is subsumed.
		if i, ok := c.inputs[path]; ok {
			c.entries[i].dead = true
			delete(c.inputs, path)
		}

		if i, ok := c.deleted[path]; ok {
			c.entries[i].dead = true
			delete(c.deleted, path)
		}

		if i, ok := c.outputs[path]; ok {
			c.entries[i].kind = tracer.KindCreate

			return
		}

		c.add(tracer.KindCreate, path, c.outputs)

	case tracer.KindDelete:
		// Deleting a session-produced output makes the path
		// ephemeral; it vanishes from the report entirely.
		if i, ok := c.outputs[path]; ok {
			c.entries[i].dead = true
			delete(c.outputs, path)

			return
		}

		if _, ok := c.deleted[path]; ok {
			return
		}

		c.add(tracer.KindDelete, path, c.deleted)

	case tracer.KindFatalError:
		if _, ok := c.errSeen[path]; ok {
			return
		}

		c.errSeen[path] = struct{}{}
		c.entries = append(c.entries, entry{
			kind: tracer.KindFatalError, path: path,
		})
	}
}

func (c *Consolidator) add(kind tracer.EventKind, path string, index map[string]int) {
	index[path] = len(c.entries)
	c.entries = append(c.entries, entry{kind: kind, path: path})
}

// MarkIncomplete flags the session as affected by dropped kernel
// records.
func (c *Consolidator) MarkIncomplete() {
	c.incomplete = true
}

// Finalize produces the session's report. The consolidator can keep
// receiving events afterwards, but callers are expected to finalize
// exactly once, after the last member thread exited.
func (c *Consolidator) Finalize() *report.TraceResult {
	res := &report.TraceResult{Incomplete: c.incomplete}

	for _, e := range c.entries {
		if e.dead {
			continue
		}

		switch e.kind {
		case tracer.KindRead:
			res.Inputs = append(res.Inputs, report.Input{Path: e.path})
		case tracer.KindReadDirectory:
			res.Inputs = append(res.Inputs, report.Input{
				Path: e.path, DirectoryListing: true,
			})
		case tracer.KindWrite:
			res.Outputs = append(res.Outputs, report.Output{
				Path: e.path, Overwritten: true,
			})
		case tracer.KindCreate:
			res.Outputs = append(res.Outputs, report.Output{Path: e.path})
		case tracer.KindDelete:
			res.Outputs = append(res.Outputs, report.Output{
				Path: e.path, Deleted: true,
			})
		case tracer.KindFatalError:
			res.Errors = append(res.Errors, e.path)
		}

		res.Events = append(res.Events, report.Event{
			Kind: e.kind.String(), Path: e.path,
		})
	}

	return res
}
