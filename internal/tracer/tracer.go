package tracer

import (
	"github.com/sirupsen/logrus"

	"github.com/incbuild/fstrace/internal/kernel"
)

// Tracer turns the raw kernel record stream into classified file
// access events on a Delegate. Records arrive batched and strictly
// ordered per thread; the tracer keeps the in-flight syscall state
// needed to pair entry and exit records and to attach the kernel's
// path lookups to the right call.
type Tracer struct {
	log      logrus.FieldLogger
	delegate Delegate
	calls    *callMap
}

func New(log logrus.FieldLogger, delegate Delegate) *Tracer {
	return &Tracer{
		log:      log.WithField("component", "tracer"),
		delegate: delegate,
		calls:    newCallMap(),
	}
}

// HandleRecords consumes one batch from the kernel reader. It reports
// true once the delegate signals that tracing should stop, matching
// the kernel.RecordHandler contract.
func (t *Tracer) HandleRecords(recs []kernel.Record) bool {
	for i := range recs {
		if t.handleRecord(&recs[i]) {
			return true
		}
	}

	return false
}

func (t *Tracer) handleRecord(rec *kernel.Record) (stop bool) {
	typ := rec.Type()
	thread := rec.ThreadID

	switch typ {
	case traceDataNewthread:
		if child := rec.Args[0]; child != 0 {
			t.delegate.NewThread(int(int32(rec.Args[1])), thread, child)
		}

		return false

	case traceStringExec:
		// The kernel emits this once the new image is in place, after
		// either execve or posix_spawn with the set-exec flag. Treat
		// it as a successful exit of whichever of the two is in
		// flight; the later real exit record then finds nothing.
		if !t.finishExec(thread, bscExecve) {
			t.finishExec(thread, bscPosixSpawn)
		}

		return false

	case bscThreadTerminate:
		return t.delegate.TerminateThread(thread)

	case vfsLookup:
		if pc := t.calls.findLast(thread); pc != nil {
			pc.addLookupChunk(rec.Args, rec.Begin(), rec.End())
		}

		return false
	}

	// Carbon FileManager calls bypass the BSD syscall layer, so their
	// arguments cannot be decoded here.
	if typ&cscMask == filemgrBase {
		if rec.Begin() {
			t.delegate.FileEvent(
				thread, KindFatalError, AtFDCWD,
				"legacy Carbon FileManager event")
		}

		return false
	}

	if !tracedSyscall(typ) {
		return false
	}

	if rec.Begin() {
		t.calls.add(thread, typ, rec.Args)

		return false
	}

	if rec.End() {
		t.finish(thread, typ, rec.Args, typ)
	}

	return false
}

// finishExec completes a pending exec-family call on the string-exec
// marker. Without a captured pathname there is nothing to report yet;
// the call stays pending for its real exit record.
func (t *Tracer) finishExec(thread uint64, code uint32) bool {
	pc := t.calls.find(thread, code)
	if pc == nil || pc.path(0) == "" {
		return false
	}

	return t.finish(thread, code, [4]uint64{}, bscExecve)
}

// finish completes the pending entry record for (thread, code),
// classifying it with the handler registered for handlerCode. It
// reports whether a pending call existed.
func (t *Tracer) finish(thread uint64, code uint32, exit [4]uint64, handlerCode uint32) bool {
	pc := t.calls.find(thread, code)
	if pc == nil {
		return false
	}

	defer t.calls.erase(thread, code)

	handler := handlers[handlerCode]
	if handler == nil {
		return true
	}

	c := &call{
		thread:  thread,
		args:    pc.args,
		success: exit[0] == 0,
		ret:     exit[1],
		path1:   trimLookup(pc.path(0)),
		path2:   trimLookup(pc.path(1)),
	}

	// The kernel reports a lookup of the root directory as an empty
	// string.
	if c.path1 == "" {
		c.path1 = "/"
	}

	for _, ev := range handler(c, t.delegate) {
		kind := ev.kind
		if !c.success && kind.Modifies() {
			// A failed call cannot have modified anything, but the
			// attempt still observed the paths involved.
			kind = KindRead
		}

		t.delegate.FileEvent(thread, kind, c.fd(ev.at), ev.path)
	}

	return true
}

// trimLookup strips the '>' padding the kernel appends to fill the
// last word of a captured lookup path.
func trimLookup(s string) string {
	i := len(s)
	for i > 0 && s[i-1] == '>' {
		i--
	}

	if i == 0 {
		return s
	}

	return s[:i]
}
