package tracer

// A syscall can trigger at most two path lookups that matter to the
// classifier (rename, link and friends). Each lookup's path arrives in
// 8-byte chunks packed into record argument words, up to maxLookupLen
// bytes.
const (
	maxLookups   = 2
	maxLookupLen = 23 * 8
)

// pendingCall holds the state of a syscall between its begin and end
// records: the entry arguments and the kernel path lookups observed
// while it was in flight.
type pendingCall struct {
	code uint32
	args [4]uint64

	lookups    [maxLookups][]byte
	nLookups   int
	collecting bool
}

// path returns the i'th captured lookup path.
func (p *pendingCall) path(i int) string {
	if i >= maxLookups {
		return ""
	}

	b := p.lookups[i]
	for j, c := range b {
		if c == 0 {
			return string(b[:j])
		}
	}

	return string(b)
}

// addLookupChunk appends argument words from a VFS lookup record to
// the active pathname buffer. begin starts a fresh lookup (the first
// word of a begin record is the vnode id, not path data); end seals
// it. Chunks past the lookup limit or buffer capacity are dropped, the
// way the kernel-side buffer is bounded.
func (p *pendingCall) addLookupChunk(args [4]uint64, begin, end bool) {
	if begin {
		if p.nLookups >= maxLookups {
			p.collecting = false

			return
		}

		p.lookups[p.nLookups] = appendWords(
			p.lookups[p.nLookups][:0], args[1:],
		)
		p.collecting = true
	} else if p.collecting {
		buf := p.lookups[p.nLookups]
		if len(buf) < maxLookupLen {
			p.lookups[p.nLookups] = appendWords(buf, args[:])
		}
	}

	if end && p.collecting {
		p.nLookups++
		p.collecting = false
	}
}

func appendWords(dst []byte, words []uint64) []byte {
	for _, w := range words {
		for i := 0; i < 8; i++ {
			dst = append(dst, byte(w>>(8*i)))
		}
	}

	return dst
}

// callMap tracks in-flight syscalls per thread. The kernel can nest
// records (a VFS lookup arrives between a syscall's begin and end), so
// lookups attach to the thread's most recent pending call.
type callMap struct {
	calls map[uint64]map[uint32]*pendingCall
	last  map[uint64]uint32
}

func newCallMap() *callMap {
	return &callMap{
		calls: make(map[uint64]map[uint32]*pendingCall),
		last:  make(map[uint64]uint32),
	}
}

// add registers a new in-flight call, replacing any stale one with the
// same code.
func (m *callMap) add(thread uint64, code uint32, args [4]uint64) *pendingCall {
	perThread := m.calls[thread]
	if perThread == nil {
		perThread = make(map[uint32]*pendingCall, 2)
		m.calls[thread] = perThread
	}

	call := &pendingCall{code: code, args: args}
	perThread[code] = call
	m.last[thread] = code

	return call
}

// find returns the thread's in-flight call with the given code, or nil.
func (m *callMap) find(thread uint64, code uint32) *pendingCall {
	return m.calls[thread][code]
}

// findLast returns the most recently begun in-flight call for the
// thread, or nil.
func (m *callMap) findLast(thread uint64) *pendingCall {
	return m.calls[thread][m.last[thread]]
}

// erase drops a finished call.
func (m *callMap) erase(thread uint64, code uint32) {
	perThread := m.calls[thread]
	if perThread == nil {
		return
	}

	delete(perThread, code)

	if len(perThread) == 0 {
		delete(m.calls, thread)
		delete(m.last, thread)
	}
}
