package kernel

// Record is one raw kernel trace record. It mirrors the shape the
// kernel hands out: a timestamp, a debug code identifying the traced
// point plus begin/end function bits, up to four argument words, and
// the id of the thread that produced it.
type Record struct {
	Timestamp uint64
	Code      uint32
	Args      [4]uint64
	ThreadID  uint64
}

// Function bits carried in the low two bits of Code.
const (
	FuncStart = 0x1
	FuncEnd   = 0x2
	funcMask  = 0xfffffffc
)

// Type returns the record's code with the function bits masked off.
func (r Record) Type() uint32 {
	return r.Code & funcMask
}

// Begin reports whether this record marks syscall entry.
func (r Record) Begin() bool {
	return r.Code&FuncStart != 0
}

// End reports whether this record marks syscall exit.
func (r Record) End() bool {
	return r.Code&FuncEnd != 0
}
