//go:build darwin

package kernel

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/sirupsen/logrus"
)

// kdebug sysctl selectors, from <sys/sysctl.h> and <sys/kdebug.h>.
const (
	ctlKern    = 1
	kernKdebug = 59

	kernKdEnable        = 3
	kernKdSetBuf        = 4
	kernKdGetBuf        = 5
	kernKdSetup         = 6
	kernKdRemove        = 7
	kernKdSetReg        = 8
	kernKdReadTr        = 10
	kernKdSetTypefilter = 22

	kdbgRangetype = 4
	kdbgWrapped   = 0x008

	typefilterBitmapSize = 4096
)

// Kernel trace classes admitted by the typefilter. Everything else is
// filtered kernel-side so the trace buffer is not flooded by unrelated
// machine activity.
const (
	dbgTrace       = 0x07
	dbgTraceData   = 0x00
	dbgTraceString = 0x01
	dbgMach        = 0x01
	dbgMachExcpSC  = 0x0c
	dbgFsystem     = 0x03
	dbgFsRW        = 0x01
	dbgBSD         = 0x04
	dbgBSDExcpSC   = 0x0c
	dbgBSDProc     = 0x04
	filemgrClass   = 0x1e
)

// kdBuf mirrors the 64-bit kernel kd_buf layout (64 bytes).
type kdBuf struct {
	timestamp uint64
	arg1      uint64
	arg2      uint64
	arg3      uint64
	arg4      uint64
	arg5      uint64 // thread id
	debugid   uint32
	cpuid     uint32
	unused    uint64
}

// kbufinfo mirrors the kernel kbufinfo_t layout.
type kbufinfo struct {
	nkdbufs    int32
	nolog      int32
	flags      uint32
	nkdthreads int32
	bufid      int32
}

type kdebugReader struct {
	log        logrus.FieldLogger
	cfg        Config
	onRecords  RecordHandler
	onOverflow OverflowHandler

	buf     []kdBuf
	out     []Record
	cancel  context.CancelFunc
	claimed bool
	wg      sync.WaitGroup
}

// NewReader creates a kernel event reader backed by the kdebug trace
// facility. Claiming the facility requires root.
func NewReader(log logrus.FieldLogger, cfg Config) Reader {
	size := cfg.BufferSizePerCPU * runtime.NumCPU()

	return &kdebugReader{
		log: log.WithField("component", "kernel_reader"),
		cfg: cfg,
		buf: make([]kdBuf, size),
		out: make([]Record, 0, size),
	}
}

func (r *kdebugReader) OnRecords(handler RecordHandler) {
	r.onRecords = handler
}

func (r *kdebugReader) OnOverflow(handler OverflowHandler) {
	r.onOverflow = handler
}

func (r *kdebugReader) Start(ctx context.Context) error {
	if err := r.claim(); err != nil {
		return err
	}

	r.claimed = true

	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)

	go r.pump(ctx)

	r.log.WithField("buffer_records", len(r.buf)).
		Info("Kernel trace facility claimed")

	return nil
}

func (r *kdebugReader) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}

	r.wg.Wait()

	if r.claimed {
		r.claimed = false

		if err := r.remove(); err != nil {
			return fmt.Errorf("releasing kdebug facility: %w", err)
		}
	}

	r.log.Info("Kernel trace facility released")

	return nil
}

// claim configures and enables kdebug tracing. An EBUSY here means
// another tracer owns the machine-wide facility; that is fatal to the
// whole engine per the single-reader rule.
func (r *kdebugReader) claim() error {
	// Clear any stale setup first. EBUSY means another tracer owns
	// the facility right now.
	if err := kdSysctlSet(kernKdRemove); err == syscall.EBUSY {
		return fmt.Errorf("kdebug tracing is already in use: %w", err)
	}

	if err := kdSysctlVal(kernKdSetBuf, len(r.buf)); err != nil {
		return fmt.Errorf("KERN_KDSETBUF: %w", err)
	}

	if err := kdSysctlSet(kernKdSetup); err != nil {
		return fmt.Errorf("KERN_KDSETUP: %w", err)
	}

	kr := struct {
		typ    uint32
		value1 uint32
		value2 uint32
		value3 uint32
		value4 uint32
	}{typ: kdbgRangetype, value2: ^uint32(0)}

	krLen := unsafe.Sizeof(kr)
	if err := kdSysctlPtr(
		kernKdSetReg, unsafe.Pointer(&kr), &krLen,
	); err != nil {
		return fmt.Errorf("KERN_KDSETREG: %w", err)
	}

	if err := r.setTypefilter(); err != nil {
		return fmt.Errorf("KERN_KDSET_TYPEFILTER: %w", err)
	}

	if err := kdSysctlVal(kernKdEnable, 1); err != nil {
		return fmt.Errorf("KERN_KDENABLE: %w", err)
	}

	return nil
}

func (r *kdebugReader) remove() error {
	return kdSysctlSet(kernKdRemove)
}

func (r *kdebugReader) setTypefilter() error {
	var filter [typefilterBitmapSize]byte

	set := func(class, subclass int) {
		idx := (class&0xff)<<8 | subclass&0xff
		filter[idx/8] |= 1 << (idx % 8)
	}

	set(dbgTrace, dbgTraceData)
	set(dbgTrace, dbgTraceString)
	set(dbgMach, dbgMachExcpSC)
	set(dbgFsystem, dbgFsRW)
	set(dbgBSD, dbgBSDExcpSC)
	set(dbgBSD, dbgBSDProc)
	set(filemgrClass, 0)
	set(filemgrClass, 1)

	length := uintptr(len(filter))

	return kdSysctlPtr(
		kernKdSetTypefilter, unsafe.Pointer(&filter[0]), &length,
	)
}

// pump polls the kernel trace buffer in a loop, adapting its sleep
// interval to how full the buffer is so a busy machine is drained
// promptly without spinning when idle.
func (r *kdebugReader) pump(ctx context.Context) {
	defer r.wg.Done()

	const (
		sleepMin = 1 * time.Millisecond
		sleepMax = 32 * time.Millisecond
	)

	sleep := sleepMin

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}

		count, wrapped, err := r.readTrace()
		if err != nil {
			r.log.WithError(err).Warn("Kernel trace read error")

			continue
		}

		if wrapped {
			r.log.Warn("Kernel trace buffer wrapped, records lost")

			if r.onOverflow != nil {
				r.onOverflow()
			}
		}

		if count > 0 {
			r.out = r.out[:0]

			for i := 0; i < count; i++ {
				kd := &r.buf[i]
				r.out = append(r.out, Record{
					Timestamp: kd.timestamp,
					Code:      kd.debugid,
					Args:      [4]uint64{kd.arg1, kd.arg2, kd.arg3, kd.arg4},
					ThreadID:  kd.arg5,
				})
			}

			if r.onRecords != nil && r.onRecords(r.out) {
				return
			}
		}

		// Drain faster while the buffer is filling up.
		switch {
		case count > len(r.buf)/8:
			sleep = sleepMin
		case count < len(r.buf)/16 && sleep < sleepMax:
			sleep *= 2
		}
	}
}

func (r *kdebugReader) readTrace() (int, bool, error) {
	var info kbufinfo

	infoLen := unsafe.Sizeof(info)
	if err := kdSysctlPtr(
		kernKdGetBuf, unsafe.Pointer(&info), &infoLen,
	); err != nil {
		return 0, false, fmt.Errorf("KERN_KDGETBUF: %w", err)
	}

	wrapped := info.flags&kdbgWrapped != 0

	length := uintptr(info.nkdbufs) * unsafe.Sizeof(kdBuf{})
	if length == 0 {
		return 0, wrapped, nil
	}

	if err := kdSysctlPtr(
		kernKdReadTr, unsafe.Pointer(&r.buf[0]), &length,
	); err != nil {
		return 0, wrapped, fmt.Errorf("KERN_KDREADTR: %w", err)
	}

	// KERN_KDREADTR takes a byte length in but reports the number of
	// records out.
	count := int(length)
	if count > len(r.buf) {
		count = len(r.buf)
	}

	return count, wrapped, nil
}

func kdSysctlSet(op int) error {
	return kdSysctlPtr(op, nil, nil)
}

func kdSysctlVal(op, value int) error {
	mib := [4]int32{ctlKern, kernKdebug, int32(op), int32(value)}

	return sysctlRaw(mib[:], nil, nil)
}

func kdSysctlPtr(op int, old unsafe.Pointer, oldLen *uintptr) error {
	mib := [3]int32{ctlKern, kernKdebug, int32(op)}

	return sysctlRaw(mib[:], old, oldLen)
}

func sysctlRaw(mib []int32, old unsafe.Pointer, oldLen *uintptr) error {
	_, _, errno := syscall.Syscall6(
		syscall.SYS___SYSCTL,
		uintptr(unsafe.Pointer(&mib[0])),
		uintptr(len(mib)),
		uintptr(old),
		uintptr(unsafe.Pointer(oldLen)),
		0,
		0,
	)
	if errno != 0 {
		return errno
	}

	return nil
}
