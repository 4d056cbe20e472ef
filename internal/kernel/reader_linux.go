//go:build linux

package kernel

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/sirupsen/logrus"
)

// recordSize is the wire size of one BPF-emitted trace record:
// timestamp, 4 args, thread id (8 bytes each) plus the 4-byte code.
const recordSize = 8*6 + 4 + 4

type ebpfReader struct {
	log        logrus.FieldLogger
	cfg        Config
	onRecords  RecordHandler
	onOverflow OverflowHandler

	objs   *fstraceObjects
	links  []link.Link
	reader *ringbuf.Reader
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReader creates a kernel event reader backed by eBPF raw
// tracepoints. The BPF side normalizes Linux syscall numbers into the
// engine's canonical syscall code vocabulary and emits path lookup
// records the same way the darwin facility does.
func NewReader(log logrus.FieldLogger, cfg Config) Reader {
	return &ebpfReader{
		log: log.WithField("component", "kernel_reader"),
		cfg: cfg,
	}
}

func (r *ebpfReader) OnRecords(handler RecordHandler) {
	r.onRecords = handler
}

func (r *ebpfReader) OnOverflow(handler OverflowHandler) {
	r.onOverflow = handler
}

func (r *ebpfReader) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	spec, err := loadFstrace()
	if err != nil {
		return fmt.Errorf("loading BPF spec: %w", err)
	}

	// Size the ring buffer from config. One reader machine-wide: a
	// second Start in another process fails attaching the raw
	// tracepoints with EBUSY.
	for name, m := range spec.Maps {
		if name == "records" {
			m.MaxEntries = uint32(r.cfg.BufferSizePerCPU * recordSize)
		}
	}

	r.objs = &fstraceObjects{}
	if err := spec.LoadAndAssign(r.objs, nil); err != nil {
		return fmt.Errorf("loading BPF objects: %w", err)
	}

	if err := r.attach(); err != nil {
		r.cleanup()

		return fmt.Errorf("attaching BPF programs: %w", err)
	}

	r.reader, err = ringbuf.NewReader(r.objs.Records)
	if err != nil {
		r.cleanup()

		return fmt.Errorf("creating ring buffer reader: %w", err)
	}

	r.wg.Add(1)

	go r.readLoop(ctx)

	r.log.Info("BPF kernel reader started")

	return nil
}

func (r *ebpfReader) Stop() error {
	if r.cancel != nil {
		r.cancel()
	}

	if r.reader != nil {
		r.reader.Close()
	}

	r.wg.Wait()
	r.cleanup()

	r.log.Info("BPF kernel reader stopped")

	return nil
}

func (r *ebpfReader) attach() error {
	var err error

	attach := func(name string, l link.Link, attachErr error) {
		if err != nil {
			return
		}

		if attachErr != nil {
			err = fmt.Errorf("attaching %s: %w", name, attachErr)

			return
		}

		r.links = append(r.links, l)

		r.log.WithField("name", name).Debug("Attached BPF program")
	}

	l, e := link.AttachRawTracepoint(link.RawTracepointOptions{
		Name: "sys_enter", Program: r.objs.TraceSysEnter,
	})
	attach("raw_tracepoint/sys_enter", l, e)

	l, e = link.AttachRawTracepoint(link.RawTracepointOptions{
		Name: "sys_exit", Program: r.objs.TraceSysExit,
	})
	attach("raw_tracepoint/sys_exit", l, e)

	l, e = link.Tracepoint(
		"sched", "sched_process_fork", r.objs.TraceSchedProcessFork, nil,
	)
	attach("tracepoint/sched_process_fork", l, e)

	l, e = link.Tracepoint(
		"sched", "sched_process_exit", r.objs.TraceSchedProcessExit, nil,
	)
	attach("tracepoint/sched_process_exit", l, e)

	return err
}

func (r *ebpfReader) readLoop(ctx context.Context) {
	defer r.wg.Done()

	batch := make([]Record, 0, 256)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rec, err := r.reader.Read()
		if err != nil {
			if errors.Is(err, os.ErrClosed) {
				return
			}

			r.log.WithError(err).Warn("Ring buffer read error")

			continue
		}

		// The BPF ring buffer rejects writes when full instead of
		// wrapping; drops are counted kernel-side and never surface
		// here as damaged records.
		record, err := parseRecord(rec.RawSample)
		if err != nil {
			r.log.WithError(err).Debug("Record parse error")

			continue
		}

		batch = append(batch[:0], record)

		if r.onRecords != nil && r.onRecords(batch) {
			return
		}
	}
}

func parseRecord(data []byte) (Record, error) {
	if len(data) < recordSize {
		return Record{}, fmt.Errorf("record too short: %d bytes", len(data))
	}

	var raw struct {
		Timestamp uint64
		Args      [4]uint64
		ThreadID  uint64
		Code      uint32
		Pad       [4]byte
	}

	reader := bytes.NewReader(data)
	if err := binary.Read(reader, binary.LittleEndian, &raw); err != nil {
		return Record{}, fmt.Errorf("reading trace record: %w", err)
	}

	return Record{
		Timestamp: raw.Timestamp,
		Code:      raw.Code,
		Args:      raw.Args,
		ThreadID:  raw.ThreadID,
	}, nil
}

func (r *ebpfReader) cleanup() {
	for _, l := range r.links {
		l.Close()
	}

	r.links = nil

	if r.objs != nil {
		r.objs.Close()
		r.objs = nil
	}
}
