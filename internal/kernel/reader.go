package kernel

import "context"

// RecordHandler consumes a batch of trace records in kernel order.
// Returning true tells the reader to stop.
type RecordHandler func(records []Record) bool

// OverflowHandler is called when the kernel reports that its trace
// buffer wrapped and records were lost.
type OverflowHandler func()

// Reader pulls raw trace records from the system-wide kernel trace
// facility. At most one Reader can be active on a machine; Start fails
// if the facility is already claimed or the process lacks privilege.
type Reader interface {
	// Start claims the kernel facility and begins delivering records
	// on a dedicated goroutine. Delivery order follows kernel order.
	Start(ctx context.Context) error
	// Stop releases the facility and waits for delivery to drain.
	Stop() error
	// OnRecords registers the handler for record batches. Must be
	// called before Start.
	OnRecords(handler RecordHandler)
	// OnOverflow registers the handler for kernel buffer overflows.
	OnOverflow(handler OverflowHandler)
}

// Config configures the kernel event reader.
type Config struct {
	// BufferSizePerCPU is the number of trace records the kernel
	// buffer holds per CPU. Defaults to 60000, matching fs_usage.
	BufferSizePerCPU int `yaml:"buffer_size_per_cpu"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSizePerCPU: 60000,
	}
}
