//go:build !darwin && !linux

package kernel

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

type stubReader struct {
	log logrus.FieldLogger
}

// NewReader creates a kernel event reader.
// On unsupported platforms, this returns a stub that errors on Start.
func NewReader(log logrus.FieldLogger, _ Config) Reader {
	return &stubReader{
		log: log.WithField("component", "kernel_reader"),
	}
}

func (r *stubReader) OnRecords(RecordHandler) {}

func (r *stubReader) OnOverflow(OverflowHandler) {}

func (r *stubReader) Start(_ context.Context) error {
	return fmt.Errorf("kernel tracing is not supported on this platform")
}

func (r *stubReader) Stop() error {
	return nil
}
