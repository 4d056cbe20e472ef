package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordFunctionBits(t *testing.T) {
	tests := []struct {
		name  string
		code  uint32
		typ   uint32
		begin bool
		end   bool
	}{
		{name: "entry", code: 0x040c0014 | FuncStart, typ: 0x040c0014, begin: true},
		{name: "exit", code: 0x040c0014 | FuncEnd, typ: 0x040c0014, end: true},
		{name: "standalone", code: 0x07000004, typ: 0x07000004},
		{name: "both bits", code: 0x03010090 | FuncStart | FuncEnd, typ: 0x03010090, begin: true, end: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Record{Code: tt.code}

			assert.Equal(t, tt.typ, r.Type())
			assert.Equal(t, tt.begin, r.Begin())
			assert.Equal(t, tt.end, r.End())
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	assert.Equal(t, 60000, DefaultConfig().BufferSizePerCPU)
}
