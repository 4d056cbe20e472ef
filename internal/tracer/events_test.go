package tracer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventKindString(t *testing.T) {
	tests := []struct {
		kind EventKind
		want string
	}{
		{KindRead, "read"},
		{KindReadDirectory, "read_directory"},
		{KindWrite, "write"},
		{KindCreate, "create"},
		{KindDelete, "delete"},
		{KindFatalError, "fatal_error"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}

func TestEventKindModifies(t *testing.T) {
	assert.False(t, KindRead.Modifies())
	assert.False(t, KindFatalError.Modifies())
	assert.True(t, KindWrite.Modifies())
	assert.True(t, KindCreate.Modifies())
	assert.True(t, KindDelete.Modifies())
	assert.True(t, KindReadDirectory.Modifies())
}
