package ldmerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		want string
	}{
		{"internal", Internal, "Internal"},
		{"io", Io, "Io"},
		{"not ldm", NotLdm, "NotLdm"},
		{"invalid", Invalid, "Invalid"},
		{"inconsistent", Inconsistent, "Inconsistent"},
		{"not supported", NotSupported, "NotSupported"},
		{"missing disk", MissingDisk, "MissingDisk"},
		{"external", External, "External"},
		{"unknown", Kind(99), "Unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.kind.String())
		})
	}
}

func TestNewAndError(t *testing.T) {
	err := New(Invalid, "bad magic at offset %d", 1024)
	require.Error(t, err)
	assert.Equal(t, "Invalid: bad magic at offset 1024", err.Error())
	assert.Equal(t, Invalid, err.Kind)
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("short read")
	err := Wrap(Io, cause, "reading sector 6")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "short read")
}

func TestIsMatchesByKind(t *testing.T) {
	a := New(NotLdm, "no MBR signature")
	b := New(NotLdm, "no GPT LDM partition")
	c := New(Invalid, "bad tocblock")

	assert.True(t, errors.Is(a, OfKind(NotLdm)))
	assert.True(t, errors.Is(b, OfKind(NotLdm)))
	assert.False(t, errors.Is(c, OfKind(NotLdm)))
}

func TestKindOf(t *testing.T) {
	err := New(Inconsistent, "sequence mismatch")
	assert.Equal(t, Inconsistent, KindOf(err))

	wrapped := fmt.Errorf("add_device: %w", err)
	assert.Equal(t, Inconsistent, KindOf(wrapped))

	assert.Equal(t, Internal, KindOf(errors.New("some other error")))
}
