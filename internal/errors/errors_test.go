package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFedErrorError(t *testing.T) {
	tests := []struct {
		name     string
		err      *FedError
		expected string
	}{
		{
			name:     "message only",
			err:      &FedError{Message: "boom"},
			expected: "boom",
		},
		{
			name: "code component and location",
			err: &FedError{
				Code:      "ERR_X",
				Component: "styletree",
				FilePath:  "/apps/site/main.less",
				Line:      12,
				Column:    3,
				Message:   "cannot read",
			},
			expected: "[ERR_X] component:styletree /apps/site/main.less:12:3 cannot read",
		},
		{
			name: "location without column",
			err: &FedError{
				FilePath: "a.js",
				Line:     4,
				Message:  "bad",
				Cause:    fmt.Errorf("eof"),
			},
			expected: "a.js:4 bad: eof",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestNetworkErrorIsRecoverable(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewNetworkError("fetch", "http://localhost:4502/x", cause)

	assert.True(t, IsRecoverable(err))
	assert.True(t, IsType(err, ErrorTypeNetwork))
	assert.Equal(t, "ERR_NETWORK_FETCH", err.Code)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "http://localhost:4502/x", err.Context["endpoint"])
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeIO, "X", "y"))

	inner := NewIOError("ERR_READ", "read failed", fmt.Errorf("denied")).
		WithLocation("/tmp/a.less", 2, 0).
		WithComponent("styletree")
	outer := Wrap(inner, ErrorTypeInternal, "ERR_OUTER", "outer")

	require.NotNil(t, outer)
	assert.Equal(t, "styletree", outer.Component)
	assert.Equal(t, "/tmp/a.less", outer.FilePath)
	assert.Equal(t, 2, outer.Line)

	var fe *FedError
	require.True(t, errors.As(outer.Unwrap(), &fe))
	assert.Equal(t, "ERR_READ", fe.Code)
}

func TestWrapVariants(t *testing.T) {
	base := fmt.Errorf("x")

	assert.False(t, WrapIO(base, "A", "b").Recoverable)
	assert.True(t, WrapNetwork(base, "A", "b").Recoverable)

	fileErr := WrapFile(base, "READ", "/x/css.txt")
	assert.Equal(t, "/x/css.txt", fileErr.FilePath)
	assert.Equal(t, "ERR_FILE_READ", fileErr.Code)
	assert.True(t, IsType(fileErr, ErrorTypeIO))
}

func TestIs(t *testing.T) {
	a := NewResolveError("/etc.clientlibs/x", "no target")
	b := NewResolveError("/other", "different message")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, NewParseError("ERR_RESOLVE", "x")))
	assert.False(t, IsRecoverable(fmt.Errorf("plain")))
}
