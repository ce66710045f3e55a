package deployerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeploymentError_As(t *testing.T) {
	base := New("Helm deployment failed", "Check pods:\nkubectl get pods -n api-forge-prod")
	wrapped := fmt.Errorf("deploy: %w", base)

	de, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, "Helm deployment failed", de.Message)

	_, ok = As(errors.New("plain"))
	assert.False(t, ok)
}

func TestWrap_KeepsCause(t *testing.T) {
	cause := errors.New("exit status 1")
	err := Wrap(cause, "failed to apply secrets", "")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to apply secrets: exit status 1", err.Error())
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: "boom",
		},
		{
			name: "deployment error without details",
			err:  New("registry required", ""),
			want: "registry required",
		},
		{
			name: "deployment error with details",
			err:  New("registry required", "Use --registry\nExample: --registry ghcr.io/me"),
			want: "registry required\n\n  Use --registry\n  Example: --registry ghcr.io/me",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.err))
		})
	}
}
