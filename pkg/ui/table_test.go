package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableRender(t *testing.T) {
	tbl := NewTable("NAME", "STATUS")
	tbl.Row("app-7d9f", "Running")
	tbl.Row("postgres-0", "Pending")

	var buf bytes.Buffer
	require.NoError(t, tbl.Render(&buf))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "NAME        STATUS", lines[0])
	assert.Equal(t, "app-7d9f    Running", lines[1])
	assert.Equal(t, 2, tbl.Len())
}

func TestAge(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{3 * time.Hour, "3h"},
		{50 * time.Hour, "2d"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Age(tt.d))
		})
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"yes", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			assert.Equal(t, tt.want, Confirm(strings.NewReader(tt.input), &out, "Continue?"))
			assert.Contains(t, out.String(), "Continue? [y/N]: ")
		})
	}
}
