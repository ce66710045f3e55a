package env

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/illumination-k/forgectl/pkg/deployerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckEnvFile(t *testing.T) {
	tests := []struct {
		name        string
		files       map[string]string
		want        map[string]string
		wantMessage string
		wantDetails string
	}{
		{
			name:  "valid file",
			files: map[string]string{".env": "# Comment\nDATABASE_URL=postgres://db\n\nAPP_NAME=\"api forge\"\n"},
			want:  map[string]string{"DATABASE_URL": "postgres://db", "APP_NAME": "api forge"},
		},
		{
			name:        "missing without example",
			files:       map[string]string{},
			wantMessage: ".env file not found",
			wantDetails: "touch .env",
		},
		{
			name:        "missing with example",
			files:       map[string]string{".env.example": "A=1\n"},
			wantMessage: ".env file not found",
			wantDetails: "cp .env.example .env",
		},
		{
			name:        "malformed",
			files:       map[string]string{".env": "INVALID LINE WITHOUT EQUALS\n"},
			wantMessage: "Failed to parse .env",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
			}

			vars, err := CheckEnvFile(dir)
			if tt.wantMessage == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.want, vars)
				return
			}

			require.Error(t, err)
			derr, ok := deployerr.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantMessage, derr.Message)
			assert.Contains(t, derr.Details, tt.wantDetails)
		})
	}
}

func TestValidateVarName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"VALID_NAME", false},
		{"_PRIVATE", false},
		{"lower_case", false},
		{"1STARTS_WITH_DIGIT", true},
		{"HAS-DASH", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVarName(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSecretSize(t *testing.T) {
	assert.NoError(t, ValidateSecretSize(map[string]string{"A": "small"}))
	assert.Error(t, ValidateSecretSize(map[string]string{"BIG": strings.Repeat("x", MaxSecretSize)}))
}
