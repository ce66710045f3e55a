package git

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) (string, string) {
	t.Helper()

	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('hi')\n"), 0o600))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("main.py")
	require.NoError(t, err)

	hash, err := wt.Commit("initial", &gogit.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	return dir, hash.String()
}

func TestStatus_CleanRepository(t *testing.T) {
	dir, hash := initRepo(t)

	st, err := NewStatusReader().Status(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, st.IsRepo)
	assert.True(t, st.IsClean)
	assert.Equal(t, hash[:7], st.ShortSHA)
}

func TestStatus_DirtyRepository(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, dir string)
	}{
		{
			name: "modified tracked file",
			mutate: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('changed')\n"), 0o600))
			},
		},
		{
			name: "untracked file",
			mutate: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "new.py"), []byte("x = 1\n"), 0o600))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, _ := initRepo(t)
			tt.mutate(t, dir)

			st, err := NewStatusReader().Status(context.Background(), dir)
			require.NoError(t, err)
			assert.True(t, st.IsRepo)
			assert.False(t, st.IsClean)
		})
	}
}

func TestStatus_Subdirectory(t *testing.T) {
	dir, hash := initRepo(t)
	sub := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(sub, 0o750))

	st, err := NewStatusReader().Status(context.Background(), sub)
	require.NoError(t, err)
	assert.True(t, st.IsRepo)
	assert.Equal(t, hash[:7], st.ShortSHA)
}

func TestStatus_NotARepository(t *testing.T) {
	st, err := NewStatusReader().Status(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.False(t, st.IsRepo)
	assert.False(t, st.IsClean)
}
