package git

import (
	"context"
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
)

// shortSHALength matches `git rev-parse --short=7`
const shortSHALength = 7

// repoStatusReader implements StatusReader with go-git, so no git binary is required
type repoStatusReader struct{}

// NewStatusReader creates a StatusReader backed by go-git
func NewStatusReader() StatusReader {
	return &repoStatusReader{}
}

// Status opens the repository containing dir and inspects its worktree
func (r *repoStatusReader) Status(ctx context.Context, dir string) (Status, error) {
	repo, err := gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return Status{IsRepo: false}, nil
		}
		return Status{}, fmt.Errorf("failed to open repository: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		// No commits yet: a repository, but nothing to tag from
		return Status{IsRepo: true, IsClean: false}, nil
	}

	wt, err := repo.Worktree()
	if err != nil {
		return Status{}, fmt.Errorf("failed to open worktree: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return Status{}, err
	}

	st, err := wt.Status()
	if err != nil {
		return Status{}, fmt.Errorf("failed to read worktree status: %w", err)
	}

	return Status{
		IsRepo:   true,
		IsClean:  st.IsClean(),
		ShortSHA: head.Hash().String()[:shortSHALength],
	}, nil
}
