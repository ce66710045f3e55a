package git

import "context"

// Status describes the version-control state of a source tree
type Status struct {
	IsRepo   bool
	IsClean  bool
	ShortSHA string
}

// StatusReader reports the version-control state of a directory
type StatusReader interface {
	// Status returns the state of the repository containing dir.
	// A directory outside any repository yields Status{IsRepo: false} and no error.
	Status(ctx context.Context, dir string) (Status, error)
}
