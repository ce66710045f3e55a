package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Command describes one external program invocation
type Command struct {
	Name string
	Args []string
	// Dir is the working directory; empty means the current directory
	Dir string
	// Stdin is fed to the process when non-empty
	Stdin string
	// Stream receives combined output as it is produced, in addition to capture
	Stream io.Writer
}

// String renders the command line for logs and mock matching
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result holds the captured output of a finished command
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports whether the command exited with status 0
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner abstracts external command execution for testing
type Runner interface {
	// Run executes the command and waits for it to finish.
	// A non-zero exit returns both the populated Result and an error.
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner implements Runner using os/exec
type ExecRunner struct{}

// NewExecRunner creates a new ExecRunner
func NewExecRunner() Runner {
	return &ExecRunner{}
}

// Run executes the command with os/exec
func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	//#nosec G204 -- program names are fixed by callers (helm, docker, kind, minikube, project scripts)
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if c.Stdin != "" {
		cmd.Stdin = strings.NewReader(c.Stdin)
	}

	var stdout, stderr bytes.Buffer
	if c.Stream != nil {
		cmd.Stdout = io.MultiWriter(&stdout, c.Stream)
		cmd.Stderr = io.MultiWriter(&stderr, c.Stream)
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	err := cmd.Run()
	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		return result, &CommandError{Command: c.String(), Result: result, Err: err}
	}

	return result, nil
}

// CommandError reports a failed external command together with its output
type CommandError struct {
	Command string
	Result  Result
	Err     error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Result.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(e.Result.Stdout)
	}
	if msg == "" {
		return fmt.Sprintf("%s failed: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s failed: %s: %v", e.Command, msg, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// LookPath reports whether a program is available on PATH
func LookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// MissingBinaries returns the programs in names that are not on PATH
func MissingBinaries(names ...string) []string {
	var missing []string
	for _, name := range names {
		if !LookPath(name) {
			missing = append(missing, name)
		}
	}
	return missing
}
