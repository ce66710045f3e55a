package helm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/illumination-k/forgectl/pkg/logging"
	"github.com/illumination-k/forgectl/pkg/shell"
)

// ErrReleaseNotFound is returned when helm has no record of a release
var ErrReleaseNotFound = errors.New("release not found")

// Release is one entry of `helm list`
type Release struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	Status    string `json:"status"`
	Revision  number `json:"revision"`
	Updated   string `json:"updated"`
	Chart     string `json:"chart"`
}

// stuckStatuses are release states that block `helm upgrade`
var stuckStatuses = map[string]bool{
	"failed":          true,
	"pending-upgrade": true,
	"pending-install": true,
	"uninstalling":    true,
}

// IsStuck reports whether the release is in a state that blocks upgrades
func (r Release) IsStuck() bool {
	return stuckStatuses[r.Status]
}

// Revision is one entry of `helm history`
type Revision struct {
	Revision    number `json:"revision"`
	Updated     string `json:"updated"`
	Status      string `json:"status"`
	Chart       string `json:"chart"`
	AppVersion  string `json:"app_version"`
	Description string `json:"description"`
}

// number decodes helm's revision field, which is a string in `helm list` and an integer in `helm history`
type number int

func (n *number) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid revision %q: %w", s, err)
	}
	*n = number(v)
	return nil
}

// Int returns the value as an int
func (n number) Int() int {
	return int(n)
}

// ListFilter selects which release states `helm list` includes
type ListFilter struct {
	Failed       bool
	Pending      bool
	Uninstalling bool
}

// UpgradeOptions configures `helm upgrade --install`
type UpgradeOptions struct {
	Release         string
	Chart           string
	Namespace       string
	ValuesFiles     []string
	Timeout         time.Duration
	CreateNamespace bool
	Wait            bool
	// Output receives helm's progress lines; nil discards them
	Output io.Writer
}

// Client wraps the helm command line tool
type Client struct {
	runner shell.Runner
	binary string
}

// NewClient creates a helm Client
func NewClient(runner shell.Runner) *Client {
	return &Client{runner: runner, binary: "helm"}
}

func (c *Client) run(ctx context.Context, stream io.Writer, args ...string) (shell.Result, error) {
	logging.Debug("helm", "running helm %s", strings.Join(args, " "))
	return c.runner.Run(ctx, shell.Command{Name: c.binary, Args: args, Stream: stream})
}

// UpgradeInstall installs the chart or upgrades an existing release
func (c *Client) UpgradeInstall(ctx context.Context, opts UpgradeOptions) error {
	args := []string{"upgrade", "--install", opts.Release, opts.Chart, "--namespace", opts.Namespace}
	if opts.CreateNamespace {
		args = append(args, "--create-namespace")
	}
	if opts.Wait {
		args = append(args, "--wait")
	}
	if opts.Timeout > 0 {
		args = append(args, "--timeout", formatDuration(opts.Timeout))
	}
	for _, f := range opts.ValuesFiles {
		args = append(args, "-f", f)
	}

	var stream io.Writer
	if opts.Output != nil {
		lw := newLineWriter(opts.Output)
		defer lw.Flush()
		stream = lw
	}

	if _, err := c.run(ctx, stream, args...); err != nil {
		return fmt.Errorf("helm upgrade failed: %w", err)
	}
	return nil
}

// Uninstall removes a release
func (c *Client) Uninstall(ctx context.Context, release, namespace string, wait bool) error {
	args := []string{"uninstall", release, "-n", namespace}
	if wait {
		args = append(args, "--wait")
	}

	res, err := c.run(ctx, nil, args...)
	if err != nil {
		if isNotFound(res) {
			return ErrReleaseNotFound
		}
		return fmt.Errorf("helm uninstall failed: %w", err)
	}
	return nil
}

// Rollback rolls a release back to revision and waits for it to settle
func (c *Client) Rollback(ctx context.Context, release, namespace string, revision int, timeout time.Duration) error {
	args := []string{"rollback", release, "-n", namespace, strconv.Itoa(revision), "--wait"}
	if timeout > 0 {
		args = append(args, "--timeout", formatDuration(timeout))
	}

	if _, err := c.run(ctx, nil, args...); err != nil {
		return fmt.Errorf("helm rollback failed: %w", err)
	}
	return nil
}

// History returns up to max revisions of a release, oldest first
func (c *Client) History(ctx context.Context, release, namespace string, max int) ([]Revision, error) {
	args := []string{"history", release, "-n", namespace, "-o", "json"}
	if max > 0 {
		args = append(args, "--max", strconv.Itoa(max))
	}

	res, err := c.run(ctx, nil, args...)
	if err != nil {
		if isNotFound(res) {
			return nil, ErrReleaseNotFound
		}
		return nil, fmt.Errorf("helm history failed: %w", err)
	}

	var revisions []Revision
	if strings.TrimSpace(res.Stdout) == "" {
		return revisions, nil
	}
	if err := json.Unmarshal([]byte(res.Stdout), &revisions); err != nil {
		return nil, fmt.Errorf("failed to parse helm history: %w", err)
	}
	return revisions, nil
}

// List returns the releases in namespace
func (c *Client) List(ctx context.Context, namespace string, filter ListFilter) ([]Release, error) {
	args := []string{"list", "-n", namespace, "-o", "json"}
	if filter.Failed {
		args = append(args, "--failed")
	}
	if filter.Pending {
		args = append(args, "--pending")
	}
	if filter.Uninstalling {
		args = append(args, "--uninstalling")
	}

	res, err := c.run(ctx, nil, args...)
	if err != nil {
		return nil, fmt.Errorf("helm list failed: %w", err)
	}

	var releases []Release
	if strings.TrimSpace(res.Stdout) == "" {
		return releases, nil
	}
	if err := json.Unmarshal([]byte(res.Stdout), &releases); err != nil {
		return nil, fmt.Errorf("failed to parse helm list: %w", err)
	}
	return releases, nil
}

// StuckReleases returns releases named release whose state blocks upgrades
func (c *Client) StuckReleases(ctx context.Context, namespace, release string) ([]Release, error) {
	releases, err := c.List(ctx, namespace, ListFilter{Failed: true, Pending: true, Uninstalling: true})
	if err != nil {
		return nil, err
	}

	var stuck []Release
	for _, r := range releases {
		if release != "" && r.Name != release {
			continue
		}
		if r.IsStuck() {
			stuck = append(stuck, r)
		}
	}
	return stuck, nil
}

func isNotFound(res shell.Result) bool {
	return strings.Contains(strings.ToLower(res.Stderr), "not found")
}

// formatDuration renders durations the way helm flags are usually written (10m, 90s)
func formatDuration(d time.Duration) string {
	if d%time.Minute == 0 {
		return fmt.Sprintf("%dm", int(d/time.Minute))
	}
	return fmt.Sprintf("%ds", int(d/time.Second))
}

// lineWriter forwards helm output line by line, indented, dropping noisy table warnings
type lineWriter struct {
	out io.Writer
	buf []byte
}

func newLineWriter(out io.Writer) *lineWriter {
	return &lineWriter{out: out}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush writes any trailing partial line
func (w *lineWriter) Flush() {
	if len(w.buf) > 0 {
		w.emit(string(w.buf))
		w.buf = nil
	}
}

func (w *lineWriter) emit(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	lower := strings.ToLower(line)
	if strings.Contains(lower, "warning:") && strings.Contains(lower, "table") {
		return
	}
	fmt.Fprintf(w.out, "  %s\n", line)
}
