package docker

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/illumination-k/forgectl/pkg/shell"
)

// Runtime wraps the docker, minikube and kind command line tools
type Runtime struct {
	runner     shell.Runner
	projectDir string
	// out receives streamed build output; nil keeps builds quiet
	out io.Writer
}

// NewRuntime creates a Runtime that runs commands from projectDir
func NewRuntime(runner shell.Runner, projectDir string, out io.Writer) *Runtime {
	return &Runtime{runner: runner, projectDir: projectDir, out: out}
}

func (r *Runtime) run(ctx context.Context, name string, args ...string) (shell.Result, error) {
	return r.runner.Run(ctx, shell.Command{Name: name, Args: args, Dir: r.projectDir})
}

// ImageExists reports whether an image reference exists locally
func (r *Runtime) ImageExists(ctx context.Context, ref string) (bool, error) {
	res, err := r.run(ctx, "docker", "images", "-q", ref)
	if err != nil {
		return false, fmt.Errorf("failed to query image %s: %w", ref, err)
	}
	return strings.TrimSpace(res.Stdout) != "", nil
}

// Tag creates target as an alias of source
func (r *Runtime) Tag(ctx context.Context, source, target string) error {
	if _, err := r.run(ctx, "docker", "tag", source, target); err != nil {
		return fmt.Errorf("failed to tag %s as %s: %w", source, target, err)
	}
	return nil
}

// Push pushes an image reference to its registry
func (r *Runtime) Push(ctx context.Context, ref string) error {
	if _, err := r.run(ctx, "docker", "push", ref); err != nil {
		return fmt.Errorf("failed to push %s: %w", ref, err)
	}
	return nil
}

// ComposeBuild builds the given compose services
func (r *Runtime) ComposeBuild(ctx context.Context, composeFile string, services []string) error {
	args := append([]string{"compose", "-f", composeFile, "build"}, services...)
	_, err := r.runner.Run(ctx, shell.Command{
		Name:   "docker",
		Args:   args,
		Dir:    r.projectDir,
		Stream: r.out,
	})
	if err != nil {
		return fmt.Errorf("docker compose build failed: %w", err)
	}
	return nil
}

// MinikubeLoad loads an image into minikube's image cache
func (r *Runtime) MinikubeLoad(ctx context.Context, ref string) error {
	if _, err := r.run(ctx, "minikube", "image", "load", ref); err != nil {
		return fmt.Errorf("failed to load %s into minikube: %w", ref, err)
	}
	return nil
}

// KindLoad loads an image into the named kind cluster
func (r *Runtime) KindLoad(ctx context.Context, ref, cluster string) error {
	if cluster == "" {
		cluster = "kind"
	}
	if _, err := r.run(ctx, "kind", "load", "docker-image", ref, "--name", cluster); err != nil {
		return fmt.Errorf("failed to load %s into kind cluster %s: %w", ref, cluster, err)
	}
	return nil
}
