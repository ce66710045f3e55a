package application

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/illumination-k/forgectl/pkg/cleanup"
	"github.com/illumination-k/forgectl/pkg/config"
	"github.com/illumination-k/forgectl/pkg/configsync"
	"github.com/illumination-k/forgectl/pkg/deploy"
	"github.com/illumination-k/forgectl/pkg/deployerr"
	"github.com/illumination-k/forgectl/pkg/docker"
	"github.com/illumination-k/forgectl/pkg/git"
	"github.com/illumination-k/forgectl/pkg/helm"
	"github.com/illumination-k/forgectl/pkg/image"
	"github.com/illumination-k/forgectl/pkg/kubernetes"
	"github.com/illumination-k/forgectl/pkg/logging"
	"github.com/illumination-k/forgectl/pkg/portforward"
	"github.com/illumination-k/forgectl/pkg/secrets"
	"github.com/illumination-k/forgectl/pkg/shell"
	"github.com/illumination-k/forgectl/pkg/validator"
)

// Options select the project and cluster an App works against
type Options struct {
	// ProjectRoot is searched upward for infra/helm; empty starts from the working directory
	ProjectRoot string
	Kubeconfig  string
	Context     string
	// KindCluster overrides the kind cluster name derived from the context
	KindCluster string
	// KubectlForward uses `kubectl port-forward` subprocesses instead of the API server stream
	KubectlForward bool

	In  io.Reader
	Out io.Writer
}

// App holds the wired deployment components for one invocation
type App struct {
	Orchestrator *deploy.Orchestrator
	Sync         *configsync.Synchronizer
	Paths        *config.DeploymentPaths
	Constants    *config.DeploymentConstants
	Target       kubernetes.ClusterTarget

	forwards *portforward.Manager
}

// NewApp creates and wires up the entire application with all dependencies
func NewApp(opts Options) (*App, error) {
	if err := checkBinaries(opts); err != nil {
		return nil, err
	}

	k8sClient, err := kubernetes.NewClient(opts.Kubeconfig, opts.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	var spawner portforward.Spawner
	if opts.KubectlForward {
		spawner = &portforward.KubectlSpawner{Kubeconfig: opts.Kubeconfig, Context: opts.Context}
	} else {
		spawner = portforward.NewNativeSpawner(k8sClient.RESTConfig(), k8sClient.Clientset())
	}

	return newApp(opts, k8sClient, shell.NewExecRunner(), spawner)
}

// NewSyncOnly wires just the config synchronizer; it needs no cluster access
func NewSyncOnly(opts Options) (*App, error) {
	paths, constants, err := resolveProject(opts.ProjectRoot)
	if err != nil {
		return nil, err
	}
	return &App{
		Sync:      configsync.New(paths, opts.Out),
		Paths:     paths,
		Constants: constants,
	}, nil
}

func newApp(opts Options, k8sClient *kubernetes.Client, runner shell.Runner, spawner portforward.Spawner) (*App, error) {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	paths, constants, err := resolveProject(opts.ProjectRoot)
	if err != nil {
		return nil, err
	}

	services, err := config.LoadServices(paths.ConfigFile)
	if err != nil {
		if !errors.Is(err, config.ErrConfigNotFound) {
			return nil, err
		}
		logging.Warn("application", "%s not found, enabling all optional services", paths.ConfigFile)
	}

	contextName, err := k8sClient.CurrentContext()
	if err != nil {
		return nil, fmt.Errorf("failed to determine kube context: %w", err)
	}
	target := kubernetes.DetectCluster(contextName)
	if target.Type == kubernetes.ClusterKind && opts.KindCluster != "" {
		target.KindCluster = opts.KindCluster
	}
	logging.Debug("application", "context %s detected as %s cluster", contextName, target.Type)

	// Wire components
	helmClient := helm.NewClient(runner)
	releases := helm.NewManager(helmClient, k8sClient, constants, paths, opts.Out)

	runtime := docker.NewRuntime(runner, paths.ProjectRoot, opts.Out)
	tagger := image.NewTagger(paths, git.NewStatusReader())
	builder := image.NewBuilder(runtime, tagger, constants, paths, services, opts.Out)

	forwards := portforward.NewManager(spawner, k8sClient,
		portforward.WithSettle(constants.PortForwardSettle),
		portforward.WithStopTimeout(constants.PortForwardStopTimeout),
	)

	sync := configsync.New(paths, opts.Out)

	orchestrator := deploy.New(deploy.Deps{
		Cluster:   k8sClient,
		Target:    target,
		Constants: constants,
		Paths:     paths,
		Services:  services,
		Validator: validator.New(k8sClient, helmClient, constants, opts.Out),
		Builder:   builder,
		Secrets:   secrets.NewManager(runner, paths, opts.Out),
		Sync:      sync,
		Release:   releases,
		Cleanup:   cleanup.NewManager(k8sClient, constants, opts.Out),
		Forwards:  forwards,
		In:        opts.In,
		Out:       opts.Out,
	})

	return &App{
		Orchestrator: orchestrator,
		Sync:         sync,
		Paths:        paths,
		Constants:    constants,
		Target:       target,
		forwards:     forwards,
	}, nil
}

// Close stops any port-forward still open
func (a *App) Close() {
	if a.forwards != nil {
		a.forwards.Close()
	}
}

// checkBinaries fails early when a program the commands shell out to is missing
func checkBinaries(opts Options) error {
	required := []string{"helm", "docker"}
	if opts.KubectlForward {
		required = append(required, "kubectl")
	}
	missing := shell.MissingBinaries(required...)
	if len(missing) == 0 {
		return nil
	}
	return deployerr.New(
		fmt.Sprintf("Required tools not found on PATH: %s", strings.Join(missing, ", ")),
		"Install them and make sure they are on PATH before running forgectl",
	)
}

func resolveProject(start string) (*config.DeploymentPaths, *config.DeploymentConstants, error) {
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		start = wd
	}

	root, err := config.FindProjectRoot(start)
	if err != nil {
		return nil, nil, err
	}

	constants := config.DefaultConstants()
	return config.NewPaths(root, constants.ChartName), constants, nil
}
