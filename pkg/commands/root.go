package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/illumination-k/forgectl/internal/version"
	"github.com/illumination-k/forgectl/pkg/application"
	"github.com/illumination-k/forgectl/pkg/config"
	"github.com/illumination-k/forgectl/pkg/logging"
	"github.com/spf13/cobra"
)

// rootOptions are the global flags shared by every command
type rootOptions struct {
	namespace      string
	kubeconfig     string
	kubeContext    string
	projectRoot    string
	logLevel       string
	verbose        bool
	kubectlForward bool

	user *config.UserConfig
	in   io.Reader
	out  io.Writer
}

// NewRootCommand creates the root command for forgectl
func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdin, os.Stdout)
}

func newRootCommand(in io.Reader, out io.Writer) *cobra.Command {
	opts := &rootOptions{in: in, out: out, user: config.DefaultUserConfig()}

	cmd := &cobra.Command{
		Use:   "forgectl",
		Short: "Deploy api-forge projects to Kubernetes",
		Long: `forgectl builds, delivers and installs an api-forge project into a Kubernetes cluster.
Deployments are safe to re-run: stuck Helm releases, failed jobs and stale
ReplicaSets left behind by earlier attempts are detected and cleaned up.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init(cmd)
		},
	}
	cmd.SetIn(in)
	cmd.SetOut(out)

	// Global flags
	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.namespace, "namespace", "n", "", "Kubernetes namespace (default from ~/.forgectl/config.yaml, then api-forge-prod)")
	pf.StringVar(&opts.kubeconfig, "kubeconfig", "", "Path to kubeconfig file")
	pf.StringVar(&opts.kubeContext, "context", "", "Kubeconfig context to use")
	pf.StringVar(&opts.projectRoot, "project-root", "", "Project directory (default: search upward for infra/helm)")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "Diagnostic log level (debug, info, warn, error)")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Shorthand for --log-level=debug")
	pf.BoolVar(&opts.kubectlForward, "kubectl-port-forward", false, "Use kubectl subprocesses for port forwarding")

	// Add subcommands
	cmd.AddCommand(newDeployCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func (o *rootOptions) init(cmd *cobra.Command) error {
	level := o.logLevel
	if o.verbose {
		level = "debug"
	}
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return err
	}
	logging.InitForCLI(lvl, cmd.ErrOrStderr())

	store, err := config.NewStore()
	if err != nil {
		logging.Warn("commands", "user config unavailable: %v", err)
		return nil
	}
	user, err := store.Load()
	if err != nil {
		return err
	}
	o.user = user
	return nil
}

// resolvedNamespace layers the flag over the user config default
func (o *rootOptions) resolvedNamespace() string {
	return config.CoalesceString(o.namespace, o.user.Defaults.Namespace)
}

func (o *rootOptions) appOptions() application.Options {
	return application.Options{
		ProjectRoot:    config.CoalesceString(o.projectRoot, o.user.Defaults.ProjectRoot),
		Kubeconfig:     o.kubeconfig,
		Context:        o.kubeContext,
		KindCluster:    o.user.Defaults.KindCluster,
		KubectlForward: o.kubectlForward,
		In:             o.in,
		Out:            o.out,
	}
}

// withApp wires the application for one command and releases it afterwards
func (o *rootOptions) withApp(fn func(app *application.App) error) error {
	app, err := application.NewApp(o.appOptions())
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "forgectl version %s\n", version.Version)
		},
	}
}
