package commands

import (
	"fmt"
	"strconv"

	"github.com/illumination-k/forgectl/pkg/application"
	"github.com/illumination-k/forgectl/pkg/config"
	"github.com/illumination-k/forgectl/pkg/configsync"
	"github.com/illumination-k/forgectl/pkg/deploy"
	"github.com/illumination-k/forgectl/pkg/helm"
	"github.com/illumination-k/forgectl/pkg/portforward"
	"github.com/spf13/cobra"
)

func newDeployCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy and operate the project on Kubernetes",
	}

	cmd.AddCommand(newUpCommand(opts))
	cmd.AddCommand(newDownCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))
	cmd.AddCommand(newRollbackCommand(opts))
	cmd.AddCommand(newSetupTLSCommand(opts))
	cmd.AddCommand(newForwardCommand(opts))
	cmd.AddCommand(newSyncConfigCommand(opts))

	return cmd
}

// upFlags are the flags of `deploy up`
type upFlags struct {
	registry       string
	ingress        bool
	ingressHost    string
	tlsSecret      string
	tlsAuto        bool
	tlsStaging     bool
	yes            bool
	skipValidation bool
	noWait         bool
}

func newUpCommand(opts *rootOptions) *cobra.Command {
	var f upFlags

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Build, deliver and install the project",
		Long: `Build the project images, deliver them to the cluster and install the Helm release.

Steps:
  1. Check the namespace for stuck releases, crashing pods and failed jobs
  2. Build images and tag them with a content tag
  3. Load images into minikube/kind, or push them to --registry
  4. Generate and apply secrets
  5. Sync config.yaml into the chart values and stage config files
  6. helm upgrade --install, restart deployments and wait for rollouts
  7. Scale down and prune old ReplicaSets

Examples:
  forgectl deploy up
  forgectl deploy up -r ghcr.io/myorg
  forgectl deploy up --ingress --ingress-host api.example.com --ingress-tls-auto`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deployOpts := deploy.Options{
				Namespace:      opts.resolvedNamespace(),
				Registry:       config.CoalesceString(f.registry, opts.user.Defaults.Registry),
				Ingress:        ingressOptions(cmd, f, opts.user.Ingress),
				SkipValidation: f.skipValidation,
				NoWait:         f.noWait,
				AssumeYes:      f.yes,
			}
			return opts.withApp(func(app *application.App) error {
				return app.Orchestrator.Deploy(cmd.Context(), deployOpts)
			})
		},
	}

	cmd.Flags().StringVarP(&f.registry, "registry", "r", "", "Container registry to push images to (required for remote clusters)")
	cmd.Flags().BoolVar(&f.ingress, "ingress", false, "Expose the app through an Ingress")
	cmd.Flags().StringVar(&f.ingressHost, "ingress-host", "", "Ingress hostname (default api.local)")
	cmd.Flags().StringVar(&f.tlsSecret, "ingress-tls-secret", "", "Existing TLS secret for the Ingress")
	cmd.Flags().BoolVar(&f.tlsAuto, "ingress-tls-auto", false, "Request a certificate from cert-manager")
	cmd.Flags().BoolVar(&f.tlsStaging, "ingress-tls-staging", false, "Use the Let's Encrypt staging issuer")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "Proceed past non-critical validation issues without prompting")
	cmd.Flags().BoolVar(&f.skipValidation, "skip-validation", false, "Skip pre-deployment checks")
	cmd.Flags().BoolVar(&f.noWait, "no-wait", false, "Don't wait for rollouts, pod readiness or the database")

	return cmd
}

// ingressOptions layers explicitly set flags over the user config
func ingressOptions(cmd *cobra.Command, f upFlags, user config.IngressConfig) helm.IngressOptions {
	changed := cmd.Flags().Changed
	return helm.IngressOptions{
		Enabled:   config.CoalesceBool(f.ingress, user.Enabled, changed("ingress")),
		Host:      config.CoalesceString(f.ingressHost, user.Host),
		TLSSecret: config.CoalesceString(f.tlsSecret, user.TLSSecret),
		TLSAuto:   config.CoalesceBool(f.tlsAuto, user.TLSAuto, changed("ingress-tls-auto")),
		Staging:   config.CoalesceBool(f.tlsStaging, user.Staging, changed("ingress-tls-staging")),
	}
}

func newDownCommand(opts *rootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Uninstall the release and delete the namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(app *application.App) error {
				return app.Orchestrator.Teardown(cmd.Context(), opts.resolvedNamespace(), yes)
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")

	return cmd
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the release, deployments, pods and services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(app *application.App) error {
				return app.Orchestrator.Status(cmd.Context(), opts.resolvedNamespace())
			})
		},
	}
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var maxRevisions int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the release revision history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(app *application.App) error {
				return app.Orchestrator.History(cmd.Context(), opts.resolvedNamespace(), maxRevisions)
			})
		},
	}

	cmd.Flags().IntVarP(&maxRevisions, "max", "m", 10, "Maximum number of revisions to show")

	return cmd
}

func newRollbackCommand(opts *rootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "rollback [revision]",
		Short: "Roll the release back to an earlier revision",
		Long: `Roll the release back to an earlier revision.
Without a revision the release goes back one step.

Examples:
  forgectl deploy rollback
  forgectl deploy rollback 3 -y`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			revision, err := parseRevision(args)
			if err != nil {
				return err
			}
			return opts.withApp(func(app *application.App) error {
				return app.Orchestrator.Rollback(cmd.Context(), opts.resolvedNamespace(), revision, yes)
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation prompt")

	return cmd
}

// parseRevision returns nil when no revision argument was given
func parseRevision(args []string) (*int, error) {
	if len(args) == 0 {
		return nil, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, fmt.Errorf("invalid revision %q: must be a number", args[0])
	}
	return &n, nil
}

func newSetupTLSCommand(opts *rootOptions) *cobra.Command {
	var email string
	var staging bool

	cmd := &cobra.Command{
		Use:   "setup-tls",
		Short: "Create the cert-manager ClusterIssuer for Let's Encrypt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(func(app *application.App) error {
				return app.Orchestrator.SetupTLS(cmd.Context(), email, staging)
			})
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "Contact email for Let's Encrypt")
	cmd.Flags().BoolVar(&staging, "staging", false, "Use the Let's Encrypt staging server")

	return cmd
}

func newForwardCommand(opts *rootOptions) *cobra.Command {
	var target portforward.Target

	cmd := &cobra.Command{
		Use:   "forward",
		Short: "Forward a local port to a pod until interrupted",
		Long: `Forward a local port to a pod until interrupted.

Examples:
  forgectl deploy forward -l app.kubernetes.io/name=postgres --remote-port 5432
  forgectl deploy forward --pod api-forge-app-0 --local-port 8080 --remote-port 8000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if target.Pod == "" && target.Selector == "" {
				return fmt.Errorf("either --pod or --selector is required")
			}
			target.Namespace = opts.resolvedNamespace()
			return opts.withApp(func(app *application.App) error {
				return app.Orchestrator.Forward(cmd.Context(), target)
			})
		},
	}

	cmd.Flags().StringVar(&target.Pod, "pod", "", "Pod name")
	cmd.Flags().StringVarP(&target.Selector, "selector", "l", "", "Label selector; the first running pod is used")
	cmd.Flags().IntVar(&target.LocalPort, "local-port", 0, "Local port (default: same as remote)")
	cmd.Flags().IntVar(&target.RemotePort, "remote-port", 0, "Pod port")
	_ = cmd.MarkFlagRequired("remote-port")

	return cmd
}

func newSyncConfigCommand(opts *rootOptions) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "sync-config",
		Short: "Sync config.yaml into the chart values and stage config files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := application.NewSyncOnly(opts.appOptions())
			if err != nil {
				return err
			}

			if _, err := app.Sync.SyncValues(); err != nil {
				return err
			}
			if !watch {
				_, err := app.Sync.CopyFiles()
				return err
			}

			return app.Sync.Watch(cmd.Context(), configsync.DefaultDebounce, func(changes []configsync.Change, err error) {
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "❌ Sync failed: %v\n", err)
				}
			})
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep syncing whenever config.yaml changes")

	return cmd
}
