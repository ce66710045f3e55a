// Package deploy sequences a full deployment and the day-2 operations
// (status, history, rollback, teardown, TLS setup, port forwarding).
package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/illumination-k/forgectl/pkg/cleanup"
	"github.com/illumination-k/forgectl/pkg/config"
	"github.com/illumination-k/forgectl/pkg/configsync"
	"github.com/illumination-k/forgectl/pkg/deployerr"
	"github.com/illumination-k/forgectl/pkg/env"
	"github.com/illumination-k/forgectl/pkg/helm"
	"github.com/illumination-k/forgectl/pkg/image"
	"github.com/illumination-k/forgectl/pkg/kubernetes"
	"github.com/illumination-k/forgectl/pkg/logging"
	"github.com/illumination-k/forgectl/pkg/portforward"
	"github.com/illumination-k/forgectl/pkg/secrets"
	"github.com/illumination-k/forgectl/pkg/ui"
	"github.com/illumination-k/forgectl/pkg/validator"
)

// Deps are the collaborators an Orchestrator drives
type Deps struct {
	Cluster   kubernetes.ClusterController
	Target    kubernetes.ClusterTarget
	Constants *config.DeploymentConstants
	Paths     *config.DeploymentPaths
	Services  config.Services

	Validator *validator.Validator
	Builder   *image.Builder
	Secrets   *secrets.Manager
	Sync      *configsync.Synchronizer
	Release   *helm.Manager
	Cleanup   *cleanup.Manager
	Forwards  *portforward.Manager

	In  io.Reader
	Out io.Writer
}

// Orchestrator runs deployments against one cluster
type Orchestrator struct {
	Deps

	helm *helm.Client

	// dial checks database reachability through a forwarded port
	dial         func(ctx context.Context, addr string) error
	dbAttempts   int
	dbRetryDelay time.Duration
	dbLocalPort  int
}

// New creates an Orchestrator
func New(deps Deps) *Orchestrator {
	if deps.In == nil {
		deps.In = os.Stdin
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	return &Orchestrator{
		Deps:         deps,
		helm:         deps.Release.Client(),
		dial:         dialTCP,
		dbAttempts:   5,
		dbRetryDelay: 2 * time.Second,
	}
}

// Options configure one deployment
type Options struct {
	Namespace      string
	Registry       string
	Ingress        helm.IngressOptions
	SkipValidation bool
	// NoWait returns once the release is installed, skipping rollout, readiness and database checks
	NoWait bool
	// AssumeYes answers yes to the "proceed anyway" prompt.
	// It never triggers the destructive namespace cleanup on its own.
	AssumeYes bool
}

// Deploy builds, delivers and installs the application into opts.Namespace
func (o *Orchestrator) Deploy(ctx context.Context, opts Options) error {
	namespace := config.CoalesceString(opts.Namespace, o.Constants.DefaultNamespace)

	if _, err := env.CheckEnvFile(o.Paths.ProjectRoot); err != nil {
		return err
	}
	if err := config.ValidateRegistry(opts.Registry); err != nil {
		return deployerr.Wrap(err, fmt.Sprintf("Invalid registry URL format: '%s'", opts.Registry),
			"Expected format: host.domain/path or host:port/path\nExamples:\n  - ghcr.io/myuser\n  - docker.io/mycompany\n  - registry.example.com:5000/project")
	}
	if err := image.CheckDelivery(o.Target, opts.Registry); err != nil {
		return err
	}

	fmt.Fprintf(o.Out, "🚀 Deploying to %s (context: %s, namespace: %s)\n", o.Target.Type, o.Target.Context, namespace)

	if !opts.SkipValidation {
		if err := o.preflight(ctx, namespace, opts.AssumeYes); err != nil {
			return err
		}
	}

	tag, err := o.Builder.BuildAndTag(ctx)
	if err != nil {
		return err
	}
	if err := o.Builder.LoadIntoCluster(ctx, tag, o.Target, opts.Registry); err != nil {
		return err
	}

	if err := o.Secrets.EnsureSecrets(ctx); err != nil {
		return err
	}
	if err := o.Secrets.ApplySecrets(ctx, namespace); err != nil {
		return err
	}

	if _, err := o.Sync.SyncValues(); err != nil {
		fmt.Fprintf(o.Out, "⚠️  Warning: Failed to sync config: %v\n", err)
		fmt.Fprintln(o.Out, "  Continuing with existing values.yaml")
	}
	if _, err := o.Sync.CopyFiles(); err != nil {
		return fmt.Errorf("failed to stage config files: %w", err)
	}

	overridePath, err := o.Release.CreateImageOverrides(tag, opts.Registry, opts.Ingress)
	if err != nil {
		return err
	}
	if err := o.Release.DeployRelease(ctx, namespace, overridePath); err != nil {
		return err
	}

	if err := o.Release.RestartAllDeployments(ctx, namespace); err != nil {
		logging.Warn("deploy", "restart failed: %v", err)
		fmt.Fprintf(o.Out, "⚠️  Warning: %v\n", err)
	}
	if !opts.NoWait {
		if err := o.awaitReady(ctx, namespace); err != nil {
			return err
		}
		if err := o.VerifyDatabase(ctx, namespace); err != nil {
			return err
		}

		// Old ReplicaSets are only touched once the rollout has been waited on
		_, _ = o.Cleanup.ScaleDownOldReplicaSets(ctx, namespace)
		_, _ = o.Cleanup.CleanupOldReplicaSets(ctx, namespace)
	} else {
		fmt.Fprintln(o.Out, "⏭️  Skipping ReplicaSet cleanup (--no-wait)")
	}

	fmt.Fprintln(o.Out)
	fmt.Fprintln(o.Out, ui.Banner.Render(fmt.Sprintf("✨ Deployment complete!\nImage tag: %s\nNamespace: %s", tag, namespace)))
	return o.Status(ctx, namespace)
}

// awaitReady waits for rollouts and pod readiness; timeouts only warn
func (o *Orchestrator) awaitReady(ctx context.Context, namespace string) error {
	if _, err := o.Release.WaitForRollouts(ctx, namespace); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprintf(o.Out, "⚠️  Warning: %v\n", err)
	}

	fmt.Fprintln(o.Out, "⏳ Waiting for pods to be ready...")
	if err := o.Cluster.WaitForPodsReady(ctx, namespace, o.Constants.PodReadySelector, o.Constants.PodReadyTimeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprintf(o.Out, "⚠️  Warning: Some pods may not be fully ready yet: %v\n", err)
		fmt.Fprintf(o.Out, "💡 Check pod status with: kubectl get pods -n %s\n", namespace)
		return nil
	}
	fmt.Fprintln(o.Out, "✓ All pods are ready")
	return nil
}

// preflight validates the namespace and applies the cleanup policy
func (o *Orchestrator) preflight(ctx context.Context, namespace string, assumeYes bool) error {
	fmt.Fprintln(o.Out, "🔍 Running pre-deployment checks...")

	result, err := o.Validator.Validate(ctx, namespace)
	if err != nil {
		return fmt.Errorf("pre-deployment validation failed: %w", err)
	}
	validator.Display(o.Out, result)

	switch {
	case result.IsClean():
		return nil

	case result.RequiresCleanup():
		if assumeYes {
			return deployerr.New("Deployment cancelled due to unresolved critical issues",
				"Clean up the namespace first:\n  forgectl deploy down -n "+namespace)
		}
		if !validator.PromptCleanup(o.In, o.Out, result, namespace) {
			return deployerr.New("Deployment cancelled due to unresolved critical issues",
				"Clean up the namespace first:\n  forgectl deploy down -n "+namespace)
		}
		if !o.Validator.RunCleanup(ctx, namespace) {
			return deployerr.New("Pre-deployment cleanup failed",
				"Try manual cleanup:\n  kubectl delete namespace "+namespace)
		}
		fmt.Fprintln(o.Out, "✓ Pre-deployment cleanup completed")
		return nil

	case result.HasErrors() && assumeYes:
		fmt.Fprintln(o.Out, "⚠️  Warning: Proceeding despite errors (--yes)")
		return nil

	default:
		if !validator.PromptCleanup(o.In, o.Out, result, namespace) {
			return deployerr.New("Deployment cancelled", "Resolve the issues above, then run:\n  forgectl deploy up -n "+namespace)
		}
		return nil
	}
}

// VerifyDatabase checks the bundled PostgreSQL answers through a port-forward.
// Tunnel problems are environment issues and only warn; a database that
// never accepts connections aborts the deployment.
func (o *Orchestrator) VerifyDatabase(ctx context.Context, namespace string) error {
	if !o.Services.BundledPostgres || o.Forwards == nil {
		return nil
	}

	fmt.Fprintln(o.Out, "🔌 Verifying database connectivity...")

	target := portforward.Target{
		Namespace:  namespace,
		Selector:   o.Constants.PostgresSelector,
		LocalPort:  o.dbLocalPort,
		RemotePort: o.Constants.PostgresPort,
	}

	var lastErr error
	err := o.Forwards.With(ctx, target, func(h *portforward.Handle) error {
		for attempt := 1; attempt <= o.dbAttempts; attempt++ {
			if lastErr = o.dial(ctx, h.Address()); lastErr == nil {
				return nil
			}
			logging.Debug("deploy", "database dial attempt %d/%d: %v", attempt, o.dbAttempts, lastErr)
			if attempt < o.dbAttempts {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(o.dbRetryDelay):
				}
			}
		}
		return errDatabaseUnreachable
	})

	switch {
	case err == nil:
		fmt.Fprintln(o.Out, "✓ Database is accepting connections")
		return nil
	case errors.Is(err, errDatabaseUnreachable):
		return deployerr.Wrap(lastErr, "Database unreachable after deployment", fmt.Sprintf(
			"Recovery steps:\n  1. Check the database pod: kubectl get pods -n %s -l %s\n  2. View its logs: kubectl logs -n %s -l %s\n  3. Roll back if needed: forgectl deploy rollback -n %s",
			namespace, o.Constants.PostgresSelector, namespace, o.Constants.PostgresSelector, namespace))
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		logging.Warn("deploy", "database verification skipped: %v", err)
		fmt.Fprintf(o.Out, "⚠️  Warning: Could not verify database connectivity: %v\n", err)
		return nil
	}
}

var errDatabaseUnreachable = errors.New("database unreachable")

func dialTCP(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: 3 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}
