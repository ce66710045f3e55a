package deploy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/illumination-k/forgectl/pkg/deployerr"
	"github.com/illumination-k/forgectl/pkg/helm"
	"github.com/illumination-k/forgectl/pkg/ui"
)

// Teardown uninstalls the release and deletes the namespace with everything in it
func (o *Orchestrator) Teardown(ctx context.Context, namespace string, assumeYes bool) error {
	if !assumeYes {
		fmt.Fprintf(o.Out, "This will:\n  • Uninstall the Helm release\n  • Delete namespace '%s' and all resources\n  • Remove all persistent volume claims\n\n", namespace)
		if !ui.Confirm(o.In, o.Out, "Remove Kubernetes deployment?") {
			fmt.Fprintln(o.Out, "Canceled")
			return nil
		}
	}

	fmt.Fprintf(o.Out, "⏳ Uninstalling Helm release from %s...\n", namespace)
	err := o.helm.Uninstall(ctx, o.Constants.ReleaseName, namespace, false)
	switch {
	case err == nil:
		fmt.Fprintf(o.Out, "✓ Release '%s' uninstalled\n", o.Constants.ReleaseName)
	case errors.Is(err, helm.ErrReleaseNotFound):
		fmt.Fprintf(o.Out, "  Release '%s' not found, skipping\n", o.Constants.ReleaseName)
	default:
		fmt.Fprintf(o.Out, "⚠️  Warning: Failed to uninstall release: %v\n", err)
	}

	fmt.Fprintf(o.Out, "⏳ Deleting namespace %s...\n", namespace)
	if err := o.Cluster.DeleteNamespace(ctx, namespace, o.Constants.NamespaceDeleteTimeout); err != nil {
		return deployerr.Wrap(err, fmt.Sprintf("Failed to delete namespace %s", namespace),
			"Check for stuck finalizers:\n  kubectl get namespace "+namespace+" -o yaml")
	}

	fmt.Fprintf(o.Out, "\n✨ Teardown complete for %s\n", namespace)
	return nil
}

// Status prints the release, deployments, pods and services of namespace
func (o *Orchestrator) Status(ctx context.Context, namespace string) error {
	exists, err := o.Cluster.NamespaceExists(ctx, namespace)
	if err != nil {
		return err
	}
	if !exists {
		fmt.Fprintf(o.Out, "Namespace %s does not exist\n", namespace)
		fmt.Fprintln(o.Out, "💡 Deploy first with: forgectl deploy up -n "+namespace)
		return nil
	}

	fmt.Fprintln(o.Out, ui.Title.Render("📦 Release"))
	releases, err := o.helm.List(ctx, namespace, helm.ListFilter{})
	if err != nil {
		fmt.Fprintf(o.Out, "⚠️  Warning: Failed to list releases: %v\n", err)
	}
	found := false
	for _, r := range releases {
		if r.Name != o.Constants.ReleaseName {
			continue
		}
		found = true
		fmt.Fprintf(o.Out, "  %s  revision %d  %s  %s\n", r.Name, r.Revision.Int(), ui.StatusStyle(r.Status).Render(r.Status), r.Chart)
	}
	if !found {
		fmt.Fprintln(o.Out, "  No Helm release found")
	}

	deployments, err := o.Cluster.ListDeployments(ctx, namespace)
	if err != nil {
		return err
	}
	tbl := ui.NewTable("NAME", "READY", "UP-TO-DATE", "AVAILABLE")
	for _, d := range deployments {
		tbl.Row(d.Name, fmt.Sprintf("%d/%d", d.ReadyReplicas, d.Replicas), strconv.Itoa(int(d.UpdatedReplicas)), strconv.Itoa(int(d.AvailableReplicas)))
	}
	if err := o.section("🚀 Deployments", tbl); err != nil {
		return err
	}

	pods, err := o.Cluster.ListPods(ctx, namespace, "")
	if err != nil {
		return err
	}
	tbl = ui.NewTable("NAME", "STATUS", "RESTARTS", "AGE")
	for _, p := range pods {
		age := "-"
		if p.CreatedAt != nil {
			age = ui.Age(time.Since(*p.CreatedAt))
		}
		tbl.Row(p.Name, p.Status, strconv.Itoa(int(p.Restarts)), age)
	}
	if err := o.section("🐳 Pods", tbl); err != nil {
		return err
	}

	services, err := o.Cluster.ListServices(ctx, namespace)
	if err != nil {
		return err
	}
	tbl = ui.NewTable("NAME", "TYPE", "CLUSTER-IP", "EXTERNAL-IP", "PORTS")
	for _, s := range services {
		external := s.ExternalIP
		if external == "" {
			external = "<none>"
		}
		tbl.Row(s.Name, string(s.Type), s.ClusterIP, external, strings.Join(s.Ports, ","))
	}
	return o.section("🌐 Services", tbl)
}

func (o *Orchestrator) section(title string, tbl *ui.Table) error {
	fmt.Fprintln(o.Out)
	fmt.Fprintln(o.Out, ui.Title.Render(title))
	if tbl.Len() == 0 {
		fmt.Fprintln(o.Out, ui.Muted.Render("  (none)"))
		return nil
	}
	return tbl.Render(o.Out)
}

// History prints up to limit revisions of the release
func (o *Orchestrator) History(ctx context.Context, namespace string, limit int) error {
	revisions, err := o.helm.History(ctx, o.Constants.ReleaseName, namespace, limit)
	if err != nil && !errors.Is(err, helm.ErrReleaseNotFound) {
		return err
	}
	if len(revisions) == 0 {
		fmt.Fprintf(o.Out, "No release history found for '%s' in namespace '%s'\n", o.Constants.ReleaseName, namespace)
		fmt.Fprintln(o.Out, "💡 Deploy first with: forgectl deploy up -n "+namespace)
		return nil
	}

	tbl := ui.NewTable("REVISION", "UPDATED", "STATUS", "CHART", "DESCRIPTION")
	for _, r := range revisions {
		tbl.Row(strconv.Itoa(r.Revision.Int()), truncate(r.Updated, 19), r.Status, r.Chart, truncate(r.Description, 40))
	}
	if err := tbl.Render(o.Out); err != nil {
		return err
	}

	if len(revisions) > 1 {
		fmt.Fprintln(o.Out, "\n💡 To rollback: forgectl deploy rollback <revision> -n "+namespace)
	}
	return nil
}

// Rollback returns the release to revision, or to the previous one when revision is nil
func (o *Orchestrator) Rollback(ctx context.Context, namespace string, revision *int, assumeYes bool) error {
	revisions, err := o.helm.History(ctx, o.Constants.ReleaseName, namespace, 0)
	if err != nil && !errors.Is(err, helm.ErrReleaseNotFound) {
		return err
	}
	if len(revisions) == 0 {
		return deployerr.New(
			fmt.Sprintf("No release history found for '%s' in namespace '%s'", o.Constants.ReleaseName, namespace),
			"Make sure the release exists and you have access:\n  forgectl deploy history -n "+namespace)
	}

	current := revisions[len(revisions)-1]
	currentRev := current.Revision.Int()
	if currentRev <= 1 {
		fmt.Fprintln(o.Out, "⚠️  Only one revision exists. Nothing to rollback to.")
		return nil
	}

	target := currentRev - 1
	if revision != nil {
		target = *revision
	}
	if target < 1 || target >= currentRev {
		return deployerr.New(fmt.Sprintf("Invalid revision %d. Must be between 1 and %d", target, currentRev-1),
			"List revisions with:\n  forgectl deploy history -n "+namespace)
	}

	fmt.Fprintln(o.Out, ui.Title.Render("📋 Rollback Plan"))
	plan := ui.NewTable("", "REVISION", "STATUS", "DESCRIPTION")
	plan.Row("Current", strconv.Itoa(currentRev), current.Status, truncate(current.Description, 50))
	for _, r := range revisions {
		if r.Revision.Int() == target {
			plan.Row("Target", strconv.Itoa(target), r.Status, truncate(r.Description, 50))
		}
	}
	if err := plan.Render(o.Out); err != nil {
		return err
	}

	if !assumeYes && !ui.Confirm(o.In, o.Out, fmt.Sprintf("\nRollback namespace '%s' to revision %d?", namespace, target)) {
		fmt.Fprintln(o.Out, "Rollback cancelled.")
		return nil
	}

	fmt.Fprintf(o.Out, "⏪ Rolling back to revision %d...\n", target)
	if err := o.helm.Rollback(ctx, o.Constants.ReleaseName, namespace, target, o.Constants.RollbackTimeout); err != nil {
		return deployerr.Wrap(err, "Rollback failed", fmt.Sprintf(
			"Check release state:\n  forgectl deploy history -n %s\n  kubectl get pods -n %s", namespace, namespace))
	}

	fmt.Fprintf(o.Out, "✨ Successfully rolled back to revision %d\n", target)
	fmt.Fprintln(o.Out, "💡 Run 'forgectl deploy status -n "+namespace+"' to verify.")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
