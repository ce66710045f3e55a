package validator

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/illumination-k/forgectl/pkg/ui"
)

func severityStyle(s Severity) (string, lipgloss.Style) {
	switch s {
	case Critical:
		return "🚫", ui.Fail
	case Error:
		return "❌", ui.Fail
	default:
		return "⚠️ ", ui.Warn
	}
}

// Display prints the validation result
func Display(w io.Writer, result *Result) {
	if result.IsClean() {
		if result.NamespaceExists {
			fmt.Fprintln(w, ui.Success.Render("✓ Pre-deployment checks passed"))
		}
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, ui.Title.Render("Pre-deployment Issues Detected"))
	fmt.Fprintln(w)

	for _, issue := range result.Issues {
		icon, style := severityStyle(issue.Severity)
		fmt.Fprintf(w, "%s %s\n", icon, style.Render(issue.Title))
		fmt.Fprintf(w, "   %s\n", issue.Description)
		if issue.ResourceType != "" {
			fmt.Fprintf(w, "   %s\n", ui.Muted.Render(fmt.Sprintf("Resource: %s/%s", issue.ResourceType, issue.ResourceName)))
		}
		if issue.RecoveryHint != "" {
			fmt.Fprintf(w, "   💡 %s\n", issue.RecoveryHint)
		}
		fmt.Fprintln(w)
	}
}

// PromptCleanup decides whether deployment should continue given result.
// For critical issues it asks whether to run cleanup first; a "yes" means the
// caller runs RunCleanup and then deploys. For errors it asks whether to
// proceed. Warnings alone never prompt. EOF on in counts as "no".
func PromptCleanup(in io.Reader, out io.Writer, result *Result, namespace string) bool {
	switch {
	case result.RequiresCleanup():
		fmt.Fprintln(out, ui.Fail.Render("Critical issues detected. Cleanup required before deployment."))
		fmt.Fprintf(out, "\nRecommended: %s\n\n", ui.Title.Render("forgectl deploy down -n "+namespace))
		return ui.Confirm(in, out, "Would you like to run cleanup now?")
	case result.HasErrors():
		fmt.Fprintln(out, ui.Warn.Render("Errors detected in the namespace."))
		return ui.Confirm(in, out, "Proceed with deployment anyway?")
	case result.HasWarnings():
		fmt.Fprintln(out, ui.Warn.Render("Warnings detected but proceeding with deployment."))
		return true
	default:
		return true
	}
}
