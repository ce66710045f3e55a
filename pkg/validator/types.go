package validator

// Severity classifies a pre-deployment issue
type Severity int

const (
	// Warning can proceed but may cause problems
	Warning Severity = iota
	// Error should be cleaned up before proceeding
	Error
	// Critical must be cleaned up; deployment cannot proceed
	Critical
)

func (s Severity) String() string {
	switch s {
	case Warning:
		return "warning"
	case Error:
		return "error"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Issue is one anomaly found in the target namespace
type Issue struct {
	Severity     Severity
	Title        string
	Description  string
	RecoveryHint string
	ResourceType string
	ResourceName string
}

// Result is the outcome of a pre-deployment scan
type Result struct {
	Issues             []Issue
	NamespaceExists    bool
	HasPreviousRelease bool
}

// IsClean reports whether no issues were found
func (r *Result) IsClean() bool {
	return len(r.Issues) == 0
}

// HasErrors reports whether any issue is Error or Critical
func (r *Result) HasErrors() bool {
	for _, i := range r.Issues {
		if i.Severity >= Error {
			return true
		}
	}
	return false
}

// HasWarnings reports whether any issue is a Warning
func (r *Result) HasWarnings() bool {
	for _, i := range r.Issues {
		if i.Severity == Warning {
			return true
		}
	}
	return false
}

// RequiresCleanup reports whether any issue is Critical
func (r *Result) RequiresCleanup() bool {
	for _, i := range r.Issues {
		if i.Severity == Critical {
			return true
		}
	}
	return false
}

func (r *Result) add(issue Issue) {
	r.Issues = append(r.Issues, issue)
}
