package manifest

import "fmt"

// Diagnostic represents a validation error or warning produced by manifest
// validation.
type Diagnostic struct {
	Code     string `json:"code"`           // e.g. "MF-001"
	Severity string `json:"severity"`       // "error" or "warning"
	Message  string `json:"message"`        // human-readable description
	Path     string `json:"path,omitempty"` // dotted path to offending field
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// HasErrors returns true if any diagnostic has error severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity diagnostics.
func Errors(diags []Diagnostic) []Diagnostic {
	var errs []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	return errs
}

// Warnings returns only the warning-severity diagnostics.
func Warnings(diags []Diagnostic) []Diagnostic {
	var warns []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityWarning {
			warns = append(warns, d)
		}
	}
	return warns
}

// KnownCollector reports whether name is a builtin collector identifier.
// Set by the collect package at init time; kept as a variable so manifest
// does not import the collector implementations.
var KnownCollector = func(name string) bool { return true }

// Validate checks the manifest for problems the engine would otherwise hit
// at execution time. It never mutates the manifest.
func (m *Manifest) Validate() []Diagnostic {
	var diags []Diagnostic

	if len(m.Tasks) == 0 {
		diags = append(diags, Diagnostic{
			Code:     "MF-001",
			Severity: SeverityError,
			Message:  "manifest declares no task sections",
			Path:     "tasks",
		})
	}
	if m.OutputFilename == "" {
		diags = append(diags, Diagnostic{
			Code:     "MF-002",
			Severity: SeverityWarning,
			Message:  "output_filename is empty",
			Path:     "output_filename",
		})
	}

	seenPriority := map[uint8]string{}
	for _, ns := range m.OrderedSections() {
		if prev, dup := seenPriority[ns.Section.Priority]; dup {
			diags = append(diags, Diagnostic{
				Code:     "MF-003",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("sections %q and %q share priority %d; relative order falls back to name", prev, ns.Name, ns.Section.Priority),
				Path:     "tasks." + ns.Name + ".priority",
			})
		}
		seenPriority[ns.Section.Priority] = ns.Name

		for _, category := range ns.Section.OrderedCategories() {
			for i, entry := range ns.Section.Entries[category] {
				path := fmt.Sprintf("tasks.%s.entries.%s[%d]", ns.Name, category, i)
				diags = append(diags, validateEntry(entry, path)...)
			}
		}
	}

	return diags
}

func validateEntry(e Entry, path string) []Diagnostic {
	var diags []Diagnostic

	if e.Name == "" {
		diags = append(diags, Diagnostic{
			Code:     "MF-010",
			Severity: SeverityError,
			Message:  "entry has no name",
			Path:     path + ".name",
		})
	}

	switch e.Exec {
	case ExecUnspecified:
		diags = append(diags, Diagnostic{
			Code:     "MF-011",
			Severity: SeverityError,
			Message:  "entry has no exec_type; the engine will skip it",
			Path:     path + ".exec_type",
		})
	case ExecExternal, ExecSystem:
		if e.OutputFile == "" {
			diags = append(diags, Diagnostic{
				Code:     "MF-012",
				Severity: SeverityError,
				Message:  fmt.Sprintf("%s entry needs an output_file for captured stdout", e.Exec),
				Path:     path + ".output_file",
			})
		}
	case ExecInternal:
		if e.OutputFile == "" {
			diags = append(diags, Diagnostic{
				Code:     "MF-012",
				Severity: SeverityError,
				Message:  "internal entry needs an output_file",
				Path:     path + ".output_file",
			})
		}
		if e.Name != "" && !KnownCollector(e.Name) {
			diags = append(diags, Diagnostic{
				Code:     "MF-013",
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("%q is not a known builtin collector", e.Name),
				Path:     path + ".name",
			})
		}
		if len(e.Args) > 0 {
			diags = append(diags, Diagnostic{
				Code:     "MF-014",
				Severity: SeverityWarning,
				Message:  "args are ignored for internal entries",
				Path:     path + ".args",
			})
		}
	}

	return diags
}
