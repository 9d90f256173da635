package manifest

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// SectionKind labels a section's intent. The engine passes it through to
// consumers; dispatch never branches on it.
type SectionKind string

const (
	SectionExecute SectionKind = "execute"
	SectionCollect SectionKind = "collect"
)

// UnmarshalYAML rejects anything but the two known kinds.
func (k *SectionKind) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch SectionKind(s) {
	case SectionExecute, SectionCollect:
		*k = SectionKind(s)
		return nil
	}
	return fmt.Errorf("unknown section type %q (want %q or %q)", s, SectionExecute, SectionCollect)
}

// MatchType selects how Objects patterns are interpreted by downstream
// consumers of an entry.
type MatchType string

const (
	MatchString MatchType = "string"
	MatchGlob   MatchType = "glob"
	MatchRegex  MatchType = "regex"
)

func (t *MatchType) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch MatchType(s) {
	case MatchString, MatchGlob, MatchRegex:
		*t = MatchType(s)
		return nil
	}
	return fmt.Errorf("unknown match type %q (want %q, %q, or %q)", s, MatchString, MatchGlob, MatchRegex)
}

// ExecType selects the execution strategy for an entry.
type ExecType string

const (
	// ExecUnspecified is the zero value for entries that omit exec_type.
	// The dispatcher rejects such entries rather than guessing.
	ExecUnspecified ExecType = ""

	// ExecExternal stages an embedded payload to disk and spawns it.
	ExecExternal ExecType = "external"

	// ExecInternal invokes an in-process builtin collector.
	ExecInternal ExecType = "internal"

	// ExecSystem spawns an already-installed executable by name.
	ExecSystem ExecType = "system"
)

func (t *ExecType) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch ExecType(s) {
	case ExecExternal, ExecInternal, ExecSystem:
		*t = ExecType(s)
		return nil
	}
	return fmt.Errorf("unknown exec type %q (want %q, %q, or %q)", s, ExecExternal, ExecInternal, ExecSystem)
}

// String returns the wire form of the exec type.
func (t ExecType) String() string {
	if t == ExecUnspecified {
		return "unspecified"
	}
	return string(t)
}
