// Package manifest defines the declarative collection manifest consumed by
// the talon engine: prioritized sections of entries, each describing one
// data-gathering operation and the strategy used to execute it.
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Manifest is the top-level document: named task sections plus the template
// for the final output filename.
type Manifest struct {
	Tasks          map[string]Section `yaml:"tasks"`
	OutputFilename string             `yaml:"output_filename"`
}

// Section groups entries that share an intent, executed together at one
// priority level. Entries are keyed by category name; each category holds an
// ordered list.
type Section struct {
	Priority uint8              `yaml:"priority"`
	Kind     SectionKind        `yaml:"type"`
	Entries  map[string][]Entry `yaml:"entries"`
}

// Entry describes one collection or execution item. All fields are optional
// in the document; validation decides which combinations are usable.
type Entry struct {
	DirPath    string    `yaml:"dir_path,omitempty"`
	Name       string    `yaml:"name,omitempty"`
	OutputFile string    `yaml:"output_file,omitempty"`
	Args       []string  `yaml:"args,omitempty"`
	Objects    []string  `yaml:"objects,omitempty"`
	MaxSize    uint64    `yaml:"max_size,omitempty"`
	Encrypt    string    `yaml:"encrypt,omitempty"`
	Match      MatchType `yaml:"type,omitempty"`
	Exec       ExecType  `yaml:"exec_type,omitempty"`
}

// Load reads and parses a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes manifest YAML. Unknown fields and unknown enum variants are
// rejected.
func Parse(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return &m, nil
}

// NamedSection pairs a section with its key in the tasks mapping.
type NamedSection struct {
	Name    string
	Section Section
}

// OrderedSections returns sections sorted by ascending priority. Ties are
// broken by section name so a manifest always replays in the same order.
func (m *Manifest) OrderedSections() []NamedSection {
	out := make([]NamedSection, 0, len(m.Tasks))
	for name, sec := range m.Tasks {
		out = append(out, NamedSection{Name: name, Section: sec})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Section.Priority != out[j].Section.Priority {
			return out[i].Section.Priority < out[j].Section.Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// OrderedCategories returns the section's category names in sorted order.
// Entries within a category keep their declared order.
func (s Section) OrderedCategories() []string {
	out := make([]string, 0, len(s.Entries))
	for name := range s.Entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// EntryCount returns the total number of entries across all sections.
func (m *Manifest) EntryCount() int {
	n := 0
	for _, sec := range m.Tasks {
		for _, entries := range sec.Entries {
			n += len(entries)
		}
	}
	return n
}
