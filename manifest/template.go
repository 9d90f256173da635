package manifest

import (
	"os"
	"regexp"
	"strings"
	"time"
)

// datetimeLayout matches the original tool's output naming scheme.
const datetimeLayout = "2006-01-02_15-04-05"

// ExpandedOutputFilename resolves the {{hostname}} and {{datetime}} template
// tokens in the output filename. Unrecognized tokens are left as-is.
func (m *Manifest) ExpandedOutputFilename() string {
	return expandOutputFilename(m.OutputFilename, time.Now())
}

func expandOutputFilename(tmpl string, now time.Time) string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "machine"
	}

	vars := map[string]string{
		"hostname": hostname,
		"datetime": now.Format(datetimeLayout),
	}

	out := tmpl
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{{"+key+"}}", value)
	}
	return out
}

var winEnvPattern = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_]*)%`)

// ExpandedDirPath returns dir_path with environment variables resolved.
// Both $VAR/${VAR} and %VAR% forms are supported; unset variables expand to
// the empty string. dir_path is the only entry field that gets expansion.
func (e Entry) ExpandedDirPath() string {
	expanded := os.ExpandEnv(e.DirPath)
	return winEnvPattern.ReplaceAllStringFunc(expanded, func(match string) string {
		name := match[1 : len(match)-1]
		return os.Getenv(name)
	})
}
