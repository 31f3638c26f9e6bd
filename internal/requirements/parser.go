// Package requirements turns free-form job declarations into capability
// requirements. Parsing is table-driven and permissive: tags it does not
// recognize become required capabilities verbatim, and image or service hints
// only ever add preferred capabilities, never required ones.
package requirements

import (
	"regexp"
	"sort"
	"strings"
)

// Declaration is the job definition handed to the engine by the CI system.
type Declaration struct {
	Tags      []string          `json:"tags" yaml:"tags"`
	Image     string            `json:"image" yaml:"image"`
	Services  []string          `json:"services" yaml:"services"`
	Variables map[string]string `json:"variables" yaml:"variables"`
	Timeout   string            `json:"timeout" yaml:"timeout"`
}

// Requirement is the parsed view of a declaration: hard constraints in
// Required, ranking hints in Preferred. Both keep first-seen order.
type Requirement struct {
	JobName        string
	Required       []string
	Preferred      []string
	Tags           []string
	ResourceHints  map[string]string
	TimeoutSeconds int
}

// RequiredSet returns the required capabilities as a lookup set.
func (r Requirement) RequiredSet() map[string]struct{} {
	out := make(map[string]struct{}, len(r.Required))
	for _, c := range r.Required {
		out[c] = struct{}{}
	}
	return out
}

// PreferenceScore is the fraction of preferred capabilities the given runner
// capability set covers. An empty preferred set scores 1 for everyone, so
// preferences can only break ties, never exclude.
func (r Requirement) PreferenceScore(runnerCaps map[string]struct{}) float64 {
	if len(r.Preferred) == 0 {
		return 1.0
	}
	matched := 0
	for _, c := range r.Preferred {
		if _, ok := runnerCaps[c]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(r.Preferred))
}

// defaultTagMappings maps declared tags to required capabilities.
var defaultTagMappings = map[string][]string{
	"docker-any": {"docker"},
	"docker":     {"docker"},
	"shell":      {"shell"},
	"kubernetes": {"kubernetes"},
	"k8s":        {"kubernetes"},
	"gcp":        {"gcp"},
	"aws":        {"aws"},
	"azure":      {"azure"},
	"gpu":        {"gpu"},
	"nordic":     {"nordic", "gcp"},
	"macos":      {"macos", "shell"},
	"windows":    {"windows"},
	"linux":      {"linux"},
	"arm64":      {"arm64"},
	"local":      {"local"},
}

// imagePattern adds preferred capabilities when an image name matches.
type imagePattern struct {
	re   *regexp.Regexp
	caps []string
}

var imagePatterns = []imagePattern{
	{regexp.MustCompile(`(?i)nvidia|cuda`), []string{"gpu"}},
	{regexp.MustCompile(`(?i)arm64|aarch64`), []string{"arm64"}},
	{regexp.MustCompile(`(?i)windows`), []string{"windows"}},
	{regexp.MustCompile(`(?i)alpine|ubuntu|debian|centos`), []string{"linux"}},
}

// serviceCapabilities adds preferred capabilities when a service name contains
// the key as a substring.
var serviceCapabilities = []struct {
	substr string
	caps   []string
}{
	{"docker:dind", []string{"docker"}},
	{"postgres", []string{"linux"}},
	{"mysql", []string{"linux"}},
	{"redis", []string{"linux"}},
	{"mongo", []string{"linux"}},
}

// Parser maps declarations to requirements via fixed tables, optionally
// extended with custom tag mappings.
type Parser struct {
	tagMappings map[string][]string
}

// NewParser creates a parser with the default tables. Custom mappings
// override defaults for the same tag.
func NewParser(customTagMappings map[string][]string) *Parser {
	mappings := make(map[string][]string, len(defaultTagMappings)+len(customTagMappings))
	for tag, caps := range defaultTagMappings {
		mappings[tag] = caps
	}
	for tag, caps := range customTagMappings {
		mappings[strings.ToLower(tag)] = append([]string(nil), caps...)
	}
	return &Parser{tagMappings: mappings}
}

// Parse extracts the requirement from one job declaration. Pure: no side
// effects, identical inputs give identical outputs.
func (p *Parser) Parse(decl Declaration, jobName string) Requirement {
	req := Requirement{
		JobName:       jobName,
		Tags:          append([]string(nil), decl.Tags...),
		ResourceHints: map[string]string{},
	}

	for _, tag := range decl.Tags {
		lower := strings.ToLower(strings.TrimSpace(tag))
		if lower == "" {
			continue
		}
		if caps, ok := p.tagMappings[lower]; ok {
			req.Required = append(req.Required, caps...)
		} else {
			// Free-form tag: treat it as a capability of the same name.
			req.Required = append(req.Required, lower)
		}
	}

	if decl.Image != "" {
		// A container image means the job needs a container executor.
		req.Required = append(req.Required, "docker")
		for _, pat := range imagePatterns {
			if pat.re.MatchString(decl.Image) {
				req.Preferred = append(req.Preferred, pat.caps...)
			}
		}
	}

	for _, service := range decl.Services {
		for _, svc := range serviceCapabilities {
			if strings.Contains(service, svc.substr) {
				req.Preferred = append(req.Preferred, svc.caps...)
			}
		}
	}

	if mem, ok := decl.Variables["CI_RUNNER_MEMORY"]; ok {
		req.ResourceHints["memory"] = mem
	}
	if cpu, ok := decl.Variables["CI_RUNNER_CPU"]; ok {
		req.ResourceHints["cpu"] = cpu
	}

	if decl.Timeout != "" {
		req.TimeoutSeconds = parseTimeout(decl.Timeout)
	}

	req.Required = dedupe(req.Required)
	req.Preferred = dedupe(req.Preferred)
	return req
}

// AddTagMapping adds or replaces one tag-to-capabilities mapping.
func (p *Parser) AddTagMapping(tag string, caps []string) {
	p.tagMappings[strings.ToLower(tag)] = append([]string(nil), caps...)
}

// TagMappings returns the active mappings with tags in lexical order, for
// explanation output.
func (p *Parser) TagMappings() []string {
	tags := make([]string, 0, len(p.tagMappings))
	for tag := range p.tagMappings {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// dedupe removes duplicates while preserving first-seen order.
func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
