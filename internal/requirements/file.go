package requirements

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// reservedKeys are top-level CI config keys that are not job definitions.
var reservedKeys = map[string]struct{}{
	"default":   {},
	"include":   {},
	"variables": {},
	"stages":    {},
	"workflow":  {},
	"image":     {},
}

// Declarations parses an entire CI configuration document and returns the
// raw job declaration for every job it defines. Keys starting with "."
// (templates) and reserved configuration keys are skipped. Jobs without tags
// inherit the tags of the `default:` section.
func (p *Parser) Declarations(content []byte) (map[string]Declaration, error) {
	var config map[string]any
	if err := yaml.Unmarshal(content, &config); err != nil {
		return nil, fmt.Errorf("failed to parse CI configuration: %w", err)
	}

	var defaultTags []string
	if def, ok := config["default"].(map[string]any); ok {
		defaultTags = stringList(def["tags"])
	}

	decls := make(map[string]Declaration)
	for name, raw := range config {
		if strings.HasPrefix(name, ".") {
			continue
		}
		if _, reserved := reservedKeys[name]; reserved {
			continue
		}
		body, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		decl := declarationFromMap(body)
		if len(decl.Tags) == 0 && len(defaultTags) > 0 {
			decl.Tags = defaultTags
		}
		decls[name] = decl
	}
	return decls, nil
}

// ParseFile parses an entire CI configuration document and extracts the
// requirement for every job it defines.
func (p *Parser) ParseFile(content []byte) (map[string]Requirement, error) {
	decls, err := p.Declarations(content)
	if err != nil {
		return nil, err
	}

	jobs := make(map[string]Requirement, len(decls))
	names := make([]string, 0, len(decls))
	for name := range decls {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		jobs[name] = p.Parse(decls[name], name)
	}
	return jobs, nil
}

func declarationFromMap(body map[string]any) Declaration {
	decl := Declaration{
		Tags:      stringList(body["tags"]),
		Variables: map[string]string{},
	}

	switch image := body["image"].(type) {
	case string:
		decl.Image = image
	case map[string]any:
		if name, ok := image["name"].(string); ok {
			decl.Image = name
		}
	}

	// Services may be plain strings or {name: ...} mappings.
	if raw, ok := body["services"].([]any); ok {
		for _, svc := range raw {
			switch v := svc.(type) {
			case string:
				decl.Services = append(decl.Services, v)
			case map[string]any:
				if name, ok := v["name"].(string); ok {
					decl.Services = append(decl.Services, name)
				}
			}
		}
	}

	if vars, ok := body["variables"].(map[string]any); ok {
		for k, v := range vars {
			decl.Variables[k] = fmt.Sprintf("%v", v)
		}
	}

	switch timeout := body["timeout"].(type) {
	case string:
		decl.Timeout = timeout
	case int:
		decl.Timeout = fmt.Sprintf("%d", timeout)
	}

	return decl
}

func stringList(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		if s, ok := v.(string); ok {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
