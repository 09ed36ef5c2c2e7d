// Copyright 2025 The Polis Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package prompt holds the versioned prompt catalog used by the agents.
//
// Prompts are content, not code: they live in an embedded YAML catalog
// keyed by (agent, task_kind, version) and are resolved at runtime.
// A key selects the highest version unless it pins one explicitly:
//
//	domain/intent_analysis     - highest version
//	domain/intent_analysis/v1  - pinned
//
// Templates contain {variable} placeholders resolved from a variable
// map at render time:
//
//	{variable}   - required, rendering fails when absent
//	{variable?}  - optional, empty string when absent
//
// Brace-delimited text that is not a valid identifier (JSON examples,
// for instance) is passed through verbatim.
package prompt

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/polisware/polis/pkg/fault"
)

//go:embed catalog.yaml
var catalogYAML []byte

// placeholderPattern matches {variable}, {variable?} and any other
// brace-delimited run without nested braces.
var placeholderPattern = regexp.MustCompile(`{+[^{}]*}+`)

// versionPattern matches a pinned version segment such as "v2".
var versionPattern = regexp.MustCompile(`^v(\d+)$`)

// Template is a single catalog entry.
type Template struct {
	Agent       string `yaml:"agent"`
	TaskKind    string `yaml:"task_kind"`
	Version     int    `yaml:"version"`
	Description string `yaml:"description,omitempty"`
	Text        string `yaml:"template"`
}

// Name returns the fully pinned key of the template.
func (t *Template) Name() string {
	return fmt.Sprintf("%s/%s/v%d", t.Agent, t.TaskKind, t.Version)
}

// Render resolves the template's placeholders from vars.
func (t *Template) Render(vars map[string]any) (string, error) {
	if t.Text == "" {
		return "", nil
	}

	var out strings.Builder
	last := 0
	for _, span := range placeholderPattern.FindAllStringIndex(t.Text, -1) {
		start, end := span[0], span[1]
		out.WriteString(t.Text[last:start])

		match := t.Text[start:end]
		replacement, err := t.replaceMatch(match, vars)
		if err != nil {
			return "", err
		}
		out.WriteString(replacement)
		last = end
	}
	out.WriteString(t.Text[last:])
	return out.String(), nil
}

// replaceMatch resolves a single {placeholder} occurrence.
func (t *Template) replaceMatch(match string, vars map[string]any) (string, error) {
	name := strings.TrimSpace(strings.Trim(match, "{}"))

	optional := false
	if strings.HasSuffix(name, "?") {
		optional = true
		name = strings.TrimSuffix(name, "?")
	}

	// JSON examples and other literal brace content pass through.
	if !isIdentifier(name) {
		return match, nil
	}

	value, ok := vars[name]
	if !ok || value == nil {
		if optional {
			return "", nil
		}
		return "", fault.Newf(fault.PromptError, "prompt %s: missing variable %q", t.Name(), name)
	}
	return fmt.Sprintf("%v", value), nil
}

// Placeholders returns the distinct placeholder names in the template,
// in order of first appearance. Optional markers are stripped.
func (t *Template) Placeholders() []string {
	var names []string
	seen := make(map[string]bool)
	for _, match := range placeholderPattern.FindAllString(t.Text, -1) {
		name := strings.TrimSpace(strings.Trim(match, "{}"))
		name = strings.TrimSuffix(name, "?")
		if !isIdentifier(name) || seen[name] {
			continue
		}
		names = append(names, name)
		seen[name] = true
	}
	return names
}

// isIdentifier reports whether s is a letter-or-underscore led
// identifier, the only shape treated as a placeholder name.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' {
				return false
			}
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}

// Store is an immutable, read-only view over the catalog.
type Store struct {
	// byKey maps "agent/task_kind" to versions sorted ascending.
	byKey map[string][]*Template
}

type catalogFile struct {
	Prompts []*Template `yaml:"prompts"`
}

// NewStore loads the embedded catalog.
func NewStore() (*Store, error) {
	return NewStoreFromBytes(catalogYAML)
}

// NewStoreFromBytes builds a store from raw catalog YAML. Duplicate
// (agent, task_kind, version) triples and empty templates are rejected
// so a broken catalog fails at startup, not mid-conversation.
func NewStoreFromBytes(data []byte) (*Store, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fault.Wrap(fault.PromptError, "parsing prompt catalog", err)
	}
	if len(file.Prompts) == 0 {
		return nil, fault.New(fault.PromptError, "prompt catalog is empty")
	}

	byKey := make(map[string][]*Template)
	for _, tpl := range file.Prompts {
		if tpl.Agent == "" || tpl.TaskKind == "" {
			return nil, fault.Newf(fault.PromptError, "prompt entry missing agent or task_kind: %+v", tpl)
		}
		if tpl.Version < 1 {
			return nil, fault.Newf(fault.PromptError, "prompt %s/%s: version must be >= 1", tpl.Agent, tpl.TaskKind)
		}
		if strings.TrimSpace(tpl.Text) == "" {
			return nil, fault.Newf(fault.PromptError, "prompt %s: empty template", tpl.Name())
		}
		key := tpl.Agent + "/" + tpl.TaskKind
		for _, existing := range byKey[key] {
			if existing.Version == tpl.Version {
				return nil, fault.Newf(fault.PromptError, "prompt %s: duplicate version", tpl.Name())
			}
		}
		byKey[key] = append(byKey[key], tpl)
	}
	for _, versions := range byKey {
		sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	}
	return &Store{byKey: byKey}, nil
}

// Resolve returns the template for a key. A two-segment key
// ("agent/task_kind") selects the highest version; a three-segment key
// ("agent/task_kind/v2") pins one.
func (s *Store) Resolve(key string) (*Template, error) {
	parts := strings.Split(key, "/")
	switch len(parts) {
	case 2:
		versions, ok := s.byKey[parts[0]+"/"+parts[1]]
		if !ok {
			return nil, fault.Newf(fault.PromptError, "unknown prompt key %q", key)
		}
		return versions[len(versions)-1], nil
	case 3:
		m := versionPattern.FindStringSubmatch(parts[2])
		if m == nil {
			return nil, fault.Newf(fault.PromptError, "malformed prompt version in key %q", key)
		}
		want, _ := strconv.Atoi(m[1])
		versions, ok := s.byKey[parts[0]+"/"+parts[1]]
		if !ok {
			return nil, fault.Newf(fault.PromptError, "unknown prompt key %q", key)
		}
		for _, tpl := range versions {
			if tpl.Version == want {
				return tpl, nil
			}
		}
		return nil, fault.Newf(fault.PromptError, "prompt %s/%s: no version v%d", parts[0], parts[1], want)
	default:
		return nil, fault.Newf(fault.PromptError, "malformed prompt key %q", key)
	}
}

// Render resolves a key and renders it with vars in one step.
func (s *Store) Render(key string, vars map[string]any) (string, error) {
	tpl, err := s.Resolve(key)
	if err != nil {
		return "", err
	}
	return tpl.Render(vars)
}

// Keys lists all catalog keys in pinned form, sorted.
func (s *Store) Keys() []string {
	var keys []string
	for _, versions := range s.byKey {
		for _, tpl := range versions {
			keys = append(keys, tpl.Name())
		}
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of catalog entries across all versions.
func (s *Store) Len() int {
	n := 0
	for _, versions := range s.byKey {
		n += len(versions)
	}
	return n
}
