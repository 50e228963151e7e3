// Package prompts loads the prompt templates sent to chat models.
//
// A prompt file is a YAML mapping from template name to template text,
// optionally nested under a language key:
//
//	en:
//	  system: |
//	    You are {{.name}}, ...
//	zh:
//	  system: |
//	    ...
//
// Templates use Go text/template syntax. Every built-in agent ships an
// embedded default file so the binary runs without a data directory;
// Load reads an override from disk.
package prompts

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// ErrUnknownTemplate is returned by Render for a name the library lacks.
var ErrUnknownTemplate = errors.New("unknown prompt template")

// DefaultLang is used when the requested language is missing from a file.
const DefaultLang = "en"

//go:embed defaults
var defaults embed.FS

// Library is a named set of parsed templates.
type Library struct {
	source    string
	templates map[string]*template.Template
}

// Load reads a prompt file from disk.
func Load(path, lang string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts %s: %w", path, err)
	}
	return Parse(path, data, lang)
}

// Default returns the embedded prompts for a built-in agent, named as
// "<role>/<agent_type>" (for example "client/roleplaydoh").
func Default(name, lang string) (*Library, error) {
	data, err := defaults.ReadFile("defaults/" + strings.ToLower(name) + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("no default prompts for %q: %w", name, err)
	}
	return Parse(name, data, lang)
}

// LoadOrDefault reads path when set and the embedded default otherwise.
func LoadOrDefault(path, name, lang string) (*Library, error) {
	if path != "" {
		return Load(path, lang)
	}
	return Default(name, lang)
}

// Parse builds a library from YAML. When the document is keyed by language,
// lang selects the section, falling back to DefaultLang.
func Parse(source string, data []byte, lang string) (*Library, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse prompts %s: %w", source, err)
	}

	if lang == "" {
		lang = DefaultLang
	}
	if section, ok := doc[lang].(map[string]interface{}); ok {
		doc = section
	} else if section, ok := doc[DefaultLang].(map[string]interface{}); ok {
		doc = section
	}

	lib := &Library{source: source, templates: make(map[string]*template.Template)}
	if err := lib.add("", doc); err != nil {
		return nil, err
	}
	if len(lib.templates) == 0 {
		return nil, fmt.Errorf("prompts %s: no templates found", source)
	}
	return lib, nil
}

// add registers every string leaf. Nested mappings become dotted names.
func (l *Library) add(prefix string, node map[string]interface{}) error {
	for key, value := range node {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}
		switch v := value.(type) {
		case string:
			tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=zero").Parse(v)
			if err != nil {
				return fmt.Errorf("prompts %s: template %q: %w", l.source, name, err)
			}
			l.templates[name] = tmpl
		case map[string]interface{}:
			if err := l.add(name, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Has reports whether the library defines name.
func (l *Library) Has(name string) bool {
	_, ok := l.templates[name]
	return ok
}

// Names returns the template names in sorted order.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.templates))
	for name := range l.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render executes the named template with data. Missing keys render as
// empty text.
func (l *Library) Render(name string, data interface{}) (string, error) {
	tmpl, ok := l.templates[name]
	if !ok {
		return "", fmt.Errorf("%w: %q in %s", ErrUnknownTemplate, name, l.source)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %q: %w", name, err)
	}
	// text/template prints "<no value>" for absent map keys even with
	// missingkey=zero.
	return strings.TrimSpace(strings.ReplaceAll(buf.String(), "<no value>", "")), nil
}

var funcs = template.FuncMap{
	"join": strings.Join,
	"json": func(v interface{}) string {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	},
	"inc":   func(i int) int { return i + 1 },
	"title": title,
	"lower": strings.ToLower,
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
