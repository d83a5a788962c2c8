package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"os"
	"time"

	"github.com/yuin/goldmark"
	"gopkg.in/yaml.v3"
)

// ItemType is the kind of content a learning-path item points at. It doubles
// as the progress type the browser saves under.
type ItemType string

const (
	ItemKata           ItemType = "kata"
	ItemSelfAssessment ItemType = "self-assessment"
	ItemLab            ItemType = "lab"
	ItemGuide          ItemType = "guide"
)

// ValidItemTypes is the set of all valid item types.
var ValidItemTypes = map[ItemType]bool{
	ItemKata:           true,
	ItemSelfAssessment: true,
	ItemLab:            true,
	ItemGuide:          true,
}

// Manifest lists the learning paths served to the docs site.
type Manifest struct {
	Version  int       `yaml:"version" json:"version"`
	Paths    []Path    `yaml:"paths" json:"paths"`
	LoadedAt time.Time `yaml:"-" json:"loadedAt"`
}

// Path is one ordered learning path.
type Path struct {
	ID              string `yaml:"id" json:"id"`
	Title           string `yaml:"title" json:"title"`
	Description     string `yaml:"description,omitempty" json:"description,omitempty"`
	DescriptionHTML string `yaml:"-" json:"descriptionHtml,omitempty"`
	Items           []Item `yaml:"items" json:"items"`
}

// Item is a single step of a path.
type Item struct {
	ID    string   `yaml:"id" json:"id"`
	Title string   `yaml:"title" json:"title"`
	Type  ItemType `yaml:"type" json:"type"`
	Path  string   `yaml:"path" json:"path"`
}

// Load reads and parses the manifest file at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, validates it and renders path descriptions to HTML.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	for i := range m.Paths {
		m.Paths[i].DescriptionHTML = renderMarkdown(m.Paths[i].Description)
	}
	m.LoadedAt = time.Now().UTC()
	return &m, nil
}

// Validate checks ids are present and unique and item types are known.
func (m *Manifest) Validate() error {
	var errs []error
	paths := make(map[string]struct{})
	for i, p := range m.Paths {
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("path %d: missing id", i))
		} else if _, dup := paths[p.ID]; dup {
			errs = append(errs, fmt.Errorf("path %q: duplicate id", p.ID))
		}
		paths[p.ID] = struct{}{}

		items := make(map[string]struct{})
		for j, it := range p.Items {
			if it.ID == "" {
				errs = append(errs, fmt.Errorf("path %q item %d: missing id", p.ID, j))
			} else if _, dup := items[it.ID]; dup {
				errs = append(errs, fmt.Errorf("path %q item %q: duplicate id", p.ID, it.ID))
			}
			items[it.ID] = struct{}{}

			if !ValidItemTypes[it.Type] {
				errs = append(errs, fmt.Errorf("path %q item %q: unknown type %q", p.ID, it.ID, it.Type))
			}
		}
	}
	return errors.Join(errs...)
}

// ItemCount returns the number of items across all paths.
func (m *Manifest) ItemCount() int {
	n := 0
	for _, p := range m.Paths {
		n += len(p.Items)
	}
	return n
}

func renderMarkdown(src string) string {
	if src == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		// Fall back to escaped text on render error.
		return "<p>" + html.EscapeString(src) + "</p>"
	}
	return buf.String()
}

// EventType is the SSE type manifest reloads are broadcast on.
const EventType = "manifest"

// Change is the payload broadcast after a reload.
type Change struct {
	Version  int       `json:"version"`
	Paths    int       `json:"paths"`
	Items    int       `json:"items"`
	LoadedAt time.Time `json:"loadedAt"`
}

// Change summarizes m for a reload notification.
func (m *Manifest) Change() Change {
	return Change{
		Version:  m.Version,
		Paths:    len(m.Paths),
		Items:    m.ItemCount(),
		LoadedAt: m.LoadedAt,
	}
}
