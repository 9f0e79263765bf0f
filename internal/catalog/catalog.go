// Package catalog maps study task identifiers to the item kind, display
// title, and image each produces in the history timeline.
//
// A default catalog covering the standard study tasks is embedded in the
// binary; deployments can override or extend it with a YAML file.
package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mstride/historyd/internal/store"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Entry describes one task identifier known to the study.
type Entry struct {
	ID    string     `yaml:"id"`
	Kind  store.Kind `yaml:"kind"`
	Title string     `yaml:"title"`
	Image string     `yaml:"image,omitempty"`
}

// Catalog resolves task identifiers to their display metadata.
type Catalog struct {
	entries map[string]Entry
}

type catalogFile struct {
	Tasks []Entry `yaml:"tasks"`
}

// Default returns the catalog embedded in the binary.
func Default() *Catalog {
	c, err := parse(defaultCatalog)
	if err != nil {
		// The embedded catalog is validated by tests; a parse failure
		// here is a build defect.
		panic(fmt.Sprintf("embedded catalog invalid: %v", err))
	}
	return c
}

// Load reads a catalog from a YAML file. Entries in the file are merged
// over the embedded defaults, so a deployment only lists the tasks it
// wants to add or override.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %s: %w", path, err)
	}

	override, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog file %s: %w", path, err)
	}

	c := Default()
	for id, entry := range override.entries {
		c.entries[id] = entry
	}
	return c, nil
}

func parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}

	entries := make(map[string]Entry, len(file.Tasks))
	for i, e := range file.Tasks {
		if e.ID == "" {
			return nil, fmt.Errorf("task %d: id is required", i)
		}
		if !e.Kind.Valid() {
			return nil, fmt.Errorf("task %q: unknown kind %q", e.ID, e.Kind)
		}
		if e.Title == "" {
			return nil, fmt.Errorf("task %q: title is required", e.ID)
		}
		entries[e.ID] = e
	}

	return &Catalog{entries: entries}, nil
}

// Lookup resolves a task identifier. Unknown identifiers resolve to false
// so the merge engine can skip tasks the study doesn't display.
func (c *Catalog) Lookup(taskID string) (Entry, bool) {
	e, ok := c.entries[taskID]
	return e, ok
}

// TaskIDs returns every known task identifier, for sync-window queries.
func (c *Catalog) TaskIDs() []string {
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}
