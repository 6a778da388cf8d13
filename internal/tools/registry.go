package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/openguenther/guenther/pkg/models"
)

// Registry is the thread-safe name → descriptor map. It is written from a
// handful of places (boot, hot-reload, builder success) and read on every
// agent turn; readers work on snapshots so a turn never sees a tool vanish
// mid-iteration.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Descriptor
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Descriptor)}
}

// Register adds a descriptor, replacing any earlier entry with the same
// name. The input schema must compile as a JSON Schema.
func (r *Registry) Register(d Descriptor) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if d.Handler == nil {
		return fmt.Errorf("tool %s has no handler", d.Name)
	}
	if err := validateInputSchema(d.InputSchema); err != nil {
		return fmt.Errorf("tool %s has an invalid input schema: %w", d.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[d.Name] = d
	return nil
}

// Unregister removes one tool. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// UnregisterByOrigin removes every tool with the given origin tag and
// returns the removed names.
func (r *Registry) UnregisterByOrigin(origin string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for name, d := range r.tools {
		if d.Origin == origin {
			delete(r.tools, name)
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	return removed
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// ModelSchemas converts descriptors into the wire shape sent to the LLM.
func ModelSchemas(descriptors []Descriptor) []models.ToolDefinition {
	out := make([]models.ToolDefinition, len(descriptors))
	for i, d := range descriptors {
		out[i] = d.ModelDefinition()
	}
	return out
}

func validateInputSchema(schema map[string]any) error {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return err
	}
	if _, err := compiler.Compile("schema.json"); err != nil {
		return err
	}
	return nil
}
