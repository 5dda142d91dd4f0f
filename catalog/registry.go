package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

var (
	// ErrUnknownEvent is returned for event names not in the registry.
	ErrUnknownEvent = errors.New("relay: unknown event")

	// ErrInvalidDefinition is returned by Register for malformed definitions.
	ErrInvalidDefinition = errors.New("relay: invalid event definition")
)

// SchemaError reports a payload that does not satisfy its event's schema.
type SchemaError struct {
	Event string
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("relay: payload for %q does not match schema: %v", e.Event, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

type entry struct {
	def    Definition
	schema *jsonschema.Schema
}

// Registry is a concurrency-safe set of event definitions.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	validator *Validator
}

// NewRegistry returns a registry holding defs. It panics on an invalid
// definition, which is a programming error for compiled-in catalogs.
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{
		entries:   make(map[string]*entry),
		validator: NewValidator(),
	}
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds or replaces a definition. The schema, if any, is compiled
// up front so a bad schema fails here rather than at dispatch.
func (r *Registry) Register(def Definition) error {
	if err := validName(def.Name); err != nil {
		return err
	}

	var compiled *jsonschema.Schema
	if len(def.Schema) > 0 {
		s, err := r.validator.Compile(def.Name, def.Schema)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidDefinition, def.Name, err)
		}
		compiled = s
	}

	r.mu.Lock()
	r.entries[def.Name] = &entry{def: def, schema: compiled}
	r.mu.Unlock()
	return nil
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Definition{}, false
	}
	return e.def, true
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns all definitions sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defs := make([]Definition, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, e.def)
	}
	r.mu.RUnlock()

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Expand resolves subscription patterns to concrete registered names,
// deduplicated and sorted. A pattern matching nothing is an error.
func (r *Registry) Expand(patterns []string) ([]string, error) {
	names := r.List()
	seen := make(map[string]struct{})
	var unknown []string

	for _, p := range patterns {
		matched := false
		for _, d := range names {
			if Match(p, d.Name) {
				seen[d.Name] = struct{}{}
				matched = true
			}
		}
		if !matched {
			unknown = append(unknown, p)
		}
	}

	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, strings.Join(unknown, ", "))
	}

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// Validate checks that name is registered and that payload satisfies its
// schema. A nil or empty payload is validated as JSON null.
func (r *Registry) Validate(name string, payload json.RawMessage) error {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, name)
	}
	if e.schema == nil {
		return nil
	}
	if err := r.validator.Validate(e.schema, payload); err != nil {
		return &SchemaError{Event: name, Err: err}
	}
	return nil
}

func validName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDefinition)
	}
	if name == TestEvent {
		return fmt.Errorf("%w: %s is reserved", ErrInvalidDefinition, name)
	}
	if strings.ContainsAny(name, "* \t\n") {
		return fmt.Errorf("%w: %q", ErrInvalidDefinition, name)
	}
	for _, seg := range strings.Split(name, ".") {
		if seg == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidDefinition, name)
		}
	}
	return nil
}
