// Package config implements the configuration registry: a set of named,
// lazily-constructed, typed blocks sourced from explicit overrides,
// environment variables, a TOML file, and schema defaults, in that
// precedence order. Modeled on the Python ConfigurationRegistry
// singleton, re-expressed as an explicitly constructed object threaded
// through the startup sequence rather than a hidden global — see
// DESIGN.md.
package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// DefaultConfigFilePaths is the search order for the TOML configuration
// file: the first file found wins.
var DefaultConfigFilePaths = []string{"./agent.toml", "/etc/observability/agent.toml"}

// ErrAlreadyRegistered is returned by Register when a block name is
// already present.
type ErrAlreadyRegistered struct{ Name string }

func (e *ErrAlreadyRegistered) Error() string {
	return fmt.Sprintf("configuration block %q is already registered", e.Name)
}

// ErrNotRegistered is returned by strict lookups that must not lazily
// construct (none currently do, but kept for symmetry with the source
// design).
type ErrNotRegistered struct{ Name string }

func (e *ErrNotRegistered) Error() string {
	return fmt.Sprintf("configuration block %q is not registered", e.Name)
}

// Registry owns every constructed configuration block for one agent
// process. It is safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	blocks map[string]any

	filePaths []string
	fileOnce  sync.Once
	file      map[string]map[string]any
	fileErr   error
}

// NewRegistry constructs an empty registry that will search the given
// file paths (DefaultConfigFilePaths if nil) for its TOML source.
func NewRegistry(filePaths []string) *Registry {
	if filePaths == nil {
		filePaths = DefaultConfigFilePaths
	}
	return &Registry{
		blocks:    make(map[string]any),
		filePaths: filePaths,
	}
}

func (r *Registry) loadFile() (map[string]map[string]any, error) {
	r.fileOnce.Do(func() {
		for _, path := range r.filePaths {
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			var parsed map[string]map[string]any
			if err := toml.Unmarshal(data, &parsed); err != nil {
				r.fileErr = fmt.Errorf("parse %s: %w", path, err)
				return
			}
			r.file = parsed
			return
		}
		r.file = map[string]map[string]any{}
	})
	return r.file, r.fileErr
}

func (r *Registry) section(name string) map[string]any {
	file, err := r.loadFile()
	if err != nil || file == nil {
		return nil
	}
	return file[name]
}

// Builder constructs a typed block from a resolved FieldSource. Each
// block type (CoreConfig, HTTPConfig, tool-specific blocks, ...)
// supplies one.
type Builder[T any] func(src *FieldSource) (T, error)

// Register constructs and stores a new block under name. It fails if
// the name is already registered.
func Register[T any](r *Registry, name string, envPrefixes []string, build Builder[T]) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if _, ok := r.blocks[name]; ok {
		return zero, &ErrAlreadyRegistered{Name: name}
	}

	src := newFieldSource(nil, envPrefixes, r.section(name))
	block, err := build(src)
	if err != nil {
		return zero, fmt.Errorf("register %q: %w", name, err)
	}
	r.blocks[name] = block
	return block, nil
}

// Lookup returns the registered block, lazily registering it on first
// access.
func Lookup[T any](r *Registry, name string, envPrefixes []string, build Builder[T]) (T, error) {
	r.mu.Lock()
	existing, ok := r.blocks[name]
	r.mu.Unlock()

	if ok {
		typed, ok := existing.(T)
		if !ok {
			var zero T
			return zero, fmt.Errorf("lookup %q: registered block has unexpected type", name)
		}
		return typed, nil
	}

	block, err := Register(r, name, envPrefixes, build)
	if err != nil {
		var already *ErrAlreadyRegistered
		if ok := isAlreadyRegistered(err, &already); ok {
			// Lost a race with a concurrent Register; retry the read.
			r.mu.Lock()
			existing := r.blocks[name]
			r.mu.Unlock()
			typed, ok := existing.(T)
			if ok {
				return typed, nil
			}
		}
		var zero T
		return zero, err
	}
	return block, nil
}

func isAlreadyRegistered(err error, target **ErrAlreadyRegistered) bool {
	e, ok := err.(*ErrAlreadyRegistered)
	if !ok {
		return false
	}
	*target = e
	return true
}

// Available reports whether the block can be constructed from current
// sources, registering it lazily if so. On failure it returns false and
// leaves the registry untouched.
func Available[T any](r *Registry, name string, envPrefixes []string, build Builder[T]) bool {
	r.mu.Lock()
	if _, ok := r.blocks[name]; ok {
		r.mu.Unlock()
		return true
	}
	r.mu.Unlock()

	_, err := Lookup(r, name, envPrefixes, build)
	return err == nil
}

// Mutate builds a fresh block with overrides layered at the highest
// precedence, without touching the registered block. The returned
// block equals Lookup(name) on every field except those present in
// overrides.
func Mutate[T any](r *Registry, name string, envPrefixes []string, build Builder[T], overrides map[string]any) (T, error) {
	src := newFieldSource(overrides, envPrefixes, r.section(name))
	return build(src)
}

// Add replaces (or creates) the registered block for name.
func Add[T any](r *Registry, name string, block T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks[name] = block
}

// FatalOnInvalid logs a concise per-field summary and exits the process
// with status 1, per §4.1's "schema validation errors at registration
// are fatal" rule. Call this around startup registration, never inside
// a running loop.
func FatalOnInvalid(name string, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "configuration %q invalid: %v\n", name, err)
	os.Exit(1)
}
