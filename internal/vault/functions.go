package vault

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed functions.yaml
var builtinFunctions []byte

// Requirements declares which vault sections a function needs.
type Requirements struct {
	Machine      bool `yaml:"machine" json:"machine"`
	Team         bool `yaml:"team" json:"team"`
	Organization bool `yaml:"organization" json:"organization"`
	Repository   bool `yaml:"repository" json:"repository"`
	Storage      bool `yaml:"storage" json:"storage"`
	Plugin       bool `yaml:"plugin" json:"plugin"`
	Bridge       bool `yaml:"bridge" json:"bridge"`
}

// ParamType is the declared type of a function parameter.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamInt    ParamType = "int"
	ParamBool   ParamType = "bool"
	ParamList   ParamType = "list"
)

// Param declares one function parameter.
type Param struct {
	Name     string    `yaml:"name" json:"name"`
	Type     ParamType `yaml:"type" json:"type"`
	Required bool      `yaml:"required" json:"required"`
	Enum     []string  `yaml:"enum,omitempty" json:"enum,omitempty"`
}

// Function is a registry entry.
type Function struct {
	Name         string       `yaml:"-" json:"name"`
	Category     string       `yaml:"category" json:"category"`
	Public       bool         `yaml:"public" json:"public"`
	Description  string       `yaml:"description,omitempty" json:"description,omitempty"`
	Requirements Requirements `yaml:"requirements" json:"requirements"`
	Params       []Param      `yaml:"params,omitempty" json:"params,omitempty"`
}

// Registry is the static table of bridge functions. It is read-only once
// loaded and safe for concurrent use.
type Registry struct {
	funcs map[string]Function
}

type registryFile struct {
	Functions map[string]Function `yaml:"functions"`
}

// LoadRegistry parses a registry document.
func LoadRegistry(r io.Reader) (*Registry, error) {
	var f registryFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse function registry: %w", err)
	}
	if len(f.Functions) == 0 {
		return nil, fmt.Errorf("function registry is empty")
	}

	reg := &Registry{funcs: make(map[string]Function, len(f.Functions))}
	for name, fn := range f.Functions {
		fn.Name = name
		for _, p := range fn.Params {
			if p.Name == "" {
				return nil, fmt.Errorf("function %q: parameter without a name", name)
			}
			switch p.Type {
			case "", ParamString, ParamInt, ParamBool, ParamList:
			default:
				return nil, fmt.Errorf("function %q: parameter %q has unknown type %q", name, p.Name, p.Type)
			}
		}
		reg.funcs[name] = fn
	}
	return reg, nil
}

// LoadRegistryFile reads a registry document from path. An empty path
// selects the built-in table.
func LoadRegistryFile(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open function registry: %w", err)
	}
	defer f.Close()
	return LoadRegistry(f)
}

var defaultRegistry = mustParseBuiltin()

func mustParseBuiltin() *Registry {
	reg, err := LoadRegistry(bytes.NewReader(builtinFunctions))
	if err != nil {
		panic(err)
	}
	return reg
}

// DefaultRegistry returns the built-in function table.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Lookup returns the named function.
func (r *Registry) Lookup(name string) (Function, bool) {
	fn, ok := r.funcs[name]
	return fn, ok
}

// Requirements returns the declared requirements of name. Unknown names
// require nothing.
func (r *Registry) Requirements(name string) Requirements {
	return r.funcs[name].Requirements
}

// Public reports whether name may be queued by callers.
func (r *Registry) Public(name string) bool {
	fn, ok := r.funcs[name]
	return ok && fn.Public
}

// Functions returns all entries sorted by category then name.
func (r *Registry) Functions() []Function {
	out := make([]Function, 0, len(r.funcs))
	for _, fn := range r.funcs {
		out = append(out, fn)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Names returns the sorted function names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
