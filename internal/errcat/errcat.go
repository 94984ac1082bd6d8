// Package errcat maps per-model numeric drive error codes to a description
// and an operator-facing advice string. It is grounded on the lazy,
// lru_cache-memoized error_descriptions() of hw_device_mgr's ErrorDevice,
// reimplemented with per-model sync.Once so initialization stays
// at-most-once under concurrent first access even though the pipeline
// itself is single-threaded.
package errcat

import (
	"fmt"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

// Entry is one catalog row.
type Entry struct {
	Code        uint32
	Description string
	Advice      string
}

func unknown(code uint32) Entry {
	return Entry{
		Code:        code,
		Description: fmt.Sprintf("Unknown error code %d", code),
		Advice:      "Contact technical support",
	}
}

// Loader resolves the raw catalog for a model id, e.g. by reading a
// device_err/<model>.yaml resource.
type Loader func(modelID string) (map[uint32]Entry, error)

// Registry is a process-wide, lazily-initialized set of per-model catalogs.
type Registry struct {
	load Loader

	mu       sync.Mutex
	once     map[string]*sync.Once
	catalogs map[string]map[uint32]Entry
}

// NewRegistry builds a registry backed by load. load is invoked at most
// once per distinct model id, the first time that model is looked up.
func NewRegistry(load Loader) *Registry {
	return &Registry{
		load:     load,
		once:     make(map[string]*sync.Once),
		catalogs: make(map[string]map[uint32]Entry),
	}
}

// Lookup returns the catalog entry for (modelID, code), or a synthesized
// "unknown error code" entry if the model's catalog has no such code.
// Code 0 (no error) yields the zero Entry.
func (r *Registry) Lookup(modelID string, code uint32) Entry {
	if code == 0 {
		return Entry{}
	}
	cat := r.catalogFor(modelID)
	if e, ok := cat[code]; ok {
		return e
	}
	return unknown(code)
}

func (r *Registry) catalogFor(modelID string) map[uint32]Entry {
	r.mu.Lock()
	once, ok := r.once[modelID]
	if !ok {
		once = &sync.Once{}
		r.once[modelID] = once
	}
	r.mu.Unlock()

	once.Do(func() {
		cat, err := r.load(modelID)
		r.mu.Lock()
		defer r.mu.Unlock()
		if err != nil {
			// Initialization failure degrades to an empty catalog; every
			// lookup for this model falls back to unknown() rather than
			// retrying load() on every tick.
			r.catalogs[modelID] = map[uint32]Entry{}
			return
		}
		r.catalogs[modelID] = cat
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.catalogs[modelID]
}

// yamlEntry mirrors one row of a device_err/<model>.yaml resource:
//
//	"0x7305":
//	  description: "Overcurrent"
//	  advice: "Check motor wiring and load"
type yamlEntry struct {
	Description string `yaml:"description"`
	Advice      string `yaml:"advice"`
}

// ParseYAML decodes a device_err/<model>.yaml resource into a catalog map.
// Keys may be decimal or 0x-prefixed hex, matching the original source's
// `int(err_code_str, 0)` parsing.
func ParseYAML(data []byte) (map[uint32]Entry, error) {
	raw := make(map[string]yamlEntry)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("errcat: parse catalog: %w", err)
	}
	out := make(map[uint32]Entry, len(raw))
	for codeStr, e := range raw {
		code, err := strconv.ParseUint(codeStr, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("errcat: invalid error code key %q: %w", codeStr, err)
		}
		out[uint32(code)] = Entry{Code: uint32(code), Description: e.Description, Advice: e.Advice}
	}
	return out, nil
}
