package tools

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"sort"
	"strings"
	"sync"

	"google.golang.org/genai"

	"baton/internal/logging"
)

// Kind identifies which provider family a tool came from.
type Kind string

const (
	KindBuiltin      Kind = "builtin"
	KindSkill        Kind = "skill"
	KindPluginBridge Kind = "plugin-bridge"
)

var nameRe = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// SanitizeName strips characters the backend rejects in tool names.
func SanitizeName(name string) string {
	clean := nameRe.ReplaceAllString(name, "_")
	if strings.Trim(clean, "_") == "" {
		return "tool"
	}
	return clean
}

// entry is one registered tool with its provenance.
type entry struct {
	tool Tool
	kind Kind
	// name is the exposed (possibly suffixed) name; it may differ from
	// tool.Name() after sanitization or collision resolution.
	name string
}

// Registry maps exposed tool names to providers. It is rebuilt each loop
// iteration by Merge, so the set tracks dynamically changing skill and
// bridge tools; reads after construction are lock-free for the loop that
// owns it.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

// Set is one provider family's tool list, consumed by Merge.
type Set struct {
	Kind  Kind
	Tools []Tool
}

// Merge builds a Registry from provider sets in priority order: an earlier
// set keeps its name on collision, a later one gets a stable hash suffix.
func Merge(sets ...Set) *Registry {
	r := &Registry{entries: make(map[string]entry)}
	for _, set := range sets {
		for _, t := range set.Tools {
			name := SanitizeName(t.Name())
			if _, taken := r.entries[name]; taken {
				suffixed := fmt.Sprintf("%s_%s", name, stableHash(string(set.Kind)+":"+t.Name()))
				logging.Warn("tool name collision", "name", name, "kind", set.Kind, "renamed", suffixed)
				name = suffixed
				if _, still := r.entries[name]; still {
					continue
				}
			}
			r.entries[name] = entry{tool: t, kind: set.Kind, name: name}
			r.order = append(r.order, name)
		}
	}
	return r
}

// stableHash returns a short hash that is identical across runs for the
// same input, so renamed tools keep their names between iterations.
func stableHash(s string) string {
	h := fnv.New32a()
	h.Write([]byte(s))
	return fmt.Sprintf("%06x", h.Sum32()&0xffffff)
}

// Resolve looks up the provider for an exposed tool name.
func (r *Registry) Resolve(name string) (Tool, Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, "", false
	}
	return e.tool, e.kind, true
}

// Names lists the exposed tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Declarations returns the schema list sent to the backend. Builtin tools
// keep registration order; skill and bridge tools follow sorted by name so
// the schema list is deterministic across iterations.
func (r *Registry) Declarations() []*genai.FunctionDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var builtin, dynamic []string
	for _, name := range r.order {
		if r.entries[name].kind == KindBuiltin {
			builtin = append(builtin, name)
		} else {
			dynamic = append(dynamic, name)
		}
	}
	sort.Strings(dynamic)

	decls := make([]*genai.FunctionDeclaration, 0, len(r.order))
	for _, name := range append(builtin, dynamic...) {
		e := r.entries[name]
		decl := e.tool.Declaration()
		if decl == nil {
			continue
		}
		if decl.Name != name {
			// Expose under the merged name, leaving the provider's
			// declaration untouched.
			clone := *decl
			clone.Name = name
			decl = &clone
		}
		decls = append(decls, decl)
	}
	return decls
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
