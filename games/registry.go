package games

import (
	"fmt"
	"sort"
	"strings"
)

// Registry maps a game kind to its plugin. It is built once at startup and
// never changes afterwards, so it needs no locking.
type Registry struct {
	plugins map[string]Plugin
	kinds   []string
}

func NewRegistry(plugins ...Plugin) (*Registry, error) {
	r := &Registry{plugins: make(map[string]Plugin, len(plugins))}
	for _, p := range plugins {
		kind := strings.ToUpper(p.Kind())
		if _, dup := r.plugins[kind]; dup {
			return nil, fmt.Errorf("game %s registered twice", kind)
		}
		r.plugins[kind] = p
		r.kinds = append(r.kinds, kind)
	}
	sort.Strings(r.kinds)
	return r, nil
}

func (r *Registry) Get(kind string) (Plugin, bool) {
	p, ok := r.plugins[strings.ToUpper(strings.TrimSpace(kind))]
	return p, ok
}

func (r *Registry) Kinds() []string {
	return append([]string(nil), r.kinds...)
}
