// Package registry keeps the errands known to a process, grouped by category.
package registry

import (
	"fmt"
	"strings"
	"sync"

	"errands/internal/domain"
	"errands/internal/errand"
)

type bucket struct {
	order []string
	items map[string]*errand.Errand
}

// Registry maps category -> identity key -> errand. Insertion order is kept
// per category; replacing an entry keeps its original position.
type Registry struct {
	mu      sync.RWMutex
	buckets map[domain.Category]*bucket
	disp    Dispatcher
}

func New() *Registry {
	r := &Registry{buckets: make(map[domain.Category]*bucket, len(domain.Categories))}
	for _, c := range domain.Categories {
		r.buckets[c] = &bucket{items: map[string]*errand.Errand{}}
	}
	return r
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide registry, creating it on first use.
// It is never reset.
func Default() *Registry {
	defaultOnce.Do(func() { defaultReg = New() })
	return defaultReg
}

// Add inserts e or replaces the entry with the same identity in e's category.
func (r *Registry) Add(e *errand.Errand) (replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.buckets[e.Category()]
	if _, ok := b.items[e.ID()]; ok {
		replaced = true
	} else {
		b.order = append(b.order, e.ID())
	}
	b.items[e.ID()] = e
	return replaced
}

// Lookup returns the category's errands in insertion order.
func (r *Registry) Lookup(c domain.Category) []*errand.Errand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.buckets[c]
	if !ok {
		return nil
	}
	out := make([]*errand.Errand, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.items[id])
	}
	return out
}

func (r *Registry) Get(c domain.Category, id string) (*errand.Errand, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.buckets[c]
	if !ok {
		return nil, false
	}
	e, ok := b.items[id]
	return e, ok
}

func (r *Registry) Len(c domain.Category) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.buckets[c]; ok {
		return len(b.order)
	}
	return 0
}

// All returns every errand, SHORT first, then MEDIUM, then LONG.
func (r *Registry) All() []*errand.Errand {
	var out []*errand.Errand
	for _, c := range domain.Categories {
		out = append(out, r.Lookup(c)...)
	}
	return out
}

// Summary renders the registered errands per category, one per line.
func (r *Registry) Summary() string {
	var sb strings.Builder
	sb.WriteString("registered errands")
	for _, c := range domain.Categories {
		list := r.Lookup(c)
		fmt.Fprintf(&sb, "\n  %s (%d):", c, len(list))
		if len(list) == 0 {
			sb.WriteString(" none")
			continue
		}
		for _, e := range list {
			sb.WriteString("\n    ")
			sb.WriteString(e.String())
		}
	}
	return sb.String()
}
