// Package discovery finds errand definition files on disk and registers the
// errands they describe.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	yaml "go.yaml.in/yaml/v3"

	"errands/internal/domain"
	"errands/internal/handlers"
	"errands/internal/registry"
	"errands/internal/scheduler"
)

// Definition is one entry of a definition file.
type Definition struct {
	Name     string         `yaml:"name"`
	Cron     string         `yaml:"cron"`
	Category string         `yaml:"category"`
	Timezone string         `yaml:"timezone"`
	Handler  string         `yaml:"handler"`
	Payload  map[string]any `yaml:"payload"`
}

type file struct {
	Errands []Definition `yaml:"errands"`
}

// Loader registers definitions into a registry. Each file is loaded at most
// once, keyed by absolute path.
type Loader struct {
	reg      *registry.Registry
	handlers map[string]handlers.Handler
	loc      *time.Location
	log      *zerolog.Logger

	mu     sync.Mutex
	loaded map[string]struct{}
}

type Option func(*Loader)

func WithHandlers(h map[string]handlers.Handler) Option {
	return func(l *Loader) { l.handlers = h }
}

// WithLocation sets the timezone used by definitions that do not name one.
func WithLocation(loc *time.Location) Option {
	return func(l *Loader) { l.loc = loc }
}

func WithLogger(lg zerolog.Logger) Option {
	return func(l *Loader) { l.log = &lg }
}

func NewLoader(reg *registry.Registry, opts ...Option) *Loader {
	l := &Loader{
		reg:      reg,
		handlers: handlers.Builtin(),
		loc:      time.Local,
		loaded:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = &log.Logger
	}
	return l
}

// IsDefinitionFile reports whether name matches *errands.yaml or *errands.yml.
func IsDefinitionFile(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, "errands.yaml") || strings.HasSuffix(name, "errands.yml")
}

// Discover walks root and loads every definition file below it. Hidden
// directories are skipped. It returns the number of errands registered.
func (l *Loader) Discover(root string) (int, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if IsDefinitionFile(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("discover %s: %w", root, err)
	}
	sort.Strings(paths)

	total := 0
	for _, p := range paths {
		n, err := l.LoadFile(p)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// LoadFile registers the definitions in path. A file already loaded returns
// (0, nil).
func (l *Loader) LoadFile(path string) (int, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.loaded[abs]; ok {
		return 0, nil
	}

	b, err := os.ReadFile(abs)
	if err != nil {
		return 0, err
	}
	defs, err := Parse(b)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", abs, err)
	}

	// validate everything first so a bad entry leaves the registry untouched
	type pending struct {
		def  Definition
		fn   func(context.Context) error
		opts []registry.Option
	}
	ready := make([]pending, 0, len(defs))
	for i, def := range defs {
		fn, opts, err := l.build(def)
		if err != nil {
			return 0, fmt.Errorf("%s: errands[%d] %q: %w", abs, i, def.Name, err)
		}
		ready = append(ready, pending{def: def, fn: fn, opts: opts})
	}
	for i, p := range ready {
		h, err := l.reg.Register(p.def.Cron, p.fn, p.opts...)
		if err != nil {
			return i, fmt.Errorf("%s: errands[%d] %q: %w", abs, i, p.def.Name, err)
		}
		if h.Replaced() {
			l.log.Warn().
				Str("file", abs).
				Str("errand", p.def.Name).
				Str("category", string(h.Errand().Category())).
				Msg("errand definition replaced an existing errand with the same name")
		}
	}
	l.loaded[abs] = struct{}{}
	l.log.Info().Str("file", abs).Int("errands", len(ready)).Msg("definition file loaded")
	return len(ready), nil
}

// Parse decodes the errands list of a definition file. Unknown keys are
// rejected.
func Parse(b []byte) ([]Definition, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("yaml decode: %w", err)
	}
	return f.Errands, nil
}

func (l *Loader) build(def Definition) (func(context.Context) error, []registry.Option, error) {
	if strings.TrimSpace(def.Name) == "" {
		return nil, nil, fmt.Errorf("name is required")
	}
	if err := scheduler.Validate(def.Cron); err != nil {
		return nil, nil, err
	}
	if def.Category != "" {
		if _, err := domain.ParseCategory(def.Category); err != nil {
			return nil, nil, err
		}
	}
	h, ok := l.handlers[def.Handler]
	if !ok {
		return nil, nil, fmt.Errorf("unknown handler %q", def.Handler)
	}
	payload, err := json.Marshal(normalizeYAML(def.Payload))
	if err != nil {
		return nil, nil, fmt.Errorf("payload: %w", err)
	}
	loc := l.loc
	if def.Timezone != "" {
		if loc, err = time.LoadLocation(def.Timezone); err != nil {
			return nil, nil, fmt.Errorf("timezone: %w", err)
		}
	}
	opts := []registry.Option{registry.Name(def.Name), registry.Location(loc)}
	if def.Category != "" {
		opts = append(opts, registry.Category(def.Category))
	}
	fn := func(ctx context.Context) error {
		return h.Handle(ctx, payload)
	}
	return fn, opts, nil
}

// normalizeYAML turns map[any]any into map[string]any so the payload can be
// JSON-encoded.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
