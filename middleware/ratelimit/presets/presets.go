// Package presets holds named quotas shared by every route of a service.
package presets

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"admission-gateway/middleware/ratelimit/domain"
)

const (
	NameStandard = "standard"
	NameStrict   = "strict"
	NamePublic   = "public"
	NameWebhook  = "webhook"
)

var (
	Standard = domain.Quota{MaxRequests: 60, WindowMs: 60_000}
	Strict   = domain.Quota{MaxRequests: 10, WindowMs: 60_000}
	Public   = domain.Quota{MaxRequests: 100, WindowMs: 60_000}
	Webhook  = domain.Quota{MaxRequests: 1000, WindowMs: 60_000}
)

var ErrUnknownPreset = errors.New("unknown preset")

// Registry maps preset names to quotas. Names are case-insensitive.
type Registry struct {
	mu     sync.RWMutex
	quotas map[string]domain.Quota
}

// NewRegistry returns a registry seeded with the built-in presets.
func NewRegistry() *Registry {
	return &Registry{quotas: map[string]domain.Quota{
		NameStandard: Standard,
		NameStrict:   Strict,
		NamePublic:   Public,
		NameWebhook:  Webhook,
	}}
}

func normalize(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

func (r *Registry) Get(name string) (domain.Quota, error) {
	r.mu.RLock()
	q, ok := r.quotas[normalize(name)]
	r.mu.RUnlock()
	if !ok {
		return domain.Quota{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return q, nil
}

func (r *Registry) MustGet(name string) domain.Quota {
	q, err := r.Get(name)
	if err != nil {
		panic(err)
	}
	return q
}

// Register adds or replaces a preset.
func (r *Registry) Register(name string, q domain.Quota) error {
	n := normalize(name)
	if n == "" {
		return errors.New("preset name is empty")
	}
	if err := q.Validate(); err != nil {
		return fmt.Errorf("preset %q: %w", n, err)
	}

	r.mu.Lock()
	r.quotas[n] = q
	r.mu.Unlock()
	return nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.quotas))
	for n := range r.quotas {
		names = append(names, n)
	}
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}

// LoadYAML registers every preset of a document shaped like:
//
//	strict:
//	  maxRequests: 5
//	  windowMs: 30000
//
// Nothing is registered if any entry is invalid.
func (r *Registry) LoadYAML(in io.Reader) error {
	var doc map[string]domain.Quota
	if err := yaml.NewDecoder(in).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode presets: %w", err)
	}

	names := make([]string, 0, len(doc))
	for n, q := range doc {
		if normalize(n) == "" {
			return errors.New("preset name is empty")
		}
		if err := q.Validate(); err != nil {
			return fmt.Errorf("preset %q: %w", n, err)
		}
		names = append(names, n)
	}

	slices.Sort(names)
	for _, n := range names {
		if err := r.Register(n, doc[n]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open presets file: %w", err)
	}
	defer f.Close()

	return r.LoadYAML(f)
}
