package state

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	pref "github.com/goliatone/go-preference"
)

// Recommended domain priorities, mirroring a preferences search list.
// Higher numbers win.
const (
	PriorityRegistration = 100
	PriorityGlobal       = 200
	PriorityApplication  = 300
	PriorityArgument     = 400
)

const (
	DomainRegistration = "registration"
	DomainGlobal       = "global"
	DomainApplication  = "application"
	DomainArgument     = "argument"
)

var (
	// ErrDomainNameRequired indicates a domain without a name.
	ErrDomainNameRequired = errors.New("state: domain name must be provided")
	// ErrDuplicateDomain indicates two domains with the same name.
	ErrDuplicateDomain = errors.New("state: domain names must be unique")
	// ErrPriorityOrder indicates two domains with the same priority.
	ErrPriorityOrder = errors.New("state: domain priorities must be strictly ordered")
	// ErrUnknownDomain indicates a lookup for a domain that is not layered.
	ErrUnknownDomain = errors.New("state: unknown domain")
	// ErrStoreRequired indicates a domain without a backing store.
	ErrStoreRequired = errors.New("state: store is required")
)

// Domain is one named layer of a LayeredStore.
type Domain struct {
	Name     string
	Label    string
	Priority int
	Store    pref.Store
}

// DomainOption configures a Domain on creation.
type DomainOption func(*Domain)

// WithDomainLabel sets a human-friendly label on the domain.
func WithDomainLabel(label string) DomainOption {
	return func(d *Domain) {
		d.Label = label
	}
}

// NewDomain builds a Domain. Validation is deferred to NewLayeredStore.
func NewDomain(name string, priority int, store pref.Store, opts ...DomainOption) Domain {
	domain := Domain{Name: name, Priority: priority, Store: store}
	for _, opt := range opts {
		if opt != nil {
			opt(&domain)
		}
	}
	return domain
}

// LayeredStore resolves keys across domains ordered from strongest to
// weakest. Reads return the strongest domain holding the key; writes and
// removals go to the write domain only, so a stronger domain can mask them.
type LayeredStore struct {
	domains []Domain
	write   int
}

var (
	_ pref.ObservingStore = (*LayeredStore)(nil)
	_ pref.WriteEchoer    = (*LayeredStore)(nil)
	_ pref.Lister         = (*LayeredStore)(nil)
)

// NewLayeredStore validates and orders domains, strongest first. Writes go
// to the domain named writeDomain.
func NewLayeredStore(writeDomain string, domains ...Domain) (*LayeredStore, error) {
	if len(domains) == 0 {
		return nil, fmt.Errorf("state: at least one domain is required")
	}

	seen := make(map[string]struct{}, len(domains))
	ordered := slices.Clone(domains)
	for _, domain := range ordered {
		if strings.TrimSpace(domain.Name) == "" {
			return nil, ErrDomainNameRequired
		}
		if domain.Store == nil {
			return nil, fmt.Errorf("%w: domain %s", ErrStoreRequired, domain.Name)
		}
		if _, ok := seen[domain.Name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDomain, domain.Name)
		}
		seen[domain.Name] = struct{}{}
	}

	slices.SortFunc(ordered, func(a, b Domain) int {
		if a.Priority == b.Priority {
			return strings.Compare(a.Name, b.Name)
		}
		return b.Priority - a.Priority
	})
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1].Priority <= ordered[i].Priority {
			return nil, fmt.Errorf("%w: %d", ErrPriorityOrder, ordered[i].Priority)
		}
	}

	write := slices.IndexFunc(ordered, func(d Domain) bool { return d.Name == writeDomain })
	if write < 0 {
		return nil, fmt.Errorf("%w: write domain %q", ErrUnknownDomain, writeDomain)
	}
	return &LayeredStore{domains: ordered, write: write}, nil
}

// StandardLayers assembles the usual search list: an argument domain seeded
// from arguments, app as the application (write) domain and an in-memory
// registration domain for Register.
func StandardLayers(arguments map[string]any, app pref.Store) (*LayeredStore, error) {
	return NewLayeredStore(DomainApplication,
		NewDomain(DomainArgument, PriorityArgument, NewMemoryStore(arguments), WithDomainLabel("Arguments")),
		NewDomain(DomainApplication, PriorityApplication, app, WithDomainLabel("Application")),
		NewDomain(DomainRegistration, PriorityRegistration, NewMemoryStore(nil), WithDomainLabel("Registered Defaults")),
	)
}

func (s *LayeredStore) Get(key string) (any, bool) {
	for _, domain := range s.domains {
		if value, ok := domain.Store.Get(key); ok {
			return value, true
		}
	}
	return nil, false
}

func (s *LayeredStore) Set(key string, value any) {
	s.domains[s.write].Store.Set(key, value)
}

func (s *LayeredStore) Remove(key string) {
	s.domains[s.write].Store.Remove(key)
}

// Register writes defaults into the registration domain. Registered values
// are never persisted and lose to every other domain.
func (s *LayeredStore) Register(defaults map[string]any) error {
	domain, err := s.Domain(DomainRegistration)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(defaults))
	for key := range defaults {
		if err := pref.ValidateKey(key); err != nil {
			return err
		}
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		domain.Store.Set(key, defaults[key])
	}
	return nil
}

// Domain returns the named domain.
func (s *LayeredStore) Domain(name string) (Domain, error) {
	for _, domain := range s.domains {
		if domain.Name == name {
			return domain, nil
		}
	}
	return Domain{}, fmt.Errorf("%w: %s", ErrUnknownDomain, name)
}

// Domains returns the domains strongest first.
func (s *LayeredStore) Domains() []Domain {
	return slices.Clone(s.domains)
}

// EchoesWrites reports whether writes come back through Observe. Only the
// write domain decides; observable argument or registration domains do not
// echo writes that land elsewhere.
func (s *LayeredStore) EchoesWrites() bool {
	store := s.domains[s.write].Store
	if echoer, ok := store.(pref.WriteEchoer); ok {
		return echoer.EchoesWrites()
	}
	_, ok := store.(pref.Observer)
	return ok
}

// Observe follows key across every observable domain. Each change in any
// domain reports the effective value after the change, so a change masked by
// a stronger domain reports the unchanged effective value.
func (s *LayeredStore) Observe(key string, fn func(pref.Change)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	var cancels []func()
	for _, domain := range s.domains {
		observer, ok := domain.Store.(pref.Observer)
		if !ok {
			continue
		}
		cancels = append(cancels, observer.Observe(key, func(pref.Change) {
			value, ok := s.Get(key)
			fn(pref.Change{Key: key, Value: value, Removed: !ok})
		}))
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			for _, c := range cancels {
				c()
			}
		})
	}
}

// Keys returns the union of the keys of every listable domain, sorted.
func (s *LayeredStore) Keys() []string {
	seen := map[string]struct{}{}
	for _, domain := range s.domains {
		lister, ok := domain.Store.(pref.Lister)
		if !ok {
			continue
		}
		for _, key := range lister.Keys() {
			seen[key] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Trace reports how every domain contributes to key.
func (s *LayeredStore) Trace(key string) Trace {
	trace := Trace{Key: key, Layers: make([]Provenance, 0, len(s.domains))}
	for _, domain := range s.domains {
		value, ok := domain.Store.Get(key)
		trace.Layers = append(trace.Layers, Provenance{
			Domain:   domain.Name,
			Label:    domain.Label,
			Priority: domain.Priority,
			Value:    value,
			Found:    ok,
		})
	}
	return trace
}
