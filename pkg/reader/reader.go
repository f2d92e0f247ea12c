// Package reader implements the Reader Registry: driver discovery and
// validation, canonical SIM/eSE/SD naming, and the per-Reader state (basic
// channel slot, default-application-selected flag, Access Rule Cache) that
// the engine and ACE packages operate on under the Reader's lock.
package reader

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/barnettlynn/seaccess/pkg/ace"
	"github.com/barnettlynn/seaccess/pkg/seaerr"
	"github.com/barnettlynn/seaccess/pkg/terminal"
)

// Kind classifies a Terminal driver by its declared type, used both for
// permission validation and canonical naming.
type Kind int

const (
	KindOther Kind = iota
	KindSIM
	KindESE
	KindSD
)

func (k Kind) prefix() string {
	switch k {
	case KindSIM:
		return "SIM"
	case KindESE:
		return "eSE"
	case KindSD:
		return "SD"
	default:
		return "OTHER"
	}
}

// String renders k for display, e.g. in "secli readers".
func (k Kind) String() string { return k.prefix() }

// Permission mirrors the platform-service permissions a candidate driver
// must declare before the registry will bind to it.
type Permission int

const (
	PermBindTerminal Permission = iota
	PermSystemTerminal
)

// Candidate is a discovered, not-yet-validated Terminal driver.
type Candidate struct {
	Kind        Kind
	Permissions map[Permission]bool
	Open        func() (terminal.Terminal, error)
}

func (c Candidate) has(p Permission) bool {
	return c.Permissions != nil && c.Permissions[p]
}

// validate applies §4.6 step 2: BIND_TERMINAL is always required; SIM/eSE/SD
// additionally require SYSTEM_TERMINAL.
func (c Candidate) validate() bool {
	if !c.has(PermBindTerminal) {
		return false
	}
	if c.Kind == KindSIM || c.Kind == KindESE || c.Kind == KindSD {
		return c.has(PermSystemTerminal)
	}
	return true
}

// Reader is one bound Terminal driver and its per-Reader state. The mutex
// guards the basic-channel-in-use flag, the default-application-selected
// flag, and the Access Rule Cache — matching the single-Reader-lock model
// of §5.
//
// Terminal is nil when the driver bound (passed validate()) but its Open
// failed to initialize: per §4.6 step 4 the Reader still occupies a slot
// and is still named and listed, it just permanently reports
// IsCardPresent()==false instead of ever reaching the driver.
type Reader struct {
	Name     string
	Kind     Kind
	Terminal terminal.Terminal
	openErr  error

	mu                     sync.Mutex
	basicChannelInUse      bool
	defaultApplicationSel  bool
	cache                  *ace.Cache
	initialized            bool
}

// Lock/Unlock expose the Reader's mutex to the engine and ACE packages,
// which must hold it across openBasicChannel/openLogicalChannel and cache
// reload sequences.
func (r *Reader) Lock()   { r.mu.Lock() }
func (r *Reader) Unlock() { r.mu.Unlock() }

func (r *Reader) BasicChannelInUse() bool      { return r.basicChannelInUse }
func (r *Reader) SetBasicChannelInUse(v bool)  { r.basicChannelInUse = v }
func (r *Reader) DefaultApplicationSelected() bool     { return r.defaultApplicationSel }
func (r *Reader) SetDefaultApplicationSelected(v bool) { r.defaultApplicationSel = v }

// Cache returns the Reader's Access Rule Cache, lazily constructing it.
func (r *Reader) Cache() *ace.Cache {
	if r.cache == nil {
		r.cache = ace.NewCache()
	}
	return r.cache
}

// IsCardPresent reports whether the underlying Terminal currently sees a
// Secure Element, never blocking on a held lock. A Reader whose driver
// failed to initialize (Terminal == nil) always reports false.
func (r *Reader) IsCardPresent() bool {
	if r.Terminal == nil {
		return false
	}
	present, err := r.Terminal.IsCardPresent(context.Background())
	if err != nil {
		return false
	}
	return present
}

// Registry is the Reader Registry (C6).
type Registry struct {
	mu      sync.Mutex
	readers []*Reader
	byName  map[string]*Reader
}

// NewRegistry builds a Registry by discovering, validating, naming, and
// binding every candidate driver, per §4.6 steps 1-4.
func NewRegistry(candidates []Candidate) (*Registry, error) {
	reg := &Registry{byName: map[string]*Reader{}}
	counts := map[Kind]int{}

	for _, c := range candidates {
		if !c.validate() {
			continue
		}
		t, err := c.Open()
		if err != nil {
			// Force a true-nil interface: a concrete *T failure value
			// returned through the terminal.Terminal interface would
			// otherwise be a non-nil interface wrapping a nil pointer.
			t = nil
		}
		// A driver that fails to initialize still occupies a slot and
		// permanently reports card-not-present (§4.6 step 4): it keeps its
		// Kind-based canonical name and its place in the registry, with a
		// nil Terminal and the Open error recorded for diagnostics.
		counts[c.Kind]++
		name := canonicalName(c.Kind, counts[c.Kind])
		r := &Reader{Name: name, Kind: c.Kind, Terminal: t, openErr: err}
		reg.readers = append(reg.readers, r)
		reg.byName[name] = r
	}

	reg.sortCanonical()
	return reg, nil
}

func canonicalName(k Kind, index int) string {
	if k == KindSIM && index == 1 {
		return "SIM"
	}
	return fmt.Sprintf("%s%d", k.prefix(), index)
}

// sortCanonical orders SIM, then eSE, then SD, then everything else, each
// group by increasing index, per §4.6 step 5.
func (reg *Registry) sortCanonical() {
	rank := func(k Kind) int {
		switch k {
		case KindSIM:
			return 0
		case KindESE:
			return 1
		case KindSD:
			return 2
		default:
			return 3
		}
	}
	sort.SliceStable(reg.readers, func(i, j int) bool {
		return rank(reg.readers[i].Kind) < rank(reg.readers[j].Kind)
	})
}

// ListReaders returns reader names in canonical enumeration order.
func (reg *Registry) ListReaders() []string {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	names := make([]string, len(reg.readers))
	for i, r := range reg.readers {
		names[i] = r.Name
	}
	return names
}

// Readers returns a snapshot of every bound Reader, in canonical order, for
// callers that need to operate on each one directly (ACE cache reload,
// "secli readers").
func (reg *Registry) Readers() []*Reader {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make([]*Reader, len(reg.readers))
	copy(out, reg.readers)
	return out
}

// GetReader looks up a Reader by canonical name.
func (reg *Registry) GetReader(name string) (*Reader, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.byName[name]
	if !ok {
		return nil, &seaerr.ReferenceNotFoundError{Reference: fmt.Sprintf("reader %q", name)}
	}
	return r, nil
}

// Shutdown unbinds every driver and clears caches.
func (reg *Registry) Shutdown() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, r := range reg.readers {
		r.Lock()
		if r.cache != nil {
			r.cache.Reset()
		}
		r.Unlock()
		if r.Terminal != nil {
			_ = r.Terminal.Close()
		}
	}
	reg.readers = nil
	reg.byName = map[string]*Reader{}
}
