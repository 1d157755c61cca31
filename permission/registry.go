package permission

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

const maxRoles = 64

// Registry maps role names to bit positions within a [Mask64].
type Registry struct {
	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	frozen    bool
}

// NewRegistry creates an empty, unfrozen role [Registry].
func NewRegistry() *Registry {
	return &Registry{
		nameToBit: make(map[string]int),
		bitToName: make(map[int]string),
	}
}

// NewFrozenRegistry registers names in order and freezes the result.
func NewFrozenRegistry(names ...string) (*Registry, error) {
	r := NewRegistry()
	for _, name := range names {
		if _, err := r.Register(name); err != nil {
			return nil, fmt.Errorf("register role %q: %w", name, err)
		}
	}
	r.Freeze()
	return r, nil
}

// Register assigns the next available bit to the named role.
// Returns the assigned bit index. Must be called before [Registry.Freeze].
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, errors.New("registry frozen")
	}

	if name == "" {
		return -1, errors.New("role name cannot be empty")
	}

	if _, exists := r.nameToBit[name]; exists {
		return -1, errors.New("role already registered")
	}

	nextBit := len(r.nameToBit)
	if nextBit >= maxRoles {
		return -1, errors.New("role limit exceeded")
	}

	r.nameToBit[name] = nextBit
	r.bitToName[nextBit] = name

	return nextBit, nil
}

// Bit returns the bit index for the named role, or false if not registered.
func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

// Name returns the role name for the given bit index, or false if unassigned.
func (r *Registry) Name(bit int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.bitToName[bit]
	return name, ok
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Count returns the number of registered roles.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nameToBit)
}

// Roles returns the registered role names in bit order.
func (r *Registry) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.nameToBit))
	for name := range r.nameToBit {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return r.nameToBit[out[i]] < r.nameToBit[out[j]] })
	return out
}

// RoleSet compiles names into a mask. Unknown names are an error so typos in
// route declarations fail at startup rather than silently forbidding.
func (r *Registry) RoleSet(names ...string) (Mask64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var m Mask64
	for _, name := range names {
		bit, ok := r.nameToBit[name]
		if !ok {
			return 0, fmt.Errorf("unknown role %q", name)
		}
		m.Set(bit)
	}
	return m, nil
}
