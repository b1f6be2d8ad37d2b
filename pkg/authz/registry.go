package authz

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var (
	ErrEmptyName     = errors.New("authz: policy name is empty")
	ErrDuplicateName = errors.New("authz: policy already exists")
	ErrUnknownPolicy = errors.New("authz: unknown policy")
)

// Registry holds named requirements so transports and configuration can
// refer to a policy by name.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]Requirement
}

func NewRegistry(policies map[string]Requirement) (*Registry, error) {
	r := &Registry{
		policies: map[string]Requirement{},
	}

	for name, requirement := range policies {
		if err := r.Register(name, requirement); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Registry) Register(name string, requirement Requirement) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.policies[name]; exists {
		return ErrDuplicateName
	}

	r.policies[name] = requirement.Normalize()
	return nil
}

func (r *Registry) Policy(name string) (Requirement, bool) {
	if r == nil {
		return Requirement{}, false
	}

	r.mu.RLock()
	requirement, ok := r.policies[name]
	r.mu.RUnlock()
	return requirement, ok
}

// MustPolicy is Policy for route tables built at startup.
func (r *Registry) MustPolicy(name string) Requirement {
	requirement, ok := r.Policy(name)
	if !ok {
		panic(ErrUnknownPolicy.Error() + ": " + name)
	}
	return requirement
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}
