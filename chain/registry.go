package chain

import (
	"fmt"
	"sort"
	"sync"
)

// entry is a registered chain.
type entry struct {
	params  Params
	adapter Adapter
}

// Registry maps chain ids to their adapters and parameters. It is safe for
// concurrent use.
type Registry struct {
	sync.RWMutex

	chains map[ID]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		chains: make(map[ID]*entry),
	}
}

// Register adds a chain to the registry.
func (r *Registry) Register(params Params, adapter Adapter) error {
	if err := params.Validate(); err != nil {
		return err
	}

	if adapter == nil {
		return fmt.Errorf("chain %v: adapter must be set", params.ID)
	}

	r.Lock()
	defer r.Unlock()

	if _, ok := r.chains[params.ID]; ok {
		return fmt.Errorf("%w: %v", ErrChainExists, params.ID)
	}

	r.chains[params.ID] = &entry{
		params:  params,
		adapter: adapter,
	}

	log.Infof("Registered %v chain %v (confirmations=%v)", params.Type,
		params.ID, params.RequiredConfirmations)

	return nil
}

// Adapter returns the adapter registered for the given chain.
func (r *Registry) Adapter(id ID) (Adapter, error) {
	r.RLock()
	defer r.RUnlock()

	e, ok := r.chains[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownChain, id)
	}

	return e.adapter, nil
}

// Params returns the parameters of the given chain.
func (r *Registry) Params(id ID) (Params, error) {
	r.RLock()
	defer r.RUnlock()

	e, ok := r.chains[id]
	if !ok {
		return Params{}, fmt.Errorf("%w: %v", ErrUnknownChain, id)
	}

	return e.params, nil
}

// Supported reports whether the given chain is registered.
func (r *Registry) Supported(id ID) bool {
	r.RLock()
	defer r.RUnlock()

	_, ok := r.chains[id]
	return ok
}

// Chains returns the ids of all registered chains in sorted order.
func (r *Registry) Chains() []ID {
	r.RLock()
	defer r.RUnlock()

	ids := make([]ID, 0, len(r.chains))
	for id := range r.chains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})

	return ids
}
