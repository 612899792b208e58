package supplier

import "fmt"

// Registry maps a Provider's wire protocol name to the Client that knows
// how to speak it, the supplier-side counterpart to internal/protocol's
// codec Registry — an explicit, dependency-injected table rather than a
// package-level singleton.
type Registry struct {
	clients map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

func (r *Registry) Register(providerProtocol string, c Client) {
	r.clients[providerProtocol] = c
}

func (r *Registry) Client(providerProtocol string) (Client, error) {
	c, ok := r.clients[providerProtocol]
	if !ok {
		return nil, fmt.Errorf("no supplier client registered for provider protocol %q", providerProtocol)
	}
	return c, nil
}
