package webhook

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/KnotATypo/Telegram-Bots/internal/dispatcher"
)

var ErrUnknownTenant = errors.New("unknown tenant")

// Bot is a registered tenant as seen by the endpoint.
type Bot interface {
	dispatcher.Handler
	Tenant() string
	Authorized(token string) bool
}

// Registry maps tenant names to bots.
type Registry struct {
	mu   sync.RWMutex
	bots map[string]Bot
}

func NewRegistry(bots ...Bot) *Registry {
	r := &Registry{bots: make(map[string]Bot)}
	for _, b := range bots {
		r.bots[b.Tenant()] = b
	}
	return r
}

// Register adds b, replacing any bot already registered under its tenant.
func (r *Registry) Register(b Bot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bots[b.Tenant()] = b
}

func (r *Registry) Lookup(tenant string) (Bot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bots[tenant]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTenant, tenant)
	}
	return b, nil
}

// Tenants returns the registered tenant names in sorted order.
func (r *Registry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenants := make([]string, 0, len(r.bots))
	for t := range r.bots {
		tenants = append(tenants, t)
	}
	slices.Sort(tenants)
	return tenants
}
