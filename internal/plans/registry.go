package plans

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Plan maps an internal plan id to its Stripe price and the credit allotment
// granted on each paid billing period.
type Plan struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	StripePriceID    string `json:"stripe_price_id"`
	CreditsPerPeriod int64  `json:"credits_per_period"`
	TrialDays        int    `json:"trial_days"`
}

type PlansFile struct {
	Plans []Plan `json:"plans"`
}

type Registry struct {
	mu      sync.RWMutex
	plans   map[string]*Plan
	byPrice map[string]*Plan
}

func NewRegistry() *Registry {
	return &Registry{
		plans:   make(map[string]*Plan),
		byPrice: make(map[string]*Plan),
	}
}

func LoadFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans config: %w", err)
	}

	var file PlansFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse plans config: %w", err)
	}

	registry := NewRegistry()
	for i := range file.Plans {
		registry.Register(&file.Plans[i])
	}
	return registry, nil
}

func (r *Registry) Register(p *Plan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans[p.ID] = p
	if p.StripePriceID != "" {
		r.byPrice[p.StripePriceID] = p
	}
}

func (r *Registry) Get(planID string) *Plan {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.plans[planID]
}

func (r *Registry) Exists(planID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.plans[planID]
	return ok
}

// ByPriceID resolves a plan from the Stripe price carried on subscription
// events, used to track processor-confirmed plan changes.
func (r *Registry) ByPriceID(priceID string) *Plan {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byPrice[priceID]
}

func (r *Registry) All() []*Plan {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Plan, 0, len(r.plans))
	for _, p := range r.plans {
		result = append(result, p)
	}
	return result
}
