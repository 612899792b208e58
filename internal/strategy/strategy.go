// Package strategy implements the three candidate-selection strategies:
// RoundRobin, Priority, and CostFirst. Counter increments are atomic so
// concurrent selections for the same model distribute across the
// candidate list.
package strategy

import (
	"sort"
	"sync"

	"go.uber.org/atomic"

	"github.com/wayfare-ai/llmgateway/internal/pricing"
	"github.com/wayfare-ai/llmgateway/internal/routing"
)

// Extras carries the per-dispatch inputs a strategy may need beyond the
// candidate list itself.
type Extras struct {
	InputTokens int
	ImageCount  int
}

// Tried is the identity set the retry/failover executor maintains per
// request; strategies consult it
// to find the next untried candidate instead of requiring the caller to
// track a single "current" candidate across failover hops.
type Tried map[routing.Identity]struct{}

// Strategy is the common interface all three selection strategies satisfy.
type Strategy interface {
	// Select returns the first candidate to try for model.
	Select(candidates []routing.CandidateProvider, model string, extras Extras) (routing.CandidateProvider, bool)
	// GetNext returns the next untried candidate for model, or false if
	// every candidate in the list has already been tried.
	GetNext(candidates []routing.CandidateProvider, model string, tried Tried, extras Extras) (routing.CandidateProvider, bool)
}

// counters is a per-model monotonic counter set, shared by RoundRobin and
// Priority (which round-robins within its lowest untried-priority bucket).
type counters struct {
	mu    sync.Mutex
	byKey map[string]*atomic.Uint64
}

func newCounters() *counters {
	return &counters{byKey: make(map[string]*atomic.Uint64)}
}

func (c *counters) next(key string) uint64 {
	c.mu.Lock()
	ctr, ok := c.byKey[key]
	if !ok {
		ctr = atomic.NewUint64(0)
		c.byKey[key] = ctr
	}
	c.mu.Unlock()
	return ctr.Inc() - 1
}

func isTried(tried Tried, c routing.CandidateProvider) bool {
	if tried == nil {
		return false
	}
	_, ok := tried[c.Identity()]
	return ok
}

// untried filters candidates to those not yet present in tried, preserving
// order.
func untried(candidates []routing.CandidateProvider, tried Tried) []routing.CandidateProvider {
	out := make([]routing.CandidateProvider, 0, len(candidates))
	for _, c := range candidates {
		if !isTried(tried, c) {
			out = append(out, c)
		}
	}
	return out
}

// RoundRobin selects candidates[counter mod len] and increments a
// per-model monotonic counter on every Select; GetNext rotates forward
// through the untried remainder of the same list.
type RoundRobin struct {
	counters *counters
}

func NewRoundRobin() *RoundRobin { return &RoundRobin{counters: newCounters()} }

func (r *RoundRobin) Select(candidates []routing.CandidateProvider, model string, _ Extras) (routing.CandidateProvider, bool) {
	if len(candidates) == 0 {
		return routing.CandidateProvider{}, false
	}
	idx := r.counters.next(model) % uint64(len(candidates))
	return candidates[idx], true
}

func (r *RoundRobin) GetNext(candidates []routing.CandidateProvider, model string, tried Tried, _ Extras) (routing.CandidateProvider, bool) {
	remaining := untried(candidates, tried)
	if len(remaining) == 0 {
		return routing.CandidateProvider{}, false
	}
	idx := r.counters.next(model) % uint64(len(remaining))
	return remaining[idx], true
}

// Priority buckets candidates by Priority and round-robins within the
// lowest-priority bucket that still has untried candidates; failover
// walks to the next bucket once a bucket is exhausted.
type Priority struct {
	counters *counters
}

func NewPriority() *Priority { return &Priority{counters: newCounters()} }

func (p *Priority) Select(candidates []routing.CandidateProvider, model string, extras Extras) (routing.CandidateProvider, bool) {
	return p.GetNext(candidates, model, nil, extras)
}

func (p *Priority) GetNext(candidates []routing.CandidateProvider, model string, tried Tried, _ Extras) (routing.CandidateProvider, bool) {
	buckets := bucketByPriority(candidates)
	for _, priority := range sortedPriorities(buckets) {
		bucket := untried(buckets[priority], tried)
		if len(bucket) == 0 {
			continue
		}
		key := bucketKey(model, priority)
		idx := p.counters.next(key) % uint64(len(bucket))
		return bucket[idx], true
	}
	return routing.CandidateProvider{}, false
}

func bucketByPriority(candidates []routing.CandidateProvider) map[int][]routing.CandidateProvider {
	buckets := make(map[int][]routing.CandidateProvider)
	for _, c := range candidates {
		buckets[c.Priority] = append(buckets[c.Priority], c)
	}
	return buckets
}

func sortedPriorities(buckets map[int][]routing.CandidateProvider) []int {
	priorities := make([]int, 0, len(buckets))
	for p := range buckets {
		priorities = append(priorities, p)
	}
	sort.Ints(priorities)
	return priorities
}

func bucketKey(model string, priority int) string {
	return model + "#" + itoa(priority)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// CostFirst computes a cost per candidate via internal/pricing and sorts
// ascending, breaking ties with round-robin within the tie class. Falls
// back to Priority ordering when extras carries no input tokens to price
// with.
type CostFirst struct {
	priority *Priority
	counters *counters
}

func NewCostFirst() *CostFirst {
	return &CostFirst{priority: NewPriority(), counters: newCounters()}
}

func (cf *CostFirst) Select(candidates []routing.CandidateProvider, model string, extras Extras) (routing.CandidateProvider, bool) {
	return cf.GetNext(candidates, model, nil, extras)
}

func (cf *CostFirst) GetNext(candidates []routing.CandidateProvider, model string, tried Tried, extras Extras) (routing.CandidateProvider, bool) {
	if extras.InputTokens <= 0 {
		return cf.priority.GetNext(candidates, model, tried, extras)
	}

	remaining := untried(candidates, tried)
	if len(remaining) == 0 {
		return routing.CandidateProvider{}, false
	}

	type priced struct {
		candidate routing.CandidateProvider
		cost      pricing.CostBreakdown
	}
	costed := make([]priced, len(remaining))
	for i, c := range remaining {
		costed[i] = priced{
			candidate: c,
			cost:      pricing.CalculateCostFromBilling(c.Billing, extras.InputTokens, 0, 0, extras.ImageCount),
		}
	}

	sort.SliceStable(costed, func(i, j int) bool {
		return costed[i].cost.TotalCost.LessThan(costed[j].cost.TotalCost)
	})

	tieCost := costed[0].cost.TotalCost
	var tieClass []routing.CandidateProvider
	for _, p := range costed {
		if p.cost.TotalCost.Equal(tieCost) {
			tieClass = append(tieClass, p.candidate)
		}
	}
	if len(tieClass) == 1 {
		return tieClass[0], true
	}

	idx := cf.counters.next(model) % uint64(len(tieClass))
	return tieClass[idx], true
}
