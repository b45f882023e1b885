package cache

import (
	"sort"

	"github.com/haunv/profilesync/internal/core/domain"
)

// InvalidationRule removes entries carrying any of its tags when an event of
// the given type is published. Rules are evaluated in descending priority
// order; the first rule matching an entry wins for that entry.
type InvalidationRule struct {
	Name     string
	Event    domain.EventType
	Tags     []string
	Priority int
}

func (r InvalidationRule) matches(e *Entry) bool {
	for _, tag := range r.Tags {
		if e.HasTag(tag) {
			return true
		}
	}
	return false
}

// RegisterRule adds an event-driven invalidation rule.
func (c *Cache) RegisterRule(rule InvalidationRule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, rule)
	sort.SliceStable(c.rules, func(i, j int) bool {
		return c.rules[i].Priority > c.rules[j].Priority
	})
}

// DefaultRules wires the standard wallet and collection invalidation rules.
func DefaultRules() []InvalidationRule {
	return []InvalidationRule{
		{
			Name:     "wallet-disconnect-clears-wallet-data",
			Event:    domain.EventWalletDisconnected,
			Tags:     []string{"wallet", "nft", "profile"},
			Priority: 100,
		},
		{
			Name:     "collection-update-clears-nft-data",
			Event:    domain.EventNFTCollectionUpdated,
			Tags:     []string{"nft"},
			Priority: 50,
		},
	}
}
