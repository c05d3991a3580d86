package entitlements

import (
	"fmt"
	"sort"
	"strings"
)

// Tier is the internal subscription level. The zero value means "no tier".
type Tier string

const (
	TierFree       Tier = "free"
	TierStarter    Tier = "starter"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

func ParseTier(s string) (Tier, bool) {
	switch t := Tier(strings.TrimSpace(strings.ToLower(s))); t {
	case TierFree, TierStarter, TierPro, TierEnterprise:
		return t, true
	default:
		return "", false
	}
}

// Paid reports whether the tier can be bought through checkout.
func (t Tier) Paid() bool {
	return t == TierStarter || t == TierPro || t == TierEnterprise
}

type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

func ParseBillingCycle(s string) (BillingCycle, bool) {
	switch c := BillingCycle(strings.TrimSpace(strings.ToLower(s))); c {
	case CycleMonthly, CycleYearly:
		return c, true
	default:
		return "", false
	}
}

// CycleFromInterval maps a provider recurring interval ("month", "year") to a cycle.
// Unknown intervals map to the zero value.
func CycleFromInterval(interval string) BillingCycle {
	switch strings.TrimSpace(strings.ToLower(interval)) {
	case "month":
		return CycleMonthly
	case "year":
		return CycleYearly
	default:
		return ""
	}
}

// PriceEntry is what a single provider price id buys.
type PriceEntry struct {
	Tier  Tier
	Cycle BillingCycle
}

// PriceTable maps provider price ids to tiers. Unknown ids resolve to the fallback tier.
// A PriceTable is immutable after construction and safe for concurrent use.
type PriceTable struct {
	entries  map[string]PriceEntry
	fallback Tier
}

func NewPriceTable(fallback Tier, entries map[string]PriceEntry) *PriceTable {
	if !fallback.Paid() {
		fallback = TierStarter
	}
	cp := make(map[string]PriceEntry, len(entries))
	for id, e := range entries {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		cp[id] = e
	}
	return &PriceTable{entries: cp, fallback: fallback}
}

func (t *PriceTable) Fallback() Tier {
	return t.fallback
}

func (t *PriceTable) Lookup(priceID string) (PriceEntry, bool) {
	e, ok := t.entries[strings.TrimSpace(priceID)]
	return e, ok
}

// ResolveTier returns the tier bought by priceID, or the fallback tier.
func (t *PriceTable) ResolveTier(priceID string) Tier {
	if e, ok := t.Lookup(priceID); ok {
		return e.Tier
	}
	return t.fallback
}

// PriceFor returns the price id selling tier at cycle. Monthly is used when cycle is empty.
// When several ids qualify the lexically smallest wins, so the answer is stable.
func (t *PriceTable) PriceFor(tier Tier, cycle BillingCycle) (string, bool) {
	if cycle == "" {
		cycle = CycleMonthly
	}
	var ids []string
	for id, e := range t.entries {
		if e.Tier == tier && e.Cycle == cycle {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return "", false
	}
	sort.Strings(ids)
	return ids[0], true
}

// ParsePriceTable parses "price_id=tier[:cycle],..." as used by the PRICE_TABLE variable.
func ParsePriceTable(raw string) (map[string]PriceEntry, error) {
	out := map[string]PriceEntry{}
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, value, ok := strings.Cut(item, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("price table entry %q: want price_id=tier[:cycle]", item)
		}
		tierRaw, cycleRaw, hasCycle := strings.Cut(value, ":")
		tier, ok := ParseTier(tierRaw)
		if !ok || !tier.Paid() {
			return nil, fmt.Errorf("price table entry %q: unknown tier %q", item, tierRaw)
		}
		var cycle BillingCycle
		if hasCycle {
			if cycle, ok = ParseBillingCycle(cycleRaw); !ok {
				return nil, fmt.Errorf("price table entry %q: unknown billing cycle %q", item, cycleRaw)
			}
		}
		out[id] = PriceEntry{Tier: tier, Cycle: cycle}
	}
	return out, nil
}
