package entitlements

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTable() *PriceTable {
	return NewPriceTable(TierStarter, map[string]PriceEntry{
		"price_starter":         {Tier: TierStarter, Cycle: CycleMonthly},
		"price_starter_yearly":  {Tier: TierStarter, Cycle: CycleYearly},
		"price_pro":             {Tier: TierPro, Cycle: CycleMonthly},
		"price_pro_yearly":      {Tier: TierPro, Cycle: CycleYearly},
		"price_enterprise_year": {Tier: TierEnterprise, Cycle: CycleYearly},
	})
}

func TestPriceTableResolveTier(t *testing.T) {
	table := testTable()

	assert.Equal(t, TierStarter, table.ResolveTier("price_starter"))
	assert.Equal(t, TierPro, table.ResolveTier("price_pro_yearly"))
	assert.Equal(t, TierEnterprise, table.ResolveTier(" price_enterprise_year "))
	assert.Equal(t, TierStarter, table.ResolveTier("price_unknown"), "unknown ids use the fallback")
	assert.Equal(t, TierStarter, table.ResolveTier(""))

	for id := range table.entries {
		first := table.ResolveTier(id)
		assert.Equal(t, first, table.ResolveTier(id), "ResolveTier must be deterministic for %s", id)
	}
}

func TestPriceTableFallbackIsPaid(t *testing.T) {
	assert.Equal(t, TierStarter, NewPriceTable(TierFree, nil).Fallback())
	assert.Equal(t, TierPro, NewPriceTable(TierPro, nil).ResolveTier("anything"))
}

func TestPriceTablePriceFor(t *testing.T) {
	table := testTable()

	id, ok := table.PriceFor(TierPro, "")
	require.True(t, ok)
	assert.Equal(t, "price_pro", id)

	id, ok = table.PriceFor(TierStarter, CycleYearly)
	require.True(t, ok)
	assert.Equal(t, "price_starter_yearly", id)

	_, ok = table.PriceFor(TierEnterprise, CycleMonthly)
	assert.False(t, ok)
}

func TestParsePriceTable(t *testing.T) {
	entries, err := ParsePriceTable("price_a=starter:monthly, price_b=PRO:yearly,price_c=enterprise")
	require.NoError(t, err)
	assert.Equal(t, map[string]PriceEntry{
		"price_a": {Tier: TierStarter, Cycle: CycleMonthly},
		"price_b": {Tier: TierPro, Cycle: CycleYearly},
		"price_c": {Tier: TierEnterprise},
	}, entries)

	for _, bad := range []string{"price_a", "=pro", "price_a=free", "price_a=gold", "price_a=pro:weekly"} {
		_, err := ParsePriceTable(bad)
		assert.Error(t, err, bad)
	}

	empty, err := ParsePriceTable("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCycleFromInterval(t *testing.T) {
	assert.Equal(t, CycleYearly, CycleFromInterval("year"))
	assert.Equal(t, CycleMonthly, CycleFromInterval("month"))
	assert.Equal(t, BillingCycle(""), CycleFromInterval("week"))
}

func TestTranslateStatus(t *testing.T) {
	cases := map[string]Status{
		"active":             StatusActive,
		"trialing":           StatusTrial,
		"past_due":           StatusPastDue,
		"unpaid":             StatusPastDue,
		"incomplete":         StatusIncomplete,
		"paused":             StatusPaused,
		"canceled":           StatusCancelled,
		"incomplete_expired": StatusExpired,
		"something_new":      StatusInactive,
		"":                   StatusInactive,
	}
	for in, want := range cases {
		assert.Equal(t, want, TranslateStatus(in), in)
	}
}

func TestStatusEntitledAndTerminal(t *testing.T) {
	for _, s := range []Status{StatusActive, StatusTrial, StatusPastDue} {
		assert.True(t, s.Entitled(), s)
		assert.False(t, s.Terminal(), s)
	}
	for _, s := range []Status{StatusIncomplete, StatusPaused, StatusInactive} {
		assert.False(t, s.Entitled(), s)
		assert.False(t, s.Terminal(), s)
	}
	for _, s := range []Status{StatusCancelled, StatusExpired} {
		assert.False(t, s.Entitled(), s)
		assert.True(t, s.Terminal(), s)
	}
}

func TestResolveAccessLevel(t *testing.T) {
	cases := map[Tier]AccessLevel{
		"":             AccessPreview,
		TierFree:       AccessPreview,
		TierStarter:    AccessStarter,
		TierPro:        AccessFull,
		TierEnterprise: AccessFull,
		"Pro":          AccessFull,
		"platinum":     AccessPreview,
	}
	for tier, want := range cases {
		assert.Equal(t, want, ResolveAccessLevel(tier), "tier %q", tier)
		assert.Equal(t, ResolveAccessLevel(tier), ResolveAccessLevel(tier))
	}
}

func TestEffectiveTier(t *testing.T) {
	assert.Equal(t, TierPro, EffectiveTier(TierPro, StatusActive))
	assert.Equal(t, TierPro, EffectiveTier(TierPro, StatusPastDue))
	assert.Equal(t, TierFree, EffectiveTier(TierPro, StatusCancelled))
	assert.Equal(t, TierFree, EffectiveTier(TierPro, StatusIncomplete))
	assert.Equal(t, TierFree, EffectiveTier(TierPro, StatusPaused))
	assert.Equal(t, TierFree, EffectiveTier(TierPro, StatusInactive))
	assert.Equal(t, TierFree, EffectiveTier("", StatusActive))
}

func TestResolveContentStarterFallsBackToBody(t *testing.T) {
	got := ResolveContent(AccessStarter, Content{Body: "X", DeepDive: "Y"})
	assert.Equal(t, "X", got.Content)
	assert.True(t, got.HasDeepDive)

	got = ResolveContent(AccessStarter, Content{Body: "X", Starter: "S"})
	assert.Equal(t, "S", got.Content)
	assert.False(t, got.HasDeepDive)
}

func TestResolveContentFull(t *testing.T) {
	got := ResolveContent(AccessFull, Content{Body: "Body", DeepDive: "More"})
	assert.Equal(t, "Body\n\n## Deep Dive\n\nMore", got.Content)
	assert.True(t, got.HasDeepDive)

	got = ResolveContent(AccessFull, Content{Body: "Body"})
	assert.Equal(t, "Body", got.Content)
	assert.False(t, got.HasDeepDive)
}

func TestResolveContentPreview(t *testing.T) {
	got := ResolveContent(AccessPreview, Content{Body: "long body", Preview: "teaser", DeepDive: "More"})
	assert.Equal(t, "teaser", got.Content)
	assert.True(t, got.HasDeepDive, "a deep dive is advertised even when withheld")
	assert.NotContains(t, got.Content, "More")

	body := strings.Repeat("é", PreviewLength+20)
	got = ResolveContent(AccessPreview, Content{Body: body})
	assert.True(t, strings.HasSuffix(got.Content, TruncationMarker))
	assert.Equal(t, PreviewLength+1, utf8.RuneCountInString(got.Content))

	got = ResolveContent(AccessPreview, Content{Body: "short"})
	assert.Equal(t, "short", got.Content)

	got = ResolveContent(AccessLevel("bogus"), Content{})
	assert.Equal(t, AccessPreview, got.Level)
	assert.Equal(t, "", got.Content)
}
