package entitlements

import (
	"strings"
	"unicode/utf8"
)

// AccessLevel is the content visibility bucket derived from a tier. It is never stored.
type AccessLevel string

const (
	AccessPreview AccessLevel = "preview"
	AccessStarter AccessLevel = "starter"
	AccessFull    AccessLevel = "full"
)

const (
	PreviewLength    = 280
	TruncationMarker = "…"
	deepDiveHeading  = "\n\n## Deep Dive\n\n"
)

// ResolveAccessLevel maps a tier to the content it unlocks. Missing, free and
// unknown tiers only see the preview.
func ResolveAccessLevel(tier Tier) AccessLevel {
	switch Tier(strings.TrimSpace(strings.ToLower(string(tier)))) {
	case TierStarter:
		return AccessStarter
	case TierPro, TierEnterprise:
		return AccessFull
	default:
		return AccessPreview
	}
}

// EffectiveTier is the tier a subscription currently grants: its own tier while the
// status is entitled, free otherwise.
func EffectiveTier(tier Tier, status Status) Tier {
	if tier == "" || !status.Entitled() {
		return TierFree
	}
	return tier
}

// Content holds the variants of one piece of gated content. Empty fields are absent.
type Content struct {
	Body     string
	Preview  string
	Starter  string
	DeepDive string
}

// Resolved is the content a caller may render. HasDeepDive reports whether the piece has
// a deep dive variant at all, at every level including preview, so callers can offer an
// upgrade; it does not mean the deep dive is included in Content.
type Resolved struct {
	Level       AccessLevel
	Content     string
	HasDeepDive bool
}

// ResolveContent selects what a caller at level may render. It never fails: absent
// variants degrade to the body or a truncated body.
func ResolveContent(level AccessLevel, c Content) Resolved {
	out := Resolved{Level: level, HasDeepDive: c.DeepDive != ""}
	switch level {
	case AccessFull:
		out.Content = c.Body
		if c.DeepDive != "" {
			out.Content = c.Body + deepDiveHeading + c.DeepDive
		}
	case AccessStarter:
		out.Content = c.Starter
		if out.Content == "" {
			out.Content = c.Body
		}
	default:
		out.Level = AccessPreview
		out.Content = c.Preview
		if out.Content == "" {
			out.Content = truncate(c.Body, PreviewLength)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:n]), " \n\t") + TruncationMarker
}
