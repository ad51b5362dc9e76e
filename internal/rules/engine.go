package rules

import (
	"slices"
	"time"

	"github.com/Guizzs26/go-region-sync/internal/models"
	"github.com/Guizzs26/go-region-sync/internal/region"
)

// Reason names the rule that produced a Decision. It is logged for audit.
type Reason string

const (
	ReasonGlobal             Reason = "global"
	ReasonGlobalSanitized    Reason = "global_sanitized"
	ReasonOverrideConsent    Reason = "global_override_consent"
	ReasonBlockedUnsanitized Reason = "blocked_unsanitized_no_override"
	ReasonBlockedOverrideOff Reason = "blocked_override_not_allowed"
	ReasonEUOnly             Reason = "eu_only"
	ReasonExposure           Reason = "exposure"
	ReasonUnknownScope       Reason = "unknown_scope"
	ReasonDisabled           Reason = "disabled"
)

// Decision is the candidate target set for one message before hub routing and self exclusion
type Decision struct {
	Scope     models.SyncScope
	Reason    Reason
	Targets   []string
	ConsentAt *time.Time
}

// Blocked reports whether the compliance gate stopped the message
func (d Decision) Blocked() bool {
	return d.Reason == ReasonBlockedUnsanitized || d.Reason == ReasonBlockedOverrideOff
}

// Engine maps a sync policy and row attributes to candidate regions.
// It performs no I/O and holds only the immutable registry snapshot.
type Engine struct {
	registry *region.Registry

	// strictConsent makes override consent count only when the entity type allows it
	strictConsent bool
}

type Option func(*Engine)

// WithStrictOverrideConsent honours sanitizationOverrideConsentAt only for entity types
// that set allowSanitizationOverrideConsentEnabled
func WithStrictOverrideConsent(strict bool) Option {
	return func(e *Engine) { e.strictConsent = strict }
}

func NewEngine(registry *region.Registry, opts ...Option) *Engine {
	e := &Engine{registry: registry}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve applies the scope rule. Disabled or missing configuration yields no targets.
func (e *Engine) Resolve(cfg *models.EntitySyncConfiguration, meta *models.EntityRowMetadata, msg models.SyncMessage) Decision {
	if cfg == nil || !cfg.IsEnabled {
		return Decision{Scope: models.ScopeUnknown, Reason: ReasonDisabled}
	}

	switch cfg.SyncScope {
	case models.ScopeGlobalSanitized:
		return e.resolveGlobal(cfg, meta)
	case models.ScopeEUOnly:
		return Decision{Scope: cfg.SyncScope, Reason: ReasonEUOnly, Targets: e.registry.EURegions()}
	case models.ScopeScopedByExposure:
		return Decision{Scope: cfg.SyncScope, Reason: ReasonExposure, Targets: dedupe(cfg.ExposureRegions)}
	case models.ScopeUnknown:
		return Decision{Scope: cfg.SyncScope, Reason: ReasonUnknownScope}
	}
	return Decision{Scope: models.ScopeUnknown, Reason: ReasonUnknownScope}
}

func (e *Engine) resolveGlobal(cfg *models.EntitySyncConfiguration, meta *models.EntityRowMetadata) Decision {
	d := Decision{Scope: models.ScopeGlobalSanitized}

	if !cfg.RequiresSanitizationForGlobalSync {
		d.Reason, d.Targets = ReasonGlobal, e.registry.Codes()
		return d
	}

	if meta != nil && meta.IsSanitized != nil && *meta.IsSanitized {
		d.Reason, d.Targets = ReasonGlobalSanitized, e.registry.Codes()
		return d
	}

	if meta != nil && meta.SanitizationOverrideConsentAt != nil {
		if e.strictConsent && !cfg.AllowSanitizationOverrideConsentEnabled {
			d.Reason = ReasonBlockedOverrideOff
			return d
		}
		d.Reason, d.Targets = ReasonOverrideConsent, e.registry.Codes()
		d.ConsentAt = meta.SanitizationOverrideConsentAt
		return d
	}

	d.Reason = ReasonBlockedUnsanitized
	return d
}

// MetricLabel normalizes a region code for metric labels; unregistered codes collapse to "unknown"
func (e *Engine) MetricLabel(code string) string {
	reg, ok := e.registry.Lookup(code)
	if !ok {
		return "unknown"
	}
	return reg.Code
}

// RouteToHub adds the aggregator when the source is a satellite region.
// A decision that already routes nowhere stays empty so blocked rows never leak to the hub.
func (e *Engine) RouteToHub(source string, targets []string) []string {
	hub := e.registry.Aggregator()
	if len(targets) == 0 || hub == "" || !e.registry.IsSatellite(source) {
		return targets
	}
	if slices.ContainsFunc(targets, func(t string) bool { return region.Equal(t, hub) }) {
		return targets
	}
	return append(slices.Clone(targets), hub)
}

// ExcludeSource removes the source region and duplicates, keeping first-seen order
func ExcludeSource(source string, targets []string) []string {
	out := make([]string, 0, len(targets))
	for _, t := range dedupe(targets) {
		if !region.Equal(t, source) {
			out = append(out, t)
		}
	}
	return out
}

func dedupe(codes []string) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		code := region.Normalize(c)
		if code != "" && !slices.Contains(out, code) {
			out = append(out, code)
		}
	}
	return out
}
