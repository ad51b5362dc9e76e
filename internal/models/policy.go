package models

import (
	"strings"
	"time"
)

// SyncScope is the replication policy family of an entity type.
// ScopeUnknown covers anything the engine does not recognize and always routes nowhere.
type SyncScope int

const (
	ScopeUnknown SyncScope = iota
	ScopeGlobalSanitized
	ScopeEUOnly
	ScopeScopedByExposure
)

var syncScopeNames = map[SyncScope]string{
	ScopeUnknown:          "Unknown",
	ScopeGlobalSanitized:  "GlobalSanitized",
	ScopeEUOnly:           "EUOnly",
	ScopeScopedByExposure: "ScopedByExposure",
}

func (s SyncScope) String() string {
	if name, ok := syncScopeNames[s]; ok {
		return name
	}
	return syncScopeNames[ScopeUnknown]
}

// ParseSyncScope maps a stored value to a scope. Matching ignores case, spaces, '-' and '_'
func ParseSyncScope(raw string) SyncScope {
	return parseEnum(raw, syncScopeNames, ScopeUnknown)
}

// DataClassification is informational; routing never depends on it
type DataClassification int

const (
	ClassificationUnknown DataClassification = iota
	ClassificationPublic
	ClassificationInternal
	ClassificationConfidential
	ClassificationRestricted
)

var classificationNames = map[DataClassification]string{
	ClassificationUnknown:      "Unknown",
	ClassificationPublic:       "Public",
	ClassificationInternal:     "Internal",
	ClassificationConfidential: "Confidential",
	ClassificationRestricted:   "Restricted",
}

func (c DataClassification) String() string {
	if name, ok := classificationNames[c]; ok {
		return name
	}
	return classificationNames[ClassificationUnknown]
}

func ParseDataClassification(raw string) DataClassification {
	return parseEnum(raw, classificationNames, ClassificationUnknown)
}

// LegalBasis is informational; routing never depends on it
type LegalBasis int

const (
	LegalBasisUnknown LegalBasis = iota
	LegalBasisConsent
	LegalBasisContract
	LegalBasisLegalObligation
	LegalBasisLegitimateInterest
)

var legalBasisNames = map[LegalBasis]string{
	LegalBasisUnknown:            "Unknown",
	LegalBasisConsent:            "Consent",
	LegalBasisContract:           "Contract",
	LegalBasisLegalObligation:    "LegalObligation",
	LegalBasisLegitimateInterest: "LegitimateInterest",
}

func (l LegalBasis) String() string {
	if name, ok := legalBasisNames[l]; ok {
		return name
	}
	return legalBasisNames[LegalBasisUnknown]
}

func ParseLegalBasis(raw string) LegalBasis {
	return parseEnum(raw, legalBasisNames, LegalBasisUnknown)
}

func parseEnum[T comparable](raw string, names map[T]string, unknown T) T {
	key := normalizeEnum(raw)
	for value, name := range names {
		if normalizeEnum(name) == key {
			return value
		}
	}
	return unknown
}

func normalizeEnum(s string) string {
	return strings.NewReplacer(" ", "", "-", "", "_", "").Replace(strings.ToLower(strings.TrimSpace(s)))
}

// EntitySyncConfiguration is the per entity type sync policy stored in the source region
type EntitySyncConfiguration struct {
	EntityType                              string
	SyncScope                               SyncScope
	DataClassification                      DataClassification
	LegalBasis                              LegalBasis
	RequiresSanitizationForGlobalSync       bool
	AllowSanitizationOverrideConsentEnabled bool
	IsEnabled                               bool

	// ExposureRegions is the configured region exposure list used by ScopedByExposure
	ExposureRegions []string
}

// EntityRowMetadata holds the privacy and residency attributes of one source row
type EntityRowMetadata struct {
	DataResidency                 string
	DataOriginRegion              string
	IsSanitized                   *bool
	SanitizationOverrideConsentAt *time.Time
}

// SplitRegionList parses a comma separated region list as stored in configuration tables
func SplitRegionList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if code := strings.ToUpper(strings.TrimSpace(part)); code != "" {
			out = append(out, code)
		}
	}
	return out
}
