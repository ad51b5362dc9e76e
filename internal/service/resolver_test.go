package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"github.com/Guizzs26/go-region-sync/internal/models"
	"github.com/Guizzs26/go-region-sync/internal/rules"
	"github.com/Guizzs26/go-region-sync/pkg/metrics"
)

type ResolverSuite struct {
	suite.Suite
	w        *world
	resolver *TargetResolver
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) SetupTest() {
	w, err := newWorld()
	s.Require().NoError(err)
	s.w = w
	s.resolver = NewTargetResolver(
		NewMetadataLoader(w.set, w.schemas, w.logger),
		rules.NewEngine(w.registry),
		w.logger,
	)
}

func (s *ResolverSuite) message(entityType, id, source string) models.SyncMessage {
	return models.SyncMessage{EntityType: entityType, EntityID: id, SourceRegion: source, SyncEventID: "evt-" + id}
}

func (s *ResolverSuite) TestGlobalWithoutSanitizationReachesEveryOtherRegion() {
	s.w.configureEverywhere(models.EntitySyncConfiguration{
		EntityType: "Country",
		SyncScope:  models.ScopeGlobalSanitized,
		IsEnabled:  true,
	})
	s.w.stores["IN"].PutRow("Country", "in-1", models.Row{"id": "in-1", "name": "India"})

	targets := s.resolver.ResolveTargets(context.Background(), s.message("Country", "in-1", "IN"))

	s.ElementsMatch([]string{"EU", "EU-MAIN", "US"}, targets)
}

func (s *ResolverSuite) TestUnsanitizedCandidateIsBlocked() {
	s.w.configureEverywhere(models.EntitySyncConfiguration{
		EntityType:                        "Candidate",
		SyncScope:                         models.ScopeGlobalSanitized,
		RequiresSanitizationForGlobalSync: true,
		IsEnabled:                         true,
	})
	s.w.stores["EU"].PutRow("Candidate", "c-1", models.Row{"id": "c-1", "is_sanitized": false})

	before := testutil.ToFloat64(metrics.ComplianceBlocks.WithLabelValues("Candidate"))
	targets := s.resolver.ResolveTargets(context.Background(), s.message("Candidate", "c-1", "EU"))

	s.Empty(targets)
	s.Equal(before+1, testutil.ToFloat64(metrics.ComplianceBlocks.WithLabelValues("Candidate")))
}

func (s *ResolverSuite) TestOverrideConsentReplicatesGlobally() {
	s.w.configureEverywhere(models.EntitySyncConfiguration{
		EntityType:                        "Candidate",
		SyncScope:                         models.ScopeGlobalSanitized,
		RequiresSanitizationForGlobalSync: true,
		IsEnabled:                         true,
	})
	s.w.stores["EU"].PutRow("Candidate", "c-2", models.Row{
		"id":                               "c-2",
		"is_sanitized":                     false,
		"sanitization_override_consent_at": time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC),
	})

	targets := s.resolver.ResolveTargets(context.Background(), s.message("Candidate", "c-2", "EU"))

	s.ElementsMatch([]string{"EU-MAIN", "US", "IN"}, targets)
}

func (s *ResolverSuite) TestEUOnly() {
	s.w.configureEverywhere(models.EntitySyncConfiguration{
		EntityType: "JobPost",
		SyncScope:  models.ScopeEUOnly,
		IsEnabled:  true,
	})
	for _, code := range regionCodes {
		s.w.stores[code].PutRow("JobPost", "j-1", models.Row{"id": "j-1"})
	}

	s.Run("from EU only the hub remains", func() {
		s.Equal([]string{"EU-MAIN"}, s.resolver.ResolveTargets(context.Background(), s.message("JobPost", "j-1", "EU")))
	})

	s.Run("from the hub only EU remains", func() {
		s.Equal([]string{"EU"}, s.resolver.ResolveTargets(context.Background(), s.message("JobPost", "j-1", "eu-main")))
	})

	s.Run("satellite source always feeds the hub and never itself", func() {
		for _, source := range []string{"US", "IN"} {
			targets := s.resolver.ResolveTargets(context.Background(), s.message("JobPost", "j-1", source))
			s.Contains(targets, "EU-MAIN")
			s.NotContains(targets, source)
		}
	})
}

func (s *ResolverSuite) TestNoMetadataYieldsNoTargets() {
	s.Run("unconfigured type", func() {
		s.w.stores["EU"].PutRow("Ghost", "g-1", models.Row{"id": "g-1"})
		s.Empty(s.resolver.ResolveTargets(context.Background(), s.message("Ghost", "g-1", "EU")))
	})

	s.Run("disabled type", func() {
		s.w.configureEverywhere(models.EntitySyncConfiguration{EntityType: "Archived", SyncScope: models.ScopeGlobalSanitized})
		s.w.stores["EU"].PutRow("Archived", "a-1", models.Row{"id": "a-1"})
		s.Empty(s.resolver.ResolveTargets(context.Background(), s.message("Archived", "a-1", "EU")))
	})

	s.Run("row vanished at the source", func() {
		s.w.configureEverywhere(models.EntitySyncConfiguration{EntityType: "Country", SyncScope: models.ScopeGlobalSanitized, IsEnabled: true})
		s.Empty(s.resolver.ResolveTargets(context.Background(), s.message("Country", "missing", "EU")))
	})

	s.Run("unknown source region", func() {
		s.Empty(s.resolver.ResolveTargets(context.Background(), s.message("Country", "x", "APAC")))
	})
}

func (s *ResolverSuite) TestStoreFailureDegradesToNoTargets() {
	s.w.configureEverywhere(models.EntitySyncConfiguration{EntityType: "Country", SyncScope: models.ScopeGlobalSanitized, IsEnabled: true})
	s.w.stores["US"].metadataErr = errors.New("connection reset by peer")

	before := testutil.ToFloat64(metrics.ResolutionFailures.WithLabelValues("US"))
	targets := s.resolver.ResolveTargets(context.Background(), s.message("Country", "us-1", "US"))

	s.Empty(targets)
	s.Equal(before+1, testutil.ToFloat64(metrics.ResolutionFailures.WithLabelValues("US")))
}

func (s *ResolverSuite) TestFailureMetricBucketsUnregisteredRegions() {
	s.w.configureEverywhere(models.EntitySyncConfiguration{EntityType: "Country", SyncScope: models.ScopeGlobalSanitized, IsEnabled: true})
	s.w.stores["US"].metadataErr = errors.New("connection reset by peer")

	us := testutil.ToFloat64(metrics.ResolutionFailures.WithLabelValues("US"))
	unknown := testutil.ToFloat64(metrics.ResolutionFailures.WithLabelValues("unknown"))

	s.Empty(s.resolver.ResolveTargets(context.Background(), s.message("Country", "us-1", " us ")))
	s.Empty(s.resolver.ResolveTargets(context.Background(), s.message("Country", "x", "APAC")))
	s.Empty(s.resolver.ResolveTargets(context.Background(), s.message("Country", "x", "MARS-7")))

	s.Equal(us+1, testutil.ToFloat64(metrics.ResolutionFailures.WithLabelValues("US")))
	s.Equal(unknown+2, testutil.ToFloat64(metrics.ResolutionFailures.WithLabelValues("unknown")))
	s.Zero(testutil.ToFloat64(metrics.ResolutionFailures.WithLabelValues("APAC")))
}

func (s *ResolverSuite) TestSourceNeverInTargets() {
	scopes := []models.SyncScope{models.ScopeGlobalSanitized, models.ScopeEUOnly, models.ScopeScopedByExposure, models.ScopeUnknown}
	for _, scope := range scopes {
		s.w.configureEverywhere(models.EntitySyncConfiguration{
			EntityType:      "Offer",
			SyncScope:       scope,
			IsEnabled:       true,
			ExposureRegions: []string{"US", "IN", "EU"},
		})
		for _, source := range regionCodes {
			s.w.stores[source].PutRow("Offer", "o-1", models.Row{"id": "o-1"})
			targets := s.resolver.ResolveTargets(context.Background(), s.message("Offer", "o-1", source))
			s.NotContains(targets, source, "scope %s source %s", scope, source)
		}
	}
}
