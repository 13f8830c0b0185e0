// Package dashboard serves the read-only metric payloads of the analytics
// dashboard. Payloads are computed upstream and published into Redis; every
// metric is a protected operation.
package dashboard

import (
	"slices"
	"strings"

	"github.com/deelflow/deelflow/internal/rbac"
	"github.com/deelflow/deelflow/internal/shared"
)

// Metric describes one dashboard endpoint.
type Metric struct {
	Slug       string
	Permission string
}

// Operation is the protected operation name of the metric, e.g.
// get_total_revenue.
func (m Metric) Operation() string {
	return "get_" + strings.ReplaceAll(m.Slug, "-", "_")
}

var metrics = []Metric{
	{Slug: "property-ai-predictions", Permission: shared.PermPropertyPredictionsView},
	{Slug: "property-analysis", Permission: shared.PermPropertyAnalysisRun},
	{Slug: "repair-analysis", Permission: shared.PermPropertyAnalysisRun},
	{Slug: "neighborhood-analysis", Permission: shared.PermMarketDataView},
	{Slug: "market-comparables", Permission: shared.PermMarketDataView},
	{Slug: "properties-listed", Permission: shared.PermMarketDataView},
	{Slug: "total-revenue", Permission: shared.PermRevenueView},
	{Slug: "monthly-profit", Permission: shared.PermRevenueView},
	{Slug: "revenue-user-growth-chart-data", Permission: shared.PermRevenueView},
	{Slug: "monthly-trend-data", Permission: shared.PermRevenueView},
	{Slug: "historical-performance", Permission: shared.PermRevenueView},
	{Slug: "total-deals", Permission: shared.PermDealsView},
	{Slug: "deal-completions-scheduling", Permission: shared.PermDealsView},
	{Slug: "blockchain-txns", Permission: shared.PermDealsView},
	{Slug: "compliance-status", Permission: shared.PermComplianceView},
	{Slug: "audit-trail-data", Permission: shared.PermAuditTrailView},
	{Slug: "user-actions-timestamps", Permission: shared.PermAuditTrailView},
	{Slug: "recent-activity", Permission: shared.PermActivityView},
	{Slug: "active-users", Permission: shared.PermActivityView},
	{Slug: "live-activity-feed", Permission: shared.PermActivityView},
	{Slug: "system-health-metrics", Permission: shared.PermSystemHealthView},
	{Slug: "ai-conversations", Permission: shared.PermAIMetricsView},
	{Slug: "voice-calls-count", Permission: shared.PermAIMetricsView},
	{Slug: "vision-analysis", Permission: shared.PermAIMetricsView},
	{Slug: "nlp-processing", Permission: shared.PermAIMetricsView},
}

// Metrics returns the dashboard catalog.
func Metrics() []Metric {
	return slices.Clone(metrics)
}

// LookupMetric finds a metric by slug.
func LookupMetric(slug string) (Metric, bool) {
	for _, m := range metrics {
		if m.Slug == slug {
			return m, true
		}
	}
	return Metric{}, false
}

// Operations lists the protected operations for the gateway table.
func Operations() []rbac.Operation {
	ops := make([]rbac.Operation, 0, len(metrics))
	for _, m := range metrics {
		ops = append(ops, rbac.Operation{Name: m.Operation(), Permissions: []string{m.Permission}})
	}
	return ops
}
