package shared

// Dashboard permissions gate the reporting endpoints.
const (
	PermPropertyPredictionsView = "view_property_predictions"
	PermPropertyAnalysisRun     = "run_property_analysis"
	PermMarketDataView          = "view_market_data"

	PermRevenueView = "view_revenue"
	PermDealsView   = "view_deals"

	PermComplianceView = "view_compliance"
	PermAuditTrailView = "view_audit_trail"

	PermActivityView     = "view_activity"
	PermSystemHealthView = "view_system_health"

	PermAIMetricsView = "view_ai_metrics"
)

// Dashboard permission groups.
const (
	GroupPropertyIntelligence = "Property Intelligence"
	GroupFinancialMetrics     = "Financial Metrics"
	GroupComplianceAudit      = "Compliance & Audit"
	GroupOperations           = "Operations"
	GroupAIOperations         = "AI Operations"
)

func dashboardCatalog() []PermissionDef {
	return []PermissionDef{
		{Name: PermPropertyPredictionsView, Label: "View property AI predictions", Group: GroupPropertyIntelligence},
		{Name: PermPropertyAnalysisRun, Label: "Run property and repair analysis", Group: GroupPropertyIntelligence},
		{Name: PermMarketDataView, Label: "View market and neighborhood data", Group: GroupPropertyIntelligence},
		{Name: PermRevenueView, Label: "View revenue and profit", Group: GroupFinancialMetrics},
		{Name: PermDealsView, Label: "View deal metrics", Group: GroupFinancialMetrics},
		{Name: PermComplianceView, Label: "View compliance status", Group: GroupComplianceAudit},
		{Name: PermAuditTrailView, Label: "View audit trail", Group: GroupComplianceAudit},
		{Name: PermActivityView, Label: "View user activity", Group: GroupOperations},
		{Name: PermSystemHealthView, Label: "View system health", Group: GroupOperations},
		{Name: PermAIMetricsView, Label: "View AI operations metrics", Group: GroupAIOperations},
	}
}
