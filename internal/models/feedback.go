package models

import "time"

// RiskLevel is the audit-time risk classification of a news item.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// AuditResult is the outcome of auditing one news item.
type AuditResult struct {
	NewsID           string    `json:"news_id"`
	Score            float64   `json:"score"`
	RiskLevel        RiskLevel `json:"risk_level"`
	DetectedFeatures []string  `json:"detected_features"`
	AuditedAt        time.Time `json:"audited_at"`
}

// Valid reports whether the audit can be joined into feedback.
func (a *AuditResult) Valid() bool {
	return a != nil && a.NewsID != "" && a.Score >= 0 && a.Score <= 100
}

// MarketFeedback joins an audit with the realised T+3 return of one task.
// It only lives for the duration of an evolution cycle.
type MarketFeedback struct {
	TrackingID       string   `json:"tracking_id"`
	NewsID           string   `json:"news_id"`
	Ticker           string   `json:"ticker"`
	AIAuditScore     float64  `json:"ai_audit_score"`
	DetectedFeatures []string `json:"detected_features"`
	ActualReturnT3   float64  `json:"actual_return_t3"`
	Regime           Regime   `json:"market_regime"`
}

// HasFeature reports whether the sample mentions feature.
func (f MarketFeedback) HasFeature(feature string) bool {
	for _, name := range f.DetectedFeatures {
		if name == feature {
			return true
		}
	}
	return false
}
