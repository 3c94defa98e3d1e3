package recon

import "github.com/reconlab/recon-engine/pkg/models"

// Assessment buckets per KPI. The boundary values are part of the external
// contract and must not drift.

// RCRStatus buckets the reconciliation coverage rate (percent).
func RCRStatus(v float64) string {
	switch {
	case v >= 90:
		return models.StatusHealthy
	case v >= 80:
		return models.StatusWarning
	default:
		return models.StatusCritical
	}
}

// DQCSStatus buckets the data quality confidence score (0..1).
func DQCSStatus(v float64) string {
	switch {
	case v >= 0.80:
		return models.StatusGood
	case v >= 0.60:
		return models.StatusFair
	default:
		return models.StatusPoor
	}
}

// REIStatus buckets the reconciliation efficiency index.
func REIStatus(v float64) string {
	if v >= 40 {
		return models.StatusAcceptable
	}
	return models.StatusNeedsImprovement
}

// IRRStatus buckets the inactive record rate (percent).
func IRRStatus(v float64) string {
	switch {
	case v <= 5:
		return models.StatusExcellent
	case v <= 10:
		return models.StatusGood
	case v <= 20:
		return models.StatusWarning
	default:
		return models.StatusCritical
	}
}
