package recon

import "github.com/reconlab/recon-engine/pkg/models"

// computeKPIs fills the four KPI values and their assessment buckets from the
// scanned counts.
//
//	rcr  = matched / total_source * 100
//	dqcs = average match confidence
//	rei  = rcr(%) * rule_utilization(%) * speed_factor / 10000,
//	       speed_factor = 1 + 1/execution_seconds
//	irr  = inactive_source / total_source * 100
func computeKPIs(exec *models.ReconExecution, rulesTotal, rulesMatched int, inactiveSource int64, executionSeconds float64) {
	var rcr float64
	if exec.TotalSourceCount > 0 {
		rcr = float64(exec.MatchedCount) / float64(exec.TotalSourceCount) * 100
	}

	var utilization float64
	if rulesTotal > 0 {
		utilization = float64(rulesMatched) / float64(rulesTotal) * 100
	}

	if executionSeconds <= 0 {
		executionSeconds = 1
	}
	speedFactor := 1 + 1/executionSeconds

	rei := rcr * utilization * speedFactor / 10000

	var irr float64
	if exec.TotalSourceCount > 0 {
		irr = float64(inactiveSource) / float64(exec.TotalSourceCount) * 100
	}

	exec.RCR = models.ReconKPI{Value: rcr, Status: RCRStatus(rcr)}
	exec.DQCS = models.ReconKPI{Value: exec.AvgConfidence, Status: DQCSStatus(exec.AvgConfidence)}
	exec.REI = models.ReconKPI{Value: rei, Status: REIStatus(rei)}
	exec.IRR = models.ReconKPI{Value: irr, Status: IRRStatus(irr)}
}
