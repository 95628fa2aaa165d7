package domain

import (
	"fmt"
	"math"
	"time"
)

// AnalysisStats is the process-wide rolling metrics singleton.
//
// MeanAnalysisTimeMs keeps the unrounded running mean so that repeated
// rounding does not drift; AvgAnalysisTimeMs is its rounded view.
type AnalysisStats struct {
	TotalJobs          int64
	SuccessfulJobs     int64
	FailedJobs         int64
	MeanAnalysisTimeMs float64
	LastUpdated        *time.Time
}

// AvgAnalysisTimeMs is the rounded mean over successful, non-cached jobs.
func (s AnalysisStats) AvgAnalysisTimeMs() int64 {
	return int64(math.Round(s.MeanAnalysisTimeMs))
}

// SuccessRate formats successful/total as a percentage with two decimals.
func (s AnalysisStats) SuccessRate() string {
	if s.TotalJobs == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", float64(s.SuccessfulJobs)/float64(s.TotalJobs)*100)
}

// RollingMean folds one more sample into a mean over n-1 previous samples.
func RollingMean(oldMean float64, n int64, sample float64) float64 {
	if n <= 1 {
		return sample
	}
	return (oldMean*float64(n-1) + sample) / float64(n)
}
