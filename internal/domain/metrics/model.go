package metrics

// Window is one rollup over completed cases in a time range.
type Window struct {
	CompletedCases int      `json:"completedCases"`
	PayoutCents    int64    `json:"payoutCents"`
	AverageRating  *float64 `json:"averageRating,omitempty"`
}

// EarningsSummary is the doctor dashboard payload: today since midnight UTC,
// then trailing 7 and 30 day windows.
type EarningsSummary struct {
	Today Window `json:"today"`
	Week  Window `json:"week"`
	Month Window `json:"month"`
}
