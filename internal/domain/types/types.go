// Package types contains common types used across the application
package types

// Entry is one row of the fit leaderboard, ranked by final ELBO.
type Entry struct {
	Rank      int       `json:"rank"`
	FitID     string    `json:"fit_id"`
	FinalELBO float64   `json:"final_elbo"`
	Mean      []float64 `json:"mean"`
	StdDev    []float64 `json:"stddev"`
}
