package models

import "time"

var eastern = loadEastern()

func loadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// No tzdata available; EST without DST is the closest stand-in.
		return time.FixedZone("ET", -5*60*60)
	}
	return loc
}

// Eastern returns the East-Coast location. Zone-less source timestamps are
// interpreted in this zone, and game dates are East-Coast calendar dates.
func Eastern() *time.Location {
	return eastern
}

// GameDateOf reduces an absolute start time to its East-Coast calendar date,
// which is the date component of every canonical game key.
func GameDateOf(start time.Time) time.Time {
	et := start.In(eastern)
	return time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, time.UTC)
}
