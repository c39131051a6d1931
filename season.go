package main

import "time"

// Season is one of the four calendar buckets used by the rule tables.
type Season string

const (
	Winter Season = "hiver"
	Spring Season = "printemps"
	Summer Season = "été"
	Autumn Season = "automne"
)

// SeasonAt maps an instant to its season bucket using the month in the
// instant's own location. Meteorological seasons: Dec-Feb is winter.
func SeasonAt(t time.Time) Season {
	switch t.Month() {
	case time.December, time.January, time.February:
		return Winter
	case time.March, time.April, time.May:
		return Spring
	case time.June, time.July, time.August:
		return Summer
	default:
		return Autumn
	}
}
