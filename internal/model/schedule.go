package model

import "time"

// Schedule holds the re-check interval for each risk tier, in days.
type Schedule struct {
	HighDays   int `json:"high_days"`
	MediumDays int `json:"medium_days"`
	LowDays    int `json:"low_days"`
}

// DefaultSchedule is 7/14/60 days.
var DefaultSchedule = Schedule{HighDays: 7, MediumDays: 14, LowDays: 60}

// Days returns the interval for tier. Unknown tiers use the medium interval.
func (s Schedule) Days(tier RiskTier) int {
	switch tier {
	case RiskHigh:
		return orDays(s.HighDays, DefaultSchedule.HighDays)
	case RiskLow:
		return orDays(s.LowDays, DefaultSchedule.LowDays)
	default:
		return orDays(s.MediumDays, DefaultSchedule.MediumDays)
	}
}

// Next returns from plus the tier's interval, in UTC.
func (s Schedule) Next(tier RiskTier, from time.Time) time.Time {
	return from.UTC().AddDate(0, 0, s.Days(tier))
}

func orDays(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
