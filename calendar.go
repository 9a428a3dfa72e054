package main

import "time"

/* ======================
   Event Calendar
   ====================== */

// The holiday calendar is static configuration, in the same spirit as the
// plan catalog: tuning it is a deploy, not a migration.
var seasonalCalendar = []SeasonalEvent{
	{
		ID:         "spring-bloom",
		StartMonth: time.March, StartDay: 19,
		EndMonth: time.March, EndDay: 23,
		Gold: 1.25, XP: 1.25,
	},
	{
		ID:         "midsummer-bonfire",
		StartMonth: time.June, StartDay: 20,
		EndMonth: time.June, EndDay: 24,
		XP: 1.5, ShopDiscount: 0.10,
	},
	{
		ID:         "harvest-moon",
		StartMonth: time.October, StartDay: 28,
		EndMonth: time.November, EndDay: 2,
		Gold: 1.5, ShopDiscount: 0.15,
	},
	{
		ID:         "yearturn-feast",
		StartMonth: time.December, StartDay: 31,
		EndMonth: time.January, EndDay: 2,
		Gold: 2.0, XP: 2.0, ShopDiscount: 0.20,
	},
}

// One rotation slot is active per week, cycling through the list. Index 0 is
// the week containing Jan 1.
var weeklyRotation = []WeeklyEvent{
	{ID: "hunters-week", XP: 1.2, Gold: 1.0},
	{ID: "merchants-week", Gold: 1.2, XP: 1.0},
	{ID: "quiet-week", Gold: 1.0, XP: 1.0},
	{ID: "slayers-week", XP: 1.1, Gold: 1.1},
}

func ActiveSeasonalEvents(now time.Time) []SeasonalEvent {
	active := make([]SeasonalEvent, 0, 2)
	for _, event := range seasonalCalendar {
		if event.Active(now) {
			active = append(active, event)
		}
	}
	return active
}

// weekIndexOf is stable for every instant inside the same week and only
// changes at week boundaries.
func weekIndexOf(now time.Time) int {
	daysSinceYearStart := now.UTC().YearDay() - 1
	return daysSinceYearStart / 7
}

func ActiveWeeklyEvent(now time.Time) WeeklyEvent {
	return weeklyRotation[weekIndexOf(now)%len(weeklyRotation)]
}
