package main

import (
	"math"
	"testing"
	"time"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestComposeMultipliersOrderIndependent(t *testing.T) {
	now := time.Date(2026, time.May, 10, 12, 0, 0, 0, time.UTC)
	future := now.Add(30 * 24 * time.Hour)

	a := ServerMultiplier{Gold: 1.5, XP: 3.0}
	b := Subscription{PlanID: "adventurer", ExpiresAt: future, Gold: 1.1, XP: 1.1}
	c := VipStatus{ExpiresAt: future}
	d := ClanUpgrade{ID: ClanUpgradeExperiencedHunters}

	permutations := [][]BonusSource{
		{a, b, c, d},
		{d, c, b, a},
		{b, d, a, c},
		{c, a, d, b},
	}

	firstGold, firstXP := ComposeMultipliers(permutations[0], now)
	for i, sources := range permutations[1:] {
		gold, xp := ComposeMultipliers(sources, now)
		if !almostEqual(gold, firstGold) || !almostEqual(xp, firstXP) {
			t.Fatalf("permutation %d diverged: (%v,%v) vs (%v,%v)", i+1, gold, xp, firstGold, firstXP)
		}
	}

	wantXP := 3.0 * 1.1 * vipXPFactor * 1.10
	if !almostEqual(firstXP, wantXP) {
		t.Fatalf("xp multiplier = %v, want %v", firstXP, wantXP)
	}
}

func TestExpiredSourcesAreNeutral(t *testing.T) {
	now := time.Date(2026, time.May, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	sources := []BonusSource{
		Subscription{PlanID: "champion", ExpiresAt: past, Gold: 1.25, XP: 1.25},
		VipStatus{ExpiresAt: past},
	}

	gold, xp := ComposeMultipliers(sources, now)
	if gold != 1.0 || xp != 1.0 {
		t.Fatalf("expired sources leaked into composition: gold=%v xp=%v", gold, xp)
	}
}

func TestNilSourcesAreSkipped(t *testing.T) {
	now := time.Now().UTC()
	gold, xp := ComposeMultipliers([]BonusSource{nil, ServerMultiplier{Gold: 2, XP: 2}, nil}, now)
	if gold != 2.0 || xp != 2.0 {
		t.Fatalf("gold=%v xp=%v", gold, xp)
	}
}

func TestNonZeroFactorGuardsBadConfig(t *testing.T) {
	if nonZeroFactor(0) != 1.0 || nonZeroFactor(-3) != 1.0 {
		t.Fatal("non-positive factors must degrade to neutral")
	}
	if nonZeroFactor(1.25) != 1.25 {
		t.Fatal("valid factors must pass through")
	}
}

func TestSeasonalYearWrapWindow(t *testing.T) {
	event := SeasonalEvent{
		ID:         "yearturn",
		StartMonth: time.December, StartDay: 31,
		EndMonth: time.January, EndDay: 2,
		Gold: 2.0, XP: 2.0,
	}

	cases := []struct {
		at     time.Time
		active bool
	}{
		{time.Date(2026, time.January, 1, 10, 0, 0, 0, time.UTC), true},
		{time.Date(2026, time.January, 2, 23, 0, 0, 0, time.UTC), true},
		{time.Date(2026, time.December, 31, 0, 30, 0, 0, time.UTC), true},
		{time.Date(2026, time.January, 15, 10, 0, 0, 0, time.UTC), false},
		{time.Date(2026, time.June, 15, 10, 0, 0, 0, time.UTC), false},
		{time.Date(2026, time.December, 30, 23, 0, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		if got := event.Active(tc.at); got != tc.active {
			t.Errorf("Active(%s) = %v, want %v", tc.at.Format("Jan 2"), got, tc.active)
		}
	}
}

func TestSeasonalWithinYearWindow(t *testing.T) {
	event := SeasonalEvent{
		ID:         "harvest",
		StartMonth: time.October, StartDay: 28,
		EndMonth: time.November, EndDay: 2,
		Gold: 1.5,
	}

	if !event.Active(time.Date(2026, time.October, 30, 12, 0, 0, 0, time.UTC)) {
		t.Fatal("inside the window should be active")
	}
	if event.Active(time.Date(2026, time.November, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("after the window should be inactive")
	}
	if event.Active(time.Date(2026, time.October, 27, 23, 59, 0, 0, time.UTC)) {
		t.Fatal("before the window should be inactive")
	}
}

func TestWeeklyRotationIsStableWithinAWeek(t *testing.T) {
	monday := time.Date(2026, time.March, 9, 1, 0, 0, 0, time.UTC)
	sameWeek := monday.Add(4 * 24 * time.Hour)

	if weekIndexOf(monday) != weekIndexOf(sameWeek) {
		t.Fatal("same week produced different indices")
	}
	if ActiveWeeklyEvent(monday).ID != ActiveWeeklyEvent(sameWeek).ID {
		t.Fatal("same week produced different rotation slots")
	}

	nextWeek := monday.Add(7 * 24 * time.Hour)
	if weekIndexOf(monday) == weekIndexOf(nextWeek) {
		t.Fatal("week boundary did not advance the index")
	}
}

func TestUnknownClanUpgradeIsNeutral(t *testing.T) {
	upgrade := ClanUpgrade{ID: "no-such-upgrade"}
	if upgrade.Active(time.Now()) {
		t.Fatal("unknown upgrade must not be active")
	}
	if upgrade.GoldFactor() != 1.0 || upgrade.XPFactor() != 1.0 {
		t.Fatal("unknown upgrade must be neutral")
	}
}

func TestComposeShopDiscountStacksOnRemainder(t *testing.T) {
	now := time.Date(2026, time.May, 10, 12, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)

	sources := []BonusSource{
		Subscription{PlanID: "champion", ExpiresAt: future, Gold: 1.25, XP: 1.25, ShopDiscount: 0.10},
		SeasonalEvent{
			ID:         "sale",
			StartMonth: time.May, StartDay: 1,
			EndMonth: time.May, EndDay: 31,
			ShopDiscount: 0.20,
		},
	}

	// 1 - 0.9*0.8
	want := 1 - 0.9*0.8
	if got := ComposeShopDiscount(sources, now); !almostEqual(got, want) {
		t.Fatalf("discount = %v, want %v", got, want)
	}
}

func TestComposeShopDiscountNeverExceedsNinety(t *testing.T) {
	now := time.Date(2026, time.May, 10, 12, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)

	sources := []BonusSource{}
	for i := 0; i < 10; i++ {
		sources = append(sources, Subscription{PlanID: "champion", ExpiresAt: future, Gold: 1, XP: 1, ShopDiscount: 0.5})
	}

	if got := ComposeShopDiscount(sources, now); got > 0.9+1e-9 {
		t.Fatalf("discount cap breached: %v", got)
	}
}

func TestComputeRewardSingleFinalFloor(t *testing.T) {
	now := time.Now().UTC()
	sources := []BonusSource{
		ServerMultiplier{XP: 1.1},
		ServerMultiplier{XP: 1.1},
	}

	// 15 * 1.1 * 1.1 = 18.15 -> 18. Flooring per step would give 17.
	xp, gold := ComputeReward(15, sources, now)
	if xp != 18 {
		t.Fatalf("xp = %d, want 18", xp)
	}
	if gold != 30 {
		t.Fatalf("gold = %d, want 30 (neutral gold factors)", gold)
	}
}

func TestComputeRewardNoBonuses(t *testing.T) {
	xp, gold := ComputeReward(137, nil, time.Now().UTC())
	if xp != 137 || gold != 274 {
		t.Fatalf("xp=%d gold=%d, want 137/274", xp, gold)
	}
}
