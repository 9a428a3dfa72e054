package main

import (
	"database/sql"
	"log"
	"time"
)

/* ======================
   Bonus Sources
   ====================== */

// A BonusSource contributes a multiplicative factor to boss rewards.
// Inactive sources contribute 1.0, so composition order never matters.
type BonusSource interface {
	Active(now time.Time) bool
	GoldFactor() float64
	XPFactor() float64
}

type ServerMultiplier struct {
	Gold float64
	XP   float64
}

func (s ServerMultiplier) Active(now time.Time) bool { return true }
func (s ServerMultiplier) GoldFactor() float64       { return nonZeroFactor(s.Gold) }
func (s ServerMultiplier) XPFactor() float64         { return nonZeroFactor(s.XP) }

// SeasonalEvent is a calendar window keyed by month/day so it recurs every
// year. Windows whose end month precedes the start month wrap the year
// boundary (Dec 31 - Jan 2 is active on Jan 1).
type SeasonalEvent struct {
	ID           string
	StartMonth   time.Month
	StartDay     int
	EndMonth     time.Month
	EndDay       int
	Gold         float64
	XP           float64
	ShopDiscount float64
}

func (e SeasonalEvent) Active(now time.Time) bool {
	now = now.UTC()
	start := time.Date(now.Year(), e.StartMonth, e.StartDay, 0, 0, 0, 0, time.UTC)
	end := time.Date(now.Year(), e.EndMonth, e.EndDay, 23, 59, 59, 0, time.UTC)
	if end.Before(start) {
		// Year-wrap window: anchor whichever side is on the far
		// side of the boundary relative to now.
		if now.Month() >= e.StartMonth {
			end = end.AddDate(1, 0, 0)
		} else {
			start = start.AddDate(-1, 0, 0)
		}
	}
	return !now.Before(start) && !now.After(end)
}

func (e SeasonalEvent) GoldFactor() float64 { return nonZeroFactor(e.Gold) }
func (e SeasonalEvent) XPFactor() float64   { return nonZeroFactor(e.XP) }

// WeeklyEvent is the rotation slot selected for the current week. It is
// resolved by ActiveWeeklyEvent, so by construction it is always active.
type WeeklyEvent struct {
	ID   string
	Gold float64
	XP   float64
}

func (e WeeklyEvent) Active(now time.Time) bool { return true }
func (e WeeklyEvent) GoldFactor() float64       { return nonZeroFactor(e.Gold) }
func (e WeeklyEvent) XPFactor() float64         { return nonZeroFactor(e.XP) }

type Subscription struct {
	PlanID       string
	ExpiresAt    time.Time
	Gold         float64
	XP           float64
	ShopDiscount float64
}

func (s Subscription) Active(now time.Time) bool { return now.Before(s.ExpiresAt) }
func (s Subscription) GoldFactor() float64       { return nonZeroFactor(s.Gold) }
func (s Subscription) XPFactor() float64         { return nonZeroFactor(s.XP) }

// VipStatus doubles XP until it expires. Expiry is checked at composition
// time; the stale row is cleared lazily by CollectBonusSources.
type VipStatus struct {
	ExpiresAt time.Time
}

const vipXPFactor = 2.0

func (v VipStatus) Active(now time.Time) bool { return !now.After(v.ExpiresAt) }
func (v VipStatus) GoldFactor() float64       { return 1.0 }
func (v VipStatus) XPFactor() float64         { return vipXPFactor }

// ClanUpgrade is a perk the player's clan has purchased. Unknown upgrade ids
// are neutral.
type ClanUpgrade struct {
	ID string
}

type clanUpgradeEffect struct {
	gold float64
	xp   float64
}

const ClanUpgradeExperiencedHunters = "experiencedHunters"

var clanUpgradeEffects = map[string]clanUpgradeEffect{
	ClanUpgradeExperiencedHunters: {gold: 1.0, xp: 1.10},
	"wealthyPatrons":              {gold: 1.05, xp: 1.0},
}

func (c ClanUpgrade) Active(now time.Time) bool {
	_, ok := clanUpgradeEffects[c.ID]
	return ok
}

func (c ClanUpgrade) GoldFactor() float64 {
	if effect, ok := clanUpgradeEffects[c.ID]; ok {
		return nonZeroFactor(effect.gold)
	}
	return 1.0
}

func (c ClanUpgrade) XPFactor() float64 {
	if effect, ok := clanUpgradeEffects[c.ID]; ok {
		return nonZeroFactor(effect.xp)
	}
	return 1.0
}

func nonZeroFactor(v float64) float64 {
	if v <= 0 {
		return 1.0
	}
	return v
}

/* ======================
   Composition
   ====================== */

// ComposeMultipliers folds every active source into a gold and an XP
// multiplier. Multiplication only, so any permutation of the same sources
// yields the same result.
func ComposeMultipliers(sources []BonusSource, now time.Time) (float64, float64) {
	gold := 1.0
	xp := 1.0
	for _, source := range sources {
		if source == nil || !source.Active(now) {
			continue
		}
		gold *= source.GoldFactor()
		xp *= source.XPFactor()
	}
	return gold, xp
}

// ComposeShopDiscount folds the discount fractions of active sources into a
// single fraction. Discounts stack on the remaining price, never past 90%.
func ComposeShopDiscount(sources []BonusSource, now time.Time) float64 {
	retained := 1.0
	for _, source := range sources {
		if source == nil || !source.Active(now) {
			continue
		}
		var discount float64
		switch s := source.(type) {
		case SeasonalEvent:
			discount = s.ShopDiscount
		case Subscription:
			discount = s.ShopDiscount
		}
		if discount <= 0 || discount >= 1 {
			continue
		}
		retained *= 1 - discount
	}
	if retained < 0.1 {
		retained = 0.1
	}
	return 1 - retained
}

/* ======================
   Source collection
   ====================== */

// CollectBonusSources gathers every source that applies to the player right
// now. A failed lookup degrades that source to neutral instead of failing
// the whole composition; rewards must never block on a bonus read.
func CollectBonusSources(db *sql.DB, playerID string, now time.Time) []BonusSource {
	sources := make([]BonusSource, 0, 6)

	settings := GetGlobalSettings()
	sources = append(sources, ServerMultiplier{
		Gold: settings.ServerGoldMultiplier,
		XP:   settings.ServerXPMultiplier,
	})

	for _, event := range ActiveSeasonalEvents(now) {
		sources = append(sources, event)
	}
	sources = append(sources, ActiveWeeklyEvent(now))

	if sub, err := LoadSubscription(db, playerID); err != nil {
		log.Println("bonus: subscription lookup failed, treating as absent:", err)
	} else if sub != nil {
		sources = append(sources, *sub)
	}

	if vip, err := LoadVipStatus(db, playerID, now); err != nil {
		log.Println("bonus: vip lookup failed, treating as absent:", err)
	} else if vip != nil {
		sources = append(sources, *vip)
	}

	upgrades, err := LoadClanUpgrades(db, playerID)
	if err != nil {
		log.Println("bonus: clan upgrade lookup failed, treating as absent:", err)
	}
	for _, upgrade := range upgrades {
		sources = append(sources, upgrade)
	}

	return sources
}
