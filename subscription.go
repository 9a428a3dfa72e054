package main

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	errUnknownPlan    = errors.New("unknown subscription plan")
	errNotEnoughGold  = errors.New("not enough gold")
	errPlayerNotFound = errors.New("player not found")
)

type SubscriptionPlan struct {
	PlanID       string  `json:"planId"`
	Gold         float64 `json:"goldMultiplier"`
	XP           float64 `json:"xpMultiplier"`
	ShopDiscount float64 `json:"shopDiscount"`
	Days         int     `json:"days"`
	PriceGold    int64   `json:"priceGold"`
}

// The plan catalog is static configuration, like the event calendar.
var subscriptionPlans = map[string]SubscriptionPlan{
	"adventurer": {PlanID: "adventurer", Gold: 1.1, XP: 1.1, ShopDiscount: 0.05, Days: 30, PriceGold: 2000},
	"champion":   {PlanID: "champion", Gold: 1.25, XP: 1.25, ShopDiscount: 0.10, Days: 30, PriceGold: 5000},
}

const (
	vipDays      = 7
	vipPriceGold = 1500
)

// LoadSubscription returns the player's subscription as a bonus source, or
// nil when they never bought one. Expiry is not filtered here; the source
// itself reports inactive once past, evaluated at composition time.
func LoadSubscription(db *sql.DB, playerID string) (*Subscription, error) {
	var planID string
	var expiresAt time.Time
	err := db.QueryRow(`
		SELECT plan_id, expires_at
		FROM player_subscriptions
		WHERE player_id = $1
	`, playerID).Scan(&planID, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	plan, ok := subscriptionPlans[planID]
	if !ok {
		return nil, nil
	}
	return &Subscription{
		PlanID:       plan.PlanID,
		ExpiresAt:    expiresAt,
		Gold:         plan.Gold,
		XP:           plan.XP,
		ShopDiscount: plan.ShopDiscount,
	}, nil
}

// LoadVipStatus reads the player's VIP expiry. A stale expiry is cleared
// lazily here and reported as absent.
func LoadVipStatus(db *sql.DB, playerID string, now time.Time) (*VipStatus, error) {
	var expires sql.NullTime
	err := db.QueryRow(`
		SELECT vip_expires_at
		FROM players
		WHERE player_id = $1
	`, playerID).Scan(&expires)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !expires.Valid {
		return nil, nil
	}
	if now.After(expires.Time) {
		_, _ = db.Exec(`
			UPDATE players
			SET vip_expires_at = NULL
			WHERE player_id = $1 AND vip_expires_at = $2
		`, playerID, expires.Time)
		return nil, nil
	}
	return &VipStatus{ExpiresAt: expires.Time}, nil
}

// PurchaseSubscription charges the plan price and extends the subscription
// from now, or from the current expiry when still active.
func PurchaseSubscription(db *sql.DB, playerID string, planID string) (*Subscription, error) {
	plan, ok := subscriptionPlans[planID]
	if !ok {
		return nil, errUnknownPlan
	}

	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var gold int64
	if err := tx.QueryRow(`
		SELECT gold
		FROM players
		WHERE player_id = $1
		FOR UPDATE
	`, playerID).Scan(&gold); err != nil {
		if err == sql.ErrNoRows {
			return nil, errPlayerNotFound
		}
		return nil, err
	}
	if gold < plan.PriceGold {
		return nil, errNotEnoughGold
	}

	now := time.Now().UTC()
	anchor := now
	var current sql.NullTime
	if err := tx.QueryRow(`
		SELECT expires_at
		FROM player_subscriptions
		WHERE player_id = $1
		FOR UPDATE
	`, playerID).Scan(&current); err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if current.Valid && current.Time.After(now) {
		anchor = current.Time
	}
	expiresAt := anchor.Add(time.Duration(plan.Days) * 24 * time.Hour)

	if _, err := tx.Exec(`
		UPDATE players
		SET gold = gold - $2
		WHERE player_id = $1
	`, playerID, plan.PriceGold); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`
		INSERT INTO player_subscriptions (player_id, plan_id, expires_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (player_id)
		DO UPDATE SET plan_id = EXCLUDED.plan_id, expires_at = EXCLUDED.expires_at, updated_at = NOW()
	`, playerID, plan.PlanID, expiresAt); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &Subscription{
		PlanID:       plan.PlanID,
		ExpiresAt:    expiresAt,
		Gold:         plan.Gold,
		XP:           plan.XP,
		ShopDiscount: plan.ShopDiscount,
	}, nil
}

// PurchaseVip charges gold for a week of doubled XP, stacking on any VIP
// time still remaining.
func PurchaseVip(db *sql.DB, playerID string) (time.Time, error) {
	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		return time.Time{}, err
	}
	defer tx.Rollback()

	var gold int64
	var current sql.NullTime
	if err := tx.QueryRow(`
		SELECT gold, vip_expires_at
		FROM players
		WHERE player_id = $1
		FOR UPDATE
	`, playerID).Scan(&gold, &current); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, errPlayerNotFound
		}
		return time.Time{}, err
	}
	if gold < vipPriceGold {
		return time.Time{}, errNotEnoughGold
	}

	now := time.Now().UTC()
	anchor := now
	if current.Valid && current.Time.After(now) {
		anchor = current.Time
	}
	expiresAt := anchor.Add(vipDays * 24 * time.Hour)

	if _, err := tx.Exec(`
		UPDATE players
		SET gold = gold - $2,
			vip_expires_at = $3
		WHERE player_id = $1
	`, playerID, vipPriceGold, expiresAt); err != nil {
		return time.Time{}, err
	}

	if err := tx.Commit(); err != nil {
		return time.Time{}, err
	}
	return expiresAt, nil
}
