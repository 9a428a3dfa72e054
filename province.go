package main

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	errProvinceNotFound   = errors.New("province not found")
	errCaptureLocked      = errors.New("province cannot be captured")
	errCaptureLevelTooLow = errors.New("player level too low to capture")
)

// Province ownership is a sibling economy concept: the boss pipeline and
// shop pricing only read it, capture is the sole mutation.
type Province struct {
	ID                string    `json:"id"`
	OwnerFactionID    string    `json:"ownerFactionId,omitempty"`
	TaxRate           float64   `json:"taxRate"`
	CanCapture        bool      `json:"canCapture"`
	MinLevelToCapture int       `json:"minLevelToCapture"`
	CapturedAt        time.Time `json:"capturedAt,omitempty"`
}

func playerLevelFor(xp int64) int {
	level := int(xp/1000) + 1
	if level < 1 {
		level = 1
	}
	return level
}

// checkCapture holds the capture preconditions; pure so the rules are
// testable without a database.
func checkCapture(province Province, playerLevel int) error {
	if !province.CanCapture {
		return errCaptureLocked
	}
	if playerLevel < province.MinLevelToCapture {
		return errCaptureLevelTooLow
	}
	return nil
}

func LoadProvince(db *sql.DB, provinceID string) (*Province, error) {
	var province Province
	var owner sql.NullString
	var capturedAt sql.NullTime
	err := db.QueryRow(`
		SELECT province_id, owner_faction_id, tax_rate, can_capture, min_level_to_capture, captured_at
		FROM provinces
		WHERE province_id = $1
	`, provinceID).Scan(&province.ID, &owner, &province.TaxRate, &province.CanCapture, &province.MinLevelToCapture, &capturedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if owner.Valid {
		province.OwnerFactionID = owner.String
	}
	if capturedAt.Valid {
		province.CapturedAt = capturedAt.Time
	}
	return &province, nil
}

func LoadProvinces(db *sql.DB) ([]Province, error) {
	rows, err := db.Query(`
		SELECT province_id, owner_faction_id, tax_rate, can_capture, min_level_to_capture, captured_at
		FROM provinces
		ORDER BY province_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	provinces := []Province{}
	for rows.Next() {
		var province Province
		var owner sql.NullString
		var capturedAt sql.NullTime
		if err := rows.Scan(&province.ID, &owner, &province.TaxRate, &province.CanCapture, &province.MinLevelToCapture, &capturedAt); err != nil {
			continue
		}
		if owner.Valid {
			province.OwnerFactionID = owner.String
		}
		if capturedAt.Valid {
			province.CapturedAt = capturedAt.Time
		}
		provinces = append(provinces, province)
	}
	return provinces, rows.Err()
}

// OwnerOf returns the owning faction for a location, or "" when unowned.
func OwnerOf(db *sql.DB, locationID string) (string, error) {
	province, err := LoadProvince(db, locationID)
	if err != nil {
		return "", err
	}
	if province == nil {
		return "", nil
	}
	return province.OwnerFactionID, nil
}

// TaxRateOf returns the trade tax fraction for a location; unowned or
// unknown locations trade tax-free.
func TaxRateOf(db *sql.DB, locationID string) (float64, error) {
	province, err := LoadProvince(db, locationID)
	if err != nil {
		return 0, err
	}
	if province == nil || province.OwnerFactionID == "" {
		return 0, nil
	}
	return province.TaxRate, nil
}

// CaptureProvince flips ownership to the requesting player's faction after
// the precondition checks pass. The row lock keeps two simultaneous
// captures from both reporting success.
func CaptureProvince(db *sql.DB, provinceID string, factionID string, playerID string) (*Province, error) {
	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var xp int64
	if err := tx.QueryRow(`
		SELECT xp
		FROM players
		WHERE player_id = $1
	`, playerID).Scan(&xp); err != nil {
		if err == sql.ErrNoRows {
			return nil, errPlayerNotFound
		}
		return nil, err
	}

	var province Province
	var owner sql.NullString
	if err := tx.QueryRow(`
		SELECT province_id, owner_faction_id, tax_rate, can_capture, min_level_to_capture
		FROM provinces
		WHERE province_id = $1
		FOR UPDATE
	`, provinceID).Scan(&province.ID, &owner, &province.TaxRate, &province.CanCapture, &province.MinLevelToCapture); err != nil {
		if err == sql.ErrNoRows {
			return nil, errProvinceNotFound
		}
		return nil, err
	}
	if owner.Valid {
		province.OwnerFactionID = owner.String
	}

	if err := checkCapture(province, playerLevelFor(xp)); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(`
		UPDATE provinces
		SET owner_faction_id = $2,
			captured_at = $3
		WHERE province_id = $1
	`, provinceID, factionID, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	province.OwnerFactionID = factionID
	province.CapturedAt = now
	return &province, nil
}

// ShopPriceFor applies the province tax and the player's composed discount
// to a base price. Read-only with respect to ownership.
func ShopPriceFor(db *sql.DB, locationID string, playerID string, basePrice int) (int, error) {
	taxRate, err := TaxRateOf(db, locationID)
	if err != nil {
		return basePrice, err
	}

	now := time.Now().UTC()
	discount := ComposeShopDiscount(CollectBonusSources(db, playerID, now), now)

	price := float64(basePrice) * (1 + taxRate) * (1 - discount)
	if price < 1 {
		return 1, nil
	}
	return int(price), nil
}
