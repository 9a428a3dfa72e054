package main

import (
	"database/sql"
	"strconv"
	"strings"
	"sync"
	"time"
)

type GlobalSettings struct {
	ServerGoldMultiplier     float64
	ServerXPMultiplier       float64
	DefaultBossMaxHP         int
	RespawnDelaySeconds      int
	SettlementMaxAttempts    int
	SettlementBackoffMS      int
	StreamIntervalSeconds    int
	ReconcileIntervalSeconds int
}

var (
	settingsMu     sync.RWMutex
	cachedSettings = GlobalSettings{
		ServerGoldMultiplier:     1.0,
		ServerXPMultiplier:       1.0,
		DefaultBossMaxHP:         500,
		RespawnDelaySeconds:      0,
		SettlementMaxAttempts:    3,
		SettlementBackoffMS:      250,
		StreamIntervalSeconds:    2,
		ReconcileIntervalSeconds: 60,
	}
)

func LoadGlobalSettings(db *sql.DB) error {
	rows, err := db.Query(`
		SELECT key, value
		FROM global_settings
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	settingsMu.Lock()
	defer settingsMu.Unlock()

	for rows.Next() {
		var key string
		var value string
		if err := rows.Scan(&key, &value); err != nil {
			continue
		}
		applySetting(&cachedSettings, key, value)
	}
	return rows.Err()
}

func GetGlobalSettings() GlobalSettings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return cachedSettings
}

func UpdateGlobalSettings(db *sql.DB, updates map[string]string) (GlobalSettings, error) {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	for key, value := range updates {
		applySetting(&cachedSettings, key, value)
		_, err := db.Exec(`
			INSERT INTO global_settings (key, value, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
		`, key, value)
		if err != nil {
			return cachedSettings, err
		}
	}
	return cachedSettings, nil
}

func applySetting(target *GlobalSettings, key string, value string) {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "server_gold_multiplier":
		if v, err := strconv.ParseFloat(value, 64); err == nil && v > 0 {
			target.ServerGoldMultiplier = v
		}
	case "server_xp_multiplier":
		if v, err := strconv.ParseFloat(value, 64); err == nil && v > 0 {
			target.ServerXPMultiplier = v
		}
	case "default_boss_max_hp":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			target.DefaultBossMaxHP = v
		}
	case "respawn_delay_seconds":
		if v, err := strconv.Atoi(value); err == nil && v >= 0 {
			target.RespawnDelaySeconds = v
		}
	case "settlement_max_attempts":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			target.SettlementMaxAttempts = v
		}
	case "settlement_backoff_ms":
		if v, err := strconv.Atoi(value); err == nil && v >= 0 {
			target.SettlementBackoffMS = v
		}
	case "stream_interval_seconds":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			target.StreamIntervalSeconds = v
		}
	case "reconcile_interval_seconds":
		if v, err := strconv.Atoi(value); err == nil && v > 0 {
			target.ReconcileIntervalSeconds = v
		}
	}
}

func RespawnDelay() time.Duration {
	settings := GetGlobalSettings()
	if settings.RespawnDelaySeconds <= 0 {
		return 0
	}
	return time.Duration(settings.RespawnDelaySeconds) * time.Second
}
