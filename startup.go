package main

import (
	"context"
	"database/sql"
	"log"
	"time"
)

const startupAdvisoryLockID int64 = 824173921

var startupLockConn *sql.Conn

// acquireStartupLock elects the instance that runs leader-only work: world
// seeding and the background loops. The lock is held for the process
// lifetime via the pinned connection.
func acquireStartupLock(ctx context.Context, db *sql.DB) (*sql.Conn, bool, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, false, err
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, startupAdvisoryLockID).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, false, err
	}
	if !acquired {
		_ = conn.Close()
		return nil, false, nil
	}
	return conn, true, nil
}

type bossSpawnSeed struct {
	locationID string
	bossName   string
	maxHP      int
}

type provinceSeed struct {
	provinceID        string
	taxRate           float64
	canCapture        bool
	minLevelToCapture int
}

var defaultBossSpawns = []bossSpawnSeed{
	{"ashen-wastes", "Cinderlord Varok", 500},
	{"frost-hollow", "Rimefang", 750},
	{"sunken-crypt", "The Drowned King", 1200},
}

var defaultProvinces = []provinceSeed{
	{"ashen-wastes", 0.05, true, 1},
	{"frost-hollow", 0.08, true, 3},
	{"sunken-crypt", 0.10, true, 5},
	{"capital-reach", 0.02, false, 1},
}

// seedWorld installs the default spawn and province rows. Inserts only;
// admin edits survive restarts.
func seedWorld(ctx context.Context, db *sql.DB) error {
	for _, spawn := range defaultBossSpawns {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO boss_spawns (location_id, boss_name, max_hp, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (location_id) DO NOTHING
		`, spawn.locationID, spawn.bossName, spawn.maxHP); err != nil {
			return err
		}
	}

	for _, province := range defaultProvinces {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO provinces (province_id, tax_rate, can_capture, min_level_to_capture)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (province_id) DO NOTHING
		`, province.provinceID, province.taxRate, province.canCapture, province.minLevelToCapture); err != nil {
			return err
		}
	}

	log.Println("World seed ensured:", len(defaultBossSpawns), "spawns,", len(defaultProvinces), "provinces")
	return nil
}

func updateTickHeartbeat(db *sql.DB, now time.Time) {
	_, err := db.Exec(`
		INSERT INTO global_settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, "reconciler_last_utc", now.UTC().Format(time.RFC3339))
	if err != nil {
		log.Println("heartbeat update failed:", err)
	}
}
