package main

import "database/sql"

// ensureSchema creates every table the engine needs. All statements are
// idempotent so every instance can run this on boot.
func ensureSchema(db *sql.DB) error {

	// players
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS players (
			player_id TEXT PRIMARY KEY,
			gold BIGINT NOT NULL DEFAULT 0,
			xp BIGINT NOT NULL DEFAULT 0,
			bosses_defeated BIGINT NOT NULL DEFAULT 0,
			faction_id TEXT,
			clan_id TEXT,
			vip_expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			last_active_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	// boss spawn definitions (admin-seeded per location)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS boss_spawns (
			location_id TEXT PRIMARY KEY,
			boss_name TEXT NOT NULL DEFAULT '',
			max_hp BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	// live boss state, one row per location
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS boss_instances (
			location_id TEXT PRIMARY KEY,
			max_hp BIGINT NOT NULL,
			current_hp BIGINT NOT NULL,
			state TEXT NOT NULL,
			ordinal BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	// settlement claims; settlement_id is location_id + defeat ordinal, the
	// primary key is what makes settlement exactly-once
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS boss_settlements (
			settlement_id TEXT PRIMARY KEY,
			location_id TEXT NOT NULL,
			ordinal BIGINT NOT NULL,
			player_id TEXT NOT NULL,
			base_xp BIGINT NOT NULL,
			final_xp BIGINT NOT NULL DEFAULT 0,
			final_gold BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			settled_at TIMESTAMPTZ
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_boss_settlements_status
		ON boss_settlements (status, occurred_at);
	`)
	if err != nil {
		return err
	}

	// append-only reward credit log
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS reward_log (
			id TEXT PRIMARY KEY,
			settlement_id TEXT NOT NULL UNIQUE,
			player_id TEXT NOT NULL,
			gold BIGINT NOT NULL,
			xp BIGINT NOT NULL,
			gold_before BIGINT NOT NULL,
			gold_after BIGINT NOT NULL,
			xp_before BIGINT NOT NULL,
			xp_after BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_reward_log_player
		ON reward_log (player_id, created_at DESC);
	`)
	if err != nil {
		return err
	}

	// battle pass
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS battle_pass_xp_log (
			id TEXT PRIMARY KEY,
			settlement_id TEXT NOT NULL UNIQUE,
			pass_id TEXT NOT NULL,
			player_id TEXT NOT NULL,
			amount BIGINT NOT NULL,
			source TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS player_battle_pass (
			player_id TEXT NOT NULL,
			pass_id TEXT NOT NULL,
			xp BIGINT NOT NULL DEFAULT 0,
			level INT NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (player_id, pass_id)
		);
	`)
	if err != nil {
		return err
	}

	// quests
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS quest_event_log (
			id TEXT PRIMARY KEY,
			settlement_id TEXT NOT NULL,
			player_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			magnitude INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (settlement_id, event_type)
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS player_quest_progress (
			player_id TEXT NOT NULL,
			quest_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			progress INT NOT NULL DEFAULT 0,
			target INT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (player_id, quest_id)
		);
	`)
	if err != nil {
		return err
	}

	// subscriptions
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS player_subscriptions (
			player_id TEXT PRIMARY KEY,
			plan_id TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	// clans
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS clans (
			clan_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			leader_id TEXT NOT NULL,
			treasury_gold BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS clan_upgrades (
			clan_id TEXT NOT NULL,
			upgrade_id TEXT NOT NULL,
			purchased_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (clan_id, upgrade_id)
		);
	`)
	if err != nil {
		return err
	}

	// provinces
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS provinces (
			province_id TEXT PRIMARY KEY,
			owner_faction_id TEXT,
			tax_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			can_capture BOOLEAN NOT NULL DEFAULT TRUE,
			min_level_to_capture INT NOT NULL DEFAULT 1,
			captured_at TIMESTAMPTZ
		);
	`)
	if err != nil {
		return err
	}

	// global settings key/value store
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS global_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	// notifications
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS notifications (
			id BIGSERIAL PRIMARY KEY,
			recipient_role TEXT NOT NULL DEFAULT '',
			recipient_player_id TEXT,
			category TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT 'normal',
			message TEXT NOT NULL,
			payload JSONB,
			dedupe_key TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ
		);
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS notification_reads (
			notification_id BIGINT NOT NULL,
			player_id TEXT NOT NULL,
			read_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (notification_id, player_id)
		);
	`)
	if err != nil {
		return err
	}

	// telemetry
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS player_telemetry (
			id BIGSERIAL PRIMARY KEY,
			player_id TEXT,
			event_type TEXT NOT NULL,
			payload JSONB,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	return nil
}
