package main

import (
	"database/sql"
	"errors"
	"time"
)

var errFactionAlreadySet = errors.New("faction already chosen")

// Factions are fixed at three; choosing one is permanent so province
// ownership cannot be flipped by hopping sides.
var factionCatalog = map[string]string{
	"emberborn":   "Emberborn Pact",
	"tidecallers": "Tidecaller Court",
	"stonekin":    "Stonekin Concord",
}

func isValidFactionID(factionID string) bool {
	_, ok := factionCatalog[factionID]
	return ok
}

type Player struct {
	PlayerID       string    `json:"playerId"`
	Gold           int64     `json:"gold"`
	XP             int64     `json:"xp"`
	Level          int       `json:"level"`
	BossesDefeated int64     `json:"bossesDefeated"`
	FactionID      string    `json:"factionId,omitempty"`
	ClanID         string    `json:"clanId,omitempty"`
	VipExpiresAt   time.Time `json:"vipExpiresAt,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

func scanPlayer(row *sql.Row) (*Player, error) {
	var p Player
	var faction, clan sql.NullString
	var vipExpires sql.NullTime

	err := row.Scan(
		&p.PlayerID,
		&p.Gold,
		&p.XP,
		&p.BossesDefeated,
		&faction,
		&clan,
		&vipExpires,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if faction.Valid {
		p.FactionID = faction.String
	}
	if clan.Valid {
		p.ClanID = clan.String
	}
	if vipExpires.Valid {
		p.VipExpiresAt = vipExpires.Time
	}
	p.Level = playerLevelFor(p.XP)
	return &p, nil
}

const playerColumns = `
	player_id, gold, xp, bosses_defeated, faction_id, clan_id, vip_expires_at, created_at
`

func LoadOrCreatePlayer(db *sql.DB, playerID string) (*Player, error) {
	p, err := scanPlayer(db.QueryRow(`
		SELECT `+playerColumns+`
		FROM players
		WHERE player_id = $1
	`, playerID))

	if err == nil {
		_, _ = db.Exec(`
			UPDATE players
			SET last_active_at = NOW()
			WHERE player_id = $1
		`, playerID)
		return p, nil
	}

	if err != sql.ErrNoRows {
		return nil, err
	}

	_, err = db.Exec(`
		INSERT INTO players (
			player_id,
			gold,
			xp,
			bosses_defeated,
			created_at,
			last_active_at
		)
		VALUES ($1, 0, 0, 0, NOW(), NOW())
		ON CONFLICT (player_id) DO NOTHING
	`, playerID)
	if err != nil {
		return nil, err
	}

	if err := EnsureQuestTrack(db, playerID); err != nil {
		return nil, err
	}

	return scanPlayer(db.QueryRow(`
		SELECT `+playerColumns+`
		FROM players
		WHERE player_id = $1
	`, playerID))
}

func LoadPlayer(db *sql.DB, playerID string) (*Player, error) {
	p, err := scanPlayer(db.QueryRow(`
		SELECT `+playerColumns+`
		FROM players
		WHERE player_id = $1
	`, playerID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func SetPlayerFaction(db *sql.DB, playerID string, factionID string) error {
	result, err := db.Exec(`
		UPDATE players
		SET faction_id = $2,
			last_active_at = NOW()
		WHERE player_id = $1
			AND faction_id IS NULL
	`, playerID, factionID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errFactionAlreadySet
	}
	return nil
}
