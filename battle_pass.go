package main

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultBattlePassID = "pass-1"
	battlePassMaxLevel  = 50
	battlePassLevelXP   = 1000
)

var (
	battlePassOnce sync.Once
	battlePassID   string
)

func currentBattlePassID() string {
	battlePassOnce.Do(func() {
		battlePassID = strings.TrimSpace(os.Getenv("BATTLE_PASS_ID"))
		if battlePassID == "" {
			battlePassID = defaultBattlePassID
		}
	})
	return battlePassID
}

// battlePassLevelFor converts accumulated XP into a level. Flat curve, capped
// at the track's last level.
func battlePassLevelFor(xp int64) int {
	level := int(xp/battlePassLevelXP) + 1
	if level > battlePassMaxLevel {
		level = battlePassMaxLevel
	}
	return level
}

// GrantBattlePassXP forwards settled boss XP to the player's pass progress.
// The XP log row is keyed by settlement id; replaying a settlement adds
// nothing.
func (s *pgSettlementStore) GrantBattlePassXP(playerID string, settlementID string, xp int) error {
	if xp <= 0 {
		return nil
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO battle_pass_xp_log (
			id,
			settlement_id,
			pass_id,
			player_id,
			amount,
			source,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, 'boss_kill', NOW())
		ON CONFLICT (settlement_id) DO NOTHING
	`, uuid.NewString(), settlementID, currentBattlePassID(), playerID, xp)
	if err != nil {
		return err
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		return nil
	}

	var total int64
	if err := tx.QueryRow(`
		INSERT INTO player_battle_pass (player_id, pass_id, xp, level, updated_at)
		VALUES ($1, $2, $3, 1, NOW())
		ON CONFLICT (player_id, pass_id)
		DO UPDATE SET xp = player_battle_pass.xp + EXCLUDED.xp, updated_at = NOW()
		RETURNING xp
	`, playerID, currentBattlePassID(), xp).Scan(&total); err != nil {
		return err
	}

	if _, err := tx.Exec(`
		UPDATE player_battle_pass
		SET level = $3
		WHERE player_id = $1 AND pass_id = $2
	`, playerID, currentBattlePassID(), battlePassLevelFor(total)); err != nil {
		return err
	}

	return tx.Commit()
}

type BattlePassProgress struct {
	PassID    string    `json:"passId"`
	PlayerID  string    `json:"playerId"`
	XP        int64     `json:"xp"`
	Level     int       `json:"level"`
	NextLevel int64     `json:"nextLevelXp"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func LoadBattlePassProgress(db *sql.DB, playerID string) (*BattlePassProgress, error) {
	progress := BattlePassProgress{
		PassID:   currentBattlePassID(),
		PlayerID: playerID,
		Level:    1,
	}
	err := db.QueryRow(`
		SELECT xp, level, updated_at
		FROM player_battle_pass
		WHERE player_id = $1 AND pass_id = $2
	`, playerID, currentBattlePassID()).Scan(&progress.XP, &progress.Level, &progress.UpdatedAt)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	progress.NextLevel = int64(progress.Level) * battlePassLevelXP
	return &progress, nil
}
