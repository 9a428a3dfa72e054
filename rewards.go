package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// CreditRewards applies the final amounts to the player row and appends the
// reward log entry in one transaction. The log insert is keyed by settlement
// id, so a retry that finds the key already present commits nothing twice.
func (s *pgSettlementStore) CreditRewards(playerID string, settlementID string, gold int, xp int) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var goldBefore, xpBefore int64
	if err := tx.QueryRow(`
		SELECT gold, xp
		FROM players
		WHERE player_id = $1
		FOR UPDATE
	`, playerID).Scan(&goldBefore, &xpBefore); err != nil {
		return err
	}

	result, err := tx.Exec(`
		INSERT INTO reward_log (
			id,
			settlement_id,
			player_id,
			gold,
			xp,
			gold_before,
			gold_after,
			xp_before,
			xp_after,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (settlement_id) DO NOTHING
	`, uuid.NewString(), settlementID, playerID, gold, xp,
		goldBefore, goldBefore+int64(gold), xpBefore, xpBefore+int64(xp), time.Now().UTC())
	if err != nil {
		return err
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		// Already credited by an earlier attempt.
		return nil
	}

	if _, err := tx.Exec(`
		UPDATE players
		SET gold = gold + $2,
			xp = xp + $3,
			bosses_defeated = bosses_defeated + 1,
			last_active_at = NOW()
		WHERE player_id = $1
	`, playerID, gold, xp); err != nil {
		return err
	}

	return tx.Commit()
}

// RewardLogEntry is one settled defeat from the player's point of view.
type RewardLogEntry struct {
	SettlementID string    `json:"settlementId"`
	Gold         int64     `json:"gold"`
	XP           int64     `json:"xp"`
	CreatedAt    time.Time `json:"createdAt"`
}

func LoadRewardLog(db *sql.DB, playerID string, limit int) ([]RewardLogEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT settlement_id, gold, xp, created_at
		FROM reward_log
		WHERE player_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, playerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []RewardLogEntry{}
	for rows.Next() {
		var entry RewardLogEntry
		if err := rows.Scan(&entry.SettlementID, &entry.Gold, &entry.XP, &entry.CreatedAt); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
