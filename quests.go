package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Quest objectives listen for gameplay events by type. The boss pipeline
// only ever emits boss_kill with magnitude 1; the table shape leaves room
// for the other trackers that hang off the same feed.
const QuestEventBossKill = "boss_kill"

// RecordQuestProgress bumps every objective of the player's active quests
// that listens for the event. The event log row is keyed by settlement id,
// so a re-driven settlement cannot double-count a kill.
func (s *pgSettlementStore) RecordQuestProgress(playerID string, settlementID string, event string, magnitude int) error {
	if magnitude <= 0 {
		return nil
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO quest_event_log (
			id,
			settlement_id,
			player_id,
			event_type,
			magnitude,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (settlement_id, event_type) DO NOTHING
	`, uuid.NewString(), settlementID, playerID, event, magnitude)
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

	if _, err := tx.Exec(`
		UPDATE player_quest_progress
		SET progress = LEAST(progress + $3, target),
			updated_at = NOW()
		WHERE player_id = $1
			AND event_type = $2
			AND progress < target
	`, playerID, event, magnitude); err != nil {
		return err
	}

	return tx.Commit()
}

type QuestProgress struct {
	QuestID   string    `json:"questId"`
	EventType string    `json:"eventType"`
	Progress  int       `json:"progress"`
	Target    int       `json:"target"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func LoadQuestProgress(db *sql.DB, playerID string) ([]QuestProgress, error) {
	rows, err := db.Query(`
		SELECT quest_id, event_type, progress, target, updated_at
		FROM player_quest_progress
		WHERE player_id = $1
		ORDER BY quest_id
	`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	quests := []QuestProgress{}
	for rows.Next() {
		var quest QuestProgress
		if err := rows.Scan(&quest.QuestID, &quest.EventType, &quest.Progress, &quest.Target, &quest.UpdatedAt); err != nil {
			continue
		}
		quests = append(quests, quest)
	}
	return quests, rows.Err()
}

// EnsureQuestTrack seeds the standing boss-hunt quest for a player if they
// have none yet. Called on first player load.
func EnsureQuestTrack(db *sql.DB, playerID string) error {
	_, err := db.Exec(`
		INSERT INTO player_quest_progress (player_id, quest_id, event_type, progress, target, updated_at)
		VALUES ($1, 'boss-hunter-i', $2, 0, 10, NOW())
		ON CONFLICT (player_id, quest_id) DO NOTHING
	`, playerID, QuestEventBossKill)
	return err
}
