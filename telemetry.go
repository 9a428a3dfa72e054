package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

type TelemetryEventRequest struct {
	PlayerID  string          `json:"playerId"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
}

func telemetryHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !featureFlags.Telemetry {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var req TelemetryEventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.EventType == "" || !isValidPlayerID(req.PlayerID) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		_, _ = db.Exec(`
			INSERT INTO player_telemetry (player_id, event_type, payload, created_at)
			VALUES ($1, $2, $3, NOW())
		`, req.PlayerID, req.EventType, req.Payload)

		w.WriteHeader(http.StatusNoContent)
	}
}

func emitServerTelemetry(db *sql.DB, playerID string, eventType string, payload map[string]interface{}) {
	if db == nil || eventType == "" {
		return
	}
	if !featureFlags.Telemetry {
		return
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		log.Println("telemetry marshal failed:", err)
		return
	}
	_, err = db.Exec(`
		INSERT INTO player_telemetry (player_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, NOW())
	`, playerID, eventType, encoded)
	if err != nil {
		log.Println("telemetry insert failed:", err)
	}
}

// emitServerTelemetryWithCooldown drops the event when an identical one for
// the same player landed within the cooldown. Keeps repeated failures from
// flooding the table.
func emitServerTelemetryWithCooldown(db *sql.DB, playerID string, eventType string, payload map[string]interface{}, cooldown time.Duration) {
	if db == nil || eventType == "" {
		return
	}
	if cooldown > 0 {
		var last time.Time
		err := db.QueryRow(`
			SELECT created_at
			FROM player_telemetry
			WHERE player_id = $1 AND event_type = $2
			ORDER BY created_at DESC
			LIMIT 1
		`, playerID, eventType).Scan(&last)
		if err == nil && time.Since(last) < cooldown {
			return
		}
	}
	emitServerTelemetry(db, playerID, eventType, payload)
}
