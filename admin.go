package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

type AdminGlobalSettingsRequest struct {
	Settings map[string]string `json:"settings"`
}

type AdminGlobalSettingsResponse struct {
	OK       bool           `json:"ok"`
	Error    string         `json:"error,omitempty"`
	Settings GlobalSettings `json:"settings,omitempty"`
}

type AdminBossSpawnRequest struct {
	LocationID string `json:"locationId"`
	BossName   string `json:"bossName,omitempty"`
	MaxHP      int    `json:"maxHp"`
	Respawn    bool   `json:"respawn,omitempty"`
}

type AdminProvinceRequest struct {
	ProvinceID        string   `json:"provinceId"`
	OwnerFactionID    *string  `json:"ownerFactionId,omitempty"`
	TaxRate           *float64 `json:"taxRate,omitempty"`
	CanCapture        *bool    `json:"canCapture,omitempty"`
	MinLevelToCapture *int     `json:"minLevelToCapture,omitempty"`
}

type AdminReconciliationResponse struct {
	OK          bool               `json:"ok"`
	Error       string             `json:"error,omitempty"`
	Settlements []RewardSettlement `json:"settlements,omitempty"`
}

// isAdminRequest gates the admin surface on a shared key. No key configured
// means no admin access at all.
func isAdminRequest(r *http.Request) bool {
	expected := strings.TrimSpace(os.Getenv("ADMIN_KEY"))
	if expected == "" {
		return false
	}
	provided := strings.TrimSpace(r.Header.Get("X-Admin-Key"))
	return provided != "" && provided == expected
}

func adminSettingsHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isAdminRequest(r) {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode(AdminGlobalSettingsResponse{OK: true, Settings: GetGlobalSettings()})
		case http.MethodPost:
			var req AdminGlobalSettingsRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Settings) == 0 {
				json.NewEncoder(w).Encode(AdminGlobalSettingsResponse{OK: false, Error: "INVALID_REQUEST"})
				return
			}
			settings, err := UpdateGlobalSettings(db, req.Settings)
			if err != nil {
				log.Println("admin: settings update failed:", err)
				json.NewEncoder(w).Encode(AdminGlobalSettingsResponse{OK: false, Error: "INTERNAL_ERROR"})
				return
			}
			json.NewEncoder(w).Encode(AdminGlobalSettingsResponse{OK: true, Settings: settings})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

// adminBossSpawnHandler configures a location's boss. With respawn set the
// live boss is restarted at the new HP immediately; otherwise the new value
// applies from the next reset.
func adminBossSpawnHandler(db *sql.DB, bosses *BossRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isAdminRequest(r) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req AdminBossSpawnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}
		if !isValidLocationID(req.LocationID) {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_LOCATION_ID"})
			return
		}
		if req.MaxHP <= 0 {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_MAX_HP"})
			return
		}

		if _, err := db.Exec(`
			INSERT INTO boss_spawns (location_id, boss_name, max_hp, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (location_id)
			DO UPDATE SET boss_name = EXCLUDED.boss_name, max_hp = EXCLUDED.max_hp, updated_at = NOW()
		`, req.LocationID, strings.TrimSpace(req.BossName), req.MaxHP); err != nil {
			log.Println("admin: spawn upsert failed:", err)
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}

		if req.Respawn {
			if _, err := db.Exec(`
				UPDATE boss_instances
				SET max_hp = $2
				WHERE location_id = $1
			`, req.LocationID, req.MaxHP); err != nil {
				log.Println("admin: instance hp update failed:", err)
			}
			if _, err := bosses.Reset(req.LocationID); err != nil {
				log.Println("admin: respawn failed:", err)
				json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INTERNAL_ERROR"})
				return
			}
		}

		json.NewEncoder(w).Encode(SimpleResponse{OK: true})
	}
}

func adminProvinceHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isAdminRequest(r) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req AdminProvinceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}
		if !isValidLocationID(req.ProvinceID) {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_PROVINCE_ID"})
			return
		}

		if _, err := db.Exec(`
			INSERT INTO provinces (province_id, tax_rate, can_capture, min_level_to_capture)
			VALUES ($1, 0, TRUE, 1)
			ON CONFLICT (province_id) DO NOTHING
		`, req.ProvinceID); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}

		if req.OwnerFactionID != nil {
			if _, err := db.Exec(`
				UPDATE provinces SET owner_faction_id = NULLIF($2, ''), captured_at = NOW()
				WHERE province_id = $1
			`, req.ProvinceID, strings.TrimSpace(*req.OwnerFactionID)); err != nil {
				json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INTERNAL_ERROR"})
				return
			}
		}
		if req.TaxRate != nil && *req.TaxRate >= 0 && *req.TaxRate < 1 {
			if _, err := db.Exec(`
				UPDATE provinces SET tax_rate = $2 WHERE province_id = $1
			`, req.ProvinceID, *req.TaxRate); err != nil {
				json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INTERNAL_ERROR"})
				return
			}
		}
		if req.CanCapture != nil {
			if _, err := db.Exec(`
				UPDATE provinces SET can_capture = $2 WHERE province_id = $1
			`, req.ProvinceID, *req.CanCapture); err != nil {
				json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INTERNAL_ERROR"})
				return
			}
		}
		if req.MinLevelToCapture != nil && *req.MinLevelToCapture >= 1 {
			if _, err := db.Exec(`
				UPDATE provinces SET min_level_to_capture = $2 WHERE province_id = $1
			`, req.ProvinceID, *req.MinLevelToCapture); err != nil {
				json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INTERNAL_ERROR"})
				return
			}
		}

		json.NewEncoder(w).Encode(SimpleResponse{OK: true})
	}
}

// adminReconciliationHandler lists settlements the reconciler has not
// finished, and re-drives them on demand.
func adminReconciliationHandler(store settlementStore, pipeline *SettlementPipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isAdminRequest(r) {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		switch r.Method {
		case http.MethodGet:
			claims, err := store.LoadUnfinishedSettlements(100)
			if err != nil {
				json.NewEncoder(w).Encode(AdminReconciliationResponse{OK: false, Error: "INTERNAL_ERROR"})
				return
			}
			settlements := make([]RewardSettlement, 0, len(claims))
			for _, claim := range claims {
				settlements = append(settlements, settlementResult(claim))
			}
			json.NewEncoder(w).Encode(AdminReconciliationResponse{OK: true, Settlements: settlements})
		case http.MethodPost:
			claims, err := store.LoadUnfinishedSettlements(100)
			if err != nil {
				json.NewEncoder(w).Encode(AdminReconciliationResponse{OK: false, Error: "INTERNAL_ERROR"})
				return
			}
			settlements := make([]RewardSettlement, 0, len(claims))
			for _, claim := range claims {
				result, err := pipeline.Resume(claim)
				if err != nil {
					log.Println("admin: reconciliation resume failed:", claim.SettlementID, err)
				}
				settlements = append(settlements, result)
			}
			json.NewEncoder(w).Encode(AdminReconciliationResponse{OK: true, Settlements: settlements})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

// adminTelemetryHandler returns the most recent telemetry rows for triage.
func adminTelemetryHandler(db *sql.DB) http.HandlerFunc {
	type telemetryRow struct {
		ID        int64           `json:"id"`
		PlayerID  string          `json:"playerId,omitempty"`
		EventType string          `json:"eventType"`
		Payload   json.RawMessage `json:"payload,omitempty"`
		CreatedAt time.Time       `json:"createdAt"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !isAdminRequest(r) {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		rows, err := db.Query(`
			SELECT id, COALESCE(player_id, ''), event_type, payload, created_at
			FROM player_telemetry
			ORDER BY id DESC
			LIMIT 200
		`)
		if err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}
		defer rows.Close()

		items := []telemetryRow{}
		for rows.Next() {
			var item telemetryRow
			var payload sql.NullString
			if err := rows.Scan(&item.ID, &item.PlayerID, &item.EventType, &payload, &item.CreatedAt); err != nil {
				continue
			}
			if payload.Valid {
				item.Payload = json.RawMessage(payload.String)
			}
			items = append(items, item)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "events": items})
	}
}
