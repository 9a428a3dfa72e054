package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

/* ======================
   Request / Response Types
   ====================== */

type SimpleResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type DamageRequest struct {
	PlayerID   string `json:"playerId"`
	LocationID string `json:"locationId"`
	Amount     int    `json:"amount"`
}

type DamageResponse struct {
	OK         bool              `json:"ok"`
	Error      string            `json:"error,omitempty"`
	Boss       *BossSnapshot     `json:"boss,omitempty"`
	Defeated   bool              `json:"defeated"`
	Settlement *RewardSettlement `json:"settlement,omitempty"`
}

type PlayerResponse struct {
	OK         bool                `json:"ok"`
	Error      string              `json:"error,omitempty"`
	Player     *Player             `json:"player,omitempty"`
	BattlePass *BattlePassProgress `json:"battlePass,omitempty"`
	Quests     []QuestProgress     `json:"quests,omitempty"`
}

type BonusPreviewResponse struct {
	OK             bool    `json:"ok"`
	Error          string  `json:"error,omitempty"`
	GoldMultiplier float64 `json:"goldMultiplier,omitempty"`
	XPMultiplier   float64 `json:"xpMultiplier,omitempty"`
	ShopDiscount   float64 `json:"shopDiscount,omitempty"`
}

type CaptureRequest struct {
	PlayerID   string `json:"playerId"`
	ProvinceID string `json:"provinceId"`
}

type CaptureResponse struct {
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	Province *Province `json:"province,omitempty"`
}

type ShopPriceResponse struct {
	OK         bool    `json:"ok"`
	Error      string  `json:"error,omitempty"`
	BasePrice  int     `json:"basePrice,omitempty"`
	FinalPrice int     `json:"finalPrice,omitempty"`
	TaxRate    float64 `json:"taxRate,omitempty"`
}

type BuySubscriptionRequest struct {
	PlayerID string `json:"playerId"`
	PlanID   string `json:"planId"`
}

type BuySubscriptionResponse struct {
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	PlanID    string    `json:"planId,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

type BuyVipRequest struct {
	PlayerID string `json:"playerId"`
}

type BuyVipResponse struct {
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

type BuyClanUpgradeRequest struct {
	PlayerID  string `json:"playerId"`
	UpgradeID string `json:"upgradeId"`
}

type FactionRequest struct {
	PlayerID  string `json:"playerId"`
	FactionID string `json:"factionId"`
}

type ClanCreateRequest struct {
	PlayerID string `json:"playerId"`
	ClanID   string `json:"clanId"`
	Name     string `json:"name"`
}

type ClanJoinRequest struct {
	PlayerID string `json:"playerId"`
	ClanID   string `json:"clanId"`
}

type ClanDonateRequest struct {
	PlayerID string `json:"playerId"`
	Amount   int64  `json:"amount"`
}

type ClanDonateResponse struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	Treasury int64  `json:"treasuryGold,omitempty"`
}

type RewardLogResponse struct {
	OK      bool             `json:"ok"`
	Error   string           `json:"error,omitempty"`
	Rewards []RewardLogEntry `json:"rewards,omitempty"`
}

type LeaderboardEntry struct {
	Rank           int    `json:"rank"`
	PlayerID       string `json:"playerId"`
	BossesDefeated int64  `json:"bossesDefeated"`
	XP             int64  `json:"xp"`
	Level          int    `json:"level"`
}

type LeaderboardResponse struct {
	Page     int                `json:"page"`
	PageSize int                `json:"pageSize"`
	Total    int                `json:"total"`
	Results  []LeaderboardEntry `json:"results"`
}

type NotificationsResponse struct {
	OK            bool               `json:"ok"`
	Error         string             `json:"error,omitempty"`
	Notifications []NotificationItem `json:"notifications,omitempty"`
}

type NotificationAckRequest struct {
	PlayerID string  `json:"playerId"`
	IDs      []int64 `json:"ids"`
}

/* ======================
   Handlers
   ====================== */

func serveIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"service": "worldboss",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func healthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("db unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

func playerHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID := r.URL.Query().Get("playerId")
		if !isValidPlayerID(playerID) {
			json.NewEncoder(w).Encode(PlayerResponse{OK: false, Error: "INVALID_PLAYER_ID"})
			return
		}

		player, err := LoadOrCreatePlayer(db, playerID)
		if err != nil {
			log.Println("Failed to load/create player:", err)
			json.NewEncoder(w).Encode(PlayerResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}

		response := PlayerResponse{OK: true, Player: player}
		if pass, err := LoadBattlePassProgress(db, playerID); err == nil {
			response.BattlePass = pass
		}
		if quests, err := LoadQuestProgress(db, playerID); err == nil {
			response.Quests = quests
		}
		json.NewEncoder(w).Encode(response)
	}
}

func bossHandler(bosses *BossRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locationID := strings.TrimSpace(r.URL.Query().Get("locationId"))
		if locationID == "" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"ok":     true,
				"bosses": bosses.Snapshots(),
			})
			return
		}
		if !isValidLocationID(locationID) {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_LOCATION_ID"})
			return
		}

		snapshot, err := bosses.Snapshot(locationID)
		if err != nil {
			log.Println("boss snapshot failed:", err)
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":   true,
			"boss": snapshot,
		})
	}
}

// damageHandler is the hot path: apply the hit, and when this hit was the
// killing blow, run settlement before answering so the killer sees their
// reward in the response.
func damageHandler(db *sql.DB, bosses *BossRegistry, pipeline *SettlementPipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !featureFlags.BossFights {
			json.NewEncoder(w).Encode(DamageResponse{OK: false, Error: "BOSS_FIGHTS_DISABLED"})
			return
		}

		var req DamageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(DamageResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}
		if !isValidPlayerID(req.PlayerID) {
			json.NewEncoder(w).Encode(DamageResponse{OK: false, Error: "INVALID_PLAYER_ID"})
			return
		}
		if !isValidLocationID(req.LocationID) {
			json.NewEncoder(w).Encode(DamageResponse{OK: false, Error: "INVALID_LOCATION_ID"})
			return
		}
		if req.Amount <= 0 {
			json.NewEncoder(w).Encode(DamageResponse{OK: false, Error: "INVALID_AMOUNT"})
			return
		}

		if _, err := LoadOrCreatePlayer(db, req.PlayerID); err != nil {
			log.Println("damage: player load failed:", err)
			json.NewEncoder(w).Encode(DamageResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}

		snapshot, transition, err := bosses.ApplyDamage(req.LocationID, req.PlayerID, req.Amount)
		if err == errDamageRejected {
			json.NewEncoder(w).Encode(DamageResponse{OK: false, Error: "INVALID_AMOUNT"})
			return
		}
		if err != nil {
			log.Println("damage: apply failed:", err)
			json.NewEncoder(w).Encode(DamageResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}

		response := DamageResponse{OK: true, Boss: &snapshot}

		if transition != nil {
			response.Defeated = true
			settlement, err := pipeline.Settle(*transition)
			if err != nil {
				// Settlement is durably claimed; the reconciler finishes it.
				log.Println("damage: settlement failed, deferred to reconciler:", err)
			}
			if settlement.SettlementID != "" {
				response.Settlement = &settlement
			}
			emitServerTelemetry(db, req.PlayerID, "boss_defeated", map[string]interface{}{
				"locationId":   transition.LocationID,
				"ordinal":      transition.Ordinal,
				"settlementId": settlementKey(transition.LocationID, transition.Ordinal),
			})
		}

		json.NewEncoder(w).Encode(response)
	}
}

func bonusesHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID := r.URL.Query().Get("playerId")
		if !isValidPlayerID(playerID) {
			json.NewEncoder(w).Encode(BonusPreviewResponse{OK: false, Error: "INVALID_PLAYER_ID"})
			return
		}

		now := time.Now().UTC()
		sources := CollectBonusSources(db, playerID, now)
		gold, xp := ComposeMultipliers(sources, now)
		json.NewEncoder(w).Encode(BonusPreviewResponse{
			OK:             true,
			GoldMultiplier: gold,
			XPMultiplier:   xp,
			ShopDiscount:   ComposeShopDiscount(sources, now),
		})
	}
}

func provincesHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provinceID := strings.TrimSpace(r.URL.Query().Get("provinceId"))
		if provinceID != "" {
			if !isValidLocationID(provinceID) {
				json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_PROVINCE_ID"})
				return
			}
			province, err := LoadProvince(db, provinceID)
			if err != nil {
				json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INTERNAL_ERROR"})
				return
			}
			if province == nil {
				json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "PROVINCE_NOT_FOUND"})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "province": province})
			return
		}

		provinces, err := LoadProvinces(db)
		if err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "provinces": provinces})
	}
}

func captureHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req CaptureRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(CaptureResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}
		if !isValidPlayerID(req.PlayerID) {
			json.NewEncoder(w).Encode(CaptureResponse{OK: false, Error: "INVALID_PLAYER_ID"})
			return
		}
		if !isValidLocationID(req.ProvinceID) {
			json.NewEncoder(w).Encode(CaptureResponse{OK: false, Error: "INVALID_PROVINCE_ID"})
			return
		}

		player, err := LoadPlayer(db, req.PlayerID)
		if err != nil {
			json.NewEncoder(w).Encode(CaptureResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}
		if player == nil {
			json.NewEncoder(w).Encode(CaptureResponse{OK: false, Error: "PLAYER_NOT_FOUND"})
			return
		}
		if player.FactionID == "" {
			json.NewEncoder(w).Encode(CaptureResponse{OK: false, Error: "NO_FACTION"})
			return
		}

		province, err := CaptureProvince(db, req.ProvinceID, player.FactionID, req.PlayerID)
		switch err {
		case nil:
		case errProvinceNotFound:
			json.NewEncoder(w).Encode(CaptureResponse{OK: false, Error: "PROVINCE_NOT_FOUND"})
			return
		case errCaptureLocked:
			json.NewEncoder(w).Encode(CaptureResponse{OK: false, Error: "CAPTURE_LOCKED"})
			return
		case errCaptureLevelTooLow:
			json.NewEncoder(w).Encode(CaptureResponse{OK: false, Error: "LEVEL_TOO_LOW"})
			return
		case errPlayerNotFound:
			json.NewEncoder(w).Encode(CaptureResponse{OK: false, Error: "PLAYER_NOT_FOUND"})
			return
		default:
			log.Println("capture failed:", err)
			json.NewEncoder(w).Encode(CaptureResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}

		emitServerTelemetry(db, req.PlayerID, "province_captured", map[string]interface{}{
			"provinceId": province.ID,
			"factionId":  province.OwnerFactionID,
		})
		json.NewEncoder(w).Encode(CaptureResponse{OK: true, Province: province})
	}
}

func shopPriceHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID := r.URL.Query().Get("playerId")
		locationID := r.URL.Query().Get("locationId")
		if !isValidPlayerID(playerID) || !isValidLocationID(locationID) {
			json.NewEncoder(w).Encode(ShopPriceResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}
		basePrice, err := strconv.Atoi(r.URL.Query().Get("basePrice"))
		if err != nil || basePrice <= 0 {
			json.NewEncoder(w).Encode(ShopPriceResponse{OK: false, Error: "INVALID_PRICE"})
			return
		}

		taxRate, err := TaxRateOf(db, locationID)
		if err != nil {
			json.NewEncoder(w).Encode(ShopPriceResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}
		finalPrice, err := ShopPriceFor(db, locationID, playerID, basePrice)
		if err != nil {
			json.NewEncoder(w).Encode(ShopPriceResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}
		json.NewEncoder(w).Encode(ShopPriceResponse{
			OK:         true,
			BasePrice:  basePrice,
			FinalPrice: finalPrice,
			TaxRate:    taxRate,
		})
	}
}

func buySubscriptionHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !featureFlags.Purchases {
			json.NewEncoder(w).Encode(BuySubscriptionResponse{OK: false, Error: "PURCHASES_DISABLED"})
			return
		}

		var req BuySubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(BuySubscriptionResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}
		if !isValidPlayerID(req.PlayerID) {
			json.NewEncoder(w).Encode(BuySubscriptionResponse{OK: false, Error: "INVALID_PLAYER_ID"})
			return
		}

		sub, err := PurchaseSubscription(db, req.PlayerID, strings.TrimSpace(req.PlanID))
		switch err {
		case nil:
		case errUnknownPlan:
			json.NewEncoder(w).Encode(BuySubscriptionResponse{OK: false, Error: "UNKNOWN_PLAN"})
			return
		case errNotEnoughGold:
			json.NewEncoder(w).Encode(BuySubscriptionResponse{OK: false, Error: "NOT_ENOUGH_GOLD"})
			return
		case errPlayerNotFound:
			json.NewEncoder(w).Encode(BuySubscriptionResponse{OK: false, Error: "PLAYER_NOT_FOUND"})
			return
		default:
			log.Println("subscription purchase failed:", err)
			json.NewEncoder(w).Encode(BuySubscriptionResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}

		json.NewEncoder(w).Encode(BuySubscriptionResponse{
			OK:        true,
			PlanID:    sub.PlanID,
			ExpiresAt: sub.ExpiresAt,
		})
	}
}

func buyVipHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !featureFlags.Purchases {
			json.NewEncoder(w).Encode(BuyVipResponse{OK: false, Error: "PURCHASES_DISABLED"})
			return
		}

		var req BuyVipRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(BuyVipResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}
		if !isValidPlayerID(req.PlayerID) {
			json.NewEncoder(w).Encode(BuyVipResponse{OK: false, Error: "INVALID_PLAYER_ID"})
			return
		}

		expiresAt, err := PurchaseVip(db, req.PlayerID)
		switch err {
		case nil:
		case errNotEnoughGold:
			json.NewEncoder(w).Encode(BuyVipResponse{OK: false, Error: "NOT_ENOUGH_GOLD"})
			return
		case errPlayerNotFound:
			json.NewEncoder(w).Encode(BuyVipResponse{OK: false, Error: "PLAYER_NOT_FOUND"})
			return
		default:
			log.Println("vip purchase failed:", err)
			json.NewEncoder(w).Encode(BuyVipResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}

		json.NewEncoder(w).Encode(BuyVipResponse{OK: true, ExpiresAt: expiresAt})
	}
}

func buyClanUpgradeHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !featureFlags.Purchases {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "PURCHASES_DISABLED"})
			return
		}

		var req BuyClanUpgradeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}
		if !isValidPlayerID(req.PlayerID) {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_PLAYER_ID"})
			return
		}

		err := PurchaseClanUpgrade(db, req.PlayerID, strings.TrimSpace(req.UpgradeID))
		switch err {
		case nil:
		case errUnknownUpgrade:
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "UNKNOWN_UPGRADE"})
			return
		case errNotInClan:
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "NOT_IN_CLAN"})
			return
		case errNotClanOfficer:
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "NOT_CLAN_LEADER"})
			return
		case errUpgradeOwned:
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "UPGRADE_OWNED"})
			return
		case errClanTreasuryLow:
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "TREASURY_TOO_LOW"})
			return
		case errPlayerNotFound:
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "PLAYER_NOT_FOUND"})
			return
		default:
			log.Println("clan upgrade purchase failed:", err)
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}

		json.NewEncoder(w).Encode(SimpleResponse{OK: true})
	}
}

func clanHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clanID := strings.TrimSpace(r.URL.Query().Get("clanId"))
		if !isValidLocationID(clanID) {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_CLAN_ID"})
			return
		}
		clan, err := LoadClan(db, clanID)
		if err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}
		if clan == nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "CLAN_NOT_FOUND"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "clan": clan})
	}
}

// factionHandler lets a player pick their faction once. Capture requires
// one, and nothing else assigns it.
func factionHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req FactionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}
		if !isValidPlayerID(req.PlayerID) {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_PLAYER_ID"})
			return
		}
		if !isValidFactionID(strings.TrimSpace(req.FactionID)) {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "UNKNOWN_FACTION"})
			return
		}

		if _, err := LoadOrCreatePlayer(db, req.PlayerID); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}

		switch err := SetPlayerFaction(db, req.PlayerID, strings.TrimSpace(req.FactionID)); err {
		case nil:
		case errFactionAlreadySet:
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "FACTION_ALREADY_SET"})
			return
		default:
			log.Println("faction set failed:", err)
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}
		json.NewEncoder(w).Encode(SimpleResponse{OK: true})
	}
}

func clanCreateHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req ClanCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}
		if !isValidPlayerID(req.PlayerID) {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_PLAYER_ID"})
			return
		}
		if !isValidLocationID(strings.TrimSpace(req.ClanID)) {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_CLAN_ID"})
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			name = req.ClanID
		}

		if _, err := LoadOrCreatePlayer(db, req.PlayerID); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}

		clan, err := CreateClan(db, req.PlayerID, strings.TrimSpace(req.ClanID), name)
		switch err {
		case nil:
		case errAlreadyInClan:
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "ALREADY_IN_CLAN"})
			return
		case errClanExists:
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "CLAN_ID_TAKEN"})
			return
		case errPlayerNotFound:
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "PLAYER_NOT_FOUND"})
			return
		default:
			log.Println("clan create failed:", err)
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "clan": clan})
	}
}

func clanJoinHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req ClanJoinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}
		if !isValidPlayerID(req.PlayerID) {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_PLAYER_ID"})
			return
		}
		if !isValidLocationID(strings.TrimSpace(req.ClanID)) {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_CLAN_ID"})
			return
		}

		if _, err := LoadOrCreatePlayer(db, req.PlayerID); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}

		switch err := JoinClan(db, req.PlayerID, strings.TrimSpace(req.ClanID)); err {
		case nil:
		case errAlreadyInClan:
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "ALREADY_IN_CLAN"})
			return
		case errClanNotFound:
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "CLAN_NOT_FOUND"})
			return
		case errPlayerNotFound:
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "PLAYER_NOT_FOUND"})
			return
		default:
			log.Println("clan join failed:", err)
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}
		json.NewEncoder(w).Encode(SimpleResponse{OK: true})
	}
}

func clanDonateHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req ClanDonateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(ClanDonateResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}
		if !isValidPlayerID(req.PlayerID) {
			json.NewEncoder(w).Encode(ClanDonateResponse{OK: false, Error: "INVALID_PLAYER_ID"})
			return
		}

		treasury, err := DonateToClan(db, req.PlayerID, req.Amount)
		switch err {
		case nil:
		case errDonationTooLow:
			json.NewEncoder(w).Encode(ClanDonateResponse{OK: false, Error: "INVALID_AMOUNT"})
			return
		case errNotInClan:
			json.NewEncoder(w).Encode(ClanDonateResponse{OK: false, Error: "NOT_IN_CLAN"})
			return
		case errGoldTooLow:
			json.NewEncoder(w).Encode(ClanDonateResponse{OK: false, Error: "NOT_ENOUGH_GOLD"})
			return
		case errPlayerNotFound:
			json.NewEncoder(w).Encode(ClanDonateResponse{OK: false, Error: "PLAYER_NOT_FOUND"})
			return
		default:
			log.Println("clan donate failed:", err)
			json.NewEncoder(w).Encode(ClanDonateResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}
		json.NewEncoder(w).Encode(ClanDonateResponse{OK: true, Treasury: treasury})
	}
}

func rewardsHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID := r.URL.Query().Get("playerId")
		if !isValidPlayerID(playerID) {
			json.NewEncoder(w).Encode(RewardLogResponse{OK: false, Error: "INVALID_PLAYER_ID"})
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		rewards, err := LoadRewardLog(db, playerID, limit)
		if err != nil {
			json.NewEncoder(w).Encode(RewardLogResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}
		json.NewEncoder(w).Encode(RewardLogResponse{OK: true, Rewards: rewards})
	}
}

func battlePassHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID := r.URL.Query().Get("playerId")
		if !isValidPlayerID(playerID) {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_PLAYER_ID"})
			return
		}
		progress, err := LoadBattlePassProgress(db, playerID)
		if err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "battlePass": progress})
	}
}

func questsHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID := r.URL.Query().Get("playerId")
		if !isValidPlayerID(playerID) {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_PLAYER_ID"})
			return
		}
		quests, err := LoadQuestProgress(db, playerID)
		if err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "quests": quests})
	}
}

func leaderboardHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page < 1 {
			page = 1
		}
		pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
		if pageSize < 1 || pageSize > 100 {
			pageSize = 25
		}

		var total int
		if err := db.QueryRow(`SELECT COUNT(*) FROM players WHERE bosses_defeated > 0`).Scan(&total); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		rows, err := db.Query(`
			SELECT player_id, bosses_defeated, xp
			FROM players
			WHERE bosses_defeated > 0
			ORDER BY bosses_defeated DESC, xp DESC, player_id ASC
			LIMIT $1 OFFSET $2
		`, pageSize, (page-1)*pageSize)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		results := []LeaderboardEntry{}
		rank := (page-1)*pageSize + 1
		for rows.Next() {
			var entry LeaderboardEntry
			if err := rows.Scan(&entry.PlayerID, &entry.BossesDefeated, &entry.XP); err != nil {
				continue
			}
			entry.Rank = rank
			entry.Level = playerLevelFor(entry.XP)
			rank++
			results = append(results, entry)
		}

		json.NewEncoder(w).Encode(LeaderboardResponse{
			Page:     page,
			PageSize: pageSize,
			Total:    total,
			Results:  results,
		})
	}
}

func notificationsHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID := r.URL.Query().Get("playerId")
		if !isValidPlayerID(playerID) {
			json.NewEncoder(w).Encode(NotificationsResponse{OK: false, Error: "INVALID_PLAYER_ID"})
			return
		}
		role := strings.TrimSpace(r.URL.Query().Get("role"))
		if role == "" {
			role = NotificationRolePlayer
		}
		afterID, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		items, err := fetchNotifications(db, playerID, role, afterID, limit)
		if err != nil {
			json.NewEncoder(w).Encode(NotificationsResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}
		json.NewEncoder(w).Encode(NotificationsResponse{OK: true, Notifications: items})
	}
}

func notificationsAckHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req NotificationAckRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}
		if !isValidPlayerID(req.PlayerID) || len(req.IDs) == 0 {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INVALID_REQUEST"})
			return
		}

		if err := markNotificationsRead(db, req.PlayerID, req.IDs); err != nil {
			json.NewEncoder(w).Encode(SimpleResponse{OK: false, Error: "INTERNAL_ERROR"})
			return
		}
		json.NewEncoder(w).Encode(SimpleResponse{OK: true})
	}
}
