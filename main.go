package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	_ "github.com/lib/pq"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal("config:", err)
	}
	log.Println("App environment:", cfg.AppEnv)
	if cfg.DevMode {
		log.Println("⚠️  DEV MODE ENABLED")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to open database:", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxConns)
	db.SetMaxIdleConns(cfg.DBMaxConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		log.Fatal("failed to ping database:", err)
	}
	log.Println("Connected to PostgreSQL")

	if err := ensureSchema(db); err != nil {
		log.Fatal("Failed to ensure schema:", err)
	}
	if err := LoadGlobalSettings(db); err != nil {
		log.Println("Failed to load global settings:", err)
	}

	ctx := context.Background()
	lockConn, acquired, err := acquireStartupLock(ctx, db)
	if err != nil {
		log.Fatal("Failed to acquire startup lock:", err)
	}
	if acquired {
		startupLockConn = lockConn
		log.Println("Startup lock acquired; running leader initialization")
		if err := seedWorld(ctx, db); err != nil {
			log.Fatal("World seed failed:", err)
		}
	} else {
		log.Println("Startup lock held by another instance; skipping leader-only initialization")
	}

	// Engine wiring
	bosses := NewBossRegistry(&pgBossStore{db: db})
	store := &pgSettlementStore{db: db}
	pipeline := NewSettlementPipeline(db, store, bosses)

	hub := NewWatchHub()
	bosses.SetChangeListener(hub.Broadcast)

	if acquired {
		startReconcilerLoop(db, store, pipeline)
		startNotificationPruner(db)
	}

	// HTTP server
	mux := http.NewServeMux()
	registerRoutes(mux, db, bosses, pipeline, store, hub)

	addr := "0.0.0.0:" + cfg.Port
	log.Println("Listening on", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal("server failed:", err)
	}
}

/* ======================
   Routes
   ====================== */

func registerRoutes(mux *http.ServeMux, db *sql.DB, bosses *BossRegistry, pipeline *SettlementPipeline, store settlementStore, hub *WatchHub) {
	mux.HandleFunc("/", serveIndex)
	mux.HandleFunc("/health", healthHandler(db))
	mux.HandleFunc("/player", playerHandler(db))
	mux.HandleFunc("/boss", bossHandler(bosses))
	mux.HandleFunc("/damage", damageHandler(db, bosses, pipeline))
	mux.HandleFunc("/bonuses", bonusesHandler(db))
	mux.HandleFunc("/rewards", rewardsHandler(db))
	mux.HandleFunc("/provinces", provincesHandler(db))
	mux.HandleFunc("/capture", captureHandler(db))
	mux.HandleFunc("/shop/price", shopPriceHandler(db))
	mux.HandleFunc("/buy-subscription", buySubscriptionHandler(db))
	mux.HandleFunc("/buy-vip", buyVipHandler(db))
	mux.HandleFunc("/buy-clan-upgrade", buyClanUpgradeHandler(db))
	mux.HandleFunc("/faction", factionHandler(db))
	mux.HandleFunc("/clan", clanHandler(db))
	mux.HandleFunc("/clan/create", clanCreateHandler(db))
	mux.HandleFunc("/clan/join", clanJoinHandler(db))
	mux.HandleFunc("/clan/donate", clanDonateHandler(db))
	mux.HandleFunc("/battle-pass", battlePassHandler(db))
	mux.HandleFunc("/quests", questsHandler(db))
	mux.HandleFunc("/leaderboard", leaderboardHandler(db))
	mux.HandleFunc("/events", eventsHandler(bosses))
	mux.HandleFunc("/watch", watchHandler(hub, bosses))
	mux.HandleFunc("/telemetry", telemetryHandler(db))
	mux.HandleFunc("/notifications", notificationsHandler(db))
	mux.HandleFunc("/notifications/ack", notificationsAckHandler(db))

	mux.HandleFunc("/admin/settings", adminSettingsHandler(db))
	mux.HandleFunc("/admin/boss/spawn", adminBossSpawnHandler(db, bosses))
	mux.HandleFunc("/admin/provinces", adminProvinceHandler(db))
	mux.HandleFunc("/admin/reconciliation", adminReconciliationHandler(store, pipeline))
	mux.HandleFunc("/admin/telemetry", adminTelemetryHandler(db))
}
