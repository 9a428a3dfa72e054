package main

import (
	"database/sql"
	"log"
	"time"
)

// startReconcilerLoop sweeps settlements that never reached settled and
// re-drives them. Every sub-step is idempotent, so re-driving a claim that
// half-finished applies only the missing parts.
func startReconcilerLoop(db *sql.DB, store settlementStore, pipeline *SettlementPipeline) {
	interval := time.Duration(GetGlobalSettings().ReconcileIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)

	go func() {
		for t := range ticker.C {
			runReconcilerPass(db, store, pipeline)
			updateTickHeartbeat(db, t)
		}
	}()
}

func runReconcilerPass(db *sql.DB, store settlementStore, pipeline *SettlementPipeline) {
	claims, err := store.LoadUnfinishedSettlements(20)
	if err != nil {
		log.Println("reconciler: load failed:", err)
		return
	}
	if len(claims) == 0 {
		return
	}

	log.Println("reconciler: re-driving", len(claims), "settlements")
	for _, claim := range claims {
		result, err := pipeline.Resume(claim)
		if err != nil {
			log.Println("reconciler: resume failed:", claim.SettlementID, err)
			// Cooldown keeps a claim that fails every pass from flooding
			// the telemetry table.
			emitServerTelemetryWithCooldown(db, claim.PlayerID, "settlement_reconcile_failed", map[string]interface{}{
				"settlementId": claim.SettlementID,
				"error":        err.Error(),
			}, time.Hour)
			continue
		}
		if result.Status == SettlementSettled {
			emitServerTelemetry(db, claim.PlayerID, "settlement_reconciled", map[string]interface{}{
				"settlementId": claim.SettlementID,
				"finalGold":    result.FinalGold,
				"finalXp":      result.FinalXP,
			})
		}
	}
}
