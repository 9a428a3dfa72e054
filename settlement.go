package main

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"log"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	SettlementPending        = "pending"
	SettlementSettled        = "settled"
	SettlementReconciliation = "needs_reconciliation"
)

const (
	baseXPMin  = 100
	baseXPSpan = 50
	goldPerXP  = 2
)

// SettlementClaim is the durable idempotency record for one defeat
// occurrence. The primary key (settlement_id) is what makes retries safe
// across processes: whoever inserts the row owns the settlement, everyone
// else resumes or observes it.
type SettlementClaim struct {
	SettlementID string
	LocationID   string
	Ordinal      int64
	PlayerID     string
	BaseXP       int
	FinalXP      int
	FinalGold    int
	Status       string
	OccurredAt   time.Time
	SettledAt    time.Time
}

type RewardSettlement struct {
	SettlementID string    `json:"settlementId"`
	LocationID   string    `json:"locationId"`
	DefeatedBy   string    `json:"defeatedBy"`
	BaseXP       int       `json:"baseXp"`
	BaseGold     int       `json:"baseGold"`
	FinalXP      int       `json:"finalXp"`
	FinalGold    int       `json:"finalGold"`
	Status       string    `json:"status"`
	SettledAt    time.Time `json:"settledAt"`
}

type settlementStore interface {
	// ClaimSettlement inserts the claim if no row exists for its id and
	// returns the stored row plus whether this call inserted it.
	ClaimSettlement(claim SettlementClaim) (SettlementClaim, bool, error)
	MarkSettlement(settlementID string, status string, finalXP int, finalGold int, settledAt time.Time) error
	CreditRewards(playerID string, settlementID string, gold int, xp int) error
	GrantBattlePassXP(playerID string, settlementID string, xp int) error
	RecordQuestProgress(playerID string, settlementID string, event string, magnitude int) error
	LoadUnfinishedSettlements(limit int) ([]SettlementClaim, error)
}

func settlementKey(locationID string, ordinal int64) string {
	return fmt.Sprintf("%s:%d", locationID, ordinal)
}

func rollBaseXP() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(baseXPSpan))
	if err != nil {
		return 0, err
	}
	return baseXPMin + int(n.Int64()), nil
}

// ComputeReward applies the composed multipliers to the base roll. Values
// stay float until the single final floor per stream; flooring between
// factors would compound rounding error.
func ComputeReward(baseXP int, sources []BonusSource, now time.Time) (int, int) {
	goldMult, xpMult := ComposeMultipliers(sources, now)
	finalXP := int(float64(baseXP) * xpMult)
	finalGold := int(float64(baseXP*goldPerXP) * goldMult)
	return finalXP, finalGold
}

/* ======================
   Pipeline
   ====================== */

type SettlementPipeline struct {
	store  settlementStore
	bosses *BossRegistry

	// Seams for tests; production wiring fills these in NewSettlementPipeline.
	collectBonuses func(playerID string, now time.Time) []BonusSource
	rollBase       func() (int, error)
	notifyAdmin    func(message string, payload map[string]interface{})
	backoff        func(attempt int)
}

func NewSettlementPipeline(db *sql.DB, store settlementStore, bosses *BossRegistry) *SettlementPipeline {
	return &SettlementPipeline{
		store:  store,
		bosses: bosses,
		collectBonuses: func(playerID string, now time.Time) []BonusSource {
			return CollectBonusSources(db, playerID, now)
		},
		rollBase: rollBaseXP,
		notifyAdmin: func(message string, payload map[string]interface{}) {
			emitNotification(db, reconciliationAlert(message, payload))
		},
		backoff: func(attempt int) {
			settings := GetGlobalSettings()
			time.Sleep(time.Duration(settings.SettlementBackoffMS*(attempt+1)) * time.Millisecond)
		},
	}
}

// reconciliationAlert dedups on the settlement id for one reconcile
// interval, so a claim that stays broken raises one alert per interval
// instead of one per retry pass.
func reconciliationAlert(message string, payload map[string]interface{}) NotificationInput {
	window := time.Duration(GetGlobalSettings().ReconcileIntervalSeconds) * time.Second
	if window <= 0 {
		window = time.Minute
	}
	return NotificationInput{
		Category:    NotificationCategoryEconomy,
		Type:        "settlement_reconciliation",
		Priority:    NotificationPriorityHigh,
		Message:     message,
		Payload:     payload,
		DedupKey:    fmt.Sprint(payload["settlementId"]),
		DedupWindow: window,
	}
}

// Settle converts one DefeatTransition into one applied reward. Calling it
// again with the same transition identity is a no-op that returns the
// already-settled result.
func (p *SettlementPipeline) Settle(transition DefeatTransition) (RewardSettlement, error) {
	baseXP, err := p.rollBase()
	if err != nil {
		return RewardSettlement{}, err
	}

	claim := SettlementClaim{
		SettlementID: settlementKey(transition.LocationID, transition.Ordinal),
		LocationID:   transition.LocationID,
		Ordinal:      transition.Ordinal,
		PlayerID:     transition.DefeatedBy,
		BaseXP:       baseXP,
		Status:       SettlementPending,
		OccurredAt:   transition.OccurredAt,
	}

	stored, claimedNow, err := p.store.ClaimSettlement(claim)
	if err != nil {
		return RewardSettlement{}, err
	}
	if !claimedNow && stored.Status == SettlementSettled {
		return settlementResult(stored), nil
	}

	return p.run(stored)
}

// Resume re-drives a claim whose sub-steps did not all finish. Used by the
// reconciler; every sub-step is keyed by settlement id, so completed work is
// skipped, not repeated.
func (p *SettlementPipeline) Resume(claim SettlementClaim) (RewardSettlement, error) {
	if claim.Status == SettlementSettled {
		return settlementResult(claim), nil
	}
	return p.run(claim)
}

func (p *SettlementPipeline) run(claim SettlementClaim) (RewardSettlement, error) {
	now := time.Now().UTC()

	// Finals are computed from the bonus snapshot exactly once and persisted
	// before anything is credited. A resume after a bonus expired must apply
	// the amounts already recorded, not a fresh composition.
	if claim.FinalXP == 0 && claim.FinalGold == 0 {
		sources := p.collectBonuses(claim.PlayerID, now)
		claim.FinalXP, claim.FinalGold = ComputeReward(claim.BaseXP, sources, now)
		if err := p.store.MarkSettlement(claim.SettlementID, claim.Status, claim.FinalXP, claim.FinalGold, time.Time{}); err != nil {
			return settlementResult(claim), err
		}
	}
	finalXP := claim.FinalXP
	finalGold := claim.FinalGold

	settings := GetGlobalSettings()

	// The gold/XP credit is the step that affects economy integrity; its
	// failure is the only one allowed to propagate.
	err := p.withRetries("credit", settings.SettlementMaxAttempts, func() error {
		return p.store.CreditRewards(claim.PlayerID, claim.SettlementID, finalGold, finalXP)
	})
	if err != nil {
		p.flagForReconciliation(claim, "credit", err)
		return settlementResult(claim), err
	}

	// Dependent systems are independent of each other and individually
	// idempotent; a failure here retries that sub-step only and never
	// re-credits gold already committed.
	var group errgroup.Group
	group.Go(func() error {
		return p.withRetries("battle_pass", settings.SettlementMaxAttempts, func() error {
			return p.store.GrantBattlePassXP(claim.PlayerID, claim.SettlementID, finalXP)
		})
	})
	group.Go(func() error {
		return p.withRetries("quest_progress", settings.SettlementMaxAttempts, func() error {
			return p.store.RecordQuestProgress(claim.PlayerID, claim.SettlementID, QuestEventBossKill, 1)
		})
	})
	subStepErr := group.Wait()

	if subStepErr != nil {
		p.flagForReconciliation(claim, "sub_steps", subStepErr)
	} else {
		claim.Status = SettlementSettled
		claim.SettledAt = now
		if err := p.store.MarkSettlement(claim.SettlementID, SettlementSettled, finalXP, finalGold, now); err != nil {
			// The claim row still says pending; the reconciler will
			// finish the bookkeeping. Rewards are already applied.
			log.Println("settlement: mark settled failed:", err)
		}
	}

	// Reset strictly after the credit committed, so the next life cannot
	// be damaged before this one's reward is finalized.
	if p.bosses != nil {
		p.bosses.ScheduleReset(claim.LocationID, claim.Ordinal)
	}

	return settlementResult(claim), nil
}

func (p *SettlementPipeline) withRetries(step string, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && p.backoff != nil {
			p.backoff(attempt)
		}
		if err = fn(); err == nil {
			return nil
		}
		log.Printf("settlement: %s attempt %d failed: %v", step, attempt+1, err)
	}
	return err
}

func (p *SettlementPipeline) flagForReconciliation(claim SettlementClaim, step string, cause error) {
	claim.Status = SettlementReconciliation
	if err := p.store.MarkSettlement(claim.SettlementID, SettlementReconciliation, claim.FinalXP, claim.FinalGold, time.Time{}); err != nil {
		log.Println("settlement: reconciliation flag failed:", err)
	}
	if p.notifyAdmin != nil {
		p.notifyAdmin("Boss reward settlement needs reconciliation.", map[string]interface{}{
			"settlementId": claim.SettlementID,
			"playerId":     claim.PlayerID,
			"step":         step,
			"error":        cause.Error(),
		})
	}
}

func settlementResult(claim SettlementClaim) RewardSettlement {
	return RewardSettlement{
		SettlementID: claim.SettlementID,
		LocationID:   claim.LocationID,
		DefeatedBy:   claim.PlayerID,
		BaseXP:       claim.BaseXP,
		BaseGold:     claim.BaseXP * goldPerXP,
		FinalXP:      claim.FinalXP,
		FinalGold:    claim.FinalGold,
		Status:       claim.Status,
		SettledAt:    claim.SettledAt,
	}
}

/* ======================
   Postgres store
   ====================== */

type pgSettlementStore struct {
	db *sql.DB
}

func (s *pgSettlementStore) ClaimSettlement(claim SettlementClaim) (SettlementClaim, bool, error) {
	result, err := s.db.Exec(`
		INSERT INTO boss_settlements (
			settlement_id,
			location_id,
			ordinal,
			player_id,
			base_xp,
			final_xp,
			final_gold,
			status,
			occurred_at
		)
		VALUES ($1, $2, $3, $4, $5, 0, 0, $6, $7)
		ON CONFLICT (settlement_id) DO NOTHING
	`,
		claim.SettlementID,
		claim.LocationID,
		claim.Ordinal,
		claim.PlayerID,
		claim.BaseXP,
		SettlementPending,
		claim.OccurredAt,
	)
	if err != nil {
		return SettlementClaim{}, false, err
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return SettlementClaim{}, false, err
	}
	if inserted > 0 {
		return claim, true, nil
	}

	stored, err := s.loadClaim(claim.SettlementID)
	if err != nil {
		return SettlementClaim{}, false, err
	}
	return stored, false, nil
}

func (s *pgSettlementStore) loadClaim(settlementID string) (SettlementClaim, error) {
	var claim SettlementClaim
	var settledAt sql.NullTime
	err := s.db.QueryRow(`
		SELECT settlement_id, location_id, ordinal, player_id, base_xp, final_xp, final_gold, status, occurred_at, settled_at
		FROM boss_settlements
		WHERE settlement_id = $1
	`, settlementID).Scan(
		&claim.SettlementID,
		&claim.LocationID,
		&claim.Ordinal,
		&claim.PlayerID,
		&claim.BaseXP,
		&claim.FinalXP,
		&claim.FinalGold,
		&claim.Status,
		&claim.OccurredAt,
		&settledAt,
	)
	if err != nil {
		return SettlementClaim{}, err
	}
	if settledAt.Valid {
		claim.SettledAt = settledAt.Time
	}
	return claim, nil
}

func (s *pgSettlementStore) MarkSettlement(settlementID string, status string, finalXP int, finalGold int, settledAt time.Time) error {
	var settled sql.NullTime
	if !settledAt.IsZero() {
		settled = sql.NullTime{Time: settledAt, Valid: true}
	}
	_, err := s.db.Exec(`
		UPDATE boss_settlements
		SET status = $2,
			final_xp = $3,
			final_gold = $4,
			settled_at = $5
		WHERE settlement_id = $1
	`, settlementID, status, finalXP, finalGold, settled)
	return err
}

func (s *pgSettlementStore) LoadUnfinishedSettlements(limit int) ([]SettlementClaim, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT settlement_id, location_id, ordinal, player_id, base_xp, final_xp, final_gold, status, occurred_at
		FROM boss_settlements
		WHERE status <> $1
		ORDER BY occurred_at ASC
		LIMIT $2
	`, SettlementSettled, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	claims := []SettlementClaim{}
	for rows.Next() {
		var claim SettlementClaim
		if err := rows.Scan(
			&claim.SettlementID,
			&claim.LocationID,
			&claim.Ordinal,
			&claim.PlayerID,
			&claim.BaseXP,
			&claim.FinalXP,
			&claim.FinalGold,
			&claim.Status,
			&claim.OccurredAt,
		); err != nil {
			continue
		}
		claims = append(claims, claim)
	}
	return claims, rows.Err()
}
