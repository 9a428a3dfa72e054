package main

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type memSettlementStore struct {
	mu sync.Mutex

	claims map[string]SettlementClaim

	credited       map[string]bool
	creditedXP     map[string]int
	creditedGold   map[string]int
	creditAttempts int
	failCredits    int

	passGrants map[string]int
	failPasses int

	questEvents map[string]int
	failQuests  int
}

func newMemSettlementStore() *memSettlementStore {
	return &memSettlementStore{
		claims:       make(map[string]SettlementClaim),
		credited:     make(map[string]bool),
		creditedXP:   make(map[string]int),
		creditedGold: make(map[string]int),
		passGrants:   make(map[string]int),
		questEvents:  make(map[string]int),
	}
}

func (s *memSettlementStore) ClaimSettlement(claim SettlementClaim) (SettlementClaim, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stored, ok := s.claims[claim.SettlementID]; ok {
		return stored, false, nil
	}
	s.claims[claim.SettlementID] = claim
	return claim, true, nil
}

func (s *memSettlementStore) MarkSettlement(settlementID string, status string, finalXP int, finalGold int, settledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	claim, ok := s.claims[settlementID]
	if !ok {
		return errors.New("no such claim")
	}
	claim.Status = status
	claim.FinalXP = finalXP
	claim.FinalGold = finalGold
	claim.SettledAt = settledAt
	s.claims[settlementID] = claim
	return nil
}

func (s *memSettlementStore) CreditRewards(playerID string, settlementID string, gold int, xp int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creditAttempts++
	if s.failCredits > 0 {
		s.failCredits--
		return errors.New("credit unavailable")
	}
	if s.credited[settlementID] {
		return nil
	}
	s.credited[settlementID] = true
	s.creditedXP[settlementID] = xp
	s.creditedGold[settlementID] = gold
	return nil
}

func (s *memSettlementStore) GrantBattlePassXP(playerID string, settlementID string, xp int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPasses > 0 {
		s.failPasses--
		return errors.New("battle pass unavailable")
	}
	if s.passGrants[settlementID] == 0 {
		s.passGrants[settlementID] = xp
	}
	return nil
}

func (s *memSettlementStore) RecordQuestProgress(playerID string, settlementID string, event string, magnitude int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failQuests > 0 {
		s.failQuests--
		return errors.New("quests unavailable")
	}
	key := settlementID + ":" + event
	if s.questEvents[key] == 0 {
		s.questEvents[key] = magnitude
	}
	return nil
}

func (s *memSettlementStore) LoadUnfinishedSettlements(limit int) ([]SettlementClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	claims := []SettlementClaim{}
	for _, claim := range s.claims {
		if claim.Status != SettlementSettled {
			claims = append(claims, claim)
		}
	}
	return claims, nil
}

func (s *memSettlementStore) timesCredited() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for range s.credited {
		count++
	}
	return count
}

func newTestPipeline(store *memSettlementStore, bosses *BossRegistry, sources []BonusSource) (*SettlementPipeline, *[]string) {
	notices := &[]string{}
	var noticeMu sync.Mutex
	return &SettlementPipeline{
		store:  store,
		bosses: bosses,
		collectBonuses: func(playerID string, now time.Time) []BonusSource {
			return sources
		},
		rollBase: func() (int, error) { return 100, nil },
		notifyAdmin: func(message string, payload map[string]interface{}) {
			noticeMu.Lock()
			*notices = append(*notices, message)
			noticeMu.Unlock()
		},
		backoff: func(int) {},
	}, notices
}

func defeatedBoss(t *testing.T, maxHP int) (*BossRegistry, DefeatTransition) {
	t.Helper()
	store := newMemBossStore()
	store.spawns["cave"] = maxHP
	registry := NewBossRegistry(store)
	_, transition, err := registry.ApplyDamage("cave", "killer", maxHP)
	if err != nil {
		t.Fatal(err)
	}
	if transition == nil {
		t.Fatal("expected a defeat transition")
	}
	return registry, *transition
}

func TestSettleNoBonuses(t *testing.T) {
	bosses, transition := defeatedBoss(t, 100)
	store := newMemSettlementStore()
	pipeline, _ := newTestPipeline(store, bosses, nil)

	result, err := pipeline.Settle(transition)
	if err != nil {
		t.Fatal(err)
	}
	if result.FinalXP != 100 || result.FinalGold != 200 {
		t.Fatalf("xp=%d gold=%d, want 100/200", result.FinalXP, result.FinalGold)
	}
	if result.Status != SettlementSettled {
		t.Fatalf("status = %s", result.Status)
	}
	if store.timesCredited() != 1 {
		t.Fatalf("credited %d times", store.timesCredited())
	}

	// The next life starts only after settlement.
	snapshot, err := bosses.Snapshot("cave")
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.State != BossAlive || snapshot.Ordinal != 2 || snapshot.CurrentHP != 100 {
		t.Fatalf("boss not reset after settlement: %+v", snapshot)
	}
}

func TestSettleAppliesStackedMultipliers(t *testing.T) {
	bosses, transition := defeatedBoss(t, 100)
	future := time.Now().UTC().Add(24 * time.Hour)
	sources := []BonusSource{
		ServerMultiplier{Gold: 3.0, XP: 3.0},
		VipStatus{ExpiresAt: future},
		ClanUpgrade{ID: ClanUpgradeExperiencedHunters},
	}
	store := newMemSettlementStore()
	pipeline, _ := newTestPipeline(store, bosses, sources)

	result, err := pipeline.Settle(transition)
	if err != nil {
		t.Fatal(err)
	}
	// xp: 100 * 3.0 * 2.0 * 1.10 = 660, gold: 200 * 3.0 = 600
	if result.FinalXP != 660 {
		t.Fatalf("xp = %d, want 660", result.FinalXP)
	}
	if result.FinalGold != 600 {
		t.Fatalf("gold = %d, want 600", result.FinalGold)
	}
}

func TestSettleTwiceIsIdempotent(t *testing.T) {
	bosses, transition := defeatedBoss(t, 100)
	store := newMemSettlementStore()
	pipeline, _ := newTestPipeline(store, bosses, nil)

	first, err := pipeline.Settle(transition)
	if err != nil {
		t.Fatal(err)
	}
	second, err := pipeline.Settle(transition)
	if err != nil {
		t.Fatal(err)
	}

	if second.SettlementID != first.SettlementID {
		t.Fatal("settlement identity changed between calls")
	}
	if second.FinalXP != first.FinalXP || second.FinalGold != first.FinalGold {
		t.Fatalf("replay changed amounts: %+v vs %+v", second, first)
	}
	if store.timesCredited() != 1 {
		t.Fatalf("credited %d times, want 1", store.timesCredited())
	}
}

func TestConcurrentSettleCreditsOnce(t *testing.T) {
	bosses, transition := defeatedBoss(t, 100)
	store := newMemSettlementStore()
	pipeline, _ := newTestPipeline(store, bosses, nil)

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := pipeline.Settle(transition); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if store.timesCredited() != 1 {
		t.Fatalf("credited %d times, want 1", store.timesCredited())
	}
	if len(store.claims) != 1 {
		t.Fatalf("claims = %d, want 1", len(store.claims))
	}
}

func TestTransientCreditFailureIsRetried(t *testing.T) {
	bosses, transition := defeatedBoss(t, 100)
	store := newMemSettlementStore()
	store.failCredits = 1
	pipeline, _ := newTestPipeline(store, bosses, nil)

	result, err := pipeline.Settle(transition)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != SettlementSettled {
		t.Fatalf("status = %s", result.Status)
	}
	if store.creditAttempts != 2 {
		t.Fatalf("credit attempts = %d, want 2", store.creditAttempts)
	}
	if store.timesCredited() != 1 {
		t.Fatalf("credited %d times, want 1", store.timesCredited())
	}
}

func TestExhaustedCreditFlagsReconciliationAndHoldsReset(t *testing.T) {
	bosses, transition := defeatedBoss(t, 100)
	store := newMemSettlementStore()
	store.failCredits = 100
	pipeline, notices := newTestPipeline(store, bosses, nil)

	_, err := pipeline.Settle(transition)
	if err == nil {
		t.Fatal("expected the credit failure to propagate")
	}

	claim := store.claims[settlementKey("cave", 1)]
	if claim.Status != SettlementReconciliation {
		t.Fatalf("status = %s, want %s", claim.Status, SettlementReconciliation)
	}
	if len(*notices) == 0 {
		t.Fatal("expected an admin notification")
	}

	// No reward applied, so the boss must stay down for the reconciler.
	snapshot, err := bosses.Snapshot("cave")
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.State != BossDefeated || snapshot.Ordinal != 1 {
		t.Fatalf("boss reset before credit committed: %+v", snapshot)
	}
}

func TestSubStepFailureFlagsButStillResets(t *testing.T) {
	bosses, transition := defeatedBoss(t, 100)
	store := newMemSettlementStore()
	store.failPasses = 100
	pipeline, notices := newTestPipeline(store, bosses, nil)

	result, err := pipeline.Settle(transition)
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != SettlementReconciliation {
		t.Fatalf("status = %s, want %s", result.Status, SettlementReconciliation)
	}
	if store.timesCredited() != 1 {
		t.Fatalf("credited %d times, want 1", store.timesCredited())
	}
	if len(*notices) == 0 {
		t.Fatal("expected an admin notification")
	}

	// Gold committed, so the next life starts even though bookkeeping lags.
	snapshot, err := bosses.Snapshot("cave")
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.State != BossAlive || snapshot.Ordinal != 2 {
		t.Fatalf("boss not reset after committed credit: %+v", snapshot)
	}
}

func TestResumeFinishesOnlyMissingSubSteps(t *testing.T) {
	bosses, transition := defeatedBoss(t, 100)
	store := newMemSettlementStore()
	store.failPasses = 100
	pipeline, _ := newTestPipeline(store, bosses, nil)

	if _, err := pipeline.Settle(transition); err != nil {
		t.Fatal(err)
	}
	creditAttemptsAfterSettle := store.creditAttempts

	store.mu.Lock()
	store.failPasses = 0
	store.mu.Unlock()

	claims, err := store.LoadUnfinishedSettlements(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claims) != 1 {
		t.Fatalf("unfinished claims = %d, want 1", len(claims))
	}

	result, err := pipeline.Resume(claims[0])
	if err != nil {
		t.Fatal(err)
	}
	if result.Status != SettlementSettled {
		t.Fatalf("status = %s, want settled", result.Status)
	}
	if store.timesCredited() != 1 {
		t.Fatalf("resume re-credited: %d", store.timesCredited())
	}
	if store.creditAttempts <= creditAttemptsAfterSettle {
		t.Fatal("resume should re-run the idempotent credit step")
	}
	if store.passGrants[result.SettlementID] == 0 {
		t.Fatal("resume did not grant battle pass xp")
	}
	if store.questEvents[result.SettlementID+":"+QuestEventBossKill] != 1 {
		t.Fatal("resume did not record quest progress")
	}
}

func TestResumeOfSettledClaimIsNoOp(t *testing.T) {
	bosses, transition := defeatedBoss(t, 100)
	store := newMemSettlementStore()
	pipeline, _ := newTestPipeline(store, bosses, nil)

	first, err := pipeline.Settle(transition)
	if err != nil {
		t.Fatal(err)
	}
	attempts := store.creditAttempts

	result, err := pipeline.Resume(store.claims[first.SettlementID])
	if err != nil {
		t.Fatal(err)
	}
	if result.FinalXP != first.FinalXP || result.FinalGold != first.FinalGold {
		t.Fatalf("resume changed amounts: %+v vs %+v", result, first)
	}
	if store.creditAttempts != attempts {
		t.Fatal("resume of a settled claim must not touch the store")
	}
}

func TestResumeCreditsPersistedAmounts(t *testing.T) {
	bosses, transition := defeatedBoss(t, 100)
	store := newMemSettlementStore()
	store.failPasses = 100
	sources := []BonusSource{ServerMultiplier{Gold: 2.0, XP: 2.0}}
	pipeline, _ := newTestPipeline(store, bosses, sources)

	first, err := pipeline.Settle(transition)
	if err != nil {
		t.Fatal(err)
	}
	if first.FinalXP != 200 || first.FinalGold != 400 {
		t.Fatalf("settle amounts: %+v", first)
	}

	// The multiplier lapses before the reconciler gets to the claim; the
	// recorded amounts must still win.
	pipeline.collectBonuses = func(string, time.Time) []BonusSource { return nil }
	store.mu.Lock()
	store.failPasses = 0
	store.mu.Unlock()

	claims, err := store.LoadUnfinishedSettlements(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claims) != 1 {
		t.Fatalf("unfinished claims = %d, want 1", len(claims))
	}

	result, err := pipeline.Resume(claims[0])
	if err != nil {
		t.Fatal(err)
	}
	if result.FinalXP != 200 || result.FinalGold != 400 {
		t.Fatalf("resume recomputed amounts: %+v", result)
	}

	claim := store.claims[result.SettlementID]
	if claim.FinalXP != store.creditedXP[result.SettlementID] ||
		claim.FinalGold != store.creditedGold[result.SettlementID] {
		t.Fatalf("recorded finals %d/%d diverge from credited %d/%d",
			claim.FinalXP, claim.FinalGold,
			store.creditedXP[result.SettlementID], store.creditedGold[result.SettlementID])
	}
}

func TestReconcilerPassFinishesClaims(t *testing.T) {
	bosses, transition := defeatedBoss(t, 100)
	store := newMemSettlementStore()
	store.failPasses = 100
	pipeline, _ := newTestPipeline(store, bosses, nil)

	if _, err := pipeline.Settle(transition); err != nil {
		t.Fatal(err)
	}

	store.mu.Lock()
	store.failPasses = 0
	store.mu.Unlock()

	runReconcilerPass(nil, store, pipeline)

	claim := store.claims[settlementKey("cave", 1)]
	if claim.Status != SettlementSettled {
		t.Fatalf("status = %s, want settled", claim.Status)
	}
	if store.timesCredited() != 1 {
		t.Fatalf("credited %d times, want 1", store.timesCredited())
	}
}

func TestReconciliationAlertDedups(t *testing.T) {
	alert := reconciliationAlert("Boss reward settlement needs reconciliation.", map[string]interface{}{
		"settlementId": "cave:1",
	})
	if alert.DedupKey != "cave:1" {
		t.Fatalf("dedup key = %q", alert.DedupKey)
	}
	if alert.DedupWindow <= 0 {
		t.Fatal("alert must carry a dedup window or every pass re-inserts it")
	}
	if alert.Priority != NotificationPriorityHigh || alert.Category != NotificationCategoryEconomy {
		t.Fatalf("unexpected routing: %+v", alert)
	}
}

func TestSettlementKeyIdentity(t *testing.T) {
	if settlementKey("cave", 3) != "cave:3" {
		t.Fatalf("unexpected key: %s", settlementKey("cave", 3))
	}
	if settlementKey("cave", 3) == settlementKey("cave", 4) {
		t.Fatal("different lives must produce different keys")
	}
	if settlementKey("cave", 3) == settlementKey("crypt", 3) {
		t.Fatal("different locations must produce different keys")
	}
}
