package main

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type memBossStore struct {
	mu      sync.Mutex
	rows    map[string]BossSnapshot
	spawns  map[string]int
	saveErr error
	saves   int
}

func newMemBossStore() *memBossStore {
	return &memBossStore{
		rows:   make(map[string]BossSnapshot),
		spawns: make(map[string]int),
	}
}

func (s *memBossStore) LoadBoss(locationID string) (*BossSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[locationID]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (s *memBossStore) CreateBoss(snapshot BossSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[snapshot.LocationID]; !ok {
		s.rows[snapshot.LocationID] = snapshot
	}
	return nil
}

func (s *memBossStore) SaveBoss(snapshot BossSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.rows[snapshot.LocationID] = snapshot
	return nil
}

func (s *memBossStore) SpawnMaxHP(locationID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maxHP, ok := s.spawns[locationID]
	return maxHP, ok && maxHP > 0
}

func TestApplyDamageRejectsNonPositive(t *testing.T) {
	registry := NewBossRegistry(newMemBossStore())

	for _, amount := range []int{0, -1, -500} {
		if _, _, err := registry.ApplyDamage("cave", "p1", amount); err != errDamageRejected {
			t.Fatalf("amount %d: expected errDamageRejected, got %v", amount, err)
		}
	}
}

func TestApplyDamageSpawnsFromConfig(t *testing.T) {
	store := newMemBossStore()
	store.spawns["cave"] = 300
	registry := NewBossRegistry(store)

	snapshot, _, err := registry.ApplyDamage("cave", "p1", 50)
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.MaxHP != 300 || snapshot.CurrentHP != 250 {
		t.Fatalf("expected 250/300, got %d/%d", snapshot.CurrentHP, snapshot.MaxHP)
	}
	if snapshot.Ordinal != 1 || snapshot.State != BossAlive {
		t.Fatalf("unexpected first life: %+v", snapshot)
	}
}

func TestApplyDamageFallsBackToDefaultHP(t *testing.T) {
	registry := NewBossRegistry(newMemBossStore())

	snapshot, err := registry.Snapshot("unknown-cave")
	if err != nil {
		t.Fatal(err)
	}
	want := GetGlobalSettings().DefaultBossMaxHP
	if snapshot.MaxHP != want {
		t.Fatalf("expected default max hp %d, got %d", want, snapshot.MaxHP)
	}
}

func TestApplyDamageClampsAtZero(t *testing.T) {
	store := newMemBossStore()
	store.spawns["cave"] = 100
	registry := NewBossRegistry(store)

	snapshot, transition, err := registry.ApplyDamage("cave", "p1", 9999)
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.CurrentHP != 0 {
		t.Fatalf("expected clamp to 0, got %d", snapshot.CurrentHP)
	}
	if snapshot.State != BossDefeated {
		t.Fatalf("expected defeated, got %s", snapshot.State)
	}
	if transition == nil {
		t.Fatal("expected a defeat transition for the killing blow")
	}
	if transition.DefeatedBy != "p1" || transition.Ordinal != 1 {
		t.Fatalf("unexpected transition: %+v", transition)
	}
}

func TestDamageAfterDefeatIsDiscarded(t *testing.T) {
	store := newMemBossStore()
	store.spawns["cave"] = 100
	registry := NewBossRegistry(store)

	if _, _, err := registry.ApplyDamage("cave", "p1", 100); err != nil {
		t.Fatal(err)
	}

	snapshot, transition, err := registry.ApplyDamage("cave", "p2", 50)
	if err != nil {
		t.Fatal(err)
	}
	if transition != nil {
		t.Fatal("defeated boss must not hand out another transition")
	}
	if snapshot.CurrentHP != 0 || snapshot.State != BossDefeated {
		t.Fatalf("defeated state changed: %+v", snapshot)
	}
}

func TestDefeatHandoffExactlyOnce(t *testing.T) {
	store := newMemBossStore()
	store.spawns["cave"] = 1000
	registry := NewBossRegistry(store)

	const workers = 25
	var wg sync.WaitGroup
	var transitions int64
	var mu sync.Mutex

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				snapshot, transition, err := registry.ApplyDamage("cave", "p", 7)
				if err != nil {
					t.Error(err)
					return
				}
				if transition != nil {
					mu.Lock()
					transitions++
					mu.Unlock()
				}
				if snapshot.State == BossDefeated {
					return
				}
			}
		}()
	}
	wg.Wait()

	if transitions != 1 {
		t.Fatalf("expected exactly one defeat transition, got %d", transitions)
	}
	snapshot, err := registry.Snapshot("cave")
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.CurrentHP != 0 || snapshot.State != BossDefeated {
		t.Fatalf("unexpected final state: %+v", snapshot)
	}
}

func TestSaveFailureRevertsMemoryState(t *testing.T) {
	store := newMemBossStore()
	store.spawns["cave"] = 100
	registry := NewBossRegistry(store)

	if _, err := registry.Snapshot("cave"); err != nil {
		t.Fatal(err)
	}

	store.mu.Lock()
	store.saveErr = errors.New("db down")
	store.mu.Unlock()

	if _, _, err := registry.ApplyDamage("cave", "p1", 40); err == nil {
		t.Fatal("expected save error to propagate")
	}

	store.mu.Lock()
	store.saveErr = nil
	store.mu.Unlock()

	snapshot, err := registry.Snapshot("cave")
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.CurrentHP != 100 {
		t.Fatalf("failed write must not stick, hp = %d", snapshot.CurrentHP)
	}
}

func TestChangeListenerDoesNotHoldBossLock(t *testing.T) {
	store := newMemBossStore()
	store.spawns["cave"] = 100
	registry := NewBossRegistry(store)

	entered := make(chan struct{})
	release := make(chan struct{})
	registry.SetChangeListener(func(BossSnapshot) {
		entered <- struct{}{}
		<-release
	})
	defer close(release)

	go func() {
		_, _, _ = registry.ApplyDamage("cave", "p1", 10)
	}()
	<-entered

	// The listener is stalled mid-broadcast; reads must still go through.
	done := make(chan BossSnapshot, 1)
	go func() {
		snapshot, err := registry.Snapshot("cave")
		if err != nil {
			t.Error(err)
		}
		done <- snapshot
	}()

	select {
	case snapshot := <-done:
		if snapshot.CurrentHP != 90 {
			t.Fatalf("expected committed hp 90, got %d", snapshot.CurrentHP)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot blocked behind a stalled change listener")
	}
}

func TestResetStartsNextLife(t *testing.T) {
	store := newMemBossStore()
	store.spawns["cave"] = 100
	registry := NewBossRegistry(store)

	if _, _, err := registry.ApplyDamage("cave", "p1", 100); err != nil {
		t.Fatal(err)
	}

	snapshot, err := registry.Reset("cave")
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.CurrentHP != 100 || snapshot.State != BossAlive || snapshot.Ordinal != 2 {
		t.Fatalf("unexpected reset state: %+v", snapshot)
	}
}

func TestResetAfterDefeatRequiresMatchingLife(t *testing.T) {
	store := newMemBossStore()
	store.spawns["cave"] = 100
	registry := NewBossRegistry(store)

	if _, _, err := registry.ApplyDamage("cave", "p1", 100); err != nil {
		t.Fatal(err)
	}

	// Wrong ordinal: nothing happens.
	snapshot, err := registry.ResetAfterDefeat("cave", 7)
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.State != BossDefeated || snapshot.Ordinal != 1 {
		t.Fatalf("stale reset must be a no-op: %+v", snapshot)
	}

	// Matching ordinal: boss respawns.
	snapshot, err = registry.ResetAfterDefeat("cave", 1)
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.State != BossAlive || snapshot.Ordinal != 2 {
		t.Fatalf("expected respawn into life 2: %+v", snapshot)
	}

	// The boss is alive again; an old reconciler pass must not touch it.
	if _, _, err := registry.ApplyDamage("cave", "p2", 30); err != nil {
		t.Fatal(err)
	}
	snapshot, err = registry.ResetAfterDefeat("cave", 1)
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.CurrentHP != 70 || snapshot.State != BossAlive {
		t.Fatalf("mid-life boss was reset: %+v", snapshot)
	}
}
