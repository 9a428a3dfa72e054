package main

import (
	"database/sql"
	"errors"
	"log"
	"sort"
	"sync"
	"time"
)

type BossState string

const (
	BossAlive    BossState = "alive"
	BossDefeated BossState = "defeated"
)

var errDamageRejected = errors.New("damage rejected")

type BossSnapshot struct {
	LocationID string    `json:"locationId"`
	MaxHP      int       `json:"maxHp"`
	CurrentHP  int       `json:"currentHp"`
	State      BossState `json:"state"`
	Ordinal    int64     `json:"ordinal"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// DefeatTransition is handed to exactly one ApplyDamage caller per boss
// life: the one whose write took the HP pool to zero.
type DefeatTransition struct {
	LocationID string
	Ordinal    int64
	DefeatedBy string
	OccurredAt time.Time
}

// bossStore persists boss rows. The registry's in-memory state is only
// considered committed once the store write returns nil.
type bossStore interface {
	LoadBoss(locationID string) (*BossSnapshot, error)
	CreateBoss(snapshot BossSnapshot) error
	SaveBoss(snapshot BossSnapshot) error
	SpawnMaxHP(locationID string) (int, bool)
}

type bossEntry struct {
	mu       sync.Mutex
	loaded   bool
	snapshot BossSnapshot
}

// BossRegistry is the single authoritative owner of every boss HP pool.
// Clients submit damage intents and observe snapshots; nobody else computes
// HP. Entries for different locations never contend with each other.
type BossRegistry struct {
	mu      sync.Mutex
	store   bossStore
	entries map[string]*bossEntry

	// onChange receives a snapshot after each committed mutation. Used to
	// feed the watch hub; never consulted for correctness.
	onChange func(BossSnapshot)
}

func NewBossRegistry(store bossStore) *BossRegistry {
	return &BossRegistry{
		store:   store,
		entries: make(map[string]*bossEntry),
	}
}

func (r *BossRegistry) SetChangeListener(fn func(BossSnapshot)) {
	r.onChange = fn
}

func (r *BossRegistry) entry(locationID string) *bossEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[locationID]
	if !ok {
		entry = &bossEntry{snapshot: BossSnapshot{LocationID: locationID}}
		r.entries[locationID] = entry
	}
	return entry
}

// loadLocked hydrates the entry from its persisted row, creating one lazily
// on first touch. Caller holds entry.mu.
func (r *BossRegistry) loadLocked(entry *bossEntry) error {
	if entry.loaded {
		return nil
	}

	locationID := entry.snapshot.LocationID
	stored, err := r.store.LoadBoss(locationID)
	if err != nil {
		return err
	}
	if stored != nil {
		entry.snapshot = *stored
		entry.loaded = true
		return nil
	}

	maxHP, ok := r.store.SpawnMaxHP(locationID)
	if !ok || maxHP <= 0 {
		maxHP = GetGlobalSettings().DefaultBossMaxHP
	}
	fresh := BossSnapshot{
		LocationID: locationID,
		MaxHP:      maxHP,
		CurrentHP:  maxHP,
		State:      BossAlive,
		Ordinal:    1,
		UpdatedAt:  time.Now().UTC(),
	}
	if err := r.store.CreateBoss(fresh); err != nil {
		return err
	}

	entry.snapshot = fresh
	entry.loaded = true
	log.Println("boss: spawned", locationID, "hp", maxHP)
	return nil
}

// ApplyDamage subtracts amount from the location's HP pool. The read,
// subtract, write, and defeat handoff form one critical section per
// location; no other damage write can interleave. Damage to an already
// defeated boss is discarded, not queued.
func (r *BossRegistry) ApplyDamage(locationID string, playerID string, amount int) (BossSnapshot, *DefeatTransition, error) {
	if amount <= 0 {
		return BossSnapshot{}, nil, errDamageRejected
	}

	entry := r.entry(locationID)
	snapshot, transition, changed, err := r.damageLocked(entry, locationID, playerID, amount)
	if err != nil {
		return BossSnapshot{}, nil, err
	}

	// Notify after the lock is released; a slow watcher must never stall
	// damage or snapshot reads for the location.
	if changed && r.onChange != nil {
		r.onChange(snapshot)
	}
	return snapshot, transition, nil
}

func (r *BossRegistry) damageLocked(entry *bossEntry, locationID string, playerID string, amount int) (BossSnapshot, *DefeatTransition, bool, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := r.loadLocked(entry); err != nil {
		return BossSnapshot{}, nil, false, err
	}

	if entry.snapshot.State == BossDefeated {
		return entry.snapshot, nil, false, nil
	}

	prev := entry.snapshot

	newHP := prev.CurrentHP - amount
	if newHP < 0 {
		newHP = 0
	}

	entry.snapshot.CurrentHP = newHP
	entry.snapshot.UpdatedAt = time.Now().UTC()

	var transition *DefeatTransition
	if newHP == 0 && prev.CurrentHP > 0 {
		entry.snapshot.State = BossDefeated
		transition = &DefeatTransition{
			LocationID: locationID,
			Ordinal:    entry.snapshot.Ordinal,
			DefeatedBy: playerID,
			OccurredAt: entry.snapshot.UpdatedAt,
		}
	}

	if err := r.store.SaveBoss(entry.snapshot); err != nil {
		entry.snapshot = prev
		return BossSnapshot{}, nil, false, err
	}

	return entry.snapshot, transition, true, nil
}

// Snapshot is safe to call concurrently with damage; it never observes a
// partial write because reads take the same per-location lock.
func (r *BossRegistry) Snapshot(locationID string) (BossSnapshot, error) {
	entry := r.entry(locationID)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := r.loadLocked(entry); err != nil {
		return BossSnapshot{}, err
	}
	return entry.snapshot, nil
}

// Snapshots returns every boss this instance has touched, sorted by
// location. Locations nobody has hit yet are absent on purpose.
func (r *BossRegistry) Snapshots() []BossSnapshot {
	r.mu.Lock()
	locations := make([]string, 0, len(r.entries))
	for locationID := range r.entries {
		locations = append(locations, locationID)
	}
	r.mu.Unlock()
	sort.Strings(locations)

	snapshots := make([]BossSnapshot, 0, len(locations))
	for _, locationID := range locations {
		entry := r.entry(locationID)
		entry.mu.Lock()
		if entry.loaded {
			snapshots = append(snapshots, entry.snapshot)
		}
		entry.mu.Unlock()
	}
	return snapshots
}

func (r *BossRegistry) GetHP(locationID string) (int, error) {
	snapshot, err := r.Snapshot(locationID)
	if err != nil {
		return 0, err
	}
	return snapshot.CurrentHP, nil
}

// Reset starts the next boss life at full HP. The settlement pipeline is the
// only gameplay caller, and only after the preceding defeat's rewards have
// committed; admin spawn goes through here too.
func (r *BossRegistry) Reset(locationID string) (BossSnapshot, error) {
	return r.reset(locationID, 0)
}

// ResetAfterDefeat resets only while the boss is still down from the given
// life. A reconciler re-driving an old settlement must never restart a boss
// that has already respawned.
func (r *BossRegistry) ResetAfterDefeat(locationID string, ordinal int64) (BossSnapshot, error) {
	return r.reset(locationID, ordinal)
}

func (r *BossRegistry) reset(locationID string, requireOrdinal int64) (BossSnapshot, error) {
	entry := r.entry(locationID)
	snapshot, changed, err := r.resetLocked(entry, requireOrdinal)
	if err != nil {
		return BossSnapshot{}, err
	}
	if changed {
		if r.onChange != nil {
			r.onChange(snapshot)
		}
		log.Println("boss: reset", locationID, "life", snapshot.Ordinal)
	}
	return snapshot, nil
}

func (r *BossRegistry) resetLocked(entry *bossEntry, requireOrdinal int64) (BossSnapshot, bool, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := r.loadLocked(entry); err != nil {
		return BossSnapshot{}, false, err
	}

	if requireOrdinal > 0 {
		if entry.snapshot.State != BossDefeated || entry.snapshot.Ordinal != requireOrdinal {
			return entry.snapshot, false, nil
		}
	}

	prev := entry.snapshot

	entry.snapshot.CurrentHP = entry.snapshot.MaxHP
	entry.snapshot.State = BossAlive
	entry.snapshot.Ordinal++
	entry.snapshot.UpdatedAt = time.Now().UTC()

	if err := r.store.SaveBoss(entry.snapshot); err != nil {
		entry.snapshot = prev
		return BossSnapshot{}, false, err
	}

	return entry.snapshot, true, nil
}

// ScheduleReset resets immediately or after the configured respawn delay.
// Damage submitted during the delay window hits a Defeated boss and no-ops.
func (r *BossRegistry) ScheduleReset(locationID string, ordinal int64) {
	delay := RespawnDelay()
	if delay <= 0 {
		if _, err := r.ResetAfterDefeat(locationID, ordinal); err != nil {
			log.Println("boss: reset failed:", err)
		}
		return
	}
	time.AfterFunc(delay, func() {
		if _, err := r.ResetAfterDefeat(locationID, ordinal); err != nil {
			log.Println("boss: delayed reset failed:", err)
		}
	})
}

/* ======================
   Postgres store
   ====================== */

type pgBossStore struct {
	db *sql.DB
}

func (s *pgBossStore) LoadBoss(locationID string) (*BossSnapshot, error) {
	var snapshot BossSnapshot
	var state string
	err := s.db.QueryRow(`
		SELECT location_id, max_hp, current_hp, state, ordinal, updated_at
		FROM boss_instances
		WHERE location_id = $1
	`, locationID).Scan(
		&snapshot.LocationID,
		&snapshot.MaxHP,
		&snapshot.CurrentHP,
		&state,
		&snapshot.Ordinal,
		&snapshot.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snapshot.State = BossState(state)
	return &snapshot, nil
}

func (s *pgBossStore) CreateBoss(snapshot BossSnapshot) error {
	_, err := s.db.Exec(`
		INSERT INTO boss_instances (location_id, max_hp, current_hp, state, ordinal, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (location_id) DO NOTHING
	`, snapshot.LocationID, snapshot.MaxHP, snapshot.CurrentHP, string(snapshot.State), snapshot.Ordinal, snapshot.UpdatedAt)
	return err
}

func (s *pgBossStore) SaveBoss(snapshot BossSnapshot) error {
	_, err := s.db.Exec(`
		UPDATE boss_instances
		SET current_hp = $2,
			state = $3,
			ordinal = $4,
			updated_at = $5
		WHERE location_id = $1
	`, snapshot.LocationID, snapshot.CurrentHP, string(snapshot.State), snapshot.Ordinal, snapshot.UpdatedAt)
	return err
}

func (s *pgBossStore) SpawnMaxHP(locationID string) (int, bool) {
	var maxHP int
	err := s.db.QueryRow(`
		SELECT max_hp
		FROM boss_spawns
		WHERE location_id = $1
	`, locationID).Scan(&maxHP)
	if err == sql.ErrNoRows {
		return 0, false
	}
	if err != nil {
		log.Println("boss: spawn config lookup failed, using default:", err)
		return 0, false
	}
	return maxHP, maxHP > 0
}
