package main

import "testing"

func TestApplySettingParsesKnownKeys(t *testing.T) {
	settings := GlobalSettings{}

	applySetting(&settings, "server_gold_multiplier", "2.5")
	applySetting(&settings, " SERVER_XP_MULTIPLIER ", "3")
	applySetting(&settings, "default_boss_max_hp", "900")
	applySetting(&settings, "respawn_delay_seconds", "30")
	applySetting(&settings, "settlement_max_attempts", "5")

	if settings.ServerGoldMultiplier != 2.5 || settings.ServerXPMultiplier != 3.0 {
		t.Fatalf("multipliers: %+v", settings)
	}
	if settings.DefaultBossMaxHP != 900 || settings.RespawnDelaySeconds != 30 {
		t.Fatalf("boss settings: %+v", settings)
	}
	if settings.SettlementMaxAttempts != 5 {
		t.Fatalf("attempts: %+v", settings)
	}
}

func TestApplySettingIgnoresInvalidValues(t *testing.T) {
	settings := GlobalSettings{ServerGoldMultiplier: 1.5, DefaultBossMaxHP: 500}

	applySetting(&settings, "server_gold_multiplier", "not-a-number")
	applySetting(&settings, "server_gold_multiplier", "-2")
	applySetting(&settings, "default_boss_max_hp", "0")
	applySetting(&settings, "some_unknown_key", "42")

	if settings.ServerGoldMultiplier != 1.5 {
		t.Fatalf("invalid multiplier applied: %v", settings.ServerGoldMultiplier)
	}
	if settings.DefaultBossMaxHP != 500 {
		t.Fatalf("invalid hp applied: %v", settings.DefaultBossMaxHP)
	}
}

func TestBattlePassLevelCurve(t *testing.T) {
	cases := []struct {
		xp    int64
		level int
	}{
		{0, 1},
		{999, 1},
		{1000, 2},
		{49000, 50},
		{999999, 50},
	}
	for _, tc := range cases {
		if got := battlePassLevelFor(tc.xp); got != tc.level {
			t.Errorf("battlePassLevelFor(%d) = %d, want %d", tc.xp, got, tc.level)
		}
	}
}

func TestFactionCatalog(t *testing.T) {
	if len(factionCatalog) == 0 {
		t.Fatal("faction catalog must not be empty, capture requires one")
	}
	for id := range factionCatalog {
		if !isValidFactionID(id) {
			t.Errorf("catalog faction %q rejected", id)
		}
	}
	for _, id := range []string{"", "freelancers", "EMBERBORN"} {
		if isValidFactionID(id) {
			t.Errorf("%q should not be a faction", id)
		}
	}
}

func TestValidIdentifiers(t *testing.T) {
	for _, id := range []string{"player-1", "Raider_42", "abc"} {
		if !isValidPlayerID(id) {
			t.Errorf("%q should be valid", id)
		}
	}
	for _, id := range []string{"", "has space", "semi;colon", "x/y"} {
		if isValidPlayerID(id) {
			t.Errorf("%q should be invalid", id)
		}
	}
}
