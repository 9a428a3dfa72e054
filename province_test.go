package main

import "testing"

func TestPlayerLevelFor(t *testing.T) {
	cases := []struct {
		xp    int64
		level int
	}{
		{0, 1},
		{999, 1},
		{1000, 2},
		{4999, 5},
		{-50, 1},
	}
	for _, tc := range cases {
		if got := playerLevelFor(tc.xp); got != tc.level {
			t.Errorf("playerLevelFor(%d) = %d, want %d", tc.xp, got, tc.level)
		}
	}
}

func TestCheckCapturePreconditions(t *testing.T) {
	province := Province{ID: "frost-hollow", CanCapture: true, MinLevelToCapture: 3}

	if err := checkCapture(province, 5); err != nil {
		t.Fatalf("eligible capture rejected: %v", err)
	}
	if err := checkCapture(province, 3); err != nil {
		t.Fatalf("exact level must qualify: %v", err)
	}
	if err := checkCapture(province, 2); err != errCaptureLevelTooLow {
		t.Fatalf("expected errCaptureLevelTooLow, got %v", err)
	}

	locked := Province{ID: "capital-reach", CanCapture: false, MinLevelToCapture: 1}
	if err := checkCapture(locked, 99); err != errCaptureLocked {
		t.Fatalf("expected errCaptureLocked, got %v", err)
	}
}

func TestCaptureLockedWinsOverLevel(t *testing.T) {
	province := Province{ID: "capital-reach", CanCapture: false, MinLevelToCapture: 10}
	if err := checkCapture(province, 1); err != errCaptureLocked {
		t.Fatalf("locked province must report the lock, got %v", err)
	}
}
