package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

type BossSnapshot struct {
	LocationID string `json:"locationId"`
	MaxHP      int    `json:"maxHp"`
	CurrentHP  int    `json:"currentHp"`
	State      string `json:"state"`
	Ordinal    int64  `json:"ordinal"`
}

type DamageResponse struct {
	OK         bool          `json:"ok"`
	Error      string        `json:"error,omitempty"`
	Boss       *BossSnapshot `json:"boss,omitempty"`
	Defeated   bool          `json:"defeated"`
	Settlement *struct {
		SettlementID string `json:"settlementId"`
		FinalXP      int    `json:"finalXp"`
		FinalGold    int    `json:"finalGold"`
		Status       string `json:"status"`
	} `json:"settlement,omitempty"`
}

type BossResponse struct {
	OK   bool          `json:"ok"`
	Boss *BossSnapshot `json:"boss,omitempty"`
}

// raid-runner throws a party of concurrent raiders at one location until the
// boss drops, then reports who landed the killing blow and what it paid out.
// Useful for smoke-testing the exactly-once settlement path under load.
func main() {
	baseURL := strings.TrimSpace(os.Getenv("API_BASE_URL"))
	if baseURL == "" {
		logError("API_BASE_URL is required")
		os.Exit(1)
	}
	locationID := strings.TrimSpace(os.Getenv("RAID_LOCATION_ID"))
	if locationID == "" {
		locationID = "ashen-wastes"
	}

	partySize := parseEnvInt("RAID_PARTY_SIZE", 8)
	minDamage := parseEnvInt("RAID_MIN_DAMAGE", 5)
	maxDamage := parseEnvInt("RAID_MAX_DAMAGE", 40)
	minDelay := parseEnvInt("RAID_RATE_LIMIT_MIN_MS", 20)
	maxDelay := parseEnvInt("RAID_RATE_LIMIT_MAX_MS", 150)
	timeout := parseEnvInt("RAID_TIMEOUT_SECONDS", 120)

	if maxDamage < minDamage {
		maxDamage = minDamage
	}

	client := &http.Client{Timeout: 15 * time.Second}

	boss, err := fetchBoss(client, baseURL, locationID)
	if err != nil {
		logError(fmt.Sprintf("boss fetch failed: %v", err))
		os.Exit(1)
	}
	logInfo(fmt.Sprintf("raiding %s: hp %d/%d life %d", locationID, boss.CurrentHP, boss.MaxHP, boss.Ordinal))

	deadline := time.Now().Add(time.Duration(timeout) * time.Second)
	var wg sync.WaitGroup
	var mu sync.Mutex
	kills := 0

	for i := 0; i < partySize; i++ {
		raiderID := fmt.Sprintf("raider-%d", i+1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				amount := rand.Intn(maxDamage-minDamage+1) + minDamage
				response, err := dealDamage(client, baseURL, raiderID, locationID, amount)
				if err != nil {
					logError(fmt.Sprintf("%s damage failed: %v", raiderID, err))
					sleepJitter(minDelay, maxDelay)
					continue
				}
				if response.Defeated {
					mu.Lock()
					kills++
					mu.Unlock()
					if response.Settlement != nil {
						logInfo(fmt.Sprintf("%s landed the killing blow: %s xp=%d gold=%d status=%s",
							raiderID,
							response.Settlement.SettlementID,
							response.Settlement.FinalXP,
							response.Settlement.FinalGold,
							response.Settlement.Status,
						))
					} else {
						logInfo(fmt.Sprintf("%s landed the killing blow (settlement deferred)", raiderID))
					}
					return
				}
				if response.Boss != nil && response.Boss.State == "defeated" {
					return
				}
				sleepJitter(minDelay, maxDelay)
			}
		}()
	}

	wg.Wait()

	if kills != 1 {
		logError(fmt.Sprintf("expected exactly one killing blow, saw %d", kills))
		os.Exit(1)
	}
	logInfo("raid complete")
}

func fetchBoss(client *http.Client, baseURL string, locationID string) (*BossSnapshot, error) {
	res, err := client.Get(baseURL + "/boss?locationId=" + locationID)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var response BossResponse
	if err := decodeJSON(res.Body, &response); err != nil {
		return nil, err
	}
	if !response.OK || response.Boss == nil {
		return nil, errors.New("boss lookup failed")
	}
	return response.Boss, nil
}

func dealDamage(client *http.Client, baseURL string, playerID string, locationID string, amount int) (*DamageResponse, error) {
	payload := map[string]interface{}{
		"playerId":   playerID,
		"locationId": locationID,
		"amount":     amount,
	}
	body, _ := json.Marshal(payload)
	res, err := client.Post(baseURL+"/damage", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var response DamageResponse
	if err := decodeJSON(res.Body, &response); err != nil {
		return nil, err
	}
	if !response.OK {
		return nil, errors.New(response.Error)
	}
	return &response, nil
}

func decodeJSON(reader io.Reader, target interface{}) error {
	return json.NewDecoder(reader).Decode(target)
}

func sleepJitter(minMs int, maxMs int) {
	if minMs <= 0 {
		return
	}
	if maxMs < minMs {
		maxMs = minMs
	}
	jitter := rand.Intn(maxMs-minMs+1) + minMs
	time.Sleep(time.Duration(jitter) * time.Millisecond)
}

func parseEnvInt(key string, fallback int) int {
	if raw := strings.TrimSpace(os.Getenv(key)); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
	}
	return fallback
}

func logInfo(message string) {
	fmt.Printf("[INFO] %s %s\n", time.Now().Format(time.RFC3339), message)
}

func logError(message string) {
	fmt.Printf("[ERROR] %s %s\n", time.Now().Format(time.RFC3339), message)
}
