package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

type liveSnapshot struct {
	ServerTime string         `json:"serverTime"`
	Bosses     []BossSnapshot `json:"bosses"`
	Events     liveEventInfo  `json:"events"`
}

type liveEventInfo struct {
	Seasonal []string `json:"seasonal"`
	Weekly   string   `json:"weekly"`
}

func buildLiveSnapshot(bosses *BossRegistry, locationID string) liveSnapshot {
	now := time.Now().UTC()

	var snapshots []BossSnapshot
	if locationID != "" {
		if snapshot, err := bosses.Snapshot(locationID); err == nil {
			snapshots = []BossSnapshot{snapshot}
		}
	} else {
		snapshots = bosses.Snapshots()
	}

	seasonal := []string{}
	for _, event := range ActiveSeasonalEvents(now) {
		seasonal = append(seasonal, event.ID)
	}

	return liveSnapshot{
		ServerTime: now.Format(time.RFC3339),
		Bosses:     snapshots,
		Events: liveEventInfo{
			Seasonal: seasonal,
			Weekly:   ActiveWeeklyEvent(now).ID,
		},
	}
}

// eventsHandler streams boss snapshots over SSE on a fixed interval. The
// websocket hub carries the push path; this is the fallback for clients
// behind proxies that eat upgrades.
func eventsHandler(bosses *BossRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		locationID := strings.TrimSpace(r.URL.Query().Get("locationId"))
		if locationID != "" && !isValidLocationID(locationID) {
			http.Error(w, "invalid locationId", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		sendSnapshot := func() bool {
			payload, err := json.Marshal(buildLiveSnapshot(bosses, locationID))
			if err != nil {
				return false
			}
			if _, err := w.Write([]byte("event: snapshot\n")); err != nil {
				return false
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return false
			}
			if _, err := w.Write(payload); err != nil {
				return false
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return false
			}
			flusher.Flush()
			return true
		}

		if !sendSnapshot() {
			return
		}

		interval := time.Duration(GetGlobalSettings().StreamIntervalSeconds) * time.Second
		if interval <= 0 {
			interval = 2 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !sendSnapshot() {
					return
				}
			}
		}
	}
}
