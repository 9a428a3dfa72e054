package main

import (
	"database/sql"
	"encoding/json"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	NotificationRolePlayer = "player"
	NotificationRoleAdmin  = "admin"
)

const (
	NotificationCategoryEconomy = "economy"
	NotificationCategoryBoss    = "boss"
	NotificationCategoryClan    = "clan"
	NotificationCategorySystem  = "system"
)

const (
	NotificationPriorityNormal   = "normal"
	NotificationPriorityHigh     = "high"
	NotificationPriorityCritical = "critical"
)

var notificationCategoryList = []string{
	NotificationCategoryEconomy,
	NotificationCategoryBoss,
	NotificationCategoryClan,
	NotificationCategorySystem,
}

type NotificationInput struct {
	RecipientRole     string
	RecipientPlayerID string
	Category          string
	Type              string
	Priority          string
	Payload           interface{}
	Message           string
	ExpiresAt         *time.Time
	DedupKey          string
	DedupWindow       time.Duration
}

func normalizeNotificationCategory(category string) string {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		return NotificationCategorySystem
	}
	for _, item := range notificationCategoryList {
		if category == item {
			return category
		}
	}
	return NotificationCategorySystem
}

func normalizeNotificationPriority(priority string) string {
	priority = strings.ToLower(strings.TrimSpace(priority))
	switch priority {
	case NotificationPriorityHigh, NotificationPriorityCritical:
		return priority
	default:
		return NotificationPriorityNormal
	}
}

func notificationRetentionWindow() time.Duration {
	value := strings.TrimSpace(os.Getenv("NOTIFICATION_RETENTION_HOURS"))
	if value == "" {
		return 48 * time.Hour
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return 48 * time.Hour
	}
	return time.Duration(parsed) * time.Hour
}

func notificationExpiryForPriority(priority string) time.Duration {
	switch normalizeNotificationPriority(priority) {
	case NotificationPriorityCritical:
		return 14 * 24 * time.Hour
	case NotificationPriorityHigh:
		return 7 * 24 * time.Hour
	default:
		return notificationRetentionWindow()
	}
}

// emitNotification is fire-and-forget: callers on the settlement path must
// never block on the notification write.
func emitNotification(db *sql.DB, input NotificationInput) {
	go func() {
		if err := insertNotification(db, input); err != nil {
			log.Println("notification emit failed:", err)
		}
	}()
}

func insertNotification(db *sql.DB, input NotificationInput) error {
	role := strings.ToLower(strings.TrimSpace(input.RecipientRole))
	if role == "" {
		role = NotificationRolePlayer
	}
	category := normalizeNotificationCategory(input.Category)
	priority := normalizeNotificationPriority(input.Priority)

	var payload []byte
	if input.Payload != nil {
		encoded, err := json.Marshal(input.Payload)
		if err == nil {
			payload = encoded
		}
	}

	now := time.Now().UTC()
	var expires sql.NullTime
	if input.ExpiresAt != nil {
		expires = sql.NullTime{Time: *input.ExpiresAt, Valid: true}
	} else {
		expires = sql.NullTime{Time: now.Add(notificationExpiryForPriority(priority)), Valid: true}
	}

	if input.DedupKey != "" && input.DedupWindow > 0 {
		var existing int64
		err := db.QueryRow(`
			SELECT id
			FROM notifications
			WHERE dedupe_key = $1
				AND COALESCE(recipient_player_id, '') = $2
				AND recipient_role = $3
				AND created_at > NOW() - ($4 * INTERVAL '1 second')
			LIMIT 1
		`, strings.TrimSpace(input.DedupKey), strings.TrimSpace(input.RecipientPlayerID), role, int(input.DedupWindow.Seconds())).Scan(&existing)
		if err == nil {
			return nil
		}
		if err != sql.ErrNoRows {
			return err
		}
	}

	_, err := db.Exec(`
		INSERT INTO notifications (
			recipient_role,
			recipient_player_id,
			category,
			type,
			priority,
			message,
			payload,
			dedupe_key,
			created_at,
			expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), $9)
	`,
		role,
		nullableString(strings.TrimSpace(input.RecipientPlayerID)),
		category,
		strings.TrimSpace(input.Type),
		priority,
		strings.TrimSpace(input.Message),
		payload,
		nullableString(strings.TrimSpace(input.DedupKey)),
		expires,
	)
	return err
}

type NotificationItem struct {
	ID        int64           `json:"id"`
	Category  string          `json:"category"`
	Type      string          `json:"type,omitempty"`
	Priority  string          `json:"priority"`
	Message   string          `json:"message"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	IsRead    bool            `json:"isRead"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt *time.Time      `json:"expiresAt,omitempty"`
}

func fetchNotifications(db *sql.DB, playerID string, role string, afterID int64, limit int) ([]NotificationItem, error) {
	if limit <= 0 {
		limit = 60
	}
	if limit > 200 {
		limit = 200
	}

	args := []interface{}{playerID, role}
	whereAfter := ""
	limitIndex := 3
	if afterID > 0 {
		whereAfter = "AND n.id > $3"
		args = append(args, afterID)
		limitIndex = 4
	}
	args = append(args, limit)

	query := `
		SELECT
			n.id,
			n.category,
			n.type,
			n.priority,
			n.message,
			n.payload,
			n.created_at,
			n.expires_at,
			(r.notification_id IS NOT NULL) AS is_read
		FROM notifications n
		LEFT JOIN notification_reads r
			ON r.notification_id = n.id AND r.player_id = $1
		WHERE (n.expires_at IS NULL OR n.expires_at > NOW())
			AND (n.recipient_player_id IS NULL OR n.recipient_player_id = $1)
			AND (n.recipient_role = $2 OR ($2 = 'admin' AND n.recipient_role = 'player'))
			` + whereAfter + `
		ORDER BY n.id DESC
		LIMIT $` + strconv.Itoa(limitIndex)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []NotificationItem{}
	for rows.Next() {
		var item NotificationItem
		var payload sql.NullString
		var expires sql.NullTime
		if err := rows.Scan(
			&item.ID,
			&item.Category,
			&item.Type,
			&item.Priority,
			&item.Message,
			&payload,
			&item.CreatedAt,
			&expires,
			&item.IsRead,
		); err != nil {
			continue
		}
		if payload.Valid {
			item.Payload = json.RawMessage(payload.String)
		}
		if expires.Valid {
			item.ExpiresAt = &expires.Time
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func markNotificationsRead(db *sql.DB, playerID string, ids []int64) error {
	for _, id := range ids {
		if _, err := db.Exec(`
			INSERT INTO notification_reads (notification_id, player_id, read_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (notification_id, player_id) DO NOTHING
		`, id, playerID); err != nil {
			return err
		}
	}
	return nil
}

func pruneNotifications(db *sql.DB) {
	cutoff := time.Now().UTC().Add(-notificationRetentionWindow())
	if _, err := db.Exec(`
		DELETE FROM notifications
		WHERE (expires_at IS NOT NULL AND expires_at < NOW())
			OR (expires_at IS NULL AND created_at < $1)
	`, cutoff); err != nil {
		log.Println("notification prune failed:", err)
	}
	_, _ = db.Exec(`DELETE FROM notification_reads WHERE notification_id NOT IN (SELECT id FROM notifications)`)
}

func startNotificationPruner(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			pruneNotifications(db)
		}
	}()
}
