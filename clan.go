package main

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	errUnknownUpgrade  = errors.New("unknown clan upgrade")
	errNotInClan       = errors.New("player is not in a clan")
	errUpgradeOwned    = errors.New("clan already owns upgrade")
	errNotClanOfficer  = errors.New("player cannot spend clan treasury")
	errClanTreasuryLow = errors.New("clan treasury too low")
	errClanExists      = errors.New("clan id taken")
	errClanNotFound    = errors.New("clan not found")
	errAlreadyInClan   = errors.New("player already in a clan")
	errDonationTooLow  = errors.New("donation must be positive")
	errGoldTooLow      = errors.New("not enough gold")
)

type clanUpgradeOffer struct {
	ID        string
	PriceGold int64
}

var clanUpgradeCatalog = map[string]clanUpgradeOffer{
	ClanUpgradeExperiencedHunters: {ID: ClanUpgradeExperiencedHunters, PriceGold: 10000},
	"wealthyPatrons":              {ID: "wealthyPatrons", PriceGold: 8000},
}

// CreateClan founds a clan with the player as leader and sole member. The
// clan id doubles as the join handle, so collisions are a caller error.
func CreateClan(db *sql.DB, playerID string, clanID string, name string) (*ClanView, error) {
	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var currentClan sql.NullString
	if err := tx.QueryRow(`
		SELECT clan_id
		FROM players
		WHERE player_id = $1
		FOR UPDATE
	`, playerID).Scan(&currentClan); err != nil {
		if err == sql.ErrNoRows {
			return nil, errPlayerNotFound
		}
		return nil, err
	}
	if currentClan.Valid && currentClan.String != "" {
		return nil, errAlreadyInClan
	}

	now := time.Now().UTC()
	result, err := tx.Exec(`
		INSERT INTO clans (clan_id, name, leader_id, treasury_gold, created_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (clan_id) DO NOTHING
	`, clanID, name, playerID, now)
	if err != nil {
		return nil, err
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if inserted == 0 {
		return nil, errClanExists
	}

	if _, err := tx.Exec(`
		UPDATE players
		SET clan_id = $2
		WHERE player_id = $1
	`, playerID, clanID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &ClanView{
		ClanID:    clanID,
		Name:      name,
		LeaderID:  playerID,
		Upgrades:  []string{},
		CreatedAt: now,
	}, nil
}

// JoinClan attaches a clanless player to an existing clan.
func JoinClan(db *sql.DB, playerID string, clanID string) error {
	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var currentClan sql.NullString
	if err := tx.QueryRow(`
		SELECT clan_id
		FROM players
		WHERE player_id = $1
		FOR UPDATE
	`, playerID).Scan(&currentClan); err != nil {
		if err == sql.ErrNoRows {
			return errPlayerNotFound
		}
		return err
	}
	if currentClan.Valid && currentClan.String != "" {
		return errAlreadyInClan
	}

	var exists int
	if err := tx.QueryRow(`
		SELECT 1
		FROM clans
		WHERE clan_id = $1
	`, clanID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return errClanNotFound
		}
		return err
	}

	if _, err := tx.Exec(`
		UPDATE players
		SET clan_id = $2
		WHERE player_id = $1
	`, playerID, clanID); err != nil {
		return err
	}

	return tx.Commit()
}

// DonateToClan moves gold from the player's balance into the clan treasury,
// which is what upgrade purchases spend from. Returns the new treasury total.
func DonateToClan(db *sql.DB, playerID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, errDonationTooLow
	}

	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var gold int64
	var clanID sql.NullString
	if err := tx.QueryRow(`
		SELECT gold, clan_id
		FROM players
		WHERE player_id = $1
		FOR UPDATE
	`, playerID).Scan(&gold, &clanID); err != nil {
		if err == sql.ErrNoRows {
			return 0, errPlayerNotFound
		}
		return 0, err
	}
	if !clanID.Valid || clanID.String == "" {
		return 0, errNotInClan
	}
	if gold < amount {
		return 0, errGoldTooLow
	}

	if _, err := tx.Exec(`
		UPDATE players
		SET gold = gold - $2
		WHERE player_id = $1
	`, playerID, amount); err != nil {
		return 0, err
	}

	var treasury int64
	if err := tx.QueryRow(`
		UPDATE clans
		SET treasury_gold = treasury_gold + $2
		WHERE clan_id = $1
		RETURNING treasury_gold
	`, clanID.String, amount).Scan(&treasury); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return treasury, nil
}

// LoadClanUpgrades returns the upgrades of the player's clan as bonus
// sources. Players without a clan get an empty list.
func LoadClanUpgrades(db *sql.DB, playerID string) ([]ClanUpgrade, error) {
	rows, err := db.Query(`
		SELECT u.upgrade_id
		FROM players p
		JOIN clan_upgrades u ON u.clan_id = p.clan_id
		WHERE p.player_id = $1
	`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	upgrades := []ClanUpgrade{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		upgrades = append(upgrades, ClanUpgrade{ID: id})
	}
	return upgrades, rows.Err()
}

// PurchaseClanUpgrade spends the clan treasury on a perk for every member.
// Only the clan leader may spend; the purchase is recorded once per
// (clan, upgrade).
func PurchaseClanUpgrade(db *sql.DB, playerID string, upgradeID string) error {
	offer, ok := clanUpgradeCatalog[upgradeID]
	if !ok {
		return errUnknownUpgrade
	}

	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var clanID sql.NullString
	if err := tx.QueryRow(`
		SELECT clan_id
		FROM players
		WHERE player_id = $1
	`, playerID).Scan(&clanID); err != nil {
		if err == sql.ErrNoRows {
			return errPlayerNotFound
		}
		return err
	}
	if !clanID.Valid || clanID.String == "" {
		return errNotInClan
	}

	var leaderID string
	var treasury int64
	if err := tx.QueryRow(`
		SELECT leader_id, treasury_gold
		FROM clans
		WHERE clan_id = $1
		FOR UPDATE
	`, clanID.String).Scan(&leaderID, &treasury); err != nil {
		return err
	}
	if leaderID != playerID {
		return errNotClanOfficer
	}
	if treasury < offer.PriceGold {
		return errClanTreasuryLow
	}

	result, err := tx.Exec(`
		INSERT INTO clan_upgrades (clan_id, upgrade_id, purchased_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (clan_id, upgrade_id) DO NOTHING
	`, clanID.String, offer.ID)
	if err != nil {
		return err
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		return errUpgradeOwned
	}

	if _, err := tx.Exec(`
		UPDATE clans
		SET treasury_gold = treasury_gold - $2
		WHERE clan_id = $1
	`, clanID.String, offer.PriceGold); err != nil {
		return err
	}

	return tx.Commit()
}

type ClanView struct {
	ClanID    string    `json:"clanId"`
	Name      string    `json:"name"`
	LeaderID  string    `json:"leaderId"`
	Treasury  int64     `json:"treasuryGold"`
	Upgrades  []string  `json:"upgrades"`
	CreatedAt time.Time `json:"createdAt"`
}

func LoadClan(db *sql.DB, clanID string) (*ClanView, error) {
	var clan ClanView
	err := db.QueryRow(`
		SELECT clan_id, name, leader_id, treasury_gold, created_at
		FROM clans
		WHERE clan_id = $1
	`, clanID).Scan(&clan.ClanID, &clan.Name, &clan.LeaderID, &clan.Treasury, &clan.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT upgrade_id
		FROM clan_upgrades
		WHERE clan_id = $1
		ORDER BY purchased_at
	`, clanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clan.Upgrades = []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		clan.Upgrades = append(clan.Upgrades, id)
	}
	return &clan, rows.Err()
}
