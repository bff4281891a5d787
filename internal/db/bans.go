package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Ban is one ban list entry. A player is banned when either the name or the
// address matches.
type Ban struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// BanStore persists the ban list.
type BanStore struct {
	db *Database
}

// NewBanStore creates a ban store on top of an open database.
func NewBanStore(database *Database) *BanStore {
	return &BanStore{db: database}
}

// Find returns the ban matching name or ip, if any.
func (b *BanStore) Find(name, ip string) (*Ban, bool, error) {
	ban := &Ban{}
	err := b.db.QueryRow(`
		SELECT id, name, ip, reason, created_at FROM bans
		WHERE name = ? OR (ip != '' AND ip = ?)
		ORDER BY id LIMIT 1
	`, name, ip).Scan(&ban.ID, &ban.Name, &ban.IP, &ban.Reason, &ban.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ban lookup failed: %w", err)
	}
	return ban, true, nil
}

// Add bans name and ip. It returns false if name is already banned.
func (b *BanStore) Add(name, ip, reason string) (bool, error) {
	added := false
	err := b.db.Transaction(func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRow("SELECT COUNT(*) FROM bans WHERE name = ?", name).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		if _, err := tx.Exec(
			"INSERT INTO bans (name, ip, reason) VALUES (?, ?, ?)", name, ip, reason); err != nil {
			return err
		}
		added = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to ban %s: %w", name, err)
	}
	if added {
		log.Info().Str("player", name).Str("ip", ip).Str("reason", reason).Msg("player banned")
	}
	return added, nil
}

// Remove lifts every ban on name. It returns false if there was none.
func (b *BanStore) Remove(name string) (bool, error) {
	res, err := b.db.Exec("DELETE FROM bans WHERE name = ?", name)
	if err != nil {
		return false, fmt.Errorf("failed to pardon %s: %w", name, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Info().Str("player", name).Msg("player pardoned")
	}
	return n > 0, nil
}

// List returns all bans, oldest first.
func (b *BanStore) List() ([]Ban, error) {
	rows, err := b.db.Query("SELECT id, name, ip, reason, created_at FROM bans ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bans []Ban
	for rows.Next() {
		var ban Ban
		if err := rows.Scan(&ban.ID, &ban.Name, &ban.IP, &ban.Reason, &ban.CreatedAt); err != nil {
			continue
		}
		bans = append(bans, ban)
	}
	return bans, rows.Err()
}
