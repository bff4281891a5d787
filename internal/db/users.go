package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cubeforge-project/cubeforge/internal/util"
	"github.com/cubeforge-project/cubeforge/internal/world"
)

// Ranks with special meaning.
const (
	RankDefault  = 0
	RankOperator = 100
)

// User is the stored record of a player.
type User struct {
	Name      string    `json:"name"`
	Rank      int       `json:"rank"`
	Password  string    `json:"-"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	LastLogin time.Time `json:"last_login"`
}

// HasPassword reports whether a password has been set.
func (u *User) HasPassword() bool { return u.Password != "" }

// UserStore persists player records. Passwords are stored encrypted with
// the server key.
type UserStore struct {
	db  *Database
	key *util.ServerKey
}

// NewUserStore creates a user store on top of an open database.
func NewUserStore(database *Database, key *util.ServerKey) *UserStore {
	return &UserStore{db: database, key: key}
}

// Load returns the user record for name, creating a default one on first
// login.
func (s *UserStore) Load(name string) (*User, error) {
	if _, err := s.db.Exec(
		"INSERT OR IGNORE INTO users (name, user_rank, model) VALUES (?, ?, ?)",
		name, RankDefault, world.DefaultModel); err != nil {
		return nil, fmt.Errorf("failed to create user %s: %w", name, err)
	}
	if _, err := s.db.Exec(
		"UPDATE users SET last_login = CURRENT_TIMESTAMP WHERE name = ?", name); err != nil {
		log.Warn().Err(err).Str("player", name).Msg("failed to record login time")
	}
	return s.Get(name)
}

// Get returns the user record for name without creating it.
func (s *UserStore) Get(name string) (*User, error) {
	u := &User{}
	err := s.db.QueryRow(
		"SELECT name, user_rank, password, model, created_at, last_login FROM users WHERE name = ?", name).
		Scan(&u.Name, &u.Rank, &u.Password, &u.Model, &u.CreatedAt, &u.LastLogin)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", name, err)
	}
	return u, nil
}

// Save writes the rank and model of u.
func (s *UserStore) Save(u *User) error {
	_, err := s.db.Exec(`
		INSERT INTO users (name, user_rank, password, model) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET user_rank = excluded.user_rank, model = excluded.model
	`, u.Name, u.Rank, u.Password, u.Model)
	if err != nil {
		return fmt.Errorf("failed to save user %s: %w", u.Name, err)
	}
	return nil
}

// SetRank updates the rank of a known user.
func (s *UserStore) SetRank(name string, rank int) error {
	res, err := s.db.Exec("UPDATE users SET user_rank = ? WHERE name = ?", rank, name)
	if err != nil {
		return fmt.Errorf("failed to set rank of %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", name, sql.ErrNoRows)
	}
	log.Info().Str("player", name).Int("rank", rank).Msg("rank updated")
	return nil
}

// SetPassword encrypts and stores a password.
func (s *UserStore) SetPassword(name, password string) error {
	enc, err := s.key.Encrypt(password)
	if err != nil {
		return fmt.Errorf("failed to encrypt password: %w", err)
	}
	if _, err := s.db.Exec("UPDATE users SET password = ? WHERE name = ?", enc, name); err != nil {
		return fmt.Errorf("failed to set password of %s: %w", name, err)
	}
	return nil
}

// CheckPassword compares password with the stored one. A password that can
// no longer be decrypted never matches.
func (s *UserStore) CheckPassword(name, password string) (bool, error) {
	u, err := s.Get(name)
	if err != nil {
		return false, err
	}
	if !u.HasPassword() {
		return false, nil
	}
	plain, err := s.key.Decrypt(u.Password)
	if err != nil {
		log.Error().Err(err).Str("player", name).Msg("error decrypting password, server key may have changed")
		return false, nil
	}
	return plain == password, nil
}

// LastPosition returns where name was when last leaving level.
func (s *UserStore) LastPosition(name, level string) (world.Position, bool, error) {
	var p world.Position
	err := s.db.QueryRow(
		"SELECT x, y, z, yaw, pitch FROM positions WHERE name = ? AND level = ?", name, level).
		Scan(&p.X, &p.Y, &p.Z, &p.Yaw, &p.Pitch)
	if errors.Is(err, sql.ErrNoRows) {
		return p, false, nil
	}
	if err != nil {
		return p, false, fmt.Errorf("failed to load position of %s: %w", name, err)
	}
	return p, true, nil
}

// SaveLastPosition records where name is in level.
func (s *UserStore) SaveLastPosition(name, level string, p world.Position) error {
	_, err := s.db.Exec(`
		INSERT INTO positions (name, level, x, y, z, yaw, pitch) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, level) DO UPDATE SET
			x = excluded.x, y = excluded.y, z = excluded.z,
			yaw = excluded.yaw, pitch = excluded.pitch
	`, name, level, p.X, p.Y, p.Z, p.Yaw, p.Pitch)
	if err != nil {
		return fmt.Errorf("failed to save position of %s: %w", name, err)
	}
	return nil
}

// ClearLastPosition forgets the remembered position of name in level.
func (s *UserStore) ClearLastPosition(name, level string) error {
	_, err := s.db.Exec("DELETE FROM positions WHERE name = ? AND level = ?", name, level)
	return err
}

// List returns all users ordered by name.
func (s *UserStore) List() ([]User, error) {
	rows, err := s.db.Query(
		"SELECT name, user_rank, password, model, created_at, last_login FROM users ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Name, &u.Rank, &u.Password, &u.Model, &u.CreatedAt, &u.LastLogin); err != nil {
			continue
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
