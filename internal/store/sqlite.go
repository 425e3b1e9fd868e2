package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"gametable/server/internal/rules"
)

// Schema for the game store. Users and titles are managed by the account
// and lobby services; players carries the display name directly so the
// session tier never joins against the user table.
const schema = `
CREATE TABLE IF NOT EXISTS games (
    game_id     INTEGER PRIMARY KEY AUTOINCREMENT,
    title_id    TEXT NOT NULL,
    scenario    TEXT NOT NULL,
    status      INTEGER NOT NULL DEFAULT 0,
    state       TEXT,
    active      TEXT,
    result      TEXT,
    chat        TEXT NOT NULL DEFAULT '[]',
    ctime       TEXT NOT NULL DEFAULT (datetime('now')),
    mtime       TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS players (
    game_id     INTEGER NOT NULL REFERENCES games(game_id) ON DELETE CASCADE,
    user_id     INTEGER NOT NULL,
    name        TEXT NOT NULL,
    role        TEXT NOT NULL,
    PRIMARY KEY (game_id, role)
);

CREATE INDEX IF NOT EXISTS idx_players_user ON players(user_id);
`

// SQLite is the durable Store backend.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLite) GetGame(ctx context.Context, gameID int64) (GameRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT game_id, title_id, scenario, status,
		       COALESCE(state, ''), COALESCE(active, ''), COALESCE(result, '')
		FROM games WHERE game_id = ?`, gameID)

	var rec GameRecord
	var status int
	var state string
	err := row.Scan(&rec.ID, &rec.TitleID, &rec.Scenario, &status, &state, &rec.Active, &rec.Result)
	if errors.Is(err, sql.ErrNoRows) {
		return GameRecord{}, ErrNotFound
	}
	if err != nil {
		return GameRecord{}, fmt.Errorf("select game %d: %w", gameID, err)
	}
	rec.Status = rules.Status(status)
	if state != "" {
		rec.State = []byte(state)
	}
	return rec, nil
}

func (s *SQLite) PutState(ctx context.Context, gameID int64, snap rules.Snapshot) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE games
		SET state = ?, active = ?, status = ?, result = ?, mtime = datetime('now')
		WHERE game_id = ?`,
		string(snap.State), snap.Active, int(snap.Status), nullable(snap.Result), gameID)
	if err != nil {
		return fmt.Errorf("update game %d state: %w", gameID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update game %d state: %w", gameID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) ListPlayers(ctx context.Context, gameID int64) ([]rules.Player, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, name, role FROM players WHERE game_id = ? ORDER BY role`, gameID)
	if err != nil {
		return nil, fmt.Errorf("select players for game %d: %w", gameID, err)
	}
	defer rows.Close()

	players := make([]rules.Player, 0, 4)
	for rows.Next() {
		var p rules.Player
		if err := rows.Scan(&p.UserID, &p.Name, &p.Role); err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate players: %w", err)
	}
	return players, nil
}

func (s *SQLite) GetChat(ctx context.Context, gameID int64) ([]ChatEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT chat FROM games WHERE game_id = ?`, gameID)
	var raw string
	err := row.Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select chat for game %d: %w", gameID, err)
	}
	if raw == "" {
		return []ChatEntry{}, nil
	}
	var entries []ChatEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode chat for game %d: %w", gameID, err)
	}
	if entries == nil {
		entries = []ChatEntry{}
	}
	return entries, nil
}

func (s *SQLite) PutChat(ctx context.Context, gameID int64, entries []ChatEntry) error {
	if entries == nil {
		entries = []ChatEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode chat for game %d: %w", gameID, err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE games SET chat = ? WHERE game_id = ?`, string(raw), gameID)
	if err != nil {
		return fmt.Errorf("update chat for game %d: %w", gameID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update chat for game %d: %w", gameID, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateGame provisions a new game row. The lobby service owns game
// creation in production; this exists for seeding and tests.
func (s *SQLite) CreateGame(ctx context.Context, titleID, scenario string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO games (title_id, scenario, status, chat) VALUES (?, ?, ?, '[]')`,
		titleID, scenario, int(rules.StatusOpen))
	if err != nil {
		return 0, fmt.Errorf("insert game: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert game id: %w", err)
	}
	return id, nil
}

// AssignRole records a role assignment. Role uniqueness per game is
// enforced by the primary key, matching the external join path's invariant.
func (s *SQLite) AssignRole(ctx context.Context, gameID int64, p rules.Player) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO players (game_id, user_id, name, role) VALUES (?, ?, ?, ?)`,
		gameID, p.UserID, p.Name, p.Role)
	if err != nil {
		return fmt.Errorf("assign role %s in game %d: %w", p.Role, gameID, err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
