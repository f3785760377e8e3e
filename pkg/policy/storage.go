// SPDX-License-Identifier: GPL-2.0 OR BSD-3-Clause
package policy

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

// Storage defines the interface for policy persistence
type Storage interface {
	// SaveRule inserts or replaces a rule
	SaveRule(r *Rule) error

	// DeleteRule removes a rule by id
	DeleteRule(ruleID uint32) error

	// LoadRules returns all stored rules ordered by id
	LoadRules() ([]Rule, error)

	SaveCommand(name string) error
	DeleteCommand(name string) error
	LoadCommands() ([]string, error)

	// SaveConfig replaces the configuration record
	SaveConfig(c Config) error

	// LoadConfig returns the stored record and whether one exists
	LoadConfig() (Config, bool, error)

	ClearConfig() error

	// Close closes the storage connection
	Close() error
}

// SQLiteStorage implements Storage using SQLite database
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	storage := &SQLiteStorage{db: db}

	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Infof("Policy storage initialized: %s", dbPath)
	return storage, nil
}

// initSchema creates the tables if they don't exist
func (s *SQLiteStorage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rules (
		rule_id INTEGER PRIMARY KEY,
		cidr TEXT NOT NULL,
		action TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_rules_action ON rules(action);

	CREATE TABLE IF NOT EXISTS commands (
		name TEXT PRIMARY KEY,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 0),
		mode INTEGER NOT NULL,
		target INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveRule saves a rule to the database
func (s *SQLiteStorage) SaveRule(r *Rule) error {
	query := `
	INSERT INTO rules (rule_id, cidr, action, description)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(rule_id) DO UPDATE SET
		cidr = excluded.cidr,
		action = excluded.action,
		description = excluded.description,
		updated_at = CURRENT_TIMESTAMP
	`

	if _, err := s.db.Exec(query, r.RuleID, r.CIDR, r.Action, r.Description); err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}

	log.Debugf("Rule saved to storage: rule_id=%d", r.RuleID)
	return nil
}

// DeleteRule removes a rule from the database
func (s *SQLiteStorage) DeleteRule(ruleID uint32) error {
	result, err := s.db.Exec(`DELETE FROM rules WHERE rule_id = ?`, ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: rule_id=%d", ErrRuleNotFound, ruleID)
	}

	log.Debugf("Rule deleted from storage: rule_id=%d", ruleID)
	return nil
}

// LoadRules loads all rules from the database
func (s *SQLiteStorage) LoadRules() ([]Rule, error) {
	rows, err := s.db.Query(`SELECT rule_id, cidr, action, description FROM rules ORDER BY rule_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.RuleID, &r.CIDR, &r.Action, &r.Description); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	log.Infof("Loaded %d rules from storage", len(rules))
	return rules, nil
}

func (s *SQLiteStorage) SaveCommand(name string) error {
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO commands (name) VALUES (?)`, name); err != nil {
		return fmt.Errorf("failed to save command: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) DeleteCommand(name string) error {
	if _, err := s.db.Exec(`DELETE FROM commands WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete command: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) LoadCommands() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM commands ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating commands: %w", err)
	}
	return names, nil
}

// SaveConfig upserts the singleton settings row
func (s *SQLiteStorage) SaveConfig(c Config) error {
	query := `
	INSERT INTO settings (id, mode, target) VALUES (0, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		mode = excluded.mode,
		target = excluded.target,
		updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.Exec(query, uint32(c.Mode), uint32(c.Target)); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) LoadConfig() (Config, bool, error) {
	var mode, target uint32
	err := s.db.QueryRow(`SELECT mode, target FROM settings WHERE id = 0`).Scan(&mode, &target)
	if errors.Is(err, sql.ErrNoRows) {
		return Config{}, false, nil
	}
	if err != nil {
		return Config{}, false, fmt.Errorf("failed to load config: %w", err)
	}
	return Config{Mode: Mode(mode), Target: Target(target)}, true, nil
}

func (s *SQLiteStorage) ClearConfig() error {
	if _, err := s.db.Exec(`DELETE FROM settings`); err != nil {
		return fmt.Errorf("failed to clear config: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// GetRuleCount returns the total number of rules in storage
func (s *SQLiteStorage) GetRuleCount() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM rules`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get rule count: %w", err)
	}
	return count, nil
}

// ClearAll removes every row (useful for testing)
func (s *SQLiteStorage) ClearAll() error {
	if _, err := s.db.Exec(`DELETE FROM rules; DELETE FROM commands; DELETE FROM settings;`); err != nil {
		return fmt.Errorf("failed to clear storage: %w", err)
	}
	log.Info("Policy storage cleared")
	return nil
}
