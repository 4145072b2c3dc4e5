// Package storage persists the replication runtime's durable records: the
// last election vote, the last applied op-time, and accepted replica-set
// configuration documents. The topology coordinator itself is pure
// in-memory state; this package is what survives a restart.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"quorumd.io/server/models"
)

// Store wraps the SQLite database holding replication state.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore creates a store on an open database handle.
//
// Parameters:
//   - db: Database connection
//   - logger: Zap logger
//
// Returns:
//   - Configured Store
func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Migrate creates the schema when absent.
func (s *Store) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS repl_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_vote_whoid INTEGER,
		last_vote_at INTEGER,
		applied_secs INTEGER NOT NULL DEFAULT 0,
		applied_counter INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS replset_configs (
		version INTEGER PRIMARY KEY,
		document TEXT NOT NULL,
		accepted_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	_, err := s.db.Exec(`
		INSERT INTO repl_state (id, updated_at)
		VALUES (1, ?)
		ON CONFLICT (id) DO NOTHING
	`, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to seed state row: %w", err)
	}
	return nil
}

// SaveLastVote records the most recent yea vote.
//
// Parameters:
//   - whoID: The candidate's member id
//   - when: When the vote was cast
//
// Returns:
//   - Error if the update fails
func (s *Store) SaveLastVote(whoID int32, when time.Time) error {
	_, err := s.db.Exec(`
		UPDATE repl_state
		SET last_vote_whoid = ?, last_vote_at = ?, updated_at = ?
		WHERE id = 1
	`, whoID, when.UnixMilli(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save last vote: %w", err)
	}
	s.logger.Debug("persisted last vote", zap.Int32("whoid", whoID))
	return nil
}

// LastVote returns the most recent recorded vote, if any.
//
// Returns:
//   - Candidate member id and vote time
//   - false when no vote has ever been recorded
//   - Error if the query fails
func (s *Store) LastVote() (int32, time.Time, bool, error) {
	var whoID sql.NullInt32
	var at sql.NullInt64
	err := s.db.QueryRow(`
		SELECT last_vote_whoid, last_vote_at FROM repl_state WHERE id = 1
	`).Scan(&whoID, &at)
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("failed to read last vote: %w", err)
	}
	if !whoID.Valid || !at.Valid {
		return 0, time.Time{}, false, nil
	}
	return whoID.Int32, time.UnixMilli(at.Int64), true, nil
}

// SaveAppliedOpTime records the runtime's last applied log position.
func (s *Store) SaveAppliedOpTime(opTime models.OpTime) error {
	_, err := s.db.Exec(`
		UPDATE repl_state
		SET applied_secs = ?, applied_counter = ?, updated_at = ?
		WHERE id = 1
	`, opTime.Secs, opTime.Counter, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save applied optime: %w", err)
	}
	return nil
}

// AppliedOpTime returns the last recorded applied log position.
func (s *Store) AppliedOpTime() (models.OpTime, error) {
	var opTime models.OpTime
	err := s.db.QueryRow(`
		SELECT applied_secs, applied_counter FROM repl_state WHERE id = 1
	`).Scan(&opTime.Secs, &opTime.Counter)
	if err != nil {
		return models.OpTime{}, fmt.Errorf("failed to read applied optime: %w", err)
	}
	return opTime, nil
}

// SaveConfig persists an accepted configuration document.
//
// Parameters:
//   - cfg: The validated configuration to persist
//
// Returns:
//   - Error if serialization or the insert fails
func (s *Store) SaveConfig(cfg *models.ReplicaSetConfig) error {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO replset_configs (version, document, accepted_at)
		VALUES (?, ?, ?)
		ON CONFLICT (version) DO UPDATE SET document = excluded.document
	`, cfg.Version, string(doc), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	s.logger.Info("persisted replica set config",
		zap.String("set", cfg.Name),
		zap.Int64("version", cfg.Version),
	)
	return nil
}

// CurrentConfig returns the highest-version persisted configuration.
//
// Returns:
//   - The configuration document
//   - false when no configuration has been accepted yet
//   - Error if the query or deserialization fails
func (s *Store) CurrentConfig() (*models.ReplicaSetConfig, bool, error) {
	var doc string
	err := s.db.QueryRow(`
		SELECT document FROM replset_configs ORDER BY version DESC LIMIT 1
	`).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg models.ReplicaSetConfig
	if err := json.Unmarshal([]byte(doc), &cfg); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, true, nil
}
