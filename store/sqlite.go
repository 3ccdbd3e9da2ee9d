package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/scarecr0w12/ctrl-alt-play-panel-sub001/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			node_id TEXT PRIMARY KEY,
			secret TEXT NOT NULL,
			capabilities TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_seen_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_last_seen ON nodes(last_seen_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// CreateNode inserts a node identity.
func (s *SQLiteStore) CreateNode(ctx context.Context, node *domain.Node) error {
	caps, err := json.Marshal(node.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO nodes (node_id, secret, capabilities, created_at) VALUES (?, ?, ?, ?)`,
		node.NodeID, node.Secret, string(caps), node.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert node: %w", err)
	}
	return nil
}

// GetNode returns the node identity, or domain.ErrNotFound.
func (s *SQLiteStore) GetNode(ctx context.Context, nodeID string) (*domain.Node, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT node_id, secret, capabilities, created_at, last_seen_at FROM nodes WHERE node_id = ?`,
		nodeID,
	)

	var node domain.Node
	var caps sql.NullString
	var lastSeen sql.NullTime
	err := row.Scan(&node.NodeID, &node.Secret, &caps, &node.CreatedAt, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %s: %w", nodeID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query node: %w", err)
	}
	if caps.Valid && caps.String != "" {
		if err := json.Unmarshal([]byte(caps.String), &node.Capabilities); err != nil {
			return nil, fmt.Errorf("unmarshal capabilities: %w", err)
		}
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		node.LastSeenAt = &t
	}
	return &node, nil
}

// ListNodes returns all node identities.
func (s *SQLiteStore) ListNodes(ctx context.Context) ([]domain.Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, secret, capabilities, created_at, last_seen_at FROM nodes ORDER BY node_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []domain.Node
	for rows.Next() {
		var node domain.Node
		var caps sql.NullString
		var lastSeen sql.NullTime
		if err := rows.Scan(&node.NodeID, &node.Secret, &caps, &node.CreatedAt, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		if caps.Valid && caps.String != "" {
			if err := json.Unmarshal([]byte(caps.String), &node.Capabilities); err != nil {
				return nil, fmt.Errorf("unmarshal capabilities: %w", err)
			}
		}
		if lastSeen.Valid {
			t := lastSeen.Time
			node.LastSeenAt = &t
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

// DeleteNode removes a node identity.
func (s *SQLiteStore) DeleteNode(ctx context.Context, nodeID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM nodes WHERE node_id = ?`, nodeID)
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("node %s: %w", nodeID, domain.ErrNotFound)
	}
	return nil
}

// TouchNode records the last successful registration time.
func (s *SQLiteStore) TouchNode(ctx context.Context, nodeID string, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE nodes SET last_seen_at = ? WHERE node_id = ?`,
		seenAt, nodeID,
	)
	if err != nil {
		return fmt.Errorf("touch node: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
