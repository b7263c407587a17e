// Package kbstore keeps named knowledge-base snapshots in a local SQLite
// file, for offline use and for moving knowledge bases between hosts.
package kbstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/symptom-expert-server/internal/domain"
	"github.com/symptom-expert-server/internal/knowledge"
)

// ExportVersion is written into every export document.
const ExportVersion = "1.0"

// Export is the document produced by ExportJSON and consumed by ImportJSON.
type Export struct {
	Version    string           `json:"version"`
	ExportedAt time.Time        `json:"exported_at"`
	Count      int              `json:"count"`
	Snapshots  []ExportSnapshot `json:"snapshots"`
}

// ExportSnapshot is one named knowledge base inside an Export.
type ExportSnapshot struct {
	Name          string                   `json:"name"`
	KnowledgeBase domain.KnowledgeBaseData `json:"knowledge_base"`
}

// SQLiteStore implements domain.KnowledgeBaseStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	loader *knowledge.Loader
	log    *logrus.Logger
}

// NewSQLiteStore opens or creates the snapshot database at dbPath.
func NewSQLiteStore(dbPath string, loader *knowledge.Loader, logger *logrus.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	store, err := NewSQLiteStoreFromDB(db, loader, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	logger.WithField("path", dbPath).Debug("Snapshot store opened")
	return store, nil
}

// NewSQLiteStoreFromDB wraps an open database and creates the schema.
func NewSQLiteStoreFromDB(db *sql.DB, loader *knowledge.Loader, logger *logrus.Logger) (*SQLiteStore, error) {
	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{
		db:     db,
		loader: loader,
		log:    logger,
	}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS snapshots (
		name TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		rule_count INTEGER NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_updated_at ON snapshots(updated_at);
	`)
	return err
}

// Save stores kb under name, replacing any previous snapshot of that name.
func (s *SQLiteStore) Save(ctx context.Context, name string, kb *domain.KnowledgeBase) error {
	if name == "" {
		return domain.NewValidationError("name", "snapshot name is required", name)
	}

	content, err := json.Marshal(kb.Data())
	if err != nil {
		return fmt.Errorf("failed to marshal knowledge base: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (name, fingerprint, rule_count, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			rule_count = excluded.rule_count,
			content = excluded.content,
			updated_at = excluded.updated_at
	`, name, kb.Fingerprint(), len(kb.Rules()), string(content), now, now)
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", name, err)
	}

	s.log.WithFields(logrus.Fields{
		"name":        name,
		"rules":       len(kb.Rules()),
		"fingerprint": kb.Fingerprint(),
	}).Info("Knowledge base snapshot saved")
	return nil
}

// Load parses the snapshot called name. Missing snapshots wrap
// domain.ErrNotFound.
func (s *SQLiteStore) Load(ctx context.Context, name string) (*domain.KnowledgeBase, error) {
	var content string
	err := s.db.QueryRowContext(ctx, "SELECT content FROM snapshots WHERE name = ?", name).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %s: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}

	return s.loader.Parse([]byte(content), knowledge.FormatJSON, "sqlite:"+name)
}

// List returns every snapshot, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]domain.SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, fingerprint, rule_count, updated_at
		FROM snapshots
		ORDER BY updated_at DESC, name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	result := []domain.SnapshotInfo{}
	for rows.Next() {
		var info domain.SnapshotInfo
		if err := rows.Scan(&info.Name, &info.Fingerprint, &info.Rules, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, info)
	}
	return result, rows.Err()
}

// Delete removes a snapshot.
func (s *SQLiteStore) Delete(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("snapshot %s: %w", name, domain.ErrNotFound)
	}
	return nil
}

// ExportJSON writes every snapshot to writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	rows, err := s.db.QueryContext(ctx, "SELECT name, content FROM snapshots ORDER BY name")
	if err != nil {
		return fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	export := &Export{
		Version:    ExportVersion,
		ExportedAt: time.Now().UTC(),
		Snapshots:  []ExportSnapshot{},
	}
	for rows.Next() {
		var snap ExportSnapshot
		var content string
		if err := rows.Scan(&snap.Name, &content); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(content), &snap.KnowledgeBase); err != nil {
			return fmt.Errorf("failed to decode snapshot %s: %w", snap.Name, err)
		}
		export.Snapshots = append(export.Snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	export.Count = len(export.Snapshots)

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// ImportJSON loads snapshots from an export document. Each snapshot is
// validated like a knowledge-base file; names already present are skipped.
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	var export Export
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, snap := range export.Snapshots {
		exists, err := s.exists(ctx, snap.Name)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}
		if exists {
			skipped++
			continue
		}

		raw, err := json.Marshal(snap.KnowledgeBase)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to encode snapshot %s: %w", snap.Name, err)
		}
		kb, err := s.loader.Parse(raw, knowledge.FormatJSON, "import:"+snap.Name)
		if err != nil {
			return imported, skipped, err
		}

		if err := s.Save(ctx, snap.Name, kb); err != nil {
			return imported, skipped, err
		}
		imported++
	}

	return imported, skipped, nil
}

// ImportFile stores the knowledge-base file at path under name.
func (s *SQLiteStore) ImportFile(ctx context.Context, name, path string) (*domain.KnowledgeBase, error) {
	kb, err := s.loader.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := s.Save(ctx, name, kb); err != nil {
		return nil, err
	}
	return kb, nil
}

// ExportFile writes the snapshot name to w in the given format.
func (s *SQLiteStore) ExportFile(ctx context.Context, name string, w io.Writer, format knowledge.Format) error {
	kb, err := s.Load(ctx, name)
	if err != nil {
		return err
	}
	return knowledge.Encode(w, kb, format)
}

func (s *SQLiteStore) exists(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM snapshots WHERE name = ?", name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
