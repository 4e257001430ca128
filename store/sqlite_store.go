package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/knakano/receipt-ocr-engine/dto"
)

const schema = `
CREATE TABLE IF NOT EXISTS templates (
	household_id       TEXT NOT NULL,
	template_family_id TEXT NOT NULL,
	document_type      TEXT NOT NULL,
	payload            TEXT NOT NULL,
	updated_at         TEXT NOT NULL,
	PRIMARY KEY (household_id, template_family_id)
);
CREATE INDEX IF NOT EXISTS idx_templates_household
	ON templates (household_id, document_type);
`

// SQLiteStore keeps templates in a single SQLite database. Writes go
// through INSERT OR REPLACE inside the driver's serialized connection,
// which satisfies the per-household at-most-one-writer contract.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create template store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open template store: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create template schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) GetTemplates(ctx context.Context, householdID string, docType dto.DocumentType) ([]dto.Template, error) {
	query := `SELECT payload FROM templates WHERE household_id = ?`
	args := []any{householdID}
	if docType != "" {
		query += ` AND document_type = ?`
		args = append(args, string(docType))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var templates []dto.Template
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan template row: %w", err)
		}
		var tmpl dto.Template
		if err := json.Unmarshal([]byte(payload), &tmpl); err != nil {
			// Corrupt row: skip it, the document must still process.
			log.Printf("skipping corrupt template row for household %s: %v", householdID, err)
			continue
		}
		templates = append(templates, tmpl)
	}
	return templates, rows.Err()
}

func (s *SQLiteStore) GetTemplate(ctx context.Context, householdID, familyID string) (*dto.Template, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM templates WHERE household_id = ? AND template_family_id = ?`,
		householdID, familyID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dto.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}
	var tmpl dto.Template
	if err := json.Unmarshal([]byte(payload), &tmpl); err != nil {
		return nil, fmt.Errorf("%w: %v", dto.ErrTemplateCorruption, err)
	}
	return &tmpl, nil
}

func (s *SQLiteStore) PutTemplate(ctx context.Context, tmpl dto.Template) error {
	if err := ValidateTemplate(&tmpl); err != nil {
		return err
	}
	payload, err := json.Marshal(tmpl)
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO templates
			(household_id, template_family_id, document_type, payload, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		tmpl.HouseholdID, tmpl.TemplateFamilyID, string(tmpl.DocumentType), string(payload), tmpl.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to persist template: %w", err)
	}
	return nil
}
