package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/inspecta/internal/types"
)

// CacheTemplate stores a fetched template so it stays available offline.
func (s *SQLiteStore) CacheTemplate(ctx context.Context, tmpl *types.Template) error {
	if tmpl == nil || tmpl.ID <= 0 {
		return fmt.Errorf("cache template: invalid template")
	}
	data, err := json.Marshal(tmpl)
	if err != nil {
		return fmt.Errorf("marshal template: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checklist_templates (id, service_id, payload, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			service_id = COALESCE(excluded.service_id, checklist_templates.service_id),
			payload = excluded.payload,
			fetched_at = excluded.fetched_at
	`, tmpl.ID, nullInt64(tmpl.ServiceID), string(data), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("cache template %d: %w", tmpl.ID, err)
	}
	return nil
}

// GetTemplate returns a cached template by id.
func (s *SQLiteStore) GetTemplate(ctx context.Context, id int64) (*types.Template, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM checklist_templates WHERE id = ?`, id)
	return scanTemplate(row)
}

// GetTemplateByService returns the most recently fetched template bound to a service.
func (s *SQLiteStore) GetTemplateByService(ctx context.Context, serviceID int64) (*types.Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payload FROM checklist_templates
		WHERE service_id = ?
		ORDER BY fetched_at DESC
		LIMIT 1
	`, serviceID)
	return scanTemplate(row)
}

func scanTemplate(row *sql.Row) (*types.Template, error) {
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan template: %w", err)
	}
	var tmpl types.Template
	if err := json.Unmarshal([]byte(payload), &tmpl); err != nil {
		return nil, fmt.Errorf("parse template JSON: %w", err)
	}
	return &tmpl, nil
}
