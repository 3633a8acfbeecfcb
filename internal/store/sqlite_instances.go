package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperengineering/inspecta/internal/types"
	"github.com/oklog/ulid/v2"
)

const upsertInstanceSQL = `
	INSERT INTO checklist_instances (
		local_id, remote_id, order_id, template_id, state, progress_percent, pending_sync,
		technician_signature, client_signature, started_at, completed_at, total_minutes, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(local_id) DO UPDATE SET
		remote_id = excluded.remote_id,
		template_id = excluded.template_id,
		state = excluded.state,
		progress_percent = excluded.progress_percent,
		pending_sync = excluded.pending_sync,
		technician_signature = excluded.technician_signature,
		client_signature = excluded.client_signature,
		started_at = excluded.started_at,
		completed_at = excluded.completed_at,
		total_minutes = excluded.total_minutes,
		updated_at = excluded.updated_at`

const upsertResponseSQL = `
	INSERT INTO checklist_responses (
		instance_key, item_template_id, remote_id, completed,
		text_answer, number_answer, boolean_answer, selection_answer,
		photos, answered_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(instance_key, item_template_id) DO UPDATE SET
		remote_id = COALESCE(excluded.remote_id, checklist_responses.remote_id),
		completed = excluded.completed,
		text_answer = excluded.text_answer,
		number_answer = excluded.number_answer,
		boolean_answer = excluded.boolean_answer,
		selection_answer = excluded.selection_answer,
		photos = excluded.photos,
		answered_at = excluded.answered_at,
		updated_at = excluded.updated_at`

const selectInstanceSQL = `
	SELECT local_id, remote_id, order_id, template_id, state, progress_percent, pending_sync,
	       technician_signature, client_signature, started_at, completed_at, total_minutes
	FROM checklist_instances`

const selectResponseSQL = `
	SELECT item_template_id, remote_id, completed, text_answer, number_answer,
	       boolean_answer, selection_answer, photos, answered_at
	FROM checklist_responses`

// SaveInstance upserts the instance row and every response it carries in one
// transaction. An empty LocalID is assigned a new ULID before writing.
func (s *SQLiteStore) SaveInstance(ctx context.Context, inst *types.Instance) error {
	if inst.LocalID == "" {
		inst.LocalID = ulid.Make().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	var totalMinutes sql.NullInt64
	if inst.TotalMinutes != nil {
		totalMinutes = sql.NullInt64{Int64: int64(*inst.TotalMinutes), Valid: true}
	}

	_, err = tx.ExecContext(ctx, upsertInstanceSQL,
		inst.LocalID,
		nullInt64(inst.ID),
		inst.OrderID,
		inst.TemplateID(),
		string(inst.State),
		inst.ProgressPercent,
		inst.PendingSync,
		nullString(inst.TechnicianSignature),
		nullString(inst.ClientSignature),
		nullTime(inst.StartedAt),
		nullTime(inst.CompletedAt),
		totalMinutes,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("save instance for order %d: %w", inst.OrderID, ErrDuplicateOrder)
		}
		return fmt.Errorf("save instance: %w", err)
	}

	for _, resp := range inst.Responses {
		args, err := responseArgs(inst.LocalID, resp, now)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, upsertResponseSQL, args...); err != nil {
			return fmt.Errorf("save response %d: %w", resp.ItemTemplateID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetInstance loads an instance and its responses by local key.
func (s *SQLiteStore) GetInstance(ctx context.Context, localID string) (*types.Instance, error) {
	row := s.db.QueryRowContext(ctx, selectInstanceSQL+" WHERE local_id = ?", localID)
	return s.loadInstance(ctx, row)
}

// GetInstanceByOrder loads the single instance bound to an order.
func (s *SQLiteStore) GetInstanceByOrder(ctx context.Context, orderID int64) (*types.Instance, error) {
	row := s.db.QueryRowContext(ctx, selectInstanceSQL+" WHERE order_id = ?", orderID)
	return s.loadInstance(ctx, row)
}

func (s *SQLiteStore) loadInstance(ctx context.Context, row *sql.Row) (*types.Instance, error) {
	inst, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan instance: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, selectResponseSQL+" WHERE instance_key = ? ORDER BY item_template_id ASC", inst.LocalID)
	if err != nil {
		return nil, fmt.Errorf("query responses: %w", err)
	}
	defer rows.Close()

	inst.Responses = make([]types.ItemResponse, 0)
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		inst.Responses = append(inst.Responses, *resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate responses: %w", err)
	}
	return inst, nil
}

// SaveResponse upserts a single response. The response replaces any
// previous response for the same item. A zero remote id never clears a
// recorded one.
func (s *SQLiteStore) SaveResponse(ctx context.Context, instanceKey string, resp types.ItemResponse) error {
	if instanceKey == "" {
		return ErrMissingLocalKey
	}
	args, err := responseArgs(instanceKey, resp, formatTime(time.Now()))
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertResponseSQL, args...); err != nil {
		return fmt.Errorf("save response %d: %w", resp.ItemTemplateID, err)
	}
	return nil
}

// GetResponse loads the response for one item.
func (s *SQLiteStore) GetResponse(ctx context.Context, instanceKey string, itemID int64) (*types.ItemResponse, error) {
	row := s.db.QueryRowContext(ctx, selectResponseSQL+" WHERE instance_key = ? AND item_template_id = ?", instanceKey, itemID)
	resp, err := scanResponse(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return resp, nil
}

// DeleteResponse removes the response for one item.
func (s *SQLiteStore) DeleteResponse(ctx context.Context, instanceKey string, itemID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checklist_responses WHERE instance_key = ? AND item_template_id = ?`, instanceKey, itemID)
	if err != nil {
		return fmt.Errorf("delete response %d: %w", itemID, err)
	}
	return nil
}

// SetResponseRemoteID records the id the remote API assigned to a response
// without touching the locally captured answer.
func (s *SQLiteStore) SetResponseRemoteID(ctx context.Context, instanceKey string, itemID, remoteID int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE checklist_responses SET remote_id = ?, updated_at = ?
		WHERE instance_key = ? AND item_template_id = ?
	`, remoteID, formatTime(time.Now()), instanceKey, itemID)
	if err != nil {
		return fmt.Errorf("set response remote id: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePhoto replaces the photo with the same Order within a response.
func (s *SQLiteStore) UpdatePhoto(ctx context.Context, instanceKey string, itemID int64, photo types.Photo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var photosJSON string
	err = tx.QueryRowContext(ctx, `
		SELECT photos FROM checklist_responses WHERE instance_key = ? AND item_template_id = ?
	`, instanceKey, itemID).Scan(&photosJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read photos: %w", err)
	}

	var photos []types.Photo
	if err := json.Unmarshal([]byte(photosJSON), &photos); err != nil {
		return fmt.Errorf("parse photos JSON: %w", err)
	}
	replaced := false
	for i := range photos {
		if photos[i].Order == photo.Order {
			photos[i] = photo
			replaced = true
			break
		}
	}
	if !replaced {
		return ErrNotFound
	}

	data, err := json.Marshal(photos)
	if err != nil {
		return fmt.Errorf("marshal photos: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE checklist_responses SET photos = ?, updated_at = ?
		WHERE instance_key = ? AND item_template_id = ?
	`, string(data), formatTime(time.Now()), instanceKey, itemID); err != nil {
		return fmt.Errorf("write photos: %w", err)
	}
	return tx.Commit()
}

func responseArgs(instanceKey string, resp types.ItemResponse, now string) ([]any, error) {
	photos := resp.Photos
	if photos == nil {
		photos = []types.Photo{}
	}
	photosJSON, err := json.Marshal(photos)
	if err != nil {
		return nil, fmt.Errorf("marshal photos: %w", err)
	}

	var text, selection sql.NullString
	var number sql.NullFloat64
	var boolean sql.NullBool
	if resp.Text != nil {
		text = sql.NullString{String: *resp.Text, Valid: true}
	}
	if resp.Selection != nil {
		selection = sql.NullString{String: *resp.Selection, Valid: true}
	}
	if resp.Number != nil {
		number = sql.NullFloat64{Float64: *resp.Number, Valid: true}
	}
	if resp.Boolean != nil {
		boolean = sql.NullBool{Bool: *resp.Boolean, Valid: true}
	}

	return []any{
		instanceKey,
		resp.ItemTemplateID,
		nullInt64(resp.ID),
		resp.Completed,
		text,
		number,
		boolean,
		selection,
		string(photosJSON),
		nullTime(resp.AnsweredAt),
		now,
	}, nil
}

func scanInstance(scanner interface{ Scan(...any) error }) (*types.Instance, error) {
	var inst types.Instance
	var remoteID, totalMinutes sql.NullInt64
	var templateID int64
	var state string
	var techSig, clientSig, startedAt, completedAt sql.NullString

	err := scanner.Scan(
		&inst.LocalID,
		&remoteID,
		&inst.OrderID,
		&templateID,
		&state,
		&inst.ProgressPercent,
		&inst.PendingSync,
		&techSig,
		&clientSig,
		&startedAt,
		&completedAt,
		&totalMinutes,
	)
	if err != nil {
		return nil, err
	}

	inst.ID = remoteID.Int64
	inst.Template = types.RefByID(templateID)
	inst.State = types.State(state)
	inst.TechnicianSignature = techSig.String
	inst.ClientSignature = clientSig.String
	inst.StartedAt = parseNullTime(startedAt)
	inst.CompletedAt = parseNullTime(completedAt)
	if totalMinutes.Valid {
		m := int(totalMinutes.Int64)
		inst.TotalMinutes = &m
	}
	return &inst, nil
}

func scanResponse(scanner interface{ Scan(...any) error }) (*types.ItemResponse, error) {
	var resp types.ItemResponse
	var remoteID sql.NullInt64
	var text, selection, answeredAt sql.NullString
	var number sql.NullFloat64
	var boolean sql.NullBool
	var photosJSON string

	err := scanner.Scan(
		&resp.ItemTemplateID,
		&remoteID,
		&resp.Completed,
		&text,
		&number,
		&boolean,
		&selection,
		&photosJSON,
		&answeredAt,
	)
	if err != nil {
		return nil, err
	}

	resp.ID = remoteID.Int64
	if text.Valid {
		resp.Text = &text.String
	}
	if selection.Valid {
		resp.Selection = &selection.String
	}
	if number.Valid {
		resp.Number = &number.Float64
	}
	if boolean.Valid {
		resp.Boolean = &boolean.Bool
	}
	resp.AnsweredAt = parseNullTime(answeredAt)

	if photosJSON != "" {
		if err := json.Unmarshal([]byte(photosJSON), &resp.Photos); err != nil {
			return nil, fmt.Errorf("parse photos JSON: %w", err)
		}
	}
	if resp.Photos == nil {
		resp.Photos = []types.Photo{}
	}
	return &resp, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
