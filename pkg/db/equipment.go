/*
 * Copyright 2025 AudioRack Live.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package db

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/audiorack/gearsync/pkg/models"
)

const equipmentColumns = `id, name, category, status, condition, location, notes,
	serial_number, barcode, vendor, model, purchase_date, warranty_expiry,
	purchase_price, maintenance_date, priority, is_reserved, reserved_by,
	reserved_until, last_checked, checked_by, checked_by_name, team_id,
	is_active, created_at, updated_at`

var equipmentColumnList = []string{
	"id", "name", "category", "status", "condition", "location", "notes",
	"serial_number", "barcode", "vendor", "model", "purchase_date",
	"warranty_expiry", "purchase_price", "maintenance_date", "priority",
	"is_reserved", "reserved_by", "reserved_until", "last_checked",
	"checked_by", "checked_by_name", "team_id", "is_active", "created_at",
	"updated_at",
}

// psql builds queries with $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func scanEquipment(row pgx.Row) (*models.Equipment, error) {
	var eq models.Equipment

	err := row.Scan(
		&eq.ID, &eq.Name, &eq.Category, &eq.Status, &eq.Condition,
		&eq.Location, &eq.Notes, &eq.SerialNumber, &eq.Barcode, &eq.Vendor,
		&eq.Model, &eq.PurchaseDate, &eq.WarrantyExpiry, &eq.PurchasePrice,
		&eq.MaintenanceDate, &eq.Priority, &eq.IsReserved, &eq.ReservedBy,
		&eq.ReservedUntil, &eq.LastChecked, &eq.CheckedBy, &eq.CheckedByName,
		&eq.TeamID, &eq.IsActive, &eq.CreatedAt, &eq.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &eq, nil
}

// CreateEquipment inserts a new active record. The creator becomes the
// initial checker.
func (s *Store) CreateEquipment(ctx context.Context, req *models.CreateEquipmentRequest, actor models.Actor, teamID string) (*models.Equipment, error) {
	now := time.Now().UTC()

	condition := models.ConditionGood
	if req.Condition != nil {
		condition = *req.Condition
	}

	priority := models.PriorityMedium
	if req.Priority != nil {
		priority = *req.Priority
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO equipment (
			id, name, category, status, condition, location, notes,
			serial_number, barcode, vendor, model, priority,
			last_checked, checked_by, checked_by_name, team_id,
			is_active, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, TRUE, $17, $17)
		RETURNING `+equipmentColumns,
		uuid.New(), req.Name, req.Category, models.StatusPending, condition,
		req.Location, req.Notes, req.SerialNumber, req.Barcode, req.Vendor,
		req.Model, priority, now, actor.ID, actor.Name, teamID, now,
	)

	eq, err := scanEquipment(row)
	if err != nil {
		return nil, mapError(err)
	}

	return eq, nil
}

// buildUpdate produces the dynamic UPDATE for a patch. A status change stamps
// last_checked/checked_by/checked_by_name in the same statement so status and
// audit fields are never observably inconsistent.
func buildUpdate(id uuid.UUID, patch *models.EquipmentPatch, actor models.Actor, now time.Time) (string, []any, error) {
	b := psql.Update("equipment").Set("updated_at", now)

	if patch.Name != nil {
		b = b.Set("name", *patch.Name)
	}

	if patch.Category != nil {
		b = b.Set("category", *patch.Category)
	}

	if patch.Condition != nil {
		b = b.Set("condition", *patch.Condition)
	}

	if patch.Location != nil {
		b = b.Set("location", *patch.Location)
	}

	if patch.Notes != nil {
		b = b.Set("notes", *patch.Notes)
	}

	if patch.SerialNumber != nil {
		b = b.Set("serial_number", *patch.SerialNumber)
	}

	if patch.Barcode != nil {
		b = b.Set("barcode", *patch.Barcode)
	}

	if patch.Vendor != nil {
		b = b.Set("vendor", *patch.Vendor)
	}

	if patch.Model != nil {
		b = b.Set("model", *patch.Model)
	}

	if patch.Priority != nil {
		b = b.Set("priority", *patch.Priority)
	}

	if patch.MaintenanceDate != nil {
		b = b.Set("maintenance_date", *patch.MaintenanceDate)
	}

	if patch.Status != nil {
		b = b.Set("status", *patch.Status).
			Set("last_checked", now).
			Set("checked_by", actor.ID).
			Set("checked_by_name", actor.Name)
	}

	return b.Where(sq.Eq{"id": id, "is_active": true}).
		Suffix("RETURNING " + equipmentColumns).
		ToSql()
}

// UpdateEquipment applies a partial update to an active record and returns
// the post-commit snapshot.
func (s *Store) UpdateEquipment(ctx context.Context, id uuid.UUID, patch *models.EquipmentPatch, actor models.Actor) (*models.Equipment, error) {
	if patch.IsEmpty() {
		return s.GetEquipment(ctx, id)
	}

	query, args, err := buildUpdate(id, patch, actor, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("db: build update: %w", err)
	}

	eq, err := scanEquipment(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, mapError(err)
	}

	return eq, nil
}

// GetEquipment returns an active record by id.
func (s *Store) GetEquipment(ctx context.Context, id uuid.UUID) (*models.Equipment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+equipmentColumns+` FROM equipment WHERE id = $1 AND is_active`, id)

	eq, err := scanEquipment(row)
	if err != nil {
		return nil, mapError(err)
	}

	return eq, nil
}

// ListEquipment returns the team's active records, most recently updated
// first.
func (s *Store) ListEquipment(ctx context.Context, filter models.ListFilter) ([]*models.Equipment, error) {
	teamID := filter.TeamID
	if teamID == "" {
		teamID = models.DefaultTeam
	}

	b := psql.Select(equipmentColumnList...).
		From("equipment").
		Where(sq.Eq{"is_active": true, "team_id": teamID})

	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		b = b.Where(sq.Or{
			sq.ILike{"name": pattern},
			sq.ILike{"location": pattern},
			sq.ILike{"notes": pattern},
		})
	}

	if filter.Category != nil {
		b = b.Where(sq.Eq{"category": *filter.Category})
	}

	if filter.Status != nil {
		b = b.Where(sq.Eq{"status": *filter.Status})
	}

	if filter.Condition != nil {
		b = b.Where(sq.Eq{"condition": *filter.Condition})
	}

	query, args, err := b.OrderBy("updated_at DESC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("db: build list: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*models.Equipment

	for rows.Next() {
		eq, err := scanEquipment(rows)
		if err != nil {
			return nil, mapError(err)
		}

		out = append(out, eq)
	}

	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	return out, nil
}
