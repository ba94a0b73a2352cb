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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/audiorack/gearsync/pkg/models"
)

const archivedColumns = `id, original_equipment_id, name, category, status,
	condition, location, notes, serial_number, barcode, vendor, model,
	purchase_date, warranty_expiry, purchase_price, maintenance_date, priority,
	last_checked, checked_by, checked_by_name, team_id, deleted_by,
	deleted_by_name, deletion_reason, deleted_at, original_created_at,
	original_updated_at`

func scanArchived(row pgx.Row) (*models.ArchivedEquipment, error) {
	var a models.ArchivedEquipment

	err := row.Scan(
		&a.ID, &a.OriginalID, &a.Name, &a.Category, &a.Status, &a.Condition,
		&a.Location, &a.Notes, &a.SerialNumber, &a.Barcode, &a.Vendor,
		&a.Model, &a.PurchaseDate, &a.WarrantyExpiry, &a.PurchasePrice,
		&a.MaintenanceDate, &a.Priority, &a.LastChecked, &a.CheckedBy,
		&a.CheckedByName, &a.TeamID, &a.DeletedBy, &a.DeletedByName,
		&a.DeletionReason, &a.DeletedAt, &a.OriginalCreatedAt,
		&a.OriginalUpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &a, nil
}

// runInTx executes fn in a transaction. A failure on either statement of an
// archive/restore rolls back the whole move; the store can never end up with
// a record both active and archived, or neither.
func (s *Store) runInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", models.ErrStoreTransaction, err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", models.ErrStoreTransaction, err)
	}

	return nil
}

// ArchiveEquipment snapshots the active record into the archive table with
// deletion metadata, then removes the active row, all in one transaction.
func (s *Store) ArchiveEquipment(ctx context.Context, id uuid.UUID, actor models.Actor, reason *string) (*models.ArchivedEquipment, error) {
	var archived *models.ArchivedEquipment

	err := s.runInTx(ctx, func(tx pgx.Tx) error {
		eq, err := scanEquipment(tx.QueryRow(ctx,
			`SELECT `+equipmentColumns+` FROM equipment WHERE id = $1 AND is_active FOR UPDATE`, id))
		if err != nil {
			return mapError(err)
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO archived_equipment (
				id, original_equipment_id, name, category, status, condition,
				location, notes, serial_number, barcode, vendor, model,
				purchase_date, warranty_expiry, purchase_price,
				maintenance_date, priority, last_checked, checked_by,
				checked_by_name, team_id, deleted_by, deleted_by_name,
				deletion_reason, deleted_at, original_created_at,
				original_updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
				$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27
			)
			RETURNING `+archivedColumns,
			uuid.New(), eq.ID, eq.Name, eq.Category, eq.Status, eq.Condition,
			eq.Location, eq.Notes, eq.SerialNumber, eq.Barcode, eq.Vendor,
			eq.Model, eq.PurchaseDate, eq.WarrantyExpiry, eq.PurchasePrice,
			eq.MaintenanceDate, eq.Priority, eq.LastChecked, eq.CheckedBy,
			eq.CheckedByName, eq.TeamID, actor.ID, actor.Name, reason,
			time.Now().UTC(), eq.CreatedAt, eq.UpdatedAt,
		)

		archived, err = scanArchived(row)
		if err != nil {
			return mapError(err)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM equipment WHERE id = $1`, id)
		if err != nil {
			return mapError(err)
		}

		if tag.RowsAffected() != 1 {
			return models.ErrStoreTransaction
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return archived, nil
}

// RestoreEquipment creates a fresh active record from an archive entry and
// purges the entry, all in one transaction. Reservation state is reset and
// the restorer becomes the checker.
func (s *Store) RestoreEquipment(ctx context.Context, archivedID uuid.UUID, actor models.Actor) (*models.Equipment, error) {
	var restored *models.Equipment

	err := s.runInTx(ctx, func(tx pgx.Tx) error {
		a, err := scanArchived(tx.QueryRow(ctx,
			`SELECT `+archivedColumns+` FROM archived_equipment WHERE id = $1 FOR UPDATE`, archivedID))
		if err != nil {
			return mapError(err)
		}

		now := time.Now().UTC()

		row := tx.QueryRow(ctx, `
			INSERT INTO equipment (
				id, name, category, status, condition, location, notes,
				serial_number, barcode, vendor, model, purchase_date,
				warranty_expiry, purchase_price, maintenance_date, priority,
				is_reserved, last_checked, checked_by, checked_by_name,
				team_id, is_active, created_at, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
				$15, $16, FALSE, $17, $18, $19, $20, TRUE, $21, $21
			)
			RETURNING `+equipmentColumns,
			uuid.New(), a.Name, a.Category, a.Status, a.Condition, a.Location,
			a.Notes, a.SerialNumber, a.Barcode, a.Vendor, a.Model,
			a.PurchaseDate, a.WarrantyExpiry, a.PurchasePrice,
			a.MaintenanceDate, a.Priority, now, actor.ID, actor.Name,
			a.TeamID, now,
		)

		restored, err = scanEquipment(row)
		if err != nil {
			return mapError(err)
		}

		tag, err := tx.Exec(ctx, `DELETE FROM archived_equipment WHERE id = $1`, archivedID)
		if err != nil {
			return mapError(err)
		}

		if tag.RowsAffected() != 1 {
			return models.ErrStoreTransaction
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return restored, nil
}

// ListArchived returns the team's archive, most recently deleted first.
func (s *Store) ListArchived(ctx context.Context, teamID string) ([]*models.ArchivedEquipment, error) {
	if teamID == "" {
		teamID = models.DefaultTeam
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+archivedColumns+` FROM archived_equipment WHERE team_id = $1 ORDER BY deleted_at DESC`,
		teamID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*models.ArchivedEquipment

	for rows.Next() {
		a, err := scanArchived(rows)
		if err != nil {
			return nil, mapError(err)
		}

		out = append(out, a)
	}

	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	return out, nil
}

// PurgeArchived permanently removes an archive entry.
func (s *Store) PurgeArchived(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM archived_equipment WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}

	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}
