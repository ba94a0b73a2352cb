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

// Package db implements the authoritative equipment store on PostgreSQL.
package db

import (
	"context"

	"github.com/google/uuid"

	"github.com/audiorack/gearsync/pkg/models"
)

// Service is the Record Store contract consumed by the mutation gateway.
// Every mutation returns the complete post-operation record so callers never
// re-fetch.
type Service interface {
	CreateEquipment(ctx context.Context, req *models.CreateEquipmentRequest, actor models.Actor, teamID string) (*models.Equipment, error)
	UpdateEquipment(ctx context.Context, id uuid.UUID, patch *models.EquipmentPatch, actor models.Actor) (*models.Equipment, error)
	GetEquipment(ctx context.Context, id uuid.UUID) (*models.Equipment, error)
	ListEquipment(ctx context.Context, filter models.ListFilter) ([]*models.Equipment, error)

	// ArchiveEquipment atomically moves an active record to the archive table.
	// If either side of the move fails the whole operation rolls back.
	ArchiveEquipment(ctx context.Context, id uuid.UUID, actor models.Actor, reason *string) (*models.ArchivedEquipment, error)

	// RestoreEquipment atomically creates a new active record from an archive
	// entry and purges the entry. The restored record gets a fresh id, reset
	// reservation state, and current audit fields.
	RestoreEquipment(ctx context.Context, archivedID uuid.UUID, actor models.Actor) (*models.Equipment, error)

	ListArchived(ctx context.Context, teamID string) ([]*models.ArchivedEquipment, error)
	PurgeArchived(ctx context.Context, id uuid.UUID) error

	Stats(ctx context.Context, teamID string) (*models.StatsSnapshot, error)

	// RecordHistory appends an audit-trail entry. The gateway treats it as
	// best-effort; a failed insert never fails the mutation it describes.
	RecordHistory(ctx context.Context, entry *models.HistoryEntry) (*models.HistoryEntry, error)
	ListHistory(ctx context.Context, equipmentID uuid.UUID, teamID string) ([]*models.HistoryEntry, error)
	ListActivity(ctx context.Context, teamID string, limit int) ([]*models.HistoryEntry, error)

	UpsertUser(ctx context.Context, phone, name, teamID string) (*models.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)

	Close()
}
