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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/audiorack/gearsync/pkg/models"
)

const (
	historyColumns = `id, equipment_id, action, old_values, new_values, user_id,
		user_name, team_id, created_at`

	// perRecordHistoryLimit bounds the per-record trail a single request
	// returns; older rows stay queryable directly.
	perRecordHistoryLimit = 50

	defaultActivityLimit = 20
	maxActivityLimit     = 100
)

func scanHistory(row pgx.Row) (*models.HistoryEntry, error) {
	var h models.HistoryEntry

	err := row.Scan(
		&h.ID, &h.EquipmentID, &h.Action, &h.OldValues, &h.NewValues,
		&h.UserID, &h.UserName, &h.TeamID, &h.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &h, nil
}

// RecordHistory appends one audit-trail row. The store assigns the id and
// creation time.
func (s *Store) RecordHistory(ctx context.Context, entry *models.HistoryEntry) (*models.HistoryEntry, error) {
	teamID := entry.TeamID
	if teamID == "" {
		teamID = models.DefaultTeam
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO equipment_history (
			id, equipment_id, action, old_values, new_values, user_id,
			user_name, team_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+historyColumns,
		uuid.New(), entry.EquipmentID, entry.Action, entry.OldValues,
		entry.NewValues, entry.UserID, entry.UserName, teamID)

	recorded, err := scanHistory(row)
	if err != nil {
		return nil, mapError(err)
	}

	return recorded, nil
}

// ListHistory returns one record's audit trail, newest first.
func (s *Store) ListHistory(ctx context.Context, equipmentID uuid.UUID, teamID string) ([]*models.HistoryEntry, error) {
	if teamID == "" {
		teamID = models.DefaultTeam
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+historyColumns+` FROM equipment_history
		 WHERE equipment_id = $1 AND team_id = $2
		 ORDER BY created_at DESC LIMIT $3`,
		equipmentID, teamID, perRecordHistoryLimit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	return collectHistory(rows)
}

// ListActivity returns the team's most recent audit entries across all
// records. A non-positive limit falls back to the default.
func (s *Store) ListActivity(ctx context.Context, teamID string, limit int) ([]*models.HistoryEntry, error) {
	if teamID == "" {
		teamID = models.DefaultTeam
	}

	if limit <= 0 {
		limit = defaultActivityLimit
	}

	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+historyColumns+` FROM equipment_history
		 WHERE team_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		teamID, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	return collectHistory(rows)
}

func collectHistory(rows pgx.Rows) ([]*models.HistoryEntry, error) {
	var out []*models.HistoryEntry

	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, mapError(err)
		}

		out = append(out, h)
	}

	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	return out, nil
}
