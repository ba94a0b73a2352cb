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

const userColumns = `id, phone, name, team_id, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User

	if err := row.Scan(&u.ID, &u.Phone, &u.Name, &u.TeamID, &u.CreatedAt); err != nil {
		return nil, err
	}

	return &u, nil
}

// UpsertUser registers a user by phone number, refreshing the display name on
// repeat logins.
func (s *Store) UpsertUser(ctx context.Context, phone, name, teamID string) (*models.User, error) {
	if teamID == "" {
		teamID = models.DefaultTeam
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, phone, name, team_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (phone) DO UPDATE SET name = EXCLUDED.name
		RETURNING `+userColumns,
		uuid.New(), phone, name, teamID)

	u, err := scanUser(row)
	if err != nil {
		return nil, mapError(err)
	}

	return u, nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}

	return u, nil
}
