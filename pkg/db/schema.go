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

import "context"

// Schema statements are idempotent so startup can always run them.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		phone TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		team_id TEXT NOT NULL DEFAULT 'global',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS equipment (
		id UUID PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		category TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		condition TEXT NOT NULL DEFAULT 'good',
		location VARCHAR(100) NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		serial_number VARCHAR(50) UNIQUE,
		barcode VARCHAR(50) UNIQUE,
		vendor VARCHAR(100),
		model VARCHAR(100),
		purchase_date DATE,
		warranty_expiry DATE,
		purchase_price NUMERIC(10,2),
		maintenance_date TIMESTAMPTZ,
		priority TEXT NOT NULL DEFAULT 'medium',
		is_reserved BOOLEAN NOT NULL DEFAULT FALSE,
		reserved_by UUID REFERENCES users(id),
		reserved_until TIMESTAMPTZ,
		last_checked TIMESTAMPTZ NOT NULL DEFAULT now(),
		checked_by UUID NOT NULL,
		checked_by_name TEXT NOT NULL,
		team_id TEXT NOT NULL DEFAULT 'global',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS archived_equipment (
		id UUID PRIMARY KEY,
		original_equipment_id UUID NOT NULL,
		name VARCHAR(100) NOT NULL,
		category TEXT NOT NULL,
		status TEXT NOT NULL,
		condition TEXT NOT NULL,
		location VARCHAR(100) NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		serial_number VARCHAR(50),
		barcode VARCHAR(50),
		vendor VARCHAR(100),
		model VARCHAR(100),
		purchase_date DATE,
		warranty_expiry DATE,
		purchase_price NUMERIC(10,2),
		maintenance_date TIMESTAMPTZ,
		priority TEXT NOT NULL DEFAULT 'medium',
		last_checked TIMESTAMPTZ NOT NULL,
		checked_by UUID NOT NULL,
		checked_by_name TEXT NOT NULL,
		team_id TEXT NOT NULL DEFAULT 'global',
		deleted_by UUID NOT NULL,
		deleted_by_name TEXT NOT NULL,
		deletion_reason TEXT,
		deleted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		original_created_at TIMESTAMPTZ NOT NULL,
		original_updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS equipment_history (
		id UUID PRIMARY KEY,
		equipment_id UUID NOT NULL,
		action VARCHAR(20) NOT NULL,
		old_values JSONB,
		new_values JSONB,
		user_id UUID NOT NULL,
		user_name TEXT NOT NULL,
		team_id TEXT NOT NULL DEFAULT 'global',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS equipment_team_status_idx ON equipment (team_id, status)`,
	`CREATE INDEX IF NOT EXISTS equipment_updated_at_idx ON equipment (updated_at)`,
	`CREATE INDEX IF NOT EXISTS equipment_active_team_idx ON equipment (is_active, team_id)`,
	`CREATE INDEX IF NOT EXISTS archived_equipment_team_idx ON archived_equipment (team_id, deleted_at)`,
	`CREATE INDEX IF NOT EXISTS equipment_history_equipment_idx ON equipment_history (equipment_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS equipment_history_team_idx ON equipment_history (team_id, created_at)`,
}

func (s *Store) bootstrap(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}
