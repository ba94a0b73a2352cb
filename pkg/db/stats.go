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
	"time"

	"github.com/audiorack/gearsync/pkg/models"
)

// Stats aggregates the team's active records in three queries.
func (s *Store) Stats(ctx context.Context, teamID string) (*models.StatsSnapshot, error) {
	if teamID == "" {
		teamID = models.DefaultTeam
	}

	snapshot := &models.StatsSnapshot{
		Categories:  make(map[models.Category]int),
		Conditions:  make(map[models.Condition]int),
		LastUpdated: time.Now().UTC(),
	}

	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE status = 'checked'),
			count(*) FILTER (WHERE status = 'pending'),
			count(*) FILTER (WHERE status = 'issue')
		FROM equipment
		WHERE is_active AND team_id = $1`,
		teamID,
	).Scan(
		&snapshot.Overview.Total,
		&snapshot.Overview.Checked,
		&snapshot.Overview.Pending,
		&snapshot.Overview.Issues,
	)
	if err != nil {
		return nil, mapError(err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT category, count(*) FROM equipment
		WHERE is_active AND team_id = $1 GROUP BY category`,
		teamID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			category models.Category
			count    int
		)

		if err := rows.Scan(&category, &count); err != nil {
			return nil, mapError(err)
		}

		snapshot.Categories[category] = count
	}

	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}

	condRows, err := s.pool.Query(ctx, `
		SELECT condition, count(*) FROM equipment
		WHERE is_active AND team_id = $1 GROUP BY condition`,
		teamID)
	if err != nil {
		return nil, mapError(err)
	}
	defer condRows.Close()

	for condRows.Next() {
		var (
			condition models.Condition
			count     int
		)

		if err := condRows.Scan(&condition, &count); err != nil {
			return nil, mapError(err)
		}

		snapshot.Conditions[condition] = count
	}

	if err := condRows.Err(); err != nil {
		return nil, mapError(err)
	}

	return snapshot, nil
}
