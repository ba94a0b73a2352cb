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

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActionType classifies one audit-trail entry.
type ActionType string

const (
	ActionCreated       ActionType = "created"
	ActionUpdated       ActionType = "updated"
	ActionStatusChanged ActionType = "status_changed"
	ActionDeleted       ActionType = "deleted"
	ActionRestored      ActionType = "restored"
)

// Valid reports whether the action is a known audit action.
func (a ActionType) Valid() bool {
	switch a {
	case ActionCreated, ActionUpdated, ActionStatusChanged, ActionDeleted, ActionRestored:
		return true
	}

	return false
}

// HistoryEntry is one row of the equipment audit trail. Entries are append
// only; EquipmentID keeps referring to the original record id even after the
// record has been archived.
type HistoryEntry struct {
	ID          uuid.UUID       `json:"id"`
	EquipmentID uuid.UUID       `json:"equipmentId"`
	Action      ActionType      `json:"action"`
	OldValues   json.RawMessage `json:"oldValues,omitempty"`
	NewValues   json.RawMessage `json:"newValues,omitempty"`
	UserID      uuid.UUID       `json:"userId"`
	UserName    string          `json:"userName"`
	TeamID      string          `json:"teamId"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Clone returns a deep copy of the entry.
func (h *HistoryEntry) Clone() *HistoryEntry {
	if h == nil {
		return nil
	}

	c := *h
	c.OldValues = append(json.RawMessage(nil), h.OldValues...)
	c.NewValues = append(json.RawMessage(nil), h.NewValues...)

	return &c
}
